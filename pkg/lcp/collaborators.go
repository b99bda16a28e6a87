package lcp

// Channel is the framed transport beneath the layer. Frames start with the
// PPP protocol field.
type Channel interface {
	Send(frame []byte) error
	Register(protocol uint16, h Handler)
	Unregister(protocol uint16)
}

// Handler consumes inbound frames for one PPP protocol
type Handler interface {
	Receive(frame []byte) error
}

// Owner is the session that hosts the layer
type Owner interface {
	// LayerStarted reports that LCP reached the Opened state
	LayerStarted(l *Layer)
	// LayerFinished reports that LCP is done with the lower layer
	LayerFinished(l *Layer)
	// Terminate tears the whole session down
	Terminate(cause TerminateCause)
}

// FSM is the RFC 1661 link-state automaton driving the layer. The layer
// reports events to it, and it calls back through Actions.
type FSM interface {
	LowerUp()
	LowerDown()
	Open()
	Close()

	RecvConfReqAck()
	RecvConfReqNak()
	RecvConfReqRej()
	RecvConfAck()
	RecvConfNak()
	RecvConfRej()
	RecvTermReq()
	RecvTermAck()
	RecvCodeRejBad()
	RecvUnknownCode()
}

// Actions are the packet and layer actions an FSM performs on the layer
type Actions interface {
	SendConfigureRequest() error
	SendConfigureAck() error
	SendConfigureNak() error
	SendConfigureReject() error
	SendTerminateRequest() error
	SendTerminateAck() error
	SendCodeReject() error

	LayerUp()
	LayerDown()
	LayerFinished()
}

// Recorder receives protocol events for metrics
type Recorder interface {
	RecordPacket(direction string, code Code)
	RecordRound(verdict Outcome)
	RecordStale(code Code)
	RecordMalformed()
}

type nopRecorder struct{}

func (nopRecorder) RecordPacket(string, Code) {}
func (nopRecorder) RecordRound(Outcome)       {}
func (nopRecorder) RecordStale(Code)          {}
func (nopRecorder) RecordMalformed()          {}

// TerminateCause is the reason a session is torn down (RFC 2866 numbering)
type TerminateCause uint32

const (
	TerminateCauseUserRequest    TerminateCause = 1  // Peer sent Terminate-Request
	TerminateCauseLostCarrier    TerminateCause = 2  // Transport went away
	TerminateCauseAdminReset     TerminateCause = 6  // Operator initiated
	TerminateCauseNASError       TerminateCause = 9  // Local failure
	TerminateCauseNASRequest     TerminateCause = 10 // Server shutting down
	TerminateCauseServiceUnavail TerminateCause = 15 // Peer rejected a required option
	TerminateCauseUserError      TerminateCause = 17 // Peer proposed or acked something unacceptable
)

func (c TerminateCause) String() string {
	switch c {
	case TerminateCauseUserRequest:
		return "User-Request"
	case TerminateCauseLostCarrier:
		return "Lost-Carrier"
	case TerminateCauseAdminReset:
		return "Admin-Reset"
	case TerminateCauseNASError:
		return "NAS-Error"
	case TerminateCauseNASRequest:
		return "NAS-Request"
	case TerminateCauseServiceUnavail:
		return "Service-Unavailable"
	case TerminateCauseUserError:
		return "User-Error"
	default:
		return "Unknown"
	}
}
