package lcp

import (
	"encoding/binary"
	"fmt"

	"go.uber.org/zap"
)

// echoReplyLen is the length field of an Echo-Reply: LCP header plus magic
const echoReplyLen = lcpHeaderLen + 4

// Config holds what a layer needs from its session
type Config struct {
	ID       string            // Session identifier for logs
	Registry *Registry         // Option descriptors, in proposal order
	Channel  Channel           // Transport for the session
	Owner    Owner             // Session callbacks
	NewFSM   func(Actions) FSM // Builds the automaton driving this layer
	Recorder Recorder          // Optional metrics sink
	Logger   *zap.Logger
}

// Layer is the LCP layer of one session. It is not safe for concurrent use:
// the owning session serialises every call.
type Layer struct {
	id       string
	registry *Registry
	channel  Channel
	owner    Owner
	fsm      FSM
	recorder Recorder
	logger   *zap.Logger

	options *optionSet
	round   *round

	seq        uint8 // Identifier counter for packets we originate
	reqID      uint8 // Identifier of our last Configure-Request
	lastRecvID uint8 // Identifier of the last packet received

	rx    []byte // Frame being dispatched, for Code-Reject
	freed bool
}

// NewLayer allocates the layer state and registers it for LCP frames
func NewLayer(cfg Config) (*Layer, error) {
	if cfg.Registry == nil || cfg.Channel == nil || cfg.Owner == nil || cfg.NewFSM == nil {
		return nil, fmt.Errorf("registry, channel, owner and FSM are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}

	l := &Layer{
		id:       cfg.ID,
		registry: cfg.Registry,
		channel:  cfg.Channel,
		owner:    cfg.Owner,
		recorder: cfg.Recorder,
		logger:   cfg.Logger.With(zap.String("session", cfg.ID)),
		options:  &optionSet{},
	}
	l.fsm = cfg.NewFSM(l)

	l.logger.Debug("LCP layer init")
	l.channel.Register(ProtocolLCP, l)

	return l, nil
}

// ID returns the session identifier the layer was created with
func (l *Layer) ID() string {
	return l.id
}

// Logger returns the layer's session-scoped logger
func (l *Layer) Logger() *zap.Logger {
	return l.logger
}

// LastRequestID returns the identifier of the last Configure-Request sent
func (l *Layer) LastRequestID() uint8 {
	return l.reqID
}

// LastReceivedID returns the identifier of the last packet received
func (l *Layer) LastReceivedID() uint8 {
	return l.lastRecvID
}

// Option returns the session's instance for typ, first match wins
func (l *Layer) Option(typ uint8) (Option, bool) {
	i := l.options.match(typ)
	if i < 0 {
		return nil, false
	}
	return l.options.items[i].opt, true
}

// Outcome returns the outcome recorded for typ in the last request evaluated
func (l *Layer) Outcome(typ uint8) Outcome {
	i := l.options.match(typ)
	if i < 0 {
		return OutcomeNone
	}
	return l.options.items[i].outcome
}

// Start instantiates the session's options and opens the link
func (l *Layer) Start() {
	l.logger.Debug("LCP layer start")

	l.options = l.registry.instantiate(l)
	l.fsm.LowerUp()
	l.fsm.Open()
}

// Finish asks the automaton to close the link
func (l *Layer) Finish() {
	if l.freed {
		return
	}
	l.logger.Debug("LCP layer finish")
	l.fsm.Close()
}

// Free unregisters the layer and releases its options. The layer must not
// be used afterwards.
func (l *Layer) Free() {
	if l.freed {
		return
	}
	l.logger.Debug("LCP layer free")
	l.freed = true

	l.fsm.LowerDown()
	l.channel.Unregister(ProtocolLCP)
	l.options.release()
	l.round = nil
}

// LayerUp is invoked by the FSM on entering Opened
func (l *Layer) LayerUp() {
	l.logger.Debug("LCP layer up")
	l.owner.LayerStarted(l)
}

// LayerDown is invoked by the FSM on leaving Opened
func (l *Layer) LayerDown() {
	l.logger.Debug("LCP layer down")
}

// LayerFinished is invoked by the FSM when the lower layer is no longer needed
func (l *Layer) LayerFinished() {
	l.logger.Debug("LCP layer finished")
	l.owner.LayerFinished(l)
}

// Receive dispatches one inbound frame, protocol field included
func (l *Layer) Receive(frame []byte) error {
	if l.freed {
		return ErrLayerFreed
	}

	hdr, err := DecodeHeader(frame)
	if err != nil {
		l.logger.Warn("LCP: short packet received", zap.Int("length", len(frame)), zap.Error(err))
		l.recorder.RecordMalformed()
		return fmt.Errorf("%w: %w", ErrShortPacket, err)
	}

	l.lastRecvID = hdr.Identifier
	l.recorder.RecordPacket("rx", hdr.Code)

	l.rx = frame
	defer func() { l.rx = nil }()

	switch hdr.Code {
	case CodeConfigRequest:
		l.receiveConfigureRequest(hdr, frame)
	case CodeConfigAck:
		l.receiveConfigureAck(hdr, frame)
	case CodeConfigNak:
		l.receiveConfigureNak(hdr, frame)
	case CodeConfigReject:
		l.receiveConfigureReject(hdr, frame)
	case CodeTermRequest:
		l.logger.Debug("recv [LCP TermReq]",
			zap.Uint8("identifier", hdr.Identifier),
			zap.ByteString("message", dataOf(hdr, frame)),
		)
		l.fsm.RecvTermReq()
		l.owner.Terminate(TerminateCauseUserRequest)
	case CodeTermAck:
		l.logger.Debug("recv [LCP TermAck]",
			zap.Uint8("identifier", hdr.Identifier),
			zap.ByteString("message", dataOf(hdr, frame)),
		)
		l.fsm.RecvTermAck()
	case CodeCodeReject:
		l.logger.Debug("recv [LCP CodeRej]", zap.Uint8("identifier", hdr.Identifier))
		l.fsm.RecvCodeRejBad()
	case CodeEchoRequest:
		if err := l.sendEchoReply(hdr.Identifier); err != nil {
			l.logger.Warn("Failed to send LCP Echo-Reply", zap.Error(err))
		}
	case CodeEchoReply:
		// Nothing uses echo replies yet
	default:
		l.logger.Debug("recv LCP packet with unknown code",
			zap.Stringer("code", hdr.Code),
			zap.Uint8("identifier", hdr.Identifier),
		)
		l.fsm.RecvUnknownCode()
	}

	return nil
}

// sendEchoReply answers an Echo-Request without involving the FSM
func (l *Layer) sendEchoReply(id uint8) error {
	buf := make([]byte, protoLen+echoReplyLen)
	Header{Protocol: ProtocolLCP, Code: CodeEchoReply, Identifier: id, Length: echoReplyLen}.Encode(buf)
	binary.BigEndian.PutUint32(buf[HeaderLen:], 0)

	l.logger.Debug("send [LCP EchoRep]", zap.Uint8("identifier", id))

	return l.send(CodeEchoReply, buf)
}

// SendTerminateRequest sends a Terminate-Request under a fresh identifier
func (l *Layer) SendTerminateRequest() error {
	if l.freed {
		return ErrLayerFreed
	}
	l.seq++

	buf := make([]byte, HeaderLen)
	Header{Protocol: ProtocolLCP, Code: CodeTermRequest, Identifier: l.seq, Length: lcpHeaderLen}.Encode(buf)

	l.logger.Debug("send [LCP TermReq]", zap.Uint8("identifier", l.seq))

	return l.send(CodeTermRequest, buf)
}

// SendTerminateAck acknowledges the last packet received
func (l *Layer) SendTerminateAck() error {
	if l.freed {
		return ErrLayerFreed
	}

	buf := make([]byte, HeaderLen)
	Header{Protocol: ProtocolLCP, Code: CodeTermAck, Identifier: l.lastRecvID, Length: lcpHeaderLen}.Encode(buf)

	l.logger.Debug("send [LCP TermAck]", zap.Uint8("identifier", l.lastRecvID))

	return l.send(CodeTermAck, buf)
}

// SendCodeReject returns the packet being dispatched to the peer
func (l *Layer) SendCodeReject() error {
	if l.rx == nil {
		return fmt.Errorf("code-reject outside of receive")
	}
	l.seq++

	hdr, err := DecodeHeader(l.rx)
	if err != nil {
		return err
	}
	rejected := l.rx[protoLen : HeaderLen+len(dataOf(hdr, l.rx))]

	buf := make([]byte, HeaderLen, HeaderLen+len(rejected))
	buf = append(buf, rejected...)
	Header{Protocol: ProtocolLCP, Code: CodeCodeReject, Identifier: l.seq}.Encode(buf)
	finalize(buf, len(buf))

	l.logger.Debug("send [LCP CodeRej]",
		zap.Uint8("identifier", l.seq),
		zap.Stringer("rejected", hdr.Code),
	)

	return l.send(CodeCodeReject, buf)
}

func (l *Layer) send(code Code, frame []byte) error {
	l.recorder.RecordPacket("tx", code)
	if err := l.channel.Send(frame); err != nil {
		return fmt.Errorf("send %s: %w", code, err)
	}
	return nil
}

// dataOf returns the bytes after the header that both the length field and
// the frame cover.
func dataOf(hdr Header, frame []byte) []byte {
	return frame[HeaderLen : HeaderLen+min(hdr.DataLen(), len(frame)-HeaderLen)]
}
