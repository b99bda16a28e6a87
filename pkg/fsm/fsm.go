// Package fsm implements the RFC 1661 option negotiation automaton that
// drives an LCP layer: states, restart timer and counters. Packets are sent
// through the layer's lcp.Actions.
package fsm

import (
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/codelaboratoryltd/lcpd/pkg/lcp"
)

// State represents the automaton state per RFC 1661
type State int

const (
	StateInitial  State = iota // Lower layer unavailable, no Open
	StateStarting              // Lower layer unavailable, Open
	StateClosed                // Lower layer available, no Open
	StateStopped               // Open, waiting for Configure-Request
	StateClosing               // Terminate-Request sent
	StateStopping              // Terminate-Request sent (from Opened)
	StateReqSent               // Configure-Request sent
	StateAckRcvd               // Configure-Request sent, Configure-Ack received
	StateAckSent               // Configure-Request and Configure-Ack sent
	StateOpened                // Connection fully established
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "Initial"
	case StateStarting:
		return "Starting"
	case StateClosed:
		return "Closed"
	case StateStopped:
		return "Stopped"
	case StateClosing:
		return "Closing"
	case StateStopping:
		return "Stopping"
	case StateReqSent:
		return "Req-Sent"
	case StateAckRcvd:
		return "Ack-Rcvd"
	case StateAckSent:
		return "Ack-Sent"
	case StateOpened:
		return "Opened"
	default:
		return "Unknown"
	}
}

// Config holds the automaton's timer and counter settings
type Config struct {
	RestartTimer time.Duration // Restart timer (default 3s)
	MaxConfigure int           // Max Configure-Request transmissions (default 10)
	MaxTerminate int           // Max Terminate-Request transmissions (default 2)
}

// DefaultConfig returns RFC 1661 defaults
func DefaultConfig() Config {
	return Config{
		RestartTimer: 3 * time.Second,
		MaxConfigure: 10,
		MaxTerminate: 2,
	}
}

// Option configures an FSM
type Option func(*FSM)

// WithClock sets the clock used for the restart timer
func WithClock(clock clockwork.Clock) Option {
	return func(f *FSM) {
		f.clock = clock
	}
}

// WithExecutor routes restart timer expiries through post, which must run
// them on the goroutine that owns the FSM.
func WithExecutor(post func(func())) Option {
	return func(f *FSM) {
		f.post = post
	}
}

// FSM is the automaton for one layer. It is not safe for concurrent use;
// every event, timer expiries included, must arrive on one goroutine.
type FSM struct {
	state   State
	config  Config
	actions lcp.Actions
	logger  *zap.Logger

	restartCount int

	clock    clockwork.Clock
	post     func(func())
	timer    clockwork.Timer
	timerGen uint64

	onStateChange func(oldState, newState State)
}

var _ lcp.FSM = (*FSM)(nil)

// New creates an automaton in the Initial state
func New(config Config, actions lcp.Actions, logger *zap.Logger, opts ...Option) *FSM {
	f := &FSM{
		state:   StateInitial,
		config:  config,
		actions: actions,
		logger:  logger,
		clock:   clockwork.NewRealClock(),
		post:    func(fn func()) { fn() },
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SetOnStateChange sets the state change callback
func (f *FSM) SetOnStateChange(callback func(State, State)) {
	f.onStateChange = callback
}

// State returns the current state
func (f *FSM) State() State {
	return f.state
}

// IsOpened returns true in the Opened state
func (f *FSM) IsOpened() bool {
	return f.state == StateOpened
}

func (f *FSM) setState(newState State) {
	oldState := f.state
	if oldState == newState {
		return
	}
	f.state = newState

	f.logger.Debug("LCP state change",
		zap.String("from", oldState.String()),
		zap.String("to", newState.String()),
	)

	if f.onStateChange != nil {
		f.onStateChange(oldState, newState)
	}
}

// LowerUp is the Up event: the lower layer is ready
func (f *FSM) LowerUp() {
	switch f.state {
	case StateInitial:
		f.setState(StateClosed)
	case StateStarting:
		f.initializeRestartCount(f.config.MaxConfigure)
		f.sendConfigureRequest()
		f.setState(StateReqSent)
	}
}

// LowerDown is the Down event: the lower layer is gone
func (f *FSM) LowerDown() {
	f.stopTimer()

	switch f.state {
	case StateClosed, StateClosing:
		f.setState(StateInitial)
	case StateStopped, StateStopping, StateReqSent, StateAckRcvd, StateAckSent:
		f.setState(StateStarting)
	case StateOpened:
		f.actions.LayerDown()
		f.setState(StateStarting)
	}
}

// Open is the administrative Open event
func (f *FSM) Open() {
	switch f.state {
	case StateInitial:
		f.setState(StateStarting)
	case StateClosed:
		f.initializeRestartCount(f.config.MaxConfigure)
		f.sendConfigureRequest()
		f.setState(StateReqSent)
	case StateClosing:
		f.setState(StateStopping)
	}
}

// Close is the administrative Close event
func (f *FSM) Close() {
	switch f.state {
	case StateStarting:
		f.setState(StateInitial)
		f.actions.LayerFinished()
	case StateStopped:
		f.setState(StateClosed)
	case StateStopping:
		f.setState(StateClosing)
	case StateOpened:
		f.actions.LayerDown()
		f.initializeRestartCount(f.config.MaxTerminate)
		f.sendTerminateRequest()
		f.setState(StateClosing)
	case StateReqSent, StateAckRcvd, StateAckSent:
		f.initializeRestartCount(f.config.MaxTerminate)
		f.sendTerminateRequest()
		f.setState(StateClosing)
	}
}

// RecvConfReqAck is RCR+: a Configure-Request we acknowledge
func (f *FSM) RecvConfReqAck() {
	switch f.state {
	case StateClosed:
		f.sendTerminateAck()
	case StateStopped:
		f.initializeRestartCount(f.config.MaxConfigure)
		f.sendConfigureRequest()
		f.send("Configure-Ack", f.actions.SendConfigureAck)
		f.setState(StateAckSent)
	case StateReqSent:
		f.send("Configure-Ack", f.actions.SendConfigureAck)
		f.setState(StateAckSent)
	case StateAckRcvd:
		f.send("Configure-Ack", f.actions.SendConfigureAck)
		f.stopTimer()
		f.setState(StateOpened)
		f.actions.LayerUp()
	case StateAckSent:
		f.send("Configure-Ack", f.actions.SendConfigureAck)
	case StateOpened:
		f.actions.LayerDown()
		f.sendConfigureRequest()
		f.send("Configure-Ack", f.actions.SendConfigureAck)
		f.setState(StateAckSent)
	}
}

// RecvConfReqNak is RCR- answered with a Configure-Nak
func (f *FSM) RecvConfReqNak() {
	f.recvConfReqBad("Configure-Nak", f.actions.SendConfigureNak)
}

// RecvConfReqRej is RCR- answered with a Configure-Reject
func (f *FSM) RecvConfReqRej() {
	f.recvConfReqBad("Configure-Reject", f.actions.SendConfigureReject)
}

func (f *FSM) recvConfReqBad(what string, respond func() error) {
	switch f.state {
	case StateClosed:
		f.sendTerminateAck()
	case StateStopped:
		f.initializeRestartCount(f.config.MaxConfigure)
		f.sendConfigureRequest()
		f.send(what, respond)
		f.setState(StateReqSent)
	case StateReqSent, StateAckRcvd:
		f.send(what, respond)
	case StateAckSent:
		f.send(what, respond)
		f.setState(StateReqSent)
	case StateOpened:
		f.actions.LayerDown()
		f.sendConfigureRequest()
		f.send(what, respond)
		f.setState(StateReqSent)
	}
}

// RecvConfAck is RCA
func (f *FSM) RecvConfAck() {
	switch f.state {
	case StateClosed, StateStopped:
		f.sendTerminateAck()
	case StateReqSent:
		f.initializeRestartCount(f.config.MaxConfigure)
		f.setState(StateAckRcvd)
	case StateAckRcvd:
		// Crossed connection
		f.sendConfigureRequest()
		f.setState(StateReqSent)
	case StateAckSent:
		f.stopTimer()
		f.initializeRestartCount(f.config.MaxConfigure)
		f.setState(StateOpened)
		f.actions.LayerUp()
	case StateOpened:
		f.actions.LayerDown()
		f.sendConfigureRequest()
		f.setState(StateReqSent)
	}
}

// RecvConfNak is RCN for a Configure-Nak. The options have already taken
// the suggested values, so the next request carries them.
func (f *FSM) RecvConfNak() {
	f.recvConfNakRej()
}

// RecvConfRej is RCN for a Configure-Reject
func (f *FSM) RecvConfRej() {
	f.recvConfNakRej()
}

func (f *FSM) recvConfNakRej() {
	switch f.state {
	case StateClosed, StateStopped:
		f.sendTerminateAck()
	case StateReqSent, StateAckSent:
		f.initializeRestartCount(f.config.MaxConfigure)
		f.sendConfigureRequest()
	case StateAckRcvd:
		f.sendConfigureRequest()
		f.setState(StateReqSent)
	case StateOpened:
		f.actions.LayerDown()
		f.sendConfigureRequest()
		f.setState(StateReqSent)
	}
}

// RecvTermReq is RTR
func (f *FSM) RecvTermReq() {
	switch f.state {
	case StateClosed, StateStopped, StateClosing, StateStopping:
		f.sendTerminateAck()
	case StateReqSent, StateAckRcvd, StateAckSent:
		f.sendTerminateAck()
		f.setState(StateReqSent)
	case StateOpened:
		f.actions.LayerDown()
		f.zeroRestartCount()
		f.sendTerminateAck()
		f.setState(StateStopping)
	}
}

// RecvTermAck is RTA
func (f *FSM) RecvTermAck() {
	switch f.state {
	case StateClosing:
		f.stopTimer()
		f.setState(StateClosed)
		f.actions.LayerFinished()
	case StateStopping:
		f.stopTimer()
		f.setState(StateStopped)
		f.actions.LayerFinished()
	case StateAckRcvd:
		f.setState(StateReqSent)
	case StateOpened:
		f.actions.LayerDown()
		f.sendConfigureRequest()
		f.setState(StateReqSent)
	}
}

// RecvCodeRejBad is RXJ-: the peer rejected a code the protocol cannot do without
func (f *FSM) RecvCodeRejBad() {
	switch f.state {
	case StateClosed, StateStopped:
		f.actions.LayerFinished()
	case StateClosing:
		f.stopTimer()
		f.setState(StateClosed)
		f.actions.LayerFinished()
	case StateStopping, StateReqSent, StateAckRcvd, StateAckSent:
		f.stopTimer()
		f.setState(StateStopped)
		f.actions.LayerFinished()
	case StateOpened:
		f.actions.LayerDown()
		f.initializeRestartCount(f.config.MaxTerminate)
		f.sendTerminateRequest()
		f.setState(StateStopping)
	}
}

// RecvUnknownCode is RUC
func (f *FSM) RecvUnknownCode() {
	switch f.state {
	case StateInitial, StateStarting:
		return
	}
	f.send("Code-Reject", f.actions.SendCodeReject)
}

// timeout handles restart timer expiry
func (f *FSM) timeout() {
	if f.restartCount > 0 {
		// TO+
		switch f.state {
		case StateClosing, StateStopping:
			f.sendTerminateRequest()
		case StateReqSent, StateAckRcvd:
			f.sendConfigureRequest()
			f.setState(StateReqSent)
		case StateAckSent:
			f.sendConfigureRequest()
		}
		return
	}

	// TO-
	f.logger.Debug("LCP restart counter expired", zap.String("state", f.state.String()))
	switch f.state {
	case StateClosing:
		f.setState(StateClosed)
		f.actions.LayerFinished()
	case StateStopping, StateReqSent, StateAckRcvd, StateAckSent:
		f.setState(StateStopped)
		f.actions.LayerFinished()
	}
}

func (f *FSM) sendConfigureRequest() {
	f.send("Configure-Request", f.actions.SendConfigureRequest)
	f.restartCount--
	f.startTimer()
}

func (f *FSM) sendTerminateRequest() {
	f.send("Terminate-Request", f.actions.SendTerminateRequest)
	f.restartCount--
	f.startTimer()
}

func (f *FSM) sendTerminateAck() {
	f.send("Terminate-Ack", f.actions.SendTerminateAck)
}

func (f *FSM) send(what string, fn func() error) {
	if err := fn(); err != nil {
		f.logger.Warn("Failed to send LCP packet",
			zap.String("packet", what),
			zap.String("state", f.state.String()),
			zap.Error(err),
		)
	}
}

// Timer management

func (f *FSM) initializeRestartCount(n int) {
	f.restartCount = n
}

func (f *FSM) zeroRestartCount() {
	f.restartCount = 0
	f.startTimer()
}

func (f *FSM) startTimer() {
	f.stopTimer()

	gen := f.timerGen
	f.timer = f.clock.AfterFunc(f.config.RestartTimer, func() {
		f.post(func() {
			// A timer stopped after it fired still posts; drop it
			if gen != f.timerGen {
				return
			}
			f.timer = nil
			f.timeout()
		})
	})
}

func (f *FSM) stopTimer() {
	f.timerGen++
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
}
