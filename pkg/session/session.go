// Package session hosts LCP layers: one session per peer, each running its
// own event loop so that the negotiation state is only ever touched from a
// single goroutine.
package session

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/codelaboratoryltd/lcpd/pkg/fsm"
	"github.com/codelaboratoryltd/lcpd/pkg/lcp"
)

// eventQueueLen bounds the events queued for one session
const eventQueueLen = 64

// Info is a point-in-time view of a session, safe to read from any goroutine
type Info struct {
	ID        string
	Peer      string
	State     fsm.State
	CreatedAt time.Time
	OpenedAt  time.Time
	BytesIn   uint64
	BytesOut  uint64
}

// Session is one peer's PPP link. Everything except the atomics and the
// event queue is owned by the event loop.
type Session struct {
	id        string
	peer      net.Addr
	manager   *Manager
	logger    *zap.Logger
	createdAt time.Time

	layer    *lcp.Layer
	fsm      *fsm.FSM
	handlers map[uint16]lcp.Handler

	events chan func()
	done   chan struct{}

	terminating bool
	cause       lcp.TerminateCause
	linger      clockwork.Timer
	freed       bool

	state      atomic.Int32
	openedAt   atomic.Int64
	bytesIn    atomic.Uint64
	bytesOut   atomic.Uint64
	packetsIn  atomic.Uint64
	packetsOut atomic.Uint64
}

func newSession(m *Manager, peer net.Addr) (*Session, error) {
	s := &Session{
		id:        uuid.New().String(),
		peer:      peer,
		manager:   m,
		createdAt: m.clock.Now(),
		handlers:  make(map[uint16]lcp.Handler),
		events:    make(chan func(), eventQueueLen),
		done:      make(chan struct{}),
	}
	s.logger = m.logger.With(
		zap.String("session_id", s.id),
		zap.String("peer", peer.String()),
	)

	layer, err := lcp.NewLayer(lcp.Config{
		ID:       s.id,
		Registry: m.config.Registry,
		Channel:  s,
		Owner:    s,
		NewFSM:   s.newFSM,
		Recorder: m.recorder,
		Logger:   m.logger.With(zap.String("peer", peer.String())),
	})
	if err != nil {
		return nil, err
	}
	s.layer = layer

	return s, nil
}

func (s *Session) newFSM(actions lcp.Actions) lcp.FSM {
	s.fsm = fsm.New(s.manager.config.FSM, actions, s.logger,
		fsm.WithClock(s.manager.clock),
		fsm.WithExecutor(s.post),
	)
	s.fsm.SetOnStateChange(func(_, newState fsm.State) {
		s.state.Store(int32(newState))
	})
	return s.fsm
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// Peer returns the peer address the session is bound to
func (s *Session) Peer() net.Addr {
	return s.peer
}

// Done is closed once the session has been freed
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Info returns a snapshot of the session
func (s *Session) Info() Info {
	info := Info{
		ID:        s.id,
		Peer:      s.peer.String(),
		State:     fsm.State(s.state.Load()),
		CreatedAt: s.createdAt,
		BytesIn:   s.bytesIn.Load(),
		BytesOut:  s.bytesOut.Load(),
	}
	if ts := s.openedAt.Load(); ts != 0 {
		info.OpenedAt = time.Unix(0, ts)
	}
	return info
}

// run is the session's event loop
func (s *Session) run() {
	for {
		select {
		case fn := <-s.events:
			fn()
		case <-s.done:
			return
		}
	}
}

// post queues fn on the event loop. It blocks while the queue is full and
// drops fn once the session is gone.
func (s *Session) post(fn func()) {
	select {
	case s.events <- fn:
	case <-s.done:
	}
}

// deliver queues an inbound frame
func (s *Session) deliver(frame []byte) {
	s.bytesIn.Add(uint64(len(frame)))
	s.packetsIn.Add(1)
	s.post(func() { s.dispatch(frame) })
}

// dispatch hands a frame to the handler registered for its PPP protocol
func (s *Session) dispatch(frame []byte) {
	if s.freed {
		return
	}
	if len(frame) < 2 {
		s.logger.Debug("Dropping runt frame", zap.Int("length", len(frame)))
		return
	}

	proto := uint16(frame[0])<<8 | uint16(frame[1])
	h, ok := s.handlers[proto]
	if !ok {
		s.logger.Debug("No handler for PPP protocol", zap.Uint16("protocol", proto))
		return
	}

	if err := h.Receive(frame); err != nil {
		s.logger.Debug("Frame dropped", zap.Uint16("protocol", proto), zap.Error(err))
	}
}

// Send implements lcp.Channel
func (s *Session) Send(frame []byte) error {
	s.bytesOut.Add(uint64(len(frame)))
	s.packetsOut.Add(1)
	return s.manager.tx.Transmit(s.peer, frame)
}

// Register implements lcp.Channel
func (s *Session) Register(protocol uint16, h lcp.Handler) {
	s.handlers[protocol] = h
}

// Unregister implements lcp.Channel
func (s *Session) Unregister(protocol uint16) {
	delete(s.handlers, protocol)
}

// LayerStarted implements lcp.Owner
func (s *Session) LayerStarted(l *lcp.Layer) {
	now := s.manager.clock.Now()
	s.openedAt.Store(now.UnixNano())

	s.logger.Info("LCP opened", zap.Duration("negotiation", now.Sub(s.createdAt)))
	s.manager.recorder.RecordLinkUp(now.Sub(s.createdAt))
}

// LayerFinished implements lcp.Owner. Outside of a teardown it means the
// peer stopped answering, so the session goes away as well.
func (s *Session) LayerFinished(l *lcp.Layer) {
	if !s.terminating {
		s.Terminate(lcp.TerminateCauseLostCarrier)
		return
	}
	s.free()
}

var (
	_ lcp.Channel = (*Session)(nil)
	_ lcp.Owner   = (*Session)(nil)
)
