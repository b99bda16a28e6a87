package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/codelaboratoryltd/lcpd/pkg/fsm"
	"github.com/codelaboratoryltd/lcpd/pkg/lcp"
)

var (
	// ErrNotFound is returned for operations on an unknown session
	ErrNotFound = errors.New("session not found")

	// ErrClosed is returned once the manager has been shut down
	ErrClosed = errors.New("session manager closed")
)

// Transmitter sends a frame, protocol field first, to a peer
type Transmitter interface {
	Transmit(peer net.Addr, frame []byte) error
}

// Recorder receives session and protocol events for metrics
type Recorder interface {
	lcp.Recorder
	RecordSessionStart()
	RecordSessionEnd(cause lcp.TerminateCause, duration time.Duration)
	RecordLinkUp(negotiation time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordPacket(string, lcp.Code)                      {}
func (nopRecorder) RecordRound(lcp.Outcome)                            {}
func (nopRecorder) RecordStale(lcp.Code)                               {}
func (nopRecorder) RecordMalformed()                                   {}
func (nopRecorder) RecordSessionStart()                                {}
func (nopRecorder) RecordSessionEnd(lcp.TerminateCause, time.Duration) {}
func (nopRecorder) RecordLinkUp(time.Duration)                         {}

// Config holds session manager settings
type Config struct {
	Registry    *lcp.Registry // Options every session negotiates
	FSM         fsm.Config
	TermLinger  time.Duration // How long a terminating session waits for LCP to finish (default 3s)
	MaxSessions int           // 0 means unlimited
}

// DefaultConfig returns default session configuration for the given options
func DefaultConfig(registry *lcp.Registry) Config {
	return Config{
		Registry:   registry,
		FSM:        fsm.DefaultConfig(),
		TermLinger: 3 * time.Second,
	}
}

// Option configures a Manager
type Option func(*Manager)

// WithClock sets the clock for timers and timestamps
func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

// WithRecorder sets the metrics sink
func WithRecorder(r Recorder) Option {
	return func(m *Manager) {
		m.recorder = r
	}
}

// Manager owns every session, keyed by peer address
type Manager struct {
	config   Config
	tx       Transmitter
	logger   *zap.Logger
	clock    clockwork.Clock
	recorder Recorder

	sessions map[string]*Session
	closed   bool
	mu       sync.RWMutex
}

// NewManager creates a session manager sending through tx
func NewManager(config Config, tx Transmitter, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if config.Registry == nil {
		return nil, fmt.Errorf("option registry is required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transmitter is required")
	}
	if config.TermLinger <= 0 {
		config.TermLinger = 3 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		config:   config,
		tx:       tx,
		logger:   logger,
		clock:    clockwork.NewRealClock(),
		recorder: nopRecorder{},
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Deliver routes an inbound frame to the peer's session, starting one for a
// peer that opens with LCP. The frame is copied.
func (m *Manager) Deliver(peer net.Addr, frame []byte) error {
	s := m.Get(peer)
	if s == nil {
		if !isLCP(frame) {
			m.logger.Debug("Dropping non-LCP frame from unknown peer", zap.String("peer", peer.String()))
			return ErrNotFound
		}

		var err error
		s, err = m.create(peer)
		if err != nil {
			return err
		}
	}

	buf := make([]byte, len(frame))
	copy(buf, frame)
	s.deliver(buf)

	return nil
}

func (m *Manager) create(peer net.Addr) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if s, ok := m.sessions[peer.String()]; ok {
		return s, nil
	}
	if m.config.MaxSessions > 0 && len(m.sessions) >= m.config.MaxSessions {
		return nil, fmt.Errorf("session limit %d reached", m.config.MaxSessions)
	}

	s, err := newSession(m, peer)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	m.sessions[peer.String()] = s
	m.recorder.RecordSessionStart()

	s.logger.Info("Session created")

	go s.run()
	s.post(s.layer.Start)

	return s, nil
}

// Get returns the session for peer, or nil
func (m *Manager) Get(peer net.Addr) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[peer.String()]
}

// GetByID returns the session with the given identifier, or nil
func (m *Manager) GetByID(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if s.id == id {
			return s
		}
	}
	return nil
}

// Sessions returns a snapshot of every session
func (m *Manager) Sessions() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, s.Info())
	}
	return infos
}

// Count returns the number of sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Terminate tears the session with the given identifier down
func (m *Manager) Terminate(id string, cause lcp.TerminateCause) error {
	s := m.GetByID(id)
	if s == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.post(func() { s.Terminate(cause) })
	return nil
}

// Shutdown terminates every session and waits for them to be freed
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	m.logger.Info("Terminating sessions", zap.Int("count", len(sessions)))

	for _, s := range sessions {
		s.post(func() { s.Terminate(lcp.TerminateCauseNASRequest) })
	}

	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return fmt.Errorf("shutdown interrupted with %d sessions left: %w", m.Count(), ctx.Err())
		}
	}

	return nil
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.sessions[s.peer.String()]; ok && cur == s {
		delete(m.sessions, s.peer.String())
	}
}

func isLCP(frame []byte) bool {
	return len(frame) >= 2 && uint16(frame[0])<<8|uint16(frame[1]) == lcp.ProtocolLCP
}
