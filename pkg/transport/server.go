// Package transport carries PPP frames over UDP: each datagram holds one
// frame starting at the PPP protocol field, and the sender's address
// identifies the session.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
)

// Handler consumes frames read from the socket. Frames are only valid for the
// duration of the call.
type Handler interface {
	Deliver(peer net.Addr, frame []byte) error
}

// Config holds UDP transport settings
type Config struct {
	ListenAddr string // host:port to bind (default ":3799")
	BatchSize  int    // Datagrams per read (default 32)
	MaxFrame   int    // Largest frame accepted (default 1536)
	ReadBuffer int    // Socket receive buffer, 0 keeps the system default
}

// DefaultConfig returns default transport configuration
func DefaultConfig() Config {
	return Config{
		ListenAddr: ":3799",
		BatchSize:  32,
		MaxFrame:   1536,
	}
}

// Stats holds transport counters
type Stats struct {
	FramesIn   uint64
	FramesOut  uint64
	Dropped    uint64
	ReadErrors uint64
}

// Server is the UDP frame transport
type Server struct {
	config  Config
	logger  *zap.Logger
	handler Handler
	capture *Capture

	conn  *net.UDPConn
	pconn *ipv4.PacketConn

	framesIn   atomic.Uint64
	framesOut  atomic.Uint64
	dropped    atomic.Uint64
	readErrors atomic.Uint64
}

// NewServer creates a transport; call SetHandler before Serve
func NewServer(config Config, logger *zap.Logger) (*Server, error) {
	if config.ListenAddr == "" {
		return nil, fmt.Errorf("listen address required")
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}
	if config.MaxFrame <= 0 {
		config.MaxFrame = 1536
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Server{
		config: config,
		logger: logger,
	}, nil
}

// SetHandler sets the receiver of inbound frames
func (s *Server) SetHandler(h Handler) {
	s.handler = h
}

// SetCapture records every frame sent or received to c
func (s *Server) SetCapture(c *Capture) {
	s.capture = c
}

// Listen binds the socket
func (s *Server) Listen() error {
	addr, err := net.ResolveUDPAddr("udp4", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", s.config.ListenAddr, err)
	}

	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return fmt.Errorf("failed to listen UDP: %w", err)
	}

	if s.config.ReadBuffer > 0 {
		if err := conn.SetReadBuffer(s.config.ReadBuffer); err != nil {
			s.logger.Warn("Failed to set socket receive buffer size",
				zap.Int("requested", s.config.ReadBuffer),
				zap.Error(err),
			)
		}
	}

	s.conn = conn
	s.pconn = ipv4.NewPacketConn(conn)

	s.logger.Info("Transport listening", zap.String("addr", conn.LocalAddr().String()))
	return nil
}

// LocalAddr returns the bound address, or nil before Listen
func (s *Server) LocalAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Serve reads frames until ctx is cancelled
func (s *Server) Serve(ctx context.Context) error {
	if s.handler == nil {
		return fmt.Errorf("no frame handler set")
	}
	if s.conn == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	// Unblock ReadBatch on cancellation
	go func() {
		<-ctx.Done()
		_ = s.conn.SetReadDeadline(time.Now().Add(-time.Hour))
	}()

	msgs := make([]ipv4.Message, s.config.BatchSize)
	for i := range msgs {
		msgs[i].Buffers = [][]byte{make([]byte, s.config.MaxFrame+1)}
	}

	for {
		n, err := s.pconn.ReadBatch(msgs, 0)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.readErrors.Add(1)
			s.logger.Error("Transport read failed", zap.Error(err))
			continue
		}

		for i := 0; i < n; i++ {
			s.receive(msgs[i].Addr, msgs[i].Buffers[0][:msgs[i].N])
		}
	}
}

func (s *Server) receive(peer net.Addr, frame []byte) {
	if len(frame) > s.config.MaxFrame {
		s.dropped.Add(1)
		s.logger.Debug("Dropping oversized frame",
			zap.String("peer", peer.String()),
			zap.Int("length", len(frame)),
		)
		return
	}

	s.framesIn.Add(1)
	s.record(frame)

	if err := s.handler.Deliver(peer, frame); err != nil {
		s.dropped.Add(1)
		s.logger.Debug("Frame not delivered", zap.String("peer", peer.String()), zap.Error(err))
	}
}

// Transmit sends one frame to peer
func (s *Server) Transmit(peer net.Addr, frame []byte) error {
	if s.conn == nil {
		return fmt.Errorf("transport not listening")
	}

	if _, err := s.conn.WriteTo(frame, peer); err != nil {
		return fmt.Errorf("failed to send to %s: %w", peer, err)
	}

	s.framesOut.Add(1)
	s.record(frame)
	return nil
}

func (s *Server) record(frame []byte) {
	if s.capture == nil {
		return
	}
	if err := s.capture.Write(frame); err != nil {
		s.logger.Warn("Failed to write capture", zap.Error(err))
	}
}

// Stats returns transport counters
func (s *Server) Stats() Stats {
	return Stats{
		FramesIn:   s.framesIn.Load(),
		FramesOut:  s.framesOut.Load(),
		Dropped:    s.dropped.Load(),
		ReadErrors: s.readErrors.Load(),
	}
}

// Close closes the socket
func (s *Server) Close() error {
	s.logger.Info("Stopping transport")
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
