package session

import (
	"go.uber.org/zap"

	"github.com/codelaboratoryltd/lcpd/pkg/fsm"
	"github.com/codelaboratoryltd/lcpd/pkg/lcp"
)

// Terminate implements lcp.Owner. It closes the link and frees the session
// once LCP has finished, or when the linger timer runs out. Must run on the
// event loop; use Manager.Terminate from elsewhere.
func (s *Session) Terminate(cause lcp.TerminateCause) {
	if s.terminating || s.freed {
		return
	}
	s.terminating = true
	s.cause = cause

	s.logger.Info("Session termination",
		zap.String("cause", cause.String()),
		zap.String("state", s.fsm.State().String()),
	)

	s.layer.Finish()
	if s.freed {
		return
	}

	switch s.fsm.State() {
	case fsm.StateInitial, fsm.StateClosed:
		// Nothing left to wait for
		s.free()
		return
	}

	s.linger = s.manager.clock.AfterFunc(s.manager.config.TermLinger, func() {
		s.post(func() {
			if s.freed {
				return
			}
			s.logger.Debug("LCP Terminate-Ack timeout, freeing session")
			s.free()
		})
	})
}

// free releases the layer and removes the session. Must run on the event loop.
func (s *Session) free() {
	if s.freed {
		return
	}
	s.freed = true

	if s.linger != nil {
		s.linger.Stop()
		s.linger = nil
	}

	s.layer.Free()
	s.manager.remove(s)

	duration := s.manager.clock.Since(s.createdAt)
	s.manager.recorder.RecordSessionEnd(s.cause, duration)

	s.logger.Info("Session freed",
		zap.String("cause", s.cause.String()),
		zap.Duration("duration", duration),
		zap.Uint64("bytes_in", s.bytesIn.Load()),
		zap.Uint64("bytes_out", s.bytesOut.Load()),
		zap.Uint64("packets_in", s.packetsIn.Load()),
		zap.Uint64("packets_out", s.packetsOut.Load()),
	)

	close(s.done)
}
