package lcpopt

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"go.uber.org/zap"

	"github.com/codelaboratoryltd/lcpd/pkg/lcp"
)

const magicLen = lcp.OptionHeaderLen + 4

type magicDescriptor struct {
	cfg Config
}

// NewMagicNumber returns the Magic-Number descriptor
func NewMagicNumber(cfg Config) lcp.Descriptor {
	return magicDescriptor{cfg: cfg}
}

func (d magicDescriptor) Type() uint8  { return TypeMagicNumber }
func (d magicDescriptor) Name() string { return "magic" }

func (d magicDescriptor) New(l *lcp.Layer) lcp.Option {
	if !d.cfg.Magic {
		return nil
	}

	magic, err := generateMagicNumber()
	if err != nil {
		l.Logger().Error("Failed to generate magic number", zap.Error(err))
		return nil
	}

	return &MagicNumber{
		local:    magic,
		maxLoops: d.cfg.MaxLoops,
		logger:   l.Logger(),
	}
}

// MagicNumber negotiates magic numbers and detects looped-back links
type MagicNumber struct {
	local    uint32
	peer     uint32
	suggest  uint32
	loops    int // Consecutive requests carrying our own magic
	maxLoops int
	rejected bool
	logger   *zap.Logger
}

// Local returns our magic number
func (o *MagicNumber) Local() uint32 { return o.local }

// Peer returns the peer's magic number once accepted
func (o *MagicNumber) Peer() uint32 { return o.peer }

func (o *MagicNumber) ProposalLen() int { return magicLen }

func (o *MagicNumber) Propose(b []byte) int {
	if o.rejected {
		return 0
	}
	return lcp.PutOption(b, TypeMagicNumber, be32(o.local))
}

func (o *MagicNumber) EvaluateRequest(opt lcp.RawOption) lcp.Outcome {
	if len(opt) != magicLen {
		return lcp.OutcomeReject
	}

	magic := binary.BigEndian.Uint32(opt.Value())
	switch {
	case magic == 0:
		suggested, err := generateMagicNumber()
		if err != nil {
			o.logger.Error("Failed to generate magic number for NAK", zap.Error(err))
			return lcp.OutcomeReject
		}
		o.suggest = suggested
		return lcp.OutcomeNak

	case magic == o.local:
		o.loops++
		if o.loops > o.maxLoops {
			o.logger.Warn("LCP magic number loop detected, link is looped back",
				zap.Int("collisions", o.loops),
			)
			return lcp.OutcomeFail
		}

		o.logger.Warn("LCP magic number collision detected, regenerating")
		local, err := generateMagicNumber()
		if err != nil {
			o.logger.Error("Failed to regenerate magic number", zap.Error(err))
			return lcp.OutcomeReject
		}
		suggested, err := generateMagicNumber()
		if err != nil {
			o.logger.Error("Failed to generate magic number for NAK", zap.Error(err))
			return lcp.OutcomeReject
		}
		o.local = local
		o.suggest = suggested
		return lcp.OutcomeNak
	}

	o.loops = 0
	o.peer = magic
	return lcp.OutcomeAck
}

func (o *MagicNumber) Nak(b []byte) int {
	return lcp.PutOption(b, TypeMagicNumber, be32(o.suggest))
}

func (o *MagicNumber) EvaluateAck(opt lcp.RawOption) error {
	if len(opt) != magicLen {
		return ErrBadLength
	}
	if binary.BigEndian.Uint32(opt.Value()) != o.local {
		return ErrValueMismatch
	}
	return nil
}

// EvaluateNak picks a fresh magic number, as RFC 1661 asks
func (o *MagicNumber) EvaluateNak(opt lcp.RawOption) error {
	magic, err := generateMagicNumber()
	if err != nil {
		return fmt.Errorf("failed to regenerate magic number: %w", err)
	}
	o.local = magic
	return nil
}

// EvaluateReject stops proposing; loop detection is then unavailable
func (o *MagicNumber) EvaluateReject(opt lcp.RawOption) error {
	o.rejected = true
	return nil
}

func (o *MagicNumber) Format(opt lcp.RawOption) string {
	if opt == nil {
		return fmt.Sprintf("0x%08x", o.local)
	}
	if len(opt) != magicLen {
		return fmt.Sprintf("invalid % x", []byte(opt))
	}
	return fmt.Sprintf("0x%08x", binary.BigEndian.Uint32(opt.Value()))
}

// generateMagicNumber generates a random non-zero 32-bit magic number
func generateMagicNumber() (uint32, error) {
	b := make([]byte, 4)
	for {
		if _, err := rand.Read(b); err != nil {
			return 0, err
		}
		if magic := binary.BigEndian.Uint32(b); magic != 0 {
			return magic, nil
		}
	}
}

func be32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}
