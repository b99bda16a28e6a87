package lcpopt

import (
	"encoding/binary"
	"fmt"

	"github.com/codelaboratoryltd/lcpd/pkg/lcp"
)

const mruLen = lcp.OptionHeaderLen + 2

type mruDescriptor struct {
	cfg Config
}

// NewMRU returns the Maximum-Receive-Unit descriptor
func NewMRU(cfg Config) lcp.Descriptor {
	return mruDescriptor{cfg: cfg}
}

func (d mruDescriptor) Type() uint8  { return TypeMRU }
func (d mruDescriptor) Name() string { return "mru" }

func (d mruDescriptor) New(l *lcp.Layer) lcp.Option {
	return &MRU{
		local: d.cfg.MRU,
		min:   d.cfg.MinMRU,
		max:   d.cfg.MaxMRU,
	}
}

// MRU negotiates the Maximum-Receive-Unit in both directions
type MRU struct {
	local    uint16 // What we can receive
	peer     uint16 // What the peer can receive, once acked
	min, max uint16
	suggest  uint16 // Value for our next Configure-Nak
	rejected bool
}

// Local returns the MRU we propose
func (o *MRU) Local() uint16 { return o.local }

// Peer returns the MRU the peer asked for and we accepted
func (o *MRU) Peer() uint16 { return o.peer }

func (o *MRU) ProposalLen() int { return mruLen }

func (o *MRU) Propose(b []byte) int {
	if o.rejected || o.local == 0 {
		return 0
	}
	return lcp.PutOption(b, TypeMRU, be16(o.local))
}

func (o *MRU) EvaluateRequest(opt lcp.RawOption) lcp.Outcome {
	if len(opt) != mruLen {
		return lcp.OutcomeReject
	}

	mru := binary.BigEndian.Uint16(opt.Value())
	switch {
	case mru < o.min:
		o.suggest = o.min
		return lcp.OutcomeNak
	case mru > o.max:
		o.suggest = o.max
		return lcp.OutcomeNak
	}

	o.peer = mru
	return lcp.OutcomeAck
}

func (o *MRU) Nak(b []byte) int {
	return lcp.PutOption(b, TypeMRU, be16(o.suggest))
}

func (o *MRU) EvaluateAck(opt lcp.RawOption) error {
	if len(opt) != mruLen {
		return ErrBadLength
	}
	if binary.BigEndian.Uint16(opt.Value()) != o.local {
		return ErrValueMismatch
	}
	return nil
}

func (o *MRU) EvaluateNak(opt lcp.RawOption) error {
	if len(opt) != mruLen {
		return ErrBadLength
	}
	mru := binary.BigEndian.Uint16(opt.Value())
	if mru < o.min || mru > o.max {
		return fmt.Errorf("%w: %d", ErrOutOfRange, mru)
	}
	o.local = mru
	return nil
}

// EvaluateReject stops proposing; the peer then assumes the default 1500
func (o *MRU) EvaluateReject(opt lcp.RawOption) error {
	o.rejected = true
	return nil
}

func (o *MRU) Format(opt lcp.RawOption) string {
	if opt == nil {
		return fmt.Sprintf("%d", o.local)
	}
	if len(opt) != mruLen {
		return fmt.Sprintf("invalid % x", []byte(opt))
	}
	return fmt.Sprintf("%d", binary.BigEndian.Uint16(opt.Value()))
}

func be16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}
