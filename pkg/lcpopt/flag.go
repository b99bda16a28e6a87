package lcpopt

import "github.com/codelaboratoryltd/lcpd/pkg/lcp"

type flagDescriptor struct {
	typ     uint8
	name    string
	enabled bool
}

// NewPFC returns the Protocol-Field-Compression descriptor. When disabled the
// option is neither proposed nor accepted.
func NewPFC(enabled bool) lcp.Descriptor {
	return flagDescriptor{typ: TypePFC, name: "pcomp", enabled: enabled}
}

// NewACFC returns the Address-and-Control-Field-Compression descriptor
func NewACFC(enabled bool) lcp.Descriptor {
	return flagDescriptor{typ: TypeACFC, name: "accomp", enabled: enabled}
}

func (d flagDescriptor) Type() uint8  { return d.typ }
func (d flagDescriptor) Name() string { return d.name }

func (d flagDescriptor) New(l *lcp.Layer) lcp.Option {
	if !d.enabled {
		return nil
	}
	return &Flag{typ: d.typ}
}

// Flag is a boolean option without a value
type Flag struct {
	typ      uint8
	peer     bool // Peer asked for it and we agreed
	rejected bool // Peer refused ours
}

// Local reports whether we still propose the option
func (o *Flag) Local() bool { return !o.rejected }

// Peer reports whether the peer's request for the option was accepted
func (o *Flag) Peer() bool { return o.peer }

func (o *Flag) ProposalLen() int { return lcp.OptionHeaderLen }

func (o *Flag) Propose(b []byte) int {
	if o.rejected {
		return 0
	}
	return lcp.PutOption(b, o.typ, nil)
}

func (o *Flag) EvaluateRequest(opt lcp.RawOption) lcp.Outcome {
	if len(opt) != lcp.OptionHeaderLen {
		return lcp.OutcomeReject
	}
	o.peer = true
	return lcp.OutcomeAck
}

// Nak is never needed: a flag is either acceptable or rejected
func (o *Flag) Nak(b []byte) int {
	return 0
}

func (o *Flag) EvaluateReject(opt lcp.RawOption) error {
	o.rejected = true
	return nil
}

func (o *Flag) Format(opt lcp.RawOption) string {
	return ""
}
