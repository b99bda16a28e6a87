package lcp

import "fmt"

// Outcome is the verdict on one option during a negotiation round.
// Values are ordered so that a larger outcome is a worse one.
type Outcome int

const (
	OutcomeNone   Outcome = iota // Not evaluated this round
	OutcomeAck                   // Acceptable as proposed
	OutcomeNak                   // Acceptable with a different value
	OutcomeReject                // Not negotiable
	OutcomeFail                  // Unacceptable, the link must go down
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeAck:
		return "ack"
	case OutcomeNak:
		return "nak"
	case OutcomeReject:
		return "reject"
	case OutcomeFail:
		return "fail"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Worse returns the worse of two outcomes
func Worse(a, b Outcome) Outcome {
	if b > a {
		return b
	}
	return a
}

// Aggregate folds per-option outcomes into the round verdict. ACK is the
// identity, so an empty set is acknowledged.
func Aggregate(outcomes ...Outcome) Outcome {
	verdict := OutcomeAck
	for _, o := range outcomes {
		verdict = Worse(verdict, o)
	}
	return verdict
}

// Descriptor describes one negotiable option kind. Descriptors are
// registered once at startup and shared by every session.
type Descriptor interface {
	// Type is the option type code this descriptor handles
	Type() uint8
	// Name is a short label for logs and metrics
	Name() string
	// New returns the option instance for a session, or nil when the option
	// does not apply to it.
	New(l *Layer) Option
}

// Option is the session-bound state of one option kind.
type Option interface {
	// ProposalLen is the number of bytes Propose may write
	ProposalLen() int
	// Propose encodes the current proposal into b and returns the bytes
	// written. Zero means nothing is proposed.
	Propose(b []byte) int
	// EvaluateRequest judges the option as the peer proposed it
	EvaluateRequest(opt RawOption) Outcome
	// Nak encodes the value to suggest after EvaluateRequest returned
	// OutcomeNak and returns the bytes written. Neither Propose nor Nak may
	// write more than ProposalLen bytes.
	Nak(b []byte) int
	// Format renders opt, or the local proposal when opt is nil
	Format(opt RawOption) string
}

// AckEvaluator is implemented by options that check the peer's
// configure-ack. Options without it accept any ack.
type AckEvaluator interface {
	EvaluateAck(opt RawOption) error
}

// NakEvaluator is implemented by options that adopt values from a
// configure-nak. Options without it ignore naks.
type NakEvaluator interface {
	EvaluateNak(opt RawOption) error
}

// RejectEvaluator is implemented by options that can drop out of the
// proposal when the peer rejects them. A rejected option without it is fatal.
type RejectEvaluator interface {
	EvaluateReject(opt RawOption) error
}

// Releaser is implemented by options holding resources beyond the layer's lifetime
type Releaser interface {
	Release()
}

// instance ties an option to its descriptor and its outcome for the current round
type instance struct {
	desc    Descriptor
	opt     Option
	outcome Outcome
}

func (i *instance) format(raw RawOption) string {
	v := i.opt.Format(raw)
	if v == "" {
		return "<" + i.desc.Name() + ">"
	}
	return fmt.Sprintf("<%s %s>", i.desc.Name(), v)
}
