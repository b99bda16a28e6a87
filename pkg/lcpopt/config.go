// Package lcpopt provides the LCP configuration options the server
// negotiates: Maximum-Receive-Unit, Magic-Number, Protocol-Field-Compression
// and Address-and-Control-Field-Compression.
package lcpopt

import (
	"errors"

	"github.com/codelaboratoryltd/lcpd/pkg/lcp"
)

// LCP option types
const (
	TypeMRU         = 1 // Maximum Receive Unit
	TypeMagicNumber = 5 // Magic Number
	TypePFC         = 7 // Protocol Field Compression
	TypeACFC        = 8 // Address/Control Field Compression
)

var (
	// ErrBadLength is returned for an option whose length does not fit its type
	ErrBadLength = errors.New("option has wrong length")

	// ErrValueMismatch is returned when a Configure-Ack does not carry the value we proposed
	ErrValueMismatch = errors.New("acknowledged value differs from proposal")

	// ErrOutOfRange is returned when a Configure-Nak suggests a value we cannot use
	ErrOutOfRange = errors.New("suggested value out of range")
)

// Config holds LCP option negotiation settings
type Config struct {
	MRU      uint16 // MRU we propose; 0 leaves the peer's default
	MinMRU   uint16 // Smallest MRU accepted from the peer (default 64)
	MaxMRU   uint16 // Largest MRU accepted from the peer (default 1492 for PPPoE)
	Magic    bool   // Negotiate magic numbers for loop detection
	MaxLoops int    // Consecutive magic collisions before the link is declared looped
	PFC      bool   // Protocol Field Compression
	ACFC     bool   // Address/Control Field Compression
}

// DefaultConfig returns default option configuration
func DefaultConfig() Config {
	return Config{
		MRU:      1492, // PPPoE MTU constraint
		MinMRU:   64,
		MaxMRU:   1492,
		Magic:    true,
		MaxLoops: 3,
		PFC:      false,
		ACFC:     false,
	}
}

// Register adds every option this package provides to b, in type order
func Register(b *lcp.RegistryBuilder, cfg Config) *lcp.RegistryBuilder {
	return b.
		Register(NewMRU(cfg)).
		Register(NewMagicNumber(cfg)).
		Register(NewPFC(cfg.PFC)).
		Register(NewACFC(cfg.ACFC))
}

// NewRegistry returns a registry holding this package's options
func NewRegistry(cfg Config) *lcp.Registry {
	return Register(lcp.NewRegistryBuilder(), cfg).Build()
}
