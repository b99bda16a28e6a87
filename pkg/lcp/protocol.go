// Package lcp implements the option-negotiation engine of the PPP Link
// Control Protocol (RFC 1661): the packet codec, the option registry, the
// per-session option set and the configure-request/ack/nak/reject exchange.
// The link-state automaton and the transport are collaborators.
package lcp

import (
	"encoding/binary"
	"fmt"
)

// ProtocolLCP is the PPP protocol number for the Link Control Protocol
const ProtocolLCP = 0xC021

const (
	// HeaderLen is the size of the protocol field plus the LCP header
	HeaderLen = 6
	// OptionHeaderLen is the size of an option's type and length fields
	OptionHeaderLen = 2

	protoLen = 2
	// lcpHeaderLen is what the length field counts at minimum (code, id, length)
	lcpHeaderLen = HeaderLen - protoLen
)

// Code is an LCP packet code
type Code uint8

// LCP codes
const (
	CodeConfigRequest  Code = 1
	CodeConfigAck      Code = 2
	CodeConfigNak      Code = 3
	CodeConfigReject   Code = 4
	CodeTermRequest    Code = 5
	CodeTermAck        Code = 6
	CodeCodeReject     Code = 7
	CodeProtoReject    Code = 8
	CodeEchoRequest    Code = 9
	CodeEchoReply      Code = 10
	CodeDiscardRequest Code = 11
)

func (c Code) String() string {
	switch c {
	case CodeConfigRequest:
		return "ConfReq"
	case CodeConfigAck:
		return "ConfAck"
	case CodeConfigNak:
		return "ConfNak"
	case CodeConfigReject:
		return "ConfRej"
	case CodeTermRequest:
		return "TermReq"
	case CodeTermAck:
		return "TermAck"
	case CodeCodeReject:
		return "CodeRej"
	case CodeProtoReject:
		return "ProtoRej"
	case CodeEchoRequest:
		return "EchoReq"
	case CodeEchoReply:
		return "EchoRep"
	case CodeDiscardRequest:
		return "DiscardReq"
	default:
		return fmt.Sprintf("Code(%d)", uint8(c))
	}
}

// Header is the fixed part of an LCP frame, protocol field included.
// Length counts the code through the end of the data, as on the wire.
type Header struct {
	Protocol   uint16
	Code       Code
	Identifier uint8
	Length     uint16
}

// DecodeHeader parses the fixed header at the start of b
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrMalformedHeader, len(b))
	}

	h := Header{
		Protocol:   binary.BigEndian.Uint16(b[0:2]),
		Code:       Code(b[2]),
		Identifier: b[3],
		Length:     binary.BigEndian.Uint16(b[4:6]),
	}
	if h.Length < lcpHeaderLen {
		return Header{}, fmt.Errorf("%w: length field %d", ErrMalformedHeader, h.Length)
	}

	return h, nil
}

// Encode writes the header into the first HeaderLen bytes of b
func (h Header) Encode(b []byte) {
	binary.BigEndian.PutUint16(b[0:2], h.Protocol)
	b[2] = uint8(h.Code)
	b[3] = h.Identifier
	binary.BigEndian.PutUint16(b[4:6], h.Length)
}

// DataLen is the number of bytes the length field claims after the header
func (h Header) DataLen() int {
	return int(h.Length) - lcpHeaderLen
}

// finalize writes the length field for a frame of n bytes (protocol field included)
func finalize(b []byte, n int) {
	binary.BigEndian.PutUint16(b[4:6], uint16(n-protoLen))
}

// RawOption is one option TLV as it appeared on the wire, header included.
// A clamped entry may be shorter than its own length field says.
type RawOption []byte

// Type returns the option type code
func (o RawOption) Type() uint8 {
	return o[0]
}

// Value returns the bytes after the TLV header, or nil if there are none
func (o RawOption) Value() []byte {
	if len(o) <= OptionHeaderLen {
		return nil
	}
	return o[OptionHeaderLen:]
}

// DecodeOptions splits the option stream in b into TLVs, never reading past
// declared bytes nor past the end of b. An option whose length overruns the
// remaining bytes, or is too small to advance, is clamped to the remainder
// and ends the walk.
func DecodeOptions(b []byte, declared int) []RawOption {
	if declared < len(b) {
		b = b[:max(declared, 0)]
	}

	var opts []RawOption
	for len(b) > 0 {
		n := OptionHeaderLen
		if len(b) >= OptionHeaderLen {
			n = int(b[1])
		}
		if n > len(b) || n < OptionHeaderLen {
			opts = append(opts, RawOption(b))
			break
		}
		opts = append(opts, RawOption(b[:n]))
		b = b[n:]
	}

	return opts
}

// AppendOption appends a TLV with the given type and value to b
func AppendOption(b []byte, typ uint8, value []byte) []byte {
	b = append(b, typ, uint8(OptionHeaderLen+len(value)))
	return append(b, value...)
}

// PutOption writes a TLV into b and returns the number of bytes written
func PutOption(b []byte, typ uint8, value []byte) int {
	n := OptionHeaderLen + len(value)
	b[0] = typ
	b[1] = uint8(n)
	copy(b[OptionHeaderLen:n], value)
	return n
}
