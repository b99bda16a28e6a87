package lcp

import "errors"

var (
	// ErrMalformedHeader is returned when a frame is shorter than the LCP
	// header or its length field claims less than the header itself.
	ErrMalformedHeader = errors.New("malformed LCP header")

	// ErrShortPacket is returned by the receive path for frames it drops
	// because they cannot hold an LCP header.
	ErrShortPacket = errors.New("short LCP packet")

	// ErrNoRound is returned when a configure response is requested while no
	// configure-request is being processed.
	ErrNoRound = errors.New("no configure-request in progress")

	// ErrLayerFreed is returned for operations on a layer after Free.
	ErrLayerFreed = errors.New("LCP layer freed")

	// ErrRejectRequired is reported when the peer rejects an option the
	// local side cannot do without.
	ErrRejectRequired = errors.New("required option rejected")
)
