package transport

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"
)

// captureSnapLen is the snapshot length written to the pcap header
const captureSnapLen = 65536

// Capture writes PPP frames to a pcap stream as LINKTYPE_PPP, so they can
// be opened with any PPP-aware dissector.
type Capture struct {
	w      *pcapgo.Writer
	closer io.Closer
	now    func() time.Time
	mu     sync.Mutex
}

// NewCapture writes the pcap file header to w
func NewCapture(w io.Writer) (*Capture, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(captureSnapLen, layers.LinkTypePPP); err != nil {
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	return &Capture{w: pw, now: time.Now}, nil
}

// OpenCapture creates a pcap file at path
func OpenCapture(path string) (*Capture, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file: %w", err)
	}

	c, err := NewCapture(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	c.closer = f
	return c, nil
}

// Write records one frame
func (c *Capture) Write(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.w.WritePacket(gopacket.CaptureInfo{
		Timestamp:     c.now(),
		CaptureLength: len(frame),
		Length:        len(frame),
	}, frame)
}

// Close closes the underlying file, if the capture owns one
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closer == nil {
		return nil
	}
	err := c.closer.Close()
	c.closer = nil
	return err
}
