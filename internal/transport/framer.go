// Package transport implements the framer (section 4.3) and the transport
// adapter contract (section 4.12), plus a handful of reference transports
// used by tests and by cmd/ninepd for transports that have no real driver
// in this module's scope (stream sockets and serial links are genuine
// drivers; Bluetooth L2CAP and CoAP are modeled with in-memory doubles that
// exercise the same credit/atomic-delivery disciplines).
//
// The mux pattern here — a decode loop that routes complete frames to a
// per-connection handler — is grounded on internal/minitunnel's Tunnel.mux.
package transport

import log "github.com/sandia-minimega/ninepd/pkg/ninelog"

type framerState int

const (
	waitSize framerState = iota
	waitBody
)

// Framer extracts complete 9P messages from a byte stream delivered in
// arbitrary chunks (section 4.3). It is not safe for concurrent use by
// multiple goroutines feeding the same Framer.
type Framer struct {
	maxMessageSize int

	state framerState
	buf   []byte // accumulated bytes for the message currently being framed
	want  int     // total bytes needed before the current message is complete
}

// NewFramer creates a Framer that rejects any declared size outside
// [MinMessageSize, maxMessageSize].
func NewFramer(maxMessageSize int) *Framer {
	return &Framer{
		maxMessageSize: maxMessageSize,
		state:          waitSize,
	}
}

// Feed appends newly arrived bytes and invokes onMessage once for each
// complete message the accumulated bytes now contain, in order. A size
// violation resets the framer and discards whatever partial message was
// buffered (section 4.3); Feed returns an error in that case but remains
// usable for subsequent data.
func (f *Framer) Feed(data []byte, onMessage func([]byte)) error {
	var frameErr error

	for len(data) > 0 {
		switch f.state {
		case waitSize:
			need := 4 - len(f.buf)
			n := need
			if n > len(data) {
				n = len(data)
			}
			f.buf = append(f.buf, data[:n]...)
			data = data[n:]

			if len(f.buf) < 4 {
				continue
			}

			size := int(f.buf[0]) | int(f.buf[1])<<8 | int(f.buf[2])<<16 | int(f.buf[3])<<24
			if size < 7 || size > f.maxMessageSize {
				log.Warn("framer: invalid size %d, resetting", size)
				f.reset()
				frameErr = errFrameSize
				continue
			}

			f.want = size
			f.state = waitBody

		case waitBody:
			need := f.want - len(f.buf)
			n := need
			if n > len(data) {
				n = len(data)
			}
			f.buf = append(f.buf, data[:n]...)
			data = data[n:]

			if len(f.buf) < f.want {
				continue
			}

			msg := f.buf
			f.buf = nil
			f.state = waitSize
			onMessage(msg)
		}
	}

	return frameErr
}

func (f *Framer) reset() {
	f.buf = nil
	f.state = waitSize
}

var errFrameSize = frameSizeError{}

type frameSizeError struct{}

func (frameSizeError) Error() string { return "framer: message size out of bounds" }

// AtomicDelivery wraps a framer-less transport whose underlying medium
// already delivers one complete message per call (CoAP block-assembled
// POST bodies, L2CAP SDUs). Feed degenerates to a single callback
// invocation with no size-accumulation state, matching section 4.3's
// "datagram-style transports" carve-out.
func AtomicDelivery(maxMessageSize int, data []byte, onMessage func([]byte)) error {
	if len(data) < MinMessageSize || len(data) > maxMessageSize {
		return errFrameSize
	}
	onMessage(data)
	return nil
}

// MinMessageSize mirrors ninewire.MinMessageSize without importing the
// wire package, keeping the framer usable by transports that don't
// otherwise need the codec.
const MinMessageSize = 7
