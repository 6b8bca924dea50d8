package transport

import "context"

// Transport is the adapter contract of section 4.12: four operations plus
// an inbound callback. Concrete wire drivers (socket I/O, Bluetooth stack,
// UART bring-up) are out of scope for this module (section 1); what lives
// here is the contract itself and enough reference implementations —
// stream, datagram, and credit-based — to exercise every discipline named
// in section 6 against the server and framer.
type Transport interface {
	// Start begins accepting/delivering inbound messages, invoking recv
	// for each complete message the transport's framing discipline
	// produces. Start returns once accepting has begun; delivery happens
	// on a goroutine owned by the transport.
	Start(recv func([]byte)) error

	// Stop ends accepting and releases any owned resources. Stop must be
	// safe to call even if Start failed or was never called.
	Stop() error

	// Done returns a channel that closes once the transport has
	// permanently stopped delivering, whether because Stop was called or
	// because the underlying medium ended on its own (EOF, a closed
	// socket, a failed exchange). A server blocks on Done after Start to
	// know when a connection's serve loop may retire.
	Done() <-chan struct{}

	// Send pushes one complete, already-framed outbound message. Send may
	// block until the channel has credit (section 4.12's flow-control
	// note); it must be safe to call from whatever goroutine produced the
	// reply, including a work-queue goroutine (section 5).
	Send(ctx context.Context, msg []byte) error

	// MTU returns the largest single send the transport can move without
	// internal segmentation. The server keeps every Rread reply, directory
	// reads included, within this size (section 4.10).
	MTU() int
}

// Discipline identifies which of the three framing families named in
// section 6 a Transport follows. It is informational only — the contract
// above is uniform regardless of discipline, and neither the server nor
// the transports consult it.
type Discipline int

const (
	DisciplineStream Discipline = iota
	DisciplineDatagram
	DisciplineCredit
)

func (d Discipline) String() string {
	switch d {
	case DisciplineStream:
		return "stream"
	case DisciplineDatagram:
		return "datagram"
	case DisciplineCredit:
		return "credit"
	default:
		return "unknown"
	}
}
