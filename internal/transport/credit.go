package transport

import (
	"context"
	"sync"

	log "github.com/sandia-minimega/ninepd/pkg/ninelog"
)

// SDUSink is the minimal surface a credit-based link channel (section 6:
// Bluetooth L2CAP) needs to expose: deliver one SDU, sized to the
// negotiated MTU, and report/consume credit. The real Bluetooth stack is
// out of scope (section 1); this models just enough of its discipline —
// SDU framing and a bounded credit window — to drive the server and
// framer the same way a real GATT/L2CAP channel would.
type SDUSink interface {
	// WriteSDU delivers one SDU to the peer. It must not be called again
	// until credit allows; CreditTransport counts the credit and holds
	// messages back while none is left.
	WriteSDU(sdu []byte) error
	Close() error
}

// CreditTransport adapts an SDUSink into the Transport contract. Replies
// larger than the peer's current credit window are held pending more
// credit rather than segmented (section 4.12): the core 9P protocol has no
// segmentation, so a reply must already fit within one SDU, which in turn
// must fit within the negotiated max message size — the server is
// responsible for sizing replies so this never blocks indefinitely.
//
// Inbound delivery happens on whatever goroutine the driver callback
// runs on; per section 5's "Bluetooth RX thread cannot block on
// filesystem work", CreditTransport only ever appends to an internal
// reassembly buffer and invokes recv — the caller must hand decoded
// messages off to a work queue rather than processing them inline.
type CreditTransport struct {
	sink   SDUSink
	mtu    int // negotiated SDU size
	recv   func([]byte)

	mu        sync.Mutex
	credits   int
	creditCh  chan struct{}
	pending   [][]byte // outbound SDUs waiting for credit

	framer *Framer

	closed   bool
	stopOnce sync.Once
	done     chan struct{}
}

// NewCreditTransport creates a transport with an initial credit allotment
// (the number of SDUs the peer has authorized us to send before it must
// grant more).
func NewCreditTransport(sink SDUSink, mtu, initialCredits int) *CreditTransport {
	return &CreditTransport{
		sink:     sink,
		mtu:      mtu,
		credits:  initialCredits,
		creditCh: make(chan struct{}, 1),
		framer:   NewFramer(1 << 20),
		done:     make(chan struct{}),
	}
}

func (t *CreditTransport) Start(recv func([]byte)) error {
	t.recv = recv
	return nil
}

// DeliverSDU is called by the driver callback context (not a goroutine
// CreditTransport owns) whenever an inbound SDU arrives. It must return
// quickly: it only feeds the framer and invokes recv, never itself
// performs filesystem work.
func (t *CreditTransport) DeliverSDU(sdu []byte) {
	if err := t.framer.Feed(sdu, t.recv); err != nil {
		log.Warn("credit transport: %v", err)
	}
}

// GrantCredits is called by the driver when the peer authorizes more SDUs.
func (t *CreditTransport) GrantCredits(n int) {
	t.mu.Lock()
	t.credits += n
	pending := t.drainLocked()
	t.mu.Unlock()

	for _, sdu := range pending {
		if err := t.sink.WriteSDU(sdu); err != nil {
			log.Error("credit transport: write after grant: %v", err)
			return
		}
	}
}

// drainLocked pops as many queued SDUs as current credit allows. Caller
// holds t.mu.
func (t *CreditTransport) drainLocked() [][]byte {
	var out [][]byte
	for t.credits > 0 && len(t.pending) > 0 {
		out = append(out, t.pending[0])
		t.pending = t.pending[1:]
		t.credits--
	}
	return out
}

func (t *CreditTransport) Stop() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.stopOnce.Do(func() { close(t.done) })
	return t.sink.Close()
}

// Done returns the channel closed once Stop has been called. Unlike
// StreamTransport and DatagramTransport, CreditTransport owns no read
// loop of its own — delivery is driven externally via DeliverSDU — so
// nothing but an explicit Stop ever ends it.
func (t *CreditTransport) Done() <-chan struct{} {
	return t.done
}

// Send writes msg as a single SDU, spending one credit, if any credit is
// left; otherwise msg queues until GrantCredits is called. This is the
// "held pending more credit" branch of section 4.12 — the protocol never
// segments a 9P message across SDUs, so a msg longer than the MTU is
// rejected with ErrMessageExceedsSDU: it is a server sizing bug, not
// something Send repairs.
func (t *CreditTransport) Send(ctx context.Context, msg []byte) error {
	if len(msg) > t.mtu {
		return ErrMessageExceedsSDU
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}

	if t.credits > 0 {
		t.credits--
		t.mu.Unlock()
		return t.sink.WriteSDU(msg)
	}

	t.pending = append(t.pending, msg)
	t.mu.Unlock()
	return nil
}

func (t *CreditTransport) MTU() int {
	return t.mtu
}

// ErrMessageExceedsSDU is returned when a caller asks Send to push a
// message larger than the negotiated SDU size; the core protocol has no
// way to split it (section 4.12).
var ErrMessageExceedsSDU = sduSizeError{}

type sduSizeError struct{}

func (sduSizeError) Error() string { return "message exceeds negotiated SDU size" }
