package ninepd

import (
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sandia-minimega/ninepd/internal/transport"
)

// SlotState is a session slot's lifecycle (section 4.11): Free -> Allocated
// -> Connected -> Disconnecting -> Free.
type SlotState int

const (
	SlotFree SlotState = iota
	SlotAllocated
	SlotConnected
	SlotDisconnecting
)

// Slot is one session pool entry. ID is a uuid so external tooling (the
// CLI, logs) can name a session independent of its array index, which is
// reused across the slot's lifetime.
type Slot struct {
	ID    uuid.UUID
	State SlotState
	Conn  *Conn
	tr    transport.Transport
}

// Pool is a fixed-size array of session slots bounding the number of
// concurrent connections a daemon serves; when exhausted, new connections
// are refused at the transport layer (section 4.11).
type Pool struct {
	mu    sync.Mutex
	slots []Slot
}

// NewPool creates a pool with size slots, all initially Free.
func NewPool(size int) *Pool {
	return &Pool{slots: make([]Slot, size)}
}

// Alloc finds a Free slot, marks it Allocated, and returns its index. The
// second return is false if the pool is exhausted.
func (p *Pool) Alloc() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.slots {
		if p.slots[i].State == SlotFree {
			p.slots[i].State = SlotAllocated
			p.slots[i].ID = uuid.New()
			return i, true
		}
	}
	return -1, false
}

// Connected transitions slot i to Connected once its transport and Conn
// are ready to serve, recording them for later teardown.
func (p *Pool) Connected(i int, tr transport.Transport, conn *Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.slots[i].State = SlotConnected
	p.slots[i].tr = tr
	p.slots[i].Conn = conn
}

// Free tears down slot i: Disconnecting while the transport's stop hook
// runs, then Free with the session's server and transport state zeroed.
func (p *Pool) Free(i int) {
	p.mu.Lock()
	p.slots[i].State = SlotDisconnecting
	conn := p.slots[i].Conn
	p.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.slots[i] = Slot{}
}

// InUse reports how many slots are not Free, for metrics/admission logging.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.slots {
		if s.State != SlotFree {
			n++
		}
	}
	return n
}

// Size returns the pool's fixed slot count.
func (p *Pool) Size() int {
	return len(p.slots)
}

// CloseAll tears down every non-Free slot concurrently, grounded on the
// teacher's shutdown fan-out in internal/ron (which stops every client
// handler before the server process exits). errgroup bounds the
// goroutines to one per occupied slot and returns the first error
// encountered, if any, after every teardown has completed.
func (p *Pool) CloseAll() error {
	p.mu.Lock()
	indices := make([]int, 0, len(p.slots))
	for i, s := range p.slots {
		if s.State != SlotFree {
			indices = append(indices, i)
		}
	}
	p.mu.Unlock()

	var g errgroup.Group
	for _, i := range indices {
		i := i
		g.Go(func() error {
			p.Free(i)
			return nil
		})
	}
	return g.Wait()
}
