// Package ninepd implements the per-connection server (C10), its fid/tag
// tables (C2), and the session pool that bounds concurrent connections
// (C11). Grounded on the teacher's internal/ron client table: a
// mutex-guarded map from a client-chosen key to a record of connection
// state, generalized here from meshage client IDs to 9P fid numbers.
package ninepd

import (
	"sync"

	"github.com/sandia-minimega/ninepd/pkg/ninefs"
	"github.com/sandia-minimega/ninepd/pkg/ninewire"
)

// Fid is a connection's binding of a client-chosen fid number to a backend
// node. Fid numbers are client-chosen (section 4.2), so the table handles
// arbitrary sparse uint32 keys rather than a dense array.
//
// Lookup hands back the same *Fid to every request naming this fid number,
// and the goroutine-per-request dispatch model (section 5) may run two
// such requests concurrently. mu guards the fields below against that:
// every handler that reads or writes Node, Opened, Mode, or Uname does so
// while holding it, so two requests racing on one fid still observe a
// consistent state rather than a torn read or a lost write. Section 5
// permits overlap "provided it preserves per-fid ordering" — this keeps
// the field mutations themselves coherent; it does not impose an
// ordering between two concurrent requests on the same fid, which a
// well-behaved client would not issue anyway.
type Fid struct {
	Num     uint32
	Backend ninefs.Backend

	mu     sync.Mutex
	Node   ninefs.Node
	Opened bool
	Mode   uint8
	Uname  string
}

// Lock acquires the fid's field lock. Handlers must hold it while reading
// or writing Node, Opened, Mode, or Uname.
func (f *Fid) Lock() { f.mu.Lock() }

// Unlock releases the fid's field lock.
func (f *Fid) Unlock() { f.mu.Unlock() }

// FidTable maps fid numbers to Fid records for one connection. Per section
// 4.2, it needs a mutex only when the owning connection dispatches
// requests in parallel across fids; Conn always takes the lock so it is
// safe either way.
type FidTable struct {
	mu   sync.Mutex
	fids map[uint32]*Fid
}

// NewFidTable creates an empty table.
func NewFidTable() *FidTable {
	return &FidTable{fids: make(map[uint32]*Fid)}
}

// Alloc binds num to a fresh Fid record. Returns ErrFidInUse if num is
// already bound.
func (t *FidTable) Alloc(num uint32, be ninefs.Backend, node ninefs.Node) (*Fid, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.fids[num]; ok {
		return nil, ninewire.ErrFidInUse
	}
	f := &Fid{Num: num, Backend: be, Node: node}
	t.fids[num] = f
	return f, nil
}

// Lookup returns the Fid bound to num, or ErrUnknownFid.
func (t *FidTable) Lookup(num uint32) (*Fid, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, ok := t.fids[num]
	if !ok {
		return nil, ninewire.ErrUnknownFid
	}
	return f, nil
}

// Free releases num, returning the Fid that was bound there (or nil if
// none). Clunk and Remove call this unconditionally per section 4.10: the
// fid is gone from the protocol's perspective regardless of whether the
// backend's own clunk/remove succeeds.
func (t *FidTable) Free(num uint32) *Fid {
	t.mu.Lock()
	defer t.mu.Unlock()

	f := t.fids[num]
	delete(t.fids, num)
	return f
}

// Rebind replaces the node a fid points to, used by walk (full success),
// open, and create.
func (t *FidTable) Rebind(num uint32, node ninefs.Node) {
	t.mu.Lock()
	f, ok := t.fids[num]
	t.mu.Unlock()
	if !ok {
		return
	}
	f.Lock()
	f.Node = node
	f.Unlock()
}

// Clear removes every fid, used on version renegotiation: "all previous
// fids on the connection are discarded" (section 4.10).
func (t *FidTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fids = make(map[uint32]*Fid)
}
