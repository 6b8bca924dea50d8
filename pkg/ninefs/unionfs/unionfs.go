// Package unionfs composes multiple backends under named mount points
// (section 4.8): a client sees one unified directory hierarchy
// and cannot tell whether a subtree is persistent storage, a synthetic
// view, or another backend entirely. Grounded on the teacher's client
// table pattern (internal/ron: a mutex-guarded map from an opaque key to
// owning state) generalized here to a mutex-guarded map from node to the
// mount that produced it.
package unionfs

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/sandia-minimega/ninepd/pkg/ninefs"
	"github.com/sandia-minimega/ninepd/pkg/ninewire"
)

// Mount binds a path prefix (no leading or trailing slash; "" denotes the
// union root itself) to a child backend.
type Mount struct {
	Prefix  string
	Backend ninefs.Backend
}

// rootNode is the union's synthetic root, handed back by Root and by Walk
// whenever navigation is still inside the synthetic layer (i.e. has not
// yet crossed into a mount's own tree).
type rootNode struct {
	qid ninewire.Qid
}

func (n *rootNode) Qid() ninewire.Qid { return n.qid }
func (n *rootNode) Name() string      { return "/" }

// Backend is a union of mounted backends plus a synthetic root.
type Backend struct {
	mu     sync.Mutex
	mounts []Mount // sorted longest-prefix-first

	// owner maps a node returned by a mount's own backend back to that
	// mount, so later operations on it know where to delegate. Keyed by
	// the node value itself (comparable interface values only — mounted
	// backends must return comparable Node implementations, which every
	// backend in this module does).
	owner map[ninefs.Node]*Mount

	root *rootNode
}

// New creates a union with no mounts. Mount entries are added with AddMount.
func New() *Backend {
	b := &Backend{owner: make(map[ninefs.Node]*Mount)}
	b.root = &rootNode{qid: ninewire.Qid{Type: ninewire.QTDIR, Path: 0}}
	return b
}

// AddMount registers a backend at prefix. Mounts are kept sorted
// longest-prefix-first, but Walk from the synthetic root matches a mount
// only when its prefix equals the single name being walked: a prefix that
// contains "/" is never reached by Walk nor listed by Read, and paths are
// not resolved by longest prefix.
func (b *Backend) AddMount(prefix string, be ninefs.Backend) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.mounts = append(b.mounts, Mount{Prefix: prefix, Backend: be})
	sort.Slice(b.mounts, func(i, j int) bool {
		return len(b.mounts[i].Prefix) > len(b.mounts[j].Prefix)
	})
}

// RemoveMount unregisters the mount at prefix, if any.
func (b *Backend) RemoveMount(prefix string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, m := range b.mounts {
		if m.Prefix == prefix {
			b.mounts = append(b.mounts[:i], b.mounts[i+1:]...)
			return
		}
	}
}

func (b *Backend) rootMount() (*Mount, bool) {
	for i := range b.mounts {
		if b.mounts[i].Prefix == "" {
			return &b.mounts[i], true
		}
	}
	return nil, false
}

func (b *Backend) Root(ctx context.Context) ninefs.Node {
	if m, ok := b.rootMount(); ok {
		root := m.Backend.Root(ctx)
		b.recordOwner(root, m)
		return root
	}
	return b.root
}

func (b *Backend) recordOwner(n ninefs.Node, m *Mount) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.owner[n] = m
}

func (b *Backend) lookupOwner(n ninefs.Node) (*Mount, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.owner[n]
	return m, ok
}

// Walk resolves name under parent. If parent is a node already owned by a
// mount, the walk delegates to that mount directly. If parent is the
// synthetic root, a mount-point name switches into that mount's own root;
// any other name is ErrNoEntry.
func (b *Backend) Walk(ctx context.Context, parent ninefs.Node, name string) (ninefs.Node, error) {
	if m, ok := b.lookupOwner(parent); ok {
		child, err := m.Backend.Walk(ctx, parent, name)
		if err == nil {
			b.recordOwner(child, m)
		}
		return child, err
	}

	// parent is the synthetic root (or a synthetic intermediate — this
	// union only synthesizes a single top-level directory, matching
	// section 4.8's "non-root mount-point names" listing).
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.mounts {
		m := &b.mounts[i]
		if m.Prefix == name {
			root := m.Backend.Root(ctx)
			b.owner[root] = m
			return root, nil
		}
	}
	return nil, ninefs.ErrNoEntry
}

func (b *Backend) Open(ctx context.Context, n ninefs.Node, mode uint8) (ninewire.Qid, uint32, error) {
	if m, ok := b.lookupOwner(n); ok {
		return m.Backend.Open(ctx, n, mode)
	}
	return n.Qid(), 0, nil
}

// Read on the synthetic root concatenates the root-mount's listing (if
// any) with synthetic entries for each single-component non-root mount.
// Every entry is placed by its byte offset in that combined listing, so
// paginated reads neither skip nor repeat entries (section 4.8).
func (b *Backend) Read(ctx context.Context, n ninefs.Node, offset uint64, buf []byte) (int, error) {
	if m, ok := b.lookupOwner(n); ok {
		return m.Backend.Read(ctx, n, offset, buf)
	}

	b.mu.Lock()
	mounts := append([]Mount(nil), b.mounts...)
	b.mu.Unlock()

	var rootListing []byte
	var rootLen uint64
	if rm, ok := b.rootMount(); ok {
		rootBuf := make([]byte, 1<<20)
		rn, err := rm.Backend.Read(ctx, rm.Backend.Root(ctx), 0, rootBuf)
		if err == nil {
			rootListing = rootBuf[:rn]
			rootLen = uint64(rn)
		}
	}

	written := 0

	// rootListing is a run of complete Stat records produced by the root
	// mount's own Read; splice it in record-by-record rather than with a
	// raw byte copy, so a buf boundary never lands inside one of its
	// records the way it already can't for the synthetic mount entries
	// below.
	if offset < rootLen {
		pos := uint64(0)
		for pos < rootLen {
			_, consumed, err := ninewire.DecodeStat(rootListing[pos:])
			if err != nil {
				break
			}
			sz := uint64(consumed)
			if pos+sz <= offset {
				pos += sz
				continue
			}
			if written+consumed > len(buf) {
				return written, nil
			}
			written += copy(buf[written:written+consumed], rootListing[pos:pos+uint64(consumed)])
			pos += sz
		}
	}

	var names []string
	for _, m := range mounts {
		if m.Prefix != "" && !strings.Contains(m.Prefix, "/") {
			names = append(names, m.Prefix)
		}
	}
	sort.Strings(names)

	base := rootLen
	for _, name := range names {
		st := ninewire.Stat{
			Qid:  ninewire.Qid{Type: ninewire.QTDIR, Path: hashName(name)},
			Mode: ninewire.DMDIR | 0555,
			Name: name,
			Uid:  "none", Gid: "none", Muid: "none",
		}
		sz := uint64(ninewire.EncodedStatSize(st))

		if base+sz <= offset {
			base += sz
			continue
		}
		if written+int(sz) > len(buf) {
			return written, nil
		}
		n2, err := ninewire.EncodeStat(buf[written:], st)
		if err != nil {
			return written, ninefs.ErrIoError
		}
		written += n2
		base += sz
	}
	return written, nil
}

func hashName(s string) uint64 {
	var h uint64 = 1469598103934665603
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}

func (b *Backend) Write(ctx context.Context, n ninefs.Node, offset uint64, data []byte, uname string) (int, error) {
	if m, ok := b.lookupOwner(n); ok {
		return m.Backend.Write(ctx, n, offset, data, uname)
	}
	return 0, ninefs.ErrNotPermitted
}

func (b *Backend) Stat(ctx context.Context, n ninefs.Node) (ninewire.Stat, error) {
	if m, ok := b.lookupOwner(n); ok {
		return m.Backend.Stat(ctx, n)
	}
	return ninewire.Stat{Qid: n.Qid(), Mode: ninewire.DMDIR | 0555, Name: "/", Uid: "none", Gid: "none", Muid: "none"}, nil
}

func (b *Backend) Wstat(ctx context.Context, n ninefs.Node, stat ninewire.Stat) error {
	if m, ok := b.lookupOwner(n); ok {
		return m.Backend.Wstat(ctx, n, stat)
	}
	return ninefs.ErrNotPermitted
}

func (b *Backend) Create(ctx context.Context, parent ninefs.Node, name string, perm uint32, mode uint8, uname string) (ninefs.Node, error) {
	if m, ok := b.lookupOwner(parent); ok {
		child, err := m.Backend.Create(ctx, parent, name, perm, mode, uname)
		if err == nil {
			b.recordOwner(child, m)
		}
		return child, err
	}
	return nil, ninefs.ErrNotPermitted
}

func (b *Backend) Remove(ctx context.Context, n ninefs.Node) error {
	if m, ok := b.lookupOwner(n); ok {
		return m.Backend.Remove(ctx, n)
	}
	return ninefs.ErrNotPermitted
}

func (b *Backend) Clunk(ctx context.Context, n ninefs.Node) error {
	if m, ok := b.lookupOwner(n); ok {
		return m.Backend.Clunk(ctx, n)
	}
	return nil
}
