// Package memfs is an in-memory tree backend: the reference implementation
// used to test the server and as the default root of a daemon started with
// no other backend configured. Grounded on the teacher's client table
// (internal/ron) for its locking discipline — one mutex guarding the whole
// tree, taken for the duration of any structural mutation — generalized
// here to a filesystem tree rather than a map of client records.
package memfs

import (
	"context"
	"sync"

	"github.com/sandia-minimega/ninepd/pkg/ninefs"
	"github.com/sandia-minimega/ninepd/pkg/ninewire"
)

// node is the concrete Node memfs hands back. Directories hold their
// children as a singly-linked list via next/firstChild, matching section
// 4.5's "singly-linked list of children"; files hold a byte buffer.
type node struct {
	name string
	qid  ninewire.Qid
	mode uint32 // DM* bits
	uid  string
	gid  string

	atime uint32
	mtime uint32

	data []byte // files only

	parent      *node
	firstChild  *node
	next        *node // sibling link
}

func (n *node) Qid() ninewire.Qid { return n.qid }
func (n *node) Name() string      { return n.name }

func asNode(n ninefs.Node) *node {
	mn, ok := n.(*node)
	if !ok || mn == nil {
		panic("memfs: foreign node")
	}
	return mn
}

// Backend is a complete in-memory filesystem tree.
type Backend struct {
	mu       sync.Mutex
	root     *node
	nextPath uint64 // monotonically increasing qid path counter
}

// New creates an empty backend whose root is a directory.
func New() *Backend {
	b := &Backend{}
	b.root = &node{
		name: "/",
		mode: ninewire.DMDIR | 0755,
		uid:  "none",
		gid:  "none",
	}
	b.root.qid = b.allocQid(ninewire.QTDIR)
	return b
}

func (b *Backend) allocQid(typ uint8) ninewire.Qid {
	b.nextPath++
	return ninewire.Qid{Type: typ, Version: 0, Path: b.nextPath}
}

func (b *Backend) Root(ctx context.Context) ninefs.Node {
	return b.root
}

func (b *Backend) Walk(ctx context.Context, parent ninefs.Node, name string) (ninefs.Node, error) {
	p := asNode(parent)

	b.mu.Lock()
	defer b.mu.Unlock()

	if p.mode&ninewire.DMDIR == 0 {
		return nil, ninefs.ErrNotDir
	}
	for c := p.firstChild; c != nil; c = c.next {
		if c.name == name {
			return c, nil
		}
	}
	return nil, ninefs.ErrNoEntry
}

func (b *Backend) Open(ctx context.Context, n ninefs.Node, mode uint8) (ninewire.Qid, uint32, error) {
	nd := asNode(n)
	return nd.qid, 0, nil
}

func (b *Backend) Read(ctx context.Context, n ninefs.Node, offset uint64, buf []byte) (int, error) {
	nd := asNode(n)

	b.mu.Lock()
	defer b.mu.Unlock()

	if nd.mode&ninewire.DMDIR != 0 {
		return readDir(nd, offset, buf)
	}

	if offset >= uint64(len(nd.data)) {
		return 0, nil
	}
	n2 := copy(buf, nd.data[offset:])
	return n2, nil
}

// readDir encodes consecutive Stat records starting at the child whose
// cumulative encoded offset reaches offset, per section 4.4's directory
// read semantics: a pure function of offset, no iteration state retained.
func readDir(nd *node, offset uint64, buf []byte) (int, error) {
	var cur uint64
	written := 0
	for c := nd.firstChild; c != nil; c = c.next {
		st := statOf(c)
		sz := uint64(ninewire.EncodedStatSize(st))

		if cur+sz <= offset {
			cur += sz
			continue
		}
		if cur != offset && written == 0 {
			// offset lands inside this record's span but not at its start
			return 0, ninefs.ErrInvalidOffset
		}

		if written+int(sz) > len(buf) {
			return written, nil
		}
		n2, err := ninewire.EncodeStat(buf[written:], st)
		if err != nil {
			return written, ninefs.ErrIoError
		}
		written += n2
		cur += sz
	}
	return written, nil
}

func (b *Backend) Write(ctx context.Context, n ninefs.Node, offset uint64, data []byte, uname string) (int, error) {
	nd := asNode(n)

	b.mu.Lock()
	defer b.mu.Unlock()

	if nd.mode&ninewire.DMDIR != 0 {
		return 0, ninefs.ErrNotPermitted
	}

	end := offset + uint64(len(data))
	if end > uint64(len(nd.data)) {
		grown := make([]byte, end)
		copy(grown, nd.data)
		nd.data = grown
	}
	copy(nd.data[offset:], data)
	nd.qid.Version++
	return len(data), nil
}

func (b *Backend) Stat(ctx context.Context, n ninefs.Node) (ninewire.Stat, error) {
	nd := asNode(n)
	b.mu.Lock()
	defer b.mu.Unlock()
	return statOf(nd), nil
}

func statOf(nd *node) ninewire.Stat {
	length := uint64(len(nd.data))
	if nd.mode&ninewire.DMDIR != 0 {
		length = 0
	}
	return ninewire.Stat{
		Qid:    nd.qid,
		Mode:   nd.mode,
		Atime:  nd.atime,
		Mtime:  nd.mtime,
		Length: length,
		Name:   nd.name,
		Uid:    nd.uid,
		Gid:    nd.gid,
		Muid:   nd.uid,
	}
}

func (b *Backend) Wstat(ctx context.Context, n ninefs.Node, stat ninewire.Stat) error {
	nd := asNode(n)

	b.mu.Lock()
	defer b.mu.Unlock()

	if stat.Mode != ninewire.StatNoUint32 {
		nd.mode = (nd.mode &^ 0777) | (stat.Mode & 0777)
	}
	if stat.Mtime != ninewire.StatNoUint32 {
		nd.mtime = stat.Mtime
	}
	if stat.Name != "" {
		nd.name = stat.Name
	}
	if stat.Uid != "" {
		nd.uid = stat.Uid
	}
	if stat.Gid != "" {
		nd.gid = stat.Gid
	}
	return nil
}

func (b *Backend) Create(ctx context.Context, parent ninefs.Node, name string, perm uint32, mode uint8, uname string) (ninefs.Node, error) {
	p := asNode(parent)

	b.mu.Lock()
	defer b.mu.Unlock()

	if p.mode&ninewire.DMDIR == 0 {
		return nil, ninefs.ErrNotDir
	}
	for c := p.firstChild; c != nil; c = c.next {
		if c.name == name {
			return nil, ninefs.ErrExists
		}
	}

	typ := uint8(ninewire.QTFILE)
	if perm&ninewire.DMDIR != 0 {
		typ = ninewire.QTDIR
	}

	child := &node{
		name:   name,
		mode:   perm,
		uid:    uname,
		gid:    uname,
		parent: p,
	}
	child.qid = b.allocQid(typ)

	// prepend, matching section 4.5's "create prepends"
	child.next = p.firstChild
	p.firstChild = child

	return child, nil
}

func (b *Backend) Remove(ctx context.Context, n ninefs.Node) error {
	nd := asNode(n)

	b.mu.Lock()
	defer b.mu.Unlock()

	if nd.mode&ninewire.DMDIR != 0 && nd.firstChild != nil {
		return ninefs.ErrNotEmpty
	}
	if nd.parent == nil {
		return ninefs.ErrNotPermitted // cannot remove the root
	}

	p := nd.parent
	if p.firstChild == nd {
		p.firstChild = nd.next
		return nil
	}
	for c := p.firstChild; c != nil; c = c.next {
		if c.next == nd {
			c.next = nd.next
			return nil
		}
	}
	return ninefs.ErrNoEntry
}

func (b *Backend) Clunk(ctx context.Context, n ninefs.Node) error {
	return nil
}
