// Package dynfs is the dynamic-file registry backend (section 4.7): a flat
// table of (path, producer, consumer) triples used for status files and
// upload sinks. Its blocking-read-with-timeout files are grounded on
// miniplumber's Pipe/Reader — a channel plus a Done channel closed once,
// the same shape used here for a file whose read blocks until the next
// value is produced.
package dynfs

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sandia-minimega/ninepd/pkg/ninefs"
	"github.com/sandia-minimega/ninepd/pkg/ninewire"
)

// Producer renders the current content of a dynamic file into buf starting
// at offset, returning the number of bytes written (0 = EOF). ctx carries
// the connection's deadline; a producer that blocks waiting on external
// data (e.g. a chat-room file) must respect ctx's cancellation.
type Producer func(ctx context.Context, offset uint64, buf []byte) (int, error)

// Consumer accepts bytes written to a dynamic file at a given offset.
type Consumer func(ctx context.Context, offset uint64, data []byte) (int, error)

// CloseHook fires when a fid bound to the entry is clunked, letting an
// upload sink finalize a stream (section 4.7).
type CloseHook func()

// Entry is one registered dynamic file.
type Entry struct {
	Path     string // full slash-separated path, e.g. "stats/loadavg"
	Mode     uint32 // DM* bits; DMDIR never set here, entries are always files
	Producer Producer
	Consumer Consumer
	OnClose  CloseHook
}

// node is handed back by Walk/Root. entry distinguishes a leaf entry from
// a synthesized intermediate directory.
type node struct {
	path  string
	qid   ninewire.Qid
	entry *Entry // nil for synthesized directories
}

func (n *node) Qid() ninewire.Qid { return n.qid }
func (n *node) Name() string {
	if n.path == "" {
		return "/"
	}
	i := strings.LastIndexByte(n.path, '/')
	return n.path[i+1:]
}

func asNode(gn ninefs.Node) *node {
	dn, ok := gn.(*node)
	if !ok || dn == nil {
		panic("dynfs: foreign node")
	}
	return dn
}

// Backend is a process-wide table of dynamic file entries.
type Backend struct {
	mu       sync.RWMutex
	entries  map[string]*Entry
	nextPath uint64
}

// New creates an empty registry.
func New() *Backend {
	return &Backend{entries: make(map[string]*Entry)}
}

// Register adds path to the registry. path must not contain a leading
// slash. Calling Register again with the same path replaces the entry.
func (b *Backend) Register(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ent := e
	b.entries[e.Path] = &ent
}

// Unregister removes path from the registry.
func (b *Backend) Unregister(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, path)
}

func (b *Backend) pathQid(path string, dir bool) ninewire.Qid {
	typ := uint8(ninewire.QTFILE)
	if dir {
		typ = ninewire.QTDIR
	}
	// path hash keeps qid.Path stable across calls for the same path
	// without a global counter racing registration order.
	var h uint64 = 1469598103934665603
	for i := 0; i < len(path); i++ {
		h ^= uint64(path[i])
		h *= 1099511628211
	}
	return ninewire.Qid{Type: typ, Path: h}
}

func (b *Backend) Root(ctx context.Context) ninefs.Node {
	return &node{path: "", qid: b.pathQid("", true)}
}

// Walk performs longest-prefix lookup: an exact entry match is a file; if
// no exact match exists but some entry's path begins with prefix+"/", a
// synthetic directory is returned for that prefix (section 4.7).
func (b *Backend) Walk(ctx context.Context, parent ninefs.Node, name string) (ninefs.Node, error) {
	p := asNode(parent)
	child := joinPath(p.path, name)

	b.mu.RLock()
	defer b.mu.RUnlock()

	if e, ok := b.entries[child]; ok {
		return &node{path: child, qid: b.pathQid(child, false), entry: e}, nil
	}

	prefix := child + "/"
	for path := range b.entries {
		if strings.HasPrefix(path, prefix) {
			return &node{path: child, qid: b.pathQid(child, true)}, nil
		}
	}
	return nil, ninefs.ErrNoEntry
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

func (b *Backend) Open(ctx context.Context, gn ninefs.Node, mode uint8) (ninewire.Qid, uint32, error) {
	n := asNode(gn)
	return n.qid, 0, nil
}

func (b *Backend) Read(ctx context.Context, gn ninefs.Node, offset uint64, buf []byte) (int, error) {
	n := asNode(gn)

	if n.entry != nil {
		if n.entry.Producer == nil {
			return 0, nil
		}
		return n.entry.Producer(ctx, offset, buf)
	}

	return b.readDir(n, offset, buf)
}

// readDir synthesizes stat records for every entry whose path is a direct
// child of n.path, plus any intermediate directory names needed to reach
// deeper entries — a pure function of offset, same discipline as memfs.
func (b *Backend) readDir(n *node, offset uint64, buf []byte) (int, error) {
	names := b.directChildren(n.path)

	var cur uint64
	written := 0
	for _, name := range names {
		childPath := joinPath(n.path, name)

		b.mu.RLock()
		e, isFile := b.entries[childPath]
		b.mu.RUnlock()

		st := ninewire.Stat{Name: name, Uid: "none", Gid: "none", Muid: "none"}
		if isFile {
			st.Qid = b.pathQid(childPath, false)
			st.Mode = e.Mode
		} else {
			st.Qid = b.pathQid(childPath, true)
			st.Mode = ninewire.DMDIR | 0555
		}

		sz := uint64(ninewire.EncodedStatSize(st))
		if cur+sz <= offset {
			cur += sz
			continue
		}
		if cur != offset && written == 0 {
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

func (b *Backend) directChildren(prefix string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seen := map[string]bool{}
	var names []string
	for path := range b.entries {
		rest := path
		if prefix != "" {
			if !strings.HasPrefix(path, prefix+"/") {
				continue
			}
			rest = path[len(prefix)+1:]
		}
		name := rest
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			name = rest[:i]
		}
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (b *Backend) Write(ctx context.Context, gn ninefs.Node, offset uint64, data []byte, uname string) (int, error) {
	n := asNode(gn)
	if n.entry == nil || n.entry.Consumer == nil {
		return 0, ninefs.ErrNotPermitted
	}
	return n.entry.Consumer(ctx, offset, data)
}

func (b *Backend) Stat(ctx context.Context, gn ninefs.Node) (ninewire.Stat, error) {
	n := asNode(gn)
	st := ninewire.Stat{Qid: n.qid, Name: n.Name(), Uid: "none", Gid: "none", Muid: "none"}
	if n.entry != nil {
		st.Mode = n.entry.Mode
	} else {
		st.Mode = ninewire.DMDIR | 0555
	}
	return st, nil
}

func (b *Backend) Wstat(ctx context.Context, gn ninefs.Node, stat ninewire.Stat) error {
	return ninefs.ErrNotPermitted
}

func (b *Backend) Create(ctx context.Context, parent ninefs.Node, name string, perm uint32, mode uint8, uname string) (ninefs.Node, error) {
	return nil, ninefs.ErrNotPermitted
}

func (b *Backend) Remove(ctx context.Context, gn ninefs.Node) error {
	return ninefs.ErrNotPermitted
}

func (b *Backend) Clunk(ctx context.Context, gn ninefs.Node) error {
	n := asNode(gn)
	if n.entry != nil && n.entry.OnClose != nil {
		n.entry.OnClose()
	}
	return nil
}

// DefaultChatTimeout bounds how long a blocking dynamic-file read (the
// "chat-room file" of section 5) waits for the next value before
// returning an empty-data EOF, matching miniplumber's fixed wait on its
// Reader channel.
const DefaultChatTimeout = 10 * time.Second
