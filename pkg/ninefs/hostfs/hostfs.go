// Package hostfs maps 9P operations onto a host filesystem rooted at a
// configured prefix (section 4.6). Qid paths are an FNV-1a hash of the
// node's path relative to the backend root; host inode numbers are not
// used — grounded on rclone's backend/local package, which
// faces the identical "local.Object wraps os.FileInfo, derive a stable
// remote identity from whatever os.Stat gives you" problem.
package hostfs

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/sandia-minimega/ninepd/pkg/ninelog"
	"github.com/sandia-minimega/ninepd/pkg/ninefs"
	"github.com/sandia-minimega/ninepd/pkg/ninewire"
)

// node identifies a host path relative to the backend's root prefix. It
// carries at most one open os.File handle, allocated on Open and released
// on Clunk, matching "each open of a file allocates a host file handle
// stored on a node handle" (section 4.6).
type node struct {
	rel   string // path relative to the backend root; "" is the root itself
	isDir bool

	mu   sync.Mutex
	file *os.File
}

func (n *node) Qid() ninewire.Qid {
	return qidFor(n.rel, n.isDir)
}

func (n *node) Name() string {
	if n.rel == "" {
		return "/"
	}
	return filepath.Base(n.rel)
}

func asNode(gn ninefs.Node) *node {
	hn, ok := gn.(*node)
	if !ok || hn == nil {
		panic("hostfs: foreign node")
	}
	return hn
}

// Backend wraps a host directory tree. All paths are resolved relative to
// Prefix and it is a configuration error for Prefix to not exist.
type Backend struct {
	Prefix string
}

// New creates a backend rooted at prefix.
func New(prefix string) *Backend {
	return &Backend{Prefix: filepath.Clean(prefix)}
}

func (b *Backend) abs(rel string) string {
	return filepath.Join(b.Prefix, rel)
}

func (b *Backend) Root(ctx context.Context) ninefs.Node {
	return &node{rel: "", isDir: true}
}

func (b *Backend) Walk(ctx context.Context, parent ninefs.Node, name string) (ninefs.Node, error) {
	p := asNode(parent)

	fi, err := os.Stat(b.abs(p.rel))
	if err != nil || !fi.IsDir() {
		return nil, ninefs.ErrNotDir
	}

	rel := filepath.Join(p.rel, name)
	cfi, err := os.Lstat(b.abs(rel))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ninefs.ErrNoEntry
		}
		return nil, ninefs.ErrIoError
	}
	return &node{rel: rel, isDir: cfi.IsDir()}, nil
}

func (b *Backend) Open(ctx context.Context, gn ninefs.Node, mode uint8) (ninewire.Qid, uint32, error) {
	n := asNode(gn)

	fi, err := os.Stat(b.abs(n.rel))
	if err != nil {
		return ninewire.Qid{}, 0, ninefs.ErrIoError
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if fi.IsDir() {
		return n.Qid(), 0, nil
	}

	flag := os.O_RDONLY
	switch mode & 0x03 {
	case ninewire.OWRITE:
		flag = os.O_WRONLY
	case ninewire.ORDWR, ninewire.OEXEC:
		flag = os.O_RDWR
	}
	if mode&ninewire.OTRUNC != 0 {
		flag |= os.O_TRUNC
	}

	f, err := os.OpenFile(b.abs(n.rel), flag, 0)
	if err != nil {
		return ninewire.Qid{}, 0, ninefs.ErrNotPermitted
	}
	n.file = f

	return n.Qid(), 0, nil
}

func (b *Backend) Read(ctx context.Context, gn ninefs.Node, offset uint64, buf []byte) (int, error) {
	n := asNode(gn)

	fi, err := os.Stat(b.abs(n.rel))
	if err != nil {
		return 0, ninefs.ErrIoError
	}
	if fi.IsDir() {
		return b.readDir(n, offset, buf)
	}

	n.mu.Lock()
	f := n.file
	n.mu.Unlock()
	if f == nil {
		return 0, ninefs.ErrNotPermitted
	}

	read, err := f.ReadAt(buf, int64(offset))
	if err != nil && err != io.EOF {
		return read, ninefs.ErrIoError
	}
	return read, nil
}

func (b *Backend) readDir(n *node, offset uint64, buf []byte) (int, error) {
	entries, err := os.ReadDir(b.abs(n.rel))
	if err != nil {
		return 0, ninefs.ErrIoError
	}

	var cur uint64
	written := 0
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		st := statFromInfo(filepath.Join(n.rel, e.Name()), info)
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

func (b *Backend) Write(ctx context.Context, gn ninefs.Node, offset uint64, data []byte, uname string) (int, error) {
	n := asNode(gn)

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.file == nil {
		return 0, ninefs.ErrNotPermitted
	}
	w, err := n.file.WriteAt(data, int64(offset))
	if err != nil {
		return w, ninefs.ErrIoError
	}
	return w, nil
}

func (b *Backend) Stat(ctx context.Context, gn ninefs.Node) (ninewire.Stat, error) {
	n := asNode(gn)
	fi, err := os.Lstat(b.abs(n.rel))
	if err != nil {
		return ninewire.Stat{}, ninefs.ErrIoError
	}
	return statFromInfo(n.rel, fi), nil
}

func (b *Backend) Wstat(ctx context.Context, gn ninefs.Node, stat ninewire.Stat) error {
	n := asNode(gn)
	if stat.Mode != ninewire.StatNoUint32 {
		if err := os.Chmod(b.abs(n.rel), os.FileMode(stat.Mode&0777)); err != nil {
			return ninefs.ErrIoError
		}
	}
	if stat.Name != "" && stat.Name != n.Name() {
		newRel := filepath.Join(filepath.Dir(n.rel), stat.Name)
		if err := os.Rename(b.abs(n.rel), b.abs(newRel)); err != nil {
			return ninefs.ErrIoError
		}
		n.rel = newRel
	}
	return nil
}

func (b *Backend) Create(ctx context.Context, gn ninefs.Node, name string, perm uint32, mode uint8, uname string) (ninefs.Node, error) {
	p := asNode(gn)
	rel := filepath.Join(p.rel, name)
	abs := b.abs(rel)

	if perm&ninewire.DMDIR != 0 {
		if err := os.Mkdir(abs, os.FileMode(perm&0777)|0700); err != nil {
			if os.IsExist(err) {
				return nil, ninefs.ErrExists
			}
			return nil, ninefs.ErrNotPermitted
		}
		return &node{rel: rel, isDir: true}, nil
	}

	f, err := os.OpenFile(abs, os.O_RDWR|os.O_CREATE|os.O_EXCL, os.FileMode(perm&0777)|0600)
	if err != nil {
		if os.IsExist(err) {
			return nil, ninefs.ErrExists
		}
		return nil, ninefs.ErrNotPermitted
	}
	return &node{rel: rel, file: f}, nil
}

func (b *Backend) Remove(ctx context.Context, gn ninefs.Node) error {
	n := asNode(gn)
	if err := os.Remove(b.abs(n.rel)); err != nil {
		if pe, ok := err.(*os.PathError); ok && strings.Contains(pe.Err.Error(), "not empty") {
			return ninefs.ErrNotEmpty
		}
		return ninefs.ErrNotPermitted
	}
	return nil
}

func (b *Backend) Clunk(ctx context.Context, gn ninefs.Node) error {
	n := asNode(gn)
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.file == nil {
		return nil
	}
	err := n.file.Close()
	n.file = nil
	if err != nil {
		log.Warn("hostfs: clunk close %s: %v", n.rel, err)
	}
	return nil
}

func statFromInfo(rel string, fi os.FileInfo) ninewire.Stat {
	mode := uint32(fi.Mode().Perm())
	if fi.IsDir() {
		mode |= ninewire.DMDIR
	}
	name := filepath.Base(rel)
	if rel == "" {
		name = "/"
	}
	return ninewire.Stat{
		Qid:    qidFor(rel, fi.IsDir()),
		Mode:   mode,
		Mtime:  uint32(fi.ModTime().Unix()),
		Length: uint64(fi.Size()),
		Name:   name,
		Uid:    "none",
		Gid:    "none",
		Muid:   "none",
	}
}

// qidFor derives a stable Qid.Path from rel. A real deployment would read
// the host inode number (as rclone's readDevice helpers do per-platform);
// this uses a path hash instead to stay portable across the reference
// transports this module targets, falling back exactly the way section
// 4.6 describes ("else from a hash of the canonical path").
func qidFor(rel string, isDir bool) ninewire.Qid {
	typ := uint8(ninewire.QTFILE)
	if isDir {
		typ = ninewire.QTDIR
	}

	h := fnv.New64a()
	fmt.Fprint(h, rel)
	return ninewire.Qid{Type: typ, Path: h.Sum64()}
}
