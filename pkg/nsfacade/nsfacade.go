// Package nsfacade implements the per-task namespace facade (section
// 4.13): a local open/read/write/close API over the same ninefs.Backend
// capability interface the wire protocol uses, so a program on the same
// host can reach a filesystem backend without a 9P round trip. Mount
// resolution is longest-prefix match, grounded on unionfs's mount-point
// matching (pkg/ninefs/unionfs), generalized here from Node-keyed
// delegation to string-path resolution since a facade operates on logical
// paths rather than walked fid chains.
package nsfacade

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/sandia-minimega/ninepd/pkg/ninefs"
	"github.com/sandia-minimega/ninepd/pkg/ninewire"
)

// entry binds a path prefix ("" denotes the facade's own root) to a
// backend. Prefixes never carry leading or trailing slashes.
type entry struct {
	prefix  string
	backend ninefs.Backend
}

// Facade is a per-task mount table. The zero value is an empty table with
// an empty Uname; New sets Uname. Facade values are forked, not shared: Fork returns a new
// Facade whose table is copy-on-write — it shares the parent's entry
// slice until either side mutates its own table, at which point that
// side clones the slice before modifying it (section 4.13: "forking a
// task shares the parent's table until the child mutates it").
type Facade struct {
	mu      sync.Mutex
	entries []entry

	// Uname identifies the task owning this facade, threaded through to
	// Backend.Write/Create the same way an attached fid's uname is.
	Uname string
}

// New creates a facade with an empty mount table.
func New(uname string) *Facade {
	return &Facade{Uname: uname}
}

// Mount inserts be at prefix, replacing any existing mount at the same
// prefix. The table is rebuilt as a new slice so a concurrent Fork taken
// before this call keeps seeing the pre-mutation table.
func (f *Facade) Mount(prefix string, be ninefs.Backend) {
	prefix = trimSlashes(prefix)

	f.mu.Lock()
	defer f.mu.Unlock()

	next := make([]entry, 0, len(f.entries)+1)
	for _, e := range f.entries {
		if e.prefix != prefix {
			next = append(next, e)
		}
	}
	next = append(next, entry{prefix: prefix, backend: be})
	sort.Slice(next, func(i, j int) bool { return len(next[i].prefix) > len(next[j].prefix) })
	f.entries = next
}

// Unmount removes the mount at prefix, if any.
func (f *Facade) Unmount(prefix string) {
	prefix = trimSlashes(prefix)

	f.mu.Lock()
	defer f.mu.Unlock()

	next := make([]entry, 0, len(f.entries))
	for _, e := range f.entries {
		if e.prefix != prefix {
			next = append(next, e)
		}
	}
	f.entries = next
}

// Clear empties the mount table.
func (f *Facade) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = nil
}

// Fork returns a new Facade that shares this one's mount table until
// either facade mutates its own copy. The returned facade inherits
// Uname; callers that want a different task identity should set it on
// the result.
func (f *Facade) Fork() *Facade {
	f.mu.Lock()
	defer f.mu.Unlock()

	return &Facade{entries: f.entries, Uname: f.Uname}
}

func trimSlashes(p string) string {
	return strings.Trim(p, "/")
}

// resolve finds the longest-prefix mount covering path and returns the
// backend plus the path components still to be walked under that
// mount's root.
func (f *Facade) resolve(path string) (ninefs.Backend, []string, error) {
	clean := trimSlashes(path)

	f.mu.Lock()
	entries := f.entries
	f.mu.Unlock()

	for _, e := range entries {
		if !coveredBy(e.prefix, clean) {
			continue
		}
		rest := strings.TrimPrefix(clean, e.prefix)
		rest = trimSlashes(rest)
		var parts []string
		if rest != "" {
			parts = strings.Split(rest, "/")
		}
		return e.backend, parts, nil
	}
	return nil, nil, ninefs.ErrNoEntry
}

// coveredBy reports whether prefix is a path-boundary-respecting prefix
// of full: prefix "" covers everything, "srv" covers "srv" and
// "srv/chat" but not "srvx".
func coveredBy(prefix, full string) bool {
	if prefix == "" {
		return true
	}
	if !strings.HasPrefix(full, prefix) {
		return false
	}
	return len(full) == len(prefix) || full[len(prefix)] == '/'
}

// walk resolves path down to a node by calling Root then Walk once per
// remaining path component.
func (f *Facade) walk(ctx context.Context, path string) (ninefs.Backend, ninefs.Node, error) {
	be, parts, err := f.resolve(path)
	if err != nil {
		return nil, nil, err
	}

	cur := be.Root(ctx)
	for _, part := range parts {
		next, err := be.Walk(ctx, cur, part)
		if err != nil {
			return nil, nil, err
		}
		cur = next
	}
	return be, cur, nil
}

// Open resolves path and opens it for mode, returning a Handle for
// subsequent Read/Write/Close calls.
func (f *Facade) Open(ctx context.Context, path string, mode uint8) (*Handle, error) {
	be, node, err := f.walk(ctx, path)
	if err != nil {
		return nil, err
	}
	if _, _, err := be.Open(ctx, node, mode); err != nil {
		return nil, err
	}
	return &Handle{backend: be, node: node, mode: mode, uname: f.Uname}, nil
}

// Create resolves dir, creates name under it with the given permissions
// and open mode, and returns a Handle to the new entry.
func (f *Facade) Create(ctx context.Context, dir, name string, perm uint32, mode uint8) (*Handle, error) {
	be, parent, err := f.walk(ctx, dir)
	if err != nil {
		return nil, err
	}
	child, err := be.Create(ctx, parent, name, perm, mode, f.Uname)
	if err != nil {
		return nil, err
	}
	return &Handle{backend: be, node: child, mode: mode, uname: f.Uname}, nil
}

// Remove resolves path and removes it.
func (f *Facade) Remove(ctx context.Context, path string) error {
	be, node, err := f.walk(ctx, path)
	if err != nil {
		return err
	}
	return be.Remove(ctx, node)
}

// Stat resolves path and returns its stat record.
func (f *Facade) Stat(ctx context.Context, path string) (ninewire.Stat, error) {
	be, node, err := f.walk(ctx, path)
	if err != nil {
		return ninewire.Stat{}, err
	}
	return be.Stat(ctx, node)
}
