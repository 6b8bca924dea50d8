// Package ninefs defines the filesystem capability interface every backend
// (memfs, hostfs, dynfs, unionfs, srv) implements, and the shared errors the
// server maps onto Rerror strings. Nodes are backend-owned: the server
// never frees them, and a node handed back from walk/create transfers
// navigation ownership to the caller's fid until clunk.
package ninefs

import (
	"context"

	"github.com/sandia-minimega/ninepd/pkg/ninewire"
)

// Node is the opaque handle a backend hands back from get_root, walk, and
// create. Backends define their own concrete type; the server and other
// backends (notably unionfs) only ever hold this interface.
type Node interface {
	// Qid returns the node's persistent identity.
	Qid() ninewire.Qid
	// Name returns the node's name as it appears in its parent's listing.
	// The root node's name is backend-defined and not used for lookup.
	Name() string
}

// Backend is the capability interface of section 4.4: the operations the
// server invokes to satisfy 9P requests, independent of how the backend
// stores or synthesizes its tree.
type Backend interface {
	// Root returns the backend's root node. Never fails.
	Root(ctx context.Context) Node

	// Walk resolves name as a single path component under parent.
	// Returns ErrNotDir if parent is not a directory, ErrNoEntry if no
	// child named name exists.
	Walk(ctx context.Context, parent Node, name string) (Node, error)

	// Open validates that node may be opened in mode (one of the O*
	// flags in ninewire) and returns the qid to report back plus a
	// suggested iounit (0 means "use the negotiated message size").
	Open(ctx context.Context, node Node, mode uint8) (ninewire.Qid, uint32, error)

	// Read copies up to len(buf) bytes starting at offset into buf and
	// returns the number of bytes copied (0 means EOF). For directories,
	// buf is filled with whole, consecutive encoded Stat records per the
	// directory-read semantics of section 4.4.
	Read(ctx context.Context, node Node, offset uint64, buf []byte) (int, error)

	// Write accepts up to len(data) bytes at offset, attributed to uname,
	// and returns the number of bytes actually accepted.
	Write(ctx context.Context, node Node, offset uint64, data []byte, uname string) (int, error)

	// Stat encodes node's current metadata.
	Stat(ctx context.Context, node Node) (ninewire.Stat, error)

	// Wstat applies the non-"don't touch" fields of stat to node.
	Wstat(ctx context.Context, node Node, stat ninewire.Stat) error

	// Create makes a new child of parent (which must be a directory)
	// named name, with the given permission bits and initial open mode,
	// attributed to uname, and returns the new node already bound open.
	Create(ctx context.Context, parent Node, name string, perm uint32, mode uint8, uname string) (Node, error)

	// Remove deletes node. The fid owning node is released by the
	// caller regardless of the returned error (section 4.10).
	Remove(ctx context.Context, node Node) error

	// Clunk releases any backend-side resources (host file handles,
	// reference counts) associated with node. Best-effort: errors are
	// logged by the caller, never surfaced to the client.
	Clunk(ctx context.Context, node Node) error
}
