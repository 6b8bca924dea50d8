package nsfacade

import (
	"context"
	"sync"

	"github.com/sandia-minimega/ninepd/pkg/ninefs"
	"github.com/sandia-minimega/ninepd/pkg/ninewire"
)

// Handle is an open facade file: it tracks its own read/write offset the
// way an open 9P fid does, so repeated Read/Write calls behave like
// reading or writing a local file descriptor.
type Handle struct {
	mu      sync.Mutex
	backend ninefs.Backend
	node    ninefs.Node
	mode    uint8
	uname   string
	offset  uint64
}

// Read fills buf starting at the handle's current offset and advances it
// by the number of bytes returned.
func (h *Handle) Read(ctx context.Context, buf []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	n, err := h.backend.Read(ctx, h.node, h.offset, buf)
	h.offset += uint64(n)
	return n, err
}

// Write writes data at the handle's current offset and advances it by
// the number of bytes accepted.
func (h *Handle) Write(ctx context.Context, data []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	n, err := h.backend.Write(ctx, h.node, h.offset, data, h.uname)
	h.offset += uint64(n)
	return n, err
}

// Seek repositions the handle's offset, mirroring the rare callers that
// need random access rather than the normal sequential read/write loop.
func (h *Handle) Seek(offset uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.offset = offset
}

// Stat returns the handle's current stat record.
func (h *Handle) Stat(ctx context.Context) (ninewire.Stat, error) {
	return h.backend.Stat(ctx, h.node)
}

// Close clunks the underlying node. A Handle must not be used after
// Close.
func (h *Handle) Close(ctx context.Context) error {
	return h.backend.Clunk(ctx, h.node)
}
