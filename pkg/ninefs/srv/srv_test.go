package srv

import (
	"context"
	"strings"
	"testing"

	"github.com/sandia-minimega/ninepd/pkg/ninefs"
	"github.com/sandia-minimega/ninepd/pkg/ninefs/memfs"
	"github.com/sandia-minimega/ninepd/pkg/ninewire"
)

func TestWalkLocalService(t *testing.T) {
	ctx := context.Background()
	b := New()
	mem := memfs.New()
	b.RegisterLocal("echo", mem)

	if _, err := mem.Create(ctx, mem.Root(ctx), "greeting", 0644, 0, "a"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	svc, err := b.Walk(ctx, b.Root(ctx), "echo")
	if err != nil {
		t.Fatalf("walk echo: %v", err)
	}
	child, err := b.Walk(ctx, svc, "greeting")
	if err != nil {
		t.Fatalf("walk greeting: %v", err)
	}
	if _, err := b.Write(ctx, child, 0, []byte("hi"), "a"); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestWalkRemoteServiceYieldsDescriptor(t *testing.T) {
	ctx := context.Background()
	b := New()
	b.RegisterRemote("storage", Remote{Transport: "tcp", Address: "10.0.0.5:564", Priority: 1, Weight: 1})

	n, err := b.Walk(ctx, b.Root(ctx), "storage")
	if err != nil {
		t.Fatalf("walk storage: %v", err)
	}

	buf := make([]byte, 256)
	nr, err := b.Read(ctx, n, 0, buf)
	if err != nil {
		t.Fatalf("read descriptor: %v", err)
	}
	text := string(buf[:nr])
	if !strings.Contains(text, "564") {
		t.Fatalf("descriptor missing port: %q", text)
	}
}

func TestWalkUnknownIsNoEntry(t *testing.T) {
	ctx := context.Background()
	b := New()
	_, err := b.Walk(ctx, b.Root(ctx), "nope")
	if err != ninefs.ErrNoEntry {
		t.Fatalf("expected ErrNoEntry, got %v", err)
	}
}

func TestRootListing(t *testing.T) {
	ctx := context.Background()
	b := New()
	b.RegisterLocal("echo", memfs.New())
	b.RegisterRemote("storage", Remote{Transport: "tcp", Address: "h:1"})

	buf := make([]byte, 4096)
	n, err := b.Read(ctx, b.Root(ctx), 0, buf)
	if err != nil {
		t.Fatalf("read root: %v", err)
	}

	names := map[string]bool{}
	off := 0
	for off < n {
		st, n2, err := ninewire.DecodeStat(buf[off:n])
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		names[st.Name] = true
		off += n2
	}
	if !names["echo"] || !names["storage"] {
		t.Fatalf("missing registry entries: %v", names)
	}
}
