package memfs

import (
	"context"
	"testing"

	"github.com/sandia-minimega/ninepd/pkg/ninefs"
	"github.com/sandia-minimega/ninepd/pkg/ninewire"
)

func TestCreateWalkReadWrite(t *testing.T) {
	ctx := context.Background()
	b := New()
	root := b.Root(ctx)

	f, err := b.Create(ctx, root, "hello", 0644, ninewire.OWRITE, "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := b.Write(ctx, f, 0, []byte("hi there"), "alice"); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := b.Walk(ctx, root, "hello")
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if got.Qid() != f.Qid() {
		t.Fatalf("walk returned a different node")
	}

	buf := make([]byte, 64)
	n, err := b.Read(ctx, got, 0, buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf[:n]) != "hi there" {
		t.Fatalf("read got %q", buf[:n])
	}
}

func TestWalkMissingIsNoEntry(t *testing.T) {
	ctx := context.Background()
	b := New()
	_, err := b.Walk(ctx, b.Root(ctx), "nope")
	if err != ninefs.ErrNoEntry {
		t.Fatalf("expected ErrNoEntry, got %v", err)
	}
}

func TestCreateDuplicateFails(t *testing.T) {
	ctx := context.Background()
	b := New()
	root := b.Root(ctx)
	if _, err := b.Create(ctx, root, "dup", 0644, 0, "a"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := b.Create(ctx, root, "dup", 0644, 0, "a"); err != ninefs.ErrExists {
		t.Fatalf("expected ErrExists, got %v", err)
	}
}

func TestDirectoryReadProducesStatRecords(t *testing.T) {
	ctx := context.Background()
	b := New()
	root := b.Root(ctx)

	names := []string{"a", "b", "c"}
	for _, n := range names {
		if _, err := b.Create(ctx, root, n, 0644, 0, "a"); err != nil {
			t.Fatalf("create %s: %v", n, err)
		}
	}

	var all []byte
	buf := make([]byte, 4096)
	n, err := b.Read(ctx, root, 0, buf)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	all = append(all, buf[:n]...)

	seen := map[string]bool{}
	off := 0
	for off < len(all) {
		st, n2, err := ninewire.DecodeStat(all[off:])
		if err != nil {
			t.Fatalf("decode stat at %d: %v", off, err)
		}
		seen[st.Name] = true
		off += n2
	}
	for _, n := range names {
		if !seen[n] {
			t.Fatalf("missing %s in directory listing", n)
		}
	}
}

func TestRemoveNonEmptyDirFails(t *testing.T) {
	ctx := context.Background()
	b := New()
	root := b.Root(ctx)
	dir, err := b.Create(ctx, root, "d", ninewire.DMDIR|0755, 0, "a")
	if err != nil {
		t.Fatalf("create dir: %v", err)
	}
	if _, err := b.Create(ctx, dir, "child", 0644, 0, "a"); err != nil {
		t.Fatalf("create child: %v", err)
	}
	if err := b.Remove(ctx, dir); err != ninefs.ErrNotEmpty {
		t.Fatalf("expected ErrNotEmpty, got %v", err)
	}
}
