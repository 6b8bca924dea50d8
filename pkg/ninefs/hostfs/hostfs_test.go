package hostfs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sandia-minimega/ninepd/pkg/ninefs"
	"github.com/sandia-minimega/ninepd/pkg/ninewire"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "existing.txt"), []byte("seed"), 0644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	b := New(dir)
	root := b.Root(ctx)

	n, err := b.Walk(ctx, root, "existing.txt")
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if _, _, err := b.Open(ctx, n, ninewire.ORDWR); err != nil {
		t.Fatalf("open: %v", err)
	}

	buf := make([]byte, 16)
	read, err := b.Read(ctx, n, 0, buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf[:read]) != "seed" {
		t.Fatalf("got %q", buf[:read])
	}

	if _, err := b.Write(ctx, n, 4, []byte("-more"), "bob"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := b.Clunk(ctx, n); err != nil {
		t.Fatalf("clunk: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "existing.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "seed-more" {
		t.Fatalf("file contents = %q", got)
	}
}

func TestWalkMissing(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	b := New(dir)
	_, err := b.Walk(ctx, b.Root(ctx), "nope")
	if err != ninefs.ErrNoEntry {
		t.Fatalf("expected ErrNoEntry, got %v", err)
	}
}

func TestCreateAndRemove(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	b := New(dir)
	root := b.Root(ctx)

	f, err := b.Create(ctx, root, "new.txt", 0644, ninewire.ORDWR, "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "new.txt")); err != nil {
		t.Fatalf("file not on disk: %v", err)
	}

	if _, err := b.Create(ctx, root, "new.txt", 0644, 0, "alice"); err != ninefs.ErrExists {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	b.Clunk(ctx, f)
	if err := b.Remove(ctx, f); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "new.txt")); !os.IsNotExist(err) {
		t.Fatalf("file still exists after remove")
	}
}

func TestDirectoryListing(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a", "b", "c"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}

	ctx := context.Background()
	b := New(dir)
	root := b.Root(ctx)

	buf := make([]byte, 4096)
	n, err := b.Read(ctx, root, 0, buf)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}

	seen := map[string]bool{}
	off := 0
	for off < n {
		st, n2, err := ninewire.DecodeStat(buf[off:n])
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		seen[st.Name] = true
		off += n2
	}
	for _, name := range []string{"a", "b", "c"} {
		if !seen[name] {
			t.Fatalf("missing %s", name)
		}
	}
}
