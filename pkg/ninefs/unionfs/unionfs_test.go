package unionfs

import (
	"context"
	"testing"

	"github.com/sandia-minimega/ninepd/pkg/ninefs"
	"github.com/sandia-minimega/ninepd/pkg/ninefs/memfs"
	"github.com/sandia-minimega/ninepd/pkg/ninewire"
)

func TestRootListsMountPoints(t *testing.T) {
	ctx := context.Background()
	u := New()
	u.AddMount("srv", memfs.New())
	u.AddMount("tmp", memfs.New())

	root := u.Root(ctx)
	buf := make([]byte, 4096)
	n, err := u.Read(ctx, root, 0, buf)
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
	if !names["srv"] || !names["tmp"] {
		t.Fatalf("missing mount entries: %v", names)
	}
}

func TestWalkIntoMountDelegates(t *testing.T) {
	ctx := context.Background()
	u := New()
	mem := memfs.New()
	u.AddMount("srv", mem)

	if _, err := mem.Create(ctx, mem.Root(ctx), "hello", 0644, 0, "a"); err != nil {
		t.Fatalf("seed create: %v", err)
	}

	srvNode, err := u.Walk(ctx, u.Root(ctx), "srv")
	if err != nil {
		t.Fatalf("walk srv: %v", err)
	}
	child, err := u.Walk(ctx, srvNode, "hello")
	if err != nil {
		t.Fatalf("walk hello: %v", err)
	}
	if _, err := u.Write(ctx, child, 0, []byte("x"), "a"); err != nil {
		t.Fatalf("write via union: %v", err)
	}
}

func TestWalkUnknownTopLevelIsNoEntry(t *testing.T) {
	ctx := context.Background()
	u := New()
	u.AddMount("srv", memfs.New())
	_, err := u.Walk(ctx, u.Root(ctx), "nope")
	if err != ninefs.ErrNoEntry {
		t.Fatalf("expected ErrNoEntry, got %v", err)
	}
}
