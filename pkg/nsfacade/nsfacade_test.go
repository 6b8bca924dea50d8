package nsfacade

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandia-minimega/ninepd/pkg/ninefs"
	"github.com/sandia-minimega/ninepd/pkg/ninefs/memfs"
	"github.com/sandia-minimega/ninepd/pkg/ninewire"
)

func TestOpenCreateWriteReadViaMount(t *testing.T) {
	ctx := context.Background()
	f := New("alice")
	f.Mount("srv/store", memfs.New())

	h, err := f.Create(ctx, "srv/store", "greeting", 0644, ninewire.OWRITE)
	require.NoError(t, err)
	_, err = h.Write(ctx, []byte("hello facade"))
	require.NoError(t, err)
	require.NoError(t, h.Close(ctx))

	rh, err := f.Open(ctx, "srv/store/greeting", ninewire.OREAD)
	require.NoError(t, err)
	buf := make([]byte, 64)
	n, err := rh.Read(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello facade", string(buf[:n]))
}

func TestOpenUnmountedPathIsNoEntry(t *testing.T) {
	f := New("alice")
	_, err := f.Open(context.Background(), "nowhere/file", ninewire.OREAD)
	if err != ninefs.ErrNoEntry {
		t.Fatalf("expected ErrNoEntry, got %v", err)
	}
}

func TestForkSharesThenDivergesOnMutation(t *testing.T) {
	parent := New("alice")
	parent.Mount("a", memfs.New())

	child := parent.Fork()
	child.Mount("b", memfs.New())

	if _, _, err := parent.resolve("b/x"); err != ninefs.ErrNoEntry {
		t.Fatalf("parent should not see child's mount, got %v", err)
	}
	if _, _, err := child.resolve("a/x"); err != nil {
		t.Fatalf("child should still see parent's pre-fork mount: %v", err)
	}
	if _, _, err := child.resolve("b/x"); err != nil {
		t.Fatalf("child should see its own mount: %v", err)
	}
}

func TestLongestPrefixWins(t *testing.T) {
	ctx := context.Background()
	f := New("alice")
	outer := memfs.New()
	inner := memfs.New()
	f.Mount("srv", outer)
	f.Mount("srv/special", inner)

	be, _, err := f.resolve("srv/special/thing")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if be != ninefs.Backend(inner) {
		t.Fatalf("expected longest-prefix mount to win")
	}
}

func TestClearRemovesAllMounts(t *testing.T) {
	f := New("alice")
	f.Mount("a", memfs.New())
	f.Mount("b", memfs.New())
	f.Clear()

	if _, _, err := f.resolve("a"); err != ninefs.ErrNoEntry {
		t.Fatalf("expected ErrNoEntry after Clear, got %v", err)
	}
}
