package dynfs

import (
	"context"
	"testing"
	"time"

	"github.com/sandia-minimega/ninepd/pkg/ninefs"
	"github.com/sandia-minimega/ninepd/pkg/ninewire"
)

func TestWalkExactEntry(t *testing.T) {
	b := New()
	var served string
	b.Register(Entry{
		Path: "stats/foo",
		Mode: 0444,
		Producer: func(ctx context.Context, offset uint64, buf []byte) (int, error) {
			served = "read"
			return copy(buf, "ok"), nil
		},
	})

	ctx := context.Background()
	root := b.Root(ctx)
	stats, err := b.Walk(ctx, root, "stats")
	if err != nil {
		t.Fatalf("walk stats: %v", err)
	}
	foo, err := b.Walk(ctx, stats, "foo")
	if err != nil {
		t.Fatalf("walk foo: %v", err)
	}

	buf := make([]byte, 16)
	n, err := b.Read(ctx, foo, 0, buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf[:n]) != "ok" || served != "read" {
		t.Fatalf("unexpected read result %q", buf[:n])
	}
}

func TestWalkMissingPrefix(t *testing.T) {
	b := New()
	b.Register(Entry{Path: "a/b", Mode: 0444})

	ctx := context.Background()
	_, err := b.Walk(ctx, b.Root(ctx), "nonexistent")
	if err != ninefs.ErrNoEntry {
		t.Fatalf("expected ErrNoEntry, got %v", err)
	}
}

func TestDirectoryListsChildren(t *testing.T) {
	b := New()
	b.Register(Entry{Path: "a/one", Mode: 0444})
	b.Register(Entry{Path: "a/two", Mode: 0444})

	ctx := context.Background()
	a, err := b.Walk(ctx, b.Root(ctx), "a")
	if err != nil {
		t.Fatalf("walk a: %v", err)
	}

	buf := make([]byte, 4096)
	n, err := b.Read(ctx, a, 0, buf)
	if err != nil {
		t.Fatalf("readdir: %v", err)
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
	if !names["one"] || !names["two"] {
		t.Fatalf("missing children: %v", names)
	}
}

func TestChatRoomBlocksAndTimesOut(t *testing.T) {
	room := NewChatRoom()
	producer := room.Producer()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	n, err := producer(ctx, 0, make([]byte, 16))
	if err != nil {
		t.Fatalf("producer: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected EOF (0 bytes), got %d", n)
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Fatalf("returned before timeout elapsed")
	}
}

func TestChatRoomDeliversPost(t *testing.T) {
	room := NewChatRoom()
	producer := room.Producer()

	done := make(chan struct{})
	var n int
	var buf = make([]byte, 16)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		var err error
		n, err = producer(ctx, 0, buf)
		if err != nil {
			t.Error(err)
		}
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	room.Post("hello")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for post delivery")
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("got %q", buf[:n])
	}
}
