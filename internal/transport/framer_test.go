package transport

import (
	"bytes"
	"math/rand"
	"testing"
)

func buildFrame(body []byte) []byte {
	size := 4 + len(body)
	frame := make([]byte, size)
	frame[0] = byte(size)
	frame[1] = byte(size >> 8)
	frame[2] = byte(size >> 16)
	frame[3] = byte(size >> 24)
	copy(frame[4:], body)
	return frame
}

// TestFramerStreamingSafe is property 8: for any byte-level split of a
// correctly framed stream, the framer emits the same messages in order.
func TestFramerStreamingSafe(t *testing.T) {
	var stream []byte
	var want [][]byte
	for i := 0; i < 20; i++ {
		body := bytes.Repeat([]byte{byte(i)}, 3+i*7)
		frame := buildFrame(body)
		want = append(want, frame)
		stream = append(stream, frame...)
	}

	rng := rand.New(rand.NewSource(1))

	for trial := 0; trial < 50; trial++ {
		f := NewFramer(1 << 20)
		var got [][]byte
		onMsg := func(msg []byte) {
			cp := make([]byte, len(msg))
			copy(cp, msg)
			got = append(got, cp)
		}

		pos := 0
		for pos < len(stream) {
			chunk := 1 + rng.Intn(len(stream)-pos)
			if err := f.Feed(stream[pos:pos+chunk], onMsg); err != nil {
				t.Fatalf("feed error: %v", err)
			}
			pos += chunk
		}

		if len(got) != len(want) {
			t.Fatalf("trial %d: got %d messages, want %d", trial, len(got), len(want))
		}
		for i := range want {
			if !bytes.Equal(got[i], want[i]) {
				t.Fatalf("trial %d message %d mismatch", trial, i)
			}
		}
	}
}

func TestFramerRejectsUndersize(t *testing.T) {
	f := NewFramer(1024)
	bad := []byte{6, 0, 0, 0} // size=6, below MinMessageSize=7
	var called bool
	err := f.Feed(bad, func([]byte) { called = true })
	if err == nil {
		t.Fatal("expected size violation error")
	}
	if called {
		t.Fatal("onMessage should not fire for a rejected frame")
	}
}

func TestFramerRejectsOversize(t *testing.T) {
	f := NewFramer(16)
	bad := buildFrame(make([]byte, 100))
	var called bool
	if err := f.Feed(bad, func([]byte) { called = true }); err == nil {
		t.Fatal("expected size violation error")
	}
	if called {
		t.Fatal("onMessage should not fire for a rejected frame")
	}
}

func TestFramerRecoversAfterViolation(t *testing.T) {
	f := NewFramer(1024)

	bad := []byte{1, 0, 0, 0} // size=1, invalid
	good := buildFrame([]byte("hello!!"))

	var got [][]byte
	onMsg := func(msg []byte) {
		cp := append([]byte(nil), msg...)
		got = append(got, cp)
	}

	f.Feed(bad, onMsg)
	if err := f.Feed(good, onMsg); err != nil {
		t.Fatalf("feed after violation: %v", err)
	}

	if len(got) != 1 || !bytes.Equal(got[0], good) {
		t.Fatalf("framer did not recover: %v", got)
	}
}
