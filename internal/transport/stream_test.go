package transport

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestStreamTransportRoundTrip(t *testing.T) {
	a, b := net.Pipe()

	ta := NewStreamTransport(a, 0)
	tb := NewStreamTransport(b, 0)

	got := make(chan []byte, 1)
	if err := tb.Start(func(msg []byte) { got <- msg }); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := ta.Start(func([]byte) {}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer ta.Stop()
	defer tb.Stop()

	frame := buildFrame([]byte("payload"))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ta.Send(ctx, frame); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case msg := <-got:
		if string(msg) != string(frame) {
			t.Fatalf("got %v, want %v", msg, frame)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestStreamTransportSendAfterStop(t *testing.T) {
	a, b := net.Pipe()
	ta := NewStreamTransport(a, 0)
	tb := NewStreamTransport(b, 0)
	tb.Start(func([]byte) {})
	ta.Start(func([]byte) {})

	ta.Stop()

	ctx := context.Background()
	if err := ta.Send(ctx, []byte("x")); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	tb.Stop()
}
