package transport

import (
	"context"
	"io"
	"sync"

	log "github.com/sandia-minimega/ninepd/pkg/ninelog"
)

// StreamTransport adapts any io.ReadWriteCloser that delivers the 9P byte
// stream verbatim (TCP, UART, ziutek/telnet's *telnet.Conn, net.Pipe) into
// the Transport contract. Grounded on internal/ron's client read loop in
// the teacher: one receive goroutine decoding frames and handing them to a
// callback, and a send path serialized by a mutex so replies produced from
// multiple goroutines never interleave on the wire.
type StreamTransport struct {
	conn io.ReadWriteCloser
	mtu  int

	sendMu sync.Mutex

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewStreamTransport wraps conn. mtu bounds the largest inbound message
// the framer accepts and is the value MTU reports; 0 means 1 MiB. Send
// does not check it.
func NewStreamTransport(conn io.ReadWriteCloser, mtu int) *StreamTransport {
	return &StreamTransport{
		conn:    conn,
		mtu:     mtu,
		stopped: make(chan struct{}),
	}
}

func (t *StreamTransport) Start(recv func([]byte)) error {
	framer := NewFramer(t.effectiveMaxMessage())

	go func() {
		buf := make([]byte, 32*1024)
		for {
			n, err := t.conn.Read(buf)
			if n > 0 {
				if ferr := framer.Feed(buf[:n], recv); ferr != nil {
					log.Warn("stream transport: %v", ferr)
				}
			}
			if err != nil {
				if err != io.EOF {
					log.Debug("stream transport: read: %v", err)
				}
				t.Stop()
				return
			}
		}
	}()

	return nil
}

func (t *StreamTransport) effectiveMaxMessage() int {
	if t.mtu > 0 {
		return t.mtu
	}
	return 1 << 20
}

// Done returns the channel closed when the read loop stops, whether from
// an explicit Stop or from the peer ending the stream.
func (t *StreamTransport) Done() <-chan struct{} {
	return t.stopped
}

func (t *StreamTransport) Stop() error {
	var err error
	t.stopOnce.Do(func() {
		close(t.stopped)
		err = t.conn.Close()
	})
	return err
}

func (t *StreamTransport) Send(ctx context.Context, msg []byte) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	select {
	case <-t.stopped:
		return ErrClosed
	default:
	}

	_, err := t.conn.Write(msg)
	return err
}

func (t *StreamTransport) MTU() int {
	if t.mtu > 0 {
		return t.mtu
	}
	return 1 << 20
}

// ErrClosed is returned by Send after Stop has been called.
var ErrClosed = closedError{}

type closedError struct{}

func (closedError) Error() string { return "transport closed" }
