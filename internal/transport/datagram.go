package transport

import (
	"context"
	"sync"

	log "github.com/sandia-minimega/ninepd/pkg/ninelog"
)

// AtomicMedium is the duplex primitive a datagram-with-blocks transport
// (section 6: CoAP) sits on top of: each Exchange is one logical POST
// request/response carrying at most blockSize bytes. DatagramTransport
// reassembles a 9P message that doesn't fit in one block by chaining
// Exchange calls, matching "block-wise transfer is acceptable when the
// message exceeds the underlying MTU."
type AtomicMedium interface {
	// Exchange sends one block and returns the peer's next inbound block,
	// if any (nil when the peer has nothing queued).
	Exchange(block []byte) ([]byte, error)
	Close() error
}

// blockHeader: 1 byte "more" flag followed by the block payload. This is
// the transport's own internal segmentation (section 4.12's "segmentation
// is transport-internal" — the core 9P protocol has none).
const blockHeaderSize = 1

// DatagramTransport adapts an AtomicMedium into the Transport contract.
// Each delivered medium exchange is already a complete logical unit
// (section 4.3's framer carve-out for datagram-style transports): the
// framer is not used at all here, only the block-reassembly state machine.
type DatagramTransport struct {
	medium    AtomicMedium
	blockSize int

	recv func([]byte)

	mu      sync.Mutex
	pending []byte // partial message being reassembled from inbound blocks

	pollStop chan struct{}
	pollDone chan struct{}
}

// NewDatagramTransport wraps medium, segmenting outbound sends larger than
// blockSize and reassembling inbound blocks into complete messages.
func NewDatagramTransport(medium AtomicMedium, blockSize int) *DatagramTransport {
	return &DatagramTransport{
		medium:    medium,
		blockSize: blockSize,
		pollStop:  make(chan struct{}),
		pollDone:  make(chan struct{}),
	}
}

func (t *DatagramTransport) Start(recv func([]byte)) error {
	t.recv = recv

	go func() {
		defer close(t.pollDone)
		for {
			select {
			case <-t.pollStop:
				return
			default:
			}

			block, err := t.medium.Exchange(nil)
			if err != nil {
				log.Debug("datagram transport: poll exchange: %v", err)
				return
			}
			if block == nil {
				continue
			}
			t.deliver(block)
		}
	}()

	return nil
}

func (t *DatagramTransport) deliver(block []byte) {
	if len(block) < blockHeaderSize {
		log.Warn("datagram transport: short block")
		return
	}

	more := block[0] != 0
	payload := block[blockHeaderSize:]

	t.mu.Lock()
	t.pending = append(t.pending, payload...)
	if more {
		t.mu.Unlock()
		return
	}
	msg := t.pending
	t.pending = nil
	t.mu.Unlock()

	if len(msg) >= MinMessageSize {
		t.recv(msg)
	}
}

// Done returns the channel closed when the poll loop stops, whether from
// an explicit Stop or from the medium's own exchange failing.
func (t *DatagramTransport) Done() <-chan struct{} {
	return t.pollDone
}

func (t *DatagramTransport) Stop() error {
	close(t.pollStop)
	<-t.pollDone
	return t.medium.Close()
}

func (t *DatagramTransport) Send(ctx context.Context, msg []byte) error {
	for off := 0; off < len(msg) || off == 0; {
		end := off + t.blockSize
		more := true
		if end >= len(msg) {
			end = len(msg)
			more = false
		}

		block := make([]byte, blockHeaderSize+(end-off))
		if more {
			block[0] = 1
		}
		copy(block[blockHeaderSize:], msg[off:end])

		if _, err := t.medium.Exchange(block); err != nil {
			return err
		}

		off = end
		if !more {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

func (t *DatagramTransport) MTU() int {
	return t.blockSize - blockHeaderSize
}
