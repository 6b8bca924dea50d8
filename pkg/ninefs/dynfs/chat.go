package dynfs

import (
	"context"
	"sync"
)

// chatTimeout is applied when the caller's context carries no deadline of
// its own, so a ChatRoom read never blocks forever even outside the
// server's own request-deadline plumbing.
var chatTimeout = DefaultChatTimeout

// ChatRoom is a broadcast pipe: every reader blocked on Producer receives
// the next value written by Consumer, or an empty-data EOF after timeout
// elapses with nothing new. Grounded on miniplumber's Pipe/Reader — a
// per-reader channel registered under a lock, closed via sync.Once — here
// specialized to the single-value-at-a-time discipline a status/chat
// dynamic file needs rather than miniplumber's arbitrary fan-out pipeline.
type ChatRoom struct {
	mu      sync.Mutex
	readers map[int]chan string
	nextID  int
}

// NewChatRoom creates an empty room.
func NewChatRoom() *ChatRoom {
	return &ChatRoom{readers: make(map[int]chan string)}
}

// Producer returns a dynfs Producer that blocks until the next Post, the
// context is canceled, or timeout elapses, matching section 5's "chat-room
// file whose read blocks until the next message arrives, subject to a
// configurable timeout". offset is ignored: each call consumes exactly one
// posted message, since there is no stable total order to resume from.
func (r *ChatRoom) Producer() Producer {
	return func(ctx context.Context, offset uint64, buf []byte) (int, error) {
		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, chatTimeout)
			defer cancel()
		}

		ch, id := r.subscribe()
		defer r.unsubscribe(id)

		select {
		case msg := <-ch:
			return copy(buf, msg), nil
		case <-ctx.Done():
			return 0, nil
		}
	}
}

// Consumer returns a dynfs Consumer that posts written bytes to every
// currently subscribed reader.
func (r *ChatRoom) Consumer() Consumer {
	return func(ctx context.Context, offset uint64, data []byte) (int, error) {
		r.Post(string(data))
		return len(data), nil
	}
}

// Post broadcasts msg to every reader currently blocked in Producer.
// Readers that are not currently waiting miss the message, matching a
// chat room's live-broadcast semantics (no backlog replay).
func (r *ChatRoom) Post(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.readers {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (r *ChatRoom) subscribe() (chan string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	ch := make(chan string, 1)
	r.readers[id] = ch
	return ch, id
}

func (r *ChatRoom) unsubscribe(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.readers, id)
}
