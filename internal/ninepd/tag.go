package ninepd

import (
	"context"
	"sync"

	"github.com/sandia-minimega/ninepd/pkg/ninewire"
)

// inFlight is the tag table's record of one outstanding request: enough to
// let Flush suppress the eventual reply (section 5's flush ordering rule)
// and cancel a suspended backend operation (section 5's "Tflush is the
// only client-initiated cancellation").
type inFlight struct {
	typ     ninewire.MType
	flushed bool
	replied bool
	cancel  context.CancelFunc
}

// TagTable bounds the number of concurrent in-flight tags on a connection
// and lets Flush find and cancel one by tag (section 4.2).
type TagTable struct {
	mu      sync.Mutex
	inUse   map[uint16]*inFlight
	maxTags int
}

// NewTagTable creates a table that refuses more than maxTags simultaneous
// in-flight requests. maxTags <= 0 means unbounded.
func NewTagTable(maxTags int) *TagTable {
	return &TagTable{inUse: make(map[uint16]*inFlight), maxTags: maxTags}
}

// Begin records tag as in-flight for a request of type typ. Returns a
// KindProtocolViolation error if tag is already in flight (a client must
// not reuse a tag before its reply arrives), or a KindMessageTooLarge error
// if the table is full.
func (t *TagTable) Begin(tag uint16, typ ninewire.MType, cancel context.CancelFunc) (*inFlight, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.inUse[tag]; ok {
		return nil, ninewire.NewError(ninewire.KindProtocolViolation, "tag %d already in flight", tag)
	}
	if t.maxTags > 0 && len(t.inUse) >= t.maxTags {
		return nil, ninewire.NewError(ninewire.KindMessageTooLarge, "too many in-flight tags")
	}

	rec := &inFlight{typ: typ, cancel: cancel}
	t.inUse[tag] = rec
	return rec, nil
}

// Flush marks tag as flushed, reporting whether a reply for it has already
// been sent (in which case Rflush must still be sent, per section 5) and
// whether the tag was even found (an unknown tag is a no-op success —
// flush of a tag that already completed and was forgotten).
func (t *TagTable) Flush(tag uint16) (alreadyReplied bool, found bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.inUse[tag]
	if !ok {
		return false, false
	}
	rec.flushed = true
	if rec.cancel != nil {
		rec.cancel()
	}
	return rec.replied, true
}

// IsFlushed reports whether tag was flushed before its reply was sent;
// the dispatcher uses this right before sending a reply to decide whether
// to suppress it.
func (t *TagTable) IsFlushed(tag uint16) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.inUse[tag]
	return ok && rec.flushed
}

// MarkReplied records that tag's reply has been sent (or is about to be),
// so a later Flush call knows Rflush must still be sent unconditionally.
func (t *TagTable) MarkReplied(tag uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.inUse[tag]; ok {
		rec.replied = true
	}
}

// End removes tag from the table once its reply (or its suppression) has
// been fully handled.
func (t *TagTable) End(tag uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inUse, tag)
}

// Clear removes every tag, used on version renegotiation.
func (t *TagTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inUse = make(map[uint16]*inFlight)
}
