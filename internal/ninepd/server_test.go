package ninepd

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sandia-minimega/ninepd/pkg/ninefs/memfs"
	"github.com/sandia-minimega/ninepd/pkg/ninewire"
)

// fakeTransport is a synchronous, in-process stand-in for a real
// transport: Send pushes onto a buffered channel the test reads from,
// and the test drives inbound delivery directly by calling the stored
// recv callback, rather than running a real framer over bytes.
type fakeTransport struct {
	recv     func([]byte)
	replies  chan []byte
	stopOnce sync.Once
	stopped  chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{replies: make(chan []byte, 16), stopped: make(chan struct{})}
}

func (t *fakeTransport) Start(recv func([]byte)) error {
	t.recv = recv
	return nil
}

func (t *fakeTransport) Stop() error {
	t.stopOnce.Do(func() { close(t.stopped) })
	return nil
}

func (t *fakeTransport) Done() <-chan struct{} { return t.stopped }

func (t *fakeTransport) Send(ctx context.Context, msg []byte) error {
	cp := append([]byte(nil), msg...)
	t.replies <- cp
	return nil
}

func (t *fakeTransport) MTU() int { return int(ninewire.DefaultMaxMessageSize) }

func (t *fakeTransport) deliver(msg []byte) {
	t.recv(msg)
}

func (t *fakeTransport) waitReply(t2 *testing.T) []byte {
	t2.Helper()
	select {
	case r := <-t.replies:
		return r
	case <-time.After(time.Second):
		t2.Fatal("timed out waiting for reply")
		return nil
	}
}

// newTestConn starts serving in the background, matching how a real
// listener drives Conn: Serve now blocks until the transport stops, so a
// synchronous call here would never return.
func newTestConn() (*Conn, *fakeTransport) {
	tr := newFakeTransport()
	cfg := Config{Root: memfs.New()}
	conn := NewConn(cfg, tr)
	go conn.Serve()
	return conn, tr
}

func encodeVersion(tag uint16, msize uint32, version string) []byte {
	buf := make([]byte, ninewire.HeaderSize+4+2+len(version))
	n, err := ninewire.EncodeVersion(buf, ninewire.Tversion, tag, ninewire.VersionReq{Msize: msize, Version: version})
	if err != nil {
		panic(err)
	}
	return buf[:n]
}

func TestVersionNegotiation(t *testing.T) {
	_, tr := newTestConn()

	tr.deliver(encodeVersion(ninewire.NOTAG, 8192, "9P2000"))
	reply := tr.waitReply(t)

	hdr, err := ninewire.DecodeHeader(reply)
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	if hdr.Type != ninewire.Rversion {
		t.Fatalf("expected Rversion, got %s", hdr.Type)
	}
	rep, err := ninewire.DecodeVersion(reply)
	if err != nil {
		t.Fatalf("decode version: %v", err)
	}
	if rep.Version != "9P2000" {
		t.Fatalf("got version %q", rep.Version)
	}
}

func TestAttachThenWalkMissingIsRerror(t *testing.T) {
	_, tr := newTestConn()

	tr.deliver(encodeVersion(ninewire.NOTAG, 8192, "9P2000"))
	tr.waitReply(t)

	attachBuf := make([]byte, 256)
	n, err := ninewire.EncodeAttach(attachBuf, 1, ninewire.AttachReq{Fid: 1, Afid: ninewire.NOFID, Uname: "alice", Aname: ""})
	if err != nil {
		t.Fatal(err)
	}
	tr.deliver(attachBuf[:n])
	reply := tr.waitReply(t)
	if hdr, _ := ninewire.DecodeHeader(reply); hdr.Type != ninewire.Rattach {
		t.Fatalf("expected Rattach, got %s", hdr.Type)
	}

	// Use the attached fid's backend via a second in-process attach is
	// awkward without exposing internals, so drive creation through the
	// wire: walk to a file that doesn't exist yet should fail with
	// NoEntry, proving dispatch reaches the backend.
	walkBuf := make([]byte, 256)
	n, err = ninewire.EncodeWalk(walkBuf, 2, ninewire.WalkReq{Fid: 1, Newfid: 2, Wname: []string{"nope"}})
	if err != nil {
		t.Fatal(err)
	}
	tr.deliver(walkBuf[:n])
	reply = tr.waitReply(t)
	hdr, _ := ninewire.DecodeHeader(reply)
	if hdr.Type != ninewire.Rerror {
		t.Fatalf("expected Rerror for missing file, got %s", hdr.Type)
	}
}

func TestFullRoundTripOverWire(t *testing.T) {
	_, tr := newTestConn()

	tr.deliver(encodeVersion(ninewire.NOTAG, 8192, "9P2000"))
	tr.waitReply(t)

	attachBuf := make([]byte, 256)
	n, err := ninewire.EncodeAttach(attachBuf, 1, ninewire.AttachReq{Fid: 1, Afid: ninewire.NOFID, Uname: "alice", Aname: ""})
	if err != nil {
		t.Fatal(err)
	}
	tr.deliver(attachBuf[:n])
	if hdr, _ := ninewire.DecodeHeader(tr.waitReply(t)); hdr.Type != ninewire.Rattach {
		t.Fatalf("expected Rattach, got %s", hdr.Type)
	}

	createBuf := make([]byte, 256)
	n, err = ninewire.EncodeCreate(createBuf, 2, ninewire.CreateReq{Fid: 1, Name: "greeting", Perm: 0644, Mode: ninewire.OWRITE})
	if err != nil {
		t.Fatal(err)
	}
	tr.deliver(createBuf[:n])
	reply := tr.waitReply(t)
	if hdr, _ := ninewire.DecodeHeader(reply); hdr.Type != ninewire.Rcreate {
		t.Fatalf("expected Rcreate, got %s", hdr.Type)
	}

	writeBuf := make([]byte, 256)
	n, err = ninewire.EncodeWrite(writeBuf, 3, ninewire.WriteReq{Fid: 1, Offset: 0, Data: []byte("hello wire")})
	if err != nil {
		t.Fatal(err)
	}
	tr.deliver(writeBuf[:n])
	reply = tr.waitReply(t)
	hdr, _ := ninewire.DecodeHeader(reply)
	if hdr.Type != ninewire.Rwrite {
		t.Fatalf("expected Rwrite, got %s", hdr.Type)
	}
	wrep, err := ninewire.DecodeRwrite(reply)
	if err != nil {
		t.Fatal(err)
	}
	if wrep.Count != uint32(len("hello wire")) {
		t.Fatalf("wrote %d bytes, want %d", wrep.Count, len("hello wire"))
	}

	statBuf := make([]byte, 32)
	n, err = ninewire.EncodeStatReq(statBuf, 4, ninewire.StatReq{Fid: 1})
	if err != nil {
		t.Fatal(err)
	}
	tr.deliver(statBuf[:n])
	reply = tr.waitReply(t)
	if hdr, _ := ninewire.DecodeHeader(reply); hdr.Type != ninewire.Rstat {
		t.Fatalf("expected Rstat, got %s", hdr.Type)
	}
	srep, err := ninewire.DecodeRstat(reply)
	if err != nil {
		t.Fatal(err)
	}
	if srep.Stat.Length != uint64(len("hello wire")) {
		t.Fatalf("stat length %d, want %d", srep.Stat.Length, len("hello wire"))
	}

	readBuf := make([]byte, 32)
	n, err = ninewire.EncodeRead(readBuf, 5, ninewire.ReadReq{Fid: 1, Offset: 0, Count: 64})
	if err != nil {
		t.Fatal(err)
	}
	tr.deliver(readBuf[:n])
	reply = tr.waitReply(t)
	if hdr, _ := ninewire.DecodeHeader(reply); hdr.Type != ninewire.Rread {
		t.Fatalf("expected Rread, got %s", hdr.Type)
	}
	rrep, err := ninewire.DecodeRread(reply)
	if err != nil {
		t.Fatal(err)
	}
	if string(rrep.Data) != "hello wire" {
		t.Fatalf("read %q, want %q", rrep.Data, "hello wire")
	}

	clunkBuf := make([]byte, 32)
	n, err = ninewire.EncodeClunk(clunkBuf, 6, ninewire.ClunkReq{Fid: 1})
	if err != nil {
		t.Fatal(err)
	}
	tr.deliver(clunkBuf[:n])
	reply = tr.waitReply(t)
	if hdr, _ := ninewire.DecodeHeader(reply); hdr.Type != ninewire.Rclunk {
		t.Fatalf("expected Rclunk, got %s", hdr.Type)
	}

	// The fid is gone now; a second clunk of the same number must fail.
	tr.deliver(clunkBuf[:n])
	reply = tr.waitReply(t)
	if hdr, _ := ninewire.DecodeHeader(reply); hdr.Type != ninewire.Rerror {
		t.Fatalf("expected Rerror for clunk of an already-clunked fid, got %s", hdr.Type)
	}
}

func TestFlushOfIdleTagRepliesRflush(t *testing.T) {
	_, tr := newTestConn()

	tr.deliver(encodeVersion(ninewire.NOTAG, 8192, "9P2000"))
	tr.waitReply(t)

	flushBuf := make([]byte, 32)
	n, err := ninewire.EncodeFlush(flushBuf, 99, ninewire.FlushReq{Oldtag: 42})
	if err != nil {
		t.Fatal(err)
	}
	tr.deliver(flushBuf[:n])
	reply := tr.waitReply(t)
	hdr, _ := ninewire.DecodeHeader(reply)
	if hdr.Type != ninewire.Rflush {
		t.Fatalf("expected Rflush, got %s", hdr.Type)
	}
}
