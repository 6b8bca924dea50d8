package ninewire

import (
	"reflect"
	"testing"
)

// For every message type, encoding then decoding must reproduce the
// original fields (section 8, property 1).
func TestRoundTripVersion(t *testing.T) {
	buf := make([]byte, DefaultMaxMessageSize)
	want := VersionReq{Msize: 8192, Version: "9P2000"}

	n, err := EncodeVersion(buf, Tversion, NOTAG, want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	hdr, err := DecodeHeader(buf[:n])
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	if hdr.Type != Tversion || hdr.Tag != NOTAG || int(hdr.Size) != n {
		t.Fatalf("bad header: %+v (n=%d)", hdr, n)
	}

	got, err := DecodeVersion(buf[:n])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestScenarioAVersionNegotiation(t *testing.T) {
	// Scenario A from section 8: literal byte layout.
	buf := make([]byte, 64)
	n, err := EncodeVersion(buf, Tversion, NOTAG, VersionReq{Msize: 8192, Version: "9P2000"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 19 {
		t.Fatalf("expected 19-byte Tversion, got %d", n)
	}
}

func TestRoundTripAttachWalkRread(t *testing.T) {
	buf := make([]byte, DefaultMaxMessageSize)

	if n, err := EncodeAttach(buf, 1, AttachReq{Fid: 0, Afid: NOFID, Uname: "u", Aname: ""}); err != nil {
		t.Fatal(err)
	} else if got, err := DecodeAttach(buf[:n]); err != nil || got != (AttachReq{Fid: 0, Afid: NOFID, Uname: "u", Aname: ""}) {
		t.Fatalf("attach round trip: %+v %v", got, err)
	}

	wreq := WalkReq{Fid: 0, Newfid: 1, Wname: []string{"hello"}}
	n, err := EncodeWalk(buf, 2, wreq)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeWalk(buf[:n])
	if err != nil || !reflect.DeepEqual(got, wreq) {
		t.Fatalf("walk round trip: %+v %v", got, err)
	}

	rrep := ReadRep{Data: []byte("world")}
	n, err = EncodeRread(buf, 4, rrep)
	if err != nil {
		t.Fatal(err)
	}
	gotr, err := DecodeRread(buf[:n])
	if err != nil || string(gotr.Data) != "world" {
		t.Fatalf("rread round trip: %+v %v", gotr, err)
	}
}

func TestRoundTripStat(t *testing.T) {
	buf := make([]byte, 512)
	s := Stat{
		Qid:    Qid{Type: 0, Version: 3, Path: 42},
		Mode:   0644,
		Length: 5,
		Name:   "hello",
		Uid:    "glenda",
		Gid:    "glenda",
		Muid:   "glenda",
	}

	n, err := EncodeStat(buf, s)
	if err != nil {
		t.Fatal(err)
	}
	got, consumed, err := DecodeStat(buf[:n])
	if err != nil {
		t.Fatal(err)
	}
	if consumed != n {
		t.Fatalf("consumed %d, wrote %d", consumed, n)
	}
	if got != s {
		t.Fatalf("got %+v, want %+v", got, s)
	}
}

func TestMalformedMessageShortBuffer(t *testing.T) {
	buf := []byte{1, 2, 3}
	if _, err := DecodeHeader(buf); err != ErrMalformedMessage {
		t.Fatalf("expected ErrMalformedMessage, got %v", err)
	}
}

func TestEncodeRejectsOverflow(t *testing.T) {
	buf := make([]byte, 10) // too small for a Tversion with a real string
	if _, err := EncodeVersion(buf, Tversion, NOTAG, VersionReq{Msize: 8192, Version: "9P2000"}); err != ErrMalformedMessage {
		t.Fatalf("expected overflow to be reported, got %v", err)
	}
}

func TestRerrorRoundTrip(t *testing.T) {
	buf := make([]byte, 256)
	n, err := EncodeError(buf, 6, ErrorRep{Ename: "unknown fid"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeError(buf[:n])
	if err != nil || got.Ename != "unknown fid" {
		t.Fatalf("got %+v, err %v", got, err)
	}
}
