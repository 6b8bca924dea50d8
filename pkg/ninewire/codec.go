package ninewire

import "encoding/binary"

// The low-level Put/Get helpers below are the only primitives that touch a
// byte slice directly; every message encoder/decoder is built from them.
// They never allocate and never grow the supplied slice. Every get helper,
// and putString, putBytes, putQid and putStat, reports a run past the end
// of buf as ErrMalformedMessage rather than panicking, so a corrupt peer
// can never crash the decoder. The fixed-width putUint8/16/32/64 helpers do
// not check; encoders check the room before calling them.

func putUint16(buf []byte, off int, v uint16) int {
	binary.LittleEndian.PutUint16(buf[off:], v)
	return off + 2
}

func putUint32(buf []byte, off int, v uint32) int {
	binary.LittleEndian.PutUint32(buf[off:], v)
	return off + 4
}

func putUint64(buf []byte, off int, v uint64) int {
	binary.LittleEndian.PutUint64(buf[off:], v)
	return off + 8
}

func putUint8(buf []byte, off int, v uint8) int {
	buf[off] = v
	return off + 1
}

func putString(buf []byte, off int, s string) (int, error) {
	if off+2+len(s) > len(buf) {
		return off, ErrMalformedMessage
	}
	off = putUint16(buf, off, uint16(len(s)))
	off += copy(buf[off:], s)
	return off, nil
}

func putBytes(buf []byte, off int, data []byte) (int, error) {
	if off+len(data) > len(buf) {
		return off, ErrMalformedMessage
	}
	off += copy(buf[off:], data)
	return off, nil
}

func putQid(buf []byte, off int, q Qid) (int, error) {
	if off+QidSize > len(buf) {
		return off, ErrMalformedMessage
	}
	off = putUint8(buf, off, q.Type)
	off = putUint32(buf, off, q.Version)
	off = putUint64(buf, off, q.Path)
	return off, nil
}

func needUint(buf []byte, off, n int) error {
	if off+n > len(buf) {
		return ErrMalformedMessage
	}
	return nil
}

func getUint8(buf []byte, off int) (uint8, int, error) {
	if err := needUint(buf, off, 1); err != nil {
		return 0, off, err
	}
	return buf[off], off + 1, nil
}

func getUint16(buf []byte, off int) (uint16, int, error) {
	if err := needUint(buf, off, 2); err != nil {
		return 0, off, err
	}
	return binary.LittleEndian.Uint16(buf[off:]), off + 2, nil
}

func getUint32(buf []byte, off int) (uint32, int, error) {
	if err := needUint(buf, off, 4); err != nil {
		return 0, off, err
	}
	return binary.LittleEndian.Uint32(buf[off:]), off + 4, nil
}

func getUint64(buf []byte, off int) (uint64, int, error) {
	if err := needUint(buf, off, 8); err != nil {
		return 0, off, err
	}
	return binary.LittleEndian.Uint64(buf[off:]), off + 8, nil
}

func getString(buf []byte, off int) (string, int, error) {
	n, off, err := getUint16(buf, off)
	if err != nil {
		return "", off, err
	}
	if err := needUint(buf, off, int(n)); err != nil {
		return "", off, err
	}
	s := string(buf[off : off+int(n)])
	return s, off + int(n), nil
}

func getBytes(buf []byte, off, n int) ([]byte, int, error) {
	if err := needUint(buf, off, n); err != nil {
		return nil, off, err
	}
	// copy out: the caller's frame buffer is reused for the next message,
	// so decoded payloads must not alias it.
	data := make([]byte, n)
	copy(data, buf[off:off+n])
	return data, off + n, nil
}

func getQid(buf []byte, off int) (Qid, int, error) {
	if err := needUint(buf, off, QidSize); err != nil {
		return Qid{}, off, err
	}
	var q Qid
	q.Type, off, _ = getUint8(buf, off)
	q.Version, off, _ = getUint32(buf, off)
	q.Path, off, _ = getUint64(buf, off)
	return q, off, nil
}

// EncodedStatSize returns the full wire size of a Stat record, including
// its own 2-byte size prefix.
func EncodedStatSize(s Stat) int {
	return 2 + 2 + 4 + QidSize + 4 + 4 + 4 + 8 + (2 + len(s.Name)) + (2 + len(s.Uid)) + (2 + len(s.Gid)) + (2 + len(s.Muid))
}

func putStat(buf []byte, off int, s Stat) (int, error) {
	size := EncodedStatSize(s) - 2 // size field excludes itself
	if err := needUint(buf, off, 2+size); err != nil {
		return off, err
	}
	off = putUint16(buf, off, uint16(size))
	off = putUint16(buf, off, s.Type)
	off = putUint32(buf, off, s.Dev)
	var err error
	if off, err = putQid(buf, off, s.Qid); err != nil {
		return off, err
	}
	off = putUint32(buf, off, s.Mode)
	off = putUint32(buf, off, s.Atime)
	off = putUint32(buf, off, s.Mtime)
	off = putUint64(buf, off, s.Length)
	if off, err = putString(buf, off, s.Name); err != nil {
		return off, err
	}
	if off, err = putString(buf, off, s.Uid); err != nil {
		return off, err
	}
	if off, err = putString(buf, off, s.Gid); err != nil {
		return off, err
	}
	if off, err = putString(buf, off, s.Muid); err != nil {
		return off, err
	}
	return off, nil
}

// getStat decodes one length-prefixed Stat record starting at off. The
// returned offset is positioned just past the record, so callers enumerating
// a directory's raw bytes can call this repeatedly (section 4.4).
func getStat(buf []byte, off int) (Stat, int, error) {
	size, dataOff, err := getUint16(buf, off)
	if err != nil {
		return Stat{}, off, err
	}
	end := dataOff + int(size)
	if err := needUint(buf, dataOff, int(size)); err != nil {
		return Stat{}, off, err
	}

	var s Stat
	p := dataOff
	s.Type, p, _ = getUint16(buf, p)
	s.Dev, p, _ = getUint32(buf, p)
	if s.Qid, p, err = getQid(buf, p); err != nil {
		return Stat{}, off, err
	}
	s.Mode, p, _ = getUint32(buf, p)
	s.Atime, p, _ = getUint32(buf, p)
	s.Mtime, p, _ = getUint32(buf, p)
	s.Length, p, _ = getUint64(buf, p)
	if s.Name, p, err = getString(buf, p); err != nil {
		return Stat{}, off, err
	}
	if s.Uid, p, err = getString(buf, p); err != nil {
		return Stat{}, off, err
	}
	if s.Gid, p, err = getString(buf, p); err != nil {
		return Stat{}, off, err
	}
	if s.Muid, p, err = getString(buf, p); err != nil {
		return Stat{}, off, err
	}
	if p != end {
		return Stat{}, off, ErrMalformedMessage
	}
	return s, end, nil
}

// EncodeStat renders a single Stat record (with its own size prefix) into
// buf, returning the number of bytes written.
func EncodeStat(buf []byte, s Stat) (int, error) {
	n, err := putStat(buf, 0, s)
	return n, err
}

// DecodeStat decodes a single length-prefixed Stat record from the front of
// buf.
func DecodeStat(buf []byte) (Stat, int, error) {
	return getStat(buf, 0)
}
