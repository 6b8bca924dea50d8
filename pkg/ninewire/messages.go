package ninewire

// Header is the 4+1+2 byte prefix common to every 9P message.
type Header struct {
	Size uint32 // total message length, including this field
	Type MType
	Tag  uint16
}

// DecodeHeader reads the fixed 7-byte header from buf. The server's
// dispatch uses it to learn a framed message's type and tag.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrMalformedMessage
	}
	size, off, _ := getUint32(buf, 0)
	typ, off, _ := getUint8(buf, off)
	tag, _, _ := getUint16(buf, off)
	return Header{Size: uint32(size), Type: MType(typ), Tag: tag}, nil
}

// Request/reply bodies, one struct per message variant (section 6). Field
// names mirror the wire order; Encode/Decode pairs below are the only code
// that knows that order.

type VersionReq struct {
	Msize   uint32
	Version string
}

type AuthReq struct {
	Afid  uint32
	Uname string
	Aname string
}

type AuthRep struct {
	Aqid Qid
}

type AttachReq struct {
	Fid   uint32
	Afid  uint32
	Uname string
	Aname string
}

type AttachRep struct {
	Qid Qid
}

type ErrorRep struct {
	Ename string
}

type FlushReq struct {
	Oldtag uint16
}

type WalkReq struct {
	Fid    uint32
	Newfid uint32
	Wname  []string
}

type WalkRep struct {
	Wqid []Qid
}

type OpenReq struct {
	Fid  uint32
	Mode uint8
}

type OpenRep struct {
	Qid    Qid
	Iounit uint32
}

type CreateReq struct {
	Fid  uint32
	Name string
	Perm uint32
	Mode uint8
}

type CreateRep struct {
	Qid    Qid
	Iounit uint32
}

type ReadReq struct {
	Fid    uint32
	Offset uint64
	Count  uint32
}

type ReadRep struct {
	Data []byte
}

type WriteReq struct {
	Fid    uint32
	Offset uint64
	Data   []byte
}

type WriteRep struct {
	Count uint32
}

type ClunkReq struct {
	Fid uint32
}

type RemoveReq struct {
	Fid uint32
}

type StatReq struct {
	Fid uint32
}

type StatRep struct {
	Stat Stat
}

type WstatReq struct {
	Fid  uint32
	Stat Stat
}

// writeHeader reserves the first HeaderSize bytes of buf; size is
// backpatched by the caller once the body length is known (section 4.1's
// "reply encoding rule").
func writeHeader(buf []byte, typ MType, tag uint16) (int, error) {
	if len(buf) < HeaderSize {
		return 0, ErrMalformedMessage
	}
	off := 4 // size backpatched last
	off = putUint8(buf, off, uint8(typ))
	off = putUint16(buf, off, tag)
	return off, nil
}

func finish(buf []byte, off int) int {
	putUint32(buf, 0, uint32(off))
	return off
}

// EncodeVersion encodes a Tversion/Rversion body.
func EncodeVersion(buf []byte, typ MType, tag uint16, m VersionReq) (int, error) {
	off, err := writeHeader(buf, typ, tag)
	if err != nil {
		return 0, err
	}
	if err := needUint(buf, off, 4); err != nil {
		return 0, err
	}
	off = putUint32(buf, off, m.Msize)
	if off, err = putString(buf, off, m.Version); err != nil {
		return 0, err
	}
	return finish(buf, off), nil
}

func DecodeVersion(buf []byte) (VersionReq, error) {
	off := HeaderSize
	msize, off, err := getUint32(buf, off)
	if err != nil {
		return VersionReq{}, err
	}
	ver, _, err := getString(buf, off)
	if err != nil {
		return VersionReq{}, err
	}
	return VersionReq{Msize: msize, Version: ver}, nil
}

func EncodeAttach(buf []byte, tag uint16, m AttachReq) (int, error) {
	off, err := writeHeader(buf, Tattach, tag)
	if err != nil {
		return 0, err
	}
	off = putUint32(buf, off, m.Fid)
	off = putUint32(buf, off, m.Afid)
	if off, err = putString(buf, off, m.Uname); err != nil {
		return 0, err
	}
	if off, err = putString(buf, off, m.Aname); err != nil {
		return 0, err
	}
	return finish(buf, off), nil
}

func DecodeAttach(buf []byte) (AttachReq, error) {
	off := HeaderSize
	fid, off, err := getUint32(buf, off)
	if err != nil {
		return AttachReq{}, err
	}
	afid, off, err := getUint32(buf, off)
	if err != nil {
		return AttachReq{}, err
	}
	uname, off, err := getString(buf, off)
	if err != nil {
		return AttachReq{}, err
	}
	aname, _, err := getString(buf, off)
	if err != nil {
		return AttachReq{}, err
	}
	return AttachReq{Fid: fid, Afid: afid, Uname: uname, Aname: aname}, nil
}

func EncodeRattach(buf []byte, tag uint16, m AttachRep) (int, error) {
	off, err := writeHeader(buf, Rattach, tag)
	if err != nil {
		return 0, err
	}
	if off, err = putQid(buf, off, m.Qid); err != nil {
		return 0, err
	}
	return finish(buf, off), nil
}

func DecodeRattach(buf []byte) (AttachRep, error) {
	q, _, err := getQid(buf, HeaderSize)
	if err != nil {
		return AttachRep{}, err
	}
	return AttachRep{Qid: q}, nil
}

func EncodeError(buf []byte, tag uint16, m ErrorRep) (int, error) {
	off, err := writeHeader(buf, Rerror, tag)
	if err != nil {
		return 0, err
	}
	if off, err = putString(buf, off, m.Ename); err != nil {
		return 0, err
	}
	return finish(buf, off), nil
}

func DecodeError(buf []byte) (ErrorRep, error) {
	s, _, err := getString(buf, HeaderSize)
	if err != nil {
		return ErrorRep{}, err
	}
	return ErrorRep{Ename: s}, nil
}

func EncodeFlush(buf []byte, tag uint16, m FlushReq) (int, error) {
	off, err := writeHeader(buf, Tflush, tag)
	if err != nil {
		return 0, err
	}
	off = putUint16(buf, off, m.Oldtag)
	return finish(buf, off), nil
}

func DecodeFlush(buf []byte) (FlushReq, error) {
	old, _, err := getUint16(buf, HeaderSize)
	if err != nil {
		return FlushReq{}, err
	}
	return FlushReq{Oldtag: old}, nil
}

func EncodeRflush(buf []byte, tag uint16) (int, error) {
	off, err := writeHeader(buf, Rflush, tag)
	if err != nil {
		return 0, err
	}
	return finish(buf, off), nil
}

const maxWalkElem = 16

func EncodeWalk(buf []byte, tag uint16, m WalkReq) (int, error) {
	if len(m.Wname) > maxWalkElem {
		return 0, NewError(KindMalformedMessage, "too many walk elements: %d", len(m.Wname))
	}
	off, err := writeHeader(buf, Twalk, tag)
	if err != nil {
		return 0, err
	}
	off = putUint32(buf, off, m.Fid)
	off = putUint32(buf, off, m.Newfid)
	off = putUint16(buf, off, uint16(len(m.Wname)))
	for _, name := range m.Wname {
		if off, err = putString(buf, off, name); err != nil {
			return 0, err
		}
	}
	return finish(buf, off), nil
}

func DecodeWalk(buf []byte) (WalkReq, error) {
	off := HeaderSize
	fid, off, err := getUint32(buf, off)
	if err != nil {
		return WalkReq{}, err
	}
	newfid, off, err := getUint32(buf, off)
	if err != nil {
		return WalkReq{}, err
	}
	n, off, err := getUint16(buf, off)
	if err != nil {
		return WalkReq{}, err
	}
	if n > maxWalkElem {
		return WalkReq{}, NewError(KindMalformedMessage, "too many walk elements: %d", n)
	}
	names := make([]string, n)
	for i := range names {
		names[i], off, err = getString(buf, off)
		if err != nil {
			return WalkReq{}, err
		}
	}
	return WalkReq{Fid: fid, Newfid: newfid, Wname: names}, nil
}

func EncodeRwalk(buf []byte, tag uint16, m WalkRep) (int, error) {
	off, err := writeHeader(buf, Rwalk, tag)
	if err != nil {
		return 0, err
	}
	off = putUint16(buf, off, uint16(len(m.Wqid)))
	for _, q := range m.Wqid {
		if off, err = putQid(buf, off, q); err != nil {
			return 0, err
		}
	}
	return finish(buf, off), nil
}

func DecodeRwalk(buf []byte) (WalkRep, error) {
	off := HeaderSize
	n, off, err := getUint16(buf, off)
	if err != nil {
		return WalkRep{}, err
	}
	qids := make([]Qid, n)
	for i := range qids {
		qids[i], off, err = getQid(buf, off)
		if err != nil {
			return WalkRep{}, err
		}
	}
	return WalkRep{Wqid: qids}, nil
}

func EncodeOpen(buf []byte, tag uint16, m OpenReq) (int, error) {
	off, err := writeHeader(buf, Topen, tag)
	if err != nil {
		return 0, err
	}
	off = putUint32(buf, off, m.Fid)
	off = putUint8(buf, off, m.Mode)
	return finish(buf, off), nil
}

func DecodeOpen(buf []byte) (OpenReq, error) {
	off := HeaderSize
	fid, off, err := getUint32(buf, off)
	if err != nil {
		return OpenReq{}, err
	}
	mode, _, err := getUint8(buf, off)
	if err != nil {
		return OpenReq{}, err
	}
	return OpenReq{Fid: fid, Mode: mode}, nil
}

func EncodeRopen(buf []byte, tag uint16, m OpenRep) (int, error) {
	off, err := writeHeader(buf, Ropen, tag)
	if err != nil {
		return 0, err
	}
	if off, err = putQid(buf, off, m.Qid); err != nil {
		return 0, err
	}
	off = putUint32(buf, off, m.Iounit)
	return finish(buf, off), nil
}

func DecodeRopen(buf []byte) (OpenRep, error) {
	q, off, err := getQid(buf, HeaderSize)
	if err != nil {
		return OpenRep{}, err
	}
	iounit, _, err := getUint32(buf, off)
	if err != nil {
		return OpenRep{}, err
	}
	return OpenRep{Qid: q, Iounit: iounit}, nil
}

func EncodeCreate(buf []byte, tag uint16, m CreateReq) (int, error) {
	off, err := writeHeader(buf, Tcreate, tag)
	if err != nil {
		return 0, err
	}
	off = putUint32(buf, off, m.Fid)
	if off, err = putString(buf, off, m.Name); err != nil {
		return 0, err
	}
	off = putUint32(buf, off, m.Perm)
	off = putUint8(buf, off, m.Mode)
	return finish(buf, off), nil
}

func DecodeCreate(buf []byte) (CreateReq, error) {
	off := HeaderSize
	fid, off, err := getUint32(buf, off)
	if err != nil {
		return CreateReq{}, err
	}
	name, off, err := getString(buf, off)
	if err != nil {
		return CreateReq{}, err
	}
	perm, off, err := getUint32(buf, off)
	if err != nil {
		return CreateReq{}, err
	}
	mode, _, err := getUint8(buf, off)
	if err != nil {
		return CreateReq{}, err
	}
	return CreateReq{Fid: fid, Name: name, Perm: perm, Mode: mode}, nil
}

func EncodeRcreate(buf []byte, tag uint16, m CreateRep) (int, error) {
	off, err := writeHeader(buf, Rcreate, tag)
	if err != nil {
		return 0, err
	}
	if off, err = putQid(buf, off, m.Qid); err != nil {
		return 0, err
	}
	off = putUint32(buf, off, m.Iounit)
	return finish(buf, off), nil
}

func DecodeRcreate(buf []byte) (CreateRep, error) {
	q, off, err := getQid(buf, HeaderSize)
	if err != nil {
		return CreateRep{}, err
	}
	iounit, _, err := getUint32(buf, off)
	if err != nil {
		return CreateRep{}, err
	}
	return CreateRep{Qid: q, Iounit: iounit}, nil
}

func EncodeRead(buf []byte, tag uint16, m ReadReq) (int, error) {
	off, err := writeHeader(buf, Tread, tag)
	if err != nil {
		return 0, err
	}
	off = putUint32(buf, off, m.Fid)
	off = putUint64(buf, off, m.Offset)
	off = putUint32(buf, off, m.Count)
	return finish(buf, off), nil
}

func DecodeRead(buf []byte) (ReadReq, error) {
	off := HeaderSize
	fid, off, err := getUint32(buf, off)
	if err != nil {
		return ReadReq{}, err
	}
	offset, off, err := getUint64(buf, off)
	if err != nil {
		return ReadReq{}, err
	}
	count, _, err := getUint32(buf, off)
	if err != nil {
		return ReadReq{}, err
	}
	return ReadReq{Fid: fid, Offset: offset, Count: count}, nil
}

// RreadOverhead is the Rread fixed overhead named in section 4.10: size[4]
// type[1] tag[2] count[4] = 11 bytes before the data itself.
const RreadOverhead = HeaderSize + 4

func EncodeRread(buf []byte, tag uint16, m ReadRep) (int, error) {
	off, err := writeHeader(buf, Rread, tag)
	if err != nil {
		return 0, err
	}
	off = putUint32(buf, off, uint32(len(m.Data)))
	if off, err = putBytes(buf, off, m.Data); err != nil {
		return 0, err
	}
	return finish(buf, off), nil
}

func DecodeRread(buf []byte) (ReadRep, error) {
	off := HeaderSize
	n, off, err := getUint32(buf, off)
	if err != nil {
		return ReadRep{}, err
	}
	data, _, err := getBytes(buf, off, int(n))
	if err != nil {
		return ReadRep{}, err
	}
	return ReadRep{Data: data}, nil
}

func EncodeWrite(buf []byte, tag uint16, m WriteReq) (int, error) {
	off, err := writeHeader(buf, Twrite, tag)
	if err != nil {
		return 0, err
	}
	off = putUint32(buf, off, m.Fid)
	off = putUint64(buf, off, m.Offset)
	off = putUint32(buf, off, uint32(len(m.Data)))
	if off, err = putBytes(buf, off, m.Data); err != nil {
		return 0, err
	}
	return finish(buf, off), nil
}

func DecodeWrite(buf []byte) (WriteReq, error) {
	off := HeaderSize
	fid, off, err := getUint32(buf, off)
	if err != nil {
		return WriteReq{}, err
	}
	offset, off, err := getUint64(buf, off)
	if err != nil {
		return WriteReq{}, err
	}
	n, off, err := getUint32(buf, off)
	if err != nil {
		return WriteReq{}, err
	}
	data, _, err := getBytes(buf, off, int(n))
	if err != nil {
		return WriteReq{}, err
	}
	return WriteReq{Fid: fid, Offset: offset, Data: data}, nil
}

func EncodeRwrite(buf []byte, tag uint16, m WriteRep) (int, error) {
	off, err := writeHeader(buf, Rwrite, tag)
	if err != nil {
		return 0, err
	}
	off = putUint32(buf, off, m.Count)
	return finish(buf, off), nil
}

func DecodeRwrite(buf []byte) (WriteRep, error) {
	count, _, err := getUint32(buf, HeaderSize)
	if err != nil {
		return WriteRep{}, err
	}
	return WriteRep{Count: count}, nil
}

func encodeFidOnly(buf []byte, typ MType, tag uint16, fid uint32) (int, error) {
	off, err := writeHeader(buf, typ, tag)
	if err != nil {
		return 0, err
	}
	off = putUint32(buf, off, fid)
	return finish(buf, off), nil
}

func decodeFidOnly(buf []byte) (uint32, error) {
	fid, _, err := getUint32(buf, HeaderSize)
	return fid, err
}

func EncodeClunk(buf []byte, tag uint16, m ClunkReq) (int, error) {
	return encodeFidOnly(buf, Tclunk, tag, m.Fid)
}

func DecodeClunk(buf []byte) (ClunkReq, error) {
	fid, err := decodeFidOnly(buf)
	return ClunkReq{Fid: fid}, err
}

func EncodeRclunk(buf []byte, tag uint16) (int, error) {
	off, err := writeHeader(buf, Rclunk, tag)
	if err != nil {
		return 0, err
	}
	return finish(buf, off), nil
}

func EncodeRemove(buf []byte, tag uint16, m RemoveReq) (int, error) {
	return encodeFidOnly(buf, Tremove, tag, m.Fid)
}

func DecodeRemove(buf []byte) (RemoveReq, error) {
	fid, err := decodeFidOnly(buf)
	return RemoveReq{Fid: fid}, err
}

func EncodeRremove(buf []byte, tag uint16) (int, error) {
	off, err := writeHeader(buf, Rremove, tag)
	if err != nil {
		return 0, err
	}
	return finish(buf, off), nil
}

func EncodeStatReq(buf []byte, tag uint16, m StatReq) (int, error) {
	return encodeFidOnly(buf, Tstat, tag, m.Fid)
}

func DecodeStatReq(buf []byte) (StatReq, error) {
	fid, err := decodeFidOnly(buf)
	return StatReq{Fid: fid}, err
}

func EncodeRstat(buf []byte, tag uint16, m StatRep) (int, error) {
	off, err := writeHeader(buf, Rstat, tag)
	if err != nil {
		return 0, err
	}
	n, err := putStat(buf, off+2, m.Stat)
	if err != nil {
		return 0, err
	}
	off = putUint16(buf, off, uint16(n-(off+2)))
	return finish(buf, n), nil
}

func DecodeRstat(buf []byte) (StatRep, error) {
	// outer 2-byte length prefixes the inner (also length-prefixed) stat,
	// matching the reference 9P2000 wire layout.
	_, off, err := getUint16(buf, HeaderSize)
	if err != nil {
		return StatRep{}, err
	}
	s, _, err := getStat(buf, off)
	if err != nil {
		return StatRep{}, err
	}
	return StatRep{Stat: s}, nil
}

func EncodeWstat(buf []byte, tag uint16, m WstatReq) (int, error) {
	off, err := writeHeader(buf, Twstat, tag)
	if err != nil {
		return 0, err
	}
	off = putUint32(buf, off, m.Fid)
	n, err := putStat(buf, off+2, m.Stat)
	if err != nil {
		return 0, err
	}
	putUint16(buf, off, uint16(n-(off+2)))
	return finish(buf, n), nil
}

func DecodeWstat(buf []byte) (WstatReq, error) {
	off := HeaderSize
	fid, off, err := getUint32(buf, off)
	if err != nil {
		return WstatReq{}, err
	}
	_, off, err = getUint16(buf, off)
	if err != nil {
		return WstatReq{}, err
	}
	s, _, err := getStat(buf, off)
	if err != nil {
		return WstatReq{}, err
	}
	return WstatReq{Fid: fid, Stat: s}, nil
}

func EncodeRwstat(buf []byte, tag uint16) (int, error) {
	off, err := writeHeader(buf, Rwstat, tag)
	if err != nil {
		return 0, err
	}
	return finish(buf, off), nil
}

func EncodeAuth(buf []byte, tag uint16, m AuthReq) (int, error) {
	off, err := writeHeader(buf, Tauth, tag)
	if err != nil {
		return 0, err
	}
	off = putUint32(buf, off, m.Afid)
	if off, err = putString(buf, off, m.Uname); err != nil {
		return 0, err
	}
	if off, err = putString(buf, off, m.Aname); err != nil {
		return 0, err
	}
	return finish(buf, off), nil
}

func DecodeAuth(buf []byte) (AuthReq, error) {
	off := HeaderSize
	afid, off, err := getUint32(buf, off)
	if err != nil {
		return AuthReq{}, err
	}
	uname, off, err := getString(buf, off)
	if err != nil {
		return AuthReq{}, err
	}
	aname, _, err := getString(buf, off)
	if err != nil {
		return AuthReq{}, err
	}
	return AuthReq{Afid: afid, Uname: uname, Aname: aname}, nil
}

func EncodeRauth(buf []byte, tag uint16, m AuthRep) (int, error) {
	off, err := writeHeader(buf, Rauth, tag)
	if err != nil {
		return 0, err
	}
	if off, err = putQid(buf, off, m.Aqid); err != nil {
		return 0, err
	}
	return finish(buf, off), nil
}

func DecodeRauth(buf []byte) (AuthRep, error) {
	q, _, err := getQid(buf, HeaderSize)
	if err != nil {
		return AuthRep{}, err
	}
	return AuthRep{Aqid: q}, nil
}
