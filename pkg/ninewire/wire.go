// Package ninewire implements the 9P2000 wire format: message headers,
// qids, stat records, and the encode/decode pair for every T/R message
// variant named in section 6 of the protocol. The codec is stateless and
// operates on caller-supplied buffers; it never holds a connection open
// and never blocks.
package ninewire

// Message type codes. Even values are requests (T*), odd values are the
// matching replies (R*). Terror is reserved and never appears on the wire.
const (
	Tversion MType = 100
	Rversion MType = 101
	Tauth    MType = 102
	Rauth    MType = 103
	Tattach  MType = 104
	Rattach  MType = 105
	Terror   MType = 106 // reserved, never sent
	Rerror   MType = 107
	Tflush   MType = 108
	Rflush   MType = 109
	Twalk    MType = 110
	Rwalk    MType = 111
	Topen    MType = 112
	Ropen    MType = 113
	Tcreate  MType = 114
	Rcreate  MType = 115
	Tread    MType = 116
	Rread    MType = 117
	Twrite   MType = 118
	Rwrite   MType = 119
	Tclunk   MType = 120
	Rclunk   MType = 121
	Tremove  MType = 122
	Rremove  MType = 123
	Tstat    MType = 124
	Rstat    MType = 125
	Twstat   MType = 126
	Rwstat   MType = 127
)

// MType is a 9P message type byte.
type MType uint8

func (t MType) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "Tunknown"
}

var typeNames = map[MType]string{
	Tversion: "Tversion", Rversion: "Rversion",
	Tauth: "Tauth", Rauth: "Rauth",
	Tattach: "Tattach", Rattach: "Rattach",
	Rerror: "Rerror",
	Tflush:  "Tflush", Rflush: "Rflush",
	Twalk: "Twalk", Rwalk: "Rwalk",
	Topen: "Topen", Ropen: "Ropen",
	Tcreate: "Tcreate", Rcreate: "Rcreate",
	Tread: "Tread", Rread: "Rread",
	Twrite: "Twrite", Rwrite: "Rwrite",
	Tclunk: "Tclunk", Rclunk: "Rclunk",
	Tremove: "Tremove", Rremove: "Rremove",
	Tstat: "Tstat", Rstat: "Rstat",
	Twstat: "Twstat", Rwstat: "Rwstat",
}

// Reserved fid/tag sentinels.
const (
	NOFID uint32 = 0xFFFFFFFF
	NOTAG uint16 = 0xFFFF
)

// Qid type bits (high byte of a mode word doubles as the qid type).
const (
	QTDIR     = 0x80
	QTAPPEND  = 0x40
	QTEXCL    = 0x20
	QTMOUNT   = 0x10
	QTAUTH    = 0x08
	QTTMP     = 0x04
	QTSYMLINK = 0x02
	QTFILE    = 0x00
)

// Mode bits (Dir.Mode / Stat.Mode).
const (
	DMDIR    = 0x80000000
	DMAPPEND = 0x40000000
	DMEXCL   = 0x20000000
	DMMOUNT  = 0x10000000
	DMAUTH   = 0x08000000
	DMTMP    = 0x04000000
	DMREAD   = 0x4
	DMWRITE  = 0x2
	DMEXEC   = 0x1
)

// Topen/Tcreate mode flags.
const (
	OREAD   = 0x00
	OWRITE  = 0x01
	ORDWR   = 0x02
	OEXEC   = 0x03
	OTRUNC  = 0x10
	ORCLOSE = 0x40
)

// Wstat "don't touch" sentinels (section 4.10).
const (
	StatNoUint16 = 0xFFFF
	StatNoUint32 = 0xFFFFFFFF
	StatNoUint64 = 0xFFFFFFFFFFFFFFFF
)

// DefaultProtocolVersion is advertised during Tversion unless overridden.
const DefaultProtocolVersion = "9P2000"

// DefaultMaxMessageSize is used when a ninepd.Config's MaxMessageSize is zero.
const DefaultMaxMessageSize = 8192

// MinMessageSize is the smallest legal message: a bare header with no body.
const MinMessageSize = 7

// HeaderSize is size[4] + type[1] + tag[2].
const HeaderSize = 7

// QidSize is the fixed wire size of a Qid: type[1] version[4] path[8].
const QidSize = 13

// Qid is a persistent, server-assigned identity for a filesystem object.
// Two qids with equal (Type, Path) denote the same object across its
// lifetime (invariant I1); Version changes when the object's content
// changes.
type Qid struct {
	Type    uint8
	Version uint32
	Path    uint64
}

// IsDir reports whether the qid's type bits mark a directory.
func (q Qid) IsDir() bool {
	return q.Type&QTDIR != 0
}

// Stat is a directory-entry metadata record (section 3, "Stat record").
type Stat struct {
	Type   uint16 // kernel-private, round-tripped but not interpreted
	Dev    uint32 // kernel-private, round-tripped but not interpreted
	Qid    Qid
	Mode   uint32
	Atime  uint32
	Mtime  uint32
	Length uint64
	Name   string
	Uid    string
	Gid    string
	Muid   string
}
