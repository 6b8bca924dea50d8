package transport

import (
	"time"

	"github.com/ziutek/telnet"
)

// DialSerial opens a line-oriented byte connection and wraps it as a
// StreamTransport. There is no raw UART driver available in this
// environment (section 1 scopes "UART bring-up" out entirely), so this
// uses github.com/ziutek/telnet's *telnet.Conn — a byte-stream net.Conn
// exposing the same read/write/deadline surface a real serial line
// would — as the reference stand-in transport for the serial family named
// in section 6. SetUnixWriteMode(true) disables telnet's CR/LF
// translation so the 9P byte stream passes through unmodified, matching
// the "stream transport MUST deliver the byte stream verbatim" MUST.
func DialSerial(addr string, dialTimeout time.Duration) (*StreamTransport, error) {
	conn, err := telnet.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, err
	}
	conn.SetUnixWriteMode(true)

	return NewStreamTransport(conn, 0), nil
}
