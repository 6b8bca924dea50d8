package ninefs

import "github.com/sandia-minimega/ninepd/pkg/ninewire"

// Backend operations report failures using the same *ninewire.Error type
// the wire codec and server use, so a backend error can be returned to the
// client as an Rerror without translation. These aliases save backend code
// an import-and-qualify for the errors named in the capability table
// (section 4.4).
var (
	ErrNotDir       = ninewire.ErrNotDir
	ErrNotFile      = ninewire.ErrNotFile
	ErrNoEntry      = ninewire.ErrNoEntry
	ErrIsDir        = ninewire.ErrIsDir
	ErrNotPermitted = ninewire.ErrNotPermitted
	ErrExists       = ninewire.ErrExists
	ErrNoSpace      = ninewire.ErrNoSpace
	ErrReadOnly     = ninewire.ErrReadOnly
	ErrIoError      = ninewire.ErrIoError
	ErrInvalidOffset = ninewire.ErrInvalidOffset
	ErrNotEmpty     = ninewire.ErrNotEmpty
)

// ErrNotMine is returned by a service-registry member backend's operations
// when asked to act on a node it did not itself produce (section 4.9's
// "distinguish 'I do not own this node' from a genuine operation failure").
// It is never sent to a client; the registry's delegation loop uses it to
// move on to the next candidate backend.
var ErrNotMine = &ninewire.Error{Kind: ninewire.KindIoError, Msg: "node not owned by this backend"}
