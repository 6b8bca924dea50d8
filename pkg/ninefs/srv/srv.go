// Package srv implements the service registry backend (section 4.9): a
// process-wide map from service name to either an embedded local backend
// or a (transport, address) tuple describing how to reach a remote one.
// Walking into /<service> yields the local backend's root, or a descriptor
// file for a remote service rendered with github.com/miekg/dns's SRV
// record helpers, since a remote /srv entry is conceptually a service
// record (host, port, priority, weight).
package srv

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/miekg/dns"

	"github.com/sandia-minimega/ninepd/pkg/ninefs"
	"github.com/sandia-minimega/ninepd/pkg/ninewire"
)

// Remote describes how to reach a service not embedded in this process.
type Remote struct {
	Transport string // e.g. "tcp", "serial", "l2cap"
	Address   string // host:port, device path, or channel identifier
	Priority  uint16
	Weight    uint16
}

type registration struct {
	name    string
	local   ninefs.Backend // nil if remote
	remote  *Remote        // nil if local
}

type rootNode struct{ qid ninewire.Qid }

func (n *rootNode) Qid() ninewire.Qid { return n.qid }
func (n *rootNode) Name() string      { return "/" }

// descriptorNode is the synthetic read-only file describing a remote
// service.
type descriptorNode struct {
	name string
	qid  ninewire.Qid
	text string
}

func (n *descriptorNode) Qid() ninewire.Qid { return n.qid }
func (n *descriptorNode) Name() string      { return n.name }

// Backend is the /srv registry.
type Backend struct {
	mu    sync.RWMutex
	regs  map[string]*registration
	owner map[ninefs.Node]*registration

	root *rootNode
}

// New creates an empty registry.
func New() *Backend {
	return &Backend{
		regs:  make(map[string]*registration),
		owner: make(map[ninefs.Node]*registration),
		root:  &rootNode{qid: ninewire.Qid{Type: ninewire.QTDIR}},
	}
}

// RegisterLocal binds name to an embedded backend running in this process.
func (b *Backend) RegisterLocal(name string, be ninefs.Backend) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.regs[name] = &registration{name: name, local: be}
}

// RegisterRemote binds name to a remote service descriptor.
func (b *Backend) RegisterRemote(name string, r Remote) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.regs[name] = &registration{name: name, remote: &r}
}

// Unregister removes name from the registry.
func (b *Backend) Unregister(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.regs, name)
}

func (b *Backend) Root(ctx context.Context) ninefs.Node {
	return b.root
}

func (b *Backend) Walk(ctx context.Context, parent ninefs.Node, name string) (ninefs.Node, error) {
	if reg, ok := b.lookupOwner(parent); ok && reg.local != nil {
		child, err := reg.local.Walk(ctx, parent, name)
		if err == nil {
			b.recordOwner(child, reg)
		}
		return child, err
	}

	if parent != ninefs.Node(b.root) {
		if reg, err := b.probe(ctx, parent, name); err == nil {
			return reg, nil
		}
		return nil, ninefs.ErrNoEntry
	}

	b.mu.RLock()
	reg, ok := b.regs[name]
	b.mu.RUnlock()
	if !ok {
		return nil, ninefs.ErrNoEntry
	}

	if reg.local != nil {
		root := reg.local.Root(ctx)
		b.recordOwner(root, reg)
		return root, nil
	}

	node := &descriptorNode{
		name: name,
		qid:  ninewire.Qid{Type: ninewire.QTFILE, Path: hashName(name)},
		text: renderDescriptor(*reg.remote),
	}
	b.recordOwner(node, reg)
	return node, nil
}

// probe implements section 4.9's "best-effort probe": when an operation
// targets a node the registry did not itself produce (parent was handed
// out by a local backend but this call arrived without the usual owner
// bookkeeping, e.g. after a server restart reattaches a stale fid), ask
// each local backend in turn whether it owns the walk, distinguishing
// ErrNotMine from a genuine failure.
func (b *Backend) probe(ctx context.Context, parent ninefs.Node, name string) (ninefs.Node, error) {
	b.mu.RLock()
	regs := make([]*registration, 0, len(b.regs))
	for _, r := range b.regs {
		if r.local != nil {
			regs = append(regs, r)
		}
	}
	b.mu.RUnlock()

	for _, reg := range regs {
		child, err := safeWalk(ctx, reg.local, parent, name)
		if err == nil {
			b.recordOwner(child, reg)
			return child, nil
		}
		if err != ninefs.ErrNotMine {
			return nil, err
		}
	}
	return nil, ninefs.ErrNoEntry
}

// safeWalk calls be.Walk, converting a foreign-node type assertion panic
// (a backend's way of saying "I do not own this node" when its Node type
// is a concrete, non-nilable struct pointer) into ErrNotMine, per section
// 4.9's "each backend must distinguish 'I do not own this node' from a
// genuine operation failure".
func safeWalk(ctx context.Context, be ninefs.Backend, parent ninefs.Node, name string) (n ninefs.Node, err error) {
	defer func() {
		if r := recover(); r != nil {
			n, err = nil, ninefs.ErrNotMine
		}
	}()
	return be.Walk(ctx, parent, name)
}

func (b *Backend) recordOwner(n ninefs.Node, reg *registration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.owner[n] = reg
}

func (b *Backend) lookupOwner(n ninefs.Node) (*registration, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	reg, ok := b.owner[n]
	return reg, ok
}

func (b *Backend) Open(ctx context.Context, n ninefs.Node, mode uint8) (ninewire.Qid, uint32, error) {
	if reg, ok := b.lookupOwner(n); ok && reg.local != nil {
		return reg.local.Open(ctx, n, mode)
	}
	return n.Qid(), 0, nil
}

func (b *Backend) Read(ctx context.Context, n ninefs.Node, offset uint64, buf []byte) (int, error) {
	if reg, ok := b.lookupOwner(n); ok && reg.local != nil {
		return reg.local.Read(ctx, n, offset, buf)
	}
	if dn, ok := n.(*descriptorNode); ok {
		if offset >= uint64(len(dn.text)) {
			return 0, nil
		}
		return copy(buf, dn.text[offset:]), nil
	}
	return b.readRoot(offset, buf)
}

func (b *Backend) readRoot(offset uint64, buf []byte) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.regs))
	for name := range b.regs {
		names = append(names, name)
	}
	sort.Strings(names)

	var cur uint64
	written := 0
	for _, name := range names {
		reg := b.regs[name]
		st := ninewire.Stat{Name: name, Uid: "none", Gid: "none", Muid: "none"}
		if reg.local != nil {
			st.Qid = ninewire.Qid{Type: ninewire.QTDIR, Path: hashName(name)}
			st.Mode = ninewire.DMDIR | 0555
		} else {
			st.Qid = ninewire.Qid{Type: ninewire.QTFILE, Path: hashName(name)}
			st.Mode = 0444
		}
		sz := uint64(ninewire.EncodedStatSize(st))

		if cur+sz <= offset {
			cur += sz
			continue
		}
		if written+int(sz) > len(buf) {
			return written, nil
		}
		n2, err := ninewire.EncodeStat(buf[written:], st)
		if err != nil {
			return written, ninefs.ErrIoError
		}
		written += n2
		cur += sz
	}
	return written, nil
}

func (b *Backend) Write(ctx context.Context, n ninefs.Node, offset uint64, data []byte, uname string) (int, error) {
	if reg, ok := b.lookupOwner(n); ok && reg.local != nil {
		return reg.local.Write(ctx, n, offset, data, uname)
	}
	return 0, ninefs.ErrNotPermitted
}

func (b *Backend) Stat(ctx context.Context, n ninefs.Node) (ninewire.Stat, error) {
	if reg, ok := b.lookupOwner(n); ok && reg.local != nil {
		return reg.local.Stat(ctx, n)
	}
	if dn, ok := n.(*descriptorNode); ok {
		return ninewire.Stat{
			Qid: dn.qid, Mode: 0444, Length: uint64(len(dn.text)),
			Name: dn.name, Uid: "none", Gid: "none", Muid: "none",
		}, nil
	}
	return ninewire.Stat{Qid: n.Qid(), Mode: ninewire.DMDIR | 0555, Name: "/", Uid: "none", Gid: "none", Muid: "none"}, nil
}

func (b *Backend) Wstat(ctx context.Context, n ninefs.Node, stat ninewire.Stat) error {
	if reg, ok := b.lookupOwner(n); ok && reg.local != nil {
		return reg.local.Wstat(ctx, n, stat)
	}
	return ninefs.ErrNotPermitted
}

func (b *Backend) Create(ctx context.Context, parent ninefs.Node, name string, perm uint32, mode uint8, uname string) (ninefs.Node, error) {
	if reg, ok := b.lookupOwner(parent); ok && reg.local != nil {
		child, err := reg.local.Create(ctx, parent, name, perm, mode, uname)
		if err == nil {
			b.recordOwner(child, reg)
		}
		return child, err
	}
	return nil, ninefs.ErrNotPermitted
}

func (b *Backend) Remove(ctx context.Context, n ninefs.Node) error {
	if reg, ok := b.lookupOwner(n); ok && reg.local != nil {
		return reg.local.Remove(ctx, n)
	}
	return ninefs.ErrNotPermitted
}

func (b *Backend) Clunk(ctx context.Context, n ninefs.Node) error {
	if reg, ok := b.lookupOwner(n); ok && reg.local != nil {
		return reg.local.Clunk(ctx, n)
	}
	return nil
}

// renderDescriptor formats a Remote as an SRV-style record line using
// miekg/dns's record types purely for their string rendering, matching
// section 4.9's framing of a remote /srv entry as a service record.
func renderDescriptor(r Remote) string {
	host, port := splitAddress(r.Address)
	rr := &dns.SRV{
		Hdr: dns.RR_Header{
			Name:   dns.Fqdn(r.Transport),
			Rrtype: dns.TypeSRV,
			Class:  dns.ClassINET,
		},
		Priority: r.Priority,
		Weight:   r.Weight,
		Port:     port,
		Target:   dns.Fqdn(host),
	}
	return rr.String() + "\n"
}

func splitAddress(addr string) (string, uint16) {
	host, portStr, err := splitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	var port uint16
	fmt.Sscanf(portStr, "%d", &port)
	return host, port
}

// splitHostPort avoids importing net solely for this; the descriptor
// address is always "host:port" for transports that have a port.
func splitHostPort(addr string) (host, port string, err error) {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i], addr[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("srv: address %q has no port", addr)
}

func hashName(s string) uint64 {
	var h uint64 = 1469598103934665603
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}
