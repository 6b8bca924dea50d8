package ninepd

import (
	"context"
	"sync"

	"github.com/sandia-minimega/ninepd/internal/transport"
	log "github.com/sandia-minimega/ninepd/pkg/ninelog"
	"github.com/sandia-minimega/ninepd/pkg/ninefs"
	"github.com/sandia-minimega/ninepd/pkg/ninewire"
)

// ConnState is the per-connection state machine of section 4.10:
// FreshlyAccepted -> VersionNegotiated -> Attached -> (serving loop) ->
// Closed. Attached is reached the first time Tattach succeeds; the
// connection may have many attached fids at once, so unlike the other
// states this one is sticky rather than exclusive.
type ConnState int

const (
	FreshlyAccepted ConnState = iota
	VersionNegotiated
	Attached
	Closed
)

// AttachFunc resolves an attach-name to the backend that should serve it.
// The zero value (nil) means every aname maps to Config.Root.
type AttachFunc func(aname string) (ninefs.Backend, error)

// Config configures one Conn.
type Config struct {
	// Root is used for every attach unless Resolve is set.
	Root ninefs.Backend
	// Resolve optionally maps an attach-name to a backend (section
	// 4.10's "the name may select a subtree when the backend supports
	// it").
	Resolve AttachFunc

	MaxMessageSize uint32 // 0 means ninewire.DefaultMaxMessageSize
	MaxTags        int    // 0 means unbounded
}

// Conn is one connection's 9P server: version/attach state, fid and tag
// tables, and the dispatch loop. Grounded on internal/ron's per-client
// handler in the teacher, generalized from a single Command/response
// protocol to the full 9P request set.
type Conn struct {
	cfg Config
	tr  transport.Transport

	fids *FidTable
	tags *TagTable

	mu       sync.Mutex
	state    ConnState
	version  string
	msize    uint32
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewConn wraps tr in a 9P server using cfg. Call Serve to start accepting
// messages.
func NewConn(cfg Config, tr transport.Transport) *Conn {
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = ninewire.DefaultMaxMessageSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		cfg:    cfg,
		tr:     tr,
		fids:   NewFidTable(),
		tags:   NewTagTable(cfg.MaxTags),
		state:  FreshlyAccepted,
		msize:  cfg.MaxMessageSize,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Serve starts the transport and begins dispatching inbound messages. Each
// decoded message is handled on its own goroutine (the work-queue handoff
// of section 5, generalized to goroutine-per-request) so a request
// suspended in backend I/O never blocks Tflush or other fids' requests on
// the same connection; per-tag exclusivity and at-most-one-reply-per-tag
// are enforced by TagTable instead of by serial dispatch.
//
// Serve blocks until the transport stops — explicitly via Close, or on
// its own when the underlying medium ends (EOF, a dropped link). A caller
// that tears down per-connection bookkeeping (a session pool slot, say)
// after Serve returns therefore does so once the connection is actually
// gone, not once delivery merely began.
func (c *Conn) Serve() error {
	if err := c.tr.Start(func(msg []byte) {
		go c.dispatch(msg)
	}); err != nil {
		return err
	}
	<-c.tr.Done()
	return nil
}

// Close stops the transport and cancels any in-flight request contexts.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	return c.tr.Stop()
}

func (c *Conn) dispatch(msg []byte) {
	hdr, err := ninewire.DecodeHeader(msg)
	if err != nil {
		log.Warn("ninepd: malformed header: %v", err)
		return
	}

	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	if state == FreshlyAccepted && hdr.Type != ninewire.Tversion {
		c.replyError(hdr.Tag, ninewire.NewError(ninewire.KindProtocolViolation, "version negotiation required"))
		return
	}

	if hdr.Type == ninewire.Tversion {
		c.handleVersion(hdr, msg)
		return
	}
	if hdr.Type == ninewire.Tflush {
		c.handleFlush(hdr, msg)
		return
	}

	reqCtx, cancel := context.WithCancel(c.ctx)
	if _, err := c.tags.Begin(hdr.Tag, hdr.Type, cancel); err != nil {
		cancel()
		c.replyError(hdr.Tag, err)
		return
	}

	switch hdr.Type {
	case ninewire.Tattach:
		c.handleAttach(reqCtx, hdr, msg)
	case ninewire.Twalk:
		c.handleWalk(reqCtx, hdr, msg)
	case ninewire.Topen:
		c.handleOpen(reqCtx, hdr, msg)
	case ninewire.Tcreate:
		c.handleCreate(reqCtx, hdr, msg)
	case ninewire.Tread:
		c.handleRead(reqCtx, hdr, msg)
	case ninewire.Twrite:
		c.handleWrite(reqCtx, hdr, msg)
	case ninewire.Tclunk:
		c.handleClunk(reqCtx, hdr, msg)
	case ninewire.Tremove:
		c.handleRemove(reqCtx, hdr, msg)
	case ninewire.Tstat:
		c.handleStat(reqCtx, hdr, msg)
	case ninewire.Twstat:
		c.handleWstat(reqCtx, hdr, msg)
	default:
		c.finishReply(hdr.Tag, nil, ninewire.NewError(ninewire.KindProtocolViolation, "unsupported message type %s", hdr.Type))
	}
}

// finishReply sends buf (a fully encoded reply) unless tag was flushed
// before the reply was ready, per section 5's ordering guarantee that a
// flushed tag's original reply must be suppressed. If err is non-nil, an
// Rerror is sent instead of buf. Either way the tag is retired afterward.
func (c *Conn) finishReply(tag uint16, buf []byte, err error) {
	defer c.tags.End(tag)

	c.tags.MarkReplied(tag)
	if c.tags.IsFlushed(tag) {
		return
	}

	if err != nil {
		c.replyError(tag, err)
		return
	}

	if sendErr := c.tr.Send(c.ctx, buf); sendErr != nil {
		log.Debug("ninepd: send reply: %v", sendErr)
	}
}

func (c *Conn) replyError(tag uint16, err error) {
	msg := err.Error()
	buf := make([]byte, ninewire.HeaderSize+2+len(msg))
	n, encErr := ninewire.EncodeError(buf, tag, ninewire.ErrorRep{Ename: msg})
	if encErr != nil {
		log.Warn("ninepd: encode Rerror: %v", encErr)
		return
	}
	if sendErr := c.tr.Send(c.ctx, buf[:n]); sendErr != nil {
		log.Debug("ninepd: send Rerror: %v", sendErr)
	}
}

func (c *Conn) handleVersion(hdr ninewire.Header, msg []byte) {
	req, err := ninewire.DecodeVersion(msg)
	if err != nil {
		c.replyError(hdr.Tag, err)
		return
	}

	c.mu.Lock()
	c.fids.Clear()
	c.tags.Clear()

	negMsize := req.Msize
	if negMsize > c.cfg.MaxMessageSize {
		negMsize = c.cfg.MaxMessageSize
	}

	version := "unknown"
	if req.Version == ninewire.DefaultProtocolVersion || hasPrefixVersion(req.Version) {
		version = ninewire.DefaultProtocolVersion
	}

	c.version = version
	c.msize = negMsize
	if version != "unknown" {
		c.state = VersionNegotiated
	}
	c.mu.Unlock()

	buf := make([]byte, ninewire.HeaderSize+4+2+len(version))
	n, err := ninewire.EncodeVersion(buf, ninewire.Rversion, hdr.Tag, ninewire.VersionReq{Msize: negMsize, Version: version})
	if err != nil {
		c.replyError(hdr.Tag, err)
		return
	}
	if sendErr := c.tr.Send(c.ctx, buf[:n]); sendErr != nil {
		log.Debug("ninepd: send Rversion: %v", sendErr)
	}
}

func hasPrefixVersion(v string) bool {
	want := ninewire.DefaultProtocolVersion
	if len(v) < len(want) {
		return false
	}
	return v[:len(want)] == want
}

func (c *Conn) handleAttach(ctx context.Context, hdr ninewire.Header, msg []byte) {
	req, err := ninewire.DecodeAttach(msg)
	if err != nil {
		c.finishReply(hdr.Tag, nil, err)
		return
	}

	be := c.cfg.Root
	if c.cfg.Resolve != nil {
		resolved, rerr := c.cfg.Resolve(req.Aname)
		if rerr != nil {
			c.finishReply(hdr.Tag, nil, rerr)
			return
		}
		be = resolved
	}

	root := be.Root(ctx)
	f, err := c.fids.Alloc(req.Fid, be, root)
	if err != nil {
		c.finishReply(hdr.Tag, nil, err)
		return
	}
	f.Lock()
	f.Uname = req.Uname
	f.Unlock()

	c.mu.Lock()
	c.state = Attached
	c.mu.Unlock()

	buf := make([]byte, ninewire.HeaderSize+ninewire.QidSize)
	n, err := ninewire.EncodeRattach(buf, hdr.Tag, ninewire.AttachRep{Qid: root.Qid()})
	c.finishReply(hdr.Tag, buf[:n], err)
}

func (c *Conn) handleWalk(ctx context.Context, hdr ninewire.Header, msg []byte) {
	req, err := ninewire.DecodeWalk(msg)
	if err != nil {
		c.finishReply(hdr.Tag, nil, err)
		return
	}

	srcFid, err := c.fids.Lookup(req.Fid)
	if err != nil {
		c.finishReply(hdr.Tag, nil, err)
		return
	}

	srcFid.Lock()
	srcNode, srcUname := srcFid.Node, srcFid.Uname
	srcFid.Unlock()

	if len(req.Wname) == 0 {
		if req.Newfid != req.Fid {
			nf, err := c.fids.Alloc(req.Newfid, srcFid.Backend, srcNode)
			if err != nil {
				c.finishReply(hdr.Tag, nil, err)
				return
			}
			nf.Lock()
			nf.Uname = srcUname
			nf.Unlock()
		}
		c.replyWalk(hdr.Tag, nil)
		return
	}

	cur := srcNode
	var qids []ninewire.Qid
	for _, name := range req.Wname {
		next, werr := srcFid.Backend.Walk(ctx, cur, name)
		if werr != nil {
			if len(qids) == 0 {
				c.finishReply(hdr.Tag, nil, werr)
				return
			}
			// partial success: return what we have, do not bind newfid
			c.replyWalk(hdr.Tag, qids)
			return
		}
		cur = next
		qids = append(qids, cur.Qid())
	}

	if req.Newfid == req.Fid {
		c.fids.Rebind(req.Newfid, cur)
	} else {
		nf, err := c.fids.Alloc(req.Newfid, srcFid.Backend, cur)
		if err != nil {
			c.finishReply(hdr.Tag, nil, err)
			return
		}
		nf.Lock()
		nf.Uname = srcUname
		nf.Unlock()
	}
	c.replyWalk(hdr.Tag, qids)
}

func (c *Conn) replyWalk(tag uint16, qids []ninewire.Qid) {
	buf := make([]byte, ninewire.HeaderSize+2+len(qids)*ninewire.QidSize)
	n, err := ninewire.EncodeRwalk(buf, tag, ninewire.WalkRep{Wqid: qids})
	c.finishReply(tag, buf[:n], err)
}

func (c *Conn) handleOpen(ctx context.Context, hdr ninewire.Header, msg []byte) {
	req, err := ninewire.DecodeOpen(msg)
	if err != nil {
		c.finishReply(hdr.Tag, nil, err)
		return
	}

	f, err := c.fids.Lookup(req.Fid)
	if err != nil {
		c.finishReply(hdr.Tag, nil, err)
		return
	}
	f.Lock()
	if f.Opened {
		f.Unlock()
		c.finishReply(hdr.Tag, nil, ninewire.NewError(ninewire.KindProtocolViolation, "fid %d already open", req.Fid))
		return
	}
	node := f.Node
	f.Unlock()

	qid, iounit, err := f.Backend.Open(ctx, node, req.Mode)
	if err != nil {
		c.finishReply(hdr.Tag, nil, err)
		return
	}
	f.Lock()
	f.Opened = true
	f.Mode = req.Mode
	f.Unlock()

	buf := make([]byte, ninewire.HeaderSize+ninewire.QidSize+4)
	n, err := ninewire.EncodeRopen(buf, hdr.Tag, ninewire.OpenRep{Qid: qid, Iounit: iounit})
	c.finishReply(hdr.Tag, buf[:n], err)
}

func (c *Conn) handleCreate(ctx context.Context, hdr ninewire.Header, msg []byte) {
	req, err := ninewire.DecodeCreate(msg)
	if err != nil {
		c.finishReply(hdr.Tag, nil, err)
		return
	}

	f, err := c.fids.Lookup(req.Fid)
	if err != nil {
		c.finishReply(hdr.Tag, nil, err)
		return
	}

	f.Lock()
	node, uname := f.Node, f.Uname
	f.Unlock()

	child, err := f.Backend.Create(ctx, node, req.Name, req.Perm, req.Mode, uname)
	if err != nil {
		c.finishReply(hdr.Tag, nil, err)
		return
	}
	f.Lock()
	f.Node = child
	f.Opened = true
	f.Mode = req.Mode
	f.Unlock()

	buf := make([]byte, ninewire.HeaderSize+ninewire.QidSize+4)
	n, err := ninewire.EncodeRcreate(buf, hdr.Tag, ninewire.CreateRep{Qid: child.Qid()})
	c.finishReply(hdr.Tag, buf[:n], err)
}

func (c *Conn) handleRead(ctx context.Context, hdr ninewire.Header, msg []byte) {
	req, err := ninewire.DecodeRead(msg)
	if err != nil {
		c.finishReply(hdr.Tag, nil, err)
		return
	}

	f, err := c.fids.Lookup(req.Fid)
	if err != nil {
		c.finishReply(hdr.Tag, nil, err)
		return
	}

	max := c.currentMsize()
	if mtu := c.tr.MTU(); mtu > 0 && uint32(mtu) < max {
		max = uint32(mtu)
	}
	if max < ninewire.RreadOverhead {
		c.finishReply(hdr.Tag, nil, ninewire.NewError(ninewire.KindMessageTooLarge, "negotiated msize too small"))
		return
	}
	count := req.Count
	if limit := max - ninewire.RreadOverhead; count > limit {
		count = limit
	}

	f.Lock()
	node := f.Node
	f.Unlock()

	data := make([]byte, count)
	n, err := f.Backend.Read(ctx, node, req.Offset, data)
	if err != nil {
		c.finishReply(hdr.Tag, nil, err)
		return
	}
	data = data[:n]

	buf := make([]byte, ninewire.RreadOverhead+len(data))
	n2, err := ninewire.EncodeRread(buf, hdr.Tag, ninewire.ReadRep{Data: data})
	c.finishReply(hdr.Tag, buf[:n2], err)
}

func (c *Conn) currentMsize() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.msize
}

func (c *Conn) handleWrite(ctx context.Context, hdr ninewire.Header, msg []byte) {
	req, err := ninewire.DecodeWrite(msg)
	if err != nil {
		c.finishReply(hdr.Tag, nil, err)
		return
	}

	f, err := c.fids.Lookup(req.Fid)
	if err != nil {
		c.finishReply(hdr.Tag, nil, err)
		return
	}

	f.Lock()
	node, uname := f.Node, f.Uname
	f.Unlock()

	n, err := f.Backend.Write(ctx, node, req.Offset, req.Data, uname)
	if err != nil {
		c.finishReply(hdr.Tag, nil, err)
		return
	}

	buf := make([]byte, ninewire.HeaderSize+4)
	n2, err := ninewire.EncodeRwrite(buf, hdr.Tag, ninewire.WriteRep{Count: uint32(n)})
	c.finishReply(hdr.Tag, buf[:n2], err)
}

func (c *Conn) handleClunk(ctx context.Context, hdr ninewire.Header, msg []byte) {
	req, err := ninewire.DecodeClunk(msg)
	if err != nil {
		c.finishReply(hdr.Tag, nil, err)
		return
	}

	f := c.fids.Free(req.Fid)
	if f == nil {
		c.finishReply(hdr.Tag, nil, ninewire.ErrUnknownFid)
		return
	}
	f.Lock()
	node := f.Node
	f.Unlock()
	if cerr := f.Backend.Clunk(ctx, node); cerr != nil {
		log.Debug("ninepd: clunk fid %d: %v", req.Fid, cerr)
	}

	buf := make([]byte, ninewire.HeaderSize)
	n, err := ninewire.EncodeRclunk(buf, hdr.Tag)
	c.finishReply(hdr.Tag, buf[:n], err)
}

func (c *Conn) handleRemove(ctx context.Context, hdr ninewire.Header, msg []byte) {
	req, err := ninewire.DecodeRemove(msg)
	if err != nil {
		c.finishReply(hdr.Tag, nil, err)
		return
	}

	f := c.fids.Free(req.Fid)
	if f == nil {
		c.finishReply(hdr.Tag, nil, ninewire.ErrUnknownFid)
		return
	}

	f.Lock()
	node := f.Node
	f.Unlock()
	removeErr := f.Backend.Remove(ctx, node)

	buf := make([]byte, ninewire.HeaderSize)
	n, _ := ninewire.EncodeRremove(buf, hdr.Tag)
	c.finishReply(hdr.Tag, buf[:n], removeErr)
}

func (c *Conn) handleStat(ctx context.Context, hdr ninewire.Header, msg []byte) {
	req, err := ninewire.DecodeStatReq(msg)
	if err != nil {
		c.finishReply(hdr.Tag, nil, err)
		return
	}

	f, err := c.fids.Lookup(req.Fid)
	if err != nil {
		c.finishReply(hdr.Tag, nil, err)
		return
	}

	f.Lock()
	node := f.Node
	f.Unlock()

	st, err := f.Backend.Stat(ctx, node)
	if err != nil {
		c.finishReply(hdr.Tag, nil, err)
		return
	}

	buf := make([]byte, ninewire.HeaderSize+2+ninewire.EncodedStatSize(st))
	n, err := ninewire.EncodeRstat(buf, hdr.Tag, ninewire.StatRep{Stat: st})
	c.finishReply(hdr.Tag, buf[:n], err)
}

func (c *Conn) handleWstat(ctx context.Context, hdr ninewire.Header, msg []byte) {
	req, err := ninewire.DecodeWstat(msg)
	if err != nil {
		c.finishReply(hdr.Tag, nil, err)
		return
	}

	f, err := c.fids.Lookup(req.Fid)
	if err != nil {
		c.finishReply(hdr.Tag, nil, err)
		return
	}

	f.Lock()
	node := f.Node
	f.Unlock()

	if err := f.Backend.Wstat(ctx, node, req.Stat); err != nil {
		c.finishReply(hdr.Tag, nil, err)
		return
	}

	buf := make([]byte, ninewire.HeaderSize)
	n, err := ninewire.EncodeRwstat(buf, hdr.Tag)
	c.finishReply(hdr.Tag, buf[:n], err)
}

// handleFlush cancels the in-flight request named by Oldtag and always
// replies Rflush on the flush's own tag (section 4.10). If the original
// request's reply has already been sent, Rflush is still sent
// unconditionally (section 5).
func (c *Conn) handleFlush(hdr ninewire.Header, msg []byte) {
	req, err := ninewire.DecodeFlush(msg)
	if err != nil {
		c.replyError(hdr.Tag, err)
		return
	}

	c.tags.Flush(req.Oldtag)

	buf := make([]byte, ninewire.HeaderSize)
	n, err := ninewire.EncodeRflush(buf, hdr.Tag)
	if err != nil {
		c.replyError(hdr.Tag, err)
		return
	}
	if sendErr := c.tr.Send(c.ctx, buf[:n]); sendErr != nil {
		log.Debug("ninepd: send Rflush: %v", sendErr)
	}
}
