package sslxray

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/proxycore/sslxray/spanid"
)

// nextConnID is the process-wide monotonic id counter. Connection ids
// survive file-descriptor reuse, which is why the Worker connection list
// (connlist.go) removes nodes by id rather than by fd or pointer.
var nextConnID uint64

// newConnID returns the next globally unique, strictly increasing
// connection id.
func newConnID() uint64 {
	return atomic.AddUint64(&nextConnID, 1)
}

// Conn is the Connection Record: the per-connection state shared between a
// Worker's event loop and the Pool's attach/detach bookkeeping. Only the
// owning Worker's reactor goroutine may read or write ProtoCtx; everything
// else that crosses goroutines is guarded by the owning Worker's mutex.
type Conn struct {
	// ID uniquely identifies this connection for the lifetime of the
	// process, independent of file descriptor reuse.
	ID uint64

	// Client and server-facing endpoints. Src is the accepted client
	// socket; Dst is the proxy's outbound connection to the real
	// destination. Protocols that spawn further server-side sockets
	// (e.g. FTP data channels) carry them as child Connection Records
	// under Children rather than as extra fields here.
	Src net.Conn
	Dst net.Conn

	// SrcHost/SrcPort/DstHost/DstPort and User are filled in by the active
	// ProtocolHandler's Setup/SetupChild (populateAddrAndUser, protocol.go)
	// once the connection is attached to a Worker, from the already-
	// connected sockets and, when configured, a Worker-owned user lookup.
	SrcHost, SrcPort string
	DstHost, DstPort string
	User             string

	// SpanID correlates one connection's debug/error log lines across its
	// lifetime. It plays no part in the fixed-format EXPIRED/IDLE/STATS
	// records; it exists purely for grepping a single connection's
	// scattered Dbg/Err output back together.
	SpanID string

	// CTime is the creation timestamp; ATime is updated on every read or
	// write and drives idle-expiry.
	CTime time.Time
	ATime atomic.Int64 // unix seconds, read/written via Touch/IdleFor

	// thr is the owning Worker. Set exactly once by Pool.Attach; never
	// migrated afterwards.
	thr *Worker

	// addedToThrConns is true iff this Conn is currently a node in
	// thr.conns.
	addedToThrConns bool

	// detached guards Detach/DetachChild against being applied twice to
	// the same Conn (e.g. both read-pump directions hitting EOF within
	// the same teardown race): only the first caller may decrement load.
	detached bool

	// closeOnce guards Close against running its teardown twice when both
	// read-pump directions reach EOF around the same time.
	closeOnce sync.Once

	// ProtoCtx is the active protocol handler for this connection. It may
	// only be read or written from the owning Worker's goroutine, except
	// for the well-defined suspension-point swap AutoSSLHandler performs
	// on itself (protocol.go).
	ProtoCtx ProtocolHandler

	// Children is the head of a singly linked list of server-side child
	// connections spawned within this client session. ChildCount is
	// monotonic: it is never decremented when a child detaches.
	Children   *Conn
	ChildCount int
	childNext  *Conn

	// IsValid is set once setup completes; it gates whether a connection
	// is logged with valid=1 or valid=0 in EXPIRED/IDLE records.
	IsValid bool

	// next links this Conn into its Worker's conns list (connlist.go).
	next *Conn

	// nextExpired links this Conn into the transient expiry batch built
	// and drained inside a single timer tick (worker.go). It never
	// persists outside that tick.
	nextExpired *Conn
}

// NewConn creates a Connection Record wrapping an already-accepted client
// socket. The connection is not yet attached to any Worker.
func NewConn(src net.Conn) *Conn {
	c := &Conn{
		ID:     newConnID(),
		Src:    src,
		CTime:  time.Now(),
		SpanID: spanid.New(),
	}
	c.Touch()
	return c
}

// NewChild creates a server-side child Connection Record attached to the
// same Worker as its parent and wires it to the parent's resolved
// protocol: if the parent is still running AutoSSLHandler, the child gets
// either PassthroughHandler or a fresh TLSTerminatingHandler depending on
// whether a ClientHello was already found, never the detector itself. If
// the parent has already settled on a concrete handler, the child reuses
// that same handler value.
//
// When the parent is attached to a Worker, the child's share of that
// Worker's load is accounted for here as well, so a parent's detach can
// release every child it still carries without the caller having to pair
// attach/detach calls per child by hand.
func (c *Conn) NewChild(dst net.Conn) (*Conn, error) {
	child := &Conn{
		ID:     newConnID(),
		Src:    dst,
		CTime:  time.Now(),
		thr:    c.thr,
		SpanID: spanid.New(),
	}
	child.Touch()
	child.childNext = c.Children
	c.Children = child
	c.ChildCount++
	if c.thr != nil {
		c.thr.pool.AttachChild(child)
	}

	handler := c.ProtoCtx
	if autossl, ok := c.ProtoCtx.(*AutoSSLHandler); ok {
		if autossl.Found() {
			handler = NewTLSTerminatingHandler(autossl.tlsConfig)
		} else {
			handler = NewPassthroughHandler()
		}
	}
	child.ProtoCtx = handler
	if handler == nil {
		return child, nil
	}
	return child, handler.SetupChild(child)
}

// Touch updates ATime to now. Called on every inbound/outbound byte.
func (c *Conn) Touch() {
	c.ATime.Store(time.Now().Unix())
}

// IdleFor reports how long this connection has been inactive as of now.
func (c *Conn) IdleFor(now time.Time) time.Duration {
	last := time.Unix(c.ATime.Load(), 0)
	return now.Sub(last)
}

// Worker returns the owning Worker, or nil if the connection has not been
// attached. Detach does not clear the binding: after detach it still
// returns the Worker the connection was attached to.
func (c *Conn) Worker() *Worker {
	return c.thr
}

// Close releases the underlying sockets exactly once. It does not touch
// Pool/Worker bookkeeping; callers detach first via Pool.Detach (or
// Pool.DetachLocked) and then free. Safe to call more than once (e.g.
// both read-pump directions reaching EOF around the same time); only the
// first call has any effect.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		if c.Src != nil {
			c.Src.Close()
		}
		if c.Dst != nil {
			c.Dst.Close()
		}
		for child := c.Children; child != nil; child = child.childNext {
			child.Close()
		}
		if c.ProtoCtx != nil {
			c.ProtoCtx.Free(c)
		}
	})
}
