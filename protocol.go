package sslxray

import "net"

// ConnEvent mirrors the handful of event-loop notifications a protocol
// handler's EventCB needs to react to (connect complete, EOF, error).
type ConnEvent int

const (
	EventConnected ConnEvent = iota
	EventEOF
	EventError
)

// ProtocolHandler is the Protocol Vtable: the capability set every
// protocol handler satisfies. AutoSSLHandler is a thin wrapper that
// forwards its non-read callbacks to PassthroughHandler and buffers
// inbound bytes while it is still searching for a ClientHello, and rebinds a Conn's ProtoCtx to a different
// ProtocolHandler on successful detection (replaceProtocol below, called
// from autossl.go).
//
// Replacement must look atomic from the owning Worker goroutine's point
// of view: it happens synchronously inside a single ReadCB call, between
// two event-loop callbacks, never while a callback is itself executing
// concurrently. The single-goroutine-per-connection pump gives this
// without extra locking.
type ProtocolHandler interface {
	// Setup prepares a freshly attached parent connection to run under
	// this handler.
	Setup(c *Conn) error

	// SetupChild prepares a server-side child connection. Children
	// inherit whatever protocol the parent settled on; AutoSSLHandler
	// itself is never installed on a child.
	SetupChild(c *Conn) error

	// ReadCB is invoked with newly arrived client-to-server bytes.
	ReadCB(c *Conn, data []byte) error

	// WriteCB is the hook for outbound buffer space freeing up. The
	// Worker's pumps write to the sockets directly and never call it;
	// every handler in this package treats it as a no-op.
	WriteCB(c *Conn) error

	// EventCB is invoked when the client-to-server read pump ends:
	// EventEOF on end of stream, EventError on any other read error. The
	// Worker never sends EventConnected.
	EventCB(c *Conn, event ConnEvent) error

	// Free releases any handler-private state. Called by replaceProtocol
	// on the handler being swapped out, and from Conn.Close on the
	// connection's active handler.
	Free(c *Conn)
}

// replaceProtocol swaps c's active handler, running the new handler's
// Setup before the swap becomes visible so a half-initialized handler is
// never observed by a subsequent callback.
func replaceProtocol(c *Conn, next ProtocolHandler) error {
	if err := next.Setup(c); err != nil {
		return err
	}
	prev := c.ProtoCtx
	c.ProtoCtx = next
	if prev != nil {
		prev.Free(c)
	}
	return nil
}

// PassthroughHandler copies bytes between client and destination sockets
// without interpreting them. It is both the steady-state handler for
// connections auto-SSL has ruled out as TLS, and the base behavior
// AutoSSLHandler forwards to while it is still deciding.
type PassthroughHandler struct{}

var _ ProtocolHandler = (*PassthroughHandler)(nil)

// NewPassthroughHandler returns a handler that forwards bytes unchanged.
func NewPassthroughHandler() *PassthroughHandler {
	return &PassthroughHandler{}
}

func (h *PassthroughHandler) Setup(c *Conn) error {
	populateAddrAndUser(c)
	c.IsValid = true
	return nil
}

func (h *PassthroughHandler) SetupChild(c *Conn) error {
	populateAddrAndUser(c)
	c.IsValid = true
	return nil
}

// populateAddrAndUser fills in the Connection Record's address fields
// from the already-connected sockets, and, when the owning Worker was
// given a user-lookup handle (Options.UserAuth), looks up the source
// IP's user record for the EXPIRED/IDLE "user" field.
// A lookup miss or failure leaves c.User empty rather than failing
// setup; an unauthenticated/unknown user is a normal outcome, not an
// error condition.
func populateAddrAndUser(c *Conn) {
	srcHost, srcPort := splitHostPort(c.Src)
	c.SrcHost, c.SrcPort = srcHost, srcPort
	if c.Dst != nil {
		dstHost, dstPort := splitHostPort(c.Dst)
		c.DstHost, c.DstPort = dstHost, dstPort
	}

	if c.thr == nil || c.SrcHost == "" {
		return
	}
	lookup := c.thr.UserLookup()
	if lookup == nil {
		return
	}
	rec, err := lookup.Query(c.SrcHost)
	if err != nil {
		c.thr.recordError(c, err)
		return
	}
	c.User = rec.User
}

// splitHostPort extracts host/port from conn's remote address, tolerating
// connections (like net.Pipe's) whose Addr does not carry a "host:port"
// string.
func splitHostPort(conn net.Conn) (string, string) {
	addr := conn.RemoteAddr()
	if addr == nil {
		return "", ""
	}
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), ""
	}
	return host, port
}

func (h *PassthroughHandler) ReadCB(c *Conn, data []byte) error {
	if c.Dst == nil {
		return nil
	}
	n, err := c.Dst.Write(data)
	if err == nil {
		c.Touch()
		if c.thr != nil {
			c.thr.intOut.Add(uint64(n))
		}
	}
	return err
}

func (h *PassthroughHandler) WriteCB(c *Conn) error {
	return nil
}

func (h *PassthroughHandler) EventCB(c *Conn, event ConnEvent) error {
	return nil
}

func (h *PassthroughHandler) Free(c *Conn) {}
