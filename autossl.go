package sslxray

import "crypto/tls"

// autosslState is the detector's closed state set: searching resolves to
// exactly one of upgraded or passthrough, and neither resolution is ever
// revisited. A searching-and-found combination is unreachable and has no
// representation.
type autosslState int

const (
	stateSearching autosslState = iota
	stateUpgraded
	statePassthrough
)

// AutoSSLHandler watches a cleartext connection for an inline upgrade to
// TLS (e.g. STARTTLS) and swaps the connection's ProtocolHandler to
// TLSTerminatingHandler on detection, without losing or reordering the
// buffered ClientHello. Until a decision is made ReadCB buffers inbound
// bytes and forwards nothing; its other callbacks behave like
// PassthroughHandler's.
type AutoSSLHandler struct {
	state      autosslState
	buf        []byte
	tlsConfig  *tls.Config
	downstream *PassthroughHandler
}

var _ ProtocolHandler = (*AutoSSLHandler)(nil)

// NewAutoSSLHandler returns a detector that will terminate TLS with
// tlsConfig on positive detection.
func NewAutoSSLHandler(tlsConfig *tls.Config) *AutoSSLHandler {
	return &AutoSSLHandler{
		state:      stateSearching,
		tlsConfig:  tlsConfig,
		downstream: NewPassthroughHandler(),
	}
}

// Found reports whether this handler has positively identified a
// ClientHello. Used by Conn.NewChild to decide which handler a child
// connection should be set up with.
func (h *AutoSSLHandler) Found() bool {
	return h.state == stateUpgraded
}

func (h *AutoSSLHandler) Setup(c *Conn) error {
	return h.downstream.Setup(c)
}

// SetupChild is never expected to be called: children inherit the
// parent's post-detection protocol (Conn.NewChild), never the detector
// itself.
func (h *AutoSSLHandler) SetupChild(c *Conn) error {
	return h.downstream.SetupChild(c)
}

func (h *AutoSSLHandler) ReadCB(c *Conn, data []byte) error {
	if h.state != stateSearching {
		return h.downstream.ReadCB(c, data)
	}

	h.buf = append(h.buf, data...)

	switch detectClientHello(h.buf) {
	case verdictPositive:
		return h.commitUpgrade(c)
	case verdictNegative:
		return h.commitPassthrough(c)
	default:
		// Still ambiguous: keep buffering, forward nothing yet.
		return nil
	}
}

func (h *AutoSSLHandler) WriteCB(c *Conn) error {
	return h.downstream.WriteCB(c)
}

func (h *AutoSSLHandler) EventCB(c *Conn, event ConnEvent) error {
	return h.downstream.EventCB(c, event)
}

func (h *AutoSSLHandler) Free(c *Conn) {}

// commitUpgrade replays the buffered bytes into the real socket's read
// path and swaps in TLSTerminatingHandler. The detector never downgrades
// after this point.
func (h *AutoSSLHandler) commitUpgrade(c *Conn) error {
	pb := &prebufferedConn{Conn: c.Src}
	pb.prepend(h.buf)
	h.buf = nil
	c.Src = pb

	upgrade := NewTLSTerminatingHandler(h.tlsConfig)
	if err := replaceProtocol(c, upgrade); err != nil {
		// A failed swap terminates the connection; no retry, no
		// downgrade.
		return err
	}
	h.state = stateUpgraded
	return nil
}

// commitPassthrough forwards whatever was buffered while deciding and
// then swaps in a plain PassthroughHandler for everything after.
func (h *AutoSSLHandler) commitPassthrough(c *Conn) error {
	buf := h.buf
	h.buf = nil

	ph := NewPassthroughHandler()
	if err := replaceProtocol(c, ph); err != nil {
		return err
	}
	h.state = statePassthrough

	if len(buf) == 0 {
		return nil
	}
	return ph.ReadCB(c, buf)
}
