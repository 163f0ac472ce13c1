package sslxray

import (
	"crypto/tls"
	"fmt"
)

// TLSTerminatingHandler is the minimal stand-in for a full interception
// engine. It runs a real *tls.Conn server handshake using whatever
// certificate the embedder configured (it does not forge per-SNI leaf
// certificates on the fly, which is a certificate-forging engine's job)
// and then behaves like PassthroughHandler over the decrypted stream.
//
// AutoSSLHandler swaps into this handler the moment it identifies a
// ClientHello, replaying the buffered bytes so the handshake sees them as
// if they had arrived as this handler's own first input.
type TLSTerminatingHandler struct {
	config     *tls.Config
	downstream *PassthroughHandler
}

var _ ProtocolHandler = (*TLSTerminatingHandler)(nil)

// NewTLSTerminatingHandler builds a handler that terminates TLS using cfg.
func NewTLSTerminatingHandler(cfg *tls.Config) *TLSTerminatingHandler {
	return &TLSTerminatingHandler{
		config:     cfg,
		downstream: NewPassthroughHandler(),
	}
}

func (h *TLSTerminatingHandler) Setup(c *Conn) error {
	if h.config == nil {
		return fmt.Errorf("sslxray: TLSTerminatingHandler requires a *tls.Config")
	}
	// c.Src is expected to already be a *prebufferedConn carrying any
	// bytes the auto-SSL detector consumed while deciding (see
	// AutoSSLHandler.commitUpgrade); tls.Server reads the replayed
	// ClientHello from it as if it were the connection's first input.
	c.Src = tls.Server(c.Src, h.config)
	c.IsValid = true
	return nil
}

func (h *TLSTerminatingHandler) SetupChild(c *Conn) error {
	return h.downstream.SetupChild(c)
}

func (h *TLSTerminatingHandler) ReadCB(c *Conn, data []byte) error {
	return h.downstream.ReadCB(c, data)
}

func (h *TLSTerminatingHandler) WriteCB(c *Conn) error {
	return h.downstream.WriteCB(c)
}

func (h *TLSTerminatingHandler) EventCB(c *Conn, event ConnEvent) error {
	return h.downstream.EventCB(c, event)
}

func (h *TLSTerminatingHandler) Free(c *Conn) {}
