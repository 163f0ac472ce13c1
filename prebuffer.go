package sslxray

import (
	"bytes"
	"net"
)

// prebufferedConn wraps a net.Conn so that bytes already consumed by the
// auto-SSL detector (autossl.go) are replayed to the first Read calls
// before falling through to the underlying socket. This is what lets
// AutoSSLHandler hand off to TLSTerminatingHandler without losing the
// buffered ClientHello.
type prebufferedConn struct {
	net.Conn
	buffered bytes.Buffer
}

func (c *prebufferedConn) prepend(b []byte) {
	// New bytes must be replayed before anything already queued, so they
	// land in front of the existing buffer rather than behind it.
	if c.buffered.Len() == 0 {
		c.buffered.Write(b)
		return
	}
	rest := make([]byte, c.buffered.Len())
	copy(rest, c.buffered.Bytes())
	c.buffered.Reset()
	c.buffered.Write(b)
	c.buffered.Write(rest)
}

func (c *prebufferedConn) Read(p []byte) (int, error) {
	if c.buffered.Len() > 0 {
		return c.buffered.Read(p)
	}
	return c.Conn.Read(p)
}
