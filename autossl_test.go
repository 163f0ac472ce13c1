package sslxray

import (
	"crypto/tls"
	"net"
	"testing"
	"time"
)

func TestAutoSSLHandlerUpgradesOnSplitClientHello(t *testing.T) {
	src, _ := net.Pipe()
	defer src.Close()

	c := NewConn(src)
	h := NewAutoSSLHandler(&tls.Config{})
	if err := h.Setup(c); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	c.ProtoCtx = h

	full := sampleClientHelloPrefix()
	first, second := full[:4], full[4:]

	if err := h.ReadCB(c, first); err != nil {
		t.Fatalf("ReadCB(first half): %v", err)
	}
	if h.Found() {
		t.Fatalf("handler reported Found() before the header was complete")
	}
	if _, ok := c.ProtoCtx.(*AutoSSLHandler); !ok {
		t.Fatalf("expected ProtoCtx to still be the detector mid-header, got %T", c.ProtoCtx)
	}

	if err := h.ReadCB(c, second); err != nil {
		t.Fatalf("ReadCB(second half): %v", err)
	}
	if !h.Found() {
		t.Fatalf("expected Found() to be true once the full ClientHello header arrived")
	}
	if _, ok := c.ProtoCtx.(*TLSTerminatingHandler); !ok {
		t.Fatalf("expected ProtoCtx to be swapped to TLSTerminatingHandler, got %T", c.ProtoCtx)
	}
	if _, ok := c.Src.(*tls.Conn); !ok {
		t.Fatalf("expected c.Src to be wrapped by tls.Server, got %T", c.Src)
	}
}

func TestAutoSSLHandlerPassesThroughNonTLSTraffic(t *testing.T) {
	src, _ := net.Pipe()
	defer src.Close()
	dst, dstOther := net.Pipe()
	defer dst.Close()
	defer dstOther.Close()

	c := NewConn(src)
	c.Dst = dst
	h := NewAutoSSLHandler(&tls.Config{})
	if err := h.Setup(c); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	c.ProtoCtx = h

	received := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 4096)
		n, _ := dstOther.Read(buf)
		received <- buf[:n]
	}()

	payload := []byte("GET / HTTP/1.1\r\n")
	if err := h.ReadCB(c, payload); err != nil {
		t.Fatalf("ReadCB: %v", err)
	}
	if h.state != statePassthrough {
		t.Fatalf("got state %v, want statePassthrough for non-TLS traffic", h.state)
	}
	if _, ok := c.ProtoCtx.(*PassthroughHandler); !ok {
		t.Fatalf("expected ProtoCtx to be swapped to PassthroughHandler, got %T", c.ProtoCtx)
	}

	select {
	case got := <-received:
		if string(got) != string(payload) {
			t.Fatalf("got forwarded bytes %q, want %q", got, payload)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for the buffered bytes to be forwarded downstream")
	}
}

func TestAutoSSLHandlerForwardsNothingWhileInconclusive(t *testing.T) {
	src, _ := net.Pipe()
	defer src.Close()

	c := NewConn(src)
	h := NewAutoSSLHandler(&tls.Config{})
	c.ProtoCtx = h

	if err := h.ReadCB(c, []byte{0x16, 0x03}); err != nil {
		t.Fatalf("ReadCB: %v", err)
	}
	if h.state != stateSearching {
		t.Fatalf("got state %v, want stateSearching while still ambiguous", h.state)
	}
	if len(h.buf) != 2 {
		t.Fatalf("got buffered %d bytes, want 2", len(h.buf))
	}
}
