package sslxray

import "testing"

// A minimal, well-formed TLS 1.2 ClientHello record+handshake header:
// record type 0x16, legacy version 3.3, a plausible record length, and
// handshake type 0x01 (client_hello).
func sampleClientHelloPrefix() []byte {
	return []byte{
		0x16,       // handshake record
		0x03, 0x03, // legacy version TLS 1.2
		0x00, 0x40, // record length
		0x01,             // handshake type: client_hello
		0x00, 0x00, 0x3c, // handshake length
	}
}

func TestDetectClientHelloWholeBuffer(t *testing.T) {
	if got := detectClientHello(sampleClientHelloPrefix()); got != verdictPositive {
		t.Fatalf("got %v, want verdictPositive", got)
	}
}

func TestDetectClientHelloOneByteAtATime(t *testing.T) {
	full := sampleClientHelloPrefix()
	var buf []byte
	for i, b := range full {
		buf = append(buf, b)
		got := detectClientHello(buf)
		if i < len(full)-1 {
			if got != verdictInconclusive {
				t.Fatalf("byte %d: got %v, want verdictInconclusive (buf=%v)", i, got, buf)
			}
			continue
		}
		if got != verdictPositive {
			t.Fatalf("final byte: got %v, want verdictPositive", got)
		}
	}
}

func TestDetectClientHelloNegativeOnFirstByte(t *testing.T) {
	buf := []byte{0x47} // 'G' as in "GET / HTTP/1.1"
	if got := detectClientHello(buf); got != verdictNegative {
		t.Fatalf("got %v, want verdictNegative", got)
	}
}

func TestDetectClientHelloNegativeOnLegacyVersion(t *testing.T) {
	buf := []byte{0x16, 0x05}
	if got := detectClientHello(buf); got != verdictNegative {
		t.Fatalf("got %v, want verdictNegative", got)
	}
}

func TestDetectClientHelloNegativeOnBadHandshakeType(t *testing.T) {
	buf := []byte{0x16, 0x03, 0x03, 0x00, 0x40, 0x02} // server_hello, not client_hello
	if got := detectClientHello(buf); got != verdictNegative {
		t.Fatalf("got %v, want verdictNegative", got)
	}
}

func TestDetectClientHelloNegativeOnImplausibleLength(t *testing.T) {
	buf := []byte{0x16, 0x03, 0x03, 0xFF, 0xFF} // record length far exceeds maxRecordLength
	if got := detectClientHello(buf); got != verdictNegative {
		t.Fatalf("got %v, want verdictNegative", got)
	}
}

func TestDetectClientHelloInconclusiveOnShortBuffer(t *testing.T) {
	buf := []byte{0x16, 0x03}
	if got := detectClientHello(buf); got != verdictInconclusive {
		t.Fatalf("got %v, want verdictInconclusive", got)
	}
}
