package sslxray

// clientHelloVerdict is the result of inspecting buffered cleartext bytes
// for a TLS ClientHello prefix.
type clientHelloVerdict int

const (
	// verdictInconclusive means more bytes are needed before a decision
	// can be made.
	verdictInconclusive clientHelloVerdict = iota
	// verdictPositive means the buffered bytes form a well-formed
	// ClientHello record+handshake header.
	verdictPositive
	// verdictNegative means the buffered bytes disprove a ClientHello.
	verdictNegative
)

const (
	tlsRecordTypeHandshake = 0x16
	tlsHandshakeClientHi   = 0x01

	// recordHeaderLen is type(1) + legacy version(2) + length(2).
	recordHeaderLen = 5
	// helloHeaderLen adds the handshake header: type(1) + length(3).
	helloHeaderLen = recordHeaderLen + 4

	// maxRecordLength is the largest plausible TLS record body length;
	// anything bigger cannot be a legitimate ClientHello record.
	maxRecordLength = 1 << 14

	// maxPreDetectionBuffer caps how many undecided bytes the detector
	// will hold; exceeding it without a verdict commits to passthrough
	// so the connection cannot stall behind the decision.
	maxPreDetectionBuffer = 16 * 1024
)

// detectClientHello inspects the client-to-server bytes buffered so far
// and returns a verdict. It is robust to the ClientHello arriving split
// across arbitrary chunk boundaries, including one byte at a time: callers
// accumulate buf across calls and re-invoke detectClientHello on the
// growing buffer until it returns something other than
// verdictInconclusive.
func detectClientHello(buf []byte) clientHelloVerdict {
	if len(buf) >= 1 && buf[0] != tlsRecordTypeHandshake {
		return verdictNegative
	}
	if len(buf) >= 2 && buf[1] != 0x03 {
		// Legacy record version: major byte must be 3 (SSLv3/TLSx.y all
		// use major=3; anything else cannot be a TLS record).
		return verdictNegative
	}
	if len(buf) >= recordHeaderLen {
		recLen := int(buf[3])<<8 | int(buf[4])
		if recLen <= 0 || recLen > maxRecordLength {
			return verdictNegative
		}
	}
	if len(buf) >= recordHeaderLen+1 && buf[recordHeaderLen] != tlsHandshakeClientHi {
		return verdictNegative
	}
	if len(buf) >= helloHeaderLen {
		return verdictPositive
	}
	if len(buf) >= maxPreDetectionBuffer {
		return verdictNegative
	}
	return verdictInconclusive
}
