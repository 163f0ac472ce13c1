package sslxray

import (
	"fmt"
	"strings"

	"github.com/proxycore/sslxray/logging"
)

// addr renders a host:port pair with each half dashed-out independently
// when unknown, e.g. "10.0.0.1:443" or "-:-".
func addr(host, port string) string {
	return logging.DashIfEmpty(host) + ":" + logging.DashIfEmpty(port)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// expiredLine builds the EXPIRED record: "thr, time, src_addr, dst_addr,
// user, valid".
func expiredLine(thrIdx int, elapsedSeconds int64, c *Conn) string {
	return fmt.Sprintf(
		"EXPIRED: thr=%d, time=%d, src_addr=%s, dst_addr=%s, user=%s, valid=%d",
		thrIdx, elapsedSeconds, addr(c.SrcHost, c.SrcPort), addr(c.DstHost, c.DstPort),
		logging.DashIfEmpty(c.User), boolToInt(c.IsValid),
	)
}

// idleLine builds the IDLE record: "thr, id, ce, cc, at, ct, src_addr,
// dst_addr, user, valid". ce is 1 if the connection has at least one
// child, cc is the monotonic child count.
func idleLine(thrIdx int, idx int, c *Conn, atSeconds, ctSeconds int64) string {
	hasChildren := 0
	if c.Children != nil {
		hasChildren = 1
	}
	return fmt.Sprintf(
		"IDLE: thr=%d, id=%d, ce=%d, cc=%d, at=%d, ct=%d, src_addr=%s, dst_addr=%s, user=%s, valid=%d",
		thrIdx, idx, hasChildren, c.ChildCount, atSeconds, ctSeconds,
		addr(c.SrcHost, c.SrcPort), addr(c.DstHost, c.DstPort),
		logging.DashIfEmpty(c.User), boolToInt(c.IsValid),
	)
}

// statsSnapshot holds the counters a Worker accumulates between stats
// ticks; its field names mirror the STATS record's abbreviated keys
// directly so statsLine can format it without a separate translation
// table.
type statsSnapshot struct {
	thrIdx int
	mld    int   // max load
	mfd    int   // max fd (platform-agnostic here: highest child count observed)
	mat    int64 // max inactivity, seconds
	mct    int64 // max connection age, seconds
	iib    uint64
	iob    uint64
	eib    uint64
	eob    uint64
	swm    uint64 // set-watermark count
	uwm    uint64 // unset-watermark count
	to     uint64 // timed-out conns this period
	err    uint64 // errors this period
	si     uint64 // stats sequence index
}

// statsLine builds the STATS record: "thr, mld, mfd, mat, mct, iib, iob,
// eib, eob, swm, uwm, to, err, si".
func statsLine(s statsSnapshot) string {
	return fmt.Sprintf(
		"STATS: thr=%d, mld=%d, mfd=%d, mat=%d, mct=%d, iib=%d, iob=%d, eib=%d, eob=%d, swm=%d, uwm=%d, to=%d, err=%d, si=%d",
		s.thrIdx, s.mld, s.mfd, s.mat, s.mct, s.iib, s.iob, s.eib, s.eob, s.swm, s.uwm, s.to, s.err, s.si,
	)
}

// dbgChildTree renders a parent connection's child chain for the debug
// sink, emitted during the stats walk for every live connection that
// carries children. Children have no stats records of their own; this
// trace is the only place they surface per-id.
func dbgChildTree(parentIdx int, c *Conn) string {
	var b strings.Builder
	idx := 0
	for child := c.Children; child != nil; child = child.childNext {
		if idx > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "child id=%d parent=%d", child.ID, parentIdx)
		idx++
	}
	return b.String()
}
