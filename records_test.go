package sslxray

import "testing"

func TestAddrRendersDashForUnknown(t *testing.T) {
	if got := addr("", ""); got != "-:-" {
		t.Fatalf("got %q, want %q", got, "-:-")
	}
	if got := addr("10.0.0.1", "443"); got != "10.0.0.1:443" {
		t.Fatalf("got %q, want %q", got, "10.0.0.1:443")
	}
}

func TestExpiredLineFieldOrder(t *testing.T) {
	c := &Conn{SrcHost: "10.0.0.1", SrcPort: "51234", DstHost: "93.184.216.34", DstPort: "443", IsValid: true}
	got := expiredLine(2, 37, c)
	want := "EXPIRED: thr=2, time=37, src_addr=10.0.0.1:51234, dst_addr=93.184.216.34:443, user=-, valid=1"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestIdleLineReportsChildCountAndPresence(t *testing.T) {
	parent := &Conn{SrcHost: "10.0.0.1", SrcPort: "1", DstHost: "10.0.0.2", DstPort: "443"}
	parent.Children = &Conn{ID: 99}
	parent.ChildCount = 1

	got := idleLine(0, 3, parent, 12, 40)
	want := "IDLE: thr=0, id=3, ce=1, cc=1, at=12, ct=40, src_addr=10.0.0.1:1, dst_addr=10.0.0.2:443, user=-, valid=0"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestStatsLineFieldOrder(t *testing.T) {
	snap := statsSnapshot{
		thrIdx: 1, mld: 4, mfd: 2, mat: 10, mct: 20,
		iib: 100, iob: 200, eib: 300, eob: 400,
		swm: 1, uwm: 2, to: 3, err: 4, si: 5,
	}
	got := statsLine(snap)
	want := "STATS: thr=1, mld=4, mfd=2, mat=10, mct=20, iib=100, iob=200, eib=300, eob=400, swm=1, uwm=2, to=3, err=4, si=5"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestDbgChildTreeListsEachChild(t *testing.T) {
	parent := &Conn{ID: 1}
	c1 := &Conn{ID: 2}
	c2 := &Conn{ID: 3}
	c1.childNext = nil
	c2.childNext = c1
	parent.Children = c2

	got := dbgChildTree(0, parent)
	want := "child id=3 parent=0; child id=2 parent=0"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestDbgChildTreeEmptyWhenNoChildren(t *testing.T) {
	parent := &Conn{ID: 1}
	if got := dbgChildTree(0, parent); got != "" {
		t.Fatalf("got %q, want empty string", got)
	}
}
