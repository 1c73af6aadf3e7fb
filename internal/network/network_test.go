package network

import (
	"net"
	"testing"
	"time"
)

func newTestNetwork() *Network {
	return &Network{
		family:   FamilyV4,
		inflight: make(map[uint16]*inFlightProbe),
		replies:  make(chan Reply, 4),
	}
}

func TestResolveMatchesInFlightBySerial(t *testing.T) {
	n := newTestNetwork()
	n.inflight[4242] = &inFlightProbe{probeID: 7, sentAt: time.Now().Add(-10 * time.Millisecond), family: FamilyV4}

	n.resolve(4242, net.ParseIP("203.0.113.1"), time.Now(), 11, 0, false)

	select {
	case r := <-n.replies:
		if r.ProbeID != 7 {
			t.Errorf("want probe id 7, got %d", r.ProbeID)
		}
		if r.RTT <= 0 {
			t.Errorf("expected positive RTT, got %v", r.RTT)
		}
	default:
		t.Fatal("expected a reply to be posted")
	}

	if _, ok := n.inflight[4242]; ok {
		t.Errorf("resolved entry should be removed from the in-flight table")
	}
}

func TestResolveIgnoresUnknownSerial(t *testing.T) {
	n := newTestNetwork()
	n.resolve(1, net.ParseIP("203.0.113.1"), time.Now(), 11, 0, false)

	select {
	case <-n.replies:
		t.Fatal("unexpected reply for an unknown serial")
	default:
	}
}

func TestForgetRemovesInFlightEntry(t *testing.T) {
	n := newTestNetwork()
	n.inflight[9] = &inFlightProbe{probeID: 1, sentAt: time.Now()}
	n.Forget(9)
	if _, ok := n.inflight[9]; ok {
		t.Fatal("Forget did not remove the entry")
	}
}

func TestIsRoutingErrorDistinguishesCases(t *testing.T) {
	cases := []struct {
		name    string
		reply   Reply
		family  Family
		routing bool
	}{
		{"time exceeded", Reply{ICMPType: 11, ICMPCode: 0}, FamilyV4, false},
		{"destination reached", Reply{ICMPType: 3, ICMPCode: 3, Reached: true}, FamilyV4, false},
		{"admin prohibited v4", Reply{ICMPType: ICMPv4DestUnreachable, ICMPCode: 13}, FamilyV4, true},
		{"net unreachable v6", Reply{ICMPType: ICMPv6DestUnreachable, ICMPCode: 0}, FamilyV6, true},
		{"time exceeded v6", Reply{ICMPType: 3, ICMPCode: 0}, FamilyV6, false},
	}
	for _, c := range cases {
		if got := c.reply.IsRoutingError(c.family); got != c.routing {
			t.Errorf("%s: want IsRoutingError=%v, got %v", c.name, c.routing, got)
		}
	}
}

func TestPendingCountsInFlight(t *testing.T) {
	n := newTestNetwork()
	n.inflight[1] = &inFlightProbe{}
	n.inflight[2] = &inFlightProbe{}
	if got := n.Pending(); got != 2 {
		t.Errorf("want 2 pending, got %d", got)
	}
}
