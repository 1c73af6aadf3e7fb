package traceroute

import (
	"net"
	"testing"
	"time"

	"github.com/mnikolakis/flowtrace/internal/algorithm"
	"github.com/mnikolakis/flowtrace/internal/network"
)

func TestCalculateRTTStats(t *testing.T) {
	avg, min, max, jitter := calculateRTTStats([]float64{10, 20, -1, 30})
	if avg != 20 || min != 10 || max != 30 || jitter != 20 {
		t.Fatalf("got avg=%v min=%v max=%v jitter=%v", avg, min, max, jitter)
	}
}

func TestCalculateRTTStatsAllStars(t *testing.T) {
	avg, min, max, jitter := calculateRTTStats([]float64{-1, -1, -1})
	if avg != 0 || min != 0 || max != 0 || jitter != 0 {
		t.Fatal("expected all zeros for an all-star hop")
	}
}

func TestCalculateLossPercent(t *testing.T) {
	if got := calculateLossPercent([]float64{10, -1, -1, 20}); got != 50 {
		t.Fatalf("want 50%%, got %v", got)
	}
}

func TestHopFinalizeAndIsDestination(t *testing.T) {
	dst := net.ParseIP("203.0.113.1")
	h := Hop{TTL: 5, IP: dst, RTTs: []float64{12, 14, -1}}
	h.finalize()

	if !h.IsDestination(dst) {
		t.Fatal("expected IsDestination to match")
	}
	if h.LossPercent < 33 || h.LossPercent > 34 {
		t.Fatalf("unexpected loss percent: %v", h.LossPercent)
	}
	if h.AvgRTT != 13 {
		t.Fatalf("want avg 13, got %v", h.AvgRTT)
	}
}

func TestResultFinalizeUsesLastRespondingHop(t *testing.T) {
	r := &Result{
		Hops: []Hop{
			{TTL: 1, RTTs: []float64{10}},
			{TTL: 2, RTTs: []float64{-1, -1}},
		},
	}
	r.finalize()
	if r.Summary.TotalHops != 2 {
		t.Fatalf("want 2 hops, got %d", r.Summary.TotalHops)
	}
	if r.Summary.TotalTimeMs != 10 {
		t.Fatalf("want total time 10ms (from the last responding hop), got %v", r.Summary.TotalTimeMs)
	}
}

func newTestInstance(cfg Config, dst net.IP) (*algorithm.Instance, *sweepState) {
	d, _ := algorithm.Lookup(AlgorithmName)
	st := newSweepState(cfg, dst)
	inst := algorithm.NewInstance(d, cfg, nil)
	inst.State = st
	return inst, st
}

func TestSweepAdvancesOnceHopComplete(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProbesPerHop = 2
	cfg.MaxTTL = 5
	cfg.MaxStars = 3
	dst := net.ParseIP("203.0.113.1")
	inst, st := newTestInstance(cfg, dst)

	s1 := st.nextSerial()
	s2 := st.nextSerial()

	hop := net.ParseIP("198.51.100.1")
	if err := inst.Dispatch(algorithm.Event{Kind: algorithm.ProbeReply, Payload: network.Reply{
		ProbeID: uint64(s1), FromIP: hop, RTT: 10 * time.Millisecond,
	}}); err != nil {
		t.Fatal(err)
	}
	if st.hopComplete() {
		t.Fatal("hop should not be complete with one of two probes answered")
	}

	if err := inst.Dispatch(algorithm.Event{Kind: algorithm.Star, Payload: s2}); err != nil {
		t.Fatal(err)
	}

	events := inst.DrainEvents()
	if len(events) != 1 || events[0].Kind != algorithm.AlgorithmEvent {
		t.Fatalf("expected a single next-hop event, got %+v", events)
	}
	if len(st.hops) != 1 {
		t.Fatalf("want 1 finished hop, got %d", len(st.hops))
	}
	if st.ttl != cfg.FirstTTL+1 {
		t.Fatalf("want ttl advanced to %d, got %d", cfg.FirstTTL+1, st.ttl)
	}
	if st.hops[0].RTTs[0] != 10 || st.hops[0].RTTs[1] != -1 {
		t.Fatalf("unexpected recorded RTTs: %+v", st.hops[0].RTTs)
	}
}

func TestSweepTerminatesWhenDestinationReached(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProbesPerHop = 1
	dst := net.ParseIP("203.0.113.1")
	inst, st := newTestInstance(cfg, dst)

	serial := st.nextSerial()
	if err := inst.Dispatch(algorithm.Event{Kind: algorithm.ProbeReply, Payload: network.Reply{
		ProbeID: uint64(serial), FromIP: dst, RTT: 5 * time.Millisecond, Reached: true,
	}}); err != nil {
		t.Fatal(err)
	}

	events := inst.DrainEvents()
	if len(events) != 1 || events[0].Kind != algorithm.AlgorithmTerminated {
		t.Fatalf("expected termination event, got %+v", events)
	}
	if !st.done || !st.reached {
		t.Fatal("expected sweep to be done and reached")
	}
}

func TestSweepTerminatesAfterMaxConsecutiveStarHops(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProbesPerHop = 1
	cfg.MaxStars = 2
	cfg.MaxTTL = 30
	dst := net.ParseIP("203.0.113.1")
	inst, st := newTestInstance(cfg, dst)

	for i := 0; i < cfg.MaxStars; i++ {
		serial := st.nextSerial()
		if err := inst.Dispatch(algorithm.Event{Kind: algorithm.Star, Payload: serial}); err != nil {
			t.Fatal(err)
		}
		inst.DrainEvents()
	}

	if !st.done {
		t.Fatal("expected sweep to terminate after MaxStars consecutive silent hops")
	}
	if st.reached {
		t.Fatal("a silent sweep never reaches the destination")
	}
	if len(st.hops) != cfg.MaxStars {
		t.Fatalf("want %d recorded hops, got %d", cfg.MaxStars, len(st.hops))
	}
}

func TestSweepStopsAtMaxTTL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProbesPerHop = 1
	cfg.FirstTTL = 1
	cfg.MaxTTL = 1
	cfg.MaxStars = 100
	dst := net.ParseIP("203.0.113.1")
	inst, st := newTestInstance(cfg, dst)

	serial := st.nextSerial()
	hop := net.ParseIP("198.51.100.9")
	if err := inst.Dispatch(algorithm.Event{Kind: algorithm.ProbeReply, Payload: network.Reply{
		ProbeID: uint64(serial), FromIP: hop, RTT: time.Millisecond,
	}}); err != nil {
		t.Fatal(err)
	}

	if !st.done {
		t.Fatal("expected sweep to stop once it reached MaxTTL, even without hitting the destination")
	}
	if st.reached {
		t.Fatal("an intermediate hop must not be mistaken for the destination")
	}
}

func TestIcmpErrorRecordedDistinctlyFromReply(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProbesPerHop = 2
	dst := net.ParseIP("203.0.113.1")
	inst, st := newTestInstance(cfg, dst)

	s1 := st.nextSerial()
	s2 := st.nextSerial()
	router := net.ParseIP("198.51.100.1")

	if err := inst.Dispatch(algorithm.Event{Kind: algorithm.IcmpError, Payload: network.Reply{
		ProbeID: uint64(s1), FromIP: router, RTT: 4 * time.Millisecond,
		ICMPType: network.ICMPv4DestUnreachable, ICMPCode: 13,
	}}); err != nil {
		t.Fatal(err)
	}
	if err := inst.Dispatch(algorithm.Event{Kind: algorithm.ProbeReply, Payload: network.Reply{
		ProbeID: uint64(s2), FromIP: router, RTT: 5 * time.Millisecond,
	}}); err != nil {
		t.Fatal(err)
	}

	if len(st.hops) != 1 {
		t.Fatalf("want 1 finished hop, got %d", len(st.hops))
	}
	hop := st.hops[0]
	if hop.Reached {
		t.Fatal("an ICMP error must never mark the hop as having reached the destination")
	}
	if len(hop.ICMPErrors) != 2 || !hop.ICMPErrors[0] || hop.ICMPErrors[1] {
		t.Fatalf("expected only the first probe slot flagged as an ICMP error, got %+v", hop.ICMPErrors)
	}
	if hop.RTTs[0] != 4 || hop.RTTs[1] != 5 {
		t.Fatalf("unexpected recorded RTTs: %+v", hop.RTTs)
	}
}

func TestDispatchAfterDoneIsNoop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProbesPerHop = 1
	dst := net.ParseIP("203.0.113.1")
	inst, st := newTestInstance(cfg, dst)
	st.done = true

	serial := st.nextSerial()
	if err := inst.Dispatch(algorithm.Event{Kind: algorithm.Star, Payload: serial}); err != nil {
		t.Fatal(err)
	}
	if len(inst.DrainEvents()) != 0 {
		t.Fatal("a finished sweep must not emit further events")
	}
}
