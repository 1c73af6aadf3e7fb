package traceroute

import (
	"fmt"
	"net"

	"github.com/mnikolakis/flowtrace/internal/algorithm"
	"github.com/mnikolakis/flowtrace/internal/network"
)

// AlgorithmName is the name a sweep registers itself under in the
// algorithm registry.
const AlgorithmName = "traceroute"

func init() {
	algorithm.Register(&algorithm.Descriptor{
		Name:       AlgorithmName,
		NewOptions: func() any { return DefaultConfig() },
		Handler:    handleEvent,
	})
}

// sweepState is the mutable state one sweep carries in its
// algorithm.Instance.State: the TTL currently being probed, the
// replies collected for it so far, and every hop finished so far.
// bySerial exists because a Paris serial is the only thing a reply
// carries back — the state needs it to know which of the current
// hop's probe slots just answered.
type sweepState struct {
	cfg Config
	dst net.IP

	ttl           int
	sentAtTTL     int
	repliesAtTTL  []float64
	icmpErrAtTTL  []bool
	ipAtTTL       net.IP
	reachedAtTTL  bool
	allStarStreak int
	bySerial      map[uint16]int
	serialCounter uint16

	hops    []Hop
	done    bool
	reached bool
}

func newSweepState(cfg Config, dst net.IP) *sweepState {
	s := &sweepState{cfg: cfg, dst: dst, ttl: cfg.FirstTTL}
	s.beginHop()
	return s
}

// beginHop resets the bookkeeping for a fresh TTL.
func (s *sweepState) beginHop() {
	s.sentAtTTL = 0
	s.repliesAtTTL = nil
	s.icmpErrAtTTL = nil
	s.ipAtTTL = nil
	s.reachedAtTTL = false
	s.bySerial = make(map[uint16]int, s.cfg.ProbesPerHop)
}

// nextSerial allocates the serial the next probe at the current TTL
// should carry and reserves its reply slot. Serials are unique across
// the whole sweep, not just the current hop, so a late duplicate
// reply from an earlier TTL can never be mistaken for a current one.
func (s *sweepState) nextSerial() uint16 {
	serial := s.serialCounter
	s.serialCounter++
	s.bySerial[serial] = len(s.repliesAtTTL)
	s.repliesAtTTL = append(s.repliesAtTTL, 0)
	s.icmpErrAtTTL = append(s.icmpErrAtTTL, false)
	s.sentAtTTL++
	return serial
}

func (s *sweepState) recordReply(serial uint16, rttMs float64, from net.IP, reached bool) {
	idx, ok := s.bySerial[serial]
	if !ok {
		return
	}
	s.repliesAtTTL[idx] = rttMs
	if from != nil {
		s.ipAtTTL = from
	}
	if reached {
		s.reachedAtTTL = true
	}
}

// recordIcmpError folds a routing-error reply into the current hop:
// it still occupies this probe slot and may reveal the responding
// router's address, but it never marks the hop as having reached dst.
func (s *sweepState) recordIcmpError(serial uint16, rttMs float64, from net.IP) {
	idx, ok := s.bySerial[serial]
	if !ok {
		return
	}
	s.repliesAtTTL[idx] = rttMs
	s.icmpErrAtTTL[idx] = true
	if from != nil {
		s.ipAtTTL = from
	}
}

func (s *sweepState) recordStar(serial uint16) {
	idx, ok := s.bySerial[serial]
	if !ok || s.repliesAtTTL[idx] != 0 {
		return
	}
	s.repliesAtTTL[idx] = -1
}

// hopComplete reports whether every probe sent at the current TTL has
// either a reply or a star recorded (any non-zero entry).
func (s *sweepState) hopComplete() bool {
	if s.sentAtTTL < s.cfg.ProbesPerHop {
		return false
	}
	for _, rtt := range s.repliesAtTTL {
		if rtt == 0 {
			return false
		}
	}
	return true
}

// finishHop appends the current TTL's Hop and decides whether the
// sweep continues: it stops once the destination itself responds, the
// configured TTL ceiling is hit, or MaxStars consecutive hops come
// back completely silent.
func (s *sweepState) finishHop() {
	hop := Hop{
		TTL:        s.ttl,
		IP:         s.ipAtTTL,
		RTTs:       append([]float64(nil), s.repliesAtTTL...),
		ICMPErrors: append([]bool(nil), s.icmpErrAtTTL...),
		Reached:    s.reachedAtTTL,
	}
	hop.finalize()
	s.hops = append(s.hops, hop)
	if s.cfg.OnHop != nil {
		s.cfg.OnHop(hop)
	}

	if s.ipAtTTL == nil {
		s.allStarStreak++
	} else {
		s.allStarStreak = 0
	}

	switch {
	case s.reachedAtTTL && hop.IsDestination(s.dst):
		s.reached = true
		s.done = true
	case s.ttl >= s.cfg.MaxTTL:
		s.done = true
	case s.allStarStreak >= s.cfg.MaxStars:
		s.done = true
	default:
		s.ttl++
		s.beginHop()
	}
}

// handleEvent is the traceroute algorithm's Handler: it folds one
// incoming event into the sweep's per-TTL bookkeeping and, once every
// probe at the current TTL has answered or timed out, closes out the
// hop and emits either a continuation or a termination signal for the
// driver loop to act on.
func handleEvent(inst *algorithm.Instance, ev algorithm.Event) error {
	st, ok := inst.State.(*sweepState)
	if !ok || st == nil {
		return fmt.Errorf("traceroute: instance state is not a sweepState")
	}
	if st.done {
		return nil
	}

	switch ev.Kind {
	case algorithm.ProbeReply:
		r, ok := ev.Payload.(network.Reply)
		if !ok {
			return fmt.Errorf("traceroute: ProbeReply payload is not a network.Reply")
		}
		st.recordReply(uint16(r.ProbeID), float64(r.RTT.Microseconds())/1000.0, r.FromIP, r.Reached)
	case algorithm.IcmpError:
		r, ok := ev.Payload.(network.Reply)
		if !ok {
			return fmt.Errorf("traceroute: IcmpError payload is not a network.Reply")
		}
		st.recordIcmpError(uint16(r.ProbeID), float64(r.RTT.Microseconds())/1000.0, r.FromIP)
	case algorithm.Star:
		serial, ok := ev.Payload.(uint16)
		if !ok {
			return fmt.Errorf("traceroute: Star payload is not a uint16 serial")
		}
		st.recordStar(serial)
	default:
		return nil
	}

	if st.hopComplete() {
		st.finishHop()
		if st.done {
			inst.Emit(algorithm.Event{Kind: algorithm.AlgorithmTerminated, Issuer: AlgorithmName})
		} else {
			inst.Emit(algorithm.Event{Kind: algorithm.AlgorithmEvent, Issuer: AlgorithmName, Payload: "next-hop"})
		}
	}
	return nil
}
