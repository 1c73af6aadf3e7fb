package traceroute

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/mnikolakis/flowtrace/internal/algorithm"
	"github.com/mnikolakis/flowtrace/internal/field"
	"github.com/mnikolakis/flowtrace/internal/network"
	"github.com/mnikolakis/flowtrace/internal/probe"
	"github.com/mnikolakis/flowtrace/internal/ptloop"
)

// buildSkeleton constructs the protocol stack every probe in a sweep
// is derived from: an IP layer addressed to dst, carrying either UDP
// (to a base destination port) or an ICMP echo request.
func buildSkeleton(cfg Config, dst net.IP) (*probe.Probe, error) {
	ipLayer := "ipv4"
	if cfg.Family == 6 {
		ipLayer = "ipv6"
	}
	transport := "udp"
	if cfg.Method == MethodICMP {
		transport = "icmp"
		if cfg.Family == 6 {
			transport = "icmpv6"
		}
	}

	p := probe.New()
	if err := p.SetProtocols(ipLayer, transport); err != nil {
		return nil, fmt.Errorf("traceroute: buildSkeleton: %w", err)
	}

	dstField, err := field.Create("dst_ip", field.Address, dst)
	if err != nil {
		return nil, fmt.Errorf("traceroute: buildSkeleton: %w", err)
	}
	if err := p.SetField(ipLayer+".dst_ip", dstField); err != nil {
		return nil, fmt.Errorf("traceroute: buildSkeleton: %w", err)
	}

	if cfg.Method == MethodUDP {
		portField, err := field.Create("dst_port", field.I16, uint16(cfg.DestPort))
		if err != nil {
			return nil, fmt.Errorf("traceroute: buildSkeleton: %w", err)
		}
		if err := p.SetField("udp.dst_port", portField); err != nil {
			return nil, fmt.Errorf("traceroute: buildSkeleton: %w", err)
		}

		srcField, err := field.Create("src_port", field.I16, uint16(cfg.SourcePort))
		if err != nil {
			return nil, fmt.Errorf("traceroute: buildSkeleton: %w", err)
		}
		if err := p.SetField("udp.src_port", srcField); err != nil {
			return nil, fmt.Errorf("traceroute: buildSkeleton: %w", err)
		}
	}

	payload := cfg.PayloadSize
	if payload < probe.SerialAdjustmentSize {
		payload = probe.SerialAdjustmentSize
	}
	p.PayloadResize(payload)
	return p, nil
}

// probeForHop clones the skeleton and sets this sweep's current TTL
// (or hop limit, for IPv6) into it.
func probeForHop(skeleton *probe.Probe, cfg Config, ttl int) (*probe.Probe, error) {
	p := probe.New()
	if err := p.SetProtocols(skeleton.Protocols()...); err != nil {
		return nil, err
	}
	for _, name := range fieldNamesFor(cfg) {
		f, err := skeleton.Extract(name)
		if err == nil {
			_ = p.SetField(name, f)
		}
	}
	p.SetPayload(skeleton.Payload())

	ttlField := "ipv4.ttl"
	fieldName := "ttl"
	if cfg.Family == 6 {
		ttlField = "ipv6.hop_limit"
		fieldName = "hop_limit"
	}
	f, err := field.Create(fieldName, field.I8, uint8(ttl))
	if err != nil {
		return nil, err
	}
	if err := p.SetField(ttlField, f); err != nil {
		return nil, err
	}
	return p, nil
}

func fieldNamesFor(cfg Config) []string {
	ipLayer := "ipv4"
	if cfg.Family == 6 {
		ipLayer = "ipv6"
	}
	names := []string{ipLayer + ".dst_ip"}
	if cfg.Method == MethodUDP {
		names = append(names, "udp.dst_port", "udp.src_port")
	}
	return names
}

// Run drives one complete sweep to dst and returns its Result. It
// wires together a Network (raw send + ICMP listen), a ptloop.Loop
// (the single-threaded scheduler every timer and state transition runs
// on), and an algorithm.Instance running the "traceroute" descriptor:
// the loop's own goroutine is the only place sweepState is ever
// touched, with the Network's recvLoop goroutine strictly limited to
// posting closures onto the loop.
func Run(ctx context.Context, target string, dst net.IP, cfg Config) (*Result, error) {
	family := network.FamilyV4
	if cfg.Family == 6 {
		family = network.FamilyV6
	}

	net_, err := network.Open(family)
	if err != nil {
		return nil, fmt.Errorf("traceroute: Run: %w", err)
	}
	defer net_.Close()
	net_.Listen(ctx)

	skeleton, err := buildSkeleton(cfg, dst)
	if err != nil {
		return nil, fmt.Errorf("traceroute: Run: %w", err)
	}

	descriptor, err := algorithm.Lookup(AlgorithmName)
	if err != nil {
		return nil, fmt.Errorf("traceroute: Run: %w", err)
	}
	st := newSweepState(cfg, dst)
	inst := algorithm.NewInstance(descriptor, cfg, skeleton)
	inst.State = st

	loop := ptloop.New(0)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case r, ok := <-net_.Replies():
				if !ok {
					return
				}
				loop.Post(func() { onReply(inst, loop, net_, st, r) })
			}
		}
	}()

	loop.Post(func() { sendHop(inst, loop, net_, st, skeleton) })

	if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("traceroute: Run: %w", err)
	}

	result := &Result{
		Target:     target,
		ResolvedIP: dst,
		Timestamp:  time.Now(),
		Method:     cfg.Method,
		Hops:       st.hops,
		Completed:  st.reached,
	}
	result.finalize()
	return result, nil
}

// sendHop fires every probe for the sweep's current TTL and arms each
// one's timeout timer. Only ever called from the loop goroutine.
func sendHop(inst *algorithm.Instance, loop *ptloop.Loop, n *network.Network, st *sweepState, skeleton *probe.Probe) {
	ttl := st.ttl
	for i := 0; i < st.cfg.ProbesPerHop; i++ {
		p, err := probeForHop(skeleton, st.cfg, ttl)
		if err != nil {
			continue
		}
		serial := st.nextSerial()
		p.SetID(uint64(serial))

		if err := n.Send(p, st.dst, serial); err != nil {
			continue
		}

		loop.AddTimer(st.cfg.Timeout, func() {
			n.Forget(serial)
			if err := inst.Dispatch(algorithm.Event{Kind: algorithm.Star, Payload: serial}); err != nil {
				return
			}
			drainEvents(inst, loop, n, st)
		})
	}
}

// onReply folds one network.Reply into the sweep and, if it closed
// out the current hop, reacts to whatever the handler emitted. A
// reply whose ICMP type/code marks it as a routing error (anything
// but the expected TimeExceeded or the destination's own answer) is
// dispatched as IcmpError instead of ProbeReply, per the distinct
// outcome a DstUnreach other than port-unreachable represents.
func onReply(inst *algorithm.Instance, loop *ptloop.Loop, n *network.Network, st *sweepState, r network.Reply) {
	family := network.FamilyV4
	if st.cfg.Family == 6 {
		family = network.FamilyV6
	}
	kind := algorithm.ProbeReply
	if r.IsRoutingError(family) {
		kind = algorithm.IcmpError
	}
	if err := inst.Dispatch(algorithm.Event{Kind: kind, Payload: r}); err != nil {
		return
	}
	drainEvents(inst, loop, n, st)
}

// drainEvents reacts to whatever the handler queued: "next-hop"
// advances the sweep, AlgorithmTerminated stops the loop.
func drainEvents(inst *algorithm.Instance, loop *ptloop.Loop, n *network.Network, st *sweepState) {
	for _, ev := range inst.DrainEvents() {
		switch ev.Kind {
		case algorithm.AlgorithmTerminated:
			loop.Terminate()
		case algorithm.AlgorithmEvent:
			if skel := inst.Skeleton; skel != nil {
				sendHop(inst, loop, n, st, skel)
			}
		}
	}
}
