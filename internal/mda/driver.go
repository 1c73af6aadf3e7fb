package mda

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

// Result is one completed MDA run: the full lattice plus whether any
// branch actually reached the destination.
type Result struct {
	Target     string
	ResolvedIP net.IP
	Timestamp  time.Time
	Lattice    *Lattice
	Reached    bool
}

func buildSkeleton(family int, destPort int, dst net.IP) (*probe.Probe, error) {
	ipLayer := "ipv4"
	if family == 6 {
		ipLayer = "ipv6"
	}
	p := probe.New()
	if err := p.SetProtocols(ipLayer, "udp"); err != nil {
		return nil, fmt.Errorf("mda: buildSkeleton: %w", err)
	}
	dstField, err := field.Create("dst_ip", field.Address, dst)
	if err != nil {
		return nil, err
	}
	if err := p.SetField(ipLayer+".dst_ip", dstField); err != nil {
		return nil, err
	}
	portField, err := field.Create("dst_port", field.I16, uint16(destPort))
	if err != nil {
		return nil, err
	}
	if err := p.SetField("udp.dst_port", portField); err != nil {
		return nil, err
	}
	p.PayloadResize(probe.SerialAdjustmentSize + 16)
	return p, nil
}

// probeForBranch clones the skeleton and sets this probe's TTL and
// flow-varying source port: serial both identifies the probe's reply
// (via the checksum trick) and IS its ECMP-hashed flow identifier, so
// each probe in a branch's fan-out is free to land on a different
// load-balanced interface.
func probeForBranch(skeleton *probe.Probe, family int, ttl int, serial uint16) (*probe.Probe, error) {
	p := probe.New()
	if err := p.SetProtocols(skeleton.Protocols()...); err != nil {
		return nil, err
	}
	ipLayer := "ipv4"
	ttlField := "ipv4.ttl"
	ttlName := "ttl"
	if family == 6 {
		ipLayer = "ipv6"
		ttlField = "ipv6.hop_limit"
		ttlName = "hop_limit"
	}
	for _, name := range []string{ipLayer + ".dst_ip", "udp.dst_port"} {
		if f, err := skeleton.Extract(name); err == nil {
			_ = p.SetField(name, f)
		}
	}
	p.SetPayload(skeleton.Payload())

	ttlVal, err := field.Create(ttlName, field.I8, uint8(ttl))
	if err != nil {
		return nil, err
	}
	if err := p.SetField(ttlField, ttlVal); err != nil {
		return nil, err
	}
	srcPort, err := field.Create("src_port", field.I16, serial)
	if err != nil {
		return nil, err
	}
	if err := p.SetField("udp.src_port", srcPort); err != nil {
		return nil, err
	}
	return p, nil
}

// Run drives one complete MDA run against dst: the same ptloop +
// network wiring traceroute uses, with the mda algorithm's
// SendProbesCmd events interpreted by this driver instead of
// traceroute's single per-TTL continuation signal. NewLinkCmd and
// TruncatedCmd events are drained without action; the links they
// announce are read from the lattice in the returned Result.
func Run(ctx context.Context, target string, dst net.IP, family int, destPort int, timeout time.Duration, opts Options) (*Result, error) {
	fam := network.FamilyV4
	if family == 6 {
		fam = network.FamilyV6
	}
	net_, err := network.Open(fam)
	if err != nil {
		return nil, fmt.Errorf("mda: Run: %w", err)
	}
	defer net_.Close()
	net_.Listen(ctx)

	skeleton, err := buildSkeleton(family, destPort, dst)
	if err != nil {
		return nil, fmt.Errorf("mda: Run: %w", err)
	}

	if timeout <= 0 {
		timeout = time.Second
	}
	inst := NewInstance(opts, dst, skeleton, family, timeout)
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
				loop.Post(func() {
					dispatchOutcome(inst, loop, net_, ProbeOutcome{
						Serial:   uint16(r.ProbeID),
						FromIP:   r.FromIP,
						ICMPType: r.ICMPType,
						ICMPCode: r.ICMPCode,
						Reached:  r.Reached,
					})
				})
			}
		}
	}()

	loop.Post(func() { drainCommands(inst, loop, net_) })

	if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("mda: Run: %w", err)
	}

	st := inst.State.(*mdaState)
	return &Result{
		Target:     target,
		ResolvedIP: dst,
		Timestamp:  time.Now(),
		Lattice:    st.lattice,
		Reached:    anyBranchReached(st),
	}, nil
}

func anyBranchReached(st *mdaState) bool {
	for _, b := range st.branches {
		if b.reachedDest {
			return true
		}
	}
	return false
}

// dispatchOutcome classifies one probe's outcome and dispatches it to
// the mda handler: a star (no reply at all), a routing error from an
// intermediate router (IcmpError — counts against budget but isn't a
// new interface observation), or a genuine hop reply.
func dispatchOutcome(inst *algorithm.Instance, loop *ptloop.Loop, n *network.Network, outcome ProbeOutcome) {
	st := inst.State.(*mdaState)
	fam := network.FamilyV4
	if st.family == 6 {
		fam = network.FamilyV6
	}

	kind := algorithm.ProbeReply
	switch {
	case outcome.FromIP == nil:
		kind = algorithm.Star
	case outcome.isRoutingError(fam):
		kind = algorithm.IcmpError
	}
	if err := inst.Dispatch(algorithm.Event{Kind: kind, Payload: outcome}); err != nil {
		return
	}
	drainCommands(inst, loop, n)
}

// drainCommands reacts to whatever the mda handler queued: it turns
// every SendProbesCmd into real probes on the wire and stops the loop
// once the handler reports AlgorithmTerminated.
func drainCommands(inst *algorithm.Instance, loop *ptloop.Loop, n *network.Network) {
	for _, ev := range inst.DrainEvents() {
		switch ev.Kind {
		case algorithm.AlgorithmTerminated:
			loop.Terminate()
		case algorithm.AlgorithmEvent:
			cmd, ok := ev.Payload.(SendProbesCmd)
			if !ok || cmd.Count <= 0 {
				continue
			}
			issueProbes(inst, loop, n, cmd)
		}
	}
}

func issueProbes(inst *algorithm.Instance, loop *ptloop.Loop, n *network.Network, cmd SendProbesCmd) {
	st := inst.State.(*mdaState)
	serials := AllocateSerials(inst, cmd.BranchID, cmd.Count)
	skeleton := st.skeletonFor(cmd.BranchID)
	if skeleton == nil {
		return
	}
	for _, serial := range serials {
		p, err := probeForBranch(skeleton, st.family, cmd.TTL, serial)
		if err != nil {
			continue
		}
		p.SetID(uint64(serial))
		if err := n.Send(p, st.dst, serial); err != nil {
			continue
		}
		loop.AddTimer(st.timeout, func() {
			n.Forget(serial)
			dispatchOutcome(inst, loop, n, ProbeOutcome{Serial: serial})
		})
	}
}
