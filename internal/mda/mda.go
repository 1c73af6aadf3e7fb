// Package mda implements stochastic multipath detection: a per-hop,
// per-interface branch walk that keeps probing a load-balanced hop
// with fresh flow identifiers until the Birthday-bound stopping rule
// says it is unlikely any interface remains unseen, building a lattice
// of interfaces and the links between them as it goes.
package mda

import (
	"fmt"
	"net"
	"time"

	"github.com/mnikolakis/flowtrace/internal/algorithm"
	"github.com/mnikolakis/flowtrace/internal/network"
	"github.com/mnikolakis/flowtrace/internal/probe"
)

// AlgorithmName is the name MDA registers itself under in the
// algorithm registry.
const AlgorithmName = "mda"

func init() {
	algorithm.Register(&algorithm.Descriptor{
		Name:       AlgorithmName,
		NewOptions: func() any { return DefaultOptions() },
		Handler:    handleEvent,
	})
}

// Options configures one MDA run.
type Options struct {
	Bound     float64
	MaxBranch int
	MinTTL    int
	MaxTTL    int
}

// DefaultOptions mirrors spec's default 5% miss probability and a
// generous per-hop fanout ceiling.
func DefaultOptions() Options {
	return Options{Bound: 0.05, MaxBranch: 16, MinTTL: 1, MaxTTL: 30}
}

// SendProbesCmd asks the driver to issue count fresh probes at ttl,
// all carrying the predecessor flow-id family rooted at branchID.
type SendProbesCmd struct {
	BranchID int
	TTL      int
	Count    int
}

// NewLinkCmd reports a newly observed lattice edge.
type NewLinkCmd struct {
	From NodeKey
	To   NodeKey
	Flow uint16
}

// TruncatedCmd reports that a branch hit the max_branch ceiling before
// its interface count stabilized.
type TruncatedCmd struct {
	BranchID int
	TTL      int
}

// mdaState is the mutable state one MDA run carries in its
// algorithm.Instance.State.
type mdaState struct {
	opts    Options
	dst     net.IP
	table   []int
	lattice *Lattice

	branches   map[int]*branch
	serialOf   map[uint16]int // serial -> owning branch id
	nextBranch int
	serialSeq  uint16

	active int // branches not yet finished
	done   bool

	// Transport config the driver needs to turn a SendProbesCmd into
	// real probes. Every branch shares the same skeleton/family/
	// timeout, so these live on the state rather than per-branch.
	skeleton *probe.Probe
	family   int
	timeout  time.Duration
}

// NewInstance builds a fresh algorithm.Instance running MDA against
// dst, with one root branch already queued to probe minTTL rooted at
// the virtual source node.
func NewInstance(opts Options, dst net.IP, skeleton *probe.Probe, family int, timeout time.Duration) *algorithm.Instance {
	d, err := algorithm.Lookup(AlgorithmName)
	if err != nil {
		panic(err) // registered unconditionally by this package's init
	}

	st := &mdaState{
		opts:     opts,
		dst:      dst,
		table:    StoppingTable(opts.Bound, opts.MaxBranch),
		lattice:  NewLattice(),
		branches: map[int]*branch{},
		serialOf: map[uint16]int{},
		skeleton: skeleton,
		family:   family,
		timeout:  timeout,
	}
	source := st.lattice.EnsureSourceNode(opts.MinTTL - 1)
	root := st.spawnBranch(opts.MinTTL, source)

	inst := algorithm.NewInstance(d, opts, skeleton)
	inst.State = st
	inst.Emit(algorithm.Event{Kind: algorithm.AlgorithmEvent, Issuer: AlgorithmName, Payload: SendProbesCmd{
		BranchID: root.id, TTL: root.ttl, Count: root.wantMore(),
	}})
	return inst
}

// skeletonFor returns the shared probe skeleton every branch derives
// its probes from.
func (st *mdaState) skeletonFor(branchID int) *probe.Probe { return st.skeleton }

func (st *mdaState) spawnBranch(ttl int, pred NodeKey) *branch {
	id := st.nextBranch
	st.nextBranch++
	b := newBranch(id, ttl, pred, st.table)
	st.branches[id] = b
	st.active++
	return b
}

// AllocateSerials reserves n fresh serials for branchID, marking them
// in flight. The driver calls this once per SendProbesCmd it honors,
// then serializes and sends one probe per returned serial.
func AllocateSerials(inst *algorithm.Instance, branchID int, n int) []uint16 {
	st := inst.State.(*mdaState)
	b, ok := st.branches[branchID]
	if !ok || n <= 0 {
		return nil
	}
	out := make([]uint16, 0, n)
	for i := 0; i < n; i++ {
		serial := st.serialSeq
		st.serialSeq++
		st.serialOf[serial] = branchID
		b.markIssued(serial)
		out = append(out, serial)
	}
	return out
}

// LatticeOf returns the instance's current lattice. Safe to call at
// any point, including mid-run, since the lattice only ever grows.
func LatticeOf(inst *algorithm.Instance) *Lattice {
	return inst.State.(*mdaState).lattice
}

// Done reports whether every branch has finished.
func Done(inst *algorithm.Instance) bool {
	return inst.State.(*mdaState).done
}

// ProbeOutcome is the payload handleEvent expects for
// algorithm.ProbeReply, algorithm.IcmpError and algorithm.Star: a
// serial and, for a reply, the address that answered (nil for a star)
// plus the ICMP type/code the driver used to classify it.
type ProbeOutcome struct {
	Serial   uint16
	FromIP   net.IP
	ICMPType int
	ICMPCode int
	Reached  bool
}

// isRoutingError mirrors network.Reply.IsRoutingError: true for a
// DstUnreach other than port-unreachable, i.e. an intermediate
// router's error rather than a TimeExceeded hop notification or the
// destination's own answer.
func (o ProbeOutcome) isRoutingError(family network.Family) bool {
	if o.Reached {
		return false
	}
	want := network.ICMPv4DestUnreachable
	if family == network.FamilyV6 {
		want = network.ICMPv6DestUnreachable
	}
	return o.ICMPType == want
}

func handleEvent(inst *algorithm.Instance, ev algorithm.Event) error {
	st, ok := inst.State.(*mdaState)
	if !ok || st == nil {
		return fmt.Errorf("mda: instance state is not an mdaState")
	}
	if st.done {
		return nil
	}

	outcome, ok := ev.Payload.(ProbeOutcome)
	if !ok {
		return fmt.Errorf("mda: event payload is not a ProbeOutcome")
	}
	branchID, ok := st.serialOf[outcome.Serial]
	if !ok {
		return nil // unknown or already-resolved serial; ignore
	}
	delete(st.serialOf, outcome.Serial)
	b := st.branches[branchID]
	if b == nil || b.done {
		return nil
	}

	// An ICMP error (a routing error from some intermediate router)
	// still consumes this probe slot, but per the documented failure
	// semantics it must not be registered as an interface observation
	// the way a genuine hop reply is — resolve it like a star.
	resolveAddr := outcome.FromIP
	if ev.Kind == algorithm.IcmpError {
		resolveAddr = nil
	}
	newIface := b.resolve(outcome.Serial, resolveAddr)
	if newIface {
		toKey, created := st.lattice.EnsureNode(b.ttl, outcome.FromIP)
		_ = created
		if st.lattice.AddEdge(b.pred, toKey, outcome.Serial) {
			inst.Emit(algorithm.Event{Kind: algorithm.AlgorithmEvent, Issuer: AlgorithmName, Payload: NewLinkCmd{
				From: b.pred, To: toKey, Flow: outcome.Serial,
			}})
		}
		if outcome.Reached && outcome.FromIP.Equal(st.dst) {
			b.reachedDest = true
		}
	}

	if want := b.wantMore(); want > 0 {
		inst.Emit(algorithm.Event{Kind: algorithm.AlgorithmEvent, Issuer: AlgorithmName, Payload: SendProbesCmd{
			BranchID: b.id, TTL: b.ttl, Count: want,
		}})
		return nil
	}
	if !b.stable() {
		return nil // still waiting on in-flight probes
	}

	finishBranch(inst, st, b)
	if st.active == 0 {
		st.done = true
		inst.Emit(algorithm.Event{Kind: algorithm.AlgorithmTerminated, Issuer: AlgorithmName, Payload: st.lattice})
	}
	return nil
}

// finishBranch closes out a stabilized branch: if it reached the
// destination, hit max_ttl, or found nothing at all, it terminates
// without descendants; otherwise every interface it discovered spawns
// its own branch at ttl+1, continuing the fanout independently.
func finishBranch(inst *algorithm.Instance, st *mdaState, b *branch) {
	b.done = true
	st.active--

	if b.truncated {
		inst.Emit(algorithm.Event{Kind: algorithm.AlgorithmEvent, Issuer: AlgorithmName, Payload: TruncatedCmd{
			BranchID: b.id, TTL: b.ttl,
		}})
	}
	if b.reachedDest || b.ttl >= st.opts.MaxTTL || len(b.observed) == 0 {
		return
	}

	for addr := range b.observed {
		ip := b.observed[addr]
		toKey, _ := st.lattice.EnsureNode(b.ttl, ip)
		child := st.spawnBranch(b.ttl+1, toKey)
		inst.Emit(algorithm.Event{Kind: algorithm.AlgorithmEvent, Issuer: AlgorithmName, Payload: SendProbesCmd{
			BranchID: child.id, TTL: child.ttl, Count: child.wantMore(),
		}})
	}
}
