// Package algorithm is the thin dispatch layer pt_loop and the
// traceroute/mda packages share: a registry of algorithm descriptors,
// running instances bound to a skeleton probe and options, and the
// tagged Event a network reply (or timeout, or another algorithm) is
// turned into before it reaches a handler.
package algorithm

import (
	"fmt"

	"github.com/mnikolakis/flowtrace/internal/probe"
)

// Kind tags what an Event represents.
type Kind int

const (
	// ProbeReply carries a matched reply for one of this instance's
	// own in-flight probes.
	ProbeReply Kind = iota
	// Star signals a probe's timeout expired with no reply.
	Star
	// IcmpError carries a reply whose ICMP type/code indicates an
	// error other than the expected time-exceeded/port-unreachable
	// (e.g. network unreachable, admin prohibited).
	IcmpError
	// AlgorithmEvent is a custom, algorithm-defined signal — used by
	// an instance to ask its driver for work (traceroute's next-hop
	// continuation, mda's SendProbesCmd) or to announce results (mda's
	// NewLinkCmd/TruncatedCmd).
	AlgorithmEvent
	// AlgorithmTerminated is emitted once, when an instance decides
	// it has nothing left to do.
	AlgorithmTerminated
)

func (k Kind) String() string {
	switch k {
	case ProbeReply:
		return "probe_reply"
	case Star:
		return "star"
	case IcmpError:
		return "icmp_error"
	case AlgorithmEvent:
		return "algorithm_event"
	case AlgorithmTerminated:
		return "algorithm_terminated"
	default:
		return "unknown"
	}
}

// Event is the single tagged value algorithm handlers are invoked
// with. Payload's concrete type is set by the algorithm that receives
// the event: traceroute takes a network.Reply for ProbeReply/IcmpError
// and the probe's uint16 serial for Star, mda takes an mda.ProbeOutcome
// for all three, and AlgorithmEvent carries an algorithm-defined type.
type Event struct {
	Kind    Kind
	Issuer  string
	Payload any
}

// Descriptor registers one algorithm family (traceroute, mda) the way
// paris-traceroute's algorithm_handler_t registry does: a name, a
// constructor for algorithm-specific options, and a handler invoked
// once per event delivered to an instance.
type Descriptor struct {
	Name       string
	NewOptions func() any
	Handler    func(inst *Instance, ev Event) error
}

var registry = map[string]*Descriptor{}

// Register adds a descriptor to the registry. Panics on duplicate
// registration.
func Register(d *Descriptor) {
	if _, exists := registry[d.Name]; exists {
		panic(fmt.Sprintf("algorithm: duplicate registration of %q", d.Name))
	}
	registry[d.Name] = d
}

// Lookup returns the descriptor registered under name.
func Lookup(name string) (*Descriptor, error) {
	d, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("algorithm: unknown algorithm %q", name)
	}
	return d, nil
}

// Instance is one running algorithm: its descriptor, its options, its
// mutable state, the skeleton probe new probes are derived from, and
// the outgoing events it has queued for its owner to drain.
type Instance struct {
	Descriptor *Descriptor
	Options    any
	State      any
	Skeleton   *probe.Probe

	events []Event
}

// NewInstance creates an instance bound to descriptor d.
func NewInstance(d *Descriptor, options any, skeleton *probe.Probe) *Instance {
	return &Instance{Descriptor: d, Options: options, Skeleton: skeleton}
}

// Dispatch runs the descriptor's handler for one incoming event.
func (inst *Instance) Dispatch(ev Event) error {
	if inst.Descriptor == nil || inst.Descriptor.Handler == nil {
		return fmt.Errorf("algorithm: instance has no handler")
	}
	return inst.Descriptor.Handler(inst, ev)
}

// Emit queues an outgoing event for the instance's owner to collect.
func (inst *Instance) Emit(ev Event) {
	inst.events = append(inst.events, ev)
}

// DrainEvents returns and clears the instance's queued outgoing
// events, in the order they were emitted.
func (inst *Instance) DrainEvents() []Event {
	out := inst.events
	inst.events = nil
	return out
}
