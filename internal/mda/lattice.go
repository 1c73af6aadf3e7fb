package mda

import "net"

// NodeKey identifies one interface: an IP address observed at a
// specific TTL. The virtual source node (TTL = minTTL-1) uses the
// fixed address "source" since the local host has no single address
// meaningful to a remote flow.
type NodeKey struct {
	TTL  int
	Addr string
}

// Interface is one lattice node's payload.
type Interface struct {
	TTL  int
	Addr net.IP // nil for the virtual source node
}

// EdgeKey identifies one directed lattice edge.
type EdgeKey struct {
	From NodeKey
	To   NodeKey
}

// Link is one lattice edge: a pair of interfaces observed at
// consecutive TTLs, annotated with every flow identifier that
// traversed it.
type Link struct {
	From    NodeKey
	To      NodeKey
	FlowIDs map[uint16]bool
}

// Lattice is the MDA algorithm's output: the DAG of interfaces and
// links discovered so far. Owned solely by the MDA instance; grown
// monotonically, never pruned.
type Lattice struct {
	nodes map[NodeKey]*Interface
	edges map[EdgeKey]*Link
}

// NewLattice returns an empty lattice.
func NewLattice() *Lattice {
	return &Lattice{nodes: map[NodeKey]*Interface{}, edges: map[EdgeKey]*Link{}}
}

func addrKey(ttl int, addr net.IP) NodeKey {
	return NodeKey{TTL: ttl, Addr: addr.String()}
}

// EnsureSourceNode registers the virtual source node at ttl (the
// sweep's minTTL - 1) if absent.
func (l *Lattice) EnsureSourceNode(ttl int) NodeKey {
	key := NodeKey{TTL: ttl, Addr: "source"}
	if _, ok := l.nodes[key]; !ok {
		l.nodes[key] = &Interface{TTL: ttl}
	}
	return key
}

// EnsureNode registers (ttl, addr) if absent and reports whether this
// call created it.
func (l *Lattice) EnsureNode(ttl int, addr net.IP) (NodeKey, bool) {
	key := addrKey(ttl, addr)
	if _, ok := l.nodes[key]; ok {
		return key, false
	}
	l.nodes[key] = &Interface{TTL: ttl, Addr: addr}
	return key, true
}

// AddEdge records flow as having traversed from->to, creating the
// edge on first observation. Returns whether this is a brand new
// edge — the MDA_NEW_LINK event fires only then.
func (l *Lattice) AddEdge(from, to NodeKey, flow uint16) bool {
	ek := EdgeKey{From: from, To: to}
	link, ok := l.edges[ek]
	isNew := !ok
	if !ok {
		link = &Link{From: from, To: to, FlowIDs: map[uint16]bool{}}
		l.edges[ek] = link
	}
	link.FlowIDs[flow] = true
	return isNew
}

// Nodes returns every registered interface.
func (l *Lattice) Nodes() map[NodeKey]*Interface { return l.nodes }

// Edges returns every registered link.
func (l *Lattice) Edges() map[EdgeKey]*Link { return l.edges }
