package output

import (
	"fmt"
	"io"

	"github.com/mnikolakis/flowtrace/internal/mda"
)

// WriteDot renders an MDA lattice as a Graphviz digraph: one node per
// discovered interface, one edge per observed hop-pair, labelled with
// how many distinct flow IDs traversed it.
func WriteDot(w io.Writer, lattice *mda.Lattice) error {
	nodeAttrs := `[color=lightblue fillcolor=lightblue fontcolor=black shape=record style="filled, rounded"]`
	if _, err := fmt.Fprintln(w, "digraph {"); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "\tnode %s\n", nodeAttrs); err != nil {
		return err
	}

	ids := make(map[mda.NodeKey]int)
	next := 0
	idFor := func(key mda.NodeKey) int {
		if id, ok := ids[key]; ok {
			return id
		}
		ids[key] = next
		next++
		return ids[key]
	}

	for key, iface := range lattice.Nodes() {
		label := "*"
		if iface.Addr != nil {
			label = iface.Addr.String()
		}
		if _, err := fmt.Fprintf(w, "\t%d [label=\"ttl %d: %s\"]\n", idFor(key), key.TTL, label); err != nil {
			return err
		}
	}

	for _, link := range lattice.Edges() {
		if _, err := fmt.Fprintf(w, "\t%d -> %d [label=\"%d flows\"]\n",
			idFor(link.From), idFor(link.To), len(link.FlowIDs)); err != nil {
			return err
		}
	}

	_, err := fmt.Fprintln(w, "}")
	return err
}
