// Package layer is flowtrace's protocol registry: a catalog of known
// protocol layers, each exposing a field schema, default values, a
// serializer, and a next-header rule, per spec section 4.2.
package layer

import (
	"fmt"

	"github.com/mnikolakis/flowtrace/internal/field"
)

// FieldSpec declares one named field within a layer's wire schema:
// its type and its bit position within the layer's header.
type FieldSpec struct {
	Name      string
	Type      field.Type
	BitOffset int
	BitWidth  int
}

// Descriptor is an immutable protocol record: registered once at
// process start, never mutated afterward.
type Descriptor struct {
	// Name is the protocol's registry key (e.g. "ipv4", "udp").
	Name string

	// FieldSpecs is the ordered field schema exposed by this layer.
	FieldSpecs []FieldSpec

	// HeaderLen returns the header length, in bytes, given the
	// already-set field values (most headers are fixed-length; IPv4
	// with options would not be, but flowtrace only emits option-free
	// headers).
	HeaderLen func(fields map[string]field.Field) int

	// Defaults holds default field values applied when a layer is
	// instantiated from this descriptor.
	Defaults map[string]field.Field

	// Computed names the fields this layer recomputes at serialize
	// time regardless of what was last written (length, checksum).
	Computed map[string]bool

	// ComputeLength, if set, recomputes this layer's length field
	// given this layer's start offset, the offset its payload begins
	// at, and the total serialized buffer length. Returns the field
	// name to write and its value. nil for layers with no length
	// field (ICMP, ICMPv6).
	ComputeLength func(layerStart, payloadStart, totalLen int) (fieldName string, value uint32)

	// FlowFields names the subset of this layer's fields that form
	// the flow identifier ECMP routers hash on.
	FlowFields []string

	// ChecksumField names this layer's checksum field, or "" if the
	// layer has none.
	ChecksumField string

	// ComputeChecksum computes the correct checksum for this layer
	// given the full serialized probe buffer, the range from this
	// layer's start to the end of the buffer (a header-only checksum
	// such as IPv4's uses just the header's part of it), and (for
	// layers like UDP/TCP whose checksum covers a pseudo-header) the
	// pseudo-header bytes supplied by the layer beneath.
	ComputeChecksum func(probeBuf []byte, layerStart, layerEnd int, pseudoHeader []byte) uint16

	// PseudoHeader builds the IP pseudo-header an upper-layer checksum
	// (UDP, TCP) is computed over. nil for layers that don't sit
	// beneath a checksummed transport layer.
	PseudoHeader func(fields map[string]field.Field, upperProtocol string, upperLen int) []byte

	// NextProtocol identifies, from this layer's already-set fields,
	// the registry name of the layer that follows (e.g. IPv4
	// "protocol" byte -> "udp").
	NextProtocol func(fields map[string]field.Field) (string, bool)
}

// FieldSpec looks up a field's schema entry by name.
func (d *Descriptor) FieldSpec(name string) (FieldSpec, bool) {
	for _, fs := range d.FieldSpecs {
		if fs.Name == name {
			return fs, true
		}
	}
	return FieldSpec{}, false
}

// HasField reports whether name is part of this layer's schema.
func (d *Descriptor) HasField(name string) bool {
	_, ok := d.FieldSpec(name)
	return ok
}

var registry = map[string]*Descriptor{}

// Register adds a descriptor to the registry. Panics on duplicate
// registration, since the registry is populated once at init time.
func Register(d *Descriptor) {
	if _, exists := registry[d.Name]; exists {
		panic(fmt.Sprintf("layer: duplicate registration of %q", d.Name))
	}
	registry[d.Name] = d
}

// Lookup returns the descriptor registered under name.
func Lookup(name string) (*Descriptor, error) {
	d, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("layer: unknown protocol %q", name)
	}
	return d, nil
}

// Names returns the set of registered protocol names.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	return names
}
