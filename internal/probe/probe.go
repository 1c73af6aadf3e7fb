// Package probe assembles and serializes probe packets as a stack of
// protocol layers (see internal/layer) plus a payload, and parses
// replies back into the same representation.
package probe

import (
	"encoding/binary"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/mnikolakis/flowtrace/internal/field"
	"github.com/mnikolakis/flowtrace/internal/layer"
)

type layerInstance struct {
	descriptor *layer.Descriptor
	fields     map[string]field.Field
}

// Probe is flowtrace's single wire-format representation: an ordered
// stack of protocol layers, bottom (outermost) layer first, a
// trailing payload, and the bookkeeping a round trip needs.
type Probe struct {
	id       uint64
	layers   []layerInstance
	payload  []byte
	sendTime time.Time
	recvTime time.Time
}

// New returns an empty probe with no protocol stack.
func New() *Probe {
	return &Probe{}
}

// SetProtocols replaces the probe's layer stack, bottom layer first
// (e.g. "ipv4", "udp"). Each layer starts out populated with its
// descriptor's defaults.
func (p *Probe) SetProtocols(names ...string) error {
	layers := make([]layerInstance, 0, len(names))
	for _, name := range names {
		d, err := layer.Lookup(name)
		if err != nil {
			return err
		}
		fields := make(map[string]field.Field, len(d.Defaults))
		for k, v := range d.Defaults {
			fields[k] = v
		}
		layers = append(layers, layerInstance{descriptor: d, fields: fields})
	}
	p.layers = layers
	return nil
}

// Protocols returns the probe's layer stack, bottom layer first.
func (p *Probe) Protocols() []string {
	names := make([]string, len(p.layers))
	for i, l := range p.layers {
		names[i] = l.descriptor.Name
	}
	return names
}

func splitQualified(name string) (layerName, fieldName string) {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

// SetField sets one field's value, bottom-up first match. name may be
// a bare field name ("ttl") or "layer.field" qualified ("ipv4.ttl")
// when more than one layer declares the same field name.
func (p *Probe) SetField(name string, f field.Field) error {
	layerName, fieldName := splitQualified(name)
	for _, l := range p.layers {
		if layerName != "" && l.descriptor.Name != layerName {
			continue
		}
		if !l.descriptor.HasField(fieldName) {
			continue
		}
		l.fields[fieldName] = f
		return nil
	}
	return fmt.Errorf("probe: no layer in stack %v declares field %q", p.Protocols(), name)
}

// SetFields sets several fields at once. See SetField.
func (p *Probe) SetFields(values map[string]field.Field) error {
	for name, f := range values {
		if err := p.SetField(name, f); err != nil {
			return err
		}
	}
	return nil
}

// Extract retrieves one field's current value, bottom-up first match.
func (p *Probe) Extract(name string) (field.Field, error) {
	layerName, fieldName := splitQualified(name)
	for _, l := range p.layers {
		if layerName != "" && l.descriptor.Name != layerName {
			continue
		}
		if f, ok := l.fields[fieldName]; ok {
			return f, nil
		}
	}
	return field.Field{}, fmt.Errorf("probe: no layer in stack %v declares field %q", p.Protocols(), name)
}

// Payload returns the probe's trailing payload bytes.
func (p *Probe) Payload() []byte { return p.payload }

// PayloadResize grows or truncates the payload to n bytes, zero-filling
// any newly added bytes and preserving the existing prefix otherwise.
func (p *Probe) PayloadResize(n int) {
	if n <= len(p.payload) {
		p.payload = p.payload[:n]
		return
	}
	grown := make([]byte, n)
	copy(grown, p.payload)
	p.payload = grown
}

// SetPayload replaces the payload outright.
func (p *Probe) SetPayload(data []byte) {
	p.payload = append([]byte(nil), data...)
}

// ID returns the probe's caller-assigned identifier.
func (p *Probe) ID() uint64 { return p.id }

// SetID assigns the probe's identifier.
func (p *Probe) SetID(id uint64) { p.id = id }

// SendingTime returns the timestamp the probe was sent at, or the
// zero Time if it hasn't been sent yet.
func (p *Probe) SendingTime() time.Time { return p.sendTime }

// SetSendingTime records the timestamp the probe was sent at.
func (p *Probe) SetSendingTime(t time.Time) { p.sendTime = t }

// RecvTime returns the timestamp a reply was matched to this probe
// at, or the zero Time if none has arrived yet.
func (p *Probe) RecvTime() time.Time { return p.recvTime }

// SetRecvTime records the timestamp a reply was matched at.
func (p *Probe) SetRecvTime(t time.Time) { p.recvTime = t }

// build writes every non-computed field and every length field,
// leaving checksum fields zeroed; it returns the serialized buffer
// and each layer's starting byte offset (with one trailing entry for
// the payload's start). Shared by Serialize and SerializeWithSerial,
// which differ only in how they finish the checksum pass.
func (p *Probe) build() ([]byte, []int, error) {
	if len(p.layers) == 0 {
		return nil, nil, fmt.Errorf("probe: no protocols set")
	}

	offsets := make([]int, len(p.layers)+1)
	for i, l := range p.layers {
		offsets[i+1] = offsets[i] + l.descriptor.HeaderLen(l.fields)
	}
	total := offsets[len(p.layers)] + len(p.payload)
	buf := make([]byte, total)

	for i, l := range p.layers {
		start := offsets[i]
		for _, fs := range l.descriptor.FieldSpecs {
			if l.descriptor.Computed[fs.Name] {
				continue
			}
			f, ok := l.fields[fs.Name]
			if !ok {
				continue
			}
			if err := writeField(buf, start, fs, f); err != nil {
				return nil, nil, fmt.Errorf("layer %q: %w", l.descriptor.Name, err)
			}
		}
	}
	copy(buf[offsets[len(p.layers)]:], p.payload)

	for i, l := range p.layers {
		if l.descriptor.ComputeLength == nil {
			continue
		}
		start, payloadStart := offsets[i], offsets[i+1]
		name, val := l.descriptor.ComputeLength(start, payloadStart, total)
		fs, ok := l.descriptor.FieldSpec(name)
		if !ok {
			return nil, nil, fmt.Errorf("layer %q: unknown length field %q", l.descriptor.Name, name)
		}
		layer.WriteBits(buf[start:], fs.BitOffset, fs.BitWidth, val)
		f, err := field.CreateFromUint(name, fs.Type, val)
		if err != nil {
			return nil, nil, err
		}
		l.fields[name] = f
	}

	return buf, offsets, nil
}

// checksumOf computes and writes the real, protocol-valid checksum
// for layer index i into buf, given the layer offsets from build.
func (p *Probe) checksumOf(buf []byte, offsets []int, i int) error {
	l := p.layers[i]
	if l.descriptor.ChecksumField == "" {
		return nil
	}
	fs, ok := l.descriptor.FieldSpec(l.descriptor.ChecksumField)
	if !ok {
		return fmt.Errorf("layer %q: unknown checksum field %q", l.descriptor.Name, l.descriptor.ChecksumField)
	}
	start := offsets[i]
	total := offsets[len(p.layers)] + len(p.payload)
	layer.WriteBits(buf[start:], fs.BitOffset, fs.BitWidth, 0)

	pseudo := p.pseudoHeaderFor(i, offsets, total)
	sum := l.descriptor.ComputeChecksum(buf, start, total, pseudo)
	layer.WriteBits(buf[start:], fs.BitOffset, fs.BitWidth, uint32(sum))
	f, err := field.CreateFromUint(l.descriptor.ChecksumField, fs.Type, uint32(sum))
	if err != nil {
		return err
	}
	l.fields[l.descriptor.ChecksumField] = f
	return nil
}

func (p *Probe) pseudoHeaderFor(i int, offsets []int, total int) []byte {
	if i == 0 {
		return nil
	}
	below := p.layers[i-1]
	if below.descriptor.PseudoHeader == nil {
		return nil
	}
	return below.descriptor.PseudoHeader(below.fields, p.layers[i].descriptor.Name, total-offsets[i])
}

// Serialize renders the probe to wire bytes with every layer's
// checksum computed for real: non-computed fields first, then each
// layer's length field (if any), then each layer's checksum (if any),
// since a checksum generally covers its own layer's length field.
func (p *Probe) Serialize() ([]byte, error) {
	buf, offsets, err := p.build()
	if err != nil {
		return nil, fmt.Errorf("probe: Serialize: %w", err)
	}
	for i := range p.layers {
		if err := p.checksumOf(buf, offsets, i); err != nil {
			return nil, fmt.Errorf("probe: Serialize: %w", err)
		}
	}
	return buf, nil
}

// foldOnesDelta computes (a - b) in one's-complement arithmetic
// modulo 0xffff: ordinary subtraction, wrapped into [0, 0xffff] by
// adding or removing as many 0xffff "zeros" as needed. One's
// complement checksums are exactly linear under this operation (RFC
// 1624), which is what lets SerializeWithSerial force the outermost
// layer's checksum field to an arbitrary value by adjusting a single
// reserved payload word.
func foldOnesDelta(a, b uint16) uint16 {
	d := int32(a) - int32(b)
	for d < 0 {
		d += 0xffff
	}
	for d > 0xffff {
		d -= 0xffff
	}
	return uint16(d)
}

// SerialAdjustmentSize is the number of trailing payload bytes
// SerializeWithSerial reserves to encode the serial; PayloadResize
// must leave room for at least this many.
const SerialAdjustmentSize = 2

// SerializeWithSerial renders the probe like Serialize, except the
// last 2 payload bytes are adjusted so that the outermost layer's
// checksum, still a valid checksum, reads back as serial exactly.
// This is the Paris traceroute trick — a discarded
// probe's transport checksum survives untouched in the ICMP quote a
// router returns, so embedding a per-probe serial there turns it into
// a correlation channel that is robust to load-balanced paths sharing
// one fixed flow identifier.
func (p *Probe) SerializeWithSerial(serial uint16) ([]byte, error) {
	buf, offsets, err := p.build()
	if err != nil {
		return nil, fmt.Errorf("probe: SerializeWithSerial: %w", err)
	}
	if len(p.layers) == 0 {
		return nil, fmt.Errorf("probe: SerializeWithSerial: no protocols set")
	}
	for i := 0; i < len(p.layers)-1; i++ {
		if err := p.checksumOf(buf, offsets, i); err != nil {
			return nil, fmt.Errorf("probe: SerializeWithSerial: %w", err)
		}
	}

	last := len(p.layers) - 1
	l := p.layers[last]
	if l.descriptor.ChecksumField == "" {
		return nil, fmt.Errorf("probe: SerializeWithSerial: layer %q has no checksum field to carry a serial", l.descriptor.Name)
	}
	fs, ok := l.descriptor.FieldSpec(l.descriptor.ChecksumField)
	if !ok {
		return nil, fmt.Errorf("probe: SerializeWithSerial: layer %q: unknown checksum field", l.descriptor.Name)
	}
	total := len(buf)
	adjOffset := total - SerialAdjustmentSize
	if adjOffset < offsets[len(p.layers)] {
		return nil, fmt.Errorf("probe: SerializeWithSerial: payload too short to reserve %d adjustment bytes", SerialAdjustmentSize)
	}

	start := offsets[last]
	layer.WriteBits(buf[start:], fs.BitOffset, fs.BitWidth, 0)
	binary.BigEndian.PutUint16(buf[adjOffset:adjOffset+2], 0)

	pseudo := p.pseudoHeaderFor(last, offsets, total)
	base := l.descriptor.ComputeChecksum(buf, start, total, pseudo)
	adjWord := foldOnesDelta(base, serial)
	binary.BigEndian.PutUint16(buf[adjOffset:adjOffset+2], adjWord)

	final := l.descriptor.ComputeChecksum(buf, start, total, pseudo)
	// 0x0000 and 0xffff are the same one's-complement value, and the
	// computed form of it is always 0x0000; a serial of 0xffff is
	// written as itself so it reads back exactly.
	if final == 0 && serial == 0xffff {
		final = serial
	}
	layer.WriteBits(buf[start:], fs.BitOffset, fs.BitWidth, uint32(final))
	f, err := field.CreateFromUint(l.descriptor.ChecksumField, fs.Type, uint32(final))
	if err != nil {
		return nil, err
	}
	l.fields[l.descriptor.ChecksumField] = f

	return buf, nil
}

// ExtractSerial parses raw and reads the serial back out of the
// outermost layer's checksum field — valid both on a probe's own
// serialized bytes and on the quoted copy embedded in an ICMP
// time-exceeded or destination-unreachable message.
func ExtractSerial(firstLayer string, raw []byte) (uint16, error) {
	p, err := ParseFrom(firstLayer, raw)
	if err != nil {
		return 0, fmt.Errorf("probe: ExtractSerial: %w", err)
	}
	if len(p.layers) == 0 {
		return 0, fmt.Errorf("probe: ExtractSerial: empty probe")
	}
	last := p.layers[len(p.layers)-1]
	if last.descriptor.ChecksumField == "" {
		return 0, fmt.Errorf("probe: ExtractSerial: layer %q has no checksum field", last.descriptor.Name)
	}
	return uint16(last.fields[last.descriptor.ChecksumField].Uint()), nil
}

// ParseFrom decodes raw wire bytes into a Probe, starting from
// firstLayer and following each layer's NextProtocol rule until a
// layer declares none; the remaining bytes become the payload.
func ParseFrom(firstLayer string, raw []byte) (*Probe, error) {
	p := &Probe{}
	name := firstLayer
	offset := 0
	for {
		d, err := layer.Lookup(name)
		if err != nil {
			return nil, fmt.Errorf("probe: ParseFrom: %w", err)
		}
		fields := make(map[string]field.Field, len(d.FieldSpecs))
		for _, fs := range d.FieldSpecs {
			f, err := readField(raw, offset, fs)
			if err != nil {
				return nil, fmt.Errorf("probe: ParseFrom: layer %q: %w", name, err)
			}
			fields[fs.Name] = f
		}
		p.layers = append(p.layers, layerInstance{descriptor: d, fields: fields})
		offset += d.HeaderLen(fields)

		if d.NextProtocol == nil {
			break
		}
		next, ok := d.NextProtocol(fields)
		if !ok {
			break
		}
		name = next
	}
	if offset > len(raw) {
		return nil, fmt.Errorf("probe: ParseFrom: truncated packet (%d bytes, wanted %d)", len(raw), offset)
	}
	p.payload = append([]byte(nil), raw[offset:]...)
	return p, nil
}

// Equal reports whether two probes carry the same protocol stack,
// field values and payload. Timestamps and id are excluded: they are
// bookkeeping, not wire content.
func (p *Probe) Equal(other *Probe) bool {
	if other == nil || len(p.layers) != len(other.layers) {
		return false
	}
	for i, l := range p.layers {
		ol := other.layers[i]
		if l.descriptor.Name != ol.descriptor.Name {
			return false
		}
		if len(l.fields) != len(ol.fields) {
			return false
		}
		for name, f := range l.fields {
			of, ok := ol.fields[name]
			if !ok {
				return false
			}
			ord, err := field.Compare(f, of)
			if err != nil || ord != field.Equal {
				return false
			}
		}
	}
	return string(p.payload) == string(other.payload)
}

func writeField(buf []byte, layerStart int, fs layer.FieldSpec, f field.Field) error {
	byteOff := layerStart + fs.BitOffset/8
	switch fs.Type {
	case field.I4, field.I8, field.I16, field.I32:
		layer.WriteBits(buf[layerStart:], fs.BitOffset, fs.BitWidth, f.Uint())
		return nil
	case field.Address:
		n := fs.BitWidth / 8
		ip := f.IP()
		var raw []byte
		if n == 4 {
			raw = ip.To4()
		} else {
			raw = ip.To16()
		}
		if raw == nil {
			return fmt.Errorf("field %q: address does not fit a %d-byte field", fs.Name, n)
		}
		copy(buf[byteOff:byteOff+n], raw)
		return nil
	case field.Bytes, field.String:
		raw := f.RawBytes()
		copy(buf[byteOff:byteOff+len(raw)], raw)
		return nil
	default:
		return fmt.Errorf("field %q: unsupported wire type %v", fs.Name, fs.Type)
	}
}

func readField(buf []byte, layerStart int, fs layer.FieldSpec) (field.Field, error) {
	if layerStart+fs.BitOffset/8 >= len(buf) {
		return field.Field{}, fmt.Errorf("field %q: buffer too short", fs.Name)
	}
	switch fs.Type {
	case field.I4, field.I8, field.I16, field.I32:
		v := layer.ReadBits(buf[layerStart:], fs.BitOffset, fs.BitWidth)
		return field.CreateFromUint(fs.Name, fs.Type, v)
	case field.Address:
		n := fs.BitWidth / 8
		byteOff := layerStart + fs.BitOffset/8
		if byteOff+n > len(buf) {
			return field.Field{}, fmt.Errorf("field %q: buffer too short for address", fs.Name)
		}
		ip := net.IP(append([]byte(nil), buf[byteOff:byteOff+n]...))
		return field.Create(fs.Name, field.Address, ip)
	default:
		return field.Field{}, fmt.Errorf("field %q: unsupported wire type %v", fs.Name, fs.Type)
	}
}
