// Package field implements the tagged Field value used throughout
// flowtrace as the universal knob for protocol header fields and
// event payloads.
package field

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Type identifies the kind of value a Field carries.
type Type int

const (
	// I4 is a 4-bit (nibble) integer. Fields of this type may only
	// appear paired at a known byte offset.
	I4 Type = iota
	I8
	I16
	I32
	String
	Bytes
	Address
)

func (t Type) String() string {
	switch t {
	case I4:
		return "i4"
	case I8:
		return "i8"
	case I16:
		return "i16"
	case I32:
		return "i32"
	case String:
		return "string"
	case Bytes:
		return "bytes"
	case Address:
		return "address"
	default:
		return "unknown"
	}
}

// Nibble identifies which half of a byte an I4 field occupies.
type Nibble int

const (
	NibbleLow Nibble = iota
	NibbleHigh
)

// Field is a tagged value: (name, type, bytes). It owns its name and
// payload; it is copied into a Probe by value.
type Field struct {
	name   string
	typ    Type
	num    uint32
	str    string
	raw    []byte
	addr   net.IP
	nibble Nibble
}

// Name returns the field's name.
func (f Field) Name() string { return f.name }

// Type returns the field's type tag.
func (f Field) Type() Type { return f.typ }

// Nibble returns the nibble position for an I4 field.
func (f Field) Nibble() Nibble { return f.nibble }

// Uint returns the numeric value of an I4/I8/I16/I32 field.
func (f Field) Uint() uint32 { return f.num }

// Str returns the value of a String field.
func (f Field) Str() string { return f.str }

// RawBytes returns the value of a Bytes field.
func (f Field) RawBytes() []byte { return f.raw }

// IP returns the value of an Address field.
func (f Field) IP() net.IP { return f.addr }

// Create builds a Field from a host-endian value. val must match typ:
// uint8/uint16/uint32 for the integer types (I4 accepts uint8 in
// [0,15]), string for String, []byte for Bytes, net.IP for Address.
func Create(name string, typ Type, val any) (Field, error) {
	f := Field{name: name, typ: typ}
	switch typ {
	case I4:
		v, ok := val.(uint8)
		if !ok || v > 0x0f {
			return Field{}, fmt.Errorf("field %q: I4 value must be a uint8 in [0,15]", name)
		}
		f.num = uint32(v)
	case I8:
		v, ok := val.(uint8)
		if !ok {
			return Field{}, fmt.Errorf("field %q: expected uint8 for I8", name)
		}
		f.num = uint32(v)
	case I16:
		v, ok := val.(uint16)
		if !ok {
			return Field{}, fmt.Errorf("field %q: expected uint16 for I16", name)
		}
		f.num = uint32(v)
	case I32:
		v, ok := val.(uint32)
		if !ok {
			return Field{}, fmt.Errorf("field %q: expected uint32 for I32", name)
		}
		f.num = v
	case String:
		v, ok := val.(string)
		if !ok {
			return Field{}, fmt.Errorf("field %q: expected string for String", name)
		}
		f.str = v
	case Bytes:
		v, ok := val.([]byte)
		if !ok {
			return Field{}, fmt.Errorf("field %q: expected []byte for Bytes", name)
		}
		f.raw = append([]byte(nil), v...)
	case Address:
		v, ok := val.(net.IP)
		if !ok {
			return Field{}, fmt.Errorf("field %q: expected net.IP for Address", name)
		}
		f.addr = append(net.IP(nil), v...)
	default:
		return Field{}, fmt.Errorf("field %q: unknown type %v", name, typ)
	}
	return f, nil
}

// WithNibble sets the nibble position on an I4 field.
func (f Field) WithNibble(n Nibble) Field {
	f.nibble = n
	return f
}

// CreateFromWire decodes a network-order byte slice into a Field,
// converting I16/I32 from network byte order to host order.
func CreateFromWire(name string, typ Type, raw []byte) (Field, error) {
	switch typ {
	case I4, I8:
		if len(raw) < 1 {
			return Field{}, fmt.Errorf("field %q: buffer too small for %v", name, typ)
		}
		if typ == I4 {
			return Create(name, I4, raw[0]&0x0f)
		}
		return Create(name, I8, raw[0])
	case I16:
		if len(raw) < 2 {
			return Field{}, fmt.Errorf("field %q: buffer too small for I16", name)
		}
		return Create(name, I16, binary.BigEndian.Uint16(raw))
	case I32:
		if len(raw) < 4 {
			return Field{}, fmt.Errorf("field %q: buffer too small for I32", name)
		}
		return Create(name, I32, binary.BigEndian.Uint32(raw))
	case String:
		return Create(name, String, string(raw))
	case Bytes:
		return Create(name, Bytes, raw)
	case Address:
		ip := net.IP(append([]byte(nil), raw...))
		return Create(name, Address, ip)
	default:
		return Field{}, fmt.Errorf("field %q: unknown type %v", name, typ)
	}
}

// CreateFromUint builds an I4/I8/I16/I32 field from a host-endian
// uint32, narrowing it to the target type's width. Used by callers
// that compute a field's value generically (serialization of computed
// length/checksum fields) and don't have a typed Go value on hand.
func CreateFromUint(name string, typ Type, v uint32) (Field, error) {
	switch typ {
	case I4:
		return Create(name, I4, uint8(v&0x0f))
	case I8:
		return Create(name, I8, uint8(v))
	case I16:
		return Create(name, I16, uint16(v))
	case I32:
		return Create(name, I32, v)
	default:
		return Field{}, fmt.Errorf("field %q: CreateFromUint: not an integer type %v", name, typ)
	}
}

// Size returns the wire size, in bits, of a value of the given type.
// I4 fields occupy half a byte; they may only appear paired at a
// known nibble offset within their containing byte.
func Size(typ Type) int {
	switch typ {
	case I4:
		return 4
	case I8:
		return 8
	case I16:
		return 16
	case I32:
		return 32
	case Address:
		return 32 // IPv4 default; layer descriptors override for IPv6.
	default:
		return -1 // variable-length (String, Bytes)
	}
}

// Ordering is the result of comparing two Fields.
type Ordering int

const (
	Less Ordering = iota - 1
	Equal
	Greater
)

// Compare orders two Fields of the same type. Comparing Fields of
// different types is an error, not a total order.
func Compare(a, b Field) (Ordering, error) {
	if a.typ != b.typ {
		return 0, fmt.Errorf("cannot compare field of type %v with field of type %v", a.typ, b.typ)
	}
	switch a.typ {
	case I4, I8, I16, I32:
		switch {
		case a.num < b.num:
			return Less, nil
		case a.num > b.num:
			return Greater, nil
		default:
			return Equal, nil
		}
	case String:
		switch {
		case a.str < b.str:
			return Less, nil
		case a.str > b.str:
			return Greater, nil
		default:
			return Equal, nil
		}
	case Bytes:
		return compareBytes(a.raw, b.raw), nil
	case Address:
		return compareBytes(a.addr, b.addr), nil
	default:
		return 0, fmt.Errorf("unknown field type %v", a.typ)
	}
}

func compareBytes(a, b []byte) Ordering {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] < b[i] {
			return Less
		}
		if a[i] > b[i] {
			return Greater
		}
	}
	switch {
	case len(a) < len(b):
		return Less
	case len(a) > len(b):
		return Greater
	default:
		return Equal
	}
}

// Dump renders a Field as human text.
func Dump(f Field) string {
	switch f.typ {
	case I4, I8, I16, I32:
		return fmt.Sprintf("%s = %d", f.name, f.num)
	case String:
		return fmt.Sprintf("%s = %q", f.name, f.str)
	case Bytes:
		return fmt.Sprintf("%s = % x", f.name, f.raw)
	case Address:
		return fmt.Sprintf("%s = %s", f.name, f.addr.String())
	default:
		return fmt.Sprintf("%s = <unknown>", f.name)
	}
}

// Helpers mirroring the constructors used throughout the original
// libparistraceroute call sites (I16("dst_port", 53), STR(...), ...).

func I16Field(name string, v uint16) Field {
	f, _ := Create(name, I16, v)
	return f
}

func I8Field(name string, v uint8) Field {
	f, _ := Create(name, I8, v)
	return f
}

func I32Field(name string, v uint32) Field {
	f, _ := Create(name, I32, v)
	return f
}

func StringField(name string, v string) Field {
	f, _ := Create(name, String, v)
	return f
}

func AddressField(name string, v net.IP) Field {
	f, _ := Create(name, Address, v)
	return f
}

func BytesField(name string, v []byte) Field {
	f, _ := Create(name, Bytes, v)
	return f
}
