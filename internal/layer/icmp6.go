package layer

import (
	"github.com/mnikolakis/flowtrace/internal/field"
)

// ICMPv6 echo-request header: 8 bytes / 64 bits. Same layout as ICMPv4
// but the checksum covers the IPv6 pseudo-header as well (RFC 4443
// section 2.3), unlike ICMPv4 whose checksum is self-contained.
const icmp6HeaderLen = 8

func init() {
	Register(&Descriptor{
		Name: "icmpv6",
		FieldSpecs: []FieldSpec{
			{Name: "type", Type: field.I8, BitOffset: 0, BitWidth: 8},
			{Name: "code", Type: field.I8, BitOffset: 8, BitWidth: 8},
			{Name: "checksum", Type: field.I16, BitOffset: 16, BitWidth: 16},
			{Name: "id", Type: field.I16, BitOffset: 32, BitWidth: 16},
			{Name: "seq", Type: field.I16, BitOffset: 48, BitWidth: 16},
		},
		HeaderLen: func(map[string]field.Field) int { return icmp6HeaderLen },
		Defaults: map[string]field.Field{
			"type":     field.I8Field("type", 128), // echo request
			"code":     field.I8Field("code", 0),
			"checksum": field.I16Field("checksum", 0),
			"id":       field.I16Field("id", 0),
			"seq":      field.I16Field("seq", 0),
		},
		Computed:      map[string]bool{"checksum": true},
		FlowFields:    []string{"id"},
		ChecksumField: "checksum",
		ComputeChecksum: func(buf []byte, start, end int, pseudoHeader []byte) uint16 {
			data := make([]byte, 0, len(pseudoHeader)+(end-start))
			data = append(data, pseudoHeader...)
			data = append(data, buf[start:end]...)
			return Checksum(data)
		},
	})
}
