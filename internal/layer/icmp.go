package layer

import (
	"github.com/mnikolakis/flowtrace/internal/field"
)

// ICMPv4 echo-request header: 8 bytes / 64 bits.
//
//	0                   1                   2                   3
//	0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|     Type      |     Code      |           Checksum            |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|         Identifier             |        Sequence Number       |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+

const icmpHeaderLen = 8

func init() {
	Register(&Descriptor{
		Name: "icmp",
		FieldSpecs: []FieldSpec{
			{Name: "type", Type: field.I8, BitOffset: 0, BitWidth: 8},
			{Name: "code", Type: field.I8, BitOffset: 8, BitWidth: 8},
			{Name: "checksum", Type: field.I16, BitOffset: 16, BitWidth: 16},
			{Name: "id", Type: field.I16, BitOffset: 32, BitWidth: 16},
			{Name: "seq", Type: field.I16, BitOffset: 48, BitWidth: 16},
		},
		HeaderLen: func(map[string]field.Field) int { return icmpHeaderLen },
		Defaults: map[string]field.Field{
			"type":     field.I8Field("type", 8), // echo request
			"code":     field.I8Field("code", 0),
			"checksum": field.I16Field("checksum", 0),
			"id":       field.I16Field("id", 0),
			"seq":      field.I16Field("seq", 0),
		},
		Computed:      map[string]bool{"checksum": true},
		FlowFields:    []string{"id"},
		ChecksumField: "checksum",
		ComputeChecksum: func(buf []byte, start, end int, _ []byte) uint16 {
			return Checksum(buf[start:end])
		},
	})
}
