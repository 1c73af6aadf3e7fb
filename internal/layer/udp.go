package layer

import (
	"github.com/mnikolakis/flowtrace/internal/field"
)

// UDP header: 8 bytes / 64 bits.
//
//	0                   1                   2                   3
//	0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|          Source Port          |       Destination Port       |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|            Length              |           Checksum           |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+

const udpHeaderLen = 8

func init() {
	Register(&Descriptor{
		Name: "udp",
		FieldSpecs: []FieldSpec{
			{Name: "src_port", Type: field.I16, BitOffset: 0, BitWidth: 16},
			{Name: "dst_port", Type: field.I16, BitOffset: 16, BitWidth: 16},
			{Name: "length", Type: field.I16, BitOffset: 32, BitWidth: 16},
			{Name: "checksum", Type: field.I16, BitOffset: 48, BitWidth: 16},
		},
		HeaderLen: func(map[string]field.Field) int { return udpHeaderLen },
		Defaults: map[string]field.Field{
			"src_port": field.I16Field("src_port", 0),
			"dst_port": field.I16Field("dst_port", 33434),
			"length":   field.I16Field("length", 0),
			"checksum": field.I16Field("checksum", 0),
		},
		Computed:   map[string]bool{"length": true, "checksum": true},
		FlowFields: []string{"src_port", "dst_port"},
		ComputeLength: func(layerStart, _, totalLen int) (string, uint32) {
			return "length", uint32(totalLen - layerStart)
		},
		ChecksumField: "checksum",
		ComputeChecksum: func(buf []byte, start, end int, pseudoHeader []byte) uint16 {
			data := make([]byte, 0, len(pseudoHeader)+(end-start))
			data = append(data, pseudoHeader...)
			data = append(data, buf[start:end]...)
			return Checksum(data)
		},
	})
}
