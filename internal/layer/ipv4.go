package layer

import (
	"net"

	"github.com/mnikolakis/flowtrace/internal/field"
)

// IPv4 header, no options: 20 bytes / 160 bits.
//
//	0                   1                   2                   3
//	0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|Version|  IHL  |     ToS       |         Total Length         |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|         Identification        |Flags|   Fragment Offset      |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|      TTL      |    Protocol   |        Header Checksum        |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                       Source Address                         |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                    Destination Address                       |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+

const ipv4HeaderLen = 20

var ipv4NextProtoByNumber = map[uint32]string{
	1:  "icmp",
	17: "udp",
}

var ipv4NumberByNextProto = map[string]uint8{
	"icmp": 1,
	"udp":  17,
}

func init() {
	Register(&Descriptor{
		Name: "ipv4",
		FieldSpecs: []FieldSpec{
			{Name: "version", Type: field.I4, BitOffset: 0, BitWidth: 4},
			{Name: "ihl", Type: field.I4, BitOffset: 4, BitWidth: 4},
			{Name: "tos", Type: field.I8, BitOffset: 8, BitWidth: 8},
			{Name: "total_length", Type: field.I16, BitOffset: 16, BitWidth: 16},
			{Name: "id", Type: field.I16, BitOffset: 32, BitWidth: 16},
			{Name: "flags_frag", Type: field.I16, BitOffset: 48, BitWidth: 16},
			{Name: "ttl", Type: field.I8, BitOffset: 64, BitWidth: 8},
			{Name: "protocol", Type: field.I8, BitOffset: 72, BitWidth: 8},
			{Name: "checksum", Type: field.I16, BitOffset: 80, BitWidth: 16},
			{Name: "src_ip", Type: field.Address, BitOffset: 96, BitWidth: 32},
			{Name: "dst_ip", Type: field.Address, BitOffset: 128, BitWidth: 32},
		},
		HeaderLen: func(map[string]field.Field) int { return ipv4HeaderLen },
		Defaults: map[string]field.Field{
			"version":    nibbleField("version", 4, field.NibbleHigh),
			"ihl":        nibbleField("ihl", 5, field.NibbleLow),
			"tos":        field.I8Field("tos", 0),
			"id":         field.I16Field("id", 0),
			"ttl":        field.I8Field("ttl", 64),
			"protocol":   field.I8Field("protocol", 17),
			"flags_frag": field.I16Field("flags_frag", 0),
			"src_ip":     field.AddressField("src_ip", net.IPv4zero),
			"dst_ip":     field.AddressField("dst_ip", net.IPv4zero),
		},
		Computed:   map[string]bool{"total_length": true, "checksum": true},
		FlowFields: []string{"src_ip", "dst_ip", "protocol"},
		ComputeLength: func(layerStart, _, totalLen int) (string, uint32) {
			return "total_length", uint32(totalLen - layerStart)
		},
		ChecksumField: "checksum",
		ComputeChecksum: func(buf []byte, start, _ int, _ []byte) uint16 {
			// The IPv4 checksum covers the header only.
			return Checksum(buf[start : start+ipv4HeaderLen])
		},
		PseudoHeader: func(fields map[string]field.Field, upperProtocol string, upperLen int) []byte {
			src := fields["src_ip"].IP().To4()
			dst := fields["dst_ip"].IP().To4()
			ph := make([]byte, 12)
			copy(ph[0:4], src)
			copy(ph[4:8], dst)
			ph[8] = 0
			ph[9] = ipv4NumberByNextProto[upperProtocol]
			ph[10] = byte(upperLen >> 8)
			ph[11] = byte(upperLen)
			return ph
		},
		NextProtocol: func(fields map[string]field.Field) (string, bool) {
			name, ok := ipv4NextProtoByNumber[fields["protocol"].Uint()]
			return name, ok
		},
	})
}

// nibbleField builds an I4 default for one of the header's 4-bit fields.
func nibbleField(name string, v uint8, pos field.Nibble) field.Field {
	f, _ := field.Create(name, field.I4, v)
	return f.WithNibble(pos)
}
