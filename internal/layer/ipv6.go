package layer

import (
	"net"

	"github.com/mnikolakis/flowtrace/internal/field"
)

// IPv6 fixed header: 40 bytes / 320 bits, no extension headers.
//
//	0                   1                   2                   3
//	0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|Version| Traffic Class |           Flow Label                 |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|        Payload Length         |  Next Header  |   Hop Limit   |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                                                               |
//	+                         Source Address                       +
//	|                        (128 bits)                            |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                                                               |
//	+                      Destination Address                     +
//	|                        (128 bits)                            |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+

const ipv6HeaderLen = 40

var ipv6NextProtoByNumber = map[uint32]string{
	17: "udp",
	58: "icmpv6",
}

var ipv6NumberByNextProto = map[string]uint8{
	"udp":    17,
	"icmpv6": 58,
}

func init() {
	Register(&Descriptor{
		Name: "ipv6",
		FieldSpecs: []FieldSpec{
			{Name: "vtc_flow", Type: field.I32, BitOffset: 0, BitWidth: 32},
			{Name: "payload_length", Type: field.I16, BitOffset: 32, BitWidth: 16},
			{Name: "next_header", Type: field.I8, BitOffset: 48, BitWidth: 8},
			{Name: "hop_limit", Type: field.I8, BitOffset: 56, BitWidth: 8},
			{Name: "src_ip", Type: field.Address, BitOffset: 64, BitWidth: 128},
			{Name: "dst_ip", Type: field.Address, BitOffset: 192, BitWidth: 128},
		},
		HeaderLen: func(map[string]field.Field) int { return ipv6HeaderLen },
		Defaults: map[string]field.Field{
			"vtc_flow":       field.I32Field("vtc_flow", 6<<28),
			"payload_length": field.I16Field("payload_length", 0),
			"next_header":    field.I8Field("next_header", 17),
			"hop_limit":      field.I8Field("hop_limit", 64),
			"src_ip":         field.AddressField("src_ip", net.IPv6zero),
			"dst_ip":         field.AddressField("dst_ip", net.IPv6zero),
		},
		Computed:   map[string]bool{"payload_length": true},
		FlowFields: []string{"src_ip", "dst_ip", "next_header"},
		ComputeLength: func(_, payloadStart, totalLen int) (string, uint32) {
			return "payload_length", uint32(totalLen - payloadStart)
		},
		ChecksumField: "",
		PseudoHeader: func(fields map[string]field.Field, upperProtocol string, upperLen int) []byte {
			src := fields["src_ip"].IP().To16()
			dst := fields["dst_ip"].IP().To16()
			ph := make([]byte, 40)
			copy(ph[0:16], src)
			copy(ph[16:32], dst)
			ph[32] = byte(upperLen >> 24)
			ph[33] = byte(upperLen >> 16)
			ph[34] = byte(upperLen >> 8)
			ph[35] = byte(upperLen)
			ph[39] = ipv6NumberByNextProto[upperProtocol]
			return ph
		},
		NextProtocol: func(fields map[string]field.Field) (string, bool) {
			name, ok := ipv6NextProtoByNumber[fields["next_header"].Uint()]
			return name, ok
		},
	})
}
