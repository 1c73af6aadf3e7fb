package probe

import (
	"net"
	"testing"

	"github.com/mnikolakis/flowtrace/internal/field"
)

func mustField(t *testing.T, name string, typ field.Type, val any) field.Field {
	t.Helper()
	f, err := field.Create(name, typ, val)
	if err != nil {
		t.Fatalf("field.Create(%s): %v", name, err)
	}
	return f
}

func TestSerializeParseRoundTripUDP(t *testing.T) {
	p := New()
	if err := p.SetProtocols("ipv4", "udp"); err != nil {
		t.Fatal(err)
	}
	fields := map[string]field.Field{
		"src_ip":   mustField(t, "src_ip", field.Address, net.ParseIP("192.0.2.10").To4()),
		"dst_ip":   mustField(t, "dst_ip", field.Address, net.ParseIP("198.51.100.20").To4()),
		"ttl":      mustField(t, "ttl", field.I8, uint8(5)),
		"src_port": mustField(t, "src_port", field.I16, uint16(54321)),
		"dst_port": mustField(t, "dst_port", field.I16, uint16(33434)),
	}
	if err := p.SetFields(fields); err != nil {
		t.Fatal(err)
	}
	p.PayloadResize(12)

	raw, err := p.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if len(raw) != 20+8+12 {
		t.Fatalf("unexpected wire length %d", len(raw))
	}

	got, err := ParseFrom("ipv4", raw)
	if err != nil {
		t.Fatalf("ParseFrom: %v", err)
	}
	if !p.Equal(got) {
		t.Fatalf("round trip mismatch:\nsent: %+v\ngot:  %+v", p.Protocols(), got.Protocols())
	}
}

func TestSerializeParseRoundTripICMP(t *testing.T) {
	p := New()
	if err := p.SetProtocols("ipv4", "icmp"); err != nil {
		t.Fatal(err)
	}
	if err := p.SetFields(map[string]field.Field{
		"src_ip": mustField(t, "src_ip", field.Address, net.ParseIP("192.0.2.10").To4()),
		"dst_ip": mustField(t, "dst_ip", field.Address, net.ParseIP("198.51.100.20").To4()),
		"ttl":    mustField(t, "ttl", field.I8, uint8(1)),
		"id":     mustField(t, "id", field.I16, uint16(4242)),
		"seq":    mustField(t, "seq", field.I16, uint16(7)),
	}); err != nil {
		t.Fatal(err)
	}
	p.PayloadResize(20)

	raw, err := p.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	got, err := ParseFrom("ipv4", raw)
	if err != nil {
		t.Fatalf("ParseFrom: %v", err)
	}
	if !p.Equal(got) {
		t.Fatalf("round trip mismatch")
	}
}

func TestSerializeUDPChecksumNonZero(t *testing.T) {
	p := New()
	p.SetProtocols("ipv4", "udp")
	p.SetFields(map[string]field.Field{
		"src_ip": mustField(t, "src_ip", field.Address, net.ParseIP("10.0.0.1").To4()),
		"dst_ip": mustField(t, "dst_ip", field.Address, net.ParseIP("10.0.0.2").To4()),
	})
	p.PayloadResize(4)

	raw, err := p.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	cksum, err := ParseFrom("ipv4", raw)
	if err != nil {
		t.Fatal(err)
	}
	f, err := cksum.Extract("udp.checksum")
	if err != nil {
		t.Fatal(err)
	}
	if f.Uint() == 0 {
		t.Errorf("expected non-zero UDP checksum")
	}
}

func TestExtractQualifiedName(t *testing.T) {
	p := New()
	p.SetProtocols("ipv4", "udp")
	if _, err := p.Extract("ipv4.ttl"); err != nil {
		t.Fatalf("Extract ipv4.ttl: %v", err)
	}
	if _, err := p.Extract("nonexistent"); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestPayloadResizePreservesPrefix(t *testing.T) {
	p := New()
	p.SetPayload([]byte{1, 2, 3})
	p.PayloadResize(5)
	if p.Payload()[0] != 1 || p.Payload()[2] != 3 || p.Payload()[4] != 0 {
		t.Fatalf("unexpected payload after resize: %v", p.Payload())
	}
	p.PayloadResize(2)
	if len(p.Payload()) != 2 || p.Payload()[1] != 2 {
		t.Fatalf("unexpected payload after truncate: %v", p.Payload())
	}
}
