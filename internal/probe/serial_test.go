package probe

import (
	"net"
	"testing"

	"github.com/mnikolakis/flowtrace/internal/field"
	"github.com/mnikolakis/flowtrace/internal/layer"
)

func buildUDPProbe(t *testing.T) *Probe {
	t.Helper()
	p := New()
	if err := p.SetProtocols("ipv4", "udp"); err != nil {
		t.Fatal(err)
	}
	if err := p.SetFields(map[string]field.Field{
		"src_ip": mustField(t, "src_ip", field.Address, net.ParseIP("192.0.2.1").To4()),
		"dst_ip": mustField(t, "dst_ip", field.Address, net.ParseIP("192.0.2.2").To4()),
		"ttl":    mustField(t, "ttl", field.I8, uint8(7)),
	}); err != nil {
		t.Fatal(err)
	}
	p.PayloadResize(12)
	return p
}

func TestSerializeWithSerialRoundTrips(t *testing.T) {
	for _, serial := range []uint16{0, 1, 42, 0x1234, 0xffff, 0xbeef} {
		p := buildUDPProbe(t)
		raw, err := p.SerializeWithSerial(serial)
		if err != nil {
			t.Fatalf("serial %d: SerializeWithSerial: %v", serial, err)
		}
		got, err := ExtractSerial("ipv4", raw)
		if err != nil {
			t.Fatalf("serial %d: ExtractSerial: %v", serial, err)
		}
		if got != serial {
			t.Errorf("serial %d: round trip gave %d", serial, got)
		}
	}
}

func TestSerializeWithSerialLeavesIPChecksumValid(t *testing.T) {
	p := buildUDPProbe(t)
	raw, err := p.SerializeWithSerial(0xcafe)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) < 20 {
		t.Fatalf("packet too short: %d", len(raw))
	}
	// A checksum validates when recomputing it over the whole range,
	// checksum field included, folds to zero.
	if sum := layer.Checksum(raw[:20]); sum != 0 {
		t.Errorf("IPv4 header checksum does not validate: got %#x", sum)
	}
}

func TestSerializeWithSerialRejectsShortPayload(t *testing.T) {
	p := buildUDPProbe(t)
	p.PayloadResize(1)
	if _, err := p.SerializeWithSerial(1); err == nil {
		t.Fatal("expected error for payload too short to reserve adjustment bytes")
	}
}
