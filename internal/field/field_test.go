package field

import (
	"net"
	"testing"
)

func TestCreateFromWireRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		typ  Type
		val  any
	}{
		{"ttl", I8, uint8(64)},
		{"dst_port", I16, uint16(33434)},
		{"checksum", I16, uint16(0xBEEF)},
		{"seq", I32, uint32(123456)},
	}

	for _, c := range cases {
		f, err := Create(c.name, c.typ, c.val)
		if err != nil {
			t.Fatalf("Create(%v): %v", c, err)
		}

		buf := make([]byte, 4)
		switch c.typ {
		case I8:
			buf[0] = byte(f.Uint())
			buf = buf[:1]
		case I16:
			buf[0] = byte(f.Uint() >> 8)
			buf[1] = byte(f.Uint())
			buf = buf[:2]
		case I32:
			buf[0] = byte(f.Uint() >> 24)
			buf[1] = byte(f.Uint() >> 16)
			buf[2] = byte(f.Uint() >> 8)
			buf[3] = byte(f.Uint())
		}

		got, err := CreateFromWire(c.name, c.typ, buf)
		if err != nil {
			t.Fatalf("CreateFromWire: %v", err)
		}
		if got.Uint() != f.Uint() {
			t.Errorf("round trip mismatch: want %d got %d", f.Uint(), got.Uint())
		}
	}
}

func TestCompareMismatchedTypesIsError(t *testing.T) {
	a, _ := Create("x", I16, uint16(1))
	b, _ := Create("x", String, "1")

	if _, err := Compare(a, b); err == nil {
		t.Fatal("expected error comparing mismatched field types")
	}
}

func TestCompareOrdering(t *testing.T) {
	a, _ := Create("ttl", I8, uint8(1))
	b, _ := Create("ttl", I8, uint8(2))

	ord, err := Compare(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if ord != Less {
		t.Errorf("want Less, got %v", ord)
	}

	ord, err = Compare(b, a)
	if err != nil {
		t.Fatal(err)
	}
	if ord != Greater {
		t.Errorf("want Greater, got %v", ord)
	}
}

func TestCompareBytesLexicographic(t *testing.T) {
	a, _ := Create("payload", Bytes, []byte{0x01, 0x02})
	b, _ := Create("payload", Bytes, []byte{0x01, 0x03})

	ord, err := Compare(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if ord != Less {
		t.Errorf("want Less, got %v", ord)
	}
}

func TestI4MustBeNibble(t *testing.T) {
	if _, err := Create("flags", I4, uint8(0x10)); err == nil {
		t.Fatal("expected error for I4 value above 0x0f")
	}
	f, err := Create("flags", I4, uint8(0x0a))
	if err != nil {
		t.Fatal(err)
	}
	f = f.WithNibble(NibbleHigh)
	if f.Nibble() != NibbleHigh {
		t.Errorf("nibble not preserved")
	}
}

func TestAddressField(t *testing.T) {
	ip := net.ParseIP("192.0.2.1")
	f, err := Create("dst_ip", Address, ip)
	if err != nil {
		t.Fatal(err)
	}
	if !f.IP().Equal(ip) {
		t.Errorf("want %v got %v", ip, f.IP())
	}
}

func TestSize(t *testing.T) {
	if Size(I4) != 4 {
		t.Errorf("I4 size")
	}
	if Size(I8) != 8 {
		t.Errorf("I8 size")
	}
	if Size(I16) != 16 {
		t.Errorf("I16 size")
	}
	if Size(I32) != 32 {
		t.Errorf("I32 size")
	}
	if Size(String) != -1 {
		t.Errorf("String size should be variable")
	}
}

func TestDump(t *testing.T) {
	f, _ := Create("ttl", I8, uint8(5))
	if Dump(f) != "ttl = 5" {
		t.Errorf("unexpected dump: %s", Dump(f))
	}
}
