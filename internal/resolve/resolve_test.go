package resolve

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestCache(t *testing.T) {
	cache := NewCache(3, time.Minute)

	cache.Set("key1", "value1")
	val, ok := cache.Get("key1")
	if !ok || val != "value1" {
		t.Errorf("Get(key1) = %v, %v; want value1, true", val, ok)
	}

	_, ok = cache.Get("missing")
	if ok {
		t.Error("Get(missing) should return false")
	}

	cache.Set("key2", "value2")
	cache.Set("key3", "value3")
	cache.Set("key4", "value4") // should evict key1

	if cache.Size() != 3 {
		t.Errorf("Size() = %d, want 3", cache.Size())
	}

	cache.Clear()
	if cache.Size() != 0 {
		t.Errorf("Size() after Clear() = %d, want 0", cache.Size())
	}
}

func TestCacheExpiration(t *testing.T) {
	cache := NewCache(10, 50*time.Millisecond)
	cache.Set("key", "value")

	if _, ok := cache.Get("key"); !ok {
		t.Error("key should exist immediately after set")
	}

	time.Sleep(100 * time.Millisecond)
	if _, ok := cache.Get("key"); ok {
		t.Error("key should be expired")
	}
}

func TestRDNSResolverNilIP(t *testing.T) {
	resolver := NewRDNSResolver(DefaultRDNSConfig())
	defer resolver.Close()

	hostname, err := resolver.Lookup(context.Background(), nil)
	if err != nil {
		t.Errorf("Lookup(nil) error = %v, want nil", err)
	}
	if hostname != "" {
		t.Errorf("Lookup(nil) = %q, want empty", hostname)
	}
}

func TestRDNSResolverCachesResult(t *testing.T) {
	resolver := NewRDNSResolver(RDNSConfig{Timeout: time.Second, CacheSize: 10, CacheTTL: time.Minute})
	defer resolver.Close()

	resolver.cache.Set("203.0.113.5", "router.example.net")
	hostname, err := resolver.Lookup(context.Background(), net.ParseIP("203.0.113.5"))
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if hostname != "router.example.net" {
		t.Errorf("Lookup returned %q, want cached value", hostname)
	}
}

func TestGuessFamilyRejectsBothFlags(t *testing.T) {
	_, _, err := GuessFamily(context.Background(), "example.com", true, true)
	if err == nil {
		t.Fatal("GuessFamily with both -4 and -6 set should error")
	}
}

func TestGuessFamilyLiteralIPv4(t *testing.T) {
	family, ip, err := GuessFamily(context.Background(), "198.51.100.1", false, false)
	if err != nil {
		t.Fatalf("GuessFamily: %v", err)
	}
	if family != 4 {
		t.Errorf("family = %d, want 4", family)
	}
	if !ip.Equal(net.ParseIP("198.51.100.1")) {
		t.Errorf("ip = %v, want 198.51.100.1", ip)
	}
}

func TestGuessFamilyLiteralIPv6(t *testing.T) {
	family, ip, err := GuessFamily(context.Background(), "2001:db8::1", false, false)
	if err != nil {
		t.Fatalf("GuessFamily: %v", err)
	}
	if family != 6 {
		t.Errorf("family = %d, want 6", family)
	}
	if !ip.Equal(net.ParseIP("2001:db8::1")) {
		t.Errorf("ip = %v, want 2001:db8::1", ip)
	}
}

func TestGuessFamilyLiteralMismatchedFlag(t *testing.T) {
	if _, _, err := GuessFamily(context.Background(), "198.51.100.1", false, true); err == nil {
		t.Fatal("GuessFamily(IPv4 literal, -6) should error")
	}
	if _, _, err := GuessFamily(context.Background(), "2001:db8::1", true, false); err == nil {
		t.Fatal("GuessFamily(IPv6 literal, -4) should error")
	}
}
