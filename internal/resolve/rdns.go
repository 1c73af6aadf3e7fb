// Package resolve holds the ambient, out-of-scope collaborators a
// traceroute run still needs: reverse DNS hostname annotation and the
// address-family decision for a bare destination argument.
package resolve

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

// RDNSResolver performs reverse DNS lookups, backed by an LRU+TTL
// cache so repeated hops through the same router only resolve once.
type RDNSResolver struct {
	timeout time.Duration
	cache   *Cache
}

// RDNSConfig configures the resolver.
type RDNSConfig struct {
	Timeout   time.Duration
	CacheSize int
	CacheTTL  time.Duration
}

// DefaultRDNSConfig returns sensible defaults for a traceroute run.
func DefaultRDNSConfig() RDNSConfig {
	return RDNSConfig{
		Timeout:   2 * time.Second,
		CacheSize: 1000,
		CacheTTL:  5 * time.Minute,
	}
}

// NewRDNSResolver builds a resolver from config.
func NewRDNSResolver(config RDNSConfig) *RDNSResolver {
	if config.Timeout == 0 {
		config.Timeout = 2 * time.Second
	}
	var cache *Cache
	if config.CacheSize > 0 {
		cache = NewCache(config.CacheSize, config.CacheTTL)
	}
	return &RDNSResolver{timeout: config.Timeout, cache: cache}
}

// Lookup resolves ip to a hostname, returning "" (never an error) on
// any DNS failure — lookup failures are routine for transit hops, not
// exceptional conditions worth propagating.
func (r *RDNSResolver) Lookup(ctx context.Context, ip net.IP) (string, error) {
	if ip == nil {
		return "", nil
	}
	ipStr := ip.String()

	if r.cache != nil {
		if cached, ok := r.cache.Get(ipStr); ok {
			return cached, nil
		}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	names, err := net.DefaultResolver.LookupAddr(lookupCtx, ipStr)
	if err != nil {
		if r.cache != nil {
			r.cache.Set(ipStr, "")
		}
		return "", nil
	}

	hostname := ""
	if len(names) > 0 {
		hostname = strings.TrimSuffix(names[0], ".")
	}
	if r.cache != nil {
		r.cache.Set(ipStr, hostname)
	}
	return hostname, nil
}

// LookupBatch resolves several addresses concurrently, capped at 10
// in-flight lookups so a big hop fan-out doesn't open hundreds of
// sockets at once.
func (r *RDNSResolver) LookupBatch(ctx context.Context, ips []net.IP) map[string]string {
	results := make(map[string]string, len(ips))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, 10)

	for _, ip := range ips {
		if ip == nil {
			continue
		}
		wg.Add(1)
		go func(ip net.IP) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			hostname, _ := r.Lookup(ctx, ip)
			mu.Lock()
			results[ip.String()] = hostname
			mu.Unlock()
		}(ip)
	}
	wg.Wait()
	return results
}

// Close releases the resolver's cache.
func (r *RDNSResolver) Close() error {
	if r.cache != nil {
		r.cache.Clear()
	}
	return nil
}

// GuessFamily decides which IP family to probe with when the caller
// hasn't pinned one down with -4/-6. wantV4 and wantV6 both true is a
// configuration error: the caller must pick one rather than have this
// function guess on their behalf. With neither set, it resolves dst
// and follows whichever family the resolver actually returned.
func GuessFamily(ctx context.Context, dst string, wantV4, wantV6 bool) (int, net.IP, error) {
	if wantV4 && wantV6 {
		return 0, nil, fmt.Errorf("resolve: -4 and -6 are mutually exclusive, pick one")
	}

	if ip := net.ParseIP(dst); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			if wantV6 {
				return 0, nil, fmt.Errorf("resolve: %s is an IPv4 address but -6 was requested", dst)
			}
			return 4, ip, nil
		}
		if wantV4 {
			return 0, nil, fmt.Errorf("resolve: %s is an IPv6 address but -4 was requested", dst)
		}
		return 6, ip, nil
	}

	network := "ip"
	switch {
	case wantV4:
		network = "ip4"
	case wantV6:
		network = "ip6"
	}
	addrs, err := net.DefaultResolver.LookupIP(ctx, network, dst)
	if err != nil {
		return 0, nil, fmt.Errorf("resolve: lookup %s: %w", dst, err)
	}
	if len(addrs) == 0 {
		return 0, nil, fmt.Errorf("resolve: %s resolved to no addresses", dst)
	}

	ip := addrs[0]
	if v4 := ip.To4(); v4 != nil {
		return 4, ip, nil
	}
	return 6, ip, nil
}
