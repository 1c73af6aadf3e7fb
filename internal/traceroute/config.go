// Package traceroute implements a flow-preserving, Paris-style TTL
// sweep: one skeleton probe is replayed at increasing TTLs, a fixed
// number of times per hop, and the replies are turned into a Result
// a caller can render. Per-TTL multipath discovery is the separate mda
// package, which runs its own probes and does not take a Result.
package traceroute

import "time"

// Method selects the transport a sweep's probes use.
type Method string

const (
	MethodUDP  Method = "udp"
	MethodICMP Method = "icmp"
)

// Config holds everything a sweep needs beyond the destination
// itself. The zero value is not meaningful; use DefaultConfig.
type Config struct {
	Method Method
	Family int // 4 or 6

	SourcePort int
	DestPort   int

	FirstTTL     int
	MaxTTL       int
	ProbesPerHop int
	MaxStars     int

	Timeout     time.Duration
	PayloadSize int

	// OnHop, if set, is called from the loop goroutine each time a hop
	// finishes, before the sweep moves on to the next TTL. It lets a
	// caller (the TUI, a verbose CLI mode) stream progress instead of
	// waiting for the whole Result.
	OnHop func(Hop)
}

// DefaultConfig mirrors paris-traceroute's usual defaults: three
// probes per hop, a 30-hop ceiling, and a three-second per-probe
// timeout.
func DefaultConfig() Config {
	return Config{
		Method:       MethodUDP,
		Family:       4,
		SourcePort:   3838,
		DestPort:     3000,
		FirstTTL:     1,
		MaxTTL:       30,
		ProbesPerHop: 3,
		MaxStars:     5,
		Timeout:      3 * time.Second,
		PayloadSize:  32,
	}
}
