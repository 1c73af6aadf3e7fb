package traceroute

import (
	"net"
	"time"
)

// Hop is one TTL's worth of probing: every probe's round-trip time in
// milliseconds (a star is recorded as -1) plus the statistics derived
// from them. Unlike the per-hop record this package's ambient stack
// otherwise carries, Hop has no ASN or geolocation fields — that
// enrichment is out of scope here. ICMPErrors runs parallel to RTTs:
// ICMPErrors[i] marks that probe slot's reply as a routing error
// (DstUnreach other than port-unreachable) rather than a plain hop
// reply, so renderers can print the distinct marker it calls for.
type Hop struct {
	TTL         int       `json:"ttl"`
	IP          net.IP    `json:"ip,omitempty"`
	Hostname    string    `json:"hostname,omitempty"`
	RTTs        []float64 `json:"rtts"`
	ICMPErrors  []bool    `json:"icmp_errors,omitempty"`
	AvgRTT      float64   `json:"avg_rtt_ms"`
	MinRTT      float64   `json:"min_rtt_ms"`
	MaxRTT      float64   `json:"max_rtt_ms"`
	Jitter      float64   `json:"jitter_ms"`
	LossPercent float64   `json:"loss_percent"`
	Reached     bool      `json:"reached"`
}

// finalize computes RTT statistics from the raw samples collected
// during the sweep.
func (h *Hop) finalize() {
	h.AvgRTT, h.MinRTT, h.MaxRTT, h.Jitter = calculateRTTStats(h.RTTs)
	h.LossPercent = calculateLossPercent(h.RTTs)
}

// IsDestination reports whether this hop's responding address matches
// dest.
func (h *Hop) IsDestination(dest net.IP) bool {
	return h.IP != nil && dest != nil && h.IP.Equal(dest)
}

// Summary aggregates a completed sweep's hops into totals a renderer
// can print on a single line.
type Summary struct {
	TotalHops         int     `json:"total_hops"`
	TotalTimeMs       float64 `json:"total_time_ms"`
	PacketLossPercent float64 `json:"packet_loss_percent"`
}

// Result is one sweep's full output: every hop probed, in TTL order,
// plus whether the sweep actually reached dst.
type Result struct {
	Target     string    `json:"target"`
	ResolvedIP net.IP    `json:"resolved_ip"`
	Timestamp  time.Time `json:"timestamp"`
	Method     Method    `json:"method"`
	Hops       []Hop     `json:"hops"`
	Completed  bool      `json:"completed"`
	Summary    Summary   `json:"summary"`
}

// finalize computes per-hop statistics and the overall Summary. Called
// once, after a sweep's last hop has been recorded.
func (r *Result) finalize() {
	var totalLoss float64
	for i := range r.Hops {
		r.Hops[i].finalize()
		totalLoss += r.Hops[i].LossPercent
	}

	r.Summary.TotalHops = len(r.Hops)
	if len(r.Hops) == 0 {
		return
	}
	r.Summary.PacketLossPercent = totalLoss / float64(len(r.Hops))
	for i := len(r.Hops) - 1; i >= 0; i-- {
		if r.Hops[i].AvgRTT > 0 {
			r.Summary.TotalTimeMs = r.Hops[i].AvgRTT
			break
		}
	}
}
