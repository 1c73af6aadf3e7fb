package output

import (
	"bytes"
	"fmt"

	"github.com/fatih/color"
	"github.com/mnikolakis/flowtrace/internal/traceroute"
)

// TextFormatter formats trace results in classic traceroute style:
// one line per TTL giving the hop's IP, its hostname in parentheses,
// then each probe's RTT. A hop carries a single address, so the IP and
// hostname are printed once per line rather than once per probe.
type TextFormatter struct {
	config Config
	colors *ColorScheme
}

// NewTextFormatter creates a new text formatter.
func NewTextFormatter(config Config) *TextFormatter {
	var colors *ColorScheme
	if config.Colors {
		colors = DefaultColorScheme()
	}
	return &TextFormatter{config: config, colors: colors}
}

// Format formats the trace result as classic traceroute text output.
func (f *TextFormatter) Format(result *traceroute.Result) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "traceroute to %s (%s), %d hops max\n\n",
		result.Target, result.ResolvedIP, result.Summary.TotalHops)

	for _, hop := range result.Hops {
		f.formatHop(&buf, &hop)
	}

	buf.WriteString("\n")
	if result.Completed {
		fmt.Fprintf(&buf, "Trace complete. %d hops, %.2f ms total\n",
			result.Summary.TotalHops, result.Summary.TotalTimeMs)
	} else {
		fmt.Fprintf(&buf, "Trace incomplete after %d hops\n",
			result.Summary.TotalHops)
	}

	return buf.Bytes(), nil
}

// FormatHop formats a single hop and returns it as a string, for
// streaming output as each TTL completes.
func (f *TextFormatter) FormatHop(hop *traceroute.Hop) string {
	var buf bytes.Buffer
	f.formatHop(&buf, hop)
	return buf.String()
}

// formatHop writes one "TTL IP (HOSTNAME)  RTT ms  RTT ms ..." line.
func (f *TextFormatter) formatHop(buf *bytes.Buffer, hop *traceroute.Hop) {
	ttlStr := fmt.Sprintf("%3d  ", hop.TTL)
	if f.colors != nil {
		ttlStr = f.colors.Hop.Sprint(ttlStr)
	}
	buf.WriteString(ttlStr)

	if hop.IP == nil {
		star := "* * *"
		if f.colors != nil {
			star = f.colors.Timeout.Sprint(star)
		}
		buf.WriteString(star)
		buf.WriteString("\n")
		return
	}

	ipStr := hop.IP.String()
	if f.colors != nil {
		ipStr = f.colors.IP.Sprint(ipStr)
	}

	if hop.Hostname != "" && !f.config.NoHostname {
		hostname := hop.Hostname
		if f.colors != nil {
			hostname = f.colors.Hostname.Sprint(hostname)
		}
		fmt.Fprintf(buf, "%s (%s)  ", ipStr, hostname)
	} else {
		fmt.Fprintf(buf, "%s  ", ipStr)
	}

	for i, rtt := range hop.RTTs {
		switch {
		case rtt < 0:
			timeout := "*"
			if f.colors != nil {
				timeout = f.colors.Timeout.Sprint(timeout)
			}
			fmt.Fprintf(buf, "%s  ", timeout)
		case i < len(hop.ICMPErrors) && hop.ICMPErrors[i]:
			// Classic traceroute marks a non-port-unreachable ICMP
			// error with "!" after the RTT that carried it.
			rttStr := fmt.Sprintf("%.3f ms !", rtt)
			if f.colors != nil {
				rttStr = f.colorizeRTT(rtt) + " " + f.colors.Timeout.Sprint("!")
			}
			fmt.Fprintf(buf, "%s  ", rttStr)
		default:
			rttStr := fmt.Sprintf("%.3f ms", rtt)
			if f.colors != nil {
				rttStr = f.colorizeRTT(rtt)
			}
			fmt.Fprintf(buf, "%s  ", rttStr)
		}
	}

	buf.WriteString("\n")
}

// colorizeRTT returns a colored RTT string based on latency thresholds.
func (f *TextFormatter) colorizeRTT(rtt float64) string {
	str := fmt.Sprintf("%.3f ms", rtt)
	if f.colors == nil {
		return str
	}
	switch {
	case rtt < 50:
		return f.colors.RTTLow.Sprint(str)
	case rtt < 150:
		return f.colors.RTTMed.Sprint(str)
	default:
		return f.colors.RTTHigh.Sprint(str)
	}
}

// ContentType returns the MIME type for text output.
func (f *TextFormatter) ContentType() string { return "text/plain" }

// FileExtension returns the file extension for text output.
func (f *TextFormatter) FileExtension() string { return "txt" }

// ColorScheme defines colors for different output elements.
type ColorScheme struct {
	Hop      *color.Color
	IP       *color.Color
	Hostname *color.Color
	RTTLow   *color.Color // < 50ms
	RTTMed   *color.Color // 50-150ms
	RTTHigh  *color.Color // > 150ms
	Timeout  *color.Color
	Header   *color.Color
}

// DefaultColorScheme returns the default color scheme.
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Hop:      color.New(color.FgCyan, color.Bold),
		IP:       color.New(color.FgWhite),
		Hostname: color.New(color.FgGreen),
		RTTLow:   color.New(color.FgGreen),
		RTTMed:   color.New(color.FgYellow),
		RTTHigh:  color.New(color.FgRed),
		Timeout:  color.New(color.FgRed, color.Bold),
		Header:   color.New(color.FgWhite, color.Bold),
	}
}

