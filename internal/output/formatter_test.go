package output

import (
	"encoding/csv"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/mnikolakis/flowtrace/internal/traceroute"
)

func sampleResult() *traceroute.Result {
	return &traceroute.Result{
		Target:     "example.com",
		ResolvedIP: net.ParseIP("142.250.185.238"),
		Timestamp:  time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC),
		Method:     traceroute.MethodUDP,
		Completed:  true,
		Hops: []traceroute.Hop{
			{
				TTL:         1,
				IP:          net.ParseIP("192.168.1.1"),
				Hostname:    "router.local",
				RTTs:        []float64{1.234, 1.456, 1.123},
				AvgRTT:      1.271,
				MinRTT:      1.123,
				MaxRTT:      1.456,
				Jitter:      0.333,
				LossPercent: 0,
			},
			{
				TTL:         2,
				IP:          net.ParseIP("10.0.0.1"),
				RTTs:        []float64{5.678, -1, 5.432},
				AvgRTT:      5.555,
				MinRTT:      5.432,
				MaxRTT:      5.678,
				Jitter:      0.246,
				LossPercent: 33.33,
			},
			{
				TTL:         3,
				RTTs:        []float64{-1, -1, -1},
				LossPercent: 100,
			},
		},
		Summary: traceroute.Summary{
			TotalHops:         3,
			TotalTimeMs:       5.555,
			PacketLossPercent: 44.44,
		},
	}
}

func TestTextFormatter(t *testing.T) {
	formatter := NewTextFormatter(Config{Colors: false})

	data, err := formatter.Format(sampleResult())
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	output := string(data)

	if !strings.Contains(output, "traceroute to example.com") {
		t.Error("output should contain target in header")
	}
	if !strings.Contains(output, "192.168.1.1") {
		t.Error("output should contain hop 1 IP")
	}
	if !strings.Contains(output, "router.local") {
		t.Error("output should contain hop 1 hostname")
	}
	if !strings.Contains(output, "* * *") {
		t.Error("output should contain timeout markers for the all-star hop")
	}
	if !strings.Contains(output, "Trace complete") {
		t.Error("output should contain completion summary")
	}
}

func TestTextFormatterMarksIcmpErrors(t *testing.T) {
	formatter := NewTextFormatter(Config{Colors: false})
	hop := traceroute.Hop{
		TTL:        4,
		IP:         net.ParseIP("198.51.100.254"),
		RTTs:       []float64{2.5, 3.1, 2.9},
		ICMPErrors: []bool{false, true, false},
	}

	line := formatter.FormatHop(&hop)
	if !strings.Contains(line, "3.100 ms !") {
		t.Errorf("expected the second probe's ICMP error marked with !, got %q", line)
	}
	if strings.Count(line, "!") != 1 {
		t.Errorf("only the ICMP-error probe should carry a marker, got %q", line)
	}
}

func TestTableFormatter(t *testing.T) {
	formatter := NewTableFormatter(Config{Colors: false})

	data, err := formatter.Format(sampleResult())
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	output := string(data)

	if !strings.Contains(output, "Target: example.com") {
		t.Error("output should contain target")
	}
	if !strings.Contains(output, "IP ADDRESS") {
		t.Error("output should contain IP ADDRESS column")
	}
	if !strings.Contains(output, "192.168.1.1") {
		t.Error("output should contain hop IP")
	}
	if !strings.Contains(output, "Total Hops") {
		t.Error("output should contain summary")
	}
}

func TestJSONFormatter(t *testing.T) {
	formatter := NewJSONFormatter(Config{})

	data, err := formatter.Format(sampleResult())
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}

	var parsed traceroute.Result
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("json parsing error: %v", err)
	}
	if parsed.Target != "example.com" {
		t.Errorf("Target = %q, want %q", parsed.Target, "example.com")
	}
	if len(parsed.Hops) != 3 {
		t.Errorf("len(Hops) = %d, want 3", len(parsed.Hops))
	}
	if parsed.Hops[0].IP.String() != "192.168.1.1" {
		t.Errorf("Hops[0].IP = %v, want 192.168.1.1", parsed.Hops[0].IP)
	}
	if !parsed.Completed {
		t.Error("Completed should be true")
	}
}

func TestJSONFormatterCompact(t *testing.T) {
	formatter := NewJSONFormatterCompact(Config{})

	data, err := formatter.Format(sampleResult())
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	lines := strings.Split(string(data), "\n")
	if len(lines) > 2 || (len(lines) == 2 && lines[1] != "") {
		t.Error("compact JSON should be on a single line")
	}
}

func TestCSVFormatter(t *testing.T) {
	formatter := NewCSVFormatter(Config{})

	data, err := formatter.Format(sampleResult())
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}

	reader := csv.NewReader(strings.NewReader(string(data)))
	records, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("csv parsing error: %v", err)
	}
	if records[0][0] != "ttl" {
		t.Errorf("Header[0] = %q, want %q", records[0][0], "ttl")
	}
	if records[0][1] != "ip" {
		t.Errorf("Header[1] = %q, want %q", records[0][1], "ip")
	}
	if len(records) != 4 {
		t.Errorf("len(records) = %d, want 4", len(records))
	}
	if records[1][0] != "1" {
		t.Errorf("Row 1 ttl = %q, want %q", records[1][0], "1")
	}
	if records[1][1] != "192.168.1.1" {
		t.Errorf("Row 1 IP = %q, want %q", records[1][1], "192.168.1.1")
	}
}

func TestNewFormatter(t *testing.T) {
	config := DefaultConfig()

	tests := []struct {
		format   Format
		expected string
	}{
		{FormatText, "text/plain"},
		{FormatVerbose, "text/plain"},
		{FormatJSON, "application/json"},
		{FormatCSV, "text/csv"},
	}

	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			formatter := NewFormatter(tt.format, config)
			if formatter.ContentType() != tt.expected {
				t.Errorf("ContentType() = %q, want %q", formatter.ContentType(), tt.expected)
			}
		})
	}
}

func TestTruncateString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is a long string", 10, "this is..."},
		{"", 5, ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := truncateString(tt.input, tt.maxLen)
			if result != tt.expected {
				t.Errorf("truncateString(%q, %d) = %q, want %q",
					tt.input, tt.maxLen, result, tt.expected)
			}
		})
	}
}

func TestRoundFloat(t *testing.T) {
	tests := []struct {
		input     float64
		precision int
		expected  float64
	}{
		{1.2345, 2, 1.23},
		{1.2355, 2, 1.24},
		{1.5, 0, 2},
		{1.4, 0, 1},
		{1.23456789, 3, 1.235},
	}

	for _, tt := range tests {
		result := roundFloat(tt.input, tt.precision)
		if result != tt.expected {
			t.Errorf("roundFloat(%v, %d) = %v, want %v",
				tt.input, tt.precision, result, tt.expected)
		}
	}
}
