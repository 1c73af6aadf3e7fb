package output

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/mnikolakis/flowtrace/internal/traceroute"
)

// CSVFormatter formats trace results as CSV.
type CSVFormatter struct {
	config  Config
	columns []string
}

// Default CSV columns.
var defaultCSVColumns = []string{
	"ttl", "ip", "hostname", "avg_rtt_ms", "min_rtt_ms", "max_rtt_ms", "jitter_ms", "loss_percent",
}

// NewCSVFormatter creates a new CSV formatter.
func NewCSVFormatter(config Config) *CSVFormatter {
	return &CSVFormatter{config: config, columns: defaultCSVColumns}
}

// SetColumns allows customizing which columns to include.
func (f *CSVFormatter) SetColumns(columns []string) { f.columns = columns }

// Format formats the trace result as CSV.
func (f *CSVFormatter) Format(result *traceroute.Result) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(f.columns); err != nil {
		return nil, err
	}
	for _, hop := range result.Hops {
		if err := writer.Write(f.formatRow(&hop)); err != nil {
			return nil, err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// formatRow formats a single hop as a CSV row.
func (f *CSVFormatter) formatRow(hop *traceroute.Hop) []string {
	row := make([]string, len(f.columns))
	for i, col := range f.columns {
		row[i] = f.getValue(hop, col)
	}
	return row
}

// getValue returns the value for a specific column.
func (f *CSVFormatter) getValue(hop *traceroute.Hop, column string) string {
	switch column {
	case "ttl":
		return strconv.Itoa(hop.TTL)
	case "ip":
		if hop.IP != nil {
			return hop.IP.String()
		}
		return "*"
	case "hostname":
		return hop.Hostname
	case "avg_rtt_ms":
		return formatFloat(hop.AvgRTT)
	case "min_rtt_ms":
		return formatFloat(hop.MinRTT)
	case "max_rtt_ms":
		return formatFloat(hop.MaxRTT)
	case "jitter_ms":
		return formatFloat(hop.Jitter)
	case "loss_percent":
		return formatFloat(hop.LossPercent)
	case "reached":
		if hop.Reached {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

// formatFloat formats a float for CSV output.
func formatFloat(f float64) string {
	if f <= 0 {
		return ""
	}
	return fmt.Sprintf("%.3f", f)
}

// ContentType returns the MIME type for CSV output.
func (f *CSVFormatter) ContentType() string { return "text/csv" }

// FileExtension returns the file extension for CSV output.
func (f *CSVFormatter) FileExtension() string { return "csv" }
