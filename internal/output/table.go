package output

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/mnikolakis/flowtrace/internal/traceroute"
	"github.com/olekukonko/tablewriter"
)

// TableFormatter formats trace results as a detailed table.
type TableFormatter struct {
	config Config
	colors *ColorScheme
}

// NewTableFormatter creates a new table formatter.
func NewTableFormatter(config Config) *TableFormatter {
	var colors *ColorScheme
	if config.Colors {
		colors = DefaultColorScheme()
	}
	return &TableFormatter{config: config, colors: colors}
}

// Format formats the trace result as a detailed table.
func (f *TableFormatter) Format(result *traceroute.Result) ([]byte, error) {
	var buf bytes.Buffer

	f.writeHeader(&buf, result)

	table := tablewriter.NewWriter(&buf)
	f.configureTable(table)
	table.SetHeader([]string{"TTL", "IP Address", "Hostname", "Avg", "Min", "Max", "Loss"})

	for _, hop := range result.Hops {
		table.Append(f.formatHopRow(&hop))
	}
	table.Render()

	f.writeSummary(&buf, result)
	return buf.Bytes(), nil
}

func (f *TableFormatter) writeHeader(buf *bytes.Buffer, result *traceroute.Result) {
	header := fmt.Sprintf("Target: %s (%s)\n", result.Target, result.ResolvedIP)
	header += fmt.Sprintf("Method: %s | Time: %s\n\n",
		strings.ToUpper(string(result.Method)),
		result.Timestamp.Format("2006-01-02 15:04:05"))

	if f.colors != nil {
		header = f.colors.Header.Sprint(header)
	}
	buf.WriteString(header)
}

func (f *TableFormatter) configureTable(table *tablewriter.Table) {
	table.SetBorder(true)
	table.SetRowLine(false)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("│")
	table.SetColumnSeparator("│")
	table.SetRowSeparator("─")
	table.SetHeaderLine(true)
	table.SetTablePadding(" ")
}

func (f *TableFormatter) formatHopRow(hop *traceroute.Hop) []string {
	row := []string{fmt.Sprintf("%d", hop.TTL)}

	if hop.IP == nil {
		row = append(row, "*", "-")
	} else {
		row = append(row, hop.IP.String(), truncateString(hop.Hostname, 25))
	}

	if hop.AvgRTT > 0 {
		row = append(row,
			f.formatRTT(hop.AvgRTT),
			f.formatRTT(hop.MinRTT),
			f.formatRTT(hop.MaxRTT),
			fmt.Sprintf("%.0f%%", hop.LossPercent))
	} else {
		row = append(row, "-", "-", "-", "-")
	}

	return row
}

func (f *TableFormatter) formatRTT(rtt float64) string {
	if rtt <= 0 {
		return "-"
	}
	str := fmt.Sprintf("%.2f", rtt)
	if f.colors != nil {
		switch {
		case rtt < 50:
			str = f.colors.RTTLow.Sprint(str)
		case rtt < 150:
			str = f.colors.RTTMed.Sprint(str)
		default:
			str = f.colors.RTTHigh.Sprint(str)
		}
	}
	return str
}

func (f *TableFormatter) writeSummary(buf *bytes.Buffer, result *traceroute.Result) {
	buf.WriteString("\nSummary:\n")

	responding := 0
	for _, hop := range result.Hops {
		if hop.Reached || hop.IP != nil {
			responding++
		}
	}

	fmt.Fprintf(buf, "  Total Hops:    %d\n", result.Summary.TotalHops)
	fmt.Fprintf(buf, "  Responding:    %d\n", responding)
	fmt.Fprintf(buf, "  Total Time:    %.2f ms\n", result.Summary.TotalTimeMs)
	fmt.Fprintf(buf, "  Packet Loss:   %.1f%%\n", result.Summary.PacketLossPercent)

	buf.WriteString("  Status:        ")
	status := "Incomplete"
	if result.Completed {
		status = "Complete"
	}
	if f.colors != nil {
		if result.Completed {
			status = f.colors.RTTLow.Sprint(status)
		} else {
			status = f.colors.RTTHigh.Sprint(status)
		}
	}
	buf.WriteString(status)
	buf.WriteString("\n")
}

// ContentType returns the MIME type for table output.
func (f *TableFormatter) ContentType() string { return "text/plain" }

// FileExtension returns the file extension for table output.
func (f *TableFormatter) FileExtension() string { return "txt" }

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
