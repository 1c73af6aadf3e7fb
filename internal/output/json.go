package output

import (
	"encoding/json"

	"github.com/mnikolakis/flowtrace/internal/traceroute"
)

// JSONFormatter formats trace results as JSON.
type JSONFormatter struct {
	config Config
	pretty bool
}

// NewJSONFormatter creates a new JSON formatter.
func NewJSONFormatter(config Config) *JSONFormatter {
	return &JSONFormatter{config: config, pretty: true}
}

// NewJSONFormatterCompact creates a JSON formatter with compact output.
func NewJSONFormatterCompact(config Config) *JSONFormatter {
	return &JSONFormatter{config: config, pretty: false}
}

// SetPretty enables or disables pretty-printing.
func (f *JSONFormatter) SetPretty(pretty bool) { f.pretty = pretty }

// Format formats the trace result as JSON. traceroute.Result already
// carries json tags matching this package's field names, so no
// intermediate conversion struct is needed.
func (f *JSONFormatter) Format(result *traceroute.Result) ([]byte, error) {
	if f.pretty {
		return json.MarshalIndent(result, "", "  ")
	}
	return json.Marshal(result)
}

// ContentType returns the MIME type for JSON output.
func (f *JSONFormatter) ContentType() string { return "application/json" }

// FileExtension returns the file extension for JSON output.
func (f *JSONFormatter) FileExtension() string { return "json" }

// roundFloat rounds val to precision decimal digits.
func roundFloat(val float64, precision int) float64 {
	if precision == 0 {
		return float64(int(val + 0.5))
	}
	p := float64(1)
	for i := 0; i < precision; i++ {
		p *= 10
	}
	return float64(int(val*p+0.5)) / p
}
