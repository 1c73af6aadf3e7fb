// Package config provides defaults-file support for flowtrace: a YAML
// file of flag defaults plus destination aliases, loaded once at
// startup and overridden by whatever flags the user actually passed.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the flowtrace configuration file structure.
type Config struct {
	// Defaults are applied when flags are not specified.
	Defaults Defaults `yaml:"defaults"`

	// Aliases for common targets.
	Aliases map[string]string `yaml:"aliases,omitempty"`
}

// Defaults holds default values for every run parameter a flag can
// override.
type Defaults struct {
	// Output mode
	TUI     bool `yaml:"tui"`
	Verbose bool `yaml:"verbose"`
	JSON    bool `yaml:"json"`
	CSV     bool `yaml:"csv"`
	NoColor bool `yaml:"no_color"`

	// Algorithm: paris-traceroute or mda.
	Algorithm string `yaml:"algorithm"`
	// Transport: udp or icmp.
	Protocol string `yaml:"protocol"`

	// Traceroute parameters
	MinTTL       int           `yaml:"min_ttl"`
	MaxTTL       int           `yaml:"max_ttl"`
	NumProbes    int           `yaml:"num_probes"`
	MaxStars     int           `yaml:"max_stars"`

	// MDA parameters
	Bound     float64 `yaml:"bound"`
	MaxBranch int     `yaml:"max_branch"`

	// Network
	IPv4       bool          `yaml:"ipv4"`
	IPv6       bool          `yaml:"ipv6"`
	SourcePort int           `yaml:"source_port"`
	DestPort   int           `yaml:"dest_port"`
	NoRDNS     bool          `yaml:"no_rdns"`
	Timeout    time.Duration `yaml:"timeout"`
}

// DefaultConfig returns a Config with flowtrace's own built-in
// defaults, matching spec's CLI defaults (udp transport, dst_port
// 3000, source_port 3838, 3s timeout, bound 0.05).
func DefaultConfig() *Config {
	return &Config{
		Defaults: Defaults{
			Algorithm:  "paris-traceroute",
			Protocol:   "udp",
			MinTTL:     1,
			MaxTTL:     30,
			NumProbes:  3,
			MaxStars:   5,
			Bound:      0.05,
			MaxBranch:  16,
			SourcePort: 3838,
			DestPort:   3000,
			Timeout:    3 * time.Second,
		},
		Aliases: make(map[string]string),
	}
}

// Load reads configuration from the default config file locations. It
// searches, in order:
//  1. ./flowtrace.yaml (current directory)
//  2. ~/.config/flowtrace/config.yaml (Linux/macOS)
//  3. %APPDATA%\flowtrace\config.yaml (Windows)
//
// If no config file is found, returns default configuration.
func Load() (*Config, error) {
	for _, path := range getConfigPaths() {
		if _, err := os.Stat(path); err == nil {
			return LoadFrom(path)
		}
	}
	return DefaultConfig(), nil
}

// LoadFrom reads configuration from a specific file path.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, err
	}
	return config, nil
}

// Save writes the configuration to the default user config path.
func (c *Config) Save() error {
	return c.SaveTo(getUserConfigPath())
}

// SaveTo writes the configuration to a specific file path.
func (c *Config) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// getConfigPaths returns the list of config file paths to search.
func getConfigPaths() []string {
	paths := []string{"flowtrace.yaml", "flowtrace.yml", ".flowtrace.yaml", ".flowtrace.yml"}
	if userPath := getUserConfigPath(); userPath != "" {
		paths = append(paths, userPath)
	}
	return paths
}

// getUserConfigPath returns the user-specific config file path.
func getUserConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "flowtrace", "config.yaml")
		}
	default:
		home, err := os.UserHomeDir()
		if err == nil {
			if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
				return filepath.Join(xdgConfig, "flowtrace", "config.yaml")
			}
			return filepath.Join(home, ".config", "flowtrace", "config.yaml")
		}
	}
	return ""
}

// GetConfigPath returns the path where user config would be saved.
func GetConfigPath() string {
	return getUserConfigPath()
}

// GenerateExample generates an example configuration file content.
func GenerateExample() string {
	return `# flowtrace configuration file
# Location: ~/.config/flowtrace/config.yaml (Linux/macOS)
#           %APPDATA%\flowtrace\config.yaml (Windows)
#           ./flowtrace.yaml (current directory)

defaults:
  # Output mode (only one should be true)
  tui: false              # Interactive TUI mode
  verbose: false          # Detailed table output
  json: false             # JSON output
  csv: false              # CSV output
  no_color: false         # Disable colors

  # Algorithm: paris-traceroute or mda
  algorithm: paris-traceroute
  # Transport: udp or icmp
  protocol: udp

  # Traceroute parameters
  min_ttl: 1
  max_ttl: 30
  num_probes: 3
  max_stars: 5

  # MDA parameters
  bound: 0.05             # Birthday-bound miss probability
  max_branch: 16          # Per-hop interface fanout ceiling

  # Network settings
  ipv4: false             # Force IPv4
  ipv6: false             # Force IPv6
  source_port: 3838
  dest_port: 3000
  no_rdns: false          # Disable reverse-DNS hostname lookups
  timeout: 3s

# Target aliases (optional)
aliases:
  dns: 8.8.8.8
  cf: 1.1.1.1
`
}
