package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mnikolakis/flowtrace/internal/config"
	"github.com/mnikolakis/flowtrace/internal/mda"
	"github.com/mnikolakis/flowtrace/internal/output"
	"github.com/mnikolakis/flowtrace/internal/resolve"
	"github.com/mnikolakis/flowtrace/internal/traceroute"
	"github.com/mnikolakis/flowtrace/internal/tui"
)

var (
	// Algorithm / transport selection
	algorithm string
	protocol  string
	udpMode   bool
	forceIPv4 bool
	forceIPv6 bool

	// Ports
	sourcePort int
	destPort   int

	// Traceroute options
	minTTL    int
	maxTTL    int
	numProbes int
	maxStars  int

	// MDA options
	bound     float64
	maxBranch int

	// Network
	timeout time.Duration
	noRDNS  bool

	// Output
	verbose    bool
	jsonOutput bool
	csvOutput  bool
	dotOutput  string
	tuiMode    bool
	noColor    bool

	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "flowtrace [flags] <target>",
	Short: "Flow-preserving, multipath-aware network path tracer",
	Long: `flowtrace traces the route packets take to reach a destination host
using a Paris-style, flow-preserving probe construction, with an
optional Multipath Detection Algorithm mode that maps every load-
balanced interface at each hop instead of just one.

Examples:
  flowtrace example.com                Paris traceroute, default UDP
  flowtrace -a mda example.com         Map every interface per hop
  flowtrace -U example.com             UDP mode, dst_port=53
  flowtrace -6 example.com             Force IPv6
  flowtrace --json example.com         JSON output
  flowtrace --tui example.com          Interactive TUI mode`,
	Args:              cobra.ExactArgs(1),
	PersistentPreRunE: loadConfig,
	RunE:              run,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ~/.config/flowtrace/config.yaml)")

	rootCmd.Flags().StringVarP(&algorithm, "algorithm", "a", "", "Algorithm: paris-traceroute or mda")
	rootCmd.Flags().StringVarP(&protocol, "protocol", "P", "", "Transport protocol (udp)")
	rootCmd.Flags().BoolVarP(&udpMode, "udp", "U", false, "UDP mode (dst_port=53 unless -d overrides it)")
	rootCmd.Flags().BoolVarP(&forceIPv4, "ipv4", "4", false, "Force IPv4")
	rootCmd.Flags().BoolVarP(&forceIPv6, "ipv6", "6", false, "Force IPv6")

	rootCmd.Flags().IntVarP(&sourcePort, "source-port", "s", 0, "Source port")
	rootCmd.Flags().IntVarP(&destPort, "dest-port", "d", 0, "Destination port")

	rootCmd.Flags().IntVar(&minTTL, "min-ttl", 0, "Minimum TTL to probe")
	rootCmd.Flags().IntVar(&maxTTL, "max-ttl", 0, "Maximum TTL to probe")
	rootCmd.Flags().IntVar(&numProbes, "num-probes", 0, "Probes per hop (paris-traceroute)")
	rootCmd.Flags().IntVar(&maxStars, "max-stars", 0, "Consecutive all-star hops before giving up")

	rootCmd.Flags().Float64Var(&bound, "bound", 0, "MDA birthday-bound miss probability")
	rootCmd.Flags().IntVar(&maxBranch, "max-branch", 0, "MDA per-hop interface fanout ceiling")

	rootCmd.Flags().DurationVar(&timeout, "timeout", 0, "Per-probe timeout")
	rootCmd.Flags().BoolVarP(&noRDNS, "no-rdns", "n", false, "Disable reverse-DNS hostname lookups")

	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed table output")
	rootCmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output in JSON format")
	rootCmd.Flags().BoolVar(&csvOutput, "csv", false, "Output in CSV format")
	rootCmd.Flags().StringVar(&dotOutput, "dot", "", "Write an MDA lattice as a Graphviz dot file")
	rootCmd.Flags().BoolVarP(&tuiMode, "tui", "t", false, "Interactive TUI mode")
	rootCmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig loads the defaults file (built-in defaults when none is
// found), then fills in any flag the user didn't explicitly set. If
// loading an existing file fails, the built-in defaults are used and
// written to the user config path.
func loadConfig(cmd *cobra.Command, args []string) error {
	var err error
	if cfgFile != "" {
		cfg, err = config.LoadFrom(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	} else {
		cfg, err = config.Load()
		if err != nil {
			cfg = config.DefaultConfig()
			if saveErr := cfg.Save(); saveErr == nil {
				fmt.Fprintf(os.Stderr, "Created default config: %s\n", config.GetConfigPath())
			}
		}
	}
	applyConfigDefaults(cmd)
	return nil
}

func applyConfigDefaults(cmd *cobra.Command) {
	if cfg == nil {
		return
	}
	d := cfg.Defaults

	if !cmd.Flags().Changed("algorithm") {
		algorithm = d.Algorithm
	}
	if !cmd.Flags().Changed("protocol") {
		protocol = d.Protocol
	}
	if !cmd.Flags().Changed("ipv4") && d.IPv4 {
		forceIPv4 = true
	}
	if !cmd.Flags().Changed("ipv6") && d.IPv6 {
		forceIPv6 = true
	}
	if !cmd.Flags().Changed("source-port") {
		sourcePort = d.SourcePort
	}
	if !cmd.Flags().Changed("dest-port") {
		destPort = d.DestPort
	}
	if !cmd.Flags().Changed("min-ttl") {
		minTTL = d.MinTTL
	}
	if !cmd.Flags().Changed("max-ttl") {
		maxTTL = d.MaxTTL
	}
	if !cmd.Flags().Changed("num-probes") {
		numProbes = d.NumProbes
	}
	if !cmd.Flags().Changed("max-stars") {
		maxStars = d.MaxStars
	}
	if !cmd.Flags().Changed("bound") {
		bound = d.Bound
	}
	if !cmd.Flags().Changed("max-branch") {
		maxBranch = d.MaxBranch
	}
	if !cmd.Flags().Changed("timeout") {
		timeout = d.Timeout
	}
	if !cmd.Flags().Changed("no-rdns") && d.NoRDNS {
		noRDNS = true
	}
	if !cmd.Flags().Changed("tui") && d.TUI {
		tuiMode = true
	}
	if !cmd.Flags().Changed("verbose") && d.Verbose {
		verbose = true
	}
	if !cmd.Flags().Changed("json") && d.JSON {
		jsonOutput = true
	}
	if !cmd.Flags().Changed("csv") && d.CSV {
		csvOutput = true
	}
	if !cmd.Flags().Changed("no-color") && d.NoColor {
		noColor = true
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("flowtrace %s\n", version)
		fmt.Printf("  Commit: %s\n", commit)
		fmt.Printf("  Built:  %s\n", date)
		fmt.Printf("  Config: %s\n", config.GetConfigPath())
	},
}

var (
	configInit bool
	configShow bool
	configPath bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	RunE:  runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&configInit, "init", false, "Create default config file")
	configCmd.Flags().BoolVar(&configShow, "show", false, "Show an example configuration")
	configCmd.Flags().BoolVar(&configPath, "path", false, "Show config file path")
}

func runConfig(cmd *cobra.Command, args []string) error {
	if configPath {
		fmt.Println(config.GetConfigPath())
		return nil
	}
	if configInit {
		path := config.GetConfigPath()
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists: %s", path)
		}
		if err := config.DefaultConfig().Save(); err != nil {
			return fmt.Errorf("failed to create config: %w", err)
		}
		fmt.Printf("Created config file: %s\n", path)
		return nil
	}
	if configShow {
		fmt.Println(config.GenerateExample())
		return nil
	}
	return cmd.Help()
}

func run(cmd *cobra.Command, args []string) error {
	target := args[0]
	if cfg != nil && cfg.Aliases != nil {
		if alias, ok := cfg.Aliases[target]; ok {
			target = alias
		}
	}

	if udpMode && !cmd.Flags().Changed("dest-port") {
		destPort = 53
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	family, dst, err := resolve.GuessFamily(ctx, target, forceIPv4, forceIPv6)
	if err != nil {
		return err
	}

	outCfg := output.Config{Colors: !noColor, NoHostname: noRDNS}

	if algorithm == "mda" {
		return runMDA(ctx, target, dst, family, outCfg)
	}
	return runTraceroute(ctx, target, dst, family, outCfg)
}

func runTraceroute(ctx context.Context, target string, dst net.IP, family int, outCfg output.Config) error {
	traceCfg := traceConfigFrom(family)

	if tuiMode {
		return tui.Run(target, dst, traceCfg)
	}

	var resolver *resolve.RDNSResolver
	if !noRDNS {
		resolver = resolve.NewRDNSResolver(resolve.DefaultRDNSConfig())
		defer resolver.Close()
	}

	var textFormatter *output.TextFormatter
	if !jsonOutput && !csvOutput && !verbose {
		textFormatter = output.NewTextFormatter(outCfg)
		traceCfg.OnHop = func(hop traceroute.Hop) {
			if resolver != nil && hop.IP != nil {
				if host, err := resolver.Lookup(ctx, hop.IP); err == nil {
					hop.Hostname = host
				}
			}
			fmt.Print(textFormatter.FormatHop(&hop))
		}
		fmt.Printf("flowtrace to %s, %d hops max\n\n", target, traceCfg.MaxTTL)
	}

	result, err := traceroute.Run(ctx, target, dst, traceCfg)
	if err != nil {
		return fmt.Errorf("trace failed: %w", err)
	}

	if resolver != nil {
		for i := range result.Hops {
			if result.Hops[i].IP == nil || result.Hops[i].Hostname != "" {
				continue
			}
			if host, err := resolver.Lookup(ctx, result.Hops[i].IP); err == nil {
				result.Hops[i].Hostname = host
			}
		}
	}

	switch {
	case jsonOutput:
		return output.NewWriter(output.FormatJSON, outCfg).Write(result)
	case csvOutput:
		return output.NewWriter(output.FormatCSV, outCfg).Write(result)
	case verbose:
		return output.NewWriter(output.FormatVerbose, outCfg).Write(result)
	default:
		fmt.Println()
		if result.Completed {
			fmt.Printf("Trace complete. %d hops, %.2f ms total\n",
				result.Summary.TotalHops, result.Summary.TotalTimeMs)
		} else {
			fmt.Printf("Trace incomplete after %d hops\n", result.Summary.TotalHops)
		}
		return nil
	}
}

func runMDA(ctx context.Context, target string, dst net.IP, family int, outCfg output.Config) error {
	opts := mdaOptionsFrom()
	dp := destPort
	if dp == 0 {
		dp = traceroute.DefaultConfig().DestPort
	}

	result, err := mda.Run(ctx, target, dst, family, dp, timeout, opts)
	if err != nil {
		return fmt.Errorf("mda run failed: %w", err)
	}

	fmt.Printf("mda lattice for %s: %d nodes, %d edges, reached=%v\n",
		target, len(result.Lattice.Nodes()), len(result.Lattice.Edges()), result.Reached)

	if dotOutput != "" {
		f, err := os.Create(dotOutput)
		if err != nil {
			return fmt.Errorf("failed to create dot file: %w", err)
		}
		defer f.Close()
		if err := output.WriteDot(f, result.Lattice); err != nil {
			return fmt.Errorf("failed to write dot file: %w", err)
		}
		fmt.Printf("Lattice written to: %s\n", dotOutput)
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets version information for the CLI.
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
}

// traceConfigFrom builds a traceroute.Config from the resolved flags.
func traceConfigFrom(family int) traceroute.Config {
	c := traceroute.DefaultConfig()
	c.Family = family
	if protocol == "icmp" {
		c.Method = traceroute.MethodICMP
	} else {
		c.Method = traceroute.MethodUDP
	}
	if sourcePort > 0 {
		c.SourcePort = sourcePort
	}
	if destPort > 0 {
		c.DestPort = destPort
	}
	if minTTL > 0 {
		c.FirstTTL = minTTL
	}
	if maxTTL > 0 {
		c.MaxTTL = maxTTL
	}
	if numProbes > 0 {
		c.ProbesPerHop = numProbes
	}
	if maxStars > 0 {
		c.MaxStars = maxStars
	}
	if timeout > 0 {
		c.Timeout = timeout
	}
	return c
}

// mdaOptionsFrom builds an mda.Options from the resolved flags.
func mdaOptionsFrom() mda.Options {
	o := mda.DefaultOptions()
	if bound > 0 {
		o.Bound = bound
	}
	if maxBranch > 0 {
		o.MaxBranch = maxBranch
	}
	if minTTL > 0 {
		o.MinTTL = minTTL
	}
	if maxTTL > 0 {
		o.MaxTTL = maxTTL
	}
	return o
}
