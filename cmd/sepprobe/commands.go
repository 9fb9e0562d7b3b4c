package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strings"
	"time"

	"github.com/danmuck/sepprobe/internal/analyzer"
	"github.com/danmuck/sepprobe/internal/config"
	"github.com/danmuck/sepprobe/internal/logging"
	"github.com/danmuck/sepprobe/internal/protocol/schema"
	"github.com/danmuck/sepprobe/internal/protocol/wire"
	"github.com/danmuck/sepprobe/internal/scenario"
	"github.com/spf13/cobra"
)

var errNoScenarios = errors.New("no scenarios selected")

type runOptions struct {
	configPath string
	target     string
	port       int
	profile    string
	protocol   uint32
	cores      int
	captureDir string
	uncore     bool
	warmup     int
	collection int
}

func newRootCmd() *cobra.Command {
	var logLevel string
	root := &cobra.Command{
		Use:           "sepprobe",
		Short:         "Exercise a remote sampling driver agent and validate what it collects",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logLevel != "" && !logging.SetLevel(logLevel) {
				return fmt.Errorf("unknown log level %q", logLevel)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace|debug|info|warn|error|off)")

	root.AddCommand(newRunCmd(), newListCmd(), newProfilesCmd(), newLayoutsCmd(), newDecodeCmd(), newConfigCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run [scenario...]",
		Short: "Run scenarios against a target; with no names the default suite runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, opts)
			if err != nil {
				return err
			}
			scenarios, err := scenario.Default().Select(args...)
			if err != nil {
				return err
			}
			if len(scenarios) == 0 {
				return errNoScenarios
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runScenarios(ctx, cmd.OutOrStdout(), cfg, scenarios)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "TOML config file")
	f.StringVar(&opts.target, "target", "", "target ip")
	f.IntVar(&opts.port, "port", config.DefaultPort, "target port")
	f.StringVar(&opts.profile, "profile", "", "built-in target profile")
	f.Uint32Var(&opts.protocol, "protocol", 6, "protocol version (3 or 6)")
	f.IntVar(&opts.cores, "cores", 0, "expected core count")
	f.StringVar(&opts.captureDir, "capture-dir", "", "directory for capture files")
	f.BoolVar(&opts.uncore, "uncore", false, "target supports uncore events")
	f.IntVar(&opts.warmup, "warmup", 0, "seconds to wait before START")
	f.IntVar(&opts.collection, "collection", 0, "seconds to collect between START and STOP")
	return cmd
}

// resolveConfig loads the config file or profile and applies every flag the
// user set explicitly on top.
func resolveConfig(cmd *cobra.Command, opts runOptions) (config.Config, error) {
	var cfg config.Config
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	f := cmd.Flags()
	if opts.profile != "" {
		p, ok := config.LookupProfile(opts.profile)
		if !ok {
			return config.Config{}, fmt.Errorf("unknown profile %q (known: %s)", opts.profile, strings.Join(config.ProfileNames(), ", "))
		}
		cfg = p.Apply(cfg)
	}
	if f.Changed("target") {
		cfg.TargetIP = opts.target
	}
	if f.Changed("port") || cfg.TargetPort == 0 {
		cfg.TargetPort = opts.port
	}
	if f.Changed("protocol") {
		cfg.ProtocolVersion = opts.protocol
	}
	if f.Changed("cores") {
		cfg.CoreCount = opts.cores
	}
	if f.Changed("capture-dir") {
		cfg.CaptureDir = opts.captureDir
	}
	if f.Changed("uncore") {
		cfg.UncoreSupported = opts.uncore
	}
	if f.Changed("warmup") {
		cfg.WarmupSeconds = opts.warmup
	}
	if f.Changed("collection") {
		cfg.CollectionSeconds = opts.collection
	}
	cfg = config.WithDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func runScenarios(ctx context.Context, out io.Writer, cfg config.Config, scenarios []scenario.Scenario) error {
	results := scenario.NewRunner(cfg).RunAll(ctx, scenarios)
	for _, res := range results {
		line := fmt.Sprintf("%-18s %-4s %8s", res.Name, res.Status, res.Elapsed.Round(time.Millisecond))
		switch {
		case res.Err != nil:
			line += "  " + res.Err.Error()
		case res.Reason != "":
			line += "  " + res.Reason
		}
		fmt.Fprintln(out, line)
	}
	if n := scenario.Failed(results); n > 0 {
		return fmt.Errorf("%d of %d scenarios failed", n, len(results))
	}
	return nil
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scenarios in run order",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			for _, sc := range scenario.Default().List() {
				mode := "default"
				if sc.Explicit {
					mode = "explicit"
				}
				fmt.Fprintf(out, "%-18s %-8s %s\n", sc.Name, mode, sc.Description)
			}
		},
	}
}

func newProfilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List built-in target profiles",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			for _, name := range config.ProfileNames() {
				p, _ := config.LookupProfile(name)
				fmt.Fprintf(out, "%-22s cores=%-3d hotspot=%#x uncore=%t module=%s\n",
					p.Name, p.CoreCount, p.HotspotAddress, p.UncoreSupported, p.ModuleOfInterest)
			}
		},
	}
}

func newLayoutsCmd() *cobra.Command {
	var version uint32
	cmd := &cobra.Command{
		Use:   "layouts [name...]",
		Short: "Print record layouts with offsets for a protocol version",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := schema.NewDialect(schema.Version(version))
			if err != nil {
				return err
			}
			s := d.Schema()
			var layouts []*wire.Layout
			if len(args) == 0 {
				layouts = s.Layouts()
			}
			for _, name := range args {
				l, ok := s.Lookup(name)
				if !ok {
					return fmt.Errorf("unknown layout %q", name)
				}
				layouts = append(layouts, l)
			}
			out := cmd.OutOrStdout()
			for _, l := range layouts {
				fmt.Fprintln(out, l.String())
			}
			return nil
		},
	}
	cmd.Flags().Uint32Var(&version, "protocol", 6, "protocol version (3 or 6)")
	return cmd
}

func newDecodeCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "decode core|module|uncore FILE",
		Short: "Decode a capture file written by a collection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			return decodeCapture(cmd.OutOrStdout(), args[0], data, limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "core records to dump")
	return cmd
}

func decodeCapture(out io.Writer, kind string, data []byte, limit int) error {
	switch kind {
	case "core":
		size := schema.SampleRecordPC.Size()
		records, err := wire.DecodeArray(schema.SampleRecordPC, data[:len(data)-len(data)%size])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%d records\n", len(records))
		for i, r := range records {
			if i >= limit {
				break
			}
			fmt.Fprintln(out, r.Dump())
		}
		return nil
	case "module":
		modules, err := analyzer.DecodeModules(data)
		if err != nil {
			return err
		}
		for _, name := range slices.Sorted(maps.Keys(modules)) {
			for _, r := range modules[name] {
				fmt.Fprintf(out, "%#x-%#x %s\n", r.Lo, r.Hi, name)
			}
		}
		return nil
	case "uncore":
		sum, err := analyzer.CheckUncore(data)
		fmt.Fprintf(out, "%d records, mean delta %.0f, %d of %d deltas stable\n", sum.Records, sum.Mean, sum.Stable, len(sum.Deltas))
		return err
	default:
		return fmt.Errorf("unknown capture kind %q (want core, module or uncore)", kind)
	}
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Config file helpers",
	}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a config template",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "sepprobe.toml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteTemplate(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	validateCmd := &cobra.Command{
		Use:   "validate PATH",
		Short: "Load and validate a config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "valid: %s protocol=%d cores=%d profile=%s\n",
				cfg.Address(), cfg.ProtocolVersion, cfg.CoreCount, cfg.Profile)
			return nil
		},
	}
	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}
