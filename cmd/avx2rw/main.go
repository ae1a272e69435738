// avx2rw rewrites AVX-512 instructions for a target with sixteen AVX2
// registers and checks the rewrites on a simulated machine.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/colorfulnotion/avx2rw/config"
	log "github.com/colorfulnotion/avx2rw/log"
	"github.com/colorfulnotion/avx2rw/rewrite"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

type app struct {
	cfgPath string
	cfg     config.Config
	out     io.Writer
	stats   *rewrite.Stats
	events  *log.RecordWriter
	closers []io.Closer

	// shutdown flushes the tracer provider, if one was installed
	shutdown func(context.Context) error

	flags flagValues
}

// flagValues hold the persistent flags; only the ones set on the command
// line override the config file.
type flagValues struct {
	strategy, logLevel, modules, events, metrics string
	strict                                       bool
	reserved                                     []string
}

func (a *app) rootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "avx2rw",
		Short:         "AVX-512 to AVX2 register remapping and spill rewriter",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.cfgPath, "config", "", "YAML config file")
	pf.StringVar(&a.flags.strategy, "strategy", "auto", "Scratch register strategy (auto, fixed, dynamic, remap)")
	pf.BoolVar(&a.flags.strict, "strict", false, "Fail a block on the first unsupported instruction")
	pf.StringVar(&a.flags.logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error, crit)")
	pf.StringVar(&a.flags.modules, "modules", "", "Log modules to enable, comma separated or \"all\"")
	pf.StringVar(&a.flags.events, "events", "", "Write one JSON line per rewrite to this file (\"-\" for stdout)")
	pf.StringVar(&a.flags.metrics, "metrics", "", "Dump Prometheus metrics to this file on exit (\"-\" for stdout)")
	pf.StringSliceVar(&a.flags.reserved, "reserved", nil, "Physical vector registers the remapping allocator must not use")

	rootCmd.AddCommand(
		a.rewriteCmd(),
		a.scanCmd(),
		a.coverageCmd(),
		a.verifyCmd(),
		a.replCmd(),
		versionCmd(),
	)
	return rootCmd
}

// setup loads the config file and applies the flags the user set on top.
func (a *app) setup(cmd *cobra.Command) error {
	a.out = cmd.OutOrStdout()
	a.cfg = config.Default()
	if a.cfgPath != "" {
		c, err := config.Load(a.cfgPath)
		if err != nil {
			return err
		}
		a.cfg = c
	}
	flags := cmd.Flags()
	if flags.Changed("strategy") {
		a.cfg.Strategy = a.flags.strategy
	}
	if flags.Changed("strict") {
		a.cfg.Strict = a.flags.strict
	}
	if flags.Changed("log-level") {
		a.cfg.LogLevel = a.flags.logLevel
	}
	if flags.Changed("modules") {
		a.cfg.Modules = a.flags.modules
	}
	if flags.Changed("events") {
		a.cfg.Events = a.flags.events
	}
	if flags.Changed("metrics") {
		a.cfg.Metrics = a.flags.metrics
	}
	if flags.Changed("reserved") {
		a.cfg.Reserved = a.flags.reserved
	}
	if err := a.cfg.Validate(); err != nil {
		return err
	}

	if err := log.InitLogger(a.cfg.LogLevel); err != nil {
		return err
	}
	if a.cfg.Modules != "" {
		log.EnableModules(a.cfg.Modules)
	}

	shutdown, err := installTracing(cmd.Context(), os.Getenv)
	if err != nil {
		return err
	}
	a.shutdown = shutdown

	a.stats = rewrite.NewStats()
	switch a.cfg.Events {
	case "":
	case "-":
		a.events = log.NewRecordWriter(a.out)
	default:
		f, err := os.Create(a.cfg.Events)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, f)
		a.events = log.NewRecordWriter(f)
	}
	log.Debug(log.CLIMonitoring, "config", "strategy", a.cfg.Strategy, "strict", a.cfg.Strict, "events", a.cfg.Events)
	return nil
}

// teardown dumps the metrics and closes whatever setup opened. It runs
// after every command, failed ones included.
func (a *app) teardown() error {
	var err error
	if a.stats != nil {
		switch a.cfg.Metrics {
		case "":
		case "-":
			err = a.stats.WriteText(a.out)
		default:
			var f *os.File
			if f, err = os.Create(a.cfg.Metrics); err == nil {
				err = a.stats.WriteText(f)
				if cerr := f.Close(); err == nil {
					err = cerr
				}
			}
		}
	}
	if a.shutdown != nil {
		if serr := a.shutdown(context.Background()); err == nil {
			err = serr
		}
		a.shutdown = nil
	}
	for _, c := range a.closers {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	a.closers = nil
	return err
}

// rewriter builds a Rewriter from the effective config.
func (a *app) rewriter() (*rewrite.Rewriter, error) {
	opts, err := a.cfg.Options()
	if err != nil {
		return nil, err
	}
	return rewrite.New(opts, a.stats, a.events), nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "avx2rw %s (commit %s, built %s)\n", Version, Commit, BuildTime)
		},
	}
}

// run executes one command line with output going to out.
func run(ctx context.Context, args []string, out io.Writer) error {
	a := &app{}
	rootCmd := a.rootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	err := rootCmd.ExecuteContext(ctx)
	if terr := a.teardown(); err == nil {
		err = terr
	}
	return err
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "avx2rw: %v\n", err)
		os.Exit(1)
	}
}
