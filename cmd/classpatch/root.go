package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/skdltmxn/classpatch/instrument"
	"github.com/skdltmxn/classpatch/internal/config"
	"github.com/skdltmxn/classpatch/pipeline"
)

var (
	configPath   string
	passName     string
	tracing      bool
	workers      int
	excludes     []string
	manifestPath string
	runtimeClass string
	verbosity    int

	output io.Writer
)

var rootCmd = &cobra.Command{
	Use:   "classpatch [flags] <source-directory> <output-directory>",
	Short: "Instrument compiled JVM classes for hot swapping",
	Long: `classpatch rewrites every class file under a source directory with one
instrumentation pass and mirrors the result into an output directory.

Interfaces, annotations, module descriptors and non-class files are copied
unchanged. The output directory is emptied before each run.

Passes:
  trace                report method entry, exit and exceptional exit
  field-redirect       route field access through the runtime support class
  constructor-rewrite  let the runtime take over construction
  method-dispatch      let the runtime replace method implementations`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 2 {
			return &pipeline.UsageError{Msg: fmt.Sprintf("expected <source-directory> <output-directory>, got %d arguments", len(args))}
		}
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		output = cmd.OutOrStdout()
		commonlog.Configure(verbosity, nil)
		return nil
	},
	RunE: runInstrument,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&configPath, "config", "", "configuration file (default: nearest "+config.FileName+")")
	flags.StringVarP(&passName, "pass", "p", instrument.Trace.String(), "instrumentation pass")
	flags.BoolVar(&tracing, "trace", false, "also emit trace calls at rewritten sites")
	flags.IntVarP(&workers, "workers", "j", 0, "number of files processed concurrently (default GOMAXPROCS)")
	flags.StringSliceVar(&excludes, "exclude", nil, "gitignore-style pattern of files to copy unchanged (repeatable)")
	flags.StringVar(&manifestPath, "manifest", "", "write a CBOR run manifest to this path")
	flags.StringVar(&runtimeClass, "runtime-class", "", "internal name of the runtime support class")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase log verbosity (repeatable)")
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &pipeline.UsageError{Msg: "invalid flags", Err: err}
	})

	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(lookupCmd)
}

// resetFlags restores every flag of cmd and its subcommands to its default
// and clears its Changed mark, so that loadConfig only sees the flags of
// the current invocation.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// loadConfig reads the configuration file and applies the flags the user
// set explicitly.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	var cfg config.Config
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.FindAndLoad(".")
	}
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("pass") {
		if cfg.Pass, err = instrument.ParseKind(passName); err != nil {
			return cfg, &pipeline.UsageError{Msg: "invalid --pass", Err: err}
		}
	}
	if flags.Changed("trace") {
		cfg.Tracing = tracing
	}
	if flags.Changed("workers") {
		cfg.Workers = workers
	}
	if flags.Changed("exclude") {
		cfg.Exclude = append(cfg.Exclude, excludes...)
	}
	if flags.Changed("manifest") {
		cfg.Manifest = manifestPath
	}
	if flags.Changed("runtime-class") {
		cfg.Runtime.Class = runtimeClass
	}
	if flags.Changed("verbose") {
		cfg.Verbosity = verbosity
	}
	if err := cfg.Validate(); err != nil {
		return cfg, &pipeline.UsageError{Msg: "invalid configuration", Err: err}
	}
	return cfg, nil
}

func runInstrument(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	commonlog.Configure(cfg.Verbosity, nil)

	d, err := pipeline.New(cfg)
	if err != nil {
		return err
	}
	report, err := d.Run(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	printReport(output, args[1], report)
	return nil
}
