// Package cmd provides the CLI commands for casearch.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/JCHanratty/CASearch/internal/config"
	caserrors "github.com/JCHanratty/CASearch/internal/errors"
	"github.com/JCHanratty/CASearch/internal/logging"
	"github.com/JCHanratty/CASearch/internal/profiling"
	"github.com/JCHanratty/CASearch/pkg/version"
)

// rootOptions holds the global flags and the state set up before a
// subcommand runs.
type rootOptions struct {
	dataDir    string
	configPath string
	debug      bool
	profile    profiling.Options

	cfg            *config.Config
	loggingCleanup func()
	profiler       *profiling.Session
}

// NewRootCmd creates the root command for casearch CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "casearch",
		Short: "Hybrid search over collective agreements",
		Long: `casearch indexes collective-agreement documents and answers questions
about them with hybrid search: page and section keyword search
plus semantic search over sections, merged with Reciprocal Rank Fusion.

Index a folder of agreements, then search it:

  casearch index ./agreements
  casearch search "overtime rate" --mode and`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("casearch version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "Index data directory (default: paths.data_dir from config)")
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file to use instead of casearch.yaml in the current directory")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging (also written to stderr)")
	cmd.PersistentFlags().StringVar(&opts.profile.CPUPath, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&opts.profile.HeapPath, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&opts.profile.TracePath, "profile-trace", "", "Write execution trace to file")
	_ = cmd.PersistentFlags().MarkHidden("profile-trace")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return opts.setup()
	}
	cmd.PersistentPostRunE = func(*cobra.Command, []string) error {
		return opts.teardown()
	}

	cmd.AddCommand(newIndexCmd(opts))
	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newNormalizeCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))
	cmd.AddCommand(newSynonymsCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newDoctorCmd(opts))
	cmd.AddCommand(newLogsCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command and prints a failure the way the error
// package formats it for terminals.
func Execute() error {
	cmd := NewRootCmd()
	err := cmd.Execute()
	if err != nil {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), caserrors.FormatForCLI(err))
	}
	return err
}

// setup loads configuration, then starts logging and profiling.
func (o *rootOptions) setup() error {
	var err error
	if o.configPath != "" {
		o.cfg, err = config.LoadFile(o.configPath)
	} else {
		o.cfg, err = config.Load(".")
	}
	if err != nil {
		return err
	}
	if o.dataDir != "" {
		o.cfg.Paths.DataDir = o.dataDir
	}

	if err := o.setupLogging(); err != nil {
		return err
	}

	if o.profile.Enabled() {
		o.profiler, err = profiling.Start(o.profile)
		if err != nil {
			return err
		}
	}
	return nil
}

func (o *rootOptions) setupLogging() error {
	logCfg := logging.DefaultConfig()
	lc := o.cfg.Logging
	if lc.Level != "" {
		logCfg.Level = lc.Level
	}
	if lc.FilePath != "" {
		logCfg.FilePath = lc.FilePath
	}
	if lc.MaxSizeMB > 0 {
		logCfg.MaxSizeMB = lc.MaxSizeMB
	}
	if lc.MaxFiles > 0 {
		logCfg.MaxFiles = lc.MaxFiles
	}
	if lc.Disabled {
		logCfg.FilePath = ""
	}
	if o.debug {
		logCfg.Level = "debug"
		logCfg.WriteToStderr = true
	}

	cleanup, err := logging.SetupDefault(logCfg)
	if err != nil {
		// A read-only home directory must not make the CLI unusable
		logCfg.FilePath = ""
		if cleanup, err = logging.SetupDefault(logCfg); err != nil {
			return fmt.Errorf("failed to setup logging: %w", err)
		}
	}
	o.loggingCleanup = cleanup
	return nil
}

// teardown stops profiling and flushes the log file.
func (o *rootOptions) teardown() error {
	var err error
	if o.profiler != nil {
		err = o.profiler.Stop()
		o.profiler = nil
	}
	if o.loggingCleanup != nil {
		o.loggingCleanup()
		o.loggingCleanup = nil
	}
	return err
}

// dataDirPath returns the absolute data directory. A relative
// paths.data_dir is resolved against the working directory.
func (o *rootOptions) dataDirPath() string {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return o.cfg.DataPath(wd, "")
}

// dataPath resolves a file inside the data directory.
func (o *rootOptions) dataPath(name string) string {
	return filepath.Join(o.dataDirPath(), name)
}
