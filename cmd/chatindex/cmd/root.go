// Package cmd provides the CLI commands for chatindex.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/chatindex/internal/config"
	"github.com/Aman-CERP/chatindex/internal/daemon"
	ierrors "github.com/Aman-CERP/chatindex/internal/errors"
	"github.com/Aman-CERP/chatindex/internal/logging"
	"github.com/Aman-CERP/chatindex/internal/output"
	"github.com/Aman-CERP/chatindex/internal/profiling"
	"github.com/Aman-CERP/chatindex/pkg/version"
)

// KeyEnvVar holds the per-user archive key when --key-file is not given.
const KeyEnvVar = config.EnvPrefix + "KEY"

// rootOptions are the persistent flags and the state derived from them.
type rootOptions struct {
	configPath string
	logLevel   string
	format     string
	verbose    bool
	profile    profiling.Options

	cfg            *config.Config
	loggingCleanup func()
	profiler       *profiling.Profiler
}

// NewRootCmd creates the root command for the chatindex CLI.
func NewRootCmd() *cobra.Command {
	cmd, _ := newRootCmd()
	return cmd
}

func newRootCmd() (*cobra.Command, *rootOptions) {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "chatindex",
		Short: "Encrypted local search index for chat messages",
		Long: `chatindex keeps a per-user full-text index of chat messages on this
machine. The index is decrypted only while a session is open and is sealed
into an encrypted archive when the session is suspended.

Start a session with 'chatindex serve', then search, push, and backfill
from other shells. 'chatindex suspend' archives the index and stops it.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("chatindex version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file (default: user config if present)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.format, "format", "auto", "Output format (auto|text|json)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Also write logs to stderr")
	cmd.PersistentFlags().StringVar(&opts.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&opts.profile.Heap, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&opts.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return opts.setup()
	}
	cmd.PersistentPostRunE = func(*cobra.Command, []string) error {
		return opts.teardown()
	}

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newPushCmd(opts))
	cmd.AddCommand(newBackfillCmd(opts))
	cmd.AddCommand(newMergeCmd(opts))
	cmd.AddCommand(newLatestCmd(opts))
	cmd.AddCommand(newDeleteCmd(opts))
	cmd.AddCommand(newDeleteRealTimeCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))
	cmd.AddCommand(newSuspendCmd(opts))
	cmd.AddCommand(newSweepCmd(opts))
	cmd.AddCommand(newCheckCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newKeygenCmd(opts))
	cmd.AddCommand(newLogsCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd, opts
}

// setup loads configuration, installs the file logger, and starts any
// requested profiles.
func (o *rootOptions) setup() error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	o.cfg = cfg

	logPath := cfg.Log.File
	if logPath == "" {
		logPath = logging.DefaultLogPath()
	}
	logger, cleanup, err := logging.Setup(logging.Config{
		Level:         cfg.Log.Level,
		FilePath:      logPath,
		MaxSizeMB:     cfg.Log.MaxSizeMB,
		MaxFiles:      cfg.Log.MaxFiles,
		WriteToStderr: o.verbose,
	})
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	o.loggingCleanup = cleanup
	slog.SetDefault(logger)

	if o.profile.Enabled() {
		if o.profiler, err = profiling.Start(o.profile); err != nil {
			_ = o.teardown()
			return err
		}
	}
	return nil
}

// teardown stops profiles and closes the log. PersistentPostRunE skips it
// when a command fails, so Execute calls it again; repeated calls are no-ops.
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

// writer returns an output writer for cmd's stdout.
func (o *rootOptions) writer(cmd *cobra.Command) (*output.Writer, error) {
	format, err := output.ParseFormat(o.format)
	if err != nil {
		return nil, err
	}
	return output.New(cmd.OutOrStdout(), format), nil
}

// client returns a daemon client for the configured data directory.
func (o *rootOptions) client() *daemon.Client {
	return daemon.NewClient(o.daemonConfig())
}

func (o *rootOptions) daemonConfig() daemon.Config {
	return daemon.DefaultConfig(o.cfg.Paths.DataDir)
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, opts := newRootCmd()
	err := cmd.ExecuteContext(ctx)
	_ = opts.teardown()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return 130
		}
		_, _ = fmt.Fprint(cmd.ErrOrStderr(), ierrors.FormatForCLI(err))
		return 1
	}
	return 0
}
