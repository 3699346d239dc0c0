package cmd

import (
	"context"
	"fmt"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/chatindex/internal/logging"
	"github.com/Aman-CERP/chatindex/internal/output"
)

type logsOptions struct {
	follow  bool
	lines   int
	level   string
	filter  string
	user    string
	noColor bool
	logFile string
}

func newLogsCmd(opts *rootOptions) *cobra.Command {
	var lo logsOptions

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View chatindex logs",
		Long: `Show the last lines of the chatindex log, or follow it with -f.
Entries can be filtered by minimum level, a regular expression over the
raw line, and the user they concern.`,
		Example: `  chatindex logs
  chatindex logs -f --level warn
  chatindex logs --user u1 --filter "merge|backfill"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if lo.logFile == "" {
				lo.logFile = opts.cfg.Log.File
			}
			return runLogs(cmd, lo)
		},
	}

	cmd.Flags().BoolVarP(&lo.follow, "follow", "f", false, "Follow log output (like tail -f)")
	cmd.Flags().IntVarP(&lo.lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().StringVar(&lo.level, "level", "", "Minimum level (debug|info|warn|error)")
	cmd.Flags().StringVar(&lo.filter, "filter", "", "Only lines matching this regex")
	cmd.Flags().StringVar(&lo.user, "user", "", "Only entries about this user")
	cmd.Flags().BoolVar(&lo.noColor, "no-color", false, "Disable colored output")
	cmd.Flags().StringVar(&lo.logFile, "file", "", "Log file (default: configured or standard location)")

	return cmd
}

func runLogs(cmd *cobra.Command, lo logsOptions) error {
	path, err := logging.FindLogFile(lo.logFile)
	if err != nil {
		return err
	}

	var pattern *regexp.Regexp
	if lo.filter != "" {
		pattern, err = regexp.Compile(lo.filter)
		if err != nil {
			return fmt.Errorf("invalid filter pattern: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	viewer := logging.NewViewer(logging.ViewerConfig{
		Level:   lo.level,
		Pattern: pattern,
		User:    lo.user,
		NoColor: lo.noColor || !output.IsTerminal(out),
	}, out)

	errOut := cmd.ErrOrStderr()
	_, _ = fmt.Fprintf(errOut, "Log file: %s\n---\n", path)

	if !lo.follow {
		entries, err := viewer.Tail(path, lo.lines)
		if err != nil {
			return err
		}
		viewer.Print(entries)
		return nil
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	entries := make(chan logging.LogEntry, 100)
	errCh := make(chan error, 1)
	go func() { errCh <- viewer.Follow(ctx, path, entries) }()

	for {
		select {
		case entry := <-entries:
			viewer.Print([]logging.LogEntry{entry})
		case err := <-errCh:
			return err
		case <-ctx.Done():
			_, _ = fmt.Fprintln(errOut, "---\nStopped.")
			return nil
		}
	}
}
