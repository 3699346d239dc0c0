package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/chatindex/internal/guardian"
)

func newSweepCmd(opts *rootOptions) *cobra.Command {
	var watch, uninstall bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove plaintext folders left by sessions whose process died",
		Long: `Check every session the crash guardian recorded and, for each one whose
process is gone, remove its plaintext index folders and its PID file.

With --watch, keep sweeping on the configured guardian.sweep_schedule
until interrupted. With --uninstall, remove the OS cleanup task.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, err := opts.writer(cmd)
			if err != nil {
				return err
			}
			g, err := guardian.New(guardian.Config{
				StateDir: opts.cfg.GuardianStateDir(),
				Interval: opts.cfg.Guardian.Interval,
			})
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			switch {
			case uninstall:
				if err := g.Unregister(ctx); err != nil {
					return err
				}
				return w.Result(map[string]bool{"unregistered": true}, func() {
					w.Success("Cleanup task removed")
				})
			case watch:
				schedule := opts.cfg.Guardian.SweepSchedule
				w.Statusf("", "Sweeping on %q until interrupted", schedule)
				return g.Watch(ctx, schedule)
			}

			result, err := g.Sweep(ctx)
			if err != nil {
				return err
			}
			return w.Result(result, func() {
				if len(result.Cleaned) == 0 {
					w.Successf("Nothing to clean (%d session(s) checked)", result.Checked)
					return
				}
				w.Successf("Cleaned %d dead session(s)", len(result.Cleaned))
				for _, path := range result.Removed {
					w.Status("", fmt.Sprintf("removed %s", path))
				}
			})
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "Keep sweeping on the configured schedule")
	cmd.Flags().BoolVar(&uninstall, "uninstall", false, "Remove the OS cleanup task")
	cmd.MarkFlagsMutuallyExclusive("watch", "uninstall")

	return cmd
}
