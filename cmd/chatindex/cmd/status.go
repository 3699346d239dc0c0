package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/chatindex/internal/guardian"
	"github.com/Aman-CERP/chatindex/internal/index"
	"github.com/Aman-CERP/chatindex/internal/session"
)

// offlineStatus is reported when no session is being served.
type offlineStatus struct {
	Running  bool     `json:"running"`
	Archives []string `json:"archives"`
	Guarded  int      `json:"guarded_sessions"`
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the served session, or the archives at rest",
		Long: `Show the state of the served session: its user, index state, running
operations, pending segments, and queued real-time messages. When nothing
is being served, list the encrypted archives and any sessions the crash
guardian still tracks.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, err := opts.writer(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			client := opts.client()
			if !client.IsRunning() {
				st, err := collectOffline(opts)
				if err != nil {
					return err
				}
				return w.Result(st, func() { renderOffline(cmd, st) })
			}

			st, err := client.Status(ctx)
			if err != nil {
				return err
			}
			return w.Result(st, func() { renderSession(cmd, st) })
		},
	}
}

func collectOffline(opts *rootOptions) (offlineStatus, error) {
	st := offlineStatus{Archives: []string{}}
	matches, err := filepath.Glob(filepath.Join(opts.cfg.Paths.UserDataDir, index.MainFolderName("*")+".enc"))
	if err != nil {
		return st, err
	}
	sort.Strings(matches)
	st.Archives = append(st.Archives, matches...)

	g, err := guardian.New(guardian.Config{StateDir: opts.cfg.GuardianStateDir()})
	if err != nil {
		return st, err
	}
	sessions, err := g.Sessions()
	if err != nil {
		return st, err
	}
	st.Guarded = len(sessions)
	return st, nil
}

func renderOffline(cmd *cobra.Command, st offlineStatus) {
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintln(out, "No session is being served.")
	if len(st.Archives) == 0 {
		_, _ = fmt.Fprintln(out, "No archives.")
	} else {
		_, _ = fmt.Fprintln(out, "Archives:")
		for _, a := range st.Archives {
			_, _ = fmt.Fprintf(out, "  %s\n", a)
		}
	}
	if st.Guarded > 0 {
		_, _ = fmt.Fprintf(out, "%d guarded session(s) await cleanup; run 'chatindex sweep'.\n", st.Guarded)
	}
}

func renderSession(cmd *cobra.Command, st *session.Status) {
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "User:               %s\n", st.User)
	_, _ = fmt.Fprintf(out, "State:              %s\n", st.Index.StateName)
	if len(st.Index.Operations) > 0 {
		ops := make([]string, len(st.Index.Operations))
		for i, op := range st.Index.Operations {
			ops[i] = string(op)
		}
		_, _ = fmt.Fprintf(out, "Running:            %s\n", strings.Join(ops, ", "))
	}
	_, _ = fmt.Fprintf(out, "Pending segments:   %d\n", st.Index.PendingSegments)
	_, _ = fmt.Fprintf(out, "Queued real-time:   %d\n", st.PendingRealTime)
	_, _ = fmt.Fprintf(out, "Index size:         %s\n", formatBytes(st.IndexBytes))
	_, _ = fmt.Fprintf(out, "Restored:           %t\n", st.Restored)
	if q := st.Queries; q.TotalQueries > 0 {
		_, _ = fmt.Fprintf(out, "Searches:           %d (%d failed, %.0f%% empty)\n",
			q.TotalQueries, q.FailedCount, q.ZeroResultPercentage())
	}
	if st.Archive != "" {
		_, _ = fmt.Fprintf(out, "Archive:            %s\n", st.Archive)
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func newLatestCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "latest",
		Short: "Print the newest ingestion date in the main index",
		Long: `Print the newest ingestion date in the main index as epoch milliseconds.
A backfill resumes from here. An empty index reports the minimum date.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, err := opts.writer(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			latest, err := opts.client().Latest(ctx)
			if err != nil {
				return err
			}
			return w.Result(map[string]string{"latest": latest}, func() {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), latest)
			})
		},
	}
}

func newSuspendCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "suspend",
		Short: "Seal the served index into its archive and stop serving",
		Long: `Drain the real-time collector, merge pending segments, encrypt the main
index into its archive, and remove every plaintext folder. The serving
process exits afterwards.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, err := opts.writer(cmd)
			if err != nil {
				return err
			}
			archive, err := opts.client().Suspend(cmd.Context())
			if err != nil {
				return err
			}
			return w.Result(map[string]string{"archive": archive}, func() {
				w.Successf("Index sealed in %s", archive)
			})
		},
	}
}
