package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/chatindex/internal/daemon"
	ierrors "github.com/Aman-CERP/chatindex/internal/errors"
	"github.com/Aman-CERP/chatindex/internal/query"
)

func newDeleteCmd(opts *rootOptions) *cobra.Command {
	var sender, from, to string

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete messages ingested within a date range",
		Long: `Delete messages whose ingestion date falls in [--from, --to) from the
main and real-time indexes. With --sender only that sender's messages are
removed. At least one of --from and --to is required; an open bound
extends to the earliest or latest possible date.`,
		Example: `  chatindex delete --sender alice --from 2026-01-01 --to 2026-02-01
  chatindex delete --to 2026-01-01`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			params, err := deleteParams(sender, from, to)
			if err != nil {
				return err
			}
			w, err := opts.writer(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			if err := opts.client().Delete(ctx, params); err != nil {
				return err
			}
			return w.Result(params, func() {
				who := "all senders"
				if sender != "" {
					who = sender
				}
				w.Successf("Deleted messages from %s in [%s, %s)", who, params.MinDate, params.MaxDate)
			})
		},
	}

	cmd.Flags().StringVar(&sender, "sender", "", "Only this sender's messages")
	cmd.Flags().StringVar(&from, "from", "", "Earliest ingestion date, inclusive")
	cmd.Flags().StringVar(&to, "to", "", "Latest ingestion date, exclusive")

	return cmd
}

func deleteParams(sender, from, to string) (daemon.DeleteParams, error) {
	if from == "" && to == "" {
		return daemon.DeleteParams{}, ierrors.ValidationError("--from or --to is required", nil)
	}
	minDate, err := parseDateFlag("from", from)
	if err != nil {
		return daemon.DeleteParams{}, err
	}
	maxDate, err := parseDateFlag("to", to)
	if err != nil {
		return daemon.DeleteParams{}, err
	}
	if minDate == "" {
		minDate = query.MinimumDate
	}
	if maxDate == "" {
		maxDate = query.MaximumDate
	}
	return daemon.DeleteParams{SenderID: sender, MinDate: minDate, MaxDate: maxDate}, nil
}

func newDeleteRealTimeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-realtime",
		Short: "Clear the real-time index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, err := opts.writer(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			if err := opts.client().DeleteRealTime(ctx); err != nil {
				return err
			}
			return w.Result(map[string]bool{"cleared": true}, func() {
				w.Success("Real-time index cleared")
			})
		},
	}
}
