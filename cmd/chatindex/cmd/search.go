package cmd

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/chatindex/internal/daemon"
	ierrors "github.com/Aman-CERP/chatindex/internal/errors"
	"github.com/Aman-CERP/chatindex/internal/query"
)

// requestTimeout bounds interactive requests to the daemon.
const requestTimeout = 30 * time.Second

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var (
		params daemon.SearchParams
		from   string
		to     string
		byDate bool
	)

	cmd := &cobra.Command{
		Use:   "search [text]",
		Short: "Search the open session's messages",
		Long: `Search the main and real-time indexes of the served session.

Words are matched as adjacent pairs; quote a phrase to match it exactly.
Words starting with # match message tags. Every filter is combined with
AND. Dates accept epoch milliseconds, YYYY-MM-DD, or RFC 3339; searches
never reach further back than the configured retention.`,
		Example: `  chatindex search "quarterly report"
  chatindex search budget --sender alice --sender bob --by-date
  chatindex search --file-type pdf --from 2026-09-01
  chatindex search "#urgent" --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			params.Text = strings.Join(args, " ")
			var err error
			if params.StartDate, err = parseDateFlag("from", from); err != nil {
				return err
			}
			if params.EndDate, err = parseDateFlag("to", to); err != nil {
				return err
			}
			if byDate {
				params.SortOrder = strconv.Itoa(query.SortByDate)
			}
			return runSearch(cmd, opts, params)
		},
	}

	cmd.Flags().StringSliceVar(&params.SenderIDs, "sender", nil, "Only messages from these senders")
	cmd.Flags().StringSliceVar(&params.ThreadIDs, "thread", nil, "Only messages in these threads")
	cmd.Flags().StringVar(&params.FileType, "file-type", "", `Attachment type, or "attachment" for any file`)
	cmd.Flags().StringVar(&from, "from", "", "Earliest ingestion date")
	cmd.Flags().StringVar(&to, "to", "", "Latest ingestion date")
	cmd.Flags().IntVarP(&params.Limit, "limit", "n", query.DefaultLimit, "Maximum results")
	cmd.Flags().IntVar(&params.Offset, "offset", 0, "Results to skip")
	cmd.Flags().BoolVar(&byDate, "by-date", false, "Sort newest first instead of by relevance")

	return cmd
}

func runSearch(cmd *cobra.Command, opts *rootOptions, params daemon.SearchParams) error {
	w, err := opts.writer(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	res, err := opts.client().Search(ctx, params)
	if err != nil {
		return err
	}
	return w.Messages(res)
}

// parseDateFlag converts a date flag to epoch milliseconds.
func parseDateFlag(name, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	if _, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return raw, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return strconv.FormatInt(t.UnixMilli(), 10), nil
		}
	}
	return "", ierrors.ValidationError("invalid --"+name+" date "+strconv.Quote(raw), nil).
		WithSuggestion("use epoch milliseconds, YYYY-MM-DD, or RFC 3339")
}
