package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/chatindex/internal/daemon"
	ierrors "github.com/Aman-CERP/chatindex/internal/errors"
	"github.com/Aman-CERP/chatindex/internal/index"
	"github.com/Aman-CERP/chatindex/internal/message"
	"github.com/Aman-CERP/chatindex/internal/output"
)

func newBackfillCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backfill FILE...|-",
		Short: "Index historical message batches into the main index",
		Long: `Index batches of historical messages into segments and merge them into
the main index. Each FILE holds one JSON array of messages and is read by
the serving process. With "-", batches are read from stdin as a stream of
JSON arrays and sent one by one.

Invalid batches are skipped and counted as rejected.`,
		Example: `  chatindex backfill export/*.json
  fetch-history --user u1 | chatindex backfill -`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := opts.writer(cmd)
			if err != nil {
				return err
			}
			var result *index.RunnerResult
			if len(args) == 1 && args[0] == "-" {
				result, err = backfillStream(cmd.Context(), opts.client(), cmd.InOrStdin(), opts.cfg.Indexing.MergeEvery, w)
			} else {
				result, err = backfillFiles(cmd.Context(), opts.client(), args)
			}
			if err != nil {
				return err
			}
			return w.Result(result, func() {
				w.Successf("Indexed %d messages in %d batches", result.Messages, result.Batches)
				if result.Rejected > 0 {
					w.Warningf("%d batches rejected", result.Rejected)
				}
				if result.Latest != "" {
					w.Statusf("", "Newest message: %s", result.Latest)
				}
			})
		},
	}
}

func backfillFiles(ctx context.Context, client *daemon.Client, paths []string) (*index.RunnerResult, error) {
	abs := make([]string, len(paths))
	for i, p := range paths {
		a, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		abs[i] = a
	}
	return client.Backfill(ctx, abs)
}

// backfillStream sends each JSON array from r as a segment and merges
// every mergeEvery segments and at the end.
func backfillStream(ctx context.Context, client *daemon.Client, r io.Reader, mergeEvery int, w *output.Writer) (*index.RunnerResult, error) {
	result := &index.RunnerResult{}
	dec := json.NewDecoder(r)
	pending := 0

	merge := func() error {
		if pending == 0 {
			return nil
		}
		if err := client.Merge(ctx); err != nil {
			return err
		}
		result.Merges++
		pending = 0
		return nil
	}

	for {
		var batch []message.Record
		err := dec.Decode(&batch)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			_ = merge()
			return result, ierrors.ValidationError(fmt.Sprintf("batch %d is not a JSON array of messages", result.Batches+result.Rejected+1), err)
		}

		if err := message.ValidateBatch(batch); err != nil {
			result.Rejected++
			continue
		}
		if _, err := client.IndexBatch(ctx, batch); err != nil {
			if !ierrors.HasCode(err, ierrors.ErrCodeInvalidInput) {
				_ = merge()
				return result, err
			}
			result.Rejected++
			continue
		}
		result.Batches++
		result.Messages += len(batch)
		pending++
		w.Progress(result.Batches, result.Messages)

		if mergeEvery > 0 && pending >= mergeEvery {
			if err := merge(); err != nil {
				return result, err
			}
		}
	}
	w.ProgressDone()

	if err := merge(); err != nil {
		return result, err
	}
	latest, err := client.Latest(ctx)
	if err != nil {
		return result, err
	}
	result.Latest = latest
	return result, nil
}

func newMergeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "merge",
		Short: "Merge pending backfill segments into the main index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, err := opts.writer(cmd)
			if err != nil {
				return err
			}
			if err := opts.client().Merge(cmd.Context()); err != nil {
				return err
			}
			return w.Result(map[string]bool{"merged": true}, func() {
				w.Success("Segments merged")
			})
		},
	}
}
