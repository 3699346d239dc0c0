package index

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	ierrors "github.com/Aman-CERP/chatindex/internal/errors"
	"github.com/Aman-CERP/chatindex/internal/message"
)

// BatchSource yields message batches for a backfill. It returns io.EOF
// when there are no more.
type BatchSource func(ctx context.Context) ([]message.Record, error)

// SliceSource serves batches from memory.
func SliceSource(batches [][]message.Record) BatchSource {
	i := 0
	return func(context.Context) ([]message.Record, error) {
		if i >= len(batches) {
			return nil, io.EOF
		}
		b := batches[i]
		i++
		return b, nil
	}
}

// FileSource reads one batch per file, each a JSON array of messages. A
// file that does not parse yields an empty batch, which the runner counts
// as rejected.
func FileSource(paths []string) BatchSource {
	i := 0
	return func(ctx context.Context) ([]message.Record, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if i >= len(paths) {
			return nil, io.EOF
		}
		path := paths[i]
		i++

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, ierrors.New(ierrors.ErrCodeFileNotFound, "failed to read batch file", err).
				WithDetail("path", path)
		}
		var batch []message.Record
		if err := json.Unmarshal(data, &batch); err != nil {
			slog.Warn("backfill_file_unparsable",
				slog.String("path", path),
				slog.String("error", err.Error()))
			return []message.Record{}, nil
		}
		return batch, nil
	}
}

// RunnerConfig configures a backfill run.
type RunnerConfig struct {
	// MergeEvery merges after this many segments. Zero merges once at the end.
	MergeEvery int

	// OnBatch is called with the running totals after each batch.
	OnBatch func(RunnerResult)
}

// RunnerResult contains the outcome of a backfill.
type RunnerResult struct {
	// Batches is the number of segments written.
	Batches int `json:"batches"`

	// Messages is the number of messages indexed.
	Messages int `json:"messages"`

	// Rejected is the number of batches skipped for invalid content.
	Rejected int `json:"rejected"`

	// Merges is the number of merges performed.
	Merges int `json:"merges"`

	// Latest is the newest ingestion date in the main index afterwards.
	Latest string `json:"latest"`

	// Duration is the total run time.
	Duration time.Duration `json:"duration"`
}

// Runner drives batch indexing and merging for a server backfill.
type Runner struct {
	coord  *Coordinator
	config RunnerConfig
}

// NewRunner creates a runner over coord.
func NewRunner(coord *Coordinator, config RunnerConfig) *Runner {
	return &Runner{coord: coord, config: config}
}

// Run indexes every batch from next and merges the segments. Invalid
// batches are skipped with a warning; any other error stops the run
// after merging what was already written.
func (r *Runner) Run(ctx context.Context, next BatchSource) (*RunnerResult, error) {
	start := time.Now()
	result := &RunnerResult{}
	sinceMerge := 0

	merge := func() error {
		if sinceMerge == 0 {
			return nil
		}
		if err := r.coord.MergeBatches(ctx); err != nil {
			return err
		}
		result.Merges++
		sinceMerge = 0
		return nil
	}

	var runErr error
	for {
		batch, err := next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			runErr = err
			break
		}

		if _, err := r.coord.IndexBatch(ctx, batch); err != nil {
			if ierrors.HasCode(err, ierrors.ErrCodeInvalidInput) {
				result.Rejected++
				slog.Warn("backfill_batch_rejected",
					slog.Int("messages", len(batch)),
					slog.String("error", err.Error()))
				continue
			}
			runErr = err
			break
		}
		result.Batches++
		result.Messages += len(batch)
		sinceMerge++
		if r.config.OnBatch != nil {
			r.config.OnBatch(*result)
		}

		if r.config.MergeEvery > 0 && sinceMerge >= r.config.MergeEvery {
			if err := merge(); err != nil {
				runErr = err
				break
			}
		}
	}

	if ctx.Err() == nil {
		if err := merge(); err != nil && runErr == nil {
			runErr = err
		}
	}
	if runErr != nil {
		result.Duration = time.Since(start)
		return result, runErr
	}

	latest, err := r.coord.LatestMessageTimestamp(ctx)
	if err != nil {
		return result, err
	}
	result.Latest = latest
	result.Duration = time.Since(start)

	slog.Info("backfill_complete",
		slog.Int("batches", result.Batches),
		slog.Int("messages", result.Messages),
		slog.Int("rejected", result.Rejected),
		slog.String("latest", latest),
		slog.Duration("duration", result.Duration))
	return result, nil
}
