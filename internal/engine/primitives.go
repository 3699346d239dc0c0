// Package engine defines the token-level index primitives the coordinator
// drives, and provides an implementation backed by Bleve.
//
// Every primitive blocks until the underlying engine has finished and
// honours context cancellation between batches. Callers are responsible
// for single-writer discipline per index path.
package engine

import (
	"context"

	"github.com/Aman-CERP/chatindex/internal/message"
	"github.com/Aman-CERP/chatindex/internal/query"
)

// Primitives is the narrow interface to the inverted-index engine.
type Primitives interface {
	// EnsureFolder creates path (and parents) if missing.
	EnsureFolder(ctx context.Context, path string) error

	// RemoveFolder releases any open index under path and deletes it.
	RemoveFolder(ctx context.Context, path string) error

	// CreatePartialIndex writes msgs into a new segment tempFolder/segmentID.
	CreatePartialIndex(ctx context.Context, tempFolder, segmentID string, msgs []message.Record) error

	// MergePartialIndex folds every segment under tempFolder into mainPath.
	// The segments are left on disk; the caller removes tempFolder.
	MergePartialIndex(ctx context.Context, mainPath, tempFolder string) error

	// IndexRealTime adds msgs to the index at rtFolder.
	IndexRealTime(ctx context.Context, rtFolder string, msgs []message.Record) error

	// Search runs req against the main and real-time indexes together.
	Search(ctx context.Context, req SearchRequest) (*Result, error)

	// DeleteMessages removes messages with minDate <= ingestionDate < maxDate,
	// restricted to senderID when it is non-empty.
	DeleteMessages(ctx context.Context, indexPath, senderID, minDate, maxDate string) error

	// RemoveDuplicates deletes from indexPath every message that also
	// exists in referencePath.
	RemoveDuplicates(ctx context.Context, indexPath, referencePath string) error

	// LastMessageTimestamp returns the newest ingestionDate in indexPath,
	// or query.MinimumDate when the index is empty.
	LastMessageTimestamp(ctx context.Context, indexPath string) (string, error)

	// Close releases every open index.
	Close() error
}

// SearchRequest is one search over the union of two indexes.
type SearchRequest struct {
	MainPath     string
	RealTimePath string

	// Query is nil for match-all within the date range.
	Query     query.Expr
	StartDate string
	EndDate   string
	Offset    int
	Limit     int
	SortOrder int
}

// Result is a page of search hits.
type Result struct {
	Messages []message.Record `json:"messages"`
	Total    uint64           `json:"total"`
	Returned int              `json:"returned"`
	More     bool             `json:"more"`
}

// Empty returns a result with no messages.
func Empty() *Result {
	return &Result{Messages: []message.Record{}}
}
