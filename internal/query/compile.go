// Package query compiles user-facing search requests into index queries.
//
// Compilation is pure: the same Request and clock always yield the same
// Compiled value, so it is testable without an index.
package query

import (
	"strconv"
	"strings"
	"time"
)

// Defaults applied when the caller supplies values that are not integers.
const (
	DefaultLimit  = 25
	DefaultOffset = 0

	// SortByScore orders hits by relevance.
	SortByScore = 0
	// SortByDate orders hits newest first.
	SortByDate = 1

	// MinimumDate and MaximumDate are the sentinel date bounds in epoch ms.
	MinimumDate = "0000000000000"
	MaximumDate = "9999999999999"

	// AttachmentFilter matches any message that has files.
	AttachmentFilter = "attachment"
)

// DefaultRetention is the search window: three 31-day months.
const DefaultRetention = 3 * 31 * 24 * time.Hour

// Request is a search as received from the UI bridge. Dates and
// pagination travel as strings; anything that is not an integer falls
// back to its default.
type Request struct {
	Text      string
	SenderIDs []string
	ThreadIDs []string
	FileType  string
	StartDate string
	EndDate   string
	Limit     string
	Offset    string
	SortOrder string
}

// Compiled is the output of Compile.
type Compiled struct {
	// Expr is nil when every message within the date range matches.
	Expr      Expr
	StartDate string
	EndDate   string
	Limit     int
	Offset    int
	SortOrder int
}

// Query renders Expr, or "" for match-all.
func (c *Compiled) Query() string {
	if c.Expr == nil {
		return ""
	}
	return c.Expr.String()
}

// MatchAll reports whether the query has no clauses.
func (c *Compiled) MatchAll() bool {
	return c.Expr == nil
}

// Compile translates req into a Compiled query. now and retention define
// the earliest searchable date.
func Compile(req Request, now time.Time, retention time.Duration) *Compiled {
	text := strings.ToLower(strings.TrimSpace(req.Text))
	fileType := strings.ToLower(strings.TrimSpace(req.FileType))

	tags := HashTags(text)
	remaining := stripTags(text)

	var textClause, tagClause, fileClause Expr
	if remaining != "" {
		textClause = phraseClause(FieldText, remaining)
	}
	if len(tags) > 0 {
		tagClause = &Terms{Field: FieldTags, Values: tags, Quoted: true, Wrapped: true}
	}
	if fileType != "" && remaining != "" {
		fileClause = phraseClause(FieldFilename, remaining)
	}
	content := join(Or, textClause, tagClause, fileClause)

	var attachment Expr
	switch {
	case fileType == AttachmentFilter:
		attachment = &Flag{Field: FieldHasFiles, Value: true}
	case fileType != "":
		attachment = &Terms{Field: FieldFileType, Values: []string{fileType}}
	}

	var senders, threads Expr
	if ids := nonEmpty(req.SenderIDs); len(ids) > 0 {
		senders = &Terms{Field: FieldSender, Values: ids, Quoted: true, Wrapped: true}
	}
	if ids := nonEmpty(req.ThreadIDs); len(ids) > 0 {
		threads = &Terms{Field: FieldThread, Values: ids, Quoted: true, Wrapped: true}
	}

	return &Compiled{
		Expr:      join(And, content, attachment, senders, threads),
		StartDate: clampStart(req.StartDate, now, retention),
		EndDate:   normalizeEnd(req.EndDate),
		Limit:     intOr(req.Limit, DefaultLimit, func(n int) bool { return n > 0 }),
		Offset:    intOr(req.Offset, DefaultOffset, func(n int) bool { return n >= 0 }),
		SortOrder: intOr(req.SortOrder, SortByScore, func(n int) bool { return n == SortByScore || n == SortByDate }),
	}
}

// SearchFloor returns the earliest searchable date as epoch ms.
func SearchFloor(now time.Time, retention time.Duration) int64 {
	return now.Add(-retention).UnixMilli()
}

// phraseClause builds the tupled (or passthrough) clause for field.
func phraseClause(field, text string) Expr {
	if strings.Contains(text, `"`) {
		return &Terms{Field: field, Values: SplitPhrases(text), Raw: text, Wrapped: true}
	}
	return &Terms{Field: field, Values: Tuples(text), Quoted: true, Wrapped: true}
}

func stripTags(text string) string {
	fields := strings.Fields(text)
	kept := fields[:0]
	for _, f := range fields {
		if !isTag(f) {
			kept = append(kept, f)
		}
	}
	return strings.Join(kept, " ")
}

func nonEmpty(ids []string) []string {
	var out []string
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func clampStart(raw string, now time.Time, retention time.Duration) string {
	floor := SearchFloor(now, retention)
	if v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil && v >= floor {
		return strconv.FormatInt(v, 10)
	}
	return strconv.FormatInt(floor, 10)
}

func normalizeEnd(raw string) string {
	if v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil && v >= 0 {
		return strconv.FormatInt(v, 10)
	}
	return MaximumDate
}

// intOr parses raw strictly as an integer; anything else, or a value
// rejected by ok, yields def.
func intOr(raw string, def int, ok func(int) bool) int {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || !ok(v) {
		return def
	}
	return v
}
