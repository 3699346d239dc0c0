package daemon

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/Aman-CERP/chatindex/internal/message"
	"github.com/Aman-CERP/chatindex/internal/query"
)

// JSON-RPC 2.0 method names.
const (
	MethodPing           = "ping"
	MethodStatus         = "status"
	MethodSearch         = "search"
	MethodLatest         = "latest"
	MethodPush           = "push"
	MethodIndexBatch     = "index_batch"
	MethodBackfill       = "backfill"
	MethodMerge          = "merge"
	MethodDelete         = "delete"
	MethodDeleteRealTime = "delete_realtime"
	MethodSuspend        = "suspend"
)

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// ErrCodeOperationFailed carries a domain error; its Data holds the
// chatindex error code.
const ErrCodeOperationFailed = -32001

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      string          `json:"id"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      string          `json:"id"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

// ErrorData is the structured part of a domain error.
type ErrorData struct {
	Code       string            `json:"code"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
}

// NewSuccessResponse creates a successful response.
func NewSuccessResponse(id string, result any) Response {
	data, err := json.Marshal(result)
	if err != nil {
		return NewErrorResponse(id, ErrCodeInternalError, "failed to encode result")
	}
	return Response{
		JSONRPC: "2.0",
		Result:  data,
		ID:      id,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id string, code int, message string) Response {
	return Response{
		JSONRPC: "2.0",
		Error: &Error{
			Code:    code,
			Message: message,
		},
		ID: id,
	}
}

// SearchParams are the parameters for the search method. Every filter is
// optional; values are passed to the query compiler as given.
type SearchParams struct {
	Text      string   `json:"text,omitempty"`
	SenderIDs []string `json:"sender_ids,omitempty"`
	ThreadIDs []string `json:"thread_ids,omitempty"`
	FileType  string   `json:"file_type,omitempty"`
	StartDate string   `json:"start_date,omitempty"`
	EndDate   string   `json:"end_date,omitempty"`
	Limit     int      `json:"limit,omitempty"`
	Offset    int      `json:"offset,omitempty"`
	SortOrder string   `json:"sort_order,omitempty"`
}

// Request converts the params to a query request.
func (p SearchParams) Request() query.Request {
	req := query.Request{
		Text:      p.Text,
		SenderIDs: p.SenderIDs,
		ThreadIDs: p.ThreadIDs,
		FileType:  p.FileType,
		StartDate: p.StartDate,
		EndDate:   p.EndDate,
		SortOrder: p.SortOrder,
	}
	if p.Limit != 0 {
		req.Limit = strconv.Itoa(p.Limit)
	}
	if p.Offset != 0 {
		req.Offset = strconv.Itoa(p.Offset)
	}
	return req
}

// MessagesParams carry records for push and index_batch.
type MessagesParams struct {
	Messages []message.Record `json:"messages"`
}

// Validate checks that there is something to index.
func (p *MessagesParams) Validate() error {
	if len(p.Messages) == 0 {
		return fmt.Errorf("messages are required")
	}
	return nil
}

// BackfillParams name JSON batch files readable by the daemon.
type BackfillParams struct {
	Paths []string `json:"paths"`
}

// Validate checks that at least one file was named.
func (p *BackfillParams) Validate() error {
	if len(p.Paths) == 0 {
		return fmt.Errorf("paths are required")
	}
	return nil
}

// DeleteParams select messages to delete. An empty SenderID matches
// every sender.
type DeleteParams struct {
	SenderID string `json:"sender_id,omitempty"`
	MinDate  string `json:"min_date"`
	MaxDate  string `json:"max_date"`
}

// Validate checks the date bounds are present.
func (p *DeleteParams) Validate() error {
	if p.MinDate == "" || p.MaxDate == "" {
		return fmt.Errorf("min_date and max_date are required")
	}
	return nil
}

// SegmentResult is the reply to index_batch.
type SegmentResult struct {
	Segment string `json:"segment"`
}

// LatestResult is the reply to latest.
type LatestResult struct {
	Latest string `json:"latest"`
}

// SuspendResult is the reply to suspend.
type SuspendResult struct {
	Archive string `json:"archive"`
}

// PingResult is the response to a ping request.
type PingResult struct {
	Pong bool `json:"pong"`
	PID  int  `json:"pid"`
}
