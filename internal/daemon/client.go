package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/Aman-CERP/chatindex/internal/engine"
	ierrors "github.com/Aman-CERP/chatindex/internal/errors"
	"github.com/Aman-CERP/chatindex/internal/index"
	"github.com/Aman-CERP/chatindex/internal/message"
	"github.com/Aman-CERP/chatindex/internal/session"
)

// Client talks to a running daemon. Each call uses its own connection.
type Client struct {
	socketPath string
	timeout    time.Duration
	requestID  atomic.Uint64
}

// NewClient creates a new daemon client.
func NewClient(cfg Config) *Client {
	return &Client{
		socketPath: cfg.SocketPath,
		timeout:    cfg.Timeout,
	}
}

// Connect establishes a connection to the daemon.
func (c *Client) Connect() (net.Conn, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, ierrors.NotReadyError("no chatindex daemon is running").
			WithDetail("socket", c.socketPath).
			WithSuggestion("start one with 'chatindex serve'")
	}
	return conn, nil
}

// IsRunning checks if the daemon is accepting connections.
func (c *Client) IsRunning() bool {
	conn, err := c.Connect()
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Ping checks if the daemon is responsive and returns its pid.
func (c *Client) Ping(ctx context.Context) (int, error) {
	var res PingResult
	if err := c.call(ctx, MethodPing, nil, &res); err != nil {
		return 0, err
	}
	return res.PID, nil
}

// Status retrieves the session status.
func (c *Client) Status(ctx context.Context) (*session.Status, error) {
	var st session.Status
	if err := c.call(ctx, MethodStatus, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Search runs a query against the open session.
func (c *Client) Search(ctx context.Context, params SearchParams) (*engine.Result, error) {
	var res engine.Result
	if err := c.call(ctx, MethodSearch, params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Latest returns the newest ingestion date in the main index.
func (c *Client) Latest(ctx context.Context) (string, error) {
	var res LatestResult
	if err := c.call(ctx, MethodLatest, nil, &res); err != nil {
		return "", err
	}
	return res.Latest, nil
}

// Push hands real-time messages to the session's collector.
func (c *Client) Push(ctx context.Context, msgs []message.Record) error {
	return c.call(ctx, MethodPush, MessagesParams{Messages: msgs}, nil)
}

// IndexBatch writes one backfill segment and returns its id.
func (c *Client) IndexBatch(ctx context.Context, msgs []message.Record) (string, error) {
	var res SegmentResult
	if err := c.call(ctx, MethodIndexBatch, MessagesParams{Messages: msgs}, &res); err != nil {
		return "", err
	}
	return res.Segment, nil
}

// Backfill has the daemon index the batch files at paths. Paths must be
// absolute or relative to the daemon's working directory.
func (c *Client) Backfill(ctx context.Context, paths []string) (*index.RunnerResult, error) {
	var res index.RunnerResult
	if err := c.call(ctx, MethodBackfill, BackfillParams{Paths: paths}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Merge folds pending segments into the main index.
func (c *Client) Merge(ctx context.Context) error {
	return c.call(ctx, MethodMerge, nil, nil)
}

// Delete removes messages in [MinDate, MaxDate).
func (c *Client) Delete(ctx context.Context, params DeleteParams) error {
	return c.call(ctx, MethodDelete, params, nil)
}

// DeleteRealTime clears the real-time index.
func (c *Client) DeleteRealTime(ctx context.Context) error {
	return c.call(ctx, MethodDeleteRealTime, nil, nil)
}

// Suspend archives the index and stops the daemon.
func (c *Client) Suspend(ctx context.Context) (string, error) {
	var res SuspendResult
	if err := c.call(ctx, MethodSuspend, nil, &res); err != nil {
		return "", err
	}
	return res.Archive, nil
}

// call sends one request and decodes the result into out, which may be nil.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	conn, err := c.Connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	if d, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(d); err != nil {
			return fmt.Errorf("failed to set deadline: %w", err)
		}
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	req := Request{
		JSONRPC: "2.0",
		Method:  method,
		ID:      c.nextID(),
	}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to encode params: %w", err)
		}
		req.Params = data
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to receive response: %w", err)
	}

	if resp.Error != nil {
		return resp.Error.asError(method)
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

// asError rebuilds the daemon's error on the client side.
func (e *Error) asError(method string) error {
	if e.Data != nil && e.Data.Code != "" {
		ie := ierrors.New(e.Data.Code, e.Message, nil)
		for k, v := range e.Data.Details {
			ie.WithDetail(k, v)
		}
		if e.Data.Suggestion != "" {
			ie.WithSuggestion(e.Data.Suggestion)
		}
		return ie
	}
	return fmt.Errorf("%s failed: %s (code: %d)", method, e.Message, e.Code)
}

// nextID generates a unique request ID.
func (c *Client) nextID() string {
	id := c.requestID.Add(1)
	return fmt.Sprintf("req-%d", id)
}
