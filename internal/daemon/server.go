package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/Aman-CERP/chatindex/internal/engine"
	ierrors "github.com/Aman-CERP/chatindex/internal/errors"
	"github.com/Aman-CERP/chatindex/internal/index"
	"github.com/Aman-CERP/chatindex/internal/message"
	"github.com/Aman-CERP/chatindex/internal/query"
	"github.com/Aman-CERP/chatindex/internal/session"
)

// Handler is the open session the daemon serves. *session.Session
// implements it.
type Handler interface {
	Query(ctx context.Context, req query.Request) (*engine.Result, error)
	Latest(ctx context.Context) (string, error)
	Push(ctx context.Context, msgs ...message.Record) error
	IndexBatch(ctx context.Context, msgs []message.Record) (string, error)
	Backfill(ctx context.Context, next index.BatchSource, onBatch func(index.RunnerResult)) (*index.RunnerResult, error)
	MergeBatches(ctx context.Context) error
	DeleteMessages(ctx context.Context, senderID, minDate, maxDate string) error
	DeleteRealTime(ctx context.Context) error
	Status() session.Status
	Suspend(ctx context.Context) (string, error)
}

var _ Handler = (*session.Session)(nil)

// Server listens on a Unix socket and handles RPC requests.
type Server struct {
	socketPath string
	timeout    time.Duration
	listener   net.Listener
	handler    Handler
	started    time.Time

	mu        sync.Mutex
	shutdown  bool
	suspended bool
	wg        sync.WaitGroup
}

// NewServer creates a server for handler on config.SocketPath.
func NewServer(config Config, handler Handler) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	return &Server{
		socketPath: config.SocketPath,
		timeout:    config.Timeout,
		handler:    handler,
	}, nil
}

// ListenAndServe serves until ctx is cancelled or a suspend request
// succeeds. It returns nil after a suspend.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if c, err := net.DialTimeout("unix", s.socketPath, time.Second); err == nil {
		_ = c.Close()
		return fmt.Errorf("a daemon is already listening on %s", s.socketPath)
	}
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to restrict socket permissions: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.started = time.Now()
	s.mu.Unlock()

	defer func() {
		_ = listener.Close()
		_ = os.Remove(s.socketPath)
	}()

	slog.Info("daemon_listening", slog.String("socket", s.socketPath))

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-stop:
		}
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			shutdown := s.shutdown
			s.mu.Unlock()
			if shutdown {
				break
			}
			slog.Error("daemon_accept_failed", slog.String("error", err.Error()))
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.wg.Wait()

	if s.Suspended() {
		return nil
	}
	return ctx.Err()
}

// Suspended reports whether a suspend request stopped the server.
func (s *Server) Suspended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suspended
}

// handleConnection processes a single request.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
		slog.Warn("daemon_deadline_failed", slog.String("error", err.Error()))
	}

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var req Request
	if err := decoder.Decode(&req); err != nil {
		_ = encoder.Encode(NewErrorResponse("", ErrCodeParseError, "failed to parse request"))
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		_ = encoder.Encode(NewErrorResponse(req.ID, ErrCodeInvalidRequest, "invalid request"))
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	resp := s.handleRequest(ctx, req)
	if err := encoder.Encode(resp); err != nil {
		slog.Warn("daemon_reply_failed",
			slog.String("method", req.Method),
			slog.String("error", err.Error()))
	}

	if req.Method == MethodSuspend && resp.Error == nil {
		s.mu.Lock()
		s.suspended = true
		s.mu.Unlock()
		_ = s.Close()
	}
}

// handleRequest dispatches a request to the handler.
func (s *Server) handleRequest(ctx context.Context, req Request) Response {
	start := time.Now()
	resp := s.dispatch(ctx, req)
	attrs := []slog.Attr{
		slog.String("method", req.Method),
		slog.Duration("duration", time.Since(start)),
	}
	if resp.Error != nil {
		attrs = append(attrs, slog.Int("rpc_code", resp.Error.Code), slog.String("error", resp.Error.Message))
	}
	slog.LogAttrs(ctx, slog.LevelDebug, "daemon_request", attrs...)
	return resp
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	h := s.handler
	switch req.Method {
	case MethodPing:
		return NewSuccessResponse(req.ID, PingResult{Pong: true, PID: os.Getpid()})

	case MethodStatus:
		return NewSuccessResponse(req.ID, h.Status())

	case MethodSearch:
		var p SearchParams
		if resp, ok := decodeParams(req, &p); !ok {
			return resp
		}
		res, err := h.Query(ctx, p.Request())
		return reply(req.ID, res, err)

	case MethodLatest:
		latest, err := h.Latest(ctx)
		return reply(req.ID, LatestResult{Latest: latest}, err)

	case MethodPush:
		var p MessagesParams
		if resp, ok := decodeParams(req, &p); !ok {
			return resp
		}
		if err := p.Validate(); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		return reply(req.ID, struct{}{}, h.Push(ctx, p.Messages...))

	case MethodIndexBatch:
		var p MessagesParams
		if resp, ok := decodeParams(req, &p); !ok {
			return resp
		}
		if err := p.Validate(); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		segment, err := h.IndexBatch(ctx, p.Messages)
		return reply(req.ID, SegmentResult{Segment: segment}, err)

	case MethodBackfill:
		var p BackfillParams
		if resp, ok := decodeParams(req, &p); !ok {
			return resp
		}
		if err := p.Validate(); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		result, err := h.Backfill(ctx, index.FileSource(p.Paths), nil)
		return reply(req.ID, result, err)

	case MethodMerge:
		return reply(req.ID, struct{}{}, h.MergeBatches(ctx))

	case MethodDelete:
		var p DeleteParams
		if resp, ok := decodeParams(req, &p); !ok {
			return resp
		}
		if err := p.Validate(); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		return reply(req.ID, struct{}{}, h.DeleteMessages(ctx, p.SenderID, p.MinDate, p.MaxDate))

	case MethodDeleteRealTime:
		return reply(req.ID, struct{}{}, h.DeleteRealTime(ctx))

	case MethodSuspend:
		archive, err := h.Suspend(ctx)
		return reply(req.ID, SuspendResult{Archive: archive}, err)

	default:
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

func decodeParams(req Request, v any) (Response, bool) {
	if len(req.Params) == 0 {
		return Response{}, true
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params"), false
	}
	return Response{}, true
}

// reply turns a handler outcome into a response. Domain errors keep their
// code so the client can rebuild them.
func reply(id string, result any, err error) Response {
	if err == nil {
		return NewSuccessResponse(id, result)
	}
	resp := NewErrorResponse(id, ErrCodeOperationFailed, err.Error())
	var ie *ierrors.IndexError
	if errors.As(err, &ie) {
		resp.Error.Message = ie.Message
		resp.Error.Data = &ErrorData{Code: ie.Code, Details: ie.Details, Suggestion: ie.Suggestion}
	} else if errors.Is(err, session.ErrSuspended) {
		resp.Error.Data = &ErrorData{Code: ierrors.ErrCodeNotReady}
	}
	return resp
}

// Close stops the server.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdown = true
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
