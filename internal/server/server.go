package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/fxd/internal/literal"
	"github.com/roach88/fxd/internal/signal"
	"github.com/roach88/fxd/internal/value"
	"github.com/roach88/fxd/internal/wal"
)

// Page sizes for GET /v1/signals.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Server exposes a bus and its log over HTTP.
type Server struct {
	log    *wal.Log
	bus    *signal.Bus
	router *gin.Engine
	opts   options
}

type options struct {
	logger          *slog.Logger
	metrics         http.Handler
	shutdownTimeout time.Duration
}

// Option configures a Server.
type Option func(*options)

// WithLogger sets the request logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics serves h on GET /metrics.
func WithMetrics(h http.Handler) Option {
	return func(o *options) { o.metrics = h }
}

// WithShutdownTimeout bounds how long ListenAndServe waits for requests
// in flight once its context is cancelled.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.shutdownTimeout = d
		}
	}
}

// New returns a server for bus, which must write to log.
func New(log *wal.Log, bus *signal.Bus, opts ...Option) *Server {
	o := options{logger: slog.Default(), shutdownTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	s := &Server{log: log, bus: bus, opts: o}

	r := gin.New()
	r.Use(gin.Recovery(), otelgin.Middleware("fxd"), s.logRequests)
	r.GET("/healthz", s.handleHealth)
	v1 := r.Group("/v1")
	v1.GET("/stats", s.handleStats)
	v1.GET("/signals", s.handleListSignals)
	v1.POST("/signals", s.handleEmit)
	if o.metrics != nil {
		r.GET("/metrics", gin.WrapH(o.metrics))
	}
	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully. It returns nil after a clean shutdown.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.opts.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	s.opts.logger.Info("http server stopped", "addr", addr)
	return nil
}

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.opts.logger.Debug("http request",
		"method", c.Request.Method,
		"path", c.FullPath(),
		"status", c.Writer.Status(),
		"duration", time.Since(start))
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func abort(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: err.Error()})
}

// HealthResponse is the body of GET /healthz. The log is healthy while
// Ready or Compacting.
type HealthResponse struct {
	State   string `json:"state"`
	NextSeq uint64 `json:"next_seq"`
}

func (s *Server) handleHealth(c *gin.Context) {
	st := s.log.Stats()
	status := http.StatusOK
	if st.State != wal.StateReady && st.State != wal.StateCompacting {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, HealthResponse{State: st.State.String(), NextSeq: st.NextSeq})
}

// StatsResponse is the body of GET /v1/stats.
type StatsResponse struct {
	Log LogStats `json:"log"`
	Bus BusStats `json:"bus"`
}

type LogStats struct {
	State       string `json:"state"`
	RecordCount uint64 `json:"record_count"`
	ByteSize    int64  `json:"byte_size"`
	FirstSeq    uint64 `json:"first_seq"`
	LastSeq     uint64 `json:"last_seq"`
	NextSeq     uint64 `json:"next_seq"`
}

type BusStats struct {
	TotalEmitted    uint64            `json:"total_emitted"`
	PerKind         map[string]uint64 `json:"per_kind"`
	SubscriberCount int               `json:"subscriber_count"`
	Replaying       int               `json:"replaying"`
	HandlerErrors   uint64            `json:"handler_errors"`
}

func (s *Server) handleStats(c *gin.Context) {
	ls, bs := s.log.Stats(), s.bus.Stats()
	c.JSON(http.StatusOK, StatsResponse{
		Log: LogStats{
			State:       ls.State.String(),
			RecordCount: ls.RecordCount,
			ByteSize:    ls.ByteSize,
			FirstSeq:    ls.FirstSeq,
			LastSeq:     ls.LastSeq,
			NextSeq:     ls.NextSeq,
		},
		Bus: BusStats{
			TotalEmitted:    bs.TotalEmitted,
			PerKind:         bs.PerKind,
			SubscriberCount: bs.SubscriberCount,
			Replaying:       bs.Replaying,
			HandlerErrors:   bs.HandlerErrors,
		},
	})
}

// EmitRequest is the body of POST /v1/signals. Value is a CUE literal and
// defaults to null.
type EmitRequest struct {
	Kind  string `json:"kind" binding:"required"`
	Node  string `json:"node" binding:"required"`
	Value string `json:"value"`
}

// EmitResponse is the body of a successful POST /v1/signals.
type EmitResponse struct {
	Seq uint64 `json:"seq"`
}

func (s *Server) handleEmit(c *gin.Context) {
	var req EmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	kind, err := signal.ParseKind(req.Kind)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	src := req.Value
	if src == "" {
		src = "null"
	}
	v, err := literal.Parse(src)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	seq, err := s.bus.Emit(c.Request.Context(), kind, norm.NFC.String(req.Node), v)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, wal.ErrClosed) || errors.Is(err, wal.ErrFailed) || errors.Is(err, wal.ErrNotReady) {
			status = http.StatusServiceUnavailable
		} else if errors.Is(err, wal.ErrPayloadTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		abort(c, status, err)
		return
	}
	c.JSON(http.StatusCreated, EmitResponse{Seq: seq})
}

// SignalView is one signal in GET /v1/signals. Value uses the text form.
type SignalView struct {
	Seq   uint64 `json:"seq"`
	Time  string `json:"time"`
	Kind  string `json:"kind"`
	Node  string `json:"node"`
	Value string `json:"value"`
}

// SignalPage is the body of GET /v1/signals. Next is the cursor to pass as
// from for the following page.
type SignalPage struct {
	Signals []SignalView `json:"signals"`
	Next    uint64       `json:"next"`
}

func (s *Server) handleListSignals(c *gin.Context) {
	from, err := strconv.ParseUint(c.DefaultQuery("from", "1"), 10, 64)
	if err != nil {
		abort(c, http.StatusBadRequest, fmt.Errorf("invalid from: %w", err))
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(DefaultLimit)))
	if err != nil || limit <= 0 {
		abort(c, http.StatusBadRequest, fmt.Errorf("invalid limit %q", c.Query("limit")))
		return
	}
	limit = min(limit, MaxLimit)

	filter := signal.MatchAll()
	if k := c.Query("kind"); k != "" {
		kind, err := signal.ParseKind(k)
		if err != nil {
			abort(c, http.StatusBadRequest, err)
			return
		}
		filter = filter.AndKind(kind)
	}
	if n := c.Query("node"); n != "" {
		filter = filter.AndNode(norm.NFC.String(n))
	}

	st := s.log.Stats()
	page := SignalPage{Signals: []SignalView{}, Next: max(from, st.FirstSeq)}
	full := false
	for sig, err := range s.bus.Replay(wal.Cursor(from), filter) {
		if err != nil {
			abort(c, http.StatusInternalServerError, err)
			return
		}
		page.Signals = append(page.Signals, SignalView{
			Seq:   sig.Seq,
			Time:  sig.Timestamp.Format(time.RFC3339Nano),
			Kind:  sig.Kind.String(),
			Node:  sig.NodeID,
			Value: value.Format(sig.Value),
		})
		page.Next = sig.Seq + 1
		if len(page.Signals) >= limit {
			full = true
			break
		}
	}
	if !full {
		// Everything committed before the scan was examined.
		page.Next = max(page.Next, st.NextSeq)
	}
	c.JSON(http.StatusOK, page)
}
