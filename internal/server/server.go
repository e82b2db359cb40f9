// Package server exposes the check endpoint and the administrative surface.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/termguard/libs/go/core/otelinit"
	"github.com/swarmguard/termguard/libs/go/core/resilience"
	"github.com/swarmguard/termguard/querycheck"
	"github.com/swarmguard/termguard/termcache"
	"github.com/swarmguard/termguard/wordstore"
)

const maxBodyBytes = 1 << 20

// Controller is the refresh side used by the admin routes.
type Controller interface {
	RefreshNow(ctx context.Context) error
	Status() termcache.Status
}

// Options wire the handlers. Controller is nil when checking is disabled; Store is
// optional and only backs GET /v1/terms.
type Options struct {
	Checker    *querycheck.Service
	Cache      *termcache.Cache
	Controller Controller
	Store      wordstore.Store
	Limiter    *resilience.RateLimiter
}

type Server struct {
	opts     Options
	log      *slog.Logger
	requests metric.Int64Counter
	latency  metric.Float64Histogram
}

func New(opts Options) *Server {
	if opts.Limiter == nil {
		opts.Limiter = resilience.NewRateLimiter(3, 0.2)
	}
	meter := otelinit.Meter()
	requests, _ := meter.Int64Counter("termguard_http_requests_total")
	latency, _ := meter.Float64Histogram("termguard_http_request_duration_seconds")
	return &Server{
		opts:     opts,
		log:      slog.Default().With("component", "http"),
		requests: requests,
		latency:  latency,
	}
}

// Handler returns the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/v1/check", s.instrument("check", http.MethodPost, s.handleCheck))
	mux.HandleFunc("/v1/refresh", s.instrument("refresh", http.MethodPost, s.handleRefresh))
	mux.HandleFunc("/v1/status", s.instrument("status", http.MethodGet, s.handleStatus))
	mux.HandleFunc("/v1/terms", s.instrument("terms", http.MethodGet, s.handleTerms))
	return mux
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(route, method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := otelinit.WithSpan(r.Context(), "http."+route)
		defer span.End()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		if r.Method != method {
			sw.WriteHeader(http.StatusMethodNotAllowed)
		} else {
			h(sw, r.WithContext(ctx))
		}
		attrs := metric.WithAttributes(attribute.String("route", route), attribute.Int("code", sw.code))
		s.requests.Add(ctx, 1, attrs)
		s.latency.Record(ctx, time.Since(start).Seconds(), attrs)
		span.SetAttributes(attribute.Int("http.status_code", sw.code))
	}
}

type checkRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Checker.Evaluate(r.Context(), req.Text))
}

type statusResponse struct {
	Enabled bool   `json:"enabled"`
	State   string `json:"state"`
	termcache.Status
}

func (s *Server) status() statusResponse {
	var st termcache.Status
	switch {
	case s.opts.Controller != nil:
		st = s.opts.Controller.Status()
	case s.opts.Cache != nil:
		st = s.opts.Cache.Status()
	}
	return statusResponse{Enabled: s.opts.Checker.Enabled(), State: st.State(), Status: st}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.opts.Controller == nil {
		writeError(w, http.StatusConflict, "term checking is disabled")
		return
	}
	if !s.opts.Limiter.Allow() {
		secs := int(math.Ceil(s.opts.Limiter.RetryAfter().Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
		writeError(w, http.StatusTooManyRequests, "refresh rate limited")
		return
	}
	if err := s.opts.Controller.RefreshNow(r.Context()); err != nil {
		s.log.Warn("manual refresh failed", "error", err)
		code := http.StatusInternalServerError
		if errors.Is(err, termcache.ErrSourceUnavailable) {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, s.status())
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleTerms(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		writeError(w, http.StatusNotFound, "no term store configured")
		return
	}
	entries, err := s.opts.Store.List(r.Context())
	if err != nil {
		s.log.Error("list terms failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list terms failed")
		return
	}
	if r.URL.Query().Get("enabled") == "true" {
		kept := entries[:0]
		for _, e := range entries {
			if e.Enabled {
				kept = append(kept, e)
			}
		}
		entries = kept
	}
	if entries == nil {
		entries = []wordstore.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(entries), "terms": entries})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// ListenAndServe serves until ctx is done, then shuts down within timeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, timeout time.Duration) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	sdCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(sdCtx)
}
