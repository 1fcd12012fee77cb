// Package api provides the HTTP server for the loyalty engine.
// Every route speaks JSON; errors are rendered as
// {"error": {"message": "...", "kind": "..."}}.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tutu-network/loyalty/internal/app/admin"
	"github.com/tutu-network/loyalty/internal/app/engine"
	"github.com/tutu-network/loyalty/internal/domain"
	"github.com/tutu-network/loyalty/internal/infra/observability"
)

const maxBodyBytes = 1 << 20

// Server is the loyalty HTTP API server.
type Server struct {
	engine         *engine.Engine
	admin          *admin.Service
	log            *slog.Logger
	metricsEnabled bool
	limiter        *RateLimiter
}

// NewServer creates a new API server.
func NewServer(eng *engine.Engine, adm *admin.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: eng, admin: adm, log: logger.With("component", "api")}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetRateLimit limits mutating requests per client. perSecond <= 0 disables
// the limiter.
func (s *Server) SetRateLimit(perSecond float64, burst int) {
	if perSecond <= 0 {
		s.limiter = nil
		return
	}
	s.limiter = NewRateLimiter(perSecond, burst)
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(s.instrument)

	r.Get("/health", s.handleHealth)

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/tiers", s.handleListTiers)
		r.Get("/tiers/snapshot", s.handleTierSnapshot)
		r.Get("/rewards", s.handleListRewards)
		r.Get("/jobs/runs", s.handleJobRuns)
		r.Get("/accounts/{id}", s.handleGetAccount)
		r.Get("/accounts/{id}/discount", s.handleResolveDiscount)
		r.Get("/accounts/{id}/points", s.handleBalance)
		r.Get("/accounts/{id}/points/entries", s.handleEntries)
		r.Get("/accounts/{id}/referrals", s.handleRedemptions)

		// Mutating routes share the per-client limiter.
		r.Group(func(r chi.Router) {
			r.Use(s.rateLimit)

			r.Put("/accounts/{id}", s.handleUpsertAccount)
			r.Post("/accounts/{id}/redemptions", s.handleRedeem)
			r.Post("/accounts/{id}/referral-code", s.handleReferralCode)
			r.Post("/orders/{id}/freeze", s.handleFreeze)
			r.Post("/orders/{id}/points", s.handleAward)
			r.Post("/events/order-completed", s.handleOrderCompleted)
			r.Post("/referrals", s.handleAttribute)
			r.Post("/referrals/{id}/qualify", s.handleQualify)
			r.Post("/jobs/spend", s.handleRunSpend)
			r.Post("/jobs/tiers", s.handleRunTiers)

			// Admin routes require "confirm": true in the body.
			r.Put("/accounts/{id}/tier", s.handleSetTier)
			r.Delete("/accounts/{id}/tier", s.handleClearTier)
			r.Put("/accounts/{id}/discount-override", s.handleSetOverride)
			r.Delete("/accounts/{id}/discount-override", s.handleClearOverride)
			r.Post("/accounts/{id}/points/adjust", s.handleAdjust)
			r.Post("/referrals/{id}/reject", s.handleReject)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ─── Middleware ─────────────────────────────────────────────────────────────

// instrument counts requests by route pattern and status code.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.APIRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		s.log.Debug("request",
			"method", r.Method, "route", route, "status", status,
			"duration", time.Since(start).String(), "request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow(clientID(r)) {
			observability.APIRateLimited.Inc()
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: errorDetail{
				Message: "rate limit exceeded",
				Kind:    "rate_limited",
			}})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ─── Responses ──────────────────────────────────────────────────────────────

type errorDetail struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

// statusFor maps an error kind to an HTTP status.
func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation, domain.KindCancelled:
		return http.StatusBadRequest
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindState:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError renders err with the status of its kind. Internal and
// configuration errors are logged and their detail hidden.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	status := statusFor(kind)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "path", r.URL.Path, "kind", kind, "error", err,
			"request_id", middleware.GetReqID(r.Context()))
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorBody{Error: errorDetail{Message: msg, Kind: string(kind)}})
}

// decode reads a JSON body into v, rejecting unknown fields. An empty body
// leaves v untouched.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return domain.Validationf("invalid JSON body: %v", err)
	}
	if dec.More() {
		return domain.Validationf("invalid JSON body: trailing data")
	}
	return nil
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, domain.Validationf("query %s=%q must be a non-negative integer", key, v)
	}
	return n, nil
}

// ─── Confirmation ───────────────────────────────────────────────────────────

// confirmation is embedded in every admin request body.
type confirmation struct {
	Confirm bool   `json:"confirm"`
	Actor   string `json:"actor,omitempty"`
}

// confirmer acknowledges an action only when the request said so explicitly.
func (c confirmation) confirmer(r *http.Request) domain.Confirmer {
	by := c.Actor
	if by == "" {
		by = "api:" + clientID(r)
	}
	return domain.ConfirmFunc(func(_ context.Context, a domain.Action) (domain.Outcome, error) {
		if !c.Confirm {
			return domain.Outcome{}, fmt.Errorf("%w: %s requires \"confirm\": true", domain.ErrCancelled, a.Name)
		}
		return domain.Outcome{Confirmed: true, By: by}, nil
	})
}
