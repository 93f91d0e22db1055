package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ent0n29/echoverse/internal/observability"
	"github.com/ent0n29/echoverse/internal/store"
	"github.com/ent0n29/echoverse/internal/summary"
)

const maxBodyBytes = 1 << 20

// Summarizer is the pipeline surface the HTTP layer drives.
type Summarizer interface {
	Generate(ctx context.Context, req summary.Request) (summary.Result, error)
	Get(ctx context.Context, key string) (store.Record, error)
	Lookup(ctx context.Context, keys []string) ([]store.Record, error)
}

// Readiness describes the wired backends for /readyz.
type Readiness struct {
	StoreKind string
	Providers []string
}

type Server struct {
	summarizer Summarizer
	metrics    *observability.Metrics
	ready      Readiness
	log        zerolog.Logger
}

func New(summarizer Summarizer, metrics *observability.Metrics, ready Readiness, log zerolog.Logger) *Server {
	return &Server{
		summarizer: summarizer,
		metrics:    metrics,
		ready:      ready,
		log:        log.With().Str("component", "httpapi").Logger(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/summaries/generate", s.handleGenerate)
	r.Post("/api/generate-poem", s.handleGenerate)
	r.Post("/v1/summaries/lookup", s.handleLookup)
	r.Get("/v1/summaries/{key}", s.handleGetSummary)
	r.Get("/v1/perf/summary", s.handlePerfSummary)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	providers := s.ready.Providers
	if providers == nil {
		providers = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"store_kind": s.ready.StoreKind,
		"providers":  providers,
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
