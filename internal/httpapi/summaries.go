package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ent0n29/echoverse/internal/store"
	"github.com/ent0n29/echoverse/internal/summary"
)

// generateRequest accepts the legacy chatId/conversation field names as well.
type generateRequest struct {
	ConversationKey string `json:"conversationKey"`
	ChatID          string `json:"chatId"`
	Transcript      string `json:"transcript"`
	Conversation    string `json:"conversation"`
	ForceRegenerate bool   `json:"forceRegenerate"`
}

func (r generateRequest) toSummaryRequest() summary.Request {
	key := r.ConversationKey
	if strings.TrimSpace(key) == "" {
		key = r.ChatID
	}
	transcript := r.Transcript
	if strings.TrimSpace(transcript) == "" {
		transcript = r.Conversation
	}
	return summary.Request{
		ConversationKey: key,
		Transcript:      transcript,
		ForceRegenerate: r.ForceRegenerate,
	}
}

type generateResponse struct {
	Text          string     `json:"text"`
	Source        string     `json:"source"`
	IsPlaceholder bool       `json:"isPlaceholder"`
	Provider      string     `json:"provider,omitempty"`
	CreatedAt     *time.Time `json:"createdAt,omitempty"`
	RequestID     string     `json:"requestId"`
}

type lookupRequest struct {
	ConversationKeys *[]string `json:"conversationKeys"`
	ChatIDs          *[]string `json:"chatIds"`
}

type summaryView struct {
	ConversationKey string    `json:"conversationKey"`
	Text            string    `json:"text"`
	Source          string    `json:"source"`
	IsPlaceholder   bool      `json:"isPlaceholder"`
	CreatedAt       time.Time `json:"createdAt"`
}

type lookupResponse struct {
	Summaries []summaryView `json:"summaries"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set("X-Request-ID", requestID)

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req generateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	ctx := summary.WithRequestID(r.Context(), requestID)
	res, err := s.summarizer.Generate(ctx, req.toSummaryRequest())
	switch {
	case errors.Is(err, summary.ErrInvalidRequest):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// The caller went away; generation keeps running in the background.
		s.log.Debug().Str("request_id", requestID).Err(err).Msg("caller left before summary was ready")
		respondError(w, http.StatusServiceUnavailable, "request_cancelled", err.Error())
		return
	case err != nil:
		s.log.Error().Str("request_id", requestID).Err(err).Msg("summary generation failed")
		respondError(w, http.StatusInternalServerError, "internal_error", "summary generation failed")
		return
	}

	out := generateResponse{
		Text:          res.Text,
		Source:        string(res.Source),
		IsPlaceholder: res.Placeholder,
		Provider:      res.Provider,
		RequestID:     requestID,
	}
	if !res.CreatedAt.IsZero() {
		created := res.CreatedAt
		out.CreatedAt = &created
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req lookupRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "conversationKeys must be an array of strings")
		return
	}
	keys := req.ConversationKeys
	if keys == nil {
		keys = req.ChatIDs
	}
	if keys == nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "conversationKeys is required")
		return
	}

	records, err := s.summarizer.Lookup(r.Context(), *keys)
	if err != nil {
		s.metrics.ObserveStoreError("lookup")
		s.log.Error().Err(err).Int("keys", len(*keys)).Msg("summary lookup failed")
		respondError(w, http.StatusInternalServerError, "store_error", "summary lookup failed")
		return
	}

	out := lookupResponse{Summaries: make([]summaryView, 0, len(records))}
	for _, rec := range records {
		out.Summaries = append(out.Summaries, viewOf(rec))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	rec, err := s.summarizer.Get(r.Context(), chi.URLParam(r, "key"))
	switch {
	case errors.Is(err, summary.ErrInvalidRequest):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "summary_not_found", err.Error())
		return
	case err != nil:
		s.metrics.ObserveStoreError("get")
		s.log.Error().Err(err).Msg("summary read failed")
		respondError(w, http.StatusInternalServerError, "store_error", "summary read failed")
		return
	}
	respondJSON(w, http.StatusOK, viewOf(rec))
}

func viewOf(rec store.Record) summaryView {
	source := string(rec.Origin)
	if source == "" {
		source = string(store.OriginProviderA)
		if rec.Placeholder {
			source = string(store.OriginFallback)
		}
	}
	return summaryView{
		ConversationKey: rec.Key,
		Text:            rec.Text,
		Source:          source,
		IsPlaceholder:   rec.Placeholder,
		CreatedAt:       rec.CreatedAt,
	}
}
