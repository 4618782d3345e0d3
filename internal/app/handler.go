package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"docquery/internal/middleware"
	"docquery/internal/pipeline"
	"docquery/internal/registry"
	"docquery/internal/resilience"
	"docquery/internal/trace"
)

// Pipeline processes one document-and-questions request.
type Pipeline interface {
	ProcessRequest(ctx context.Context, url string, questions []string) ([]string, error)
}

// HealthChecker probes the shared resources.
type HealthChecker interface {
	HealthCheck(ctx context.Context) registry.Health
}

// StatsSource reports aggregate request statistics.
type StatsSource interface {
	Snapshot() trace.Stats
}

type Handler struct {
	pipeline Pipeline
	health   HealthChecker
	stats    StatsSource
	apiToken string
}

func NewHandler(pipeline Pipeline, health HealthChecker, stats StatsSource, apiToken string) *Handler {
	return &Handler{pipeline: pipeline, health: health, stats: stats, apiToken: apiToken}
}

type RunRequest struct {
	Documents string   `json:"documents"`
	Questions []string `json:"questions"`
}

type RunResponse struct {
	Answers []string `json:"answers"`
}

func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	if !h.authorized(r) {
		h.writeError(ctx, w, "UNAUTHORIZED", "invalid or missing bearer token", http.StatusUnauthorized)
		return
	}

	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, "BAD_REQUEST", "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Documents == "" {
		h.writeError(ctx, w, "BAD_REQUEST", "documents is required", http.StatusBadRequest)
		return
	}

	slog.InfoContext(ctx, "run request accepted",
		"questions", len(req.Questions), "correlationId", correlationID)

	answers, err := h.pipeline.ProcessRequest(ctx, req.Documents, req.Questions)
	if err != nil {
		code, status := classify(err)
		slog.ErrorContext(ctx, "run request failed",
			"error", err, "code", code, "correlationId", correlationID)
		h.writeError(ctx, w, code, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(RunResponse{Answers: answers}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	health := h.health.HealthCheck(ctx)

	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(health); err != nil {
		slog.ErrorContext(ctx, "failed to encode health response", "error", err)
	}
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.stats.Snapshot()); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode stats response", "error", err)
	}
}

func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) authorized(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	return ok && token == h.apiToken
}

// classify maps pipeline failures to response codes. Timeouts become 504 so
// clients can distinguish a slow upstream from a broken one.
func classify(err error) (string, int) {
	var (
		te  *resilience.TimeoutError
		ese *resilience.ExternalServiceError
		de  *resilience.DocumentError
		ve  *resilience.VectorStoreError
		rie *resilience.ResourceInitError
	)
	switch {
	case errors.Is(err, pipeline.ErrInvalidQuestionCount):
		return "BAD_REQUEST", http.StatusBadRequest
	case errors.As(err, &te):
		return "TIMEOUT", http.StatusGatewayTimeout
	case errors.As(err, &ese):
		return "UPSTREAM_ERROR", http.StatusBadGateway
	case errors.As(err, &de):
		return "DOCUMENT_ERROR", http.StatusUnprocessableEntity
	case errors.As(err, &ve):
		return "VECTOR_STORE_ERROR", http.StatusServiceUnavailable
	case errors.As(err, &rie):
		return "NOT_READY", http.StatusServiceUnavailable
	default:
		return "INTERNAL_ERROR", http.StatusInternalServerError
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
