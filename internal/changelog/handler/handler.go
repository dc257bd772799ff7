// Package handler exposes the audit query API over HTTP. It is a thin layer:
// parsing and translation only, with all behavior in the query service.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"retrace/internal/changelog"
	"retrace/internal/platform/middleware"
	"retrace/pkg/apierrors"
	"retrace/pkg/requestcontext"
)

// Service defines the query operations the handler exposes.
type Service interface {
	EntityHistory(ctx context.Context, entityType, entityID string, limit int) ([]changelog.Entry, error)
	FieldHistory(ctx context.Context, entityType, entityID, field string, limit int) ([]changelog.Entry, error)
	RequestChanges(ctx context.Context, requestID string) ([]changelog.Entry, error)
	ActivitySummary(ctx context.Context, since time.Time) ([]changelog.ActivityBucket, error)
	ReconstructStateAt(ctx context.Context, entityType, entityID string, at time.Time) (map[string]any, error)
}

// Handler handles audit query endpoints.
type Handler struct {
	logger     *slog.Logger
	audit      Service
	adminToken string
}

// New creates an audit query Handler.
func New(audit Service, logger *slog.Logger, adminToken string) *Handler {
	return &Handler{logger: logger, audit: audit, adminToken: adminToken}
}

// Register mounts the audit routes with their middleware chain on r.
func (h *Handler) Register(r chi.Router) {
	auditRouter := chi.NewRouter()
	auditRouter.Use(middleware.Recovery(h.logger))
	auditRouter.Use(middleware.RequestID)
	auditRouter.Use(middleware.ClientMetadata)
	auditRouter.Use(middleware.Logger(h.logger))
	auditRouter.Use(middleware.Timeout(30 * time.Second))
	auditRouter.Use(middleware.AdminOnly(h.adminToken))

	auditRouter.Get("/audit/entities/{type}/{id}", h.handleEntityHistory)
	auditRouter.Get("/audit/entities/{type}/{id}/fields/{field}", h.handleFieldHistory)
	auditRouter.Get("/audit/entities/{type}/{id}/at", h.handleReconstruct)
	auditRouter.Get("/audit/requests/{requestID}", h.handleRequestChanges)
	auditRouter.Get("/audit/activity", h.handleActivity)

	r.Mount("/", auditRouter)
}

func (h *Handler) handleEntityHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entries, err := h.audit.EntityHistory(ctx,
		chi.URLParam(r, "type"),
		chi.URLParam(r, "id"),
		parseLimit(r),
	)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Entries: entries, Count: len(entries)})
}

func (h *Handler) handleFieldHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entries, err := h.audit.FieldHistory(ctx,
		chi.URLParam(r, "type"),
		chi.URLParam(r, "id"),
		chi.URLParam(r, "field"),
		parseLimit(r),
	)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Entries: entries, Count: len(entries)})
}

func (h *Handler) handleReconstruct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	at, err := parseTime(r.URL.Query().Get("ts"))
	if err != nil {
		h.writeError(ctx, w, apierrors.New(apierrors.CodeBadRequest, "ts must be an RFC 3339 timestamp"))
		return
	}

	entityType := chi.URLParam(r, "type")
	entityID := chi.URLParam(r, "id")
	state, err := h.audit.ReconstructStateAt(ctx, entityType, entityID, at)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, reconstructResponse{
		EntityType: entityType,
		EntityID:   entityID,
		AsOf:       at,
		State:      state,
	})
}

func (h *Handler) handleRequestChanges(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entries, err := h.audit.RequestChanges(ctx, chi.URLParam(r, "requestID"))
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Entries: entries, Count: len(entries)})
}

func (h *Handler) handleActivity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	since, err := parseTime(r.URL.Query().Get("since"))
	if err != nil {
		h.writeError(ctx, w, apierrors.New(apierrors.CodeBadRequest, "since must be an RFC 3339 timestamp"))
		return
	}

	buckets, err := h.audit.ActivitySummary(ctx, since)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, activityResponse{Activity: buckets, Since: since})
}

type historyResponse struct {
	Entries []changelog.Entry `json:"entries"`
	Count   int               `json:"count"`
}

type reconstructResponse struct {
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	AsOf       time.Time      `json:"as_of"`
	State      map[string]any `json:"state"`
}

type activityResponse struct {
	Activity []changelog.ActivityBucket `json:"activity"`
	Since    time.Time                  `json:"since"`
}

func parseLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return limit
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, errors.New("missing timestamp")
	}
	return time.Parse(time.RFC3339, raw)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError centralizes coded error translation to HTTP responses so every
// endpoint returns the same JSON error envelope.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	code := apierrors.CodeInternal
	message := "internal error"

	var coded *apierrors.Error
	if errors.As(err, &coded) {
		code = coded.Code
		message = coded.Message
	}

	if code == apierrors.CodeInternal {
		h.logger.ErrorContext(ctx, "audit query failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
	}

	writeJSON(w, apierrors.ToHTTPStatus(code), map[string]string{
		"error":   string(code),
		"message": message,
	})
}
