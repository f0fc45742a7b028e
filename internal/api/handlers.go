// Package api exposes the HTTP review surface: the only path by which a
// human approves a draft.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"example.com/worklog/internal/auth"
	"example.com/worklog/internal/domain"
	"example.com/worklog/internal/export"
	"example.com/worklog/internal/persistence"
	"example.com/worklog/internal/submission"
)

// Submitter runs a submission pass for a draft.
type Submitter interface {
	Submit(ctx context.Context, key string) (*submission.Report, error)
}

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service   *domain.Service
	submitter Submitter
	logger    *slog.Logger
}

// Option customises the Handler.
type Option func(*Handler)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, submitter Submitter, opts ...Option) *Handler {
	h := &Handler{service: service, submitter: submitter, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", healthz)
	mux.HandleFunc("GET /v1/drafts", h.listDrafts)
	mux.HandleFunc("GET /v1/drafts/{key}", h.getDraft)
	mux.HandleFunc("PATCH /v1/drafts/{key}/entries/{entryID}", h.editEntry)
	mux.HandleFunc("POST /v1/drafts/{key}/approve", h.approve)
	mux.HandleFunc("POST /v1/drafts/{key}/reopen", h.reopen)
	mux.HandleFunc("POST /v1/drafts/{key}/submit", h.submit)
	mux.HandleFunc("GET /v1/drafts/{key}/timesheet.xlsx", h.timesheet)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, scope string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	if !claims.HasScope(scope) {
		writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
		return nil, false
	}
	return claims, true
}

func (h *Handler) listDrafts(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r, auth.ScopeDraftsRead); !ok {
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			if parsed > 100 {
				parsed = 100
			}
			limit = parsed
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	drafts, next, err := h.service.ListDrafts(r.Context(), cursor, limit)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	items := make([]DraftView, 0, len(drafts))
	for _, d := range drafts {
		items = append(items, toDraftView(d, false))
	}
	writeJSON(w, http.StatusOK, ListDraftsResponse{Items: items, NextCursor: persistence.EncodeCursor(next)})
}

func (h *Handler) getDraft(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r, auth.ScopeDraftsRead); !ok {
		return
	}
	draft, err := h.service.GetDraft(r.Context(), r.PathValue("key"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDraftView(*draft, true))
}

func (h *Handler) editEntry(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r, auth.ScopeDraftsReview); !ok {
		return
	}

	var req EditEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if req.Category == nil && req.DurationMinutes == nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "category or duration_minutes is required")
		return
	}

	draft, err := h.service.EditEntry(r.Context(), r.PathValue("key"), r.PathValue("entryID"), req.toInput())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDraftView(*draft, true))
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.authorize(w, r, auth.ScopeDraftsReview)
	if !ok {
		return
	}
	draft, err := h.service.Approve(r.Context(), r.PathValue("key"), claims.Subject)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.logger.Info("draft approved", slog.String("draft_key", draft.Key), slog.String("approver", claims.Subject))
	writeJSON(w, http.StatusOK, toDraftView(*draft, true))
}

func (h *Handler) reopen(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r, auth.ScopeDraftsReview); !ok {
		return
	}
	draft, err := h.service.Reopen(r.Context(), r.PathValue("key"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDraftView(*draft, true))
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r, auth.ScopeDraftsSubmit); !ok {
		return
	}
	if h.submitter == nil {
		writeError(w, http.StatusServiceUnavailable, "submission_disabled", "no ticketing system configured")
		return
	}
	report, err := h.submitter.Submit(r.Context(), r.PathValue("key"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	status := http.StatusOK
	if report.Failed > 0 {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, report)
}

func (h *Handler) timesheet(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r, auth.ScopeDraftsRead); !ok {
		return
	}
	draft, err := h.service.GetDraft(r.Context(), r.PathValue("key"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteTimesheet(&buf, *draft); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.Filename(*draft)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// writeDomainError maps the domain error taxonomy to HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var (
		violation *domain.ApprovalViolationError
		storeErr  *domain.PersistenceError
	)
	switch {
	case errors.Is(err, domain.ErrDraftNotFound), errors.Is(err, domain.ErrEntryNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.As(err, &violation):
		writeError(w, http.StatusConflict, "approval_required", err.Error())
	case errors.Is(err, domain.ErrSubmissionInProgress):
		writeError(w, http.StatusConflict, "submission_in_progress", err.Error())
	case errors.Is(err, domain.ErrDraftExists), errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, domain.ErrInvalidCategory), errors.Is(err, domain.ErrInvalidDuration), errors.Is(err, domain.ErrApproverRequired):
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "timeout", err.Error())
	case errors.As(err, &storeErr):
		h.logger.Error("draft store failure", slog.Any("error", err))
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "draft store unavailable")
	default:
		h.logger.Error("unhandled error", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
