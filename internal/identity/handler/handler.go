// Package handler exposes the identity-resolution HTTP API.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	backfillmodels "phonegate/internal/backfill/models"
	"phonegate/internal/identity/models"
	"phonegate/internal/identity/service"
	id "phonegate/pkg/domain"
	dErrors "phonegate/pkg/domain-errors"
	"phonegate/pkg/platform/httputil"
	"phonegate/pkg/platform/middleware"
)

// Service defines the identity operations the handler fronts.
type Service interface {
	RegisterCustomer(ctx context.Context, req service.RegisterRequest) (*service.RegisterResult, error)
	ListCustomers(ctx context.Context, offset, limit int) ([]models.Summary, error)
	ListDuplicates(ctx context.Context, offset, limit int) ([]models.DuplicateRecord, error)
	RunMigration(ctx context.Context, name string) (*backfillmodels.Report, error)
}

// Handler handles the customer and admin endpoints.
type Handler struct {
	service    Service
	logger     *slog.Logger
	signingKey []byte
	throttle   func(http.Handler) http.Handler
}

// Option configures optional handler collaborators.
type Option func(*Handler)

// WithThrottle installs a middleware on the registration endpoint.
func WithThrottle(m func(http.Handler) http.Handler) Option {
	return func(h *Handler) { h.throttle = m }
}

func New(svc Service, signingKey []byte, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{service: svc, logger: logger, signingKey: signingKey}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the API routes onto the chi router.
func (h *Handler) Register(r chi.Router) {
	api := chi.NewRouter()
	api.Use(middleware.Recovery(h.logger))
	api.Use(middleware.RequestID)
	api.Use(middleware.Logger(h.logger))
	api.Use(middleware.RequireAuth(h.signingKey, h.logger))

	api.Group(func(r chi.Router) {
		if h.throttle != nil {
			r.Use(h.throttle)
		}
		r.Post("/customers", h.handleRegister)
	})
	api.Get("/customers", h.handleListCustomers)
	api.Get("/duplicates", h.handleListDuplicates)
	api.Post("/admin/migrations/{name}", h.handleRunMigration)

	r.Mount("/api", api)
}

type registerRequest struct {
	Phone      string `json:"phone"`
	OperatorID string `json:"operator_id"`
	ChannelID  string `json:"channel_id"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body registerRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	operatorID, err := id.ParseOperatorID(body.OperatorID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	channelID, err := id.ParseChannelID(body.ChannelID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.service.RegisterCustomer(ctx, service.RegisterRequest{
		Phone:      body.Phone,
		OperatorID: operatorID,
		ChannelID:  channelID,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "registration rejected", "error", err)
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Status == service.StatusDuplicate {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, result)
}

func (h *Handler) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	offset, limit := pagination(r)
	summaries, err := h.service.ListCustomers(r.Context(), offset, limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"customers": summaries})
}

type duplicateResponse struct {
	ID                   id.DuplicateID `json:"id"`
	CustomerID           id.CustomerID  `json:"customer_id"`
	TenantID             id.TenantID    `json:"tenant_id"`
	FirstOwnerOperatorID id.OperatorID  `json:"first_owner_operator_id"`
	DuplicateOperatorID  id.OperatorID  `json:"duplicate_operator_id"`
	DuplicateChannelID   id.ChannelID   `json:"duplicate_channel_id"`
	OccurredAt           string         `json:"occurred_at"`
}

func (h *Handler) handleListDuplicates(w http.ResponseWriter, r *http.Request) {
	offset, limit := pagination(r)
	records, err := h.service.ListDuplicates(r.Context(), offset, limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]duplicateResponse, len(records))
	for i, record := range records {
		out[i] = duplicateResponse{
			ID:                   record.ID,
			CustomerID:           record.CustomerID,
			TenantID:             record.TenantID,
			FirstOwnerOperatorID: record.FirstOwnerOperatorID,
			DuplicateOperatorID:  record.DuplicateOperatorID,
			DuplicateChannelID:   record.DuplicateChannelID,
			OccurredAt:           record.OccurredAt.UTC().Format(time.RFC3339),
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"duplicates": out})
}

func (h *Handler) handleRunMigration(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	report, err := h.service.RunMigration(r.Context(), name)
	if err != nil {
		h.logger.WarnContext(r.Context(), "migration rejected", "migration", name, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func pagination(r *http.Request) (offset, limit int) {
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			offset = v
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	return offset, limit
}
