package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/intake"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/registry"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 16 << 20

// Submission statuses reported by POST /invoices.
const (
	StatusQueued = "queued"
	StatusScored = "scored"
	StatusStored = "stored"
)

// Dependencies wires a Handler. Pipeline and Repo are required for the
// invoice endpoints; the rest are optional.
type Dependencies struct {
	Repo     domain.Repository
	Cache    domain.Cache
	Bus      domain.EventBus
	Pipeline *pipeline.Pipeline
	Rules    *rules.Engine
	Models   *registry.Manager
	Metrics  *metrics.Manager
	Version  string

	// Async hands submitted invoices to the worker over the bus instead of
	// scoring them in the request.
	Async bool

	// AsyncTenants mirrors the worker's tenant list. When empty, submissions
	// travel on the worker's shared subscription.
	AsyncTenants []string

	// Now overrides the clock used for intake defaults.
	Now func() time.Time
}

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	pipeline *pipeline.Pipeline
	rules    *rules.Engine
	models   *registry.Manager
	version  string

	async        bool
	asyncTenants []string
	now          func() time.Time
}

// NewHandler creates a new API handler.
func NewHandler(deps Dependencies) *Handler {
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Handler{
		repo:         deps.Repo,
		cache:        deps.Cache,
		bus:          deps.Bus,
		pipeline:     deps.Pipeline,
		rules:        deps.Rules,
		models:       deps.Models,
		version:      deps.Version,
		async:        deps.Async && deps.Bus != nil,
		asyncTenants: deps.AsyncTenants,
		now:          now,
	}
}

// SubmitResponse is the response for POST /invoices.
type SubmitResponse struct {
	InvoiceID     string                     `json:"invoiceId"`
	Status        string                     `json:"status"`
	LineItemCount int                        `json:"lineItemCount"`
	Warnings      []string                   `json:"warnings,omitempty"`
	Assessment    *domain.AssessmentResponse `json:"assessment,omitempty"`
	Error         string                     `json:"error,omitempty"`
	Metadata      struct {
		TraceID  string `json:"traceId"`
		IngestMs int64  `json:"ingestMs"`
		TotalMs  int64  `json:"totalMs"`
		Version  string `json:"version"`
	} `json:"metadata"`
}

// ScoreResponse is the response for the scoring endpoints.
type ScoreResponse struct {
	Assessment *domain.RiskAssessment `json:"assessment"`
	Warnings   []string               `json:"warnings,omitempty"`
}

// SubmitInvoice handles POST /invoices: the invoice is normalized and
// stored, then either queued for the worker or scored in the request.
func (h *Handler) SubmitInvoice(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	norm, ok := h.decodeInvoice(w, r, tenantID)
	if !ok {
		return
	}

	if err := h.repo.SaveInvoice(ctx, tenantID, &norm.Invoice, norm.LineItems); err != nil {
		writeError(w, err, "save invoice")
		return
	}

	resp := SubmitResponse{
		InvoiceID:     norm.Invoice.ID,
		LineItemCount: len(norm.LineItems),
		Warnings:      norm.Warnings,
	}
	resp.Metadata.TraceID = GetTraceID(ctx)
	resp.Metadata.IngestMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	status := http.StatusCreated
	if h.enqueue(r, tenantID, norm.Invoice.ID) {
		resp.Status = StatusQueued
		status = http.StatusAccepted
	} else {
		a, err := h.pipeline.Score(ctx, tenantID, norm.Invoice, norm.LineItems, true)
		var unavailable *scoring.ModelUnavailableError
		switch {
		case errors.As(err, &unavailable):
			// The invoice is kept; it can be scored once a model is active.
			resp.Status = StatusStored
			resp.Error = err.Error()
		case err != nil:
			writeError(w, err, "score invoice")
			return
		default:
			resp.Status = StatusScored
			resp.Assessment = a.ToResponse()
		}
	}

	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	writeJSON(w, status, resp)
}

// enqueue publishes the invoice to the worker when async scoring covers the
// tenant. It reports false when the caller should score synchronously.
func (h *Handler) enqueue(r *http.Request, tenantID, invoiceID string) bool {
	if !h.async {
		return false
	}

	route := tenantID
	if len(h.asyncTenants) == 0 {
		route = worker.GlobalTenant
	} else if !slices.Contains(h.asyncTenants, tenantID) {
		return false
	}

	event := bus.InvoiceSubmitted{InvoiceID: invoiceID, TenantID: tenantID, Persist: true}
	if err := bus.PublishJSON(r.Context(), h.bus, route, domain.TopicInvoiceSubmitted, event); err != nil {
		slog.Error("failed to queue invoice, scoring inline",
			"invoice_id", invoiceID,
			"tenant_id", tenantID,
			"error", err,
		)
		return false
	}
	return true
}

// ScoreInline handles POST /invoices/score. The invoice itself is not
// stored; the assessment is persisted unless ?persist=false.
func (h *Handler) ScoreInline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	norm, ok := h.decodeInvoice(w, r, tenantID)
	if !ok {
		return
	}

	persist := h.repo != nil && r.URL.Query().Get("persist") != "false"
	a, err := h.pipeline.Score(ctx, tenantID, norm.Invoice, norm.LineItems, persist)
	if err != nil {
		writeError(w, err, "score invoice")
		return
	}

	writeJSON(w, http.StatusOK, ScoreResponse{Assessment: a, Warnings: norm.Warnings})
}

// ScoreInvoice handles POST /invoices/{id}/score for a stored invoice.
func (h *Handler) ScoreInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	invoiceID := chi.URLParam(r, "id")

	persist := r.URL.Query().Get("persist") != "false"
	a, err := h.pipeline.ScoreStored(ctx, tenantID, invoiceID, persist)
	if err != nil {
		writeError(w, err, "score invoice")
		return
	}

	writeJSON(w, http.StatusOK, ScoreResponse{Assessment: a})
}

// ExplainInvoice handles GET /invoices/{id}/explain.
func (h *Handler) ExplainInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	invoiceID := chi.URLParam(r, "id")

	findings, err := h.pipeline.ExplainStored(ctx, tenantID, invoiceID)
	if err != nil {
		writeError(w, err, "explain invoice")
		return
	}
	if findings == nil {
		findings = []domain.Finding{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"invoiceId": invoiceID,
		"findings":  findings,
		"count":     len(findings),
	})
}

// GetInvoice retrieves a stored invoice with its line items.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	invoiceID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	inv, items, err := h.repo.GetInvoice(ctx, tenantID, invoiceID)
	if err != nil {
		writeError(w, err, "get invoice")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"invoice":   inv,
		"lineItems": items,
	})
}

// GetAssessment retrieves an assessment by ID. ?view=summary returns the
// compact response form.
func (h *Handler) GetAssessment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	assessmentID := chi.URLParam(r, "id")

	a, err := h.pipeline.Assessment(ctx, tenantID, assessmentID)
	if err != nil {
		writeError(w, err, "get assessment")
		return
	}

	if r.URL.Query().Get("view") == "summary" {
		writeJSON(w, http.StatusOK, a.ToResponse())
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready reports whether the server can score: a model must be active.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.models != nil {
		if _, ok := h.models.Registry().Active(); !ok {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"ready": "false",
				"phase": string(h.models.Phase()),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// decodeInvoice reads and normalizes an invoice body, writing a 400 on
// failure.
func (h *Handler) decodeInvoice(w http.ResponseWriter, r *http.Request, tenantID string) (*intake.Normalized, bool) {
	var req intake.InvoiceRequest
	if !decodeJSON(w, r, &req) {
		return nil, false
	}

	norm, err := req.Normalize(tenantID, h.now())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return nil, false
	}
	return norm, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"error": fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
			})
			return false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return false
	}
	return true
}

// writeError maps pipeline and repository errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error, action string) {
	var unavailable *scoring.ModelUnavailableError
	switch {
	case errors.As(err, &unavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": err.Error(),
			"code":  "model_unavailable",
		})
	case isNotFound(err):
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": err.Error(),
		})
	case errors.Is(err, repository.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	default:
		slog.Error(action+" failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": action + " failed",
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func isNotFound(err error) bool {
	return errors.Is(err, pipeline.ErrNotFound) || errors.Is(err, repository.ErrNotFound)
}
