// Package scoring turns an invoice into a RiskAssessment. It fuses the
// active model's base estimate with heuristic and custom-rule findings, then
// ranks factors and derives reviewer recommendations.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/detect"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/registry"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// EngineVersion is stamped on every assessment.
const EngineVersion = "kestrel-1.0"

// ErrModelNotTrained is the sentinel for scoring without an active model.
var ErrModelNotTrained = errors.New("model not trained")

// ModelUnavailableError reports why no model could score. It unwraps to
// ErrModelNotTrained.
type ModelUnavailableError struct {
	State registry.State
}

func (e *ModelUnavailableError) Error() string {
	if e.State.Kind == registry.TrainingFailed {
		return fmt.Sprintf("model not trained: last training failed: %s", e.State.Reason)
	}
	return "model not trained"
}

func (e *ModelUnavailableError) Unwrap() error { return ErrModelNotTrained }

// Engine scores invoices. It is safe for concurrent use; each call captures
// the active model once and never mutates shared state.
type Engine struct {
	registry *registry.Registry
	bank     *detect.Bank
	rules    *rules.Engine
	metrics  *metrics.Manager
	tracer   trace.Tracer
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithRules enables custom rule evaluation.
func WithRules(r *rules.Engine) Option { return func(e *Engine) { e.rules = r } }

// WithMetrics records scoring metrics.
func WithMetrics(m *metrics.Manager) Option { return func(e *Engine) { e.metrics = m } }

// WithBank replaces the default detector bank.
func WithBank(b *detect.Bank) Option { return func(e *Engine) { e.bank = b } }

// WithClock overrides the assessment timestamp source.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// NewEngine creates a scoring engine reading models from reg.
func NewEngine(reg *registry.Registry, opts ...Option) *Engine {
	e := &Engine{
		registry: reg,
		bank:     detect.DefaultBank(),
		tracer:   otel.Tracer("kestrel/scoring"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ScoreRequest is one invoice to score. History is optional; without it the
// assessment is marked as lacking comparison data.
type ScoreRequest struct {
	TenantID  string
	Invoice   domain.Invoice
	LineItems []domain.LineItem
	History   *domain.HistorySummary
}

// ScoreInvoice produces a RiskAssessment. The only error it returns is a
// *ModelUnavailableError when no model is active.
func (e *Engine) ScoreInvoice(ctx context.Context, req ScoreRequest) (*domain.RiskAssessment, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "scoring.ScoreInvoice",
		trace.WithAttributes(
			attribute.String("tenant.id", req.TenantID),
			attribute.String("invoice.id", req.Invoice.ID),
			attribute.Int("invoice.line_items", len(req.LineItems)),
		))
	defer span.End()

	state := e.registry.State()
	if state.Kind != registry.Ready {
		err := &ModelUnavailableError{State: state}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.metrics.ScoringFailed("model_not_trained")
		return nil, err
	}
	m := state.Model

	inv := req.Invoice
	inv.Summarize(req.LineItems)
	vec := features.Extract(inv, req.LineItems)

	findings, rulesEvaluated := e.findings(ctx, req.TenantID, inv, req.LineItems, req.History, vec)
	comb := Combine(m.Predict(vec), findings)
	SortFindings(findings)

	confidence, low := Confidence(m.ValidationMAE, req.History)

	assessment := &domain.RiskAssessment{
		ID:                  uuid.New().String(),
		TenantID:            req.TenantID,
		InvoiceID:           inv.ID,
		Score:               comb.Score,
		Level:               comb.Level,
		CreatedAt:           e.now().UTC(),
		BaseScore:           comb.Base,
		HeuristicAdjustment: comb.Adjustment,
		Findings:            findings,
		Factors:             Factors(comb, findings, m.TopImportances()),
		Recommendations:     Recommend(findings, comb.Score, low),
		Metadata: domain.AssessmentMetadata{
			ModelVersion:     m.Version,
			Algorithm:        string(m.Algorithm),
			ValidationMAE:    m.ValidationMAE,
			Confidence:       confidence,
			HistoryAvailable: req.History.Available(),
			LowConfidence:    low,
			FindingsCount:    len(findings),
			RulesEvaluated:   rulesEvaluated,
			EngineVersion:    EngineVersion,
		},
	}
	if req.History != nil {
		assessment.Metadata.HistoryCount = req.History.Count
	}
	if sc := span.SpanContext(); sc.HasTraceID() {
		assessment.Metadata.TraceID = sc.TraceID().String()
	}
	took := time.Since(start)
	assessment.Metadata.TotalMs = took.Milliseconds()

	span.SetAttributes(
		attribute.Float64("assessment.score", assessment.Score),
		attribute.String("assessment.level", string(assessment.Level)),
		attribute.Int("assessment.findings", len(findings)),
	)

	types := make([]string, len(findings))
	for i, f := range findings {
		types[i] = string(f.Type)
	}
	e.metrics.InvoiceScored(string(assessment.Level), took, types)

	return assessment, nil
}

// Explain returns the ordered findings for an invoice. It does not need a
// model.
func (e *Engine) Explain(ctx context.Context, req ScoreRequest) []domain.Finding {
	ctx, span := e.tracer.Start(ctx, "scoring.Explain",
		trace.WithAttributes(attribute.String("invoice.id", req.Invoice.ID)))
	defer span.End()

	inv := req.Invoice
	inv.Summarize(req.LineItems)
	vec := features.Extract(inv, req.LineItems)

	findings, _ := e.findings(ctx, req.TenantID, inv, req.LineItems, req.History, vec)
	SortFindings(findings)
	return findings
}

func (e *Engine) findings(ctx context.Context, tenantID string, inv domain.Invoice, items []domain.LineItem,
	history *domain.HistorySummary, vec features.Vector) ([]domain.Finding, int) {
	findings := e.bank.Run(items, detect.Context{Invoice: inv, History: history})
	if e.rules == nil {
		return findings, 0
	}

	eval := e.rules.EvaluateAll(ctx, &rules.EvaluateInput{
		TenantID:     tenantID,
		InvoiceID:    inv.ID,
		VendorID:     inv.VendorID,
		MatterID:     inv.MatterID,
		PracticeArea: inv.PracticeArea,
		Currency:     inv.Currency,
		Features:     vec,
		History:      history,
	})
	return append(findings, eval.Findings...), len(eval.Results)
}
