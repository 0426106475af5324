// Package pipeline runs the end-to-end scoring flow shared by the HTTP API
// and the async worker: history lookup, scoring, persistence, caching, and
// result events.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// ErrNotFound is returned when an invoice or assessment does not exist.
var ErrNotFound = errors.New("not found")

// Store is the subset of domain.Repository the pipeline needs.
type Store interface {
	history.Source
	GetInvoice(ctx context.Context, tenantID string, invoiceID string) (*domain.Invoice, []domain.LineItem, error)
	SaveAssessment(ctx context.Context, tenantID string, assessment *domain.RiskAssessment) error
	GetAssessment(ctx context.Context, tenantID string, assessmentID string) (*domain.RiskAssessment, error)
}

// Pipeline scores invoices and distributes the results.
type Pipeline struct {
	engine  *scoring.Engine
	history *history.Service
	store   Store
	cache   domain.Cache
	bus     domain.EventBus
	ttl     time.Duration
}

// Config wires a Pipeline. Cache and Bus are optional.
type Config struct {
	Engine        *scoring.Engine
	Store         Store
	Cache         domain.Cache
	Bus           domain.EventBus
	AssessmentTTL time.Duration
}

// New creates a pipeline.
func New(cfg Config) *Pipeline {
	ttl := cfg.AssessmentTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Pipeline{
		engine:  cfg.Engine,
		history: history.NewService(cfg.Store, cfg.Cache, ttl),
		store:   cfg.Store,
		cache:   cfg.Cache,
		bus:     cfg.Bus,
		ttl:     ttl,
	}
}

// Score assesses an invoice. With persist set, the assessment is saved,
// cached, and announced on the bus. A failed save is returned; cache and bus
// failures are only logged.
func (p *Pipeline) Score(ctx context.Context, tenantID string, inv domain.Invoice, items []domain.LineItem, persist bool) (*domain.RiskAssessment, error) {
	summary := p.summary(ctx, tenantID, inv)

	assessment, err := p.engine.ScoreInvoice(ctx, scoring.ScoreRequest{
		TenantID:  tenantID,
		Invoice:   inv,
		LineItems: items,
		History:   summary,
	})
	if err != nil {
		return nil, err
	}

	if persist {
		if err := p.persist(ctx, tenantID, assessment); err != nil {
			return nil, err
		}
	}
	return assessment, nil
}

// ScoreStored loads a stored invoice and scores it.
func (p *Pipeline) ScoreStored(ctx context.Context, tenantID, invoiceID string, persist bool) (*domain.RiskAssessment, error) {
	inv, items, err := p.load(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}
	return p.Score(ctx, tenantID, *inv, items, persist)
}

// Explain returns the ordered findings of an invoice without scoring it.
func (p *Pipeline) Explain(ctx context.Context, tenantID string, inv domain.Invoice, items []domain.LineItem) []domain.Finding {
	return p.engine.Explain(ctx, scoring.ScoreRequest{
		TenantID:  tenantID,
		Invoice:   inv,
		LineItems: items,
		History:   p.summary(ctx, tenantID, inv),
	})
}

// ExplainStored loads a stored invoice and explains it.
func (p *Pipeline) ExplainStored(ctx context.Context, tenantID, invoiceID string) ([]domain.Finding, error) {
	inv, items, err := p.load(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}
	return p.Explain(ctx, tenantID, *inv, items), nil
}

// Assessment returns a stored assessment, reading through the cache.
func (p *Pipeline) Assessment(ctx context.Context, tenantID, assessmentID string) (*domain.RiskAssessment, error) {
	if p.cache != nil {
		a, err := p.cache.GetAssessment(ctx, tenantID, assessmentID)
		if err != nil {
			slog.Warn("assessment cache read failed",
				"tenant_id", tenantID,
				"assessment_id", assessmentID,
				"error", err,
			)
		}
		if a != nil {
			return a, nil
		}
	}

	a, err := p.store.GetAssessment(ctx, tenantID, assessmentID)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("assessment %s: %w", assessmentID, ErrNotFound)
		}
		return nil, err
	}

	if p.cache != nil {
		_ = p.cache.SetAssessment(ctx, tenantID, a, p.ttl)
	}
	return a, nil
}

func (p *Pipeline) load(ctx context.Context, tenantID, invoiceID string) (*domain.Invoice, []domain.LineItem, error) {
	inv, items, err := p.store.GetInvoice(ctx, tenantID, invoiceID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil, fmt.Errorf("invoice %s: %w", invoiceID, ErrNotFound)
		}
		return nil, nil, err
	}
	return inv, items, nil
}

// summary degrades to "no history" when the lookup fails; confidence then
// reflects the missing comparison data.
func (p *Pipeline) summary(ctx context.Context, tenantID string, inv domain.Invoice) *domain.HistorySummary {
	h, err := p.history.Summary(ctx, tenantID, inv)
	if err != nil {
		slog.Warn("history lookup failed",
			"tenant_id", tenantID,
			"invoice_id", inv.ID,
			"error", err,
		)
		return nil
	}
	return h
}

func (p *Pipeline) persist(ctx context.Context, tenantID string, a *domain.RiskAssessment) error {
	if err := p.store.SaveAssessment(ctx, tenantID, a); err != nil {
		return fmt.Errorf("failed to save assessment for invoice %s: %w", a.InvoiceID, err)
	}

	if p.cache != nil {
		if err := p.cache.SetAssessment(ctx, tenantID, a, p.ttl); err != nil {
			slog.Warn("failed to cache assessment",
				"assessment_id", a.ID,
				"error", err,
			)
		}
	}

	if p.bus == nil {
		return nil
	}

	event := bus.InvoiceScored{
		AssessmentID: a.ID,
		InvoiceID:    a.InvoiceID,
		Score:        a.Score,
		Level:        a.Level,
		Confidence:   a.Metadata.Confidence,
		ModelVersion: a.Metadata.ModelVersion,
	}
	if err := bus.PublishJSON(ctx, p.bus, tenantID, domain.TopicInvoiceScored, event); err != nil {
		slog.Error("failed to publish score",
			"invoice_id", a.InvoiceID,
			"error", err,
		)
	}
	if a.Level == domain.RiskHigh {
		if err := bus.PublishJSON(ctx, p.bus, tenantID, domain.TopicInvoiceAlert, event); err != nil {
			slog.Error("failed to publish alert",
				"invoice_id", a.InvoiceID,
				"error", err,
			)
		}
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound) || errors.Is(err, ErrNotFound)
}
