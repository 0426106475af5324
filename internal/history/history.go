// Package history summarizes a vendor's prior invoices for a matter. The
// summary feeds the historical spike detector, custom rules, and assessment
// confidence.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Source lists historical invoices.
type Source interface {
	ListHistoricalInvoices(ctx context.Context, tenantID, vendorID, matterID string, before time.Time) ([]*domain.Invoice, error)
}

// Service builds history summaries, caching them per invoice.
type Service struct {
	repo  Source
	cache domain.Cache
	ttl   time.Duration
	now   func() time.Time
}

// NewService creates a new history service. cache may be nil.
func NewService(repo Source, cache domain.Cache, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Service{
		repo:  repo,
		cache: cache,
		ttl:   ttl,
		now:   time.Now,
	}
}

// Summary returns the history of the invoice's vendor and matter, counting
// only invoices submitted before it. Missing history is not an error: the
// summary simply has a zero Count.
func (s *Service) Summary(ctx context.Context, tenantID string, inv domain.Invoice) (*domain.HistorySummary, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}
	if inv.VendorID == "" {
		return &domain.HistorySummary{MatterID: inv.MatterID}, nil
	}

	key := cacheKey(inv)
	if cached := s.fromCache(ctx, tenantID, key); cached != nil {
		return cached, nil
	}

	before := inv.SubmittedAt
	if before.IsZero() {
		before = s.now()
	}

	invoices, err := s.repo.ListHistoricalInvoices(ctx, tenantID, inv.VendorID, inv.MatterID, before)
	if err != nil {
		return nil, fmt.Errorf("failed to list historical invoices: %w", err)
	}

	summary := Summarize(inv.VendorID, inv.MatterID, excluding(invoices, inv.ID))
	s.toCache(ctx, tenantID, key, summary)
	return summary, nil
}

// Summarize aggregates invoices into a summary. The most recently submitted
// invoice is recorded as LastInvoice.
func Summarize(vendorID, matterID string, invoices []*domain.Invoice) *domain.HistorySummary {
	h := &domain.HistorySummary{VendorID: vendorID, MatterID: matterID}
	if len(invoices) == 0 {
		return h
	}

	var amount, hours, rate float64
	var rated int
	var last *domain.Invoice
	for _, inv := range invoices {
		amount += inv.TotalAmount
		hours += inv.TotalHours
		if inv.AverageRate > 0 {
			rate += inv.AverageRate
			rated++
		}
		if inv.TotalAmount > h.MaxAmount {
			h.MaxAmount = inv.TotalAmount
		}
		if last == nil || inv.SubmittedAt.After(last.SubmittedAt) {
			last = inv
		}
	}

	n := float64(len(invoices))
	h.Count = len(invoices)
	h.MeanAmount = amount / n
	h.MeanHours = hours / n
	if rated > 0 {
		h.MeanRate = rate / float64(rated)
	}
	h.LastInvoice = last.ID
	return h
}

func excluding(invoices []*domain.Invoice, id string) []*domain.Invoice {
	if id == "" {
		return invoices
	}
	out := invoices[:0:0]
	for _, inv := range invoices {
		if inv.ID != id {
			out = append(out, inv)
		}
	}
	return out
}

func cacheKey(inv domain.Invoice) string {
	return fmt.Sprintf("history:%s:%s:%s:%d", inv.VendorID, inv.MatterID, inv.ID, inv.SubmittedAt.Unix())
}

func (s *Service) fromCache(ctx context.Context, tenantID, key string) *domain.HistorySummary {
	if s.cache == nil {
		return nil
	}
	data, err := s.cache.Get(ctx, tenantID, key)
	if err != nil || data == nil {
		return nil
	}
	var h domain.HistorySummary
	if err := json.Unmarshal(data, &h); err != nil {
		return nil
	}
	return &h
}

func (s *Service) toCache(ctx context.Context, tenantID, key string, h *domain.HistorySummary) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(h)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, tenantID, key, data, s.ttl); err != nil {
		slog.Warn("failed to cache history summary", "tenant_id", tenantID, "error", err)
	}
}
