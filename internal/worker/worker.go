// Package worker provides async invoice scoring and retraining driven by the
// EventBus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/registry"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// GlobalTenant is the subscription tenant used when no tenant list is
// configured (development and tests).
const GlobalTenant = "_global"

// ErrStopped is returned for messages delivered after Stop.
var ErrStopped = errors.New("worker stopped")

// Trainer runs corpus training on request.
type Trainer interface {
	TrainFromCorpus(ctx context.Context) (registry.TrainingResult, error)
}

// Worker scores submitted invoices and handles retrain requests.
type Worker struct {
	bus      domain.EventBus
	pipeline *pipeline.Pipeline
	trainer  Trainer

	mu            sync.Mutex
	subscriptions []domain.Subscription
	stopped       bool
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = GlobalTenant)
	TenantIDs []string
}

// NewWorker creates a new async worker. trainer may be nil, in which case
// retrain requests are not handled.
func NewWorker(eventBus domain.EventBus, p *pipeline.Pipeline, trainer Trainer) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      eventBus,
		pipeline: p,
		trainer:  trainer,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing messages for the given tenants.
func (w *Worker) Start(cfg Config) error {
	tenants := cfg.TenantIDs
	if len(tenants) == 0 {
		tenants = []string{GlobalTenant}
	}

	started := 0
	var lastErr error
	for _, tenantID := range tenants {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			lastErr = err
			continue
		}
		started++
	}

	if started == 0 {
		return lastErr
	}

	slog.Info("workers started",
		"tenant_count", started,
	)
	return nil
}

// startTenantWorker subscribes a tenant's scoring and retrain topics.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicInvoiceSubmitted, w.tracked(w.processInvoice))
	if err != nil {
		return err
	}
	w.addSubscription(sub)

	if w.trainer != nil {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicModelRetrain, w.tracked(w.processRetrain))
		if err != nil {
			return err
		}
		w.addSubscription(sub)
	}

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicInvoiceSubmitted,
	)
	return nil
}

func (w *Worker) addSubscription(sub domain.Subscription) {
	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()
}

// tracked lets Stop wait for in-flight handlers. Messages delivered once
// Stop has begun are rejected with ErrStopped.
func (w *Worker) tracked(h domain.MessageHandler) domain.MessageHandler {
	return func(ctx context.Context, msg *domain.Message) error {
		w.mu.Lock()
		if w.stopped {
			w.mu.Unlock()
			return ErrStopped
		}
		w.wg.Add(1)
		w.mu.Unlock()

		defer w.wg.Done()
		return h(ctx, msg)
	}
}

// processInvoice scores a stored invoice and answers the request when the
// publisher is waiting for the assessment.
func (w *Worker) processInvoice(ctx context.Context, msg *domain.Message) error {
	start := time.Now()
	tenantID := msg.TenantID

	var ev bus.InvoiceSubmitted
	if err := bus.Decode(msg, &ev); err != nil {
		slog.Error("failed to parse invoice message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	// Only the shared subscription may carry work for another tenant.
	if tenantID == GlobalTenant && ev.TenantID != "" {
		tenantID = ev.TenantID
	}

	slog.Debug("processing invoice",
		"invoice_id", ev.InvoiceID,
		"tenant_id", tenantID,
		"message_id", msg.ID,
	)

	assessment, err := w.pipeline.ScoreStored(ctx, tenantID, ev.InvoiceID, ev.Persist)
	if err != nil {
		var unavailable *scoring.ModelUnavailableError
		if errors.As(err, &unavailable) {
			slog.Warn("invoice not scored, no active model",
				"invoice_id", ev.InvoiceID,
				"tenant_id", tenantID,
				"reason", err.Error(),
			)
		} else {
			slog.Error("invoice scoring failed",
				"invoice_id", ev.InvoiceID,
				"tenant_id", tenantID,
				"error", err,
			)
		}
		w.reply(ctx, msg, replyError{Error: err.Error()})
		return err
	}

	w.reply(ctx, msg, assessment)

	slog.Info("invoice processed",
		"invoice_id", ev.InvoiceID,
		"tenant_id", tenantID,
		"level", assessment.Level,
		"score", assessment.Score,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// replyError is the reply body when a requested score failed.
type replyError struct {
	Error string `json:"error"`
}

func (w *Worker) reply(ctx context.Context, msg *domain.Message, v any) {
	if msg.Metadata[domain.MetadataReplyTo] == "" {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := w.bus.Reply(ctx, msg, data); err != nil {
		slog.Error("failed to reply",
			"message_id", msg.ID,
			"error", err,
		)
	}
}

// processRetrain trains from the corpus and reports the outcome on
// TopicModelTrained.
func (w *Worker) processRetrain(ctx context.Context, msg *domain.Message) error {
	var req bus.ModelRetrain
	if len(msg.Payload) > 0 {
		if err := bus.Decode(msg, &req); err != nil {
			return err
		}
	}

	slog.Info("retrain requested",
		"tenant_id", msg.TenantID,
		"reason", req.Reason,
	)

	result, err := w.trainer.TrainFromCorpus(ctx)
	if errors.Is(err, registry.ErrTrainingInProgress) {
		slog.Info("retrain skipped, training already running")
		return nil
	}

	event := bus.ModelTrained{
		Success:     result.Success,
		Version:     result.Version,
		Algorithm:   result.Algorithm,
		Metric:      result.Metric,
		SampleCount: result.SampleCount,
		Reason:      result.Reason,
	}
	if pubErr := bus.PublishJSON(ctx, w.bus, msg.TenantID, domain.TopicModelTrained, event); pubErr != nil {
		slog.Error("failed to publish training result",
			"error", pubErr,
		)
	}
	return err
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	w.stopped = true
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	// Unsubscribe all
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
