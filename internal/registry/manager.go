package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/model"
)

// ErrTrainingInProgress is returned when a training run is requested while
// another is running.
var ErrTrainingInProgress = errors.New("training already in progress")

// Phase is the training manager's lifecycle phase.
type Phase string

const (
	PhaseUntrained  Phase = "untrained"
	PhaseTraining   Phase = "training"
	PhaseActive     Phase = "active"
	PhaseFailedNoOp Phase = "failed_noop"
)

// Store persists model artifacts and supplies the training corpus.
type Store interface {
	SaveModelArtifact(ctx context.Context, artifact *domain.ModelArtifact) error
	LatestModelArtifact(ctx context.Context) (*domain.ModelArtifact, error)
	ListTrainingRecords(ctx context.Context, tenantID string, limit int) ([]domain.TrainingRecord, error)
}

// TrainingResult reports the outcome of a training attempt.
type TrainingResult struct {
	Success     bool                    `json:"success"`
	Metric      float64                 `json:"metric"`
	SampleCount int                     `json:"sampleCount"`
	Algorithm   string                  `json:"algorithm,omitempty"`
	Version     string                  `json:"version,omitempty"`
	Reason      string                  `json:"reason,omitempty"`
	Phase       Phase                   `json:"phase"`
	Candidates  []model.CandidateResult `json:"candidates,omitempty"`
	DurationMs  int64                   `json:"durationMs"`
}

// Manager trains models and installs them in the registry.
type Manager struct {
	registry *Registry
	store    Store
	cfg      domain.TrainingConfig
	metrics  *metrics.Manager

	// trainMu serializes training; it is only ever TryLock'ed.
	trainMu sync.Mutex

	mu    sync.RWMutex
	phase Phase
	last  *TrainingResult
}

// NewManager creates a manager. store may be nil, in which case models are
// neither persisted nor loaded and TrainFromCorpus is unavailable.
func NewManager(reg *Registry, store Store, cfg domain.TrainingConfig, m *metrics.Manager) *Manager {
	return &Manager{
		registry: reg,
		store:    store,
		cfg:      cfg,
		metrics:  m,
		phase:    PhaseUntrained,
	}
}

// Registry returns the registry the manager installs models into.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Phase returns the current lifecycle phase.
func (m *Manager) Phase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

// LastResult returns the most recent training result.
func (m *Manager) LastResult() (TrainingResult, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.last == nil {
		return TrainingResult{}, false
	}
	return *m.last, true
}

// Train fits a model on records and, if it validates, persists it and makes
// it active. Insufficient data and validation rejection are reported in the
// result with a nil error; the previous model stays active. Persistence
// failures are returned as errors.
func (m *Manager) Train(ctx context.Context, records []domain.TrainingRecord) (TrainingResult, error) {
	if !m.trainMu.TryLock() {
		m.metrics.TrainingRun(metrics.OutcomeBusy)
		return TrainingResult{Reason: ErrTrainingInProgress.Error(), Phase: m.Phase()}, ErrTrainingInProgress
	}
	defer m.trainMu.Unlock()

	m.setPhase(PhaseTraining)
	start := time.Now()

	trained, report, err := model.Train(records, model.Options{
		Folds: m.cfg.Folds,
		Seed:  m.cfg.Seed,
	})
	result := TrainingResult{
		SampleCount: report.SampleCount,
		Candidates:  report.Candidates,
	}

	if err != nil {
		outcome := metrics.OutcomeError
		if errors.Is(err, model.ErrInsufficientData) {
			outcome = metrics.OutcomeInsufficient
		}
		return m.fail(result, outcome, err.Error(), start), nil
	}

	result.Metric = trained.ValidationMAE
	result.Algorithm = string(trained.Algorithm)
	result.Version = trained.Version

	if limit := m.cfg.MaxValidationMAE; limit > 0 && trained.ValidationMAE > limit {
		reason := fmt.Sprintf("validation MAE %.4f exceeds limit %.4f", trained.ValidationMAE, limit)
		return m.fail(result, metrics.OutcomeRejected, reason, start), nil
	}

	if err := m.persist(ctx, trained); err != nil {
		return m.fail(result, metrics.OutcomeError, err.Error(), start), err
	}

	m.install(trained)
	result.Success = true
	result.Phase = PhaseActive
	result.DurationMs = time.Since(start).Milliseconds()
	m.record(result)
	m.metrics.TrainingRun(metrics.OutcomeSuccess)

	slog.Info("model trained",
		"version", trained.Version,
		"algorithm", trained.Algorithm,
		"samples", trained.SampleCount,
		"validation_mae", trained.ValidationMAE,
		"duration_ms", result.DurationMs,
	)
	return result, nil
}

// TrainFromCorpus loads the configured corpus from the store and trains.
func (m *Manager) TrainFromCorpus(ctx context.Context) (TrainingResult, error) {
	if m.store == nil {
		return TrainingResult{Phase: m.Phase()}, errors.New("no training store configured")
	}
	records, err := m.store.ListTrainingRecords(ctx, m.cfg.CorpusTenant, m.cfg.CorpusLimit)
	if err != nil {
		return TrainingResult{Phase: m.Phase()}, fmt.Errorf("load training corpus: %w", err)
	}
	return m.Train(ctx, records)
}

// LoadLatest installs the most recently persisted artifact. It reports
// false when the store holds no usable artifact.
func (m *Manager) LoadLatest(ctx context.Context) (bool, error) {
	if m.store == nil {
		return false, nil
	}
	art, err := m.store.LatestModelArtifact(ctx)
	if err != nil {
		return false, fmt.Errorf("load model artifact: %w", err)
	}
	if art == nil {
		return false, nil
	}
	trained, err := model.Unmarshal(art.Payload)
	if err != nil {
		if errors.Is(err, model.ErrIncompatibleArtifact) {
			slog.Warn("ignoring incompatible model artifact", "version", art.Version, "error", err)
			return false, nil
		}
		return false, err
	}

	m.install(trained)
	m.setPhase(PhaseActive)
	slog.Info("model loaded", "version", trained.Version, "algorithm", trained.Algorithm)
	return true, nil
}

// Run retrains from the corpus on every tick until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := m.TrainFromCorpus(ctx)
			switch {
			case err != nil:
				slog.Error("scheduled retrain failed", "error", err)
			case !result.Success:
				slog.Warn("scheduled retrain skipped", "reason", result.Reason)
			}
		}
	}
}

func (m *Manager) persist(ctx context.Context, trained *model.TrainedModel) error {
	if m.store == nil {
		return nil
	}
	payload, err := model.Marshal(trained)
	if err != nil {
		return fmt.Errorf("encode model: %w", err)
	}
	art := &domain.ModelArtifact{
		Version:       trained.Version,
		Algorithm:     string(trained.Algorithm),
		SampleCount:   trained.SampleCount,
		ValidationMAE: trained.ValidationMAE,
		Payload:       payload,
		CreatedAt:     trained.TrainedAt,
	}
	if err := m.store.SaveModelArtifact(ctx, art); err != nil {
		return fmt.Errorf("persist model: %w", err)
	}
	return nil
}

func (m *Manager) install(trained *model.TrainedModel) {
	m.registry.Swap(trained)
	m.metrics.ModelActivated(trained.ValidationMAE, trained.SampleCount)
}

// fail records a failed attempt. The registry keeps whatever model was
// active before.
func (m *Manager) fail(result TrainingResult, outcome, reason string, start time.Time) TrainingResult {
	result.Success = false
	result.Reason = reason
	result.DurationMs = time.Since(start).Milliseconds()
	result.Phase = PhaseFailedNoOp
	m.registry.MarkFailed(reason)
	m.record(result)
	m.metrics.TrainingRun(outcome)
	slog.Warn("model training did not produce a new model", "reason", reason, "samples", result.SampleCount)
	return result
}

func (m *Manager) record(result TrainingResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = &result
	m.phase = result.Phase
}

func (m *Manager) setPhase(p Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phase = p
}
