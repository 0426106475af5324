package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
)

type memStore struct {
	mu        sync.Mutex
	artifacts []*domain.ModelArtifact
	records   []domain.TrainingRecord
	saveErr   error
}

func (s *memStore) SaveModelArtifact(_ context.Context, a *domain.ModelArtifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.artifacts = append(s.artifacts, a)
	return nil
}

func (s *memStore) LatestModelArtifact(_ context.Context) (*domain.ModelArtifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.artifacts) == 0 {
		return nil, nil
	}
	return s.artifacts[len(s.artifacts)-1], nil
}

func (s *memStore) ListTrainingRecords(_ context.Context, _ string, limit int) ([]domain.TrainingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > 0 && limit < len(s.records) {
		return s.records[:limit], nil
	}
	return s.records, nil
}

func records(n int) []domain.TrainingRecord {
	out := make([]domain.TrainingRecord, n)
	for i := range out {
		hours := float64(1 + i%20)
		out[i] = domain.TrainingRecord{
			Invoice:   domain.Invoice{ID: fmt.Sprintf("inv-%d", i)},
			LineItems: []domain.LineItem{{Description: "Draft brief", Hours: hours, Rate: 250}},
			Label:     hours / 20,
		}
	}
	return out
}

func trainingConfig() domain.TrainingConfig {
	return domain.TrainingConfig{MaxValidationMAE: 0.35, Folds: 5, Seed: 42}
}

func TestRegistryStates(t *testing.T) {
	r := New()
	assert.Equal(t, NotTrained, r.State().Kind)
	_, ok := r.Active()
	assert.False(t, ok)

	r.MarkFailed("boom")
	s := r.State()
	assert.Equal(t, TrainingFailed, s.Kind)
	assert.Equal(t, "boom", s.Reason)

	m := &model.TrainedModel{Version: "v1"}
	assert.Nil(t, r.Swap(m))
	active, ok := r.Active()
	require.True(t, ok)
	assert.Same(t, m, active)

	r.MarkFailed("later failure")
	assert.Equal(t, Ready, r.State().Kind, "an active model survives failed training")

	next := &model.TrainedModel{Version: "v2"}
	assert.Same(t, m, r.Swap(next))
}

func TestTrainInsufficientDataIsNoOp(t *testing.T) {
	store := &memStore{}
	mgr := NewManager(New(), store, trainingConfig(), nil)

	first, err := mgr.Train(context.Background(), records(12))
	require.NoError(t, err)
	require.True(t, first.Success)

	before, ok := mgr.Registry().Active()
	require.True(t, ok)
	beforeBytes, err := model.Marshal(before)
	require.NoError(t, err)

	result, err := mgr.Train(context.Background(), records(9))
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 9, result.SampleCount)
	assert.Contains(t, result.Reason, "insufficient")
	assert.Equal(t, PhaseFailedNoOp, mgr.Phase())

	after, ok := mgr.Registry().Active()
	require.True(t, ok)
	assert.Same(t, before, after)
	afterBytes, err := model.Marshal(after)
	require.NoError(t, err)
	assert.Equal(t, beforeBytes, afterBytes)
	assert.Len(t, store.artifacts, 1)
}

func TestTrainWithoutPriorModelMarksFailure(t *testing.T) {
	mgr := NewManager(New(), nil, trainingConfig(), nil)

	result, err := mgr.Train(context.Background(), records(3))
	require.NoError(t, err)
	assert.False(t, result.Success)

	state := mgr.Registry().State()
	assert.Equal(t, TrainingFailed, state.Kind)
	assert.NotEmpty(t, state.Reason)
}

func TestTrainSuccessSwapsAndPersists(t *testing.T) {
	store := &memStore{}
	mgr := NewManager(New(), store, trainingConfig(), nil)
	assert.Equal(t, PhaseUntrained, mgr.Phase())

	result, err := mgr.Train(context.Background(), records(20))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 20, result.SampleCount)
	assert.LessOrEqual(t, result.Metric, 0.35)
	assert.Len(t, result.Candidates, 2)
	assert.Equal(t, PhaseActive, mgr.Phase())

	active, ok := mgr.Registry().Active()
	require.True(t, ok)
	assert.Equal(t, result.Version, active.Version)

	require.Len(t, store.artifacts, 1)
	assert.Equal(t, result.Version, store.artifacts[0].Version)

	last, ok := mgr.LastResult()
	require.True(t, ok)
	assert.Equal(t, result, last)
}

func TestTrainRejectsPoorValidation(t *testing.T) {
	cfg := trainingConfig()
	cfg.MaxValidationMAE = 1e-9
	mgr := NewManager(New(), nil, cfg, nil)

	result, err := mgr.Train(context.Background(), records(20))
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Reason, "exceeds limit")
	_, ok := mgr.Registry().Active()
	assert.False(t, ok)
}

func TestTrainPersistenceFailurePropagates(t *testing.T) {
	store := &memStore{saveErr: errors.New("disk full")}
	mgr := NewManager(New(), store, trainingConfig(), nil)

	result, err := mgr.Train(context.Background(), records(20))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.False(t, result.Success)
	_, ok := mgr.Registry().Active()
	assert.False(t, ok, "model is not activated when it cannot be persisted")
}

func TestTrainSerialized(t *testing.T) {
	mgr := NewManager(New(), nil, trainingConfig(), nil)
	mgr.trainMu.Lock()
	defer mgr.trainMu.Unlock()

	_, err := mgr.Train(context.Background(), records(20))
	assert.ErrorIs(t, err, ErrTrainingInProgress)
}

func TestTrainFromCorpusAndLoadLatest(t *testing.T) {
	store := &memStore{records: records(15)}
	mgr := NewManager(New(), store, trainingConfig(), nil)

	result, err := mgr.TrainFromCorpus(context.Background())
	require.NoError(t, err)
	require.True(t, result.Success)

	restarted := NewManager(New(), store, trainingConfig(), nil)
	loaded, err := restarted.LoadLatest(context.Background())
	require.NoError(t, err)
	require.True(t, loaded)

	active, ok := restarted.Registry().Active()
	require.True(t, ok)
	assert.Equal(t, result.Version, active.Version)
	assert.Equal(t, PhaseActive, restarted.Phase())
}

func TestLoadLatestWithoutArtifact(t *testing.T) {
	mgr := NewManager(New(), &memStore{}, trainingConfig(), nil)
	loaded, err := mgr.LoadLatest(context.Background())
	require.NoError(t, err)
	assert.False(t, loaded)
}
