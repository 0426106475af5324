package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/registry"
)

// trainTimeout bounds a background training run.
const trainTimeout = 30 * time.Minute

// ModelInfo describes the active model.
type ModelInfo struct {
	Version       string                      `json:"version"`
	Algorithm     model.Algorithm             `json:"algorithm"`
	SampleCount   int                         `json:"sampleCount"`
	ValidationMAE float64                     `json:"validationMae"`
	CandidateMAE  map[model.Algorithm]float64 `json:"candidateMae,omitempty"`
	Importances   map[string]float64          `json:"importances"`
	TrainedAt     time.Time                   `json:"trainedAt"`
}

// ModelStatusResponse is the response for GET /model.
type ModelStatusResponse struct {
	State        registry.Kind            `json:"state"`
	Phase        registry.Phase           `json:"phase"`
	Reason       string                   `json:"reason,omitempty"`
	Model        *ModelInfo               `json:"model,omitempty"`
	LastTraining *registry.TrainingResult `json:"lastTraining,omitempty"`
}

// ModelStatus reports the registry state and the last training attempt.
func (h *Handler) ModelStatus(w http.ResponseWriter, r *http.Request) {
	if h.models == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "model manager not available",
		})
		return
	}

	state := h.models.Registry().State()
	resp := ModelStatusResponse{
		State:  state.Kind,
		Phase:  h.models.Phase(),
		Reason: state.Reason,
	}
	if m := state.Model; m != nil {
		info := &ModelInfo{
			Version:       m.Version,
			Algorithm:     m.Algorithm,
			SampleCount:   m.SampleCount,
			ValidationMAE: m.ValidationMAE,
			CandidateMAE:  m.CandidateMAE,
			Importances:   make(map[string]float64, len(m.Features)),
			TrainedAt:     m.TrainedAt,
		}
		for i, name := range m.Features {
			if i < len(m.Importances) {
				info.Importances[name] = m.Importances[i]
			}
		}
		resp.Model = info
	}
	if last, ok := h.models.LastResult(); ok {
		resp.LastTraining = &last
	}

	writeJSON(w, http.StatusOK, resp)
}

// TrainModel handles POST /model/train. Training runs in the request unless
// ?async=true, in which case it is started in the background and the
// outcome is announced on the bus.
func (h *Handler) TrainModel(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())

	if h.models == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "model manager not available",
		})
		return
	}

	if r.URL.Query().Get("async") == "true" {
		if h.models.Phase() == registry.PhaseTraining {
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": registry.ErrTrainingInProgress.Error(),
			})
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), trainTimeout)
			defer cancel()
			result, err := h.models.TrainFromCorpus(ctx)
			if err != nil {
				slog.Error("background training failed", "error", err)
				return
			}
			h.announceTraining(ctx, tenantID, result)
		}()
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status": "training",
		})
		return
	}

	result, err := h.models.TrainFromCorpus(r.Context())
	if err != nil {
		if errors.Is(err, registry.ErrTrainingInProgress) {
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": err.Error(),
			})
			return
		}
		writeError(w, err, "train model")
		return
	}
	h.announceTraining(r.Context(), tenantID, result)

	if !result.Success {
		writeJSON(w, http.StatusUnprocessableEntity, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) announceTraining(ctx context.Context, tenantID string, result registry.TrainingResult) {
	if h.bus == nil {
		return
	}
	event := bus.ModelTrained{
		Success:     result.Success,
		Version:     result.Version,
		Algorithm:   result.Algorithm,
		Metric:      result.Metric,
		SampleCount: result.SampleCount,
		Reason:      result.Reason,
	}
	if err := bus.PublishJSON(ctx, h.bus, tenantID, domain.TopicModelTrained, event); err != nil {
		slog.Error("failed to publish training result", "error", err)
	}
}
