// Package model implements the statistical risk model: a standard scaler in
// front of a tree-ensemble regressor chosen by cross-validation. A trained
// model is immutable; retraining produces a new one.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/features"
)

// ArtifactVersion is the serialization format version of model artifacts.
const ArtifactVersion = 1

// ImportanceThreshold is the minimum normalized importance surfaced to
// explanations.
const ImportanceThreshold = 0.05

// ErrIncompatibleArtifact is returned when an artifact cannot be used with
// this build's feature layout or format.
var ErrIncompatibleArtifact = errors.New("incompatible model artifact")

// Algorithm names a candidate estimator.
type Algorithm string

const (
	RandomForest     Algorithm = "random_forest"
	GradientBoosting Algorithm = "gradient_boosting"
)

// TrainedModel is a fitted scaler and estimator with training metadata.
type TrainedModel struct {
	Version   string    `json:"version"`
	Algorithm Algorithm `json:"algorithm"`
	Features  []string  `json:"features"`
	Scaler    Scaler    `json:"scaler"`

	// Exactly one estimator is set, matching Algorithm.
	Forest   *Forest   `json:"forest,omitempty"`
	Boosting *Boosting `json:"boosting,omitempty"`

	// Importances are normalized to sum to one, in feature order.
	Importances []float64 `json:"importances"`

	SampleCount   int                   `json:"sampleCount"`
	ValidationMAE float64               `json:"validationMae"`
	CandidateMAE  map[Algorithm]float64 `json:"candidateMae"`
	TrainedAt     time.Time             `json:"trainedAt"`
}

// Predict returns the base risk estimate in [0,1].
func (m *TrainedModel) Predict(v features.Vector) float64 {
	x := m.Scaler.Transform(v)
	var out float64
	switch {
	case m.Forest != nil:
		out = m.Forest.Predict(x)
	case m.Boosting != nil:
		out = m.Boosting.Predict(x)
	}
	if math.IsNaN(out) {
		return 0
	}
	return math.Max(0, math.Min(1, out))
}

// Importance is a feature with its normalized importance.
type Importance struct {
	Feature string  `json:"feature"`
	Value   float64 `json:"value"`
}

// TopImportances returns importances above ImportanceThreshold, highest
// first. Ties keep feature order.
func (m *TrainedModel) TopImportances() []Importance {
	var out []Importance
	for i, v := range m.Importances {
		if v > ImportanceThreshold && i < len(m.Features) {
			out = append(out, Importance{Feature: m.Features[i], Value: v})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Value > out[j].Value })
	return out
}

type artifact struct {
	FormatVersion int           `json:"formatVersion"`
	Model         *TrainedModel `json:"model"`
}

// Marshal encodes the model as a versioned JSON artifact.
func Marshal(m *TrainedModel) ([]byte, error) {
	if m == nil {
		return nil, errors.New("nil model")
	}
	return json.Marshal(artifact{FormatVersion: ArtifactVersion, Model: m})
}

// Unmarshal decodes an artifact produced by Marshal. It rejects unknown
// format versions and feature layouts that differ from the current
// extractor.
func Unmarshal(data []byte) (*TrainedModel, error) {
	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode model artifact: %w", err)
	}
	if a.FormatVersion != ArtifactVersion {
		return nil, fmt.Errorf("%w: format version %d", ErrIncompatibleArtifact, a.FormatVersion)
	}
	if a.Model == nil {
		return nil, fmt.Errorf("%w: empty model", ErrIncompatibleArtifact)
	}
	if !slices.Equal(a.Model.Features, features.Names()) {
		return nil, fmt.Errorf("%w: feature layout changed", ErrIncompatibleArtifact)
	}
	if a.Model.Forest == nil && a.Model.Boosting == nil {
		return nil, fmt.Errorf("%w: no estimator", ErrIncompatibleArtifact)
	}
	return a.Model, nil
}
