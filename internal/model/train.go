package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
)

// MinTrainingRecords is the smallest corpus training accepts.
const MinTrainingRecords = 10

// ErrInsufficientData is returned when fewer than MinTrainingRecords complete
// records are available.
var ErrInsufficientData = errors.New("insufficient training data")

// Options controls training.
type Options struct {
	// Folds for cross-validation; defaults to 5 and is reduced to the
	// sample count for small corpora.
	Folds int

	// Seed makes training reproducible.
	Seed uint64

	// Version overrides the generated model version.
	Version string

	Forest   ForestParams
	Boosting BoostingParams

	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Folds < 2 {
		o.Folds = 5
	}
	if o.Forest.Trees == 0 {
		o.Forest = DefaultForestParams
	}
	if o.Boosting.Trees == 0 {
		o.Boosting = DefaultBoostingParams
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// CandidateResult is the cross-validated error of one algorithm.
type CandidateResult struct {
	Algorithm Algorithm `json:"algorithm"`
	MAE       float64   `json:"mae"`
}

// Report summarizes a training run.
type Report struct {
	SampleCount int               `json:"sampleCount"`
	Skipped     int               `json:"skipped"`
	Folds       int               `json:"folds"`
	Candidates  []CandidateResult `json:"candidates"`
	Selected    Algorithm         `json:"selected"`
}

type fitFunc func(X [][]float64, y []float64, rng *rand.Rand) (predictor, []float64)

type predictor interface {
	Predict(x []float64) float64
}

type candidate struct {
	algorithm Algorithm
	fit       fitFunc
}

// Train fits the model on labelled records. Incomplete records are skipped;
// if fewer than MinTrainingRecords remain it returns ErrInsufficientData and
// no model.
func Train(records []domain.TrainingRecord, opts Options) (*TrainedModel, Report, error) {
	opts = opts.withDefaults()

	var X [][]float64
	var y []float64
	for _, rec := range records {
		if !rec.Complete() {
			continue
		}
		X = append(X, features.Extract(rec.Invoice, rec.LineItems))
		y = append(y, rec.Label)
	}

	report := Report{SampleCount: len(X), Skipped: len(records) - len(X)}
	if len(X) < MinTrainingRecords {
		return nil, report, fmt.Errorf("%w: %d complete records, need %d",
			ErrInsufficientData, len(X), MinTrainingRecords)
	}

	candidates := []candidate{
		{RandomForest, func(X [][]float64, y []float64, rng *rand.Rand) (predictor, []float64) {
			return fitForest(X, y, opts.Forest, rng)
		}},
		{GradientBoosting, func(X [][]float64, y []float64, rng *rand.Rand) (predictor, []float64) {
			return fitBoosting(X, y, opts.Boosting, rng)
		}},
	}

	report.Folds = min(opts.Folds, len(X))
	best := -1
	for i, c := range candidates {
		mae := crossValidate(X, y, report.Folds, opts.Seed, c.fit)
		report.Candidates = append(report.Candidates, CandidateResult{Algorithm: c.algorithm, MAE: mae})
		if best < 0 || mae < report.Candidates[best].MAE {
			best = i
		}
	}
	winner := candidates[best]
	report.Selected = winner.algorithm

	scaler := FitScaler(X)
	est, importances := winner.fit(scaler.TransformAll(X), y, newRand(opts.Seed))

	m := &TrainedModel{
		Version:       opts.Version,
		Algorithm:     winner.algorithm,
		Features:      features.Names(),
		Scaler:        scaler,
		Importances:   importances,
		SampleCount:   len(X),
		ValidationMAE: report.Candidates[best].MAE,
		CandidateMAE:  make(map[Algorithm]float64, len(report.Candidates)),
		TrainedAt:     opts.Now().UTC(),
	}
	if m.Version == "" {
		m.Version = uuid.NewString()
	}
	for _, c := range report.Candidates {
		m.CandidateMAE[c.Algorithm] = c.MAE
	}
	switch e := est.(type) {
	case *Forest:
		m.Forest = e
	case *Boosting:
		m.Boosting = e
	}
	return m, report, nil
}

// crossValidate returns the pooled out-of-fold mean absolute error. The
// scaler is refit on each training fold.
func crossValidate(X [][]float64, y []float64, folds int, seed uint64, fit fitFunc) float64 {
	order := newRand(seed).Perm(len(X))

	var sumAbs float64
	var count int
	for k := 0; k < folds; k++ {
		var trainX, testX [][]float64
		var trainY, testY []float64
		for pos, i := range order {
			if pos%folds == k {
				testX = append(testX, X[i])
				testY = append(testY, y[i])
			} else {
				trainX = append(trainX, X[i])
				trainY = append(trainY, y[i])
			}
		}
		if len(trainX) == 0 || len(testX) == 0 {
			continue
		}

		scaler := FitScaler(trainX)
		est, _ := fit(scaler.TransformAll(trainX), trainY, newRand(seed+uint64(k)+1))
		for i, row := range testX {
			pred := math.Max(0, math.Min(1, est.Predict(scaler.Transform(row))))
			sumAbs += math.Abs(pred - testY[i])
			count++
		}
	}
	if count == 0 {
		return math.Inf(1)
	}
	return sumAbs / float64(count)
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
