package domain

import (
	"time"
)

// RiskLevel is the coarse bucket derived from the numeric score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Risk level thresholds on the 0-100 score.
const (
	MediumRiskThreshold = 30.0
	HighRiskThreshold   = 70.0
)

// LevelForScore maps a score to its risk level.
func LevelForScore(score float64) RiskLevel {
	switch {
	case score >= HighRiskThreshold:
		return RiskHigh
	case score >= MediumRiskThreshold:
		return RiskMedium
	default:
		return RiskLow
	}
}

// RiskAssessment is the complete scoring result for an invoice.
// It is immutable once returned.
type RiskAssessment struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	InvoiceID string    `json:"invoiceId"`
	Score     float64   `json:"score"`
	Level     RiskLevel `json:"level"`
	CreatedAt time.Time `json:"createdAt"`

	// BaseScore is the model estimate scaled to 0-100.
	BaseScore float64 `json:"baseScore"`

	// HeuristicAdjustment is the capped sum of finding weights.
	HeuristicAdjustment float64 `json:"heuristicAdjustment"`

	Findings        []Finding        `json:"findings"`
	Factors         []Factor         `json:"factors"`
	Recommendations []Recommendation `json:"recommendations"`

	Metadata AssessmentMetadata `json:"metadata"`
}

// FactorSource distinguishes heuristic factors from model factors.
type FactorSource string

const (
	FactorHeuristic FactorSource = "heuristic"
	FactorModel     FactorSource = "model"
)

// Factor is a ranked contributor to the final score.
type Factor struct {
	Rank        int          `json:"rank"`
	Source      FactorSource `json:"source"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Severity    Severity     `json:"severity,omitempty"`

	// Impact is the estimated contribution in score points.
	Impact float64 `json:"impact"`

	// Importance is the model feature importance (model factors only).
	Importance float64 `json:"importance,omitempty"`
}

// Priority orders recommendations.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank returns an integer rank for comparison (Low=1, High=3).
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// Recommendation is a reviewer-facing action.
type Recommendation struct {
	Action   string      `json:"action"`
	Priority Priority    `json:"priority"`
	Source   FindingType `json:"source,omitempty"`
}

// AssessmentMetadata describes how the assessment was produced and how
// much it can be trusted.
type AssessmentMetadata struct {
	TraceID       string  `json:"traceId,omitempty"`
	ModelVersion  string  `json:"modelVersion"`
	Algorithm     string  `json:"algorithm"`
	ValidationMAE float64 `json:"validationMae"`

	// Confidence is in [0,1]; it drops with model error and sparse history.
	Confidence float64 `json:"confidence"`

	HistoryAvailable bool `json:"historyAvailable"`
	HistoryCount     int  `json:"historyCount"`
	LowConfidence    bool `json:"lowConfidence"`

	FindingsCount  int    `json:"findingsCount"`
	RulesEvaluated int    `json:"rulesEvaluated"`
	TotalMs        int64  `json:"totalMs"`
	EngineVersion  string `json:"engineVersion"`
}

// AssessmentResponse is the API response for an invoice assessment.
type AssessmentResponse struct {
	AssessmentID    string             `json:"assessmentId"`
	InvoiceID       string             `json:"invoiceId"`
	TenantID        string             `json:"tenantId"`
	Score           float64            `json:"score"`
	Level           RiskLevel          `json:"level"`
	Reasons         []string           `json:"reasons,omitempty"`
	Recommendations []Recommendation   `json:"recommendations,omitempty"`
	Metadata        AssessmentMetadata `json:"metadata"`
}

// ToResponse converts an assessment to an API response.
func (a *RiskAssessment) ToResponse() *AssessmentResponse {
	var reasons []string
	for _, f := range a.Findings {
		reasons = append(reasons, f.Description)
	}

	return &AssessmentResponse{
		AssessmentID:    a.ID,
		InvoiceID:       a.InvoiceID,
		TenantID:        a.TenantID,
		Score:           a.Score,
		Level:           a.Level,
		Reasons:         reasons,
		Recommendations: a.Recommendations,
		Metadata:        a.Metadata,
	}
}
