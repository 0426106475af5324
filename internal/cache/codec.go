package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// kv is the byte-level surface shared by every cache tier.
type kv interface {
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error
}

// AssessmentKey is the cache key of an assessment within a tenant.
func AssessmentKey(assessmentID string) string {
	return "assessment:" + assessmentID
}

func getAssessment(ctx context.Context, c kv, tenantID, assessmentID string) (*domain.RiskAssessment, error) {
	data, err := c.Get(ctx, tenantID, AssessmentKey(assessmentID))
	if err != nil || data == nil {
		return nil, err
	}

	var a domain.RiskAssessment
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode cached assessment: %w", err)
	}
	return &a, nil
}

func setAssessment(ctx context.Context, c kv, tenantID string, a *domain.RiskAssessment, ttl time.Duration) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("assessment id is required")
	}
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return c.Set(ctx, tenantID, AssessmentKey(a.ID), data, ttl)
}
