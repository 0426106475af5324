package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// InvoiceSubmitted is published on TopicInvoiceSubmitted after an invoice
// is stored and should be scored asynchronously. TenantID names the owning
// tenant when the event travels on a shared subscription.
type InvoiceSubmitted struct {
	InvoiceID string `json:"invoiceId"`
	TenantID  string `json:"tenantId,omitempty"`
	Persist   bool   `json:"persist"`
}

// InvoiceScored is published on TopicInvoiceScored, and on TopicInvoiceAlert
// for high-risk invoices.
type InvoiceScored struct {
	AssessmentID string           `json:"assessmentId"`
	InvoiceID    string           `json:"invoiceId"`
	Score        float64          `json:"score"`
	Level        domain.RiskLevel `json:"level"`
	Confidence   float64          `json:"confidence"`
	ModelVersion string           `json:"modelVersion"`
}

// ModelRetrain requests a retrain on TopicModelRetrain.
type ModelRetrain struct {
	Reason string `json:"reason,omitempty"`
}

// ModelTrained reports a training run on TopicModelTrained.
type ModelTrained struct {
	Success     bool    `json:"success"`
	Version     string  `json:"version,omitempty"`
	Algorithm   string  `json:"algorithm,omitempty"`
	Metric      float64 `json:"metric"`
	SampleCount int     `json:"sampleCount"`
	Reason      string  `json:"reason,omitempty"`
}

// PublishJSON encodes v and publishes it.
func PublishJSON(ctx context.Context, b domain.EventBus, tenantID, topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", topic, err)
	}
	return b.Publish(ctx, tenantID, topic, data)
}

// Decode unmarshals a message payload into v.
func Decode(msg *domain.Message, v any) error {
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s event %s: %w", msg.Topic, msg.ID, err)
	}
	return nil
}
