package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func labelled(v float64) *float64 { return &v }

func sampleInvoice(id string, submitted time.Time) (*domain.Invoice, []domain.LineItem) {
	inv := &domain.Invoice{
		ID:           id,
		VendorID:     "vendor-001",
		MatterID:     "matter-001",
		PracticeArea: "litigation",
		TotalAmount:  3250,
		Currency:     "USD",
		SubmittedAt:  submitted,
		PeriodEnd:    submitted.AddDate(0, 0, -5),
	}
	items := []domain.LineItem{
		{
			Description:    "Draft motion to compel",
			Hours:          5,
			Rate:           450,
			Amount:         2250,
			TimekeeperName: "A. Partner",
			EntryDate:      submitted.AddDate(0, 0, -7),
			Type:           domain.ItemTypeFee,
		},
		{
			Description: "Court filing fee",
			Amount:      1000,
			EntryDate:   submitted.AddDate(0, 0, -6),
			Type:        domain.ItemTypeExpense,
		},
	}
	inv.Summarize(items)
	return inv, items
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetInvoice", func(t *testing.T) {
		inv, items := sampleInvoice("inv-001", base)

		if err := repo.SaveInvoice(ctx, tenantID, inv, items); err != nil {
			t.Fatalf("SaveInvoice failed: %v", err)
		}

		got, gotItems, err := repo.GetInvoice(ctx, tenantID, inv.ID)
		if err != nil {
			t.Fatalf("GetInvoice failed: %v", err)
		}

		if got.TenantID != tenantID {
			t.Errorf("expected TenantID %s, got %s", tenantID, got.TenantID)
		}
		if got.TotalAmount != inv.TotalAmount {
			t.Errorf("expected TotalAmount %.2f, got %.2f", inv.TotalAmount, got.TotalAmount)
		}
		if got.TotalHours != 5 {
			t.Errorf("expected TotalHours 5, got %.2f", got.TotalHours)
		}
		if !got.SubmittedAt.Equal(base) {
			t.Errorf("expected SubmittedAt %v, got %v", base, got.SubmittedAt)
		}
		if got.RiskLabel != nil {
			t.Errorf("expected no risk label, got %v", *got.RiskLabel)
		}
		if len(gotItems) != 2 {
			t.Fatalf("expected 2 line items, got %d", len(gotItems))
		}
		if gotItems[0].Description != "Draft motion to compel" {
			t.Errorf("line items out of order: %q", gotItems[0].Description)
		}
		if gotItems[1].Type != domain.ItemTypeExpense {
			t.Errorf("expected expense type, got %q", gotItems[1].Type)
		}
		if gotItems[0].InvoiceID != inv.ID {
			t.Errorf("expected InvoiceID %s, got %s", inv.ID, gotItems[0].InvoiceID)
		}
	})

	t.Run("ResaveReplacesLineItems", func(t *testing.T) {
		inv, items := sampleInvoice("inv-001", base)
		if err := repo.SaveInvoice(ctx, tenantID, inv, items[:1]); err != nil {
			t.Fatalf("SaveInvoice failed: %v", err)
		}

		_, gotItems, err := repo.GetInvoice(ctx, tenantID, inv.ID)
		if err != nil {
			t.Fatalf("GetInvoice failed: %v", err)
		}
		if len(gotItems) != 1 {
			t.Errorf("expected 1 line item after resave, got %d", len(gotItems))
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_, _, err := repo.GetInvoice(ctx, "tenant-002", "inv-001")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for other tenant, got: %v", err)
		}
	})

	t.Run("EmptyTenantRejected", func(t *testing.T) {
		inv, items := sampleInvoice("inv-x", base)
		if err := repo.SaveInvoice(ctx, "", inv, items); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
		if _, err := repo.ListTrainingRecords(ctx, "", 10); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
	})

	t.Run("ListHistoricalInvoices", func(t *testing.T) {
		for i, id := range []string{"hist-1", "hist-2", "hist-3"} {
			inv, items := sampleInvoice(id, base.AddDate(0, -(i+1), 0))
			if err := repo.SaveInvoice(ctx, tenantID, inv, items); err != nil {
				t.Fatalf("SaveInvoice failed: %v", err)
			}
		}
		other, items := sampleInvoice("hist-other-matter", base.AddDate(0, -1, 0))
		other.MatterID = "matter-999"
		if err := repo.SaveInvoice(ctx, tenantID, other, items); err != nil {
			t.Fatalf("SaveInvoice failed: %v", err)
		}

		history, err := repo.ListHistoricalInvoices(ctx, tenantID, "vendor-001", "matter-001", base)
		if err != nil {
			t.Fatalf("ListHistoricalInvoices failed: %v", err)
		}
		if len(history) != 3 {
			t.Fatalf("expected 3 historical invoices, got %d", len(history))
		}
		if history[0].ID != "hist-1" {
			t.Errorf("expected newest first, got %s", history[0].ID)
		}

		all, err := repo.ListHistoricalInvoices(ctx, tenantID, "vendor-001", "", base)
		if err != nil {
			t.Fatalf("ListHistoricalInvoices failed: %v", err)
		}
		if len(all) != 4 {
			t.Errorf("expected 4 invoices across matters, got %d", len(all))
		}

		// inv-001 is submitted exactly at base and must be excluded.
		for _, inv := range all {
			if inv.ID == "inv-001" {
				t.Error("invoice submitted at the cutoff should be excluded")
			}
		}
	})

	t.Run("ListTrainingRecords", func(t *testing.T) {
		for i, label := range []float64{0.1, 0.8} {
			inv, items := sampleInvoice("train-"+string(rune('a'+i)), base.AddDate(-1, 0, i))
			inv.RiskLabel = labelled(label)
			if err := repo.SaveInvoice(ctx, tenantID, inv, items); err != nil {
				t.Fatalf("SaveInvoice failed: %v", err)
			}
		}
		other, items := sampleInvoice("train-other", base.AddDate(-1, 0, 5))
		other.RiskLabel = labelled(0.5)
		if err := repo.SaveInvoice(ctx, "tenant-002", other, items); err != nil {
			t.Fatalf("SaveInvoice failed: %v", err)
		}
		bad, items := sampleInvoice("train-bad", base.AddDate(-1, 0, 6))
		bad.RiskLabel = labelled(1.5)
		if err := repo.SaveInvoice(ctx, tenantID, bad, items); err != nil {
			t.Fatalf("SaveInvoice failed: %v", err)
		}

		records, err := repo.ListTrainingRecords(ctx, tenantID, 0)
		if err != nil {
			t.Fatalf("ListTrainingRecords failed: %v", err)
		}
		if len(records) != 2 {
			t.Fatalf("expected 2 records for tenant, got %d", len(records))
		}
		if records[0].Label != 0.1 || records[1].Label != 0.8 {
			t.Errorf("unexpected labels: %v, %v", records[0].Label, records[1].Label)
		}
		if len(records[0].LineItems) != 2 {
			t.Errorf("expected line items loaded, got %d", len(records[0].LineItems))
		}

		pooled, err := repo.ListTrainingRecords(ctx, AllTenants, 0)
		if err != nil {
			t.Fatalf("ListTrainingRecords failed: %v", err)
		}
		if len(pooled) != 3 {
			t.Errorf("expected 3 pooled records, got %d", len(pooled))
		}

		limited, err := repo.ListTrainingRecords(ctx, AllTenants, 1)
		if err != nil {
			t.Fatalf("ListTrainingRecords failed: %v", err)
		}
		if len(limited) != 1 {
			t.Errorf("expected limit to apply, got %d", len(limited))
		}
	})

	t.Run("TrainingLimitKeepsNewest", func(t *testing.T) {
		const recent = "tenant-recent"
		for i := 0; i < 5; i++ {
			inv, items := sampleInvoice(fmt.Sprintf("recent-%d", i), base.AddDate(0, 0, i))
			inv.RiskLabel = labelled(0.1 * float64(i+1))
			if err := repo.SaveInvoice(ctx, recent, inv, items); err != nil {
				t.Fatalf("SaveInvoice failed: %v", err)
			}
		}

		records, err := repo.ListTrainingRecords(ctx, recent, 3)
		if err != nil {
			t.Fatalf("ListTrainingRecords failed: %v", err)
		}
		var ids []string
		for _, rec := range records {
			ids = append(ids, rec.Invoice.ID)
		}
		want := []string{"recent-2", "recent-3", "recent-4"}
		if strings.Join(ids, ",") != strings.Join(want, ",") {
			t.Errorf("expected newest records oldest first %v, got %v", want, ids)
		}
	})

	t.Run("SaveAndGetAssessment", func(t *testing.T) {
		a := &domain.RiskAssessment{
			ID:        "assess-001",
			TenantID:  tenantID,
			InvoiceID: "inv-001",
			Score:     62.5,
			Level:     domain.RiskMedium,
			CreatedAt: base,
			Findings: []domain.Finding{
				{Type: domain.FindingDuplicateEntry, Severity: domain.SeverityHigh, Description: "duplicate"},
			},
			Metadata: domain.AssessmentMetadata{ModelVersion: "v1", Confidence: 0.7},
		}

		if err := repo.SaveAssessment(ctx, tenantID, a); err != nil {
			t.Fatalf("SaveAssessment failed: %v", err)
		}

		got, err := repo.GetAssessment(ctx, tenantID, a.ID)
		if err != nil {
			t.Fatalf("GetAssessment failed: %v", err)
		}
		if got.Score != a.Score || got.Level != a.Level {
			t.Errorf("expected %.1f/%s, got %.1f/%s", a.Score, a.Level, got.Score, got.Level)
		}
		if len(got.Findings) != 1 || got.Findings[0].Type != domain.FindingDuplicateEntry {
			t.Errorf("findings not round-tripped: %+v", got.Findings)
		}

		if _, err := repo.GetAssessment(ctx, "tenant-002", a.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for other tenant, got: %v", err)
		}
	})

	t.Run("ModelArtifacts", func(t *testing.T) {
		latest, err := repo.LatestModelArtifact(ctx)
		if err != nil {
			t.Fatalf("LatestModelArtifact failed: %v", err)
		}
		if latest != nil {
			t.Fatalf("expected no artifact, got %s", latest.Version)
		}

		for i, version := range []string{"v1", "v2"} {
			err := repo.SaveModelArtifact(ctx, &domain.ModelArtifact{
				Version:       version,
				Algorithm:     "random_forest",
				SampleCount:   100 + i,
				ValidationMAE: 0.12,
				Payload:       []byte(`{"formatVersion":1}`),
				CreatedAt:     base.Add(time.Duration(i) * time.Hour),
			})
			if err != nil {
				t.Fatalf("SaveModelArtifact failed: %v", err)
			}
		}

		latest, err = repo.LatestModelArtifact(ctx)
		if err != nil {
			t.Fatalf("LatestModelArtifact failed: %v", err)
		}
		if latest.Version != "v2" {
			t.Errorf("expected v2, got %s", latest.Version)
		}
		if string(latest.Payload) != `{"formatVersion":1}` {
			t.Errorf("payload not round-tripped: %s", latest.Payload)
		}

		if err := repo.SaveModelArtifact(ctx, &domain.ModelArtifact{Version: "v3"}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for empty payload, got: %v", err)
		}
	})

	t.Run("SaveAndGetRuleConfig", func(t *testing.T) {
		rule := &domain.RuleConfig{
			ID:          "rule-001",
			Name:        "Large invoice",
			Description: "Invoice total above 50k",
			Version:     "1.0.0",
			Expression:  "total_amount > 50000.0",
			Severity:    domain.SeverityMedium,
			Weight:      10,
			Enabled:     true,
		}

		if err := repo.SaveRuleConfig(ctx, tenantID, rule); err != nil {
			t.Fatalf("SaveRuleConfig failed: %v", err)
		}

		got, err := repo.GetRuleConfig(ctx, tenantID, rule.ID)
		if err != nil {
			t.Fatalf("GetRuleConfig failed: %v", err)
		}
		if got.Expression != rule.Expression {
			t.Errorf("expected Expression %s, got %s", rule.Expression, got.Expression)
		}
		if got.Severity != domain.SeverityMedium {
			t.Errorf("expected medium severity, got %s", got.Severity)
		}

		rules, err := repo.ListRuleConfigs(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListRuleConfigs failed: %v", err)
		}
		if len(rules) != 1 {
			t.Errorf("expected 1 rule, got %d", len(rules))
		}
	})

	t.Run("DisabledLatestVersionRetiresRule", func(t *testing.T) {
		rule := &domain.RuleConfig{
			ID:         "rule-001",
			Name:       "Large invoice",
			Version:    "1.0.1",
			Expression: "total_amount > 50000.0",
			Severity:   domain.SeverityMedium,
			Weight:     10,
			Enabled:    false,
		}
		if err := repo.SaveRuleConfig(ctx, tenantID, rule); err != nil {
			t.Fatalf("SaveRuleConfig failed: %v", err)
		}

		rules, err := repo.ListRuleConfigs(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListRuleConfigs failed: %v", err)
		}
		if len(rules) != 0 {
			t.Errorf("expected rule retired, got %d active", len(rules))
		}

		got, err := repo.GetRuleConfig(ctx, tenantID, rule.ID)
		if err != nil {
			t.Fatalf("GetRuleConfig failed: %v", err)
		}
		if got.Enabled || got.Version != "1.0.1" {
			t.Errorf("expected disabled 1.0.1, got enabled=%v version=%s", got.Enabled, got.Version)
		}
	})

	t.Run("ListRuleConfigsAllTenants", func(t *testing.T) {
		for _, tenant := range []string{"tenant-a", "tenant-b"} {
			err := repo.SaveRuleConfig(ctx, tenant, &domain.RuleConfig{
				ID: "shared", Name: "Shared", Version: "1", Expression: "true",
				Severity: domain.SeverityLow, Weight: 5, Enabled: true,
			})
			if err != nil {
				t.Fatalf("SaveRuleConfig failed: %v", err)
			}
		}

		rules, err := repo.ListRuleConfigs(ctx, AllTenants)
		if err != nil {
			t.Fatalf("ListRuleConfigs failed: %v", err)
		}
		if len(rules) != 2 {
			t.Errorf("expected 2 rules across tenants, got %d", len(rules))
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.GetRuleConfig(ctx, tenantID, "nonexistent"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetAssessment(ctx, tenantID, "nonexistent"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}

	sqlite := &SQLRepository{driver: "sqlite"}
	if got := sqlite.rebind("SELECT ?"); got != "SELECT ?" {
		t.Errorf("sqlite rebind changed query: %q", got)
	}
}
