package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// ListRules returns the loaded rules that apply to the tenant: global
// rules plus the tenant's own.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())

	if h.rules == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "rule engine not available",
		})
		return
	}

	visible := make([]*domain.RuleConfig, 0)
	for _, rule := range h.rules.GetLoadedRules() {
		if rule.TenantID == "" || rule.TenantID == tenantID {
			visible = append(visible, rule)
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": visible,
		"count": len(visible),
	})
}

// GetRule returns a rule by ID. A tenant rule shadows a global rule with
// the same ID. Stored rules that are disabled are still returned.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	if h.repo != nil {
		rule, err := h.repo.GetRuleConfig(ctx, tenantID, ruleID)
		if err == nil {
			writeJSON(w, http.StatusOK, rule)
			return
		}
		if !isNotFound(err) {
			writeError(w, err, "get rule")
			return
		}
	}

	if h.rules != nil {
		for _, rule := range h.rules.GetLoadedRules() {
			if rule.ID == ruleID && rule.TenantID == "" {
				writeJSON(w, http.StatusOK, rule)
				return
			}
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Version     string  `json:"version,omitempty"`
	Expression  string  `json:"expression"`
	Severity    string  `json:"severity,omitempty"`
	Weight      float64 `json:"weight"`
	Enabled     *bool   `json:"enabled,omitempty"`
}

// CreateRule validates a tenant rule, stores it, and reloads the engine so
// the rule applies to the next assessment.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.repo == nil || h.rules == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "rule storage not available",
		})
		return
	}

	var req CreateRuleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	severity := domain.SeverityMedium
	if req.Severity != "" {
		s, err := domain.ParseSeverity(req.Severity)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		severity = s
	}

	ruleConfig := &domain.RuleConfig{
		ID:          req.ID,
		TenantID:    tenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     req.Version,
		Expression:  req.Expression,
		Severity:    severity,
		Weight:      req.Weight,
		Enabled:     req.Enabled == nil || *req.Enabled,
	}
	if ruleConfig.Version == "" {
		ruleConfig.Version = "1.0.0"
	}

	if err := h.rules.ValidateRule(ruleConfig); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid rule: " + err.Error(),
		})
		return
	}

	if err := h.repo.SaveRuleConfig(ctx, tenantID, ruleConfig); err != nil {
		writeError(w, err, "save rule")
		return
	}

	count, err := h.reloadRules(ctx)
	if err != nil {
		slog.Error("failed to reload rules after create", "id", ruleConfig.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "rule saved but reload failed: " + err.Error(),
		})
		return
	}

	slog.Info("rule saved",
		"id", ruleConfig.ID,
		"tenant_id", tenantID,
		"version", ruleConfig.Version,
		"enabled", ruleConfig.Enabled,
		"loaded_rules", count,
	)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":        ruleConfig,
		"loadedRules": count,
	})
}

// ReloadRules reloads the built-in rules and every stored rule into the
// engine.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil || h.rules == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "rule storage not available",
		})
		return
	}

	count, err := h.reloadRules(r.Context())
	if err != nil {
		slog.Error("failed to reload rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("rules reloaded from database", "count", count)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   count,
	})
}

func (h *Handler) reloadRules(ctx context.Context) (int, error) {
	stored, err := h.repo.ListRuleConfigs(ctx, repository.AllTenants)
	if err != nil {
		return 0, err
	}
	configs := append(rules.BuiltinRules(), stored...)
	if err := h.rules.ReloadRules(configs); err != nil {
		return 0, err
	}
	return h.rules.RulesCount(), nil
}
