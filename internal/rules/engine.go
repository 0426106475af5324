// Package rules provides the CEL-Go based custom rule engine. Rules are
// tenant-configured expressions over the invoice feature vector; a rule that
// fires becomes a custom_rule finding.
package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
)

// Engine is the CEL-based rule evaluation engine.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// NewEngine creates a new rule evaluation engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	opts := []cel.EnvOption{
		cel.Variable("features", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable("vendor_id", cel.StringType),
		cel.Variable("matter_id", cel.StringType),
		cel.Variable("practice_area", cel.StringType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("history_count", cel.IntType),
		cel.Variable("history_mean_amount", cel.DoubleType),
	}
	// Every feature is also a top-level double variable.
	for _, name := range features.Names() {
		opts = append(opts, cel.Variable(name, cel.DoubleType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
		maxWorkers:    maxWorkers,
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg *domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.compiledRules[ruleKey(cfg)] = compiled

	return nil
}

// LoadRules compiles and loads multiple rules. Disabled rules are skipped.
func (e *Engine) LoadRules(configs []*domain.RuleConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// EvaluateInput holds the invoice data for rule evaluation.
type EvaluateInput struct {
	TenantID     string
	InvoiceID    string
	VendorID     string
	MatterID     string
	PracticeArea string
	Currency     string
	Features     features.Vector
	History      *domain.HistorySummary
}

// Evaluation is the outcome of running the loaded rules on one invoice.
type Evaluation struct {
	Results  []domain.RuleResult
	Findings []domain.Finding
}

// EvaluateAll evaluates the loaded rules that apply to the input's tenant in
// parallel. Results are ordered by rule ID. Evaluation errors are recorded on
// the result and never fire the rule.
func (e *Engine) EvaluateAll(ctx context.Context, input *EvaluateInput) Evaluation {
	e.mu.RLock()
	byID := make(map[string]*CompiledRule)
	for _, rule := range e.compiledRules {
		tenant := rule.Config.TenantID
		if tenant != "" && tenant != input.TenantID {
			continue
		}
		// A tenant rule replaces a global rule with the same ID.
		if prev, ok := byID[rule.Config.ID]; ok && prev.Config.TenantID != "" {
			continue
		}
		byID[rule.Config.ID] = rule
	}
	e.mu.RUnlock()

	rules := make([]*CompiledRule, 0, len(byID))
	for _, rule := range byID {
		rules = append(rules, rule)
	}

	if len(rules) == 0 {
		return Evaluation{}
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Config.ID < rules[j].Config.ID })

	activation := buildActivation(input)

	// Parallel evaluation using worker pool pattern
	results := make([]domain.RuleResult, len(rules))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			results[idx] = e.evaluateRule(ctx, r, activation)
		}(i, rule)
	}

	wg.Wait()

	out := Evaluation{Results: results}
	for i, r := range results {
		if r.Fired {
			out.Findings = append(out.Findings, finding(rules[i].Config, r))
		}
	}
	return out
}

func buildActivation(input *EvaluateInput) map[string]any {
	fm := input.Features.Map()
	activation := map[string]any{
		"features":            fm,
		"vendor_id":           input.VendorID,
		"matter_id":           input.MatterID,
		"practice_area":       input.PracticeArea,
		"currency":            input.Currency,
		"history_count":       int64(0),
		"history_mean_amount": 0.0,
	}
	if input.History != nil {
		activation["history_count"] = int64(input.History.Count)
		activation["history_mean_amount"] = input.History.MeanAmount
	}
	for _, name := range features.Names() {
		activation[name] = fm[name]
	}
	return activation
}

// evaluateRule evaluates a single rule and returns the result.
func (e *Engine) evaluateRule(_ context.Context, rule *CompiledRule, activation map[string]any) domain.RuleResult {
	start := time.Now()

	result := domain.RuleResult{RuleID: rule.Config.ID}

	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		result.Error = fmt.Sprintf("evaluation error: %v", err)
		result.ProcessMs = time.Since(start).Milliseconds()
		return result
	}

	result.Value = toValue(out)
	result.Fired = result.Value > 0
	result.ProcessMs = time.Since(start).Milliseconds()

	return result
}

func finding(cfg *domain.RuleConfig, r domain.RuleResult) domain.Finding {
	severity := cfg.Severity
	if severity.Rank() == 0 {
		severity = domain.SeverityMedium
	}
	desc := cfg.Name
	if desc == "" {
		desc = cfg.ID
	}
	if cfg.Description != "" {
		desc += ": " + cfg.Description
	}
	return domain.Finding{
		Type:        domain.FindingCustomRule,
		Severity:    severity,
		Description: desc,
		Weight:      cfg.Weight,
		Detector:    "rule:" + cfg.ID,
		RuleID:      cfg.ID,
	}
}

// toValue converts a CEL value to a number.
func toValue(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// ReloadRules clears all existing rules and loads new ones.
// This enables hot-reloading of rules from the database.
func (e *Engine) ReloadRules(configs []*domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[ruleKey(cfg)] = compiled
	}

	e.compiledRules = newRules

	return nil
}

// GetLoadedRules returns the currently loaded rule configurations ordered by
// tenant and ID.
func (e *Engine) GetLoadedRules() []*domain.RuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.RuleConfig, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Config)
	}
	sort.Slice(rules, func(i, j int) bool { return ruleKey(rules[i]) < ruleKey(rules[j]) })
	return rules
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

// ruleKey scopes rule IDs by tenant; global rules have an empty tenant.
func ruleKey(cfg *domain.RuleConfig) string {
	return cfg.TenantID + "/" + cfg.ID
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("rule id is required")
	}
	if cfg.Weight < 0 {
		return nil, fmt.Errorf("rule %s: weight must not be negative", cfg.ID)
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
