// Package config loads the Kestrel configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// EnvPrefix prefixes every configuration environment variable.
const EnvPrefix = "KESTREL_"

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. tier defaults (domain.DefaultConfig, or domain.ProConfig when the
//     file or environment selects tier "pro")
//  2. file (YAML) if KESTREL_CONFIG is set
//  3. env (prefix KESTREL_, "__" separates nested keys, e.g.
//     KESTREL_SERVER__PORT or KESTREL_TRAINING__MAX_VALIDATION_MAE)
func Load() (*domain.Config, error) {
	k := koanf.New(".")

	// Load from file if provided
	if path := os.Getenv("KESTREL_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := domain.DefaultConfig()
	if domain.Tier(strings.ToLower(k.String("tier"))) == domain.TierPro {
		cfg = domain.ProConfig()
	}

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func Validate(cfg *domain.Config) error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(cfg.Tier == domain.TierCommunity || cfg.Tier == domain.TierPro,
		"tier must be %q or %q, got %q", domain.TierCommunity, domain.TierPro, cfg.Tier)
	check(cfg.Server.Port > 0 && cfg.Server.Port < 65536,
		"server.port must be between 1 and 65535, got %d", cfg.Server.Port)

	switch cfg.Repository.Driver {
	case "sqlite":
	case "postgres":
		check(cfg.Repository.PostgresHost != "", "repository.postgres_host is required for postgres")
	default:
		errs = append(errs, fmt.Errorf("repository.driver must be sqlite or postgres, got %q", cfg.Repository.Driver))
	}

	check(cfg.Cache.Type == "memory" || cfg.Cache.Type == "redis",
		"cache.type must be memory or redis, got %q", cfg.Cache.Type)
	check(cfg.EventBus.Type == "channel" || cfg.EventBus.Type == "nats",
		"eventbus.type must be channel or nats, got %q", cfg.EventBus.Type)

	check(cfg.Training.MaxValidationMAE > 0 && cfg.Training.MaxValidationMAE <= 1,
		"training.max_validation_mae must be in (0, 1], got %g", cfg.Training.MaxValidationMAE)
	check(cfg.Training.Folds >= 2,
		"training.folds must be at least 2, got %d", cfg.Training.Folds)
	check(cfg.Training.CorpusTenant != "", "training.corpus_tenant must not be empty")
	check(cfg.Training.RetrainInterval >= 0, "training.retrain_interval must not be negative")

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be debug, info, warn or error, got %q", cfg.Logging.Level))
	}
	check(cfg.Logging.Format == "json" || cfg.Logging.Format == "text",
		"logging.format must be json or text, got %q", cfg.Logging.Format)

	return errors.Join(errs...)
}
