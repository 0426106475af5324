package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars(t)

			cfg, err := config.Load()

			convey.Convey("Then it should load the community defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Tier, convey.ShouldEqual, domain.TierCommunity)
				convey.So(cfg.Server.Port, convey.ShouldEqual, 8080)
				convey.So(cfg.Repository.Driver, convey.ShouldEqual, "sqlite")
				convey.So(cfg.Cache.Type, convey.ShouldEqual, "memory")
				convey.So(cfg.EventBus.Type, convey.ShouldEqual, "channel")
				convey.So(cfg.Training.MaxValidationMAE, convey.ShouldEqual, 0.35)
				convey.So(cfg.Training.CorpusTenant, convey.ShouldEqual, "*")
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			clearConfigEnvVars(t)
			t.Setenv("KESTREL_SERVER__PORT", "9090")
			t.Setenv("KESTREL_TRAINING__MAX_VALIDATION_MAE", "0.2")
			t.Setenv("KESTREL_TRAINING__RETRAIN_INTERVAL", "6h")
			t.Setenv("KESTREL_LOGGING__LEVEL", "debug")

			cfg, err := config.Load()

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Server.Port, convey.ShouldEqual, 9090)
				convey.So(cfg.Training.MaxValidationMAE, convey.ShouldEqual, 0.2)
				convey.So(cfg.Training.RetrainInterval, convey.ShouldEqual, 6*time.Hour)
				convey.So(cfg.Logging.Level, convey.ShouldEqual, "debug")
				convey.So(cfg.Server.Host, convey.ShouldEqual, "0.0.0.0")
			})
		})

		convey.Convey("When the environment selects the pro tier", func() {
			clearConfigEnvVars(t)
			t.Setenv("KESTREL_TIER", "pro")
			t.Setenv("KESTREL_REPOSITORY__POSTGRES_HOST", "db.internal")

			cfg, err := config.Load()

			convey.Convey("Then pro defaults apply beneath the overrides", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Tier, convey.ShouldEqual, domain.TierPro)
				convey.So(cfg.Repository.Driver, convey.ShouldEqual, "postgres")
				convey.So(cfg.Repository.PostgresHost, convey.ShouldEqual, "db.internal")
				convey.So(cfg.EventBus.NATSQueueGroup, convey.ShouldEqual, "kestrel-workers")
				convey.So(cfg.Worker.Enabled, convey.ShouldBeTrue)
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			clearConfigEnvVars(t)

			path := filepath.Join(t.TempDir(), "kestrel.yaml")
			yaml := []byte(`
server:
  port: 7000
training:
  folds: 3
  corpus_tenant: tenant-001
worker:
  enabled: true
  tenant_ids:
    - tenant-001
    - tenant-002
`)
			convey.So(os.WriteFile(path, yaml, 0o600), convey.ShouldBeNil)
			t.Setenv("KESTREL_CONFIG", path)
			t.Setenv("KESTREL_SERVER__PORT", "7001")

			cfg, err := config.Load()

			convey.Convey("Then file values apply and env wins over the file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Server.Port, convey.ShouldEqual, 7001)
				convey.So(cfg.Training.Folds, convey.ShouldEqual, 3)
				convey.So(cfg.Training.CorpusTenant, convey.ShouldEqual, "tenant-001")
				convey.So(cfg.Worker.TenantIDs, convey.ShouldResemble, []string{"tenant-001", "tenant-002"})
			})
		})

		convey.Convey("When the config file does not exist", func() {
			clearConfigEnvVars(t)
			t.Setenv("KESTREL_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

			_, err := config.Load()

			convey.Convey("Then loading fails", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When settings are invalid", func() {
			clearConfigEnvVars(t)
			t.Setenv("KESTREL_SERVER__PORT", "0")
			t.Setenv("KESTREL_CACHE__TYPE", "memcached")

			_, err := config.Load()

			convey.Convey("Then every problem is reported", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "server.port")
				convey.So(err.Error(), convey.ShouldContainSubstring, "cache.type")
			})
		})
	})
}

func TestValidateDefaults(t *testing.T) {
	convey.Convey("Given the built-in tier defaults", t, func() {
		convey.So(config.Validate(domain.DefaultConfig()), convey.ShouldBeNil)
		convey.So(config.Validate(domain.ProConfig()), convey.ShouldBeNil)
	})
}

// clearConfigEnvVars blanks any KESTREL_ variables inherited from the
// environment for the duration of the test.
func clearConfigEnvVars(t *testing.T) {
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				name := kv[:i]
				if len(name) > len(config.EnvPrefix) && name[:len(config.EnvPrefix)] == config.EnvPrefix {
					t.Setenv(name, "")
					os.Unsetenv(name)
				}
				break
			}
		}
	}
}
