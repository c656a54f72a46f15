package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Pattern: MIGRATOR_[SECTION]_[KEY] (e.g., MIGRATOR_DATABASE_URL). The DB_* names
// used by existing deployments are honored as well and take precedence.
func ApplyEnvOverrides(cfg *Config) {
	// Database
	setEnvString(&cfg.Database.URL, "MIGRATOR_DATABASE_URL")
	setEnvString(&cfg.Database.Host, "MIGRATOR_DATABASE_HOST")
	setEnvInt(&cfg.Database.Port, "MIGRATOR_DATABASE_PORT")
	setEnvString(&cfg.Database.User, "MIGRATOR_DATABASE_USER")
	setEnvSecret(&cfg.Database.Password, "MIGRATOR_DATABASE_PASSWORD")
	setEnvString(&cfg.Database.Name, "MIGRATOR_DATABASE_NAME")
	setEnvString(&cfg.Database.SSLMode, "MIGRATOR_DATABASE_SSLMODE")
	setEnvDuration(&cfg.Database.ConnectTimeout, "MIGRATOR_DATABASE_CONNECT_TIMEOUT")

	setEnvString(&cfg.Database.Name, "DB_DATABASE")
	setEnvString(&cfg.Database.User, "DB_USER")
	setEnvSecret(&cfg.Database.Password, "DB_PASSWORD")
	setEnvString(&cfg.Database.Host, "DB_HOST")
	setEnvInt(&cfg.Database.Port, "DB_PORT")

	// Migrations
	setEnvString(&cfg.Migrations.Path, "MIGRATOR_MIGRATIONS_PATH")

	// Schemas
	setEnvString(&cfg.Schemas.Local, "DB_LOCAL_SCHEMA")
	setEnvString(&cfg.Schemas.Development, "DB_DEVELOPMENT_SCHEMA")
	setEnvString(&cfg.Schemas.Test, "DB_TEST_SCHEMA")
	setEnvString(&cfg.Schemas.Production, "DB_PRODUCTION_SCHEMA")

	// Run
	setEnvBool(&cfg.Run.Debug, "MIGRATOR_RUN_DEBUG")

	// Watch
	setEnvBoolPtr(&cfg.Watch.Enabled, "MIGRATOR_WATCH_ENABLED")
	setEnvDuration(&cfg.Watch.Debounce, "MIGRATOR_WATCH_DEBOUNCE")

	// History
	setEnvBoolPtr(&cfg.History.Enabled, "MIGRATOR_HISTORY_ENABLED")
	setEnvString(&cfg.History.Path, "MIGRATOR_HISTORY_PATH")

	// Observability
	setEnvBool(&cfg.Observability.Enabled, "MIGRATOR_OBSERVABILITY_ENABLED")
	setEnvString(&cfg.Observability.Address, "MIGRATOR_OBSERVABILITY_ADDRESS")
	setEnvString(&cfg.Observability.OTLPEndpoint, "MIGRATOR_OBSERVABILITY_OTLP_ENDPOINT")
}

func setEnvString(target *string, key string) {
	if val, ok := os.LookupEnv(key); ok {
		slog.Debug("applying env override", "key", key, "value", val)
		*target = val
	}
}

func setEnvSecret(target *string, key string) {
	if val, ok := os.LookupEnv(key); ok {
		slog.Debug("applying env override", "key", key, "value", "***")
		*target = val
	}
}

func setEnvInt(target *int, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = i
		}
	}
}

func setEnvBool(target *bool, key string) {
	if val, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(strings.ToLower(val))
		if err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = b
		}
	}
}

func setEnvBoolPtr(target **bool, key string) {
	if val, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(strings.ToLower(val))
		if err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = &b
		}
	}
}

func setEnvDuration(target *time.Duration, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = d
		}
	}
}
