package config

import (
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const DefaultPath = "./migrator.toml"

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, err
	}

	return finalize(&cfg)
}

// Default builds a configuration from defaults and environment overrides only.
func Default() (*Config, error) {
	return finalize(&Config{})
}

func finalize(cfg *Config) (*Config, error) {
	ApplyEnvOverrides(cfg)
	applyDefaults(cfg)
	normalize(cfg)

	if err := validateVersion(cfg); err != nil {
		return nil, err
	}
	if err := validateDatabase(cfg); err != nil {
		return nil, err
	}
	if err := validateMigrations(cfg); err != nil {
		return nil, err
	}
	if err := validateSchemas(cfg); err != nil {
		return nil, err
	}
	if err := validateWatch(cfg); err != nil {
		return nil, err
	}
	if err := validateProtected(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = 1
	}

	if strings.TrimSpace(cfg.Database.URL) == "" {
		if strings.TrimSpace(cfg.Database.Host) == "" {
			cfg.Database.Host = "localhost"
		}
		if cfg.Database.Port == 0 {
			cfg.Database.Port = 5432
		}
		if strings.TrimSpace(cfg.Database.SSLMode) == "" {
			cfg.Database.SSLMode = "disable"
		}
	}
	if cfg.Database.ConnectTimeout == 0 {
		cfg.Database.ConnectTimeout = 10 * time.Second
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 4
	}

	if strings.TrimSpace(cfg.Migrations.Path) == "" {
		cfg.Migrations.Path = "src/utils/sql"
	}
	if strings.TrimSpace(cfg.Migrations.Include) == "" {
		cfg.Migrations.Include = "*.sql"
	}

	if strings.TrimSpace(cfg.Schemas.Local) == "" {
		cfg.Schemas.Local = StageLocal
	}
	if strings.TrimSpace(cfg.Schemas.Development) == "" {
		cfg.Schemas.Development = StageDevelopment
	}
	if strings.TrimSpace(cfg.Schemas.Test) == "" {
		cfg.Schemas.Test = StageTest
	}
	if strings.TrimSpace(cfg.Schemas.Production) == "" {
		cfg.Schemas.Production = StageProduction
	}

	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 200 * time.Millisecond
	}
	if cfg.Watch.ReloadRate == 0 {
		cfg.Watch.ReloadRate = 20
	}
	if cfg.Watch.ReloadBurst == 0 {
		cfg.Watch.ReloadBurst = 10
	}

	if strings.TrimSpace(cfg.History.Path) == "" {
		cfg.History.Path = ".migrator/history.db"
	}

	if cfg.Protected.Stages == nil {
		cfg.Protected.Stages = []string{StageTest, StageProduction}
	}
	if cfg.Protected.Names == nil {
		cfg.Protected.Names = map[string]string{
			StageTest:       "test-db",
			StageProduction: "production-db",
		}
	}

	if strings.TrimSpace(cfg.Observability.Address) == "" {
		cfg.Observability.Address = "127.0.0.1:9464"
	}
	if strings.TrimSpace(cfg.Observability.ServiceName) == "" {
		cfg.Observability.ServiceName = "migrator"
	}
}

func normalize(cfg *Config) {
	cfg.Schemas.Local = strings.TrimSpace(cfg.Schemas.Local)
	cfg.Schemas.Development = strings.TrimSpace(cfg.Schemas.Development)
	cfg.Schemas.Test = strings.TrimSpace(cfg.Schemas.Test)
	cfg.Schemas.Production = strings.TrimSpace(cfg.Schemas.Production)
	cfg.Migrations.Path = strings.TrimSpace(cfg.Migrations.Path)

	stages := make([]string, 0, len(cfg.Protected.Stages))
	for _, s := range cfg.Protected.Stages {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			stages = append(stages, s)
		}
	}
	cfg.Protected.Stages = stages
}
