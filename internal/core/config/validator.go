package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
)

// Schema names end up in migrations_<schema>, which must fit the 63 byte
// identifier limit of Postgres.
var schemaNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,51}$`)

func validateVersion(cfg *Config) error {
	if cfg.Version != 1 {
		return fmt.Errorf("unsupported config version %d; supported version is 1", cfg.Version)
	}
	return nil
}

func validateDatabase(cfg *Config) error {
	db := cfg.Database
	if strings.TrimSpace(db.URL) == "" {
		if strings.TrimSpace(db.Name) == "" {
			return fmt.Errorf("database.name must not be empty when database.url is unset")
		}
		if db.Port <= 0 || db.Port > 65535 {
			return fmt.Errorf("database.port must be between 1 and 65535, got %d", db.Port)
		}
	}
	if db.ConnectTimeout < 0 {
		return fmt.Errorf("database.connect_timeout must not be negative")
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("database.max_conns must be >= 1, got %d", db.MaxConns)
	}
	return nil
}

func validateMigrations(cfg *Config) error {
	if cfg.Migrations.Path == "" {
		return fmt.Errorf("migrations.path must not be empty")
	}
	if _, err := glob.Compile(cfg.Migrations.Include); err != nil {
		return fmt.Errorf("migrations.include %q is not a valid glob: %w", cfg.Migrations.Include, err)
	}
	return nil
}

func validateSchemas(cfg *Config) error {
	seen := make(map[string]string, len(Stages))
	for _, stage := range Stages {
		name, _ := cfg.Schemas.ForStage(stage)
		if !schemaNamePattern.MatchString(name) {
			return fmt.Errorf("schemas.%s %q is not a valid schema identifier", stage, name)
		}
		key := strings.ToLower(name)
		if other, ok := seen[key]; ok {
			return fmt.Errorf("schemas.%s and schemas.%s both use %q", other, stage, name)
		}
		seen[key] = stage
	}
	return nil
}

func validateWatch(cfg *Config) error {
	if cfg.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative")
	}
	if cfg.Watch.ReloadRate < 0 {
		return fmt.Errorf("watch.reload_rate must not be negative")
	}
	if cfg.Watch.ReloadBurst < 1 {
		return fmt.Errorf("watch.reload_burst must be >= 1, got %d", cfg.Watch.ReloadBurst)
	}
	return nil
}

func validateProtected(cfg *Config) error {
	for _, stage := range cfg.Protected.Stages {
		if _, err := cfg.Schemas.ForStage(stage); err != nil {
			return fmt.Errorf("protected.stages: %w", err)
		}
	}
	for stage := range cfg.Protected.Names {
		if _, err := cfg.Schemas.ForStage(stage); err != nil {
			return fmt.Errorf("protected.names: %w", err)
		}
	}
	return nil
}
