package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

type ResolvedPaths struct {
	MigrationsDir string
	UpDir         string
	DownDir       string
	HistoryPath   string
}

// ResolvePaths makes the configured paths absolute, relative to cwd.
func ResolvePaths(cfg *Config, cwd string) (ResolvedPaths, error) {
	if strings.TrimSpace(cwd) == "" {
		return ResolvedPaths{}, fmt.Errorf("cwd must not be empty")
	}

	dir := ResolveRelative(cwd, cfg.Migrations.Path)
	return ResolvedPaths{
		MigrationsDir: dir,
		UpDir:         filepath.Join(dir, "up"),
		DownDir:       filepath.Join(dir, "down"),
		HistoryPath:   ResolveRelative(cwd, cfg.History.Path),
	}, nil
}

func ResolveRelative(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return filepath.Clean(base)
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Clean(filepath.Join(base, p))
}
