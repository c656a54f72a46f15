package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"migrator/internal/core/app"
	"migrator/internal/core/config"
	"migrator/internal/core/ports"
	"migrator/internal/core/watcher"
	"migrator/internal/data/history"
	"migrator/internal/data/postgres"
	"migrator/internal/engine/secrets"
	"migrator/internal/shared/observability"
	"migrator/internal/shared/util"
)

func connectPostgres(ctx context.Context, cfg config.Database, logger *slog.Logger) (ports.Database, error) {
	db, err := postgres.Connect(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// session is the wired runtime of one command invocation.
type session struct {
	cfg        *config.Config
	configPath string
	paths      config.ResolvedPaths
	app        *app.App
	journal    *history.Store
	prompter   ports.Prompter
	detector   *secrets.Detector
	closers    []func()
}

func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// loadSettings resolves the configuration and paths without side effects.
func (c *commandSet) loadSettings() (*config.Config, string, config.ResolvedPaths, error) {
	cwd, err := c.env.getwd()
	if err != nil {
		return nil, "", config.ResolvedPaths{}, fmt.Errorf("detect working directory: %w", err)
	}

	cfg, cfgPath, err := loadConfig(c.opts.configPath, cwd)
	if err != nil {
		return nil, "", config.ResolvedPaths{}, fmt.Errorf("load config: %w", err)
	}
	if c.opts.debug {
		cfg.Run.Debug = true
	}

	paths, err := config.ResolvePaths(cfg, cwd)
	if err != nil {
		return nil, "", config.ResolvedPaths{}, fmt.Errorf("resolve runtime paths: %w", err)
	}
	return cfg, cfgPath, paths, nil
}

// loadConfig reads path. A missing default config falls back to defaults
// and environment overrides; the returned path is empty in that case.
func loadConfig(path, cwd string) (*config.Config, string, error) {
	if path == "" {
		path = config.DefaultPath
	}
	resolved := config.ResolveRelative(cwd, path)

	cfg, err := config.Load(resolved)
	if err == nil {
		return cfg, resolved, nil
	}
	if os.IsNotExist(err) && path == config.DefaultPath {
		slog.Debug("no config file found, using defaults", "path", resolved)
		cfg, err := config.Default()
		if err != nil {
			return nil, "", err
		}
		return cfg, "", nil
	}
	return nil, "", err
}

func (c *commandSet) prompter(logger *slog.Logger) ports.Prompter {
	if c.env.newPrompter != nil {
		return c.env.newPrompter(c.opts)
	}
	if c.opts.yes {
		return NewAutoPrompter(logger)
	}
	return NewTeaPrompter(c.env.in, c.env.out)
}

// openSession wires the orchestrator. menuMode adds live file watching and
// config reloading.
func (c *commandSet) openSession(ctx context.Context, menuMode bool) (*session, error) {
	cfg, cfgPath, paths, err := c.loadSettings()
	if err != nil {
		return nil, err
	}
	logger := slog.Default()

	s := &session{cfg: cfg, configPath: cfgPath, paths: paths, prompter: c.prompter(logger)}
	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	detector, err := secrets.NewDetector(secrets.Config{})
	if err != nil {
		return nil, fmt.Errorf("build secret detector: %w", err)
	}
	s.detector = detector

	journal, err := openJournalIfEnabled(cfg, paths)
	if err != nil {
		return nil, err
	}
	var runJournal ports.RunJournal
	if journal != nil {
		s.journal = journal
		runJournal = journal
		s.closers = append(s.closers, func() { _ = journal.Close() })
	}

	var fileWatcher ports.FileWatcher
	var reloads *util.Limiter
	if menuMode && cfg.Watch.IsEnabled() {
		reloads = util.NewLimiter(cfg.Watch.ReloadRate, cfg.Watch.ReloadBurst)
		w, err := watcher.NewWatcher(cfg.Watch.Debounce, cfg.Migrations.Include, reloads)
		if err != nil {
			return nil, fmt.Errorf("start file watcher: %w", err)
		}
		fileWatcher = w
		s.closers = append(s.closers, func() { _ = w.Close() })
	}

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.Observability.ServiceName, cfg.Observability.OTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}
	s.closers = append(s.closers, func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("failed to flush traces", "error", err)
		}
	})

	connect := c.env.connect
	application, err := app.New(app.Options{
		Config: cfg,
		Paths:  paths,
		Connect: func(ctx context.Context, dbCfg config.Database) (ports.Database, error) {
			return connect(ctx, dbCfg, logger)
		},
		Prompter: s.prompter,
		Journal:  runJournal,
		Watcher:  fileWatcher,
		Logger:   logger,
		Now:      c.env.now,

		ForceDebug: c.opts.debug,
	})
	if err != nil {
		return nil, err
	}
	s.app = application
	s.closers = append(s.closers, func() {
		if err := application.Close(); err != nil {
			slog.Warn("failed to close database", "error", err)
		}
	})

	if cfg.Observability.Enabled {
		server := NewObservabilityServer(cfg.Observability.Address, app.NewHealthService(application))
		if err := server.Start(ctx); err != nil {
			return nil, fmt.Errorf("start observability server: %w", err)
		}
		s.closers = append(s.closers, func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = server.Stop(stopCtx)
		})
	}

	if menuMode && cfgPath != "" {
		stop, err := application.WatchConfig(ctx, cfgPath, func(next *config.Config) {
			reloads.SetRate(next.Watch.ReloadRate, next.Watch.ReloadBurst)
		})
		if err != nil {
			slog.Warn("config reload disabled", "path", cfgPath, "error", err)
		} else {
			s.closers = append(s.closers, stop)
		}
	}

	ok = true
	return s, nil
}

func openJournalIfEnabled(cfg *config.Config, paths config.ResolvedPaths) (*history.Store, error) {
	if !cfg.History.IsEnabled() {
		return nil, nil
	}
	journal, err := history.Open(paths.HistoryPath)
	if err != nil {
		return nil, fmt.Errorf("open run journal: %w", err)
	}
	return journal, nil
}

func configureLogging(menuMode, verbose bool) func() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}

	output := os.Stderr
	closeFn := func() {}
	if menuMode {
		logPath := resolveLogPath()
		if err := os.MkdirAll(filepath.Dir(logPath), 0o700); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to create log dir for %s: %v\n", logPath, err)
		} else if fi, err := os.Lstat(logPath); err == nil && (fi.Mode()&os.ModeSymlink) != 0 {
			fmt.Fprintf(os.Stderr, "warning: refusing to write logs to symlink path %s\n", logPath)
		} else {
			f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
			if err == nil {
				output = f
				closeFn = func() { _ = f.Close() }
			} else {
				fmt.Fprintf(os.Stderr, "warning: failed to open log file %s: %v\n", logPath, err)
			}
		}
	}

	logger := slog.New(slog.NewTextHandler(output, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	return closeFn
}

func resolveLogPath() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "migrator", "migrator.log")
	}

	home, err := os.UserHomeDir()
	if err == nil && home != "" {
		return filepath.Join(home, ".local", "state", "migrator", "migrator.log")
	}

	return "migrator.log"
}
