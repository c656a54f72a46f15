// Package app is the orchestrator: it owns the database connection and the
// four schema stores of the promotion pipeline.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"migrator/internal/core/config"
	"migrator/internal/core/errors"
	"migrator/internal/core/ports"
	"migrator/internal/engine/migration"
	"migrator/internal/engine/store"
)

// Connector opens the relational backend described by cfg.
type Connector func(ctx context.Context, cfg config.Database) (ports.Database, error)

// Menu is the interactive surface started once the environment is ready.
type Menu interface {
	Run(ctx context.Context, app *App) error
}

type Options struct {
	Config   *config.Config
	Paths    config.ResolvedPaths
	Connect  Connector
	Prompter ports.Prompter
	Journal  ports.RunJournal
	Watcher  ports.FileWatcher
	Logger   *slog.Logger
	Now      func() time.Time
	// ForceDebug pins dry-run mode on, whatever later config reloads say.
	ForceDebug bool
}

type App struct {
	cfg      *config.Config
	paths    config.ResolvedPaths
	connect  Connector
	prompter ports.Prompter
	journal  ports.RunJournal
	watcher  ports.FileWatcher
	logger   *slog.Logger
	now      func() time.Time

	debug      atomic.Bool
	forceDebug bool

	mu     sync.RWMutex
	db     ports.Database
	stores map[string]*store.Store
}

func New(opts Options) (*App, error) {
	if opts.Config == nil {
		return nil, errors.New(errors.CodeValidationError, "config is required")
	}
	if opts.Connect == nil {
		return nil, errors.New(errors.CodeValidationError, "database connector is required")
	}
	if opts.Prompter == nil {
		return nil, errors.New(errors.CodeValidationError, "prompter is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{
		cfg:      opts.Config,
		paths:    opts.Paths,
		connect:  opts.Connect,
		prompter: opts.Prompter,
		journal:  opts.Journal,
		watcher:  opts.Watcher,
		logger:   logger,
		now:      opts.Now,

		forceDebug: opts.ForceDebug,
	}
	a.debug.Store(opts.Config.Run.Debug || opts.ForceDebug)
	return a, nil
}

func (a *App) Config() *config.Config { return a.cfg }

func (a *App) Prompter() ports.Prompter { return a.prompter }

func (a *App) Journal() ports.RunJournal { return a.journal }

// SetDebug toggles dry-run mode. In debug mode every batch is rolled back.
// A forced debug mode cannot be switched off.
func (a *App) SetDebug(debug bool) {
	debug = debug || a.forceDebug
	if a.debug.Swap(debug) != debug {
		a.logger.Info("debug mode changed", "debug", debug)
	}
}

func (a *App) Debug() bool { return a.debug.Load() }

// SetupEnvironment checks the migration directories, connects, bootstraps
// the migrates namespace and initializes the stores in promotion order.
// Any failure aborts the setup.
func (a *App) SetupEnvironment(ctx context.Context) error {
	for _, dir := range []string{a.paths.UpDir, a.paths.DownDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return errors.AddContext(
				errors.New(errors.CodePath, "migration directory does not exist"),
				errors.CtxPath, dir)
		}
	}

	db, err := a.connect(ctx, a.cfg.Database)
	if err != nil {
		return asAuthError(err, "connect to database")
	}
	if err := db.Ping(ctx); err != nil {
		_ = db.Close()
		return asAuthError(err, "authenticate database")
	}

	if err := db.Bootstrap(ctx); err != nil {
		_ = db.Close()
		return errors.Wrap(err, errors.CodeInternal, "set up migration environment")
	}

	stores := make(map[string]*store.Store, len(config.Stages))
	closeAll := func() {
		for _, s := range stores {
			s.Close()
		}
		_ = db.Close()
	}
	deps := a.storeDeps(db)
	for _, stage := range config.Stages {
		schema, err := a.cfg.Schemas.ForStage(stage)
		if err != nil {
			closeAll()
			return errors.Wrap(err, errors.CodeValidationError, "resolve schema")
		}
		s, err := store.New(deps, stage, schema, stage == config.StageLocal)
		if err != nil {
			closeAll()
			return err
		}
		stores[stage] = s
		if err := s.Init(ctx); err != nil {
			closeAll()
			return errors.Wrap(err, errors.CodeOf(err), fmt.Sprintf("set up %s store", stage))
		}
		a.logger.Debug("store initialized", "stage", stage, "schema", schema, "entries", len(s.Migrations()))
	}

	a.mu.Lock()
	old, oldStores := a.db, a.stores
	a.db, a.stores = db, stores
	a.mu.Unlock()
	for _, s := range oldStores {
		s.Close()
	}
	if old != nil {
		_ = old.Close()
	}

	a.logger.Info("migration environment ready", "database", a.cfg.Database.DisplayName(), "dir", a.paths.MigrationsDir)
	return nil
}

func asAuthError(err error, msg string) error {
	if errors.IsCode(err, errors.CodeAuthentication) {
		return err
	}
	return errors.Wrap(err, errors.CodeAuthentication, msg)
}

func (a *App) storeDeps(db ports.Database) store.Deps {
	return store.Deps{
		DB:       db,
		Prompter: a.prompter,
		Journal:  a.journal,
		Migration: migration.Deps{
			Dir:     a.paths.MigrationsDir,
			Watcher: a.watcher,
			Now:     a.now,
			Logger:  a.logger,
		},
		Include: a.cfg.Migrations.Include,
		DryRun:  a.Debug,
		Logger:  a.logger,
	}
}

// Start sets the environment up and hands control to menu.
func (a *App) Start(ctx context.Context, menu Menu) error {
	if err := a.SetupEnvironment(ctx); err != nil {
		return err
	}
	return menu.Run(ctx, a)
}

// Store returns the store of stage. It fails before SetupEnvironment.
func (a *App) Store(stage string) (*store.Store, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.stores == nil {
		return nil, errors.New(errors.CodeIllegalState, "migration stores are not initialized")
	}
	s, ok := a.stores[stage]
	if !ok {
		return nil, errors.Newf(errors.CodeNotFound, "unknown stage %q", stage)
	}
	return s, nil
}

func (a *App) Local() (*store.Store, error)       { return a.Store(config.StageLocal) }
func (a *App) Development() (*store.Store, error) { return a.Store(config.StageDevelopment) }
func (a *App) Test() (*store.Store, error)        { return a.Store(config.StageTest) }
func (a *App) Production() (*store.Store, error)  { return a.Store(config.StageProduction) }

// Database returns the shared connection. It fails before SetupEnvironment.
func (a *App) Database() (ports.Database, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.db == nil {
		return nil, errors.New(errors.CodeIllegalState, "database is not connected")
	}
	return a.db, nil
}

// Promote merges the applied state of the from stage into the to stage.
func (a *App) Promote(ctx context.Context, from, to string) (bool, error) {
	source, err := a.Store(from)
	if err != nil {
		return false, err
	}
	target, err := a.Store(to)
	if err != nil {
		return false, err
	}
	a.logger.Info("promoting migrations", "from", from, "to", to, "debug", a.Debug())
	return target.Merge(ctx, source)
}

// Close stops file watches and closes the database.
func (a *App) Close() error {
	a.mu.Lock()
	db, stores := a.db, a.stores
	a.db, a.stores = nil, nil
	a.mu.Unlock()

	for _, s := range stores {
		s.Close()
	}
	if db != nil {
		return db.Close()
	}
	return nil
}
