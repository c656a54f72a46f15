package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"migrator/internal/core/errors"
	"migrator/internal/core/ports"
	"migrator/internal/engine/migration"
	"migrator/internal/shared/observability"

	"github.com/gobwas/glob"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Batch operation names, used for logs, metrics and the run journal.
const (
	OpMigrateUp   = "migrate_up"
	OpMigrateDown = "migrate_down"
	OpSyncLocal   = "sync_local"
	OpSyncRemote  = "sync_remote"
	OpMergeUp     = "merge_up"
	OpMergeDown   = "merge_down"
)

// Deps are the collaborators shared by every store of an orchestrator.
type Deps struct {
	DB        ports.Database
	Prompter  ports.Prompter
	Journal   ports.RunJournal
	Migration migration.Deps
	// Include filters files of the up directory, e.g. "*.sql".
	Include string
	// DryRun reports whether batches must roll back instead of committing.
	DryRun func() bool
	Logger *slog.Logger
}

// State is the resolved view of a store: one entry per fileName.
type State struct {
	Migrated []*migration.Migration
	Pending  []*migration.Migration
}

// Store tracks the migrations of one schema.
type Store struct {
	deps    Deps
	stage   string
	schema  string
	local   bool
	include glob.Glob
	logger  *slog.Logger

	mu         sync.RWMutex
	migrations []*migration.Migration
}

// New creates a store for schema. Only the local store reads the filesystem.
func New(deps Deps, stage, schema string, local bool) (*Store, error) {
	pattern := deps.Include
	if pattern == "" {
		pattern = "*.sql"
	}
	include, err := glob.Compile(pattern)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeValidationError, "compile include pattern")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		deps:    deps,
		stage:   stage,
		schema:  schema,
		local:   local,
		include: include,
		logger:  logger.With("schema", schema),
	}, nil
}

func (s *Store) Stage() string  { return s.stage }
func (s *Store) Schema() string { return s.schema }
func (s *Store) IsLocal() bool  { return s.local }

// Init creates the migration table if needed and loads the store.
func (s *Store) Init(ctx context.Context) error {
	if err := s.deps.DB.EnsureMigrationTable(ctx, s.schema); err != nil {
		return errors.AddContext(
			errors.Wrap(err, errors.CodeInternal, "create migration table"),
			errors.CtxSchema, s.schema)
	}
	return s.refresh(ctx)
}

// Migrations returns a snapshot of every entry, sorted by fileName then id.
func (s *Store) Migrations() []*migration.Migration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*migration.Migration(nil), s.migrations...)
}

// Find returns the current entry for fileName.
func (s *Store) Find(fileName int64) (*migration.Migration, bool) {
	latest := latestByFileName(s.Migrations())
	m, ok := latest[fileName]
	return m, ok
}

// CurrentState resolves every fileName to its latest entry and partitions
// the result by the Up flag.
func (s *Store) CurrentState() State {
	list := s.Migrations()
	latest := latestByFileName(list)

	var state State
	seen := make(map[int64]bool, len(latest))
	for _, m := range list {
		if seen[m.FileName()] {
			continue
		}
		seen[m.FileName()] = true
		resolved := latest[m.FileName()]
		if resolved.Properties().IsApplied() {
			state.Migrated = append(state.Migrated, resolved)
		} else {
			state.Pending = append(state.Pending, resolved)
		}
	}
	sortByFileName(state.Migrated)
	sortByFileName(state.Pending)
	return state
}

// Close stops all file watches held by the store.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.migrations {
		m.Close()
	}
}

func (s *Store) refresh(ctx context.Context) error {
	rows, err := s.deps.DB.MigrationRows(ctx, s.schema)
	if err != nil {
		return errors.AddContext(
			errors.Wrap(err, errors.CodeInternal, "read migrations"),
			errors.CtxSchema, s.schema)
	}

	list := make([]*migration.Migration, 0, len(rows))
	known := make(map[int64]bool, len(rows))
	for _, row := range rows {
		list = append(list, migration.FromRow(s.deps.Migration, row))
		known[row.FileName] = true
	}

	if s.local {
		local, err := s.readLocal(known)
		if err != nil {
			for _, m := range local {
				m.Close()
			}
			return err
		}
		list = append(list, local...)
	}
	sortEntries(list)

	s.mu.Lock()
	old := s.migrations
	s.migrations = list
	s.mu.Unlock()
	for _, m := range old {
		m.Close()
	}

	state := s.CurrentState()
	observability.MigratedGauge.WithLabelValues(s.schema).Set(float64(len(state.Migrated)))
	observability.PendingGauge.WithLabelValues(s.schema).Set(float64(len(state.Pending)))
	return nil
}

func (s *Store) readLocal(known map[int64]bool) ([]*migration.Migration, error) {
	upDir := filepath.Join(s.deps.Migration.Dir, "up")
	entries, err := os.ReadDir(upDir)
	if err != nil {
		return nil, errors.AddContext(
			errors.Wrap(err, errors.CodeFileRead, "list up directory"),
			errors.CtxPath, upDir)
	}

	var list []*migration.Migration
	for _, entry := range entries {
		if entry.IsDir() || !s.include.Match(entry.Name()) {
			continue
		}
		fileName, err := strconv.ParseInt(strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())), 10, 64)
		if err != nil {
			s.logger.Debug("skipping non-timestamp migration file", "file", entry.Name())
			continue
		}
		if known[fileName] {
			continue
		}
		m, err := migration.FromFile(s.deps.Migration, fileName)
		if err != nil {
			return list, err
		}
		known[fileName] = true
		list = append(list, m)
	}
	return list, nil
}

// refreshAfter re-reads the store after a batch, keeping the batch error.
func (s *Store) refreshAfter(ctx context.Context, batchErr *error) {
	if err := s.refresh(ctx); err != nil {
		if *batchErr == nil {
			*batchErr = err
			return
		}
		s.logger.Error("failed to refresh migrations after failed batch", "error", err)
	}
}

func (s *Store) dryRun() bool {
	return s.deps.DryRun != nil && s.deps.DryRun()
}

// inTransaction runs fn in one serializable transaction. Any error rolls the
// whole batch back; in dry-run mode a successful batch is rolled back too.
func (s *Store) inTransaction(ctx context.Context, op string, fn func(context.Context, ports.Tx) ([]int64, error)) (err error) {
	ctx, span := observability.Tracer.Start(ctx, "store."+op, trace.WithAttributes(
		attribute.String("schema", s.schema),
		attribute.Bool("dry_run", s.dryRun()),
	))
	defer span.End()

	started := time.Now()
	var fileNames []int64
	outcome := ports.OutcomeFailed
	defer func() {
		elapsed := time.Since(started)
		observability.BatchDuration.WithLabelValues(s.schema, op).Observe(elapsed.Seconds())
		observability.BatchesTotal.WithLabelValues(s.schema, op, outcome).Inc()
		span.SetAttributes(attribute.Int("migrations", len(fileNames)), attribute.String("outcome", outcome))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		s.record(ctx, op, fileNames, outcome, started, elapsed, err)
	}()

	tx, err := s.deps.DB.Begin(ctx, s.schema)
	if err != nil {
		return errors.AddContext(
			errors.Wrap(err, errors.CodeInternal, "begin transaction"),
			errors.CtxOperation, op)
	}

	fileNames, err = fn(ctx, tx)
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			s.logger.Error("rollback failed", "operation", op, "error", rbErr)
		}
		return errors.AddContext(
			errors.Wrap(err, errors.CodeOf(err), fmt.Sprintf("%s on %s", op, s.schema)),
			errors.CtxOperation, op)
	}

	if s.dryRun() {
		if err := tx.Rollback(ctx); err != nil {
			return errors.Wrap(err, errors.CodeInternal, "roll back dry run")
		}
		outcome = ports.OutcomeDryRun
		s.logger.Info("dry run rolled back", "operation", op, "migrations", len(fileNames))
		return nil
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.AddContext(
			errors.Wrap(err, errors.CodeMigrationExecution, "commit transaction"),
			errors.CtxOperation, op)
	}
	outcome = ports.OutcomeCommitted
	return nil
}

func (s *Store) record(ctx context.Context, op string, fileNames []int64, outcome string, started time.Time, elapsed time.Duration, batchErr error) {
	if s.deps.Journal == nil {
		return
	}
	rec := ports.RunRecord{
		Schema:    s.schema,
		Operation: op,
		FileNames: fileNames,
		Outcome:   outcome,
		StartedAt: started,
		Duration:  elapsed,
	}
	if batchErr != nil {
		rec.Error = batchErr.Error()
	}
	if err := s.deps.Journal.Record(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Warn("failed to record run", "operation", op, "error", err)
	}
}

func (s *Store) commitEach(ctx context.Context, tx ports.Tx, list []*migration.Migration, provenance migration.Properties) ([]int64, error) {
	done := make([]int64, 0, len(list))
	for _, m := range list {
		if err := m.Commit(ctx, tx, s.schema, provenance); err != nil {
			return done, err
		}
		observability.MigrationsExecutedTotal.WithLabelValues(s.schema, string(migration.DirectionUp)).Inc()
		s.logger.Info("migration applied", "file_name", m.FileName(), "name", m.Label(), "provenance", provenance.String())
		done = append(done, m.FileName())
	}
	return done, nil
}

func (s *Store) rollbackEach(ctx context.Context, tx ports.Tx, list []*migration.Migration, provenance migration.Properties) ([]int64, error) {
	done := make([]int64, 0, len(list))
	for _, m := range list {
		if err := m.Rollback(ctx, tx, s.schema, provenance); err != nil {
			return done, err
		}
		observability.MigrationsExecutedTotal.WithLabelValues(s.schema, string(migration.DirectionDown)).Inc()
		s.logger.Info("migration rolled back", "file_name", m.FileName(), "name", m.Label(), "provenance", provenance.String())
		done = append(done, m.FileName())
	}
	return done, nil
}

func latestByFileName(list []*migration.Migration) map[int64]*migration.Migration {
	latest := make(map[int64]*migration.Migration, len(list))
	for _, m := range list {
		latest[m.FileName()] = m
	}
	return latest
}

func sortEntries(list []*migration.Migration) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].FileName() != list[j].FileName() {
			return list[i].FileName() < list[j].FileName()
		}
		return list[i].ID() < list[j].ID()
	})
}

func sortByFileName(list []*migration.Migration) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].FileName() < list[j].FileName()
	})
}

func reversed(list []*migration.Migration) []*migration.Migration {
	out := make([]*migration.Migration, len(list))
	for i, m := range list {
		out[len(list)-1-i] = m
	}
	return out
}

func fileNamesOf(list []*migration.Migration) []int64 {
	out := make([]int64, len(list))
	for i, m := range list {
		out[i] = m.FileName()
	}
	return out
}
