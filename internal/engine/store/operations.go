package store

import (
	"context"

	"migrator/internal/core/errors"
	"migrator/internal/core/ports"
	"migrator/internal/engine/migration"
)

// MigrateUp applies every pending migration up to and including target, in
// ascending order, as one batch.
func (s *Store) MigrateUp(ctx context.Context, target *migration.Migration) (err error) {
	if target == nil {
		return errors.New(errors.CodeValidationError, "migrate up needs a target migration")
	}

	var batch []*migration.Migration
	for _, m := range s.CurrentState().Pending {
		if m.FileName() <= target.FileName() {
			batch = append(batch, m)
		}
	}
	if len(batch) == 0 {
		s.logger.Info("nothing to migrate up", "target", target.FileName())
		return nil
	}

	s.logger.Info("migrating up", "target", target.FileName(), "count", len(batch))
	defer s.refreshAfter(ctx, &err)
	return s.inTransaction(ctx, OpMigrateUp, func(ctx context.Context, tx ports.Tx) ([]int64, error) {
		return s.commitEach(ctx, tx, batch, migration.Migrate)
	})
}

// MigrateDown rolls back every migrated entry newer than target, newest
// first. A nil target rolls back everything.
func (s *Store) MigrateDown(ctx context.Context, target *migration.Migration) (err error) {
	migrated := s.CurrentState().Migrated

	var batch []*migration.Migration
	for _, m := range reversed(migrated) {
		if target == nil || m.FileName() > target.FileName() {
			batch = append(batch, m)
		}
	}
	if len(batch) == 0 {
		s.logger.Info("nothing to migrate down")
		return nil
	}

	s.logger.Info("migrating down", "count", len(batch))
	defer s.refreshAfter(ctx, &err)
	return s.inTransaction(ctx, OpMigrateDown, func(ctx context.Context, tx ports.Tx) ([]int64, error) {
		return s.rollbackEach(ctx, tx, batch, migration.Migrate)
	})
}

// NewMigration generates a new file pair. Only the local store owns files.
func (s *Store) NewMigration(opts migration.CreateOptions) (*migration.Migration, error) {
	if !s.local {
		return nil, errors.AddContext(
			errors.New(errors.CodeIllegalState, "new migrations can only be created in the local store"),
			errors.CtxSchema, s.schema)
	}

	m, err := migration.Create(s.deps.Migration, opts)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.migrations = append(s.migrations, m)
	sortEntries(s.migrations)
	s.mu.Unlock()
	return m, nil
}
