package store

import (
	"context"
	"fmt"

	"migrator/internal/core/errors"
	"migrator/internal/core/ports"
	"migrator/internal/engine/migration"
)

// CheckLocalAndSync guards the local store against files and database rows
// drifting apart. It asks before changing anything and returns a drift error
// when the user declines.
func (s *Store) CheckLocalAndSync(ctx context.Context) error {
	if !s.local {
		return errors.New(errors.CodeIllegalState, "only the local store is backed by files")
	}

	list := s.Migrations()
	var lastDB, firstFS *migration.Migration
	for _, m := range list {
		switch {
		case m.IsDBMigration():
			lastDB = m
		case m.IsBackup():
			// Backups never get a row, so they stay file-only once applied.
		case firstFS == nil:
			firstFS = m
		}
	}
	if lastDB == nil {
		return nil
	}

	if firstFS != nil {
		if lastDB.FileName() <= firstFS.FileName() {
			return nil
		}
		s.logger.Warn("local migration files are older than applied migrations",
			"first_local", firstFS.FileName(), "last_applied", lastDB.FileName())
		ok, err := s.deps.Prompter.Confirm(ctx,
			"There are local migrations that are not in the database. Do you want to sync the database with the local migrations?")
		if err != nil {
			return err
		}
		if !ok {
			return errors.New(errors.CodeDrift, "the local migrations are not in sync with the database")
		}
		return s.SyncLocal(ctx, firstFS, lastDB)
	}

	missing := false
	for _, m := range list {
		if !m.ExistsInFs() {
			missing = true
			break
		}
	}
	if !missing {
		return nil
	}

	ok, err := s.deps.Prompter.Confirm(ctx,
		"Some migrations exist only in the database. Do you want to pull them down to files?")
	if err != nil {
		return err
	}
	if !ok {
		return errors.New(errors.CodeDrift, "the local migrations are not in sync with the database")
	}
	return s.SyncLocal(ctx, nil, lastDB)
}

// SyncLocal reconciles the local database with the files. With a nil from it
// only writes database content to disk. Otherwise every applied entry from
// from onward is rolled back and everything up to to is replayed, in one
// batch tagged Sync.
func (s *Store) SyncLocal(ctx context.Context, from, to *migration.Migration) (err error) {
	if to == nil {
		return errors.New(errors.CodeValidationError, "sync local needs a target migration")
	}
	list := s.Migrations()
	latest := latestByFileName(list)

	if from == nil {
		written := make(map[int64]bool)
		for i := len(list) - 1; i >= 0; i-- {
			m := list[i]
			if !m.IsDBMigration() || written[m.FileName()] {
				continue
			}
			written[m.FileName()] = true
			if err := m.SaveToFile(); err != nil {
				return err
			}
			s.logger.Info("migration pulled to files", "file_name", m.FileName(), "name", m.Label())
		}
		return s.refresh(ctx)
	}

	start := -1
	for i, m := range list {
		if m == from {
			start = i
			break
		}
	}
	if start == -1 {
		return errors.AddContext(
			errors.New(errors.CodeIllegalState, fmt.Sprintf("[%d] sync start is not tracked by the store", from.FileName())),
			errors.CtxSchema, s.schema)
	}

	var toRollback, toCommit []*migration.Migration
	seen := make(map[int64]bool)
	for _, m := range list[start:] {
		if seen[m.FileName()] {
			continue
		}
		seen[m.FileName()] = true
		resolved := latest[m.FileName()]
		if resolved.IsDBMigration() && resolved.Properties().IsApplied() {
			toRollback = append(toRollback, resolved)
		}
		if resolved.FileName() <= to.FileName() {
			toCommit = append(toCommit, resolved)
		}
	}
	sortByFileName(toRollback)
	toRollback = reversed(toRollback)
	sortByFileName(toCommit)

	s.logger.Info("syncing local database with files", "rollback", len(toRollback), "replay", len(toCommit))
	defer s.refreshAfter(ctx, &err)
	return s.inTransaction(ctx, OpSyncLocal, func(ctx context.Context, tx ports.Tx) ([]int64, error) {
		down, err := s.rollbackEach(ctx, tx, toRollback, migration.Sync)
		if err != nil {
			return down, err
		}
		up, err := s.commitEach(ctx, tx, toCommit, migration.Sync)
		return append(down, up...), err
	})
}

// SyncRemote makes the applied history of this store a prefix-compatible
// copy of source's before a merge. When this store holds applied entries the
// source has not applied at the same position, the user must confirm a
// rollback to the last shared migration followed by a replay of the source.
// It returns false when the user declines.
func (s *Store) SyncRemote(ctx context.Context, source *Store) (ok bool, err error) {
	target := s.CurrentState().Migrated
	src := source.CurrentState().Migrated

	p := commonPrefix(target, src)
	if p == len(target) || p == len(src) {
		return true, nil
	}

	s.logger.Warn("applied migrations diverge from source",
		"source", source.schema, "shared", p, "target_only", len(target)-p, "source_only", len(src)-p)
	confirmed, err := s.deps.Prompter.Confirm(ctx, fmt.Sprintf(
		"The %s schema has migrations that %s does not have at the same position. "+
			"The sync rolls %s back to the last shared migration. This can cause data loss! Do you want to sync them?",
		s.schema, source.schema, s.schema))
	if err != nil {
		return false, err
	}
	if !confirmed {
		s.logger.Info("sync cancelled", "source", source.schema)
		return false, nil
	}

	toRollback := reversed(target[p:])
	toReplay := make([]*migration.Migration, 0, len(src)-p)
	for _, m := range src[p:] {
		toReplay = append(toReplay, m.Detached())
	}

	defer func() {
		s.refreshAfter(ctx, &err)
		if err != nil {
			ok = false
		}
	}()
	err = s.inTransaction(ctx, OpSyncRemote, func(ctx context.Context, tx ports.Tx) ([]int64, error) {
		down, err := s.rollbackEach(ctx, tx, toRollback, migration.Sync)
		if err != nil {
			return down, err
		}
		up, err := s.commitEach(ctx, tx, toReplay, migration.Sync)
		return append(down, up...), err
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// commonPrefix is the number of leading entries with equal fileNames.
func commonPrefix(a, b []*migration.Migration) int {
	n := 0
	for n < len(a) && n < len(b) && a[n].FileName() == b[n].FileName() {
		n++
	}
	return n
}
