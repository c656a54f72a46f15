package store

import (
	"context"

	"migrator/internal/core/ports"
	"migrator/internal/engine/migration"
)

// Merge promotes the applied state of source into this store. Histories are
// compared by fileName, since ids are assigned independently per schema.
// It returns false when nothing had to change or the user cancelled.
func (s *Store) Merge(ctx context.Context, source *Store) (merged bool, err error) {
	s.logger.Info("merging migrations", "source", source.schema)

	src := source.CurrentState().Migrated
	target := s.CurrentState().Migrated

	if commonPrefix(src, target) == len(src) && len(src) == len(target) {
		if len(src) == 0 {
			s.logger.Info("both schemas are empty", "source", source.schema)
		} else {
			s.logger.Info("the schemas are in sync", "source", source.schema)
		}
		return false, nil
	}

	sourceAhead := len(target) == 0 ||
		(len(src) > 0 && src[len(src)-1].FileName() >= target[len(target)-1].FileName())

	synced, err := s.SyncRemote(ctx, source)
	if err != nil {
		return false, err
	}
	if !synced {
		s.logger.Info("merge cancelled", "source", source.schema)
		return false, nil
	}

	after := s.CurrentState().Migrated
	if sourceAhead {
		applied := make(map[int64]bool, len(after))
		for _, m := range after {
			applied[m.FileName()] = true
		}
		var batch []*migration.Migration
		for _, m := range src {
			if !applied[m.FileName()] {
				batch = append(batch, m.Detached())
			}
		}
		if len(batch) > 0 {
			defer s.refreshAfter(ctx, &err)
			err = s.inTransaction(ctx, OpMergeUp, func(ctx context.Context, tx ports.Tx) ([]int64, error) {
				return s.commitEach(ctx, tx, batch, migration.Merge)
			})
		}
	} else {
		var batch []*migration.Migration
		for _, m := range reversed(after) {
			if len(src) == 0 || m.FileName() > src[len(src)-1].FileName() {
				batch = append(batch, m)
			}
		}
		if len(batch) > 0 {
			defer s.refreshAfter(ctx, &err)
			err = s.inTransaction(ctx, OpMergeDown, func(ctx context.Context, tx ports.Tx) ([]int64, error) {
				return s.rollbackEach(ctx, tx, batch, migration.Merge)
			})
		}
	}
	if err != nil {
		return false, err
	}

	s.logger.Info("merge successful", "source", source.schema)
	return true, nil
}
