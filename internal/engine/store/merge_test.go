package store

import (
	"context"
	"os"
	"testing"

	"migrator/internal/core/errors"
	"migrator/internal/engine/migration"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeIntoEmptyTarget(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, 100, 200, 300)
	local := f.store(t, "local", "local", true)
	dev := f.store(t, "development", "dev", false)
	require.NoError(t, local.MigrateUp(ctx, find(t, local, 200)))

	merged, err := dev.Merge(ctx, local)
	require.NoError(t, err)
	assert.True(t, merged)

	assert.Equal(t, []string{"100 UP|MERGE", "200 UP|MERGE"}, rowSummary(f.db, "dev"))
	assert.Equal(t, []int64{100, 200}, fileNamesOf(dev.CurrentState().Migrated))
	assert.Empty(t, f.prompter.Questions)
}

func TestMergeTargetAhead(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed("local", migration.Up|migration.Migrate, 100, 200)
	f.seed("dev", migration.Up|migration.Merge, 100, 200, 300)
	local := f.store(t, "local", "local", true)
	dev := f.store(t, "development", "dev", false)

	merged, err := dev.Merge(ctx, local)
	require.NoError(t, err)
	assert.True(t, merged)

	rows := rowSummary(f.db, "dev")
	assert.Equal(t, "300 DOWN|MERGE", rows[len(rows)-1])
	assert.Equal(t, []string{"-- -- --\nDOWN 300;"}, scripts(f.db))
	assert.Equal(t, []int64{100, 200}, fileNamesOf(dev.CurrentState().Migrated))
	assert.Equal(t, []int64{300}, fileNamesOf(dev.CurrentState().Pending))
}

func TestMergeEmptySourceRollsBackEverything(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed("dev", migration.Up|migration.Merge, 100, 200)
	local := f.store(t, "local", "local", true)
	dev := f.store(t, "development", "dev", false)

	merged, err := dev.Merge(ctx, local)
	require.NoError(t, err)
	assert.True(t, merged)
	assert.Empty(t, dev.CurrentState().Migrated)
	assert.Equal(t, []string{"-- -- --\nDOWN 200;", "-- -- --\nDOWN 100;"}, scripts(f.db))
}

func TestMergeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed("local", migration.Up|migration.Migrate, 100, 200)
	local := f.store(t, "local", "local", true)
	dev := f.store(t, "development", "dev", false)

	merged, err := dev.Merge(ctx, local)
	require.NoError(t, err)
	require.True(t, merged)
	begins := f.db.Begins
	stmts := len(f.db.Statements())

	merged, err = dev.Merge(ctx, local)
	require.NoError(t, err)
	assert.False(t, merged)
	assert.Equal(t, begins, f.db.Begins)
	assert.Len(t, f.db.Statements(), stmts)
}

func TestMergeBothEmpty(t *testing.T) {
	f := newFixture(t)
	local := f.store(t, "local", "local", true)
	dev := f.store(t, "development", "dev", false)

	merged, err := dev.Merge(context.Background(), local)
	require.NoError(t, err)
	assert.False(t, merged)
	assert.Zero(t, f.db.Begins)
}

func TestMergeWithDivergedHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed("local", migration.Up|migration.Migrate, 100, 200, 300)
	f.seed("dev", migration.Up|migration.Merge, 100, 250)
	f.prompter.WithConfirms(true)
	local := f.store(t, "local", "local", true)
	dev := f.store(t, "development", "dev", false)

	merged, err := dev.Merge(ctx, local)
	require.NoError(t, err)
	assert.True(t, merged)

	assert.Equal(t, []string{
		"-- -- --\nDOWN 250;", "-- -- --\nUP 200;", "-- -- --\nUP 300;",
	}, scripts(f.db))
	assert.Equal(t, []int64{100, 200, 300}, fileNamesOf(dev.CurrentState().Migrated))
	assert.Equal(t, []int64{250}, fileNamesOf(dev.CurrentState().Pending))
	assert.Equal(t, []string{
		"100 UP|MERGE", "250 UP|MERGE", "250 DOWN|SYNC", "200 UP|SYNC", "300 UP|SYNC",
	}, rowSummary(f.db, "dev"))
}

func TestMergeCancelledSync(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed("local", migration.Up|migration.Migrate, 100, 200, 300)
	f.seed("dev", migration.Up|migration.Merge, 100, 250)
	f.prompter.WithConfirms(false)
	local := f.store(t, "local", "local", true)
	dev := f.store(t, "development", "dev", false)

	merged, err := dev.Merge(ctx, local)
	require.NoError(t, err)
	assert.False(t, merged)
	assert.Zero(t, f.db.Begins)
	assert.Len(t, f.db.Rows("dev"), 2)
}

func TestSyncRemote(t *testing.T) {
	t.Run("confirmed", func(t *testing.T) {
		ctx := context.Background()
		f := newFixture(t)
		f.seed("local", migration.Up|migration.Migrate, 100, 200)
		f.seed("dev", migration.Up|migration.Merge, 100, 250)
		f.prompter.WithConfirms(true)
		local := f.store(t, "local", "local", true)
		dev := f.store(t, "development", "dev", false)

		ok, err := dev.SyncRemote(ctx, local)
		require.NoError(t, err)
		assert.True(t, ok)
		require.Len(t, f.prompter.Questions, 1)
		assert.Contains(t, f.prompter.Questions[0], "data loss")
		assert.Equal(t, []string{"250 DOWN|SYNC", "200 UP|SYNC"}, rowSummary(f.db, "dev")[2:])
		assert.Equal(t, []int64{100, 200}, fileNamesOf(dev.CurrentState().Migrated))
	})

	t.Run("refused", func(t *testing.T) {
		ctx := context.Background()
		f := newFixture(t)
		f.seed("local", migration.Up|migration.Migrate, 100, 200)
		f.seed("dev", migration.Up|migration.Merge, 100, 250)
		f.prompter.WithConfirms(false)
		local := f.store(t, "local", "local", true)
		dev := f.store(t, "development", "dev", false)

		ok, err := dev.SyncRemote(ctx, local)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Len(t, f.db.Rows("dev"), 2)
		assert.Equal(t, []int64{100, 250}, fileNamesOf(dev.CurrentState().Migrated))
	})

	t.Run("gap before shared last rolls back to common prefix", func(t *testing.T) {
		ctx := context.Background()
		f := newFixture(t)
		f.seed("local", migration.Up|migration.Migrate, 100, 200, 300)
		f.seed("dev", migration.Up|migration.Merge, 100, 300)
		f.prompter.WithConfirms(true)
		local := f.store(t, "local", "local", true)
		dev := f.store(t, "development", "dev", false)

		ok, err := dev.SyncRemote(ctx, local)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []string{
			"-- -- --\nDOWN 300;", "-- -- --\nUP 200;", "-- -- --\nUP 300;",
		}, scripts(f.db))
		assert.Equal(t, []string{"300 DOWN|SYNC", "200 UP|SYNC", "300 UP|SYNC"}, rowSummary(f.db, "dev")[2:])
		assert.Equal(t, []int64{100, 200, 300}, fileNamesOf(dev.CurrentState().Migrated))
	})

	t.Run("prefix needs no sync", func(t *testing.T) {
		ctx := context.Background()
		f := newFixture(t)
		f.seed("local", migration.Up|migration.Migrate, 100, 200)
		f.seed("dev", migration.Up|migration.Merge, 100)
		local := f.store(t, "local", "local", true)
		dev := f.store(t, "development", "dev", false)

		ok, err := dev.SyncRemote(ctx, local)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Empty(t, f.prompter.Questions)
		assert.Zero(t, f.db.Begins)
	})
}

func TestCheckLocalAndSyncReplaysOlderFiles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed("local", migration.Up|migration.Migrate, 200)
	f.write(t, 100, 200)
	f.prompter.WithConfirms(true)
	s := f.store(t, "local", "local", true)

	require.NoError(t, s.CheckLocalAndSync(ctx))

	assert.Equal(t, []string{
		"-- -- --\nDOWN 200;", "-- -- --\nUP 100;", "-- -- --\nUP 200;",
	}, scripts(f.db))
	assert.Equal(t, []string{
		"200 UP|MIGRATE", "200 DOWN|SYNC", "100 UP|SYNC", "200 UP|SYNC",
	}, rowSummary(f.db, "local"))
	assert.Equal(t, []int64{100, 200}, fileNamesOf(s.CurrentState().Migrated))
}

func TestCheckLocalAndSyncDeclined(t *testing.T) {
	f := newFixture(t)
	f.seed("local", migration.Up|migration.Migrate, 200)
	f.write(t, 100, 200)
	f.prompter.WithConfirms(false)
	s := f.store(t, "local", "local", true)

	err := s.CheckLocalAndSync(context.Background())
	assert.True(t, errors.IsCode(err, errors.CodeDrift))
	assert.Zero(t, f.db.Begins)
}

func TestCheckLocalAndSyncPullsMissingFiles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed("local", migration.Up|migration.Migrate, 100)
	f.seed("local", migration.Down|migration.Migrate, 100)
	f.seed("local", migration.Up|migration.Migrate, 200)
	f.prompter.WithConfirms(true)
	s := f.store(t, "local", "local", true)

	require.NoError(t, s.CheckLocalAndSync(ctx))

	for _, fn := range []int64{100, 200} {
		up, err := os.ReadFile(migration.UpPath(f.dir, fn))
		require.NoError(t, err)
		assert.Equal(t, "-- -- --\nUP "+itoa(fn)+";", string(up))
	}
	assert.Zero(t, f.db.Begins)
	assert.Len(t, s.Migrations(), 3)
}

func TestCheckLocalAndSyncInSync(t *testing.T) {
	f := newFixture(t)
	f.seed("local", migration.Up|migration.Migrate, 100)
	f.write(t, 100, 200)
	s := f.store(t, "local", "local", true)

	require.NoError(t, s.CheckLocalAndSync(context.Background()))
	assert.Empty(t, f.prompter.Questions)
}

func TestSyncLocalRejectsUntrackedStart(t *testing.T) {
	f := newFixture(t)
	f.seed("dev", migration.Up|migration.Merge, 100)
	f.write(t, 100)
	local := f.store(t, "local", "local", true)
	dev := f.store(t, "development", "dev", false)

	err := local.SyncLocal(context.Background(), find(t, dev, 100), find(t, local, 100))
	assert.True(t, errors.IsCode(err, errors.CodeIllegalState))
}

func TestVerifyChecksums(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, 100, 200)
	s := f.store(t, "local", "local", true)
	require.NoError(t, s.MigrateUp(ctx, find(t, s, 200)))
	assert.Empty(t, s.VerifyChecksums())

	require.NoError(t, os.WriteFile(migration.UpPath(f.dir, 200), []byte("-- -- --\nUP 200 changed;"), 0o644))

	mismatches := s.VerifyChecksums()
	require.Len(t, mismatches, 1)
	assert.Equal(t, int64(200), mismatches[0].FileName)
	assert.Equal(t, migration.DirectionUp, mismatches[0].Direction)
	assert.Equal(t, find(t, s, 200).ChecksumUp(), mismatches[0].Recorded)
}
