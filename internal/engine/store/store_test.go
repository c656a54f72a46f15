package store

import (
	"context"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"migrator/internal/core/errors"
	"migrator/internal/core/ports"
	"migrator/internal/engine/migration"
	"migrator/internal/testutil"
	"migrator/internal/testutil/memdb"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingJournal struct {
	mu   sync.Mutex
	runs []ports.RunRecord
}

func (j *recordingJournal) Record(_ context.Context, rec ports.RunRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.runs = append(j.runs, rec)
	return nil
}

func (j *recordingJournal) Recent(_ context.Context, limit int) ([]ports.RunRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if limit > len(j.runs) {
		limit = len(j.runs)
	}
	return append([]ports.RunRecord(nil), j.runs[len(j.runs)-limit:]...), nil
}

type fixture struct {
	dir      string
	db       *memdb.DB
	prompter *testutil.ScriptedPrompter
	journal  *recordingJournal
	dryRun   bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		dir:      testutil.MigrationsDir(t),
		db:       memdb.New(),
		prompter: testutil.NewScriptedPrompter(),
		journal:  &recordingJournal{},
	}
}

func (f *fixture) deps() Deps {
	return Deps{
		DB:       f.db,
		Prompter: f.prompter,
		Journal:  f.journal,
		Migration: migration.Deps{
			Dir: f.dir,
			Now: func() time.Time { return time.UnixMilli(900) },
		},
		Include: "*.sql",
		DryRun:  func() bool { return f.dryRun },
	}
}

func (f *fixture) store(t *testing.T, stage, schema string, local bool) *Store {
	t.Helper()
	s, err := New(f.deps(), stage, schema, local)
	require.NoError(t, err)
	require.NoError(t, s.Init(context.Background()))
	t.Cleanup(s.Close)
	return s
}

func (f *fixture) write(t *testing.T, fileNames ...int64) {
	t.Helper()
	for _, fn := range fileNames {
		testutil.WriteMigration(t, f.dir, fn,
			"-- -- --\nUP "+itoa(fn)+";",
			"-- -- --\nDOWN "+itoa(fn)+";")
	}
}

func (f *fixture) seed(schema string, props migration.Properties, fileNames ...int64) {
	for _, fn := range fileNames {
		f.db.Seed(schema, ports.MigrationRow{
			FileName:     fn,
			ContentUp:    "-- -- --\nUP " + itoa(fn) + ";",
			ContentDown:  "-- -- --\nDOWN " + itoa(fn) + ";",
			ChecksumUp:   migration.Checksum("-- -- --\nUP " + itoa(fn) + ";"),
			ChecksumDown: migration.Checksum("-- -- --\nDOWN " + itoa(fn) + ";"),
			Properties:   int16(props),
		})
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

func find(t *testing.T, s *Store, fileName int64) *migration.Migration {
	t.Helper()
	m, ok := s.Find(fileName)
	require.True(t, ok, "migration %d not tracked", fileName)
	return m
}

func scripts(db *memdb.DB) []string {
	var out []string
	for _, st := range db.Statements() {
		out = append(out, st.Script)
	}
	return out
}

func rowSummary(db *memdb.DB, schema string) []string {
	var out []string
	for _, row := range db.Rows(schema) {
		out = append(out, itoa(row.FileName)+" "+migration.Properties(row.Properties).String())
	}
	return out
}

func TestStoreOrdering(t *testing.T) {
	f := newFixture(t)
	f.write(t, 300, 100, 200)
	testutil.WriteMigration(t, f.dir, 0, "", "")
	require.NoError(t, os.WriteFile(f.dir+"/up/notes.txt", []byte("ignored"), 0o644))
	require.NoError(t, os.WriteFile(f.dir+"/up/draft.sql", []byte("ignored"), 0o644))

	s := f.store(t, "local", "local", true)

	assert.Equal(t, []int64{0, 100, 200, 300}, fileNamesOf(s.Migrations()))
	state := s.CurrentState()
	assert.Empty(t, state.Migrated)
	assert.Equal(t, []int64{0, 100, 200, 300}, fileNamesOf(state.Pending))
	for _, m := range s.Migrations() {
		assert.Equal(t, migration.NoID, m.ID())
	}
}

func TestStoreOrderingByID(t *testing.T) {
	f := newFixture(t)
	f.seed("dev", migration.Up|migration.Migrate, 200)
	f.seed("dev", migration.Up|migration.Migrate, 100)
	f.seed("dev", migration.Down|migration.Migrate, 200)

	s := f.store(t, "development", "dev", false)

	list := s.Migrations()
	require.Len(t, list, 3)
	assert.Equal(t, []int64{100, 200, 200}, fileNamesOf(list))
	assert.Less(t, list[1].ID(), list[2].ID())

	state := s.CurrentState()
	assert.Equal(t, []int64{100}, fileNamesOf(state.Migrated))
	assert.Equal(t, []int64{200}, fileNamesOf(state.Pending))
}

func TestMigrateUp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, 100, 200, 300)
	s := f.store(t, "local", "local", true)

	require.NoError(t, s.MigrateUp(ctx, find(t, s, 200)))

	assert.Equal(t, []string{"100 UP|MIGRATE", "200 UP|MIGRATE"}, rowSummary(f.db, "local"))
	assert.Equal(t, []string{"-- -- --\nUP 100;", "-- -- --\nUP 200;"}, scripts(f.db))

	state := s.CurrentState()
	assert.Equal(t, []int64{100, 200}, fileNamesOf(state.Migrated))
	assert.Equal(t, []int64{300}, fileNamesOf(state.Pending))
	assert.True(t, find(t, s, 100).IsDBMigration())
	assert.False(t, find(t, s, 300).IsDBMigration())

	require.Len(t, f.journal.runs, 1)
	assert.Equal(t, OpMigrateUp, f.journal.runs[0].Operation)
	assert.Equal(t, ports.OutcomeCommitted, f.journal.runs[0].Outcome)
	assert.Equal(t, []int64{100, 200}, f.journal.runs[0].FileNames)
}

func TestMigrateUpNeedsTarget(t *testing.T) {
	f := newFixture(t)
	s := f.store(t, "local", "local", true)
	err := s.MigrateUp(context.Background(), nil)
	assert.True(t, errors.IsCode(err, errors.CodeValidationError))
}

func TestMigrateUpNothingPending(t *testing.T) {
	f := newFixture(t)
	f.seed("dev", migration.Up|migration.Merge, 100)
	s := f.store(t, "development", "dev", false)

	require.NoError(t, s.MigrateUp(context.Background(), find(t, s, 100)))
	assert.Zero(t, f.db.Begins)
	assert.Empty(t, f.journal.runs)
}

func TestMigrateUpFailureIsAtomic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, 1, 2, 4, 5)
	testutil.WriteMigration(t, f.dir, 3, "-- -- --\nBROKEN;", "-- -- --\nSELECT 1;")
	f.db.FailOn = "BROKEN"
	s := f.store(t, "local", "local", true)

	err := s.MigrateUp(ctx, find(t, s, 5))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeMigrationExecution))
	assert.Contains(t, err.Error(), "[3] commit failed")

	assert.Empty(t, f.db.Rows("local"))
	assert.Empty(t, f.db.Statements())
	assert.Equal(t, 1, f.db.Rollbacks)
	assert.Zero(t, f.db.Commits)
	assert.Empty(t, s.CurrentState().Migrated)

	require.Len(t, f.journal.runs, 1)
	assert.Equal(t, ports.OutcomeFailed, f.journal.runs[0].Outcome)
	assert.NotEmpty(t, f.journal.runs[0].Error)
}

func TestMigrateRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, 100, 200, 300)
	s := f.store(t, "local", "local", true)

	require.NoError(t, s.MigrateUp(ctx, find(t, s, 300)))
	require.NoError(t, s.MigrateDown(ctx, nil))

	assert.Equal(t, []string{
		"-- -- --\nUP 100;", "-- -- --\nUP 200;", "-- -- --\nUP 300;",
		"-- -- --\nDOWN 300;", "-- -- --\nDOWN 200;", "-- -- --\nDOWN 100;",
	}, scripts(f.db))
	assert.Equal(t, []string{
		"100 UP|MIGRATE", "200 UP|MIGRATE", "300 UP|MIGRATE",
		"300 DOWN|MIGRATE", "200 DOWN|MIGRATE", "100 DOWN|MIGRATE",
	}, rowSummary(f.db, "local"))

	state := s.CurrentState()
	assert.Empty(t, state.Migrated)
	assert.Equal(t, []int64{100, 200, 300}, fileNamesOf(state.Pending))
}

func TestMigrateDownToTarget(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed("dev", migration.Up|migration.Merge, 100, 200, 300)
	s := f.store(t, "development", "dev", false)

	require.NoError(t, s.MigrateDown(ctx, find(t, s, 100)))

	assert.Equal(t, []string{"-- -- --\nDOWN 300;", "-- -- --\nDOWN 200;"}, scripts(f.db))
	assert.Equal(t, []int64{100}, fileNamesOf(s.CurrentState().Migrated))
}

func TestDryRunRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, 100, 200)
	f.dryRun = true
	s := f.store(t, "local", "local", true)

	require.NoError(t, s.MigrateUp(ctx, find(t, s, 200)))

	assert.Empty(t, f.db.Rows("local"))
	assert.Equal(t, 1, f.db.Rollbacks)
	assert.Zero(t, f.db.Commits)
	assert.Equal(t, 2, f.db.Execs)
	assert.Equal(t, []int64{100, 200}, fileNamesOf(s.CurrentState().Pending))

	require.Len(t, f.journal.runs, 1)
	assert.Equal(t, ports.OutcomeDryRun, f.journal.runs[0].Outcome)
}

func TestBackupMigration(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.store(t, "local", "local", true)

	m, err := s.NewMigration(migration.CreateOptions{IsBackup: true})
	require.NoError(t, err)
	assert.Equal(t, "backup-900", m.Name())
	assert.Equal(t, int64(900), m.FileName())
	assert.Equal(t, []int64{900}, fileNamesOf(s.Migrations()))

	require.NoError(t, s.MigrateUp(ctx, m))

	assert.Empty(t, f.db.Rows("local"))
	require.Len(t, f.db.Statements(), 1)
	assert.Equal(t, []int64{900}, fileNamesOf(s.CurrentState().Pending))
}

func TestNewMigrationOnlyLocal(t *testing.T) {
	f := newFixture(t)
	s := f.store(t, "development", "dev", false)

	_, err := s.NewMigration(migration.CreateOptions{Name: "nope"})
	assert.True(t, errors.IsCode(err, errors.CodeIllegalState))
}

func TestCurrentStatePartition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, 100, 200, 300, 400)
	s := f.store(t, "local", "local", true)

	require.NoError(t, s.MigrateUp(ctx, find(t, s, 300)))
	require.NoError(t, s.MigrateDown(ctx, find(t, s, 100)))

	state := s.CurrentState()
	seen := map[int64]int{}
	for _, m := range state.Migrated {
		assert.True(t, m.Properties().IsApplied())
		seen[m.FileName()]++
	}
	for _, m := range state.Pending {
		assert.False(t, m.Properties().IsApplied())
		seen[m.FileName()]++
	}
	assert.Equal(t, map[int64]int{100: 1, 200: 1, 300: 1, 400: 1}, seen)
	assert.Equal(t, []int64{100}, fileNamesOf(state.Migrated))
}

func TestChecksumsStableAcrossCommitRollbackCommit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	testutil.WriteMigration(t, f.dir, 100,
		"-- Name: users\n-- -- --\nCREATE TABLE users (id int);",
		"-- Name: users\n-- -- --\nDROP TABLE users;")
	s := f.store(t, "local", "local", true)

	require.NoError(t, s.MigrateUp(ctx, find(t, s, 100)))
	require.NoError(t, s.MigrateDown(ctx, nil))
	require.NoError(t, s.MigrateUp(ctx, find(t, s, 100)))

	assert.Equal(t, []string{"100 UP|MIGRATE", "100 DOWN|MIGRATE", "100 UP|MIGRATE"}, rowSummary(f.db, "local"))

	wantUp := migration.Checksum("-- -- --\nCREATE TABLE users (id int);")
	wantDown := migration.Checksum("-- -- --\nDROP TABLE users;")
	rows := f.db.Rows("local")
	require.Len(t, rows, 3)
	for _, row := range rows {
		assert.Equal(t, wantUp, row.ChecksumUp)
		assert.Equal(t, wantDown, row.ChecksumDown)
	}
	assert.Equal(t, wantUp, find(t, s, 100).ChecksumUp())
}

func TestCheckLocalAndSyncIgnoresAppliedBackups(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write(t, 100, 200)
	testutil.WriteMigration(t, f.dir, 150,
		"-- Backup: true\n-- -- --\nBACKUP 150;",
		"-- Backup: true\n-- -- --\nRESTORE 150;")
	s := f.store(t, "local", "local", true)
	require.True(t, find(t, s, 150).IsBackup())

	require.NoError(t, s.MigrateUp(ctx, find(t, s, 200)))
	assert.Equal(t, []string{"100 UP|MIGRATE", "200 UP|MIGRATE"}, rowSummary(f.db, "local"))
	executed := len(f.db.Statements())

	// No confirmation is scripted, so any prompt fails the check.
	require.NoError(t, s.CheckLocalAndSync(ctx))
	assert.Len(t, f.db.Statements(), executed)
	assert.Empty(t, f.prompter.Questions)
}
