package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"migrator/internal/core/app"
	"migrator/internal/core/config"
	"migrator/internal/core/ports"
	"migrator/internal/engine/migration"
	"migrator/internal/testutil"
	"migrator/internal/testutil/memdb"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Local menu: 0 generate, 1 backup, 2 up, 3 down, 4 push, 5 pull, 6 back.
// Development and test menus: 0 up, 1 down, 2 push, 3 back.
// Main menu: 0 local, 1 development, 2 test, 3 production, 4 exit.

type menuFixture struct {
	dir      string
	db       *memdb.DB
	prompter *testutil.ScriptedPrompter
	app      *app.App
	out      bytes.Buffer
}

func newMenuFixture(t *testing.T) *menuFixture {
	t.Helper()
	t.Setenv("DB_DATABASE", "app")
	cfg, err := config.Default()
	require.NoError(t, err)

	f := &menuFixture{
		dir:      testutil.MigrationsDir(t),
		db:       memdb.New(),
		prompter: testutil.NewScriptedPrompter(),
	}
	testutil.WriteMigration(t, f.dir, 100, "CREATE TABLE users (id int);", "DROP TABLE users;")
	testutil.WriteMigration(t, f.dir, 200, "CREATE TABLE posts (id int);", "DROP TABLE posts;")

	a, err := app.New(app.Options{
		Config: cfg,
		Paths: config.ResolvedPaths{
			MigrationsDir: f.dir,
			UpDir:         filepath.Join(f.dir, "up"),
			DownDir:       filepath.Join(f.dir, "down"),
		},
		Connect: func(context.Context, config.Database) (ports.Database, error) {
			return f.db, nil
		},
		Prompter: f.prompter,
		Now:      func() time.Time { return time.UnixMilli(5000) },
	})
	require.NoError(t, err)
	require.NoError(t, a.SetupEnvironment(context.Background()))
	t.Cleanup(func() { _ = a.Close() })
	f.app = a
	return f
}

func (f *menuFixture) run(t *testing.T) error {
	t.Helper()
	return NewMenu(f.prompter, &f.out, nil).Run(context.Background(), f.app)
}

func (f *menuFixture) assertScriptUsed(t *testing.T) {
	t.Helper()
	confirms, selections, inputs := f.prompter.Remaining()
	assert.Zero(t, confirms, "unused confirms")
	assert.Zero(t, selections, "unused selections")
	assert.Zero(t, inputs, "unused inputs")
}

func TestMenuExit(t *testing.T) {
	f := newMenuFixture(t)
	f.prompter.WithSelections(4)

	require.NoError(t, f.run(t))
	assert.Contains(t, f.out.String(), "Database migration")
	f.assertScriptUsed(t)
}

func TestMenuLocalMigrateUp(t *testing.T) {
	f := newMenuFixture(t)
	f.prompter.WithSelections(0, 2, 1, 6, 4)

	require.NoError(t, f.run(t))

	local, err := f.app.Local()
	require.NoError(t, err)
	state := local.CurrentState()
	require.Len(t, state.Migrated, 2)
	assert.Empty(t, state.Pending)
	assert.Contains(t, f.out.String(), "Migrated local up to 200")
	f.assertScriptUsed(t)
}

func TestMenuLocalMigrateUpCancel(t *testing.T) {
	f := newMenuFixture(t)
	// pending is [100, 200, Cancel]
	f.prompter.WithSelections(0, 2, 2, 6, 4)

	require.NoError(t, f.run(t))

	local, err := f.app.Local()
	require.NoError(t, err)
	assert.Empty(t, local.CurrentState().Migrated)
	assert.Zero(t, f.db.Begins)
}

func TestMenuPushToDevelopment(t *testing.T) {
	f := newMenuFixture(t)
	ctx := context.Background()
	local, err := f.app.Local()
	require.NoError(t, err)
	target, ok := local.Find(200)
	require.True(t, ok)
	require.NoError(t, local.MigrateUp(ctx, target))

	f.prompter.WithSelections(0, 4, 6, 4)
	require.NoError(t, f.run(t))

	dev, err := f.app.Development()
	require.NoError(t, err)
	migrated := dev.CurrentState().Migrated
	require.Len(t, migrated, 2)
	for _, m := range migrated {
		assert.True(t, m.Properties().Has(migration.Merge), "expected MERGE on %d", m.FileName())
	}
	assert.Contains(t, f.out.String(), "Merged local into development")
}

func TestMenuMigrateDownInit(t *testing.T) {
	f := newMenuFixture(t)
	ctx := context.Background()
	local, err := f.app.Local()
	require.NoError(t, err)
	target, _ := local.Find(200)
	require.NoError(t, local.MigrateUp(ctx, target))
	_, err = f.app.Promote(ctx, config.StageLocal, config.StageDevelopment)
	require.NoError(t, err)

	// newest first: [200, 100, Init..., Cancel]
	f.prompter.WithSelections(1, 1, 2, 3, 4)
	require.NoError(t, f.run(t))

	dev, err := f.app.Development()
	require.NoError(t, err)
	assert.Empty(t, dev.CurrentState().Migrated)
	assert.Contains(t, f.out.String(), "Rolled development back to the initial state")
}

func TestMenuProtectedStage(t *testing.T) {
	t.Run("wrong name returns to main menu", func(t *testing.T) {
		f := newMenuFixture(t)
		f.prompter.WithSelections(2, 4).WithInputs("prod")

		require.NoError(t, f.run(t))
		assert.Contains(t, f.out.String(), "did not match")
		f.assertScriptUsed(t)
	})

	t.Run("correct name opens the stage", func(t *testing.T) {
		f := newMenuFixture(t)
		f.prompter.WithSelections(2, 3, 4).WithInputs("test-db")

		require.NoError(t, f.run(t))
		assert.Contains(t, f.out.String(), "Test database")
		assert.NotContains(t, f.out.String(), "did not match")
		f.assertScriptUsed(t)
	})

	t.Run("push into a protected stage asks again", func(t *testing.T) {
		f := newMenuFixture(t)
		ctx := context.Background()
		local, err := f.app.Local()
		require.NoError(t, err)
		target, _ := local.Find(100)
		require.NoError(t, local.MigrateUp(ctx, target))
		_, err = f.app.Promote(ctx, config.StageLocal, config.StageDevelopment)
		require.NoError(t, err)

		f.prompter.WithSelections(1, 2, 3, 4).WithInputs("test-db")
		require.NoError(t, f.run(t))

		test, err := f.app.Test()
		require.NoError(t, err)
		assert.Len(t, test.CurrentState().Migrated, 1)
	})
}

func TestMenuActionFailureKeepsRunning(t *testing.T) {
	f := newMenuFixture(t)
	f.db.FailOn = "posts"
	f.prompter.WithSelections(0, 2, 1, 6, 4)

	require.NoError(t, f.run(t))

	out := f.out.String()
	assert.Contains(t, out, "Error:")
	assert.Contains(t, out, "MIGRATION_EXECUTION")
	local, err := f.app.Local()
	require.NoError(t, err)
	assert.Empty(t, local.CurrentState().Migrated)
	f.assertScriptUsed(t)
}

func TestMenuGenerateMigration(t *testing.T) {
	f := newMenuFixture(t)
	f.prompter.WithSelections(0, 0, 6, 4).WithInputs("add-comments", "comments table")

	require.NoError(t, f.run(t))

	local, err := f.app.Local()
	require.NoError(t, err)
	m, ok := local.Find(5000)
	require.True(t, ok)
	assert.Equal(t, "add-comments", m.Name())
	assert.Equal(t, "comments table", m.Description())
	assert.FileExists(t, migration.UpPath(f.dir, 5000))
	assert.Contains(t, f.out.String(), "Created migration add-comments (5000)")
}

type abortingPrompter struct{ testutil.ScriptedPrompter }

func (*abortingPrompter) SelectOne(context.Context, string, []ports.Option) (int, error) {
	return -1, ErrAborted
}

func TestMenuAbortEndsQuietly(t *testing.T) {
	f := newMenuFixture(t)
	err := NewMenu(&abortingPrompter{}, &f.out, nil).Run(context.Background(), f.app)
	assert.NoError(t, err)
}
