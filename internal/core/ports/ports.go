package ports

import (
	"context"
	"time"
)

// MigrationRow is one persisted row of a migrations_<schema> table.
type MigrationRow struct {
	ID           int64
	UUID         string
	FileName     int64
	ContentUp    string
	ContentDown  string
	ChecksumUp   string
	ChecksumDown string
	Properties   int16
	CreatedAt    time.Time
}

// Database is the relational backend shared by all schema stores.
type Database interface {
	Ping(ctx context.Context) error
	// Bootstrap creates the shared migrates namespace and required extensions.
	Bootstrap(ctx context.Context) error
	EnsureMigrationTable(ctx context.Context, schema string) error
	// MigrationRows returns non-deleted rows in insertion order.
	MigrationRows(ctx context.Context, schema string) ([]MigrationRow, error)
	// Begin opens a serializable transaction scoped to schema.
	Begin(ctx context.Context, schema string) (Tx, error)
	Close() error
}

// Tx is a single serializable batch transaction.
type Tx interface {
	// Exec runs a possibly multi-statement script with schema as search path.
	Exec(ctx context.Context, schema, script string) error
	InsertMigration(ctx context.Context, schema string, row MigrationRow) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Option is a selectable menu entry.
type Option struct {
	Label string
	Hint  string
}

// Field describes a single line of text input.
type Field struct {
	Key     string
	Label   string
	Default string
}

// Prompter is the interactive decision surface used by the core. Calls block
// until the user answers or ctx is done.
type Prompter interface {
	Confirm(ctx context.Context, question string) (bool, error)
	// SelectOne returns the index of the chosen option, or -1 when cancelled.
	SelectOne(ctx context.Context, title string, options []Option) (int, error)
	InputText(ctx context.Context, field Field) (string, error)
}

// FileWatcher notifies subscribers when a watched file changes.
type FileWatcher interface {
	// Subscribe registers fn for path. The returned cancel func is idempotent.
	Subscribe(path string, fn func(path string)) (cancel func(), err error)
}

// Run outcomes recorded by a RunJournal.
const (
	OutcomeCommitted = "committed"
	OutcomeDryRun    = "dry_run"
	OutcomeFailed    = "failed"
)

// RunRecord describes one executed batch.
type RunRecord struct {
	ID        string
	Schema    string
	Operation string
	FileNames []int64
	Outcome   string
	Error     string
	StartedAt time.Time
	Duration  time.Duration
}

// RunJournal keeps an audit trail of batch executions.
type RunJournal interface {
	Record(ctx context.Context, rec RunRecord) error
	Recent(ctx context.Context, limit int) ([]RunRecord, error)
}
