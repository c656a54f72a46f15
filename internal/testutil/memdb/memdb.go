// Package memdb is an in-memory ports.Database for tests. Inserts are staged
// per transaction and only become visible on commit, so all-or-nothing
// behavior can be asserted without a server.
package memdb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"migrator/internal/core/ports"

	"github.com/google/uuid"
)

var _ ports.Database = (*DB)(nil)

// Statement is a script executed by a committed transaction.
type Statement struct {
	Schema string
	Script string
}

type DB struct {
	mu     sync.Mutex
	tables map[string][]ports.MigrationRow
	nextID map[string]int64
	stmts  []Statement
	closed bool

	// FailOn makes Exec fail for scripts containing the substring.
	FailOn       string
	PingErr      error
	BootstrapErr error

	Bootstrapped bool
	Begins       int
	Commits      int
	Rollbacks    int
	Execs        int
}

func New() *DB {
	return &DB{
		tables: make(map[string][]ports.MigrationRow),
		nextID: make(map[string]int64),
	}
}

func (d *DB) Ping(context.Context) error {
	return d.PingErr
}

func (d *DB) Bootstrap(context.Context) error {
	if d.BootstrapErr != nil {
		return d.BootstrapErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Bootstrapped = true
	return nil
}

func (d *DB) EnsureMigrationTable(_ context.Context, schema string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.tables[schema]; !ok {
		d.tables[schema] = nil
	}
	return nil
}

func (d *DB) MigrationRows(_ context.Context, schema string) ([]ports.MigrationRow, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rows, ok := d.tables[schema]
	if !ok {
		return nil, fmt.Errorf("relation \"migrates\".migrations_%s does not exist", schema)
	}
	return append([]ports.MigrationRow(nil), rows...), nil
}

func (d *DB) Begin(_ context.Context, schema string) (ports.Tx, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errors.New("database is closed")
	}
	d.Begins++
	return &tx{db: d, schema: schema}, nil
}

func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Seed appends committed rows directly, assigning ids.
func (d *DB) Seed(schema string, rows ...ports.MigrationRow) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, row := range rows {
		d.appendLocked(schema, row)
	}
}

// Rows returns a copy of the committed rows of schema.
func (d *DB) Rows(schema string) []ports.MigrationRow {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]ports.MigrationRow(nil), d.tables[schema]...)
}

// Statements returns the scripts of committed transactions in execution order.
func (d *DB) Statements() []Statement {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Statement(nil), d.stmts...)
}

func (d *DB) appendLocked(schema string, row ports.MigrationRow) {
	d.nextID[schema]++
	row.ID = d.nextID[schema]
	if row.UUID == "" {
		row.UUID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	d.tables[schema] = append(d.tables[schema], row)
}

type tx struct {
	db     *DB
	schema string
	stmts  []Statement
	rows   []stagedRow
	done   bool
}

type stagedRow struct {
	schema string
	row    ports.MigrationRow
}

func (t *tx) Exec(_ context.Context, schema, script string) error {
	if t.done {
		return errors.New("transaction already closed")
	}
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	t.db.Execs++
	if t.db.FailOn != "" && strings.Contains(script, t.db.FailOn) {
		return fmt.Errorf("syntax error at or near %q", t.db.FailOn)
	}
	t.stmts = append(t.stmts, Statement{Schema: schema, Script: script})
	return nil
}

func (t *tx) InsertMigration(_ context.Context, schema string, row ports.MigrationRow) error {
	if t.done {
		return errors.New("transaction already closed")
	}
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if _, ok := t.db.tables[schema]; !ok {
		return fmt.Errorf("relation \"migrates\".migrations_%s does not exist", schema)
	}
	t.rows = append(t.rows, stagedRow{schema: schema, row: row})
	return nil
}

func (t *tx) Commit(context.Context) error {
	if t.done {
		return errors.New("transaction already closed")
	}
	t.done = true
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	t.db.Commits++
	for _, staged := range t.rows {
		t.db.appendLocked(staged.schema, staged.row)
	}
	t.db.stmts = append(t.db.stmts, t.stmts...)
	return nil
}

func (t *tx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	t.db.Rollbacks++
	return nil
}
