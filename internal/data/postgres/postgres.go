// Package postgres implements ports.Database on a pgx connection pool.
package postgres

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"migrator/internal/core/config"
	"migrator/internal/core/errors"
	"migrator/internal/core/ports"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Namespace holds one migrations_<schema> table per managed schema.
const Namespace = "migrates"

var _ ports.Database = (*DB)(nil)

type DB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Connect opens a pool for cfg and verifies it with a ping. Rejected
// credentials are reported as authentication errors.
func Connect(ctx context.Context, cfg config.Database, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeValidationError, "parse database config")
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "create pg pool")
	}

	db := &DB{pool: pool, logger: logger}
	if err := db.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("connected to database", "database", cfg.DisplayName())
	return db, nil
}

func (d *DB) Ping(ctx context.Context) error {
	if err := d.pool.Ping(ctx); err != nil {
		if isAuthError(err) {
			return errors.Wrap(err, errors.CodeAuthentication, "database rejected the credentials")
		}
		return errors.Wrap(err, errors.CodeInternal, "ping database")
	}
	return nil
}

func isAuthError(err error) bool {
	var pgErr *pgconn.PgError
	if !stderrors.As(err, &pgErr) {
		return false
	}
	// invalid_authorization_specification, invalid_password
	return pgErr.Code == "28000" || pgErr.Code == "28P01"
}

func (d *DB) Bootstrap(ctx context.Context) error {
	stmts := []string{
		"CREATE SCHEMA IF NOT EXISTS " + pgx.Identifier{Namespace}.Sanitize(),
		`CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`,
	}
	for _, stmt := range stmts {
		if _, err := d.pool.Exec(ctx, stmt); err != nil {
			return errors.Wrap(err, errors.CodeInternal, "bootstrap migrates namespace")
		}
	}
	return nil
}

func tableName(schema string) string {
	return pgx.Identifier{Namespace, "migrations_" + schema}.Sanitize()
}

func (d *DB) EnsureMigrationTable(ctx context.Context, schema string) error {
	_, err := d.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+tableName(schema)+` (
		id SERIAL PRIMARY KEY,
		uuid uuid DEFAULT uuid_generate_v4(),
		file_name bigint,
		content_up text,
		content_down text,
		checksum_up character varying(255),
		checksum_down character varying(255),
		properties smallint,
		created_at timestamp with time zone DEFAULT CURRENT_TIMESTAMP,
		updated_at timestamp with time zone DEFAULT CURRENT_TIMESTAMP,
		deleted_at timestamp with time zone DEFAULT NULL
	)`)
	if err != nil {
		return errors.AddContext(
			errors.Wrap(err, errors.CodeInternal, "create migration table"),
			errors.CtxSchema, schema)
	}
	return nil
}

func (d *DB) MigrationRows(ctx context.Context, schema string) ([]ports.MigrationRow, error) {
	rows, err := d.pool.Query(ctx, `SELECT id, uuid::text, file_name, content_up, content_down,
		checksum_up, checksum_down, properties, created_at
		FROM `+tableName(schema)+` WHERE deleted_at IS NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query migrations of %s: %w", schema, err)
	}
	defer rows.Close()

	var out []ports.MigrationRow
	for rows.Next() {
		var (
			r                              ports.MigrationRow
			uuid, up, down, sumUp, sumDown *string
			fileName                       *int64
			props                          *int16
			createdAt                      *time.Time
		)
		if err := rows.Scan(&r.ID, &uuid, &fileName, &up, &down, &sumUp, &sumDown, &props, &createdAt); err != nil {
			return nil, fmt.Errorf("scan migration row: %w", err)
		}
		r.UUID = deref(uuid)
		r.ContentUp = deref(up)
		r.ContentDown = deref(down)
		r.ChecksumUp = deref(sumUp)
		r.ChecksumDown = deref(sumDown)
		if fileName != nil {
			r.FileName = *fileName
		}
		if props != nil {
			r.Properties = *props
		}
		if createdAt != nil {
			r.CreatedAt = *createdAt
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate migration rows: %w", err)
	}
	return out, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Begin opens a serializable transaction and takes a transaction scoped
// advisory lock on schema, so two processes cannot run batches against the
// same schema at once.
func (d *DB) Begin(ctx context.Context, schema string) (ports.Tx, error) {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "migrator:"+schema); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

func (d *DB) Close() error {
	d.pool.Close()
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

// Exec runs script with schema as the search path. Scripts are sent without
// arguments so pgx uses the simple protocol, which allows several statements.
func (t *pgTx) Exec(ctx context.Context, schema, script string) error {
	if _, err := t.tx.Exec(ctx, "SET LOCAL search_path TO "+pgx.Identifier{schema}.Sanitize()); err != nil {
		return fmt.Errorf("set search path: %w", err)
	}
	if _, err := t.tx.Exec(ctx, script); err != nil {
		return err
	}
	return nil
}

func (t *pgTx) InsertMigration(ctx context.Context, schema string, row ports.MigrationRow) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO `+tableName(schema)+` (
		file_name, content_up, content_down, checksum_up, checksum_down, properties
	) VALUES ($1, $2, $3, $4, $5, $6)`,
		row.FileName, row.ContentUp, row.ContentDown, row.ChecksumUp, row.ChecksumDown, row.Properties)
	if err != nil {
		return fmt.Errorf("insert migration row: %w", err)
	}
	return nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

// Rollback is safe to call after Commit.
func (t *pgTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !stderrors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}
