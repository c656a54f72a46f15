package migration

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"migrator/internal/core/errors"
	"migrator/internal/core/ports"
	"migrator/internal/shared/observability"
	"migrator/internal/shared/util"
)

// NoID marks a migration without a row in the current schema.
const NoID int64 = -1

// Source tells where a migration's content came from.
type Source int

const (
	// SourceFilesystem migrations are read from the up/down pair and watched.
	SourceFilesystem Source = iota + 1
	// SourceDatabase migrations carry the content of a persisted row.
	SourceDatabase
)

func (s Source) String() string {
	switch s {
	case SourceFilesystem:
		return "filesystem"
	case SourceDatabase:
		return "database"
	}
	return "unknown"
}

// Deps are the collaborators a migration needs.
type Deps struct {
	// Dir is the migrations root holding the up/ and down/ directories.
	Dir     string
	Watcher ports.FileWatcher
	Now     func() time.Time
	Logger  *slog.Logger
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// UpPath returns the location of the up script for fileName.
func UpPath(dir string, fileName int64) string {
	return filepath.Join(dir, "up", strconv.FormatInt(fileName, 10)+".sql")
}

// DownPath returns the location of the down script for fileName.
func DownPath(dir string, fileName int64) string {
	return filepath.Join(dir, "down", strconv.FormatInt(fileName, 10)+".sql")
}

// CreateOptions describe a new migration file pair.
type CreateOptions struct {
	Name        string
	Description string
	IsBackup    bool
}

// Migration is one reversible change-set.
type Migration struct {
	deps   Deps
	source Source

	mu           sync.RWMutex
	id           int64
	uuid         string
	fileName     int64
	contentUp    string
	contentDown  string
	checksumUp   string
	checksumDown string
	name         string
	description  string
	isBackup     bool
	properties   Properties
	createdAt    time.Time
	cancels      []func()
}

// FromFile loads the file pair for fileName and starts watching it.
func FromFile(deps Deps, fileName int64) (*Migration, error) {
	m := &Migration{
		deps:       deps,
		source:     SourceFilesystem,
		id:         NoID,
		fileName:   fileName,
		properties: Local,
	}

	up, down, err := m.readFiles()
	if err != nil {
		return nil, err
	}
	m.setContent(up, down)
	m.watch()
	return m, nil
}

// FromRow builds a migration from a persisted row. It is never watched.
func FromRow(deps Deps, row ports.MigrationRow) *Migration {
	m := &Migration{
		deps:         deps,
		source:       SourceDatabase,
		id:           row.ID,
		uuid:         row.UUID,
		fileName:     row.FileName,
		contentUp:    row.ContentUp,
		contentDown:  row.ContentDown,
		checksumUp:   row.ChecksumUp,
		checksumDown: row.ChecksumDown,
		properties:   Properties(row.Properties),
		createdAt:    row.CreatedAt,
	}
	h := ParseHeader(row.ContentUp)
	m.name, m.description, m.isBackup = h.Name, h.Description, h.Backup
	return m
}

// Create writes a new header-stamped file pair and loads it.
func Create(deps Deps, opts CreateOptions) (*Migration, error) {
	now := deps.now()
	fileName := now.UnixMilli()

	name := opts.Name
	if name == "" {
		if opts.IsBackup {
			name = "backup-" + strconv.FormatInt(fileName, 10)
		} else {
			name = strconv.FormatInt(fileName, 10)
		}
	}

	fields := HeaderFields{
		GeneratedAt: now,
		Name:        name,
		Backup:      opts.IsBackup,
		Description: opts.Description,
	}

	upPath := UpPath(deps.Dir, fileName)
	downPath := DownPath(deps.Dir, fileName)

	fields.Direction = DirectionUp
	if err := util.CreateExclusive(upPath, RenderHeader(fields), 0o644); err != nil {
		return nil, errors.AddContext(
			errors.Wrap(err, errors.CodeFileWrite, fmt.Sprintf("[%d] write up file", fileName)),
			errors.CtxPath, upPath)
	}

	fields.Direction = DirectionDown
	if err := util.CreateExclusive(downPath, RenderHeader(fields), 0o644); err != nil {
		if rmErr := os.Remove(upPath); rmErr != nil {
			deps.logger().Warn("failed to remove orphaned up file", "path", upPath, "error", rmErr)
		}
		return nil, errors.AddContext(
			errors.Wrap(err, errors.CodeFileWrite, fmt.Sprintf("[%d] write down file", fileName)),
			errors.CtxPath, downPath)
	}

	deps.logger().Info("migration files generated", "file_name", fileName, "name", name, "backup", opts.IsBackup)
	return FromFile(deps, fileName)
}

func (m *Migration) readFiles() (string, string, error) {
	upPath := UpPath(m.deps.Dir, m.fileName)
	up, err := os.ReadFile(upPath)
	if err != nil {
		return "", "", errors.AddContext(
			errors.Wrap(err, errors.CodeFileRead, fmt.Sprintf("[%d] read up file", m.fileName)),
			errors.CtxPath, upPath)
	}

	downPath := DownPath(m.deps.Dir, m.fileName)
	down, err := os.ReadFile(downPath)
	if err != nil {
		return "", "", errors.AddContext(
			errors.Wrap(err, errors.CodeFileRead, fmt.Sprintf("[%d] read down file", m.fileName)),
			errors.CtxPath, downPath)
	}
	return string(up), string(down), nil
}

func (m *Migration) setContent(up, down string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setContentLocked(up, down)
}

func (m *Migration) setContentLocked(up, down string) {
	m.contentUp = up
	m.contentDown = down
	m.checksumUp = Checksum(up)
	m.checksumDown = Checksum(down)
	h := ParseHeader(up)
	m.name, m.description, m.isBackup = h.Name, h.Description, h.Backup
}

func (m *Migration) watch() {
	if m.deps.Watcher == nil {
		return
	}

	cancels := make([]func(), 0, 2)
	for _, path := range []string{UpPath(m.deps.Dir, m.fileName), DownPath(m.deps.Dir, m.fileName)} {
		cancel, err := m.deps.Watcher.Subscribe(path, m.onFileChange)
		if err != nil {
			m.deps.logger().Warn("failed to watch migration file", "path", path, "error", err)
			continue
		}
		cancels = append(cancels, cancel)
	}

	m.mu.Lock()
	m.cancels = cancels
	m.mu.Unlock()
}

func (m *Migration) onFileChange(path string) {
	up, down, err := m.readFiles()
	if err != nil {
		m.deps.logger().Warn("failed to reload migration", "file_name", m.fileName, "path", path, "error", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// A commit may have happened while the files were being read.
	if len(m.cancels) == 0 {
		return
	}
	m.setContentLocked(up, down)
	observability.FileReloadsTotal.Inc()
	m.deps.logger().Debug("migration reloaded", "file_name", m.fileName, "checksum_up", m.checksumUp)
}

func (m *Migration) stopWatchLocked() {
	for _, cancel := range m.cancels {
		cancel()
	}
	m.cancels = nil
}

// Close stops watching the file pair.
func (m *Migration) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopWatchLocked()
}

// Watching reports whether edits to the file pair are being tracked.
func (m *Migration) Watching() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cancels) > 0
}

// Commit applies the up script in tx and records it unless it is a backup.
func (m *Migration) Commit(ctx context.Context, tx ports.Tx, schema string, provenance Properties) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	props := provenance.With(Up)
	if err := tx.Exec(ctx, schema, m.contentUp); err != nil {
		return m.executionError(err, "commit", schema)
	}
	if !m.isBackup {
		if err := tx.InsertMigration(ctx, schema, m.rowLocked(props)); err != nil {
			return m.executionError(err, "record commit", schema)
		}
	}

	m.properties = props
	m.stopWatchLocked()
	return nil
}

// Rollback applies the down script in tx and always records it.
func (m *Migration) Rollback(ctx context.Context, tx ports.Tx, schema string, provenance Properties) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	props := provenance.With(Down)
	if err := tx.Exec(ctx, schema, m.contentDown); err != nil {
		return m.executionError(err, "rollback", schema)
	}
	if err := tx.InsertMigration(ctx, schema, m.rowLocked(props)); err != nil {
		return m.executionError(err, "record rollback", schema)
	}

	m.properties = props
	m.stopWatchLocked()
	return nil
}

func (m *Migration) rowLocked(props Properties) ports.MigrationRow {
	return ports.MigrationRow{
		FileName:     m.fileName,
		ContentUp:    m.contentUp,
		ContentDown:  m.contentDown,
		ChecksumUp:   m.checksumUp,
		ChecksumDown: m.checksumDown,
		Properties:   int16(props),
	}
}

func (m *Migration) executionError(err error, op, schema string) error {
	wrapped := errors.Wrap(err, errors.CodeMigrationExecution, fmt.Sprintf("[%d] %s failed", m.fileName, op))
	wrapped = errors.AddContext(wrapped, errors.CtxSchema, schema)
	return errors.AddContext(wrapped, errors.CtxFileName, m.fileName)
}

// SaveToFile writes the current content to the canonical file pair.
func (m *Migration) SaveToFile() error {
	m.mu.RLock()
	up, down := m.contentUp, m.contentDown
	m.mu.RUnlock()

	upPath := UpPath(m.deps.Dir, m.fileName)
	if err := util.ReplaceFile(upPath, up, 0o644); err != nil {
		return errors.AddContext(
			errors.Wrap(err, errors.CodeFileWrite, fmt.Sprintf("[%d] save up file", m.fileName)),
			errors.CtxPath, upPath)
	}
	downPath := DownPath(m.deps.Dir, m.fileName)
	if err := util.ReplaceFile(downPath, down, 0o644); err != nil {
		return errors.AddContext(
			errors.Wrap(err, errors.CodeFileWrite, fmt.Sprintf("[%d] save down file", m.fileName)),
			errors.CtxPath, downPath)
	}
	return nil
}

// ExistsInFs reports whether both files of the pair are present.
func (m *Migration) ExistsInFs() bool {
	return isFile(UpPath(m.deps.Dir, m.fileName)) && isFile(DownPath(m.deps.Dir, m.fileName))
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Detached returns an unwatched database-sourced copy, used when another
// schema commits this migration.
func (m *Migration) Detached() *Migration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &Migration{
		deps:         m.deps,
		source:       SourceDatabase,
		id:           m.id,
		uuid:         m.uuid,
		fileName:     m.fileName,
		contentUp:    m.contentUp,
		contentDown:  m.contentDown,
		checksumUp:   m.checksumUp,
		checksumDown: m.checksumDown,
		name:         m.name,
		description:  m.description,
		isBackup:     m.isBackup,
		properties:   m.properties,
		createdAt:    m.createdAt,
	}
}

func (m *Migration) Source() Source { return m.source }

func (m *Migration) FileName() int64 { return m.fileName }

func (m *Migration) ID() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.id
}

// IsDBMigration reports whether the migration has a row in its schema.
func (m *Migration) IsDBMigration() bool {
	return m.ID() != NoID
}

func (m *Migration) UUID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.uuid
}

func (m *Migration) Name() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.name
}

func (m *Migration) Description() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.description
}

func (m *Migration) IsBackup() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isBackup
}

func (m *Migration) ContentUp() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.contentUp
}

func (m *Migration) ContentDown() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.contentDown
}

func (m *Migration) ChecksumUp() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checksumUp
}

func (m *Migration) ChecksumDown() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checksumDown
}

func (m *Migration) Properties() Properties {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.properties
}

func (m *Migration) CreatedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.createdAt
}

// Label is the display name: the parsed name, or the fileName.
func (m *Migration) Label() string {
	if name := m.Name(); name != "" {
		return name
	}
	return strconv.FormatInt(m.fileName, 10)
}
