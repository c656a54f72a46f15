package testutil

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

// MigrationsDir creates a temporary migrations root with up/ and down/.
func MigrationsDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, sub := range []string{"up", "down"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

// WriteMigration writes an up/down pair for fileName under dir.
func WriteMigration(t *testing.T, dir string, fileName int64, up, down string) {
	t.Helper()
	name := strconv.FormatInt(fileName, 10) + ".sql"
	if err := os.WriteFile(filepath.Join(dir, "up", name), []byte(up), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "down", name), []byte(down), 0o644); err != nil {
		t.Fatal(err)
	}
}
