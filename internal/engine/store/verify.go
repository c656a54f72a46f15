package store

import (
	"os"
	"sort"

	"migrator/internal/engine/migration"
)

// ChecksumMismatch reports a file that no longer matches its applied row.
type ChecksumMismatch struct {
	FileName  int64
	Name      string
	Direction migration.Direction
	File      string
	Recorded  string
}

// VerifyChecksums compares the files on disk with the latest database row of
// each fileName. Entries without a row or without files are skipped.
func (s *Store) VerifyChecksums() []ChecksumMismatch {
	if !s.local {
		return nil
	}

	var mismatches []ChecksumMismatch
	for fileName, m := range latestByFileName(s.Migrations()) {
		if !m.IsDBMigration() {
			continue
		}
		dir := s.deps.Migration.Dir
		checks := []struct {
			direction migration.Direction
			path      string
			recorded  string
		}{
			{migration.DirectionUp, migration.UpPath(dir, fileName), m.ChecksumUp()},
			{migration.DirectionDown, migration.DownPath(dir, fileName), m.ChecksumDown()},
		}
		for _, c := range checks {
			content, err := os.ReadFile(c.path)
			if err != nil {
				continue
			}
			if sum := migration.Checksum(string(content)); sum != c.recorded {
				mismatches = append(mismatches, ChecksumMismatch{
					FileName:  fileName,
					Name:      m.Label(),
					Direction: c.direction,
					File:      sum,
					Recorded:  c.recorded,
				})
			}
		}
	}
	sortMismatches(mismatches)
	return mismatches
}

func sortMismatches(list []ChecksumMismatch) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].FileName != list[j].FileName {
			return list[i].FileName < list[j].FileName
		}
		return list[i].Direction == migration.DirectionUp && list[j].Direction != migration.DirectionUp
	})
}
