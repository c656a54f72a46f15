package secrets

import (
	"cmp"
	"slices"

	"migrator/internal/engine/migration"
)

// Report locates a finding in one script of a migration.
type Report struct {
	FileName  int64
	Name      string
	Direction migration.Direction
	Finding
}

// ScanMigrations checks the up and down scripts of every migration.
func (d *Detector) ScanMigrations(list []*migration.Migration) []Report {
	var reports []Report
	for _, m := range list {
		scripts := []struct {
			direction migration.Direction
			content   string
		}{
			{migration.DirectionUp, m.ContentUp()},
			{migration.DirectionDown, m.ContentDown()},
		}
		for _, s := range scripts {
			for _, f := range d.Detect(s.content) {
				reports = append(reports, Report{
					FileName:  m.FileName(),
					Name:      m.Label(),
					Direction: s.direction,
					Finding:   f,
				})
			}
		}
	}
	slices.SortStableFunc(reports, func(a, b Report) int {
		return cmp.Compare(a.FileName, b.FileName)
	})
	return reports
}
