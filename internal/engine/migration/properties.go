package migration

import "strings"

// Properties is the bitmask stored in the properties column. The lifecycle
// bits (Up, Down) record the direction of the row; the remaining bits record
// why the row was written.
type Properties int16

const (
	Up Properties = 1 << iota
	Down
	Migrate
	Merge
	Protected
	Local
	Sync
)

var propertyNames = []struct {
	flag Properties
	name string
}{
	{Up, "UP"},
	{Down, "DOWN"},
	{Migrate, "MIGRATE"},
	{Merge, "MERGE"},
	{Protected, "PROTECTED"},
	{Local, "LOCAL"},
	{Sync, "SYNC"},
}

func (p Properties) Has(flag Properties) bool {
	return p&flag == flag
}

func (p Properties) With(flag Properties) Properties {
	return p | flag
}

// IsApplied reports whether the row describes an applied migration.
func (p Properties) IsApplied() bool {
	return p.Has(Up)
}

func (p Properties) String() string {
	if p == 0 {
		return "NONE"
	}
	parts := make([]string, 0, 2)
	for _, pn := range propertyNames {
		if p.Has(pn.flag) {
			parts = append(parts, pn.name)
		}
	}
	return strings.Join(parts, "|")
}
