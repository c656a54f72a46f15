package cli

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"migrator/internal/core/config"
	"migrator/internal/core/ports"
	"migrator/internal/engine/migration"
	"migrator/internal/engine/secrets"
	"migrator/internal/engine/store"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var stageTitles = map[string]string{
	config.StageLocal:       "Local database",
	config.StageDevelopment: "Development database",
	config.StageTest:        "Test database",
	config.StageProduction:  "Production database",
}

func heading(w io.Writer, title string) {
	fmt.Fprintln(w, titleStyle.Render(title))
	fmt.Fprintln(w, separator(50))
}

// renderStatus prints the resolved state of st, newest last. For the local
// store it adds checksum drift and secret scan warnings; det may be nil.
func renderStatus(w io.Writer, st *store.Store, det *secrets.Detector) {
	state := st.CurrentState()
	fmt.Fprintf(w, "%s %s\n", titleStyle.Render(stageTitles[st.Stage()]), statusStyle.Render("("+st.Schema()+")"))

	type row struct {
		m     *migration.Migration
		state string
	}
	rows := make([]row, 0, len(state.Migrated)+len(state.Pending))
	for _, m := range state.Migrated {
		rows = append(rows, row{m: m, state: "applied"})
	}
	for _, m := range state.Pending {
		rows = append(rows, row{m: m, state: "pending"})
	}
	if len(rows) == 0 {
		fmt.Fprintln(w, statusStyle.Render("no migrations"))
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].m.FileName() < rows[j].m.FileName()
	})

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("FILE", "NAME", "STATE", "PROPERTIES")
	for _, r := range rows {
		t.Row(strconv.FormatInt(r.m.FileName(), 10), r.m.Label(), r.state, r.m.Properties().String())
	}
	fmt.Fprintln(w, t.Render())
	fmt.Fprintf(w, "%d applied, %d pending\n", len(state.Migrated), len(state.Pending))

	for _, mm := range st.VerifyChecksums() {
		fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf(
			"checksum mismatch: %d %s (%s) file %s, recorded %s",
			mm.FileName, mm.Name, mm.Direction, shortSum(mm.File), shortSum(mm.Recorded))))
	}
	if det == nil || !st.IsLocal() {
		return
	}
	list := append(append([]*migration.Migration(nil), state.Migrated...), state.Pending...)
	for _, r := range det.ScanMigrations(list) {
		fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf(
			"possible secret: %d %s (%s) line %d: %s %s [%s]",
			r.FileName, r.Name, r.Direction, r.Line, r.Kind, secrets.MaskValue(r.Value), r.Severity)))
	}
}

func renderRuns(w io.Writer, runs []ports.RunRecord) {
	if len(runs) == 0 {
		fmt.Fprintln(w, statusStyle.Render("no runs recorded"))
		return
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("RUN", "STARTED", "SCHEMA", "OPERATION", "FILES", "OUTCOME", "DURATION", "ERROR")
	for _, r := range runs {
		files := make([]string, 0, len(r.FileNames))
		for _, f := range r.FileNames {
			files = append(files, strconv.FormatInt(f, 10))
		}
		t.Row(
			shortID(r.ID),
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Schema,
			r.Operation,
			strings.Join(files, ","),
			r.Outcome,
			r.Duration.Round(time.Millisecond).String(),
			r.Error,
		)
	}
	fmt.Fprintln(w, t.Render())
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func shortSum(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
