package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"

	"migrator/internal/core/app"
	"migrator/internal/core/config"
	"migrator/internal/core/errors"
	"migrator/internal/core/ports"
	"migrator/internal/engine/migration"
	"migrator/internal/engine/secrets"
	"migrator/internal/engine/store"
)

var _ app.Menu = (*Menu)(nil)

// Menu is the interactive stage menu. Failed actions are reported and the
// menu is shown again; only aborts and prompt failures end it.
type Menu struct {
	prompter ports.Prompter
	out      io.Writer
	detector *secrets.Detector
}

// NewMenu builds a menu. detector may be nil to skip the secret scan.
func NewMenu(prompter ports.Prompter, out io.Writer, detector *secrets.Detector) *Menu {
	return &Menu{prompter: prompter, out: out, detector: detector}
}

type menuAction struct {
	label string
	// run is nil for Back.
	run func(ctx context.Context) error
}

func (m *Menu) Run(ctx context.Context, a *app.App) error {
	options := make([]ports.Option, 0, len(config.Stages)+1)
	for _, stage := range config.Stages {
		options = append(options, ports.Option{Label: stageTitles[stage]})
	}
	options = append(options, ports.Option{Label: "Exit"})

	for {
		if ctx.Err() != nil {
			return nil
		}
		heading(m.out, "Database migration")
		if a.Debug() {
			fmt.Fprintln(m.out, warnStyle.Render("debug mode: every batch is rolled back"))
		}

		idx, err := m.prompter.SelectOne(ctx, "Please select a database to migrate", options)
		if err != nil {
			return quietAbort(err)
		}
		if idx < 0 || idx >= len(config.Stages) {
			return nil
		}
		if err := m.stageMenu(ctx, a, config.Stages[idx]); err != nil {
			return quietAbort(err)
		}
	}
}

func (m *Menu) stageMenu(ctx context.Context, a *app.App, stage string) error {
	st, err := a.Store(stage)
	if err != nil {
		return err
	}
	if err := confirmStage(ctx, m.prompter, a.Config(), stage, ""); err != nil {
		if errors.IsCode(err, errors.CodePermissionDenied) {
			m.fail(err)
			return nil
		}
		return err
	}

	for {
		if st.IsLocal() {
			if err := st.CheckLocalAndSync(ctx); err != nil {
				if isFatal(err) {
					return err
				}
				m.fail(err)
				return nil
			}
		}

		fmt.Fprintln(m.out)
		renderStatus(m.out, st, m.detector)

		actions := m.actions(a, st)
		options := make([]ports.Option, 0, len(actions))
		for _, action := range actions {
			options = append(options, ports.Option{Label: action.label})
		}
		idx, err := m.prompter.SelectOne(ctx, stageTitles[stage]+": please select an action", options)
		if err != nil {
			return err
		}
		if idx < 0 || idx >= len(actions) || actions[idx].run == nil {
			return nil
		}
		if err := actions[idx].run(ctx); err != nil {
			if isFatal(err) {
				return err
			}
			m.fail(err)
		}
	}
}

func (m *Menu) actions(a *app.App, st *store.Store) []menuAction {
	var list []menuAction
	if st.IsLocal() {
		list = append(list,
			menuAction{"Generate migrate files", func(ctx context.Context) error { return m.generate(ctx, st, false) }},
			menuAction{"Generate backup migration", func(ctx context.Context) error { return m.generate(ctx, st, true) }},
		)
	}
	list = append(list,
		menuAction{"Migrate up", func(ctx context.Context) error { return m.migrateUp(ctx, a, st) }},
		menuAction{"Migrate down", func(ctx context.Context) error { return m.migrateDown(ctx, a, st) }},
	)
	if next, ok := nextStage(st.Stage()); ok {
		list = append(list, menuAction{"Push to " + next, func(ctx context.Context) error {
			return m.promote(ctx, a, st.Stage(), next)
		}})
	}
	if st.IsLocal() {
		list = append(list, menuAction{"Pull from development", func(ctx context.Context) error {
			return m.promote(ctx, a, config.StageDevelopment, config.StageLocal)
		}})
	}
	return append(list, menuAction{label: "Back"})
}

func nextStage(stage string) (string, bool) {
	for i, s := range config.Stages {
		if s == stage && i+1 < len(config.Stages) {
			return config.Stages[i+1], true
		}
	}
	return "", false
}

func (m *Menu) generate(ctx context.Context, st *store.Store, backup bool) error {
	opts := migration.CreateOptions{IsBackup: backup}
	if !backup {
		name, err := m.prompter.InputText(ctx, ports.Field{Key: "name", Label: "Name"})
		if err != nil {
			return err
		}
		opts.Name = name
	}
	description, err := m.prompter.InputText(ctx, ports.Field{Key: "description", Label: "Description"})
	if err != nil {
		return err
	}
	opts.Description = description

	created, err := st.NewMigration(opts)
	if err != nil {
		return err
	}
	m.done(nil, fmt.Sprintf("Created migration %s (%d)", created.Label(), created.FileName()))
	return nil
}

func (m *Menu) migrateUp(ctx context.Context, a *app.App, st *store.Store) error {
	pending := st.CurrentState().Pending
	if len(pending) == 0 {
		fmt.Fprintln(m.out, statusStyle.Render("Nothing to migrate up."))
		return nil
	}

	target, _, err := m.selectMigration(ctx, "Migrate up to", pending, false)
	if err != nil || target == nil {
		return err
	}
	if err := st.MigrateUp(ctx, target); err != nil {
		return err
	}
	m.done(a, fmt.Sprintf("Migrated %s up to %s", st.Stage(), target.Label()))
	return nil
}

func (m *Menu) migrateDown(ctx context.Context, a *app.App, st *store.Store) error {
	migrated := st.CurrentState().Migrated
	if len(migrated) == 0 {
		fmt.Fprintln(m.out, statusStyle.Render("Nothing to migrate down."))
		return nil
	}

	newestFirst := make([]*migration.Migration, 0, len(migrated))
	for i := len(migrated) - 1; i >= 0; i-- {
		newestFirst = append(newestFirst, migrated[i])
	}
	target, all, err := m.selectMigration(ctx, "Migrate down to", newestFirst, true)
	if err != nil {
		return err
	}
	if target == nil && !all {
		return nil
	}
	if err := st.MigrateDown(ctx, target); err != nil {
		return err
	}
	if all {
		m.done(a, fmt.Sprintf("Rolled %s back to the initial state", st.Stage()))
	} else {
		m.done(a, fmt.Sprintf("Migrated %s down to %s", st.Stage(), target.Label()))
	}
	return nil
}

// selectMigration offers list plus Cancel, and Init when withInit is set.
// all reports that Init was chosen; a nil target without all means cancel.
func (m *Menu) selectMigration(ctx context.Context, title string, list []*migration.Migration, withInit bool) (target *migration.Migration, all bool, err error) {
	options := make([]ports.Option, 0, len(list)+2)
	for _, mig := range list {
		options = append(options, ports.Option{Label: "┣ " + mig.Label(), Hint: formatFileName(mig.FileName())})
	}
	initIdx := -1
	if withInit {
		initIdx = len(options)
		options = append(options, ports.Option{Label: "┣ Init..."})
	}
	options = append(options, ports.Option{Label: "Cancel"})

	idx, err := m.prompter.SelectOne(ctx, title, options)
	if err != nil {
		return nil, false, err
	}
	switch {
	case idx >= 0 && idx < len(list):
		return list[idx], false, nil
	case idx >= 0 && idx == initIdx:
		return nil, true, nil
	}
	return nil, false, nil
}

func (m *Menu) promote(ctx context.Context, a *app.App, from, to string) error {
	if err := confirmStage(ctx, m.prompter, a.Config(), to, ""); err != nil {
		return err
	}
	merged, err := a.Promote(ctx, from, to)
	if err != nil {
		return err
	}
	if !merged {
		fmt.Fprintln(m.out, statusStyle.Render(fmt.Sprintf("%s is already in sync with %s.", stageTitles[to], stageTitles[from])))
		return nil
	}
	m.done(a, fmt.Sprintf("Merged %s into %s", from, to))
	return nil
}

func (m *Menu) done(a *app.App, msg string) {
	if a != nil && a.Debug() {
		msg += " (debug: rolled back)"
	}
	fmt.Fprintln(m.out, successStyle.Render(msg))
}

func (m *Menu) fail(err error) {
	fmt.Fprintln(m.out, errorStyle.Render("Error: "+err.Error()))
}

func isFatal(err error) bool {
	return stderrors.Is(err, ErrAborted) ||
		stderrors.Is(err, context.Canceled) ||
		stderrors.Is(err, context.DeadlineExceeded)
}

func quietAbort(err error) error {
	if isFatal(err) {
		return nil
	}
	return err
}
