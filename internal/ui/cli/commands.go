package cli

import (
	"fmt"
	"log/slog"
	"strconv"

	"migrator/internal/core/config"
	"migrator/internal/core/errors"
	"migrator/internal/data/history"
	"migrator/internal/engine/migration"
	"migrator/internal/engine/store"

	"github.com/spf13/cobra"
)

func (c *commandSet) runMenu(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	s, err := c.openSession(ctx, true)
	if err != nil {
		return err
	}
	defer s.Close()

	return s.app.Start(ctx, NewMenu(s.prompter, cmd.OutOrStdout(), s.detector))
}

// readySession opens a session and sets the environment up.
func (c *commandSet) readySession(cmd *cobra.Command) (*session, error) {
	s, err := c.openSession(cmd.Context(), false)
	if err != nil {
		return nil, err
	}
	if err := s.app.SetupEnvironment(cmd.Context()); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (c *commandSet) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status [stage]",
		Short: "Show applied and pending migrations",
		Args:  cobra.MatchAll(usageArgs(cobra.MaximumNArgs(1)), stageArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.readySession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			stages := config.Stages
			if len(args) == 1 {
				stages = args
			}
			out := cmd.OutOrStdout()
			if s.app.Debug() {
				fmt.Fprintln(out, warnStyle.Render("debug mode: every batch is rolled back"))
			}
			for i, stage := range stages {
				st, err := s.app.Store(stage)
				if err != nil {
					return err
				}
				if i > 0 {
					fmt.Fprintln(out)
				}
				renderStatus(out, st, s.detector)
			}
			return nil
		},
	}
}

func (c *commandSet) upCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "up <stage> [file]",
		Short: "Apply pending migrations up to file, or all of them",
		Args:  cobra.MatchAll(usageArgs(cobra.RangeArgs(1, 2)), stageArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			var fileName int64
			if len(args) == 2 {
				v, err := parseFileName(args[1])
				if err != nil {
					return err
				}
				fileName = v
			}

			ctx := cmd.Context()
			s, st, err := c.stageSession(cmd, args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			pending := st.CurrentState().Pending
			if len(pending) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), statusStyle.Render("nothing to migrate up"))
				return nil
			}
			target := pending[len(pending)-1]
			if fileName != 0 {
				target = findByFileName(pending, fileName)
				if target == nil {
					return errors.Newf(errors.CodeNotFound, "migration %d is not pending in %s", fileName, st.Stage())
				}
			}

			if err := confirmStage(ctx, s.prompter, s.cfg, st.Stage(), c.opts.confirmName); err != nil {
				return err
			}
			if err := st.MigrateUp(ctx, target); err != nil {
				return err
			}
			reportDone(cmd, s, fmt.Sprintf("%s migrated up to %s", st.Stage(), target.Label()))
			return nil
		},
	}
}

func (c *commandSet) downCommand() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "down <stage> [file|--all]",
		Short: "Roll back migrations newer than file, or all of them",
		Args:  cobra.MatchAll(usageArgs(cobra.RangeArgs(1, 2)), stageArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 2) {
				return usageError{err: fmt.Errorf("pass either a target file name or --all")}
			}
			var fileName int64
			if len(args) == 2 {
				v, err := parseFileName(args[1])
				if err != nil {
					return err
				}
				fileName = v
			}

			ctx := cmd.Context()
			s, st, err := c.stageSession(cmd, args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			var target *migration.Migration
			if !all {
				target = findByFileName(st.CurrentState().Migrated, fileName)
				if target == nil {
					return errors.Newf(errors.CodeNotFound, "migration %d is not applied in %s", fileName, st.Stage())
				}
			}

			if err := confirmStage(ctx, s.prompter, s.cfg, st.Stage(), c.opts.confirmName); err != nil {
				return err
			}
			if err := st.MigrateDown(ctx, target); err != nil {
				return err
			}
			msg := st.Stage() + " rolled back to the initial state"
			if target != nil {
				msg = fmt.Sprintf("%s migrated down to %s", st.Stage(), target.Label())
			}
			reportDone(cmd, s, msg)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "roll back every applied migration")
	return cmd
}

func (c *commandSet) promoteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "promote <from> <to>",
		Short: "Merge the applied migrations of one stage into another",
		Args:  cobra.MatchAll(usageArgs(cobra.ExactArgs(2)), stageArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to := args[0], args[1]
			if from == to {
				return usageError{err: fmt.Errorf("cannot promote %s into itself", from)}
			}

			ctx := cmd.Context()
			s, err := c.readySession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			if from == config.StageLocal || to == config.StageLocal {
				local, err := s.app.Local()
				if err != nil {
					return err
				}
				if err := local.CheckLocalAndSync(ctx); err != nil {
					return err
				}
			}
			if err := confirmStage(ctx, s.prompter, s.cfg, to, c.opts.confirmName); err != nil {
				return err
			}

			merged, err := s.app.Promote(ctx, from, to)
			if err != nil {
				return err
			}
			if !merged {
				fmt.Fprintln(cmd.OutOrStdout(), statusStyle.Render(fmt.Sprintf("%s is already in sync with %s", to, from)))
				return nil
			}
			reportDone(cmd, s, fmt.Sprintf("promoted %s into %s", from, to))
			return nil
		},
	}
}

func (c *commandSet) newCommand() *cobra.Command {
	var opts migration.CreateOptions
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Generate a new up/down migration file pair",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, _, paths, err := c.loadSettings()
			if err != nil {
				return err
			}

			m, err := migration.Create(migration.Deps{
				Dir:    paths.MigrationsDir,
				Now:    c.env.now,
				Logger: slog.Default(),
			}, opts)
			if err != nil {
				return err
			}
			defer m.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("created migration %s (%d)", m.Label(), m.FileName())))
			fmt.Fprintln(out, migration.UpPath(paths.MigrationsDir, m.FileName()))
			fmt.Fprintln(out, migration.DownPath(paths.MigrationsDir, m.FileName()))
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "migration name (default: the file name, or backup-<file name>)")
	cmd.Flags().StringVar(&opts.Description, "description", "", "migration description")
	cmd.Flags().BoolVar(&opts.IsBackup, "backup", false, "generate a backup migration that is never recorded")
	return cmd
}

func (c *commandSet) historyCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the most recent migration batches",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return usageError{err: fmt.Errorf("--limit must be positive, got %d", limit)}
			}
			cfg, _, paths, err := c.loadSettings()
			if err != nil {
				return err
			}
			if !cfg.History.IsEnabled() {
				return errors.New(errors.CodeNotSupported, "the run journal is disabled (history.enabled = false)")
			}

			journal, err := history.Open(paths.HistoryPath)
			if err != nil {
				return fmt.Errorf("open run journal: %w", err)
			}
			defer journal.Close()

			runs, err := journal.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			renderRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	return cmd
}

func (c *commandSet) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the migrator version",
		Args:  usageArgs(cobra.NoArgs),
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "migrator", versionString)
		},
	}
}

// stageSession opens a ready session and resolves stage. The local store is
// checked against its files first.
func (c *commandSet) stageSession(cmd *cobra.Command, stage string) (*session, *store.Store, error) {
	s, err := c.readySession(cmd)
	if err != nil {
		return nil, nil, err
	}
	st, err := s.app.Store(stage)
	if err != nil {
		s.Close()
		return nil, nil, err
	}
	if st.IsLocal() {
		if err := st.CheckLocalAndSync(cmd.Context()); err != nil {
			s.Close()
			return nil, nil, err
		}
	}
	return s, st, nil
}

func findByFileName(list []*migration.Migration, fileName int64) *migration.Migration {
	for _, m := range list {
		if m.FileName() == fileName {
			return m
		}
	}
	return nil
}

func reportDone(cmd *cobra.Command, s *session, msg string) {
	if s.app.Debug() {
		msg += " (debug: rolled back)"
	}
	fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render(msg))
}

func formatFileName(fileName int64) string {
	return strconv.FormatInt(fileName, 10)
}
