package cli

import (
	"context"
	"fmt"
	"strings"

	"migrator/internal/core/config"
	"migrator/internal/core/errors"
	"migrator/internal/core/ports"
)

// confirmStage requires the configured database name before acting on a
// protected stage. A non-empty typed value is used instead of prompting.
func confirmStage(ctx context.Context, p ports.Prompter, cfg *config.Config, stage, typed string) error {
	if !cfg.Protected.IsProtected(stage) {
		return nil
	}
	want := cfg.Protected.ConfirmName(stage)

	if typed == "" {
		value, err := p.InputText(ctx, ports.Field{
			Key:   "confirm",
			Label: fmt.Sprintf("Protected action. Please confirm it by typing the database name (%s)", want),
		})
		if err != nil {
			return err
		}
		typed = value
	}
	if strings.TrimSpace(typed) != want {
		return errors.Newf(errors.CodePermissionDenied, "confirmation for protected stage %q did not match", stage)
	}
	return nil
}
