package app

import (
	"context"

	"migrator/internal/core/config"
)

// WatchConfig reloads path on change, applies the run.debug flag and then
// calls each hook with the new config. The returned stop func ends the watch.
func (a *App) WatchConfig(ctx context.Context, path string, hooks ...func(*config.Config)) (func(), error) {
	w := config.NewWatcher(path, a.cfg.Watch.Debounce, func(cfg *config.Config) {
		a.SetDebug(cfg.Run.Debug)
		for _, hook := range hooks {
			hook(cfg)
		}
	})
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w.Stop, nil
}
