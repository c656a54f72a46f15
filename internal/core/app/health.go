package app

import (
	"context"
	"fmt"
	"time"

	"migrator/internal/core/config"
)

type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components"`
}

type HealthService struct {
	app *App
}

func NewHealthService(app *App) *HealthService {
	return &HealthService{app: app}
}

func (s *HealthService) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:     "up",
		Timestamp:  time.Now().UTC(),
		Components: make(map[string]string),
	}

	db, err := s.app.Database()
	if err != nil {
		status.Status = "down"
		status.Components["database"] = "not connected"
		return status
	}
	if err := db.Ping(ctx); err != nil {
		status.Status = "down"
		status.Components["database"] = err.Error()
	} else {
		status.Components["database"] = "ok"
	}

	for _, stage := range config.Stages {
		st, err := s.app.Store(stage)
		if err != nil {
			status.Status = "degraded"
			status.Components[stage] = "missing"
			continue
		}
		state := st.CurrentState()
		status.Components[stage] = fmt.Sprintf("ok (%d migrated, %d pending)", len(state.Migrated), len(state.Pending))
	}

	if s.app.Debug() {
		status.Components["mode"] = "debug"
	}
	return status
}
