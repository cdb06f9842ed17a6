package health

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"aquaguard/internal/config"
	"aquaguard/internal/logging"
	"aquaguard/internal/metrics"
	"aquaguard/internal/model"
	"aquaguard/internal/storage"
)

// Service snapshots the registry and alert store and scores them.
type Service struct {
	logger  *slog.Logger
	infra   InfraProvider
	devices storage.DeviceRegistry
	alerts  storage.AlertStore
	now     func() time.Time
}

func NewService(infra InfraProvider, devices storage.DeviceRegistry, alerts storage.AlertStore, logger *slog.Logger) *Service {
	if infra == nil {
		infra = StaticInfra(100)
	}
	return &Service{logger: logging.OrNop(logger), infra: infra, devices: devices, alerts: alerts, now: time.Now}
}

// NewInfraProvider picks the provider named by health.infra.
func NewInfraProvider(cfg config.HealthConfig, store Pinger) InfraProvider {
	if strings.EqualFold(cfg.Infra, "system") {
		return NewSystemInfra(store, cfg.DiskPath)
	}
	return StaticInfra(cfg.StaticScore)
}

// Compute fails only when the snapshots cannot be read. An infra provider error scores
// the infra component as 0.
func (s *Service) Compute(ctx context.Context) (model.HealthScoreResult, error) {
	infra, err := s.infra.InfraScore(ctx)
	if err != nil {
		s.logger.Warn("infra score unavailable", "err", err)
		infra = 0
	}
	devices, err := s.devices.ListDevices(ctx)
	if err != nil {
		return model.HealthScoreResult{}, fmt.Errorf("list devices: %w", err)
	}
	alerts, err := s.alerts.ListAlerts(ctx, storage.AlertFilter{})
	if err != nil {
		return model.HealthScoreResult{}, fmt.Errorf("list alerts: %w", err)
	}
	res := Compute(infra, devices, alerts, s.now())
	metrics.HealthScore.Set(float64(res.OverallScore))
	s.logger.Debug("health score computed", "score", res.OverallScore, "status", res.Status)
	return res, nil
}
