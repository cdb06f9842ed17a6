package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"aquaguard/internal/config"
	"aquaguard/internal/dedupe"
	"aquaguard/internal/logging"
	"aquaguard/internal/metrics"
	"aquaguard/internal/model"
	"aquaguard/internal/storage"
)

var ErrInProgress = errors.New("sweep already in progress")

const DefaultStaleAfter = 2 * time.Hour

// Escalator receives each stale alert once per ledger period.
type Escalator interface {
	Escalate(ctx context.Context, alert model.Alert) error
}

type EscalatorFunc func(ctx context.Context, alert model.Alert) error

func (f EscalatorFunc) Escalate(ctx context.Context, alert model.Alert) error { return f(ctx, alert) }

type Result struct {
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Stale     []string      `json:"stale"`
	Escalated []string      `json:"escalated"`
	Offline   []string      `json:"offline"`
}

type Deps struct {
	Logger    *slog.Logger
	Alerts    storage.AlertStore
	Devices   storage.DeviceRegistry
	LastSeen  *metrics.Store
	Ledger    dedupe.Guard
	Escalator Escalator
}

// Sweeper flags active critical alerts older than the staleness window and marks devices
// that stopped reporting as offline.
type Sweeper struct {
	logger       *slog.Logger
	alerts       storage.AlertStore
	devices      storage.DeviceRegistry
	lastSeen     *metrics.Store
	ledger       dedupe.Guard
	escalator    Escalator
	staleAfter   time.Duration
	ledgerTTL    time.Duration
	offlineAfter time.Duration
	running      atomic.Bool
	now          func() time.Time
}

func New(cfg config.SweepConfig, deps Deps) *Sweeper {
	s := &Sweeper{
		logger:       logging.OrNop(deps.Logger),
		alerts:       deps.Alerts,
		devices:      deps.Devices,
		lastSeen:     deps.LastSeen,
		ledger:       deps.Ledger,
		escalator:    deps.Escalator,
		staleAfter:   cfg.StaleAfter,
		ledgerTTL:    cfg.LedgerTTL,
		offlineAfter: cfg.OfflineAfter,
		now:          time.Now,
	}
	if s.staleAfter <= 0 {
		s.staleAfter = DefaultStaleAfter
	}
	if s.ledger == nil {
		// a store that can hold claims keeps the ledger across processes
		if g, ok := deps.Alerts.(dedupe.Guard); ok {
			s.ledger = g
		} else {
			s.ledger = dedupe.NewCache()
		}
	}
	return s
}

// Run performs one sweep. Overlapping calls return ErrInProgress.
func (s *Sweeper) Run(ctx context.Context) (Result, error) {
	if !s.running.CompareAndSwap(false, true) {
		return Result{}, ErrInProgress
	}
	defer s.running.Store(false)

	now := s.now().UTC()
	res := Result{StartedAt: now, Stale: []string{}, Escalated: []string{}, Offline: []string{}}
	defer func() {
		res.Duration = time.Since(now)
		metrics.SweepDuration.Observe(res.Duration.Seconds())
	}()

	stale, err := s.staleAlerts(ctx, now)
	if err != nil {
		return res, err
	}
	metrics.StaleAlerts.Set(float64(len(stale)))
	for _, a := range stale {
		res.Stale = append(res.Stale, a.ID)
		if s.escalate(ctx, a) {
			res.Escalated = append(res.Escalated, a.ID)
		}
	}

	offline, err := s.markOffline(ctx, now)
	res.Offline = offline
	if err != nil {
		return res, err
	}
	return res, nil
}

func (s *Sweeper) staleAlerts(ctx context.Context, now time.Time) ([]model.Alert, error) {
	open, err := s.alerts.ListAlerts(ctx, storage.AlertFilter{
		Statuses:   []model.Status{model.StatusActive},
		Severities: []model.Severity{model.SeverityCritical},
	})
	if err != nil {
		return nil, fmt.Errorf("list open critical alerts: %w", err)
	}
	out := make([]model.Alert, 0)
	for _, a := range open {
		if now.Sub(a.CreatedAt) > s.staleAfter {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// escalate hands the alert on unless the ledger already holds it. A failed escalation
// releases the ledger entry so the next sweep tries again.
func (s *Sweeper) escalate(ctx context.Context, a model.Alert) bool {
	if s.escalator == nil {
		return false
	}
	key := "escalated:" + a.ID
	ok, err := s.ledger.Acquire(ctx, key, s.ledgerTTL)
	if err != nil {
		s.logger.Warn("escalation ledger unavailable", "alert_id", a.ID, "err", err)
		return false
	}
	if !ok {
		return false
	}
	if err := s.escalator.Escalate(ctx, a); err != nil {
		s.logger.Warn("escalation failed", "alert_id", a.ID, "err", err)
		if rerr := s.ledger.Release(ctx, key); rerr != nil {
			s.logger.Warn("escalation ledger release failed", "alert_id", a.ID, "err", rerr)
		}
		return false
	}
	s.logger.Warn("stale critical alert escalated",
		"alert_id", a.ID,
		"device_id", a.DeviceID,
		"parameter", a.Parameter,
		"age", s.now().Sub(a.CreatedAt).Round(time.Second).String(),
	)
	return true
}

func (s *Sweeper) markOffline(ctx context.Context, now time.Time) ([]string, error) {
	if s.devices == nil || s.offlineAfter <= 0 {
		return []string{}, nil
	}
	cutoff := now.Add(-s.offlineAfter)
	devices, err := s.devices.ListDevices(ctx)
	if err != nil {
		return []string{}, fmt.Errorf("list devices: %w", err)
	}
	out := make([]string, 0)
	var errs []error
	for _, d := range devices {
		if d.Status != model.DeviceOnline {
			continue
		}
		last := d.LastSeen
		if _, seenAt, ok := s.lastSeenAt(d.ID); ok && seenAt.After(last) {
			last = seenAt
		}
		if !last.Before(cutoff) {
			continue
		}
		if err := s.devices.UpdateDeviceStatus(ctx, d.ID, model.DeviceOffline); err != nil {
			errs = append(errs, fmt.Errorf("mark %s offline: %w", d.ID, err))
			continue
		}
		s.logger.Info("device marked offline", "device_id", d.ID, "last_seen", last)
		out = append(out, d.ID)
	}
	return out, errors.Join(errs...)
}

func (s *Sweeper) lastSeenAt(deviceID string) (model.Reading, time.Time, bool) {
	if s.lastSeen == nil {
		return model.Reading{}, time.Time{}, false
	}
	return s.lastSeen.Get(deviceID)
}

// Start runs the sweep every interval until ctx is done. Failures are logged and the next
// tick retries.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				res, err := s.Run(ctx)
				switch {
				case errors.Is(err, ErrInProgress):
					s.logger.Warn("previous sweep still running, skipping tick")
				case err != nil:
					s.logger.Error("sweep failed", "err", err)
				default:
					s.logger.Info("sweep complete",
						"stale", len(res.Stale),
						"escalated", len(res.Escalated),
						"offline", len(res.Offline),
						"duration", res.Duration.String(),
					)
				}
			}
		}
	}()
}
