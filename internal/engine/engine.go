package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"aquaguard/internal/config"
	"aquaguard/internal/dedupe"
	"aquaguard/internal/logging"
	"aquaguard/internal/metrics"
	"aquaguard/internal/model"
	"aquaguard/internal/storage"
)

var ErrInvalidReading = errors.New("invalid reading")

// AlertFactory turns evaluation results into persisted alerts. created is false when an
// active alert already holds the slot.
type AlertFactory interface {
	FromThreshold(ctx context.Context, r model.Reading, res ThresholdResult) (alert model.Alert, created bool, err error)
	FromTrend(ctx context.Context, r model.Reading, res TrendResult) (alert model.Alert, created bool, err error)
}

// Notifier fans an alert out to eligible recipients and returns the ids that were reached.
type Notifier interface {
	Dispatch(ctx context.Context, alert model.Alert) ([]string, error)
}

type Deps struct {
	Logger     *slog.Logger
	Readings   storage.ReadingStore
	Devices    storage.DeviceRegistry
	LastSeen   *metrics.Store
	Thresholds *ThresholdSource
	Factory    AlertFactory
	Notifier   Notifier
	// Redelivery drops readings seen within the ingest dedupe window. Defaults to an in-process cache.
	Redelivery dedupe.Guard
}

type Engine struct {
	logger     *slog.Logger
	cfg        atomic.Value
	readings   storage.ReadingStore
	devices    storage.DeviceRegistry
	lastSeen   *metrics.Store
	thresholds *ThresholdSource
	trend      *TrendAnalyzer
	factory    AlertFactory
	notifier   Notifier
	redelivery dedupe.Guard
	started    time.Time
}

func New(cfg *config.Config, deps Deps) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	e := &Engine{
		logger:     logging.OrNop(deps.Logger),
		readings:   deps.Readings,
		devices:    deps.Devices,
		lastSeen:   deps.LastSeen,
		thresholds: deps.Thresholds,
		factory:    deps.Factory,
		notifier:   deps.Notifier,
		redelivery: deps.Redelivery,
		started:    time.Now().UTC(),
	}
	if e.lastSeen == nil {
		e.lastSeen = metrics.NewStore(0)
	}
	if e.redelivery == nil {
		e.redelivery = dedupe.NewCache()
	}
	if e.thresholds == nil {
		e.thresholds = NewThresholdSource(nil, cfg.Evaluation.Document, 0, e.logger)
	}
	e.trend = NewTrendAnalyzer(deps.Readings, cfg.Evaluation.WindowSampleLimit, cfg.Ingest.MaxFutureSkew)
	e.cfg.Store(cfg)
	return e
}

func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.cfg.Store(cfg)
	e.thresholds.Invalidate()
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

func (e *Engine) Started() time.Time {
	return e.started
}

func (e *Engine) LastSeen() *metrics.Store {
	return e.lastSeen
}

// Start runs a worker pool that handles readings from in until ctx is done or in is closed.
func (e *Engine) Start(ctx context.Context, in <-chan model.Reading) {
	workers := e.config().Ingest.Workers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		go func() {
			for {
				select {
				case r, ok := <-in:
					if !ok {
						return
					}
					if err := e.Handle(ctx, r); err != nil {
						e.logger.Error("reading evaluation failed", "device_id", r.DeviceID, "err", err)
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}
}

// Handle evaluates one reading. Failures for one parameter never stop the others; their
// errors are joined into the returned error.
func (e *Engine) Handle(ctx context.Context, r model.Reading) error {
	cfg := e.config()
	if err := ValidateReading(r); err != nil {
		metrics.ReadingsProcessed.WithLabelValues("invalid").Inc()
		return err
	}
	now := time.Now().UTC()
	r.Timestamp = clampTimestamp(r.Timestamp, now, cfg.Ingest.MaxClockSkew, cfg.Ingest.MaxFutureSkew)

	key, dup := e.claimReading(ctx, r, cfg.Ingest.DedupeWindow)
	if dup {
		metrics.ReadingsProcessed.WithLabelValues("duplicate").Inc()
		return nil
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	addErr := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	if e.readings != nil {
		if err := e.readings.SaveReading(ctx, r); err != nil {
			e.logger.Warn("reading persistence failed", "device_id", r.DeviceID, "err", err)
			addErr(fmt.Errorf("save reading: %w", err))
		}
	}
	e.lastSeen.Update(r, now)
	if e.devices != nil {
		if err := e.devices.RecordSeen(ctx, r.DeviceID, r.Timestamp); err != nil {
			e.logger.Warn("device last-seen update failed", "device_id", r.DeviceID, "err", err)
		}
	}

	ec := e.thresholds.Current(ctx)
	var g errgroup.Group
	for _, p := range model.Parameters {
		p := p
		g.Go(func() error {
			if err := e.evaluateParameter(ctx, ec, r, p); err != nil {
				addErr(err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		metrics.ReadingsProcessed.WithLabelValues("error").Inc()
		// a failed reading must stay retryable by its producer
		if key != "" {
			if err := e.redelivery.Release(ctx, key); err != nil {
				e.logger.Warn("redelivery release failed", "device_id", r.DeviceID, "err", err)
			}
		}
		return errors.Join(errs...)
	}
	metrics.ReadingsProcessed.WithLabelValues("ok").Inc()
	return nil
}

// evaluateParameter runs the threshold and trend checks for one parameter side by side.
func (e *Engine) evaluateParameter(ctx context.Context, ec model.EvaluationConfig, r model.Reading, p model.Parameter) error {
	value := r.Values.Get(p)
	var (
		g                      errgroup.Group
		thresholdErr, trendErr error
	)

	if tc, ok := ec.Thresholds[p]; ok {
		g.Go(func() error {
			res := EvaluateThreshold(p, value, tc)
			if res.Exceeded {
				thresholdErr = e.raise(ctx, r, p, model.AlertTypeThreshold, func() (model.Alert, bool, error) {
					return e.factory.FromThreshold(ctx, r, res)
				})
			}
			return nil
		})
	}

	g.Go(func() error {
		res, err := e.trend.Analyze(ctx, r.DeviceID, p, value, ec.Trend)
		if err != nil {
			// trend is skipped for this parameter only
			e.logger.Warn("trend analysis skipped", "device_id", r.DeviceID, "parameter", p, "err", err)
			return nil
		}
		if res.HasTrend {
			trendErr = e.raise(ctx, r, p, model.AlertTypeTrend, func() (model.Alert, bool, error) {
				return e.factory.FromTrend(ctx, r, res)
			})
		}
		return nil
	})

	_ = g.Wait()
	return errors.Join(thresholdErr, trendErr)
}

func (e *Engine) raise(ctx context.Context, r model.Reading, p model.Parameter, alertType model.AlertType, create func() (model.Alert, bool, error)) error {
	if e.factory == nil {
		return nil
	}
	alert, created, err := create()
	if err != nil {
		e.logger.Error("alert persistence failed",
			"device_id", r.DeviceID,
			"parameter", p,
			"alert_type", alertType,
			"err", err,
		)
		return fmt.Errorf("%s %s alert for %s: %w", p, alertType, r.DeviceID, err)
	}
	if !created {
		metrics.AlertsSuppressed.WithLabelValues(string(p), string(alertType)).Inc()
		e.logger.Debug("active alert already open",
			"device_id", r.DeviceID,
			"parameter", p,
			"alert_type", alertType,
			"alert_id", alert.ID,
		)
		// recipients that failed earlier get another attempt on the next trigger
		if alert.ID != "" {
			e.dispatch(ctx, alert)
		}
		return nil
	}
	metrics.AlertsCreated.WithLabelValues(string(p), string(alertType), string(alert.Severity)).Inc()
	e.logger.Warn("alert raised",
		"alert_id", alert.ID,
		"device_id", alert.DeviceID,
		"parameter", alert.Parameter,
		"alert_type", alert.AlertType,
		"severity", alert.Severity,
		"value", alert.CurrentValue,
	)
	e.dispatch(ctx, alert)
	return nil
}

func (e *Engine) dispatch(ctx context.Context, alert model.Alert) {
	if e.notifier == nil {
		return
	}
	if _, err := e.notifier.Dispatch(ctx, alert); err != nil {
		e.logger.Warn("notification dispatch incomplete", "alert_id", alert.ID, "err", err)
	}
}

// claimReading records the reading in the redelivery guard. It returns the claimed key,
// empty when nothing was claimed, and whether the reading was already seen.
func (e *Engine) claimReading(ctx context.Context, r model.Reading, window time.Duration) (string, bool) {
	if window <= 0 {
		return "", false
	}
	key := "reading:" + hashReading(r)
	ok, err := e.redelivery.Acquire(ctx, key, window)
	if err != nil {
		e.logger.Warn("redelivery check failed", "device_id", r.DeviceID, "err", err)
		return "", false
	}
	if !ok {
		return "", true
	}
	return key, false
}

// ValidateReading rejects readings without a device id or with non-finite values.
func ValidateReading(r model.Reading) error {
	if strings.TrimSpace(r.DeviceID) == "" {
		return fmt.Errorf("%w: missing device id", ErrInvalidReading)
	}
	for _, p := range model.Parameters {
		v := r.Values.Get(p)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is not a finite number", ErrInvalidReading, p)
		}
	}
	return nil
}

func hashReading(r model.Reading) string {
	parts := []string{
		r.DeviceID,
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		strconv.FormatFloat(r.Values.TDS, 'g', -1, 64),
		strconv.FormatFloat(r.Values.PH, 'g', -1, 64),
		strconv.FormatFloat(r.Values.Turbidity, 'g', -1, 64),
	}
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h[:])
}

func clampTimestamp(ts, now time.Time, maxPast, maxFuture time.Duration) time.Time {
	if ts.IsZero() {
		return now
	}
	if maxPast > 0 {
		if now.Sub(ts) > maxPast {
			return now
		}
	}
	if maxFuture > 0 {
		if ts.Sub(now) > maxFuture {
			return now
		}
	}
	return ts.UTC()
}
