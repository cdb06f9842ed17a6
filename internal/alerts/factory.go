package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"aquaguard/internal/engine"
	"aquaguard/internal/logging"
	"aquaguard/internal/model"
	"aquaguard/internal/storage"
)

// Factory builds alert records from evaluation results and persists them. At most one
// active alert exists per device, parameter and alert type; a second one is not created.
type Factory struct {
	alerts  storage.AlertStore
	devices storage.DeviceRegistry
	logger  *slog.Logger
	newID   func() string
	now     func() time.Time
}

func NewFactory(alerts storage.AlertStore, devices storage.DeviceRegistry, logger *slog.Logger) *Factory {
	return &Factory{
		alerts:  alerts,
		devices: devices,
		logger:  logging.OrNop(logger),
		newID:   uuid.NewString,
		now:     time.Now,
	}
}

func (f *Factory) FromThreshold(ctx context.Context, r model.Reading, res engine.ThresholdResult) (model.Alert, bool, error) {
	if !res.Exceeded {
		return model.Alert{}, false, errors.New("threshold result is not exceeded")
	}
	name := f.deviceName(ctx, r.DeviceID)
	limit := res.Threshold
	alert := f.base(r, name, res.Parameter, model.AlertTypeThreshold, res.Severity, res.Value)
	alert.ThresholdValue = &limit
	alert.Message = thresholdMessage(name, res)
	alert.RecommendedAction = RecommendedAction(model.AlertTypeThreshold, res.Severity, "")
	alert.Metadata = map[string]any{
		"bound":            string(res.Bound),
		"unit":             res.Unit,
		"readingTimestamp": r.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	return f.create(ctx, alert)
}

func (f *Factory) FromTrend(ctx context.Context, r model.Reading, res engine.TrendResult) (model.Alert, bool, error) {
	if !res.HasTrend {
		return model.Alert{}, false, errors.New("trend result has no trend")
	}
	name := f.deviceName(ctx, r.DeviceID)
	severity := engine.TrendSeverity(res.ChangeRate)
	alert := f.base(r, name, res.Parameter, model.AlertTypeTrend, severity, res.CurrentValue)
	alert.TrendDirection = res.Direction
	alert.Message = trendMessage(name, res)
	alert.RecommendedAction = RecommendedAction(model.AlertTypeTrend, severity, res.Direction)
	alert.Metadata = map[string]any{
		"changeRate":       res.ChangeRate,
		"previousValue":    res.PreviousValue,
		"windowMinutes":    res.WindowMinutes,
		"samples":          res.Samples,
		"readingTimestamp": r.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	return f.create(ctx, alert)
}

func (f *Factory) base(r model.Reading, name string, p model.Parameter, alertType model.AlertType, severity model.Severity, value float64) model.Alert {
	return model.Alert{
		ID:                   f.newID(),
		DeviceID:             r.DeviceID,
		DeviceName:           name,
		Parameter:            p,
		AlertType:            alertType,
		Severity:             severity,
		Status:               model.StatusActive,
		CurrentValue:         value,
		CreatedAt:            f.now().UTC(),
		NotifiedRecipientIDs: []string{},
	}
}

func (f *Factory) create(ctx context.Context, alert model.Alert) (model.Alert, bool, error) {
	err := f.alerts.CreateAlert(ctx, alert)
	if err == nil {
		return alert, true, nil
	}
	if !errors.Is(err, storage.ErrActiveAlertExists) {
		return model.Alert{}, false, fmt.Errorf("persist alert: %w", err)
	}
	existing, ferr := f.alerts.FindActive(ctx, alert.DeviceID, alert.Parameter, alert.AlertType)
	if ferr != nil {
		// the active alert was closed between the insert and the lookup
		return model.Alert{}, false, nil
	}
	return existing, false, nil
}

// deviceName falls back to the raw id when the registry cannot answer.
func (f *Factory) deviceName(ctx context.Context, deviceID string) string {
	if f.devices == nil {
		return deviceID
	}
	d, err := f.devices.GetDevice(ctx, deviceID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			f.logger.Warn("device lookup failed", "device_id", deviceID, "err", err)
		}
		return deviceID
	}
	return d.DisplayName()
}
