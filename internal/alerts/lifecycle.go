package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"aquaguard/internal/logging"
	"aquaguard/internal/model"
	"aquaguard/internal/storage"
)

var ErrInvalidTransition = errors.New("invalid alert status transition")

const maxTransitionAttempts = 3

// Lifecycle applies operator transitions: Active to Acknowledged to Resolved, or Active
// straight to Resolved. Repeating a transition is a no-op.
type Lifecycle struct {
	alerts storage.AlertStore
	logger *slog.Logger
	now    func() time.Time
}

func NewLifecycle(alerts storage.AlertStore, logger *slog.Logger) *Lifecycle {
	return &Lifecycle{alerts: alerts, logger: logging.OrNop(logger), now: time.Now}
}

func (l *Lifecycle) Acknowledge(ctx context.Context, alertID string) (model.Alert, error) {
	return l.transition(ctx, alertID, model.StatusAcknowledged)
}

func (l *Lifecycle) Resolve(ctx context.Context, alertID string) (model.Alert, error) {
	return l.transition(ctx, alertID, model.StatusResolved)
}

func (l *Lifecycle) transition(ctx context.Context, alertID string, to model.Status) (model.Alert, error) {
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		current, err := l.alerts.GetAlert(ctx, alertID)
		if err != nil {
			return model.Alert{}, err
		}
		changed, err := CanTransition(current.Status, to)
		if err != nil {
			return current, err
		}
		if !changed {
			return current, nil
		}
		err = l.alerts.TransitionAlert(ctx, alertID, current.Status, to, l.now())
		if errors.Is(err, storage.ErrStatusConflict) {
			continue
		}
		if err != nil {
			return model.Alert{}, err
		}
		l.logger.Info("alert status changed", "alert_id", alertID, "from", current.Status, "to", to)
		return l.alerts.GetAlert(ctx, alertID)
	}
	return model.Alert{}, fmt.Errorf("alert %s: %w", alertID, storage.ErrStatusConflict)
}

// CanTransition reports whether moving from one status to another changes anything.
func CanTransition(from, to model.Status) (bool, error) {
	if from == to {
		return false, nil
	}
	switch from {
	case model.StatusActive:
		if to == model.StatusAcknowledged || to == model.StatusResolved {
			return true, nil
		}
	case model.StatusAcknowledged:
		if to == model.StatusResolved {
			return true, nil
		}
	}
	return false, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
}
