package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"aquaguard/internal/dedupe"
	"aquaguard/internal/logging"
	"aquaguard/internal/metrics"
	"aquaguard/internal/model"
	"aquaguard/internal/storage"
)

const (
	defaultWorkers          = 8
	defaultRecipientTimeout = 10 * time.Second
	defaultClaimTTL         = time.Hour
)

type Options struct {
	Workers          int
	RecipientTimeout time.Duration
	// Location is the time zone quiet hours are evaluated in.
	Location *time.Location
	// Claims holds one key per alert and recipient while a send is in flight or done,
	// so overlapping dispatches of the same alert reach each recipient once.
	Claims   dedupe.Guard
	ClaimTTL time.Duration
}

// Dispatcher sends an alert to every eligible recipient that has not been notified yet.
// Sends run concurrently up to Workers, each bounded by RecipientTimeout; a failed
// recipient is logged and left out of the alert's notified set.
type Dispatcher struct {
	prefs   storage.PreferenceStore
	alerts  storage.AlertStore
	channel Channel
	logger  *slog.Logger
	workers int
	timeout time.Duration
	loc     *time.Location
	claims  dedupe.Guard
	ttl     time.Duration
	now     func() time.Time
}

func NewDispatcher(prefs storage.PreferenceStore, alerts storage.AlertStore, channel Channel, logger *slog.Logger, opts Options) *Dispatcher {
	d := &Dispatcher{
		prefs:   prefs,
		alerts:  alerts,
		channel: channel,
		logger:  logging.OrNop(logger),
		workers: opts.Workers,
		timeout: opts.RecipientTimeout,
		loc:     opts.Location,
		claims:  opts.Claims,
		ttl:     opts.ClaimTTL,
		now:     time.Now,
	}
	if d.workers <= 0 {
		d.workers = defaultWorkers
	}
	if d.timeout <= 0 {
		d.timeout = defaultRecipientTimeout
	}
	if d.loc == nil {
		d.loc = time.Local
	}
	if d.claims == nil {
		d.claims = dedupe.NewCache()
	}
	if d.ttl <= 0 {
		d.ttl = defaultClaimTTL
	}
	return d
}

func (d *Dispatcher) recipients(ctx context.Context, alert model.Alert) ([]model.RecipientPreference, error) {
	prefs, err := d.prefs.ListRecipients(ctx)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	return Eligible(alert, prefs, d.now().In(d.loc)), nil
}

// Dispatch returns the ids reached by this call and records them on the alert.
func (d *Dispatcher) Dispatch(ctx context.Context, alert model.Alert) ([]string, error) {
	eligible, err := d.recipients(ctx, alert)
	if err != nil {
		return nil, err
	}
	pending := eligible[:0]
	for _, p := range eligible {
		if alert.WasNotified(p.RecipientID) || !d.claim(ctx, alert.ID, p.RecipientID) {
			continue
		}
		pending = append(pending, p)
	}
	if len(pending) == 0 {
		return nil, nil
	}
	subject, body := Render(alert)
	sent := d.fanOut(ctx, alert, pending, subject, body)
	d.releaseUnsent(ctx, alert.ID, pending, sent)
	if len(sent) == 0 {
		return nil, nil
	}
	if err := d.alerts.AddNotifiedRecipients(ctx, alert.ID, sent); err != nil {
		return sent, fmt.Errorf("record notified recipients for %s: %w", alert.ID, err)
	}
	return sent, nil
}

func claimKey(alertID, recipientID string) string {
	return "notify:" + alertID + ":" + recipientID
}

// claim reports whether this call owns the send to recipientID. A guard error falls back
// to sending.
func (d *Dispatcher) claim(ctx context.Context, alertID, recipientID string) bool {
	ok, err := d.claims.Acquire(ctx, claimKey(alertID, recipientID), d.ttl)
	if err != nil {
		d.logger.Warn("notification claim failed", "alert_id", alertID, "recipient_id", recipientID, "err", err)
		return true
	}
	return ok
}

// releaseUnsent frees the claims of failed recipients so a later trigger retries them.
func (d *Dispatcher) releaseUnsent(ctx context.Context, alertID string, pending []model.RecipientPreference, sent []string) {
	reached := make(map[string]struct{}, len(sent))
	for _, id := range sent {
		reached[id] = struct{}{}
	}
	for _, p := range pending {
		if _, ok := reached[p.RecipientID]; ok {
			continue
		}
		if err := d.claims.Release(ctx, claimKey(alertID, p.RecipientID)); err != nil {
			d.logger.Warn("notification claim release failed", "alert_id", alertID, "recipient_id", p.RecipientID, "err", err)
		}
	}
}

// Escalate re-sends a stale alert to every eligible recipient regardless of earlier
// deliveries. It fails only when nobody could be reached.
func (d *Dispatcher) Escalate(ctx context.Context, alert model.Alert) error {
	eligible, err := d.recipients(ctx, alert)
	if err != nil {
		return err
	}
	if len(eligible) == 0 {
		d.logger.Warn("no recipients for escalation", "alert_id", alert.ID)
		return nil
	}
	subject, body := RenderEscalation(alert)
	if sent := d.fanOut(ctx, alert, eligible, subject, body); len(sent) == 0 {
		return errors.New("escalation reached no recipients")
	}
	return nil
}

func (d *Dispatcher) fanOut(ctx context.Context, alert model.Alert, recipients []model.RecipientPreference, subject, body string) []string {
	var (
		mu   sync.Mutex
		sent = make([]string, 0, len(recipients))
		g    errgroup.Group
	)
	g.SetLimit(d.workers)
	for _, p := range recipients {
		p := p
		g.Go(func() error {
			rctx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()
			if err := d.channel.Send(rctx, p.ContactAddress, subject, body); err != nil {
				metrics.NotificationsSent.WithLabelValues("failed").Inc()
				d.logger.Warn("notification failed",
					"alert_id", alert.ID,
					"recipient_id", p.RecipientID,
					"err", err,
				)
				return nil
			}
			metrics.NotificationsSent.WithLabelValues("sent").Inc()
			mu.Lock()
			sent = append(sent, p.RecipientID)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return sent
}
