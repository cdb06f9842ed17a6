package sweep

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"aquaguard/internal/config"
	"aquaguard/internal/metrics"
	"aquaguard/internal/model"
	"aquaguard/internal/storage"
)

type countingEscalator struct {
	mu    sync.Mutex
	calls map[string]int
	fail  bool
}

func (e *countingEscalator) Escalate(_ context.Context, a model.Alert) error {
	if e.fail {
		return errors.New("pager down")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.calls == nil {
		e.calls = make(map[string]int)
	}
	e.calls[a.ID]++
	return nil
}

func seed(t *testing.T, store *storage.Memory, id string, param model.Parameter, severity model.Severity, age time.Duration, now time.Time) {
	t.Helper()
	a := model.Alert{
		ID:        id,
		DeviceID:  "dev-1",
		Parameter: param,
		AlertType: model.AlertTypeThreshold,
		Severity:  severity,
		Status:    model.StatusActive,
		CreatedAt: now.Add(-age),
	}
	if err := store.CreateAlert(context.Background(), a); err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func testSweeper(store *storage.Memory, esc Escalator, now time.Time) *Sweeper {
	cfg := config.DefaultConfig().Sweep
	s := New(cfg, Deps{Alerts: store, Devices: store, LastSeen: metrics.NewStore(0), Escalator: esc})
	s.now = func() time.Time { return now }
	return s
}

func TestSweepFlagsOnlyStaleCritical(t *testing.T) {
	now := time.Now().UTC()
	store := storage.NewMemory(0)
	seed(t, store, "old-critical", model.ParameterPH, model.SeverityCritical, 3*time.Hour, now)
	seed(t, store, "new-critical", model.ParameterTDS, model.SeverityCritical, time.Hour, now)
	seed(t, store, "old-warning", model.ParameterTurbidity, model.SeverityWarning, 5*time.Hour, now)

	res, err := testSweeper(store, &countingEscalator{}, now).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Stale) != 1 || res.Stale[0] != "old-critical" {
		t.Fatalf("unexpected stale set %v", res.Stale)
	}
}

func TestSweepIdempotent(t *testing.T) {
	now := time.Now().UTC()
	store := storage.NewMemory(0)
	seed(t, store, "a1", model.ParameterPH, model.SeverityCritical, 3*time.Hour, now)
	seed(t, store, "a2", model.ParameterTDS, model.SeverityCritical, 4*time.Hour, now)
	esc := &countingEscalator{}
	s := testSweeper(store, esc, now)

	first, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(first.Stale) != 2 || len(second.Stale) != 2 || first.Stale[0] != second.Stale[0] || first.Stale[1] != second.Stale[1] {
		t.Fatalf("stale sets differ: %v vs %v", first.Stale, second.Stale)
	}
	if len(first.Escalated) != 2 || len(second.Escalated) != 0 {
		t.Fatalf("expected escalation only on first run: %v then %v", first.Escalated, second.Escalated)
	}
	for id, n := range esc.calls {
		if n != 1 {
			t.Fatalf("alert %s escalated %d times", id, n)
		}
	}
}

func TestSweepRetriesFailedEscalation(t *testing.T) {
	now := time.Now().UTC()
	store := storage.NewMemory(0)
	seed(t, store, "a1", model.ParameterPH, model.SeverityCritical, 3*time.Hour, now)
	esc := &countingEscalator{fail: true}
	s := testSweeper(store, esc, now)
	res, err := s.Run(context.Background())
	if err != nil || len(res.Escalated) != 0 {
		t.Fatalf("failed escalation reported: %+v err=%v", res, err)
	}
	esc.fail = false
	res, err = s.Run(context.Background())
	if err != nil || len(res.Escalated) != 1 {
		t.Fatalf("expected retry to escalate: %+v err=%v", res, err)
	}
}

type blockingAlerts struct {
	storage.AlertStore
	entered chan struct{}
	release chan struct{}
}

func (b *blockingAlerts) ListAlerts(ctx context.Context, f storage.AlertFilter) ([]model.Alert, error) {
	close(b.entered)
	<-b.release
	return b.AlertStore.ListAlerts(ctx, f)
}

func TestSweepRejectsOverlap(t *testing.T) {
	now := time.Now().UTC()
	blocking := &blockingAlerts{AlertStore: storage.NewMemory(0), entered: make(chan struct{}), release: make(chan struct{})}
	s := New(config.DefaultConfig().Sweep, Deps{Alerts: blocking})
	s.now = func() time.Time { return now }

	var firstErr atomic.Value
	done := make(chan struct{})
	go func() {
		_, err := s.Run(context.Background())
		if err != nil {
			firstErr.Store(err)
		}
		close(done)
	}()
	<-blocking.entered
	if _, err := s.Run(context.Background()); !errors.Is(err, ErrInProgress) {
		t.Fatalf("expected ErrInProgress, got %v", err)
	}
	close(blocking.release)
	<-done
	if v := firstErr.Load(); v != nil {
		t.Fatalf("first run failed: %v", v)
	}
}

func TestSweepMarksSilentDevicesOffline(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	store := storage.NewMemory(0)
	_ = store.RecordSeen(ctx, "quiet", now.Add(-time.Hour))
	_ = store.RecordSeen(ctx, "active", now.Add(-time.Minute))
	_ = store.UpsertDevice(ctx, model.DeviceInfo{ID: "serviced", Status: model.DeviceMaintenance, LastSeen: now.Add(-time.Hour)})

	res, err := testSweeper(store, nil, now).Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Offline) != 1 || res.Offline[0] != "quiet" {
		t.Fatalf("unexpected offline set %v", res.Offline)
	}
	d, _ := store.GetDevice(ctx, "serviced")
	if d.Status != model.DeviceMaintenance {
		t.Fatalf("maintenance device changed to %s", d.Status)
	}
}

func TestSeparateSweepsShareStoreLedger(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewSQLite("file::memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	now := time.Now().UTC()
	if err := store.CreateAlert(ctx, model.Alert{
		ID:                   "a1",
		DeviceID:             "dev-1",
		Parameter:            model.ParameterPH,
		AlertType:            model.AlertTypeThreshold,
		Severity:             model.SeverityCritical,
		Status:               model.StatusActive,
		CreatedAt:            now.Add(-3 * time.Hour),
		NotifiedRecipientIDs: []string{},
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	esc := &countingEscalator{}
	for run := 0; run < 2; run++ {
		// a fresh sweeper per run, as a cron-driven one-shot command would build
		s := New(config.DefaultConfig().Sweep, Deps{Alerts: store, Escalator: esc})
		s.now = func() time.Time { return now }
		res, err := s.Run(ctx)
		if err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		if len(res.Stale) != 1 {
			t.Fatalf("run %d: expected one stale alert, got %v", run, res.Stale)
		}
	}
	if esc.calls["a1"] != 1 {
		t.Fatalf("expected a single escalation across runs, got %d", esc.calls["a1"])
	}
}
