package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"aquaguard/internal/alerts"
	"aquaguard/internal/config"
	"aquaguard/internal/engine"
	"aquaguard/internal/health"
	"aquaguard/internal/metrics"
	"aquaguard/internal/model"
	"aquaguard/internal/storage"
	"aquaguard/internal/sweep"
)

func newTestServer(t *testing.T) (*Server, *storage.Memory) {
	t.Helper()
	cfg := config.DefaultConfig()
	store := storage.NewMemory(0)
	lastSeen := metrics.NewStore(0)
	s := New(Deps{
		Config:     config.NewStaticManager(cfg),
		Store:      store,
		Lifecycle:  alerts.NewLifecycle(store, nil),
		Thresholds: engine.NewThresholdSource(store, cfg.Evaluation.Document, 0, nil),
		Health:     health.NewService(health.StaticInfra(100), store, store, nil),
		Sweeper:    sweep.New(cfg.Sweep, sweep.Deps{Alerts: store, Devices: store, LastSeen: lastSeen}),
		LastSeen:   lastSeen,
		Version:    "test",
	})
	return s, store
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func seedAlert(t *testing.T, store *storage.Memory, id string, severity model.Severity) {
	t.Helper()
	err := store.CreateAlert(context.Background(), model.Alert{
		ID:        id,
		DeviceID:  "dev-" + id,
		Parameter: model.ParameterPH,
		AlertType: model.AlertTypeThreshold,
		Severity:  severity,
		Status:    model.StatusActive,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed alert: %v", err)
	}
}

func TestAlertLifecycleEndpoints(t *testing.T) {
	s, store := newTestServer(t)
	seedAlert(t, store, "a1", model.SeverityCritical)

	rec := do(t, s, http.MethodPost, "/alerts/a1/acknowledge", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("acknowledge: %d %s", rec.Code, rec.Body.String())
	}
	var a model.Alert
	if err := json.Unmarshal(rec.Body.Bytes(), &a); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if a.Status != model.StatusAcknowledged || a.AcknowledgedAt == nil {
		t.Fatalf("unexpected alert %+v", a)
	}
	if rec := do(t, s, http.MethodPost, "/alerts/a1/resolve", ""); rec.Code != http.StatusOK {
		t.Fatalf("resolve: %d", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, "/alerts/a1/acknowledge", ""); rec.Code != http.StatusConflict {
		t.Fatalf("expected conflict leaving resolved, got %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/alerts/missing", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestListAlertsFilters(t *testing.T) {
	s, store := newTestServer(t)
	seedAlert(t, store, "a1", model.SeverityCritical)
	seedAlert(t, store, "a2", model.SeverityWarning)

	rec := do(t, s, http.MethodGet, "/alerts?severity=critical&status=active", "")
	var body struct {
		Alerts []model.Alert `json:"alerts"`
		Count  int           `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 || body.Alerts[0].ID != "a1" {
		t.Fatalf("unexpected alerts %+v", body)
	}
	if rec := do(t, s, http.MethodGet, "/alerts?severity=loud", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad severity, got %d", rec.Code)
	}
}

func TestThresholdOverrideRoundTrip(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodPut, "/config/thresholds", `{"thresholds":{"ph":{"warningMax":8.0,"criticalMax":8.8}}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put thresholds: %d %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Effective model.EvaluationConfig `json:"effective"`
	}
	rec = do(t, s, http.MethodGet, "/config/thresholds", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	ph := body.Effective.Thresholds[model.ParameterPH]
	if ph.CriticalMax == nil || *ph.CriticalMax != 8.8 {
		t.Fatalf("override not applied: %+v", ph)
	}
	tds := body.Effective.Thresholds[model.ParameterTDS]
	if tds.WarningMax == nil || *tds.WarningMax != 500 {
		t.Fatalf("untouched parameter lost defaults: %+v", tds)
	}
	if rec := do(t, s, http.MethodPut, "/config/thresholds", `{"thresholds":{"salinity":{}}}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown parameter, got %d", rec.Code)
	}
}

func TestHealthScoreAndDevices(t *testing.T) {
	s, store := newTestServer(t)
	ctx := context.Background()
	_ = store.RecordSeen(ctx, "dev-1", time.Now())
	_ = store.UpsertDevice(ctx, model.DeviceInfo{ID: "dev-2", Status: model.DeviceOffline})

	rec := do(t, s, http.MethodGet, "/health-score", "")
	var res model.HealthScoreResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// 0.6*100 + 0.2*50 + 0.2*100
	if res.OverallScore != 90 || res.Status != model.HealthHealthy {
		t.Fatalf("unexpected score %+v", res)
	}

	rec = do(t, s, http.MethodPut, "/devices/dev-2", `{"name":"North Well","status":"maintenance"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put device: %d %s", rec.Code, rec.Body.String())
	}
	d, _ := store.GetDevice(ctx, "dev-2")
	if d.Name != "North Well" || d.Status != model.DeviceMaintenance {
		t.Fatalf("device not updated: %+v", d)
	}
	if rec := do(t, s, http.MethodPut, "/devices/dev-2", `{"status":"exploded"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad status, got %d", rec.Code)
	}
}

func TestRecipientsAndSweep(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodPut, "/recipients/op-1", `{"contactAddress":"ops@example.com","notificationsEnabled":true,"severities":["critical"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put recipient: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, s, http.MethodGet, "/recipients", "")
	if !strings.Contains(rec.Body.String(), `"recipientId":"op-1"`) {
		t.Fatalf("recipient missing: %s", rec.Body.String())
	}
	if rec := do(t, s, http.MethodDelete, "/recipients/op-1", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rec.Code)
	}
	if rec := do(t, s, http.MethodDelete, "/recipients/op-1", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, "/sweep", ""); rec.Code != http.StatusOK {
		t.Fatalf("sweep: %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, s, http.MethodGet, "/metrics", ""); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "aquaguard_") {
		t.Fatalf("metrics endpoint: %d", rec.Code)
	}
}

func TestPutRecipientAcceptsCapitalisedEnums(t *testing.T) {
	s, store := newTestServer(t)
	rec := do(t, s, http.MethodPut, "/recipients/op-2", `{"contactAddress":"ops@example.com","notificationsEnabled":true,"severities":["Critical","Warning"],"parameters":["pH"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put recipient: %d %s", rec.Code, rec.Body.String())
	}
	list, err := store.ListRecipients(context.Background())
	if err != nil || len(list) != 1 {
		t.Fatalf("list recipients: %v %v", list, err)
	}
	p := list[0]
	if len(p.Severities) != 2 || p.Severities[0] != model.SeverityCritical || p.Parameters[0] != model.ParameterPH {
		t.Fatalf("enums not normalised: %+v", p)
	}
	if rec := do(t, s, http.MethodPut, "/recipients/op-3", `{"contactAddress":"x@example.com","severities":["Severe"]}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown severity, got %d", rec.Code)
	}
}
