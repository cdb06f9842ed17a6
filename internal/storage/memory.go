package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"aquaguard/internal/dedupe"
	"aquaguard/internal/model"
)

const (
	defaultAlertLimit       = 10000
	defaultReadingRetention = 24 * time.Hour
)

// Memory keeps everything in process. Alerts are held in creation order and the
// oldest resolved alerts are dropped first once the limit is reached.
type Memory struct {
	mu         sync.RWMutex
	alerts     []model.Alert
	index      map[string]int
	active     map[string]string
	limit      int
	readings   map[string]*readingWindow
	retention  time.Duration
	devices    map[string]model.DeviceInfo
	recipients map[string]model.RecipientPreference
	settings   map[string][]byte
	claims     *dedupe.Cache
}

func NewMemory(limit int) *Memory {
	if limit <= 0 {
		limit = defaultAlertLimit
	}
	return &Memory{
		index:      make(map[string]int),
		active:     make(map[string]string),
		limit:      limit,
		readings:   make(map[string]*readingWindow),
		retention:  defaultReadingRetention,
		devices:    make(map[string]model.DeviceInfo),
		recipients: make(map[string]model.RecipientPreference),
		settings:   make(map[string][]byte),
		claims:     dedupe.NewCache(),
	}
}

func (m *Memory) Init(context.Context) error { return nil }
func (m *Memory) Ping(context.Context) error { return nil }
func (m *Memory) Close() error               { return nil }

func (m *Memory) CreateAlert(_ context.Context, alert model.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := alert.DedupeKey()
	if alert.Status == model.StatusActive {
		if _, ok := m.active[key]; ok {
			return ErrActiveAlertExists
		}
	}
	alert = cloneAlert(alert)
	m.alerts = append(m.alerts, alert)
	m.index[alert.ID] = len(m.alerts) - 1
	if alert.Status == model.StatusActive {
		m.active[key] = alert.ID
	}
	if len(m.alerts) > m.limit {
		m.evictLocked()
	}
	return nil
}

// evictLocked drops the oldest alert of the least urgent kind: resolved, then
// acknowledged, then active non-critical. Active critical alerts go last.
func (m *Memory) evictLocked() {
	victim := -1
	for _, pick := range []func(model.Alert) bool{
		func(a model.Alert) bool { return a.Status == model.StatusResolved },
		func(a model.Alert) bool { return a.Status == model.StatusAcknowledged },
		func(a model.Alert) bool { return a.Severity != model.SeverityCritical },
	} {
		for i, a := range m.alerts {
			if pick(a) {
				victim = i
				break
			}
		}
		if victim >= 0 {
			break
		}
	}
	if victim < 0 {
		victim = 0
	}
	dropped := m.alerts[victim]
	if id, ok := m.active[dropped.DedupeKey()]; ok && id == dropped.ID {
		delete(m.active, dropped.DedupeKey())
	}
	m.alerts = append(m.alerts[:victim], m.alerts[victim+1:]...)
	m.reindexLocked()
}

func (m *Memory) reindexLocked() {
	m.index = make(map[string]int, len(m.alerts))
	for i, a := range m.alerts {
		m.index[a.ID] = i
	}
}

func (m *Memory) GetAlert(_ context.Context, id string) (model.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.index[id]
	if !ok {
		return model.Alert{}, ErrNotFound
	}
	return cloneAlert(m.alerts[i]), nil
}

func (m *Memory) FindActive(_ context.Context, deviceID string, parameter model.Parameter, alertType model.AlertType) (model.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key := model.Alert{DeviceID: deviceID, Parameter: parameter, AlertType: alertType}.DedupeKey()
	id, ok := m.active[key]
	if !ok {
		return model.Alert{}, ErrNotFound
	}
	return cloneAlert(m.alerts[m.index[id]]), nil
}

// ListAlerts returns matching alerts newest first.
func (m *Memory) ListAlerts(_ context.Context, filter AlertFilter) ([]model.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Alert, 0)
	for i := len(m.alerts) - 1; i >= 0; i-- {
		if !filter.matches(m.alerts[i]) {
			continue
		}
		out = append(out, cloneAlert(m.alerts[i]))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *Memory) AddNotifiedRecipients(_ context.Context, alertID string, recipientIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.index[alertID]
	if !ok {
		return ErrNotFound
	}
	m.alerts[i].NotifiedRecipientIDs = mergeIDs(m.alerts[i].NotifiedRecipientIDs, recipientIDs)
	return nil
}

func (m *Memory) TransitionAlert(_ context.Context, alertID string, from, to model.Status, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.index[alertID]
	if !ok {
		return ErrNotFound
	}
	a := &m.alerts[i]
	if a.Status != from {
		return ErrStatusConflict
	}
	a.Status = to
	ts := at.UTC()
	switch to {
	case model.StatusAcknowledged:
		a.AcknowledgedAt = &ts
	case model.StatusResolved:
		a.ResolvedAt = &ts
	}
	if from == model.StatusActive && to != model.StatusActive {
		if id := m.active[a.DedupeKey()]; id == a.ID {
			delete(m.active, a.DedupeKey())
		}
	}
	return nil
}

func (m *Memory) SaveReading(_ context.Context, r model.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.readings[r.DeviceID]
	if !ok {
		w = newReadingWindow(m.retention)
		m.readings[r.DeviceID] = w
	}
	w.Add(r)
	return nil
}

func (m *Memory) ReadingsInWindow(_ context.Context, deviceID string, start, end time.Time, limit int) ([]model.Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.readings[deviceID]
	if !ok {
		return []model.Reading{}, nil
	}
	return w.Range(start, end, limit), nil
}

func (m *Memory) GetDevice(_ context.Context, id string) (model.DeviceInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[id]
	if !ok {
		return model.DeviceInfo{}, ErrNotFound
	}
	return d, nil
}

func (m *Memory) ListDevices(context.Context) ([]model.DeviceInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.DeviceInfo, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateDeviceStatus(_ context.Context, id string, status model.DeviceStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return ErrNotFound
	}
	d.Status = status
	m.devices[id] = d
	return nil
}

func (m *Memory) UpsertDevice(_ context.Context, d model.DeviceInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.devices[d.ID]; ok && d.LastSeen.IsZero() {
		d.LastSeen = existing.LastSeen
	}
	if d.Status == "" {
		d.Status = model.DeviceUnknown
	}
	m.devices[d.ID] = d
	return nil
}

// RecordSeen registers unknown devices and marks them online. Devices in
// maintenance keep that status.
func (m *Memory) RecordSeen(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		d = model.DeviceInfo{ID: id}
	}
	if at.After(d.LastSeen) {
		d.LastSeen = at.UTC()
	}
	if d.Status != model.DeviceMaintenance {
		d.Status = model.DeviceOnline
	}
	m.devices[id] = d
	return nil
}

func (m *Memory) ListRecipients(context.Context) ([]model.RecipientPreference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.RecipientPreference, 0, len(m.recipients))
	for _, p := range m.recipients {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecipientID < out[j].RecipientID })
	return out, nil
}

func (m *Memory) UpsertRecipient(_ context.Context, p model.RecipientPreference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recipients[p.RecipientID] = p
	return nil
}

func (m *Memory) DeleteRecipient(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recipients[id]; !ok {
		return ErrNotFound
	}
	delete(m.recipients, id)
	return nil
}

func (m *Memory) GetSetting(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.settings[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) PutSetting(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return m.claims.Acquire(ctx, key, ttl)
}

func (m *Memory) Release(ctx context.Context, key string) error {
	return m.claims.Release(ctx, key)
}

func cloneAlert(a model.Alert) model.Alert {
	a.NotifiedRecipientIDs = append([]string(nil), a.NotifiedRecipientIDs...)
	if a.Metadata != nil {
		md := make(map[string]any, len(a.Metadata))
		for k, v := range a.Metadata {
			md[k] = v
		}
		a.Metadata = md
	}
	return a
}
