package metrics

import (
	"sync"
	"time"

	"aquaguard/internal/model"
)

// Store keeps the latest reading per device so the sweep can spot devices that went quiet.
type Store struct {
	mu        sync.RWMutex
	byDevice  map[string]model.Reading
	updatedAt map[string]time.Time
	limit     int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 5000
	}
	return &Store{
		byDevice:  make(map[string]model.Reading),
		updatedAt: make(map[string]time.Time),
		limit:     limit,
	}
}

func (s *Store) Update(r model.Reading, seenAt time.Time) {
	if r.DeviceID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byDevice[r.DeviceID] = r
	s.updatedAt[r.DeviceID] = seenAt.UTC()
	if len(s.byDevice) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) Get(deviceID string) (model.Reading, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byDevice[deviceID]
	if !ok {
		return model.Reading{}, time.Time{}, false
	}
	return r, s.updatedAt[deviceID], true
}

func (s *Store) GetAll() map[string]model.Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]model.Reading, len(s.byDevice))
	for id, r := range s.byDevice {
		out[id] = r
	}
	return out
}

// SilentSince lists devices whose last reading arrived before cutoff.
func (s *Store) SilentSince(cutoff time.Time) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0)
	for id, ts := range s.updatedAt {
		if ts.Before(cutoff) {
			out = append(out, id)
		}
	}
	return out
}

func (s *Store) evictOldest() {
	var oldestDevice string
	var oldest time.Time
	for device, ts := range s.updatedAt {
		if oldestDevice == "" || ts.Before(oldest) {
			oldestDevice = device
			oldest = ts
		}
	}
	if oldestDevice != "" {
		delete(s.byDevice, oldestDevice)
		delete(s.updatedAt, oldestDevice)
	}
}
