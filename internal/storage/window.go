package storage

import (
	"time"

	"aquaguard/internal/model"
)

// readingWindow holds one device's readings in timestamp order, trimmed from the head.
type readingWindow struct {
	retention time.Duration
	readings  []model.Reading
	head      int
}

func newReadingWindow(retention time.Duration) *readingWindow {
	return &readingWindow{
		retention: retention,
		readings:  make([]model.Reading, 0, 64),
	}
}

func (w *readingWindow) Add(r model.Reading) {
	w.readings = append(w.readings, r)
	// out-of-order arrivals are rare; walk back to keep the slice sorted
	for i := len(w.readings) - 1; i > w.head && w.readings[i].Timestamp.Before(w.readings[i-1].Timestamp); i-- {
		w.readings[i], w.readings[i-1] = w.readings[i-1], w.readings[i]
	}
	if w.retention > 0 {
		w.Evict(r.Timestamp.Add(-w.retention))
	}
}

func (w *readingWindow) Evict(cutoff time.Time) {
	for w.head < len(w.readings) {
		if !w.readings[w.head].Timestamp.Before(cutoff) {
			break
		}
		w.head++
	}
	if w.head > 0 && w.head*2 >= len(w.readings) {
		w.readings = append([]model.Reading{}, w.readings[w.head:]...)
		w.head = 0
	}
}

func (w *readingWindow) Range(start, end time.Time, limit int) []model.Reading {
	out := make([]model.Reading, 0)
	for i := w.head; i < len(w.readings); i++ {
		r := w.readings[i]
		if r.Timestamp.Before(start) {
			continue
		}
		if r.Timestamp.After(end) {
			break
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (w *readingWindow) Len() int {
	return len(w.readings) - w.head
}
