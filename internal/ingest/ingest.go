package ingest

import (
	"context"
	"log/slog"
	"time"

	"aquaguard/internal/model"
	"aquaguard/internal/normalize"
)

// Handler consumes one normalized reading. The engine implements it.
type Handler interface {
	Handle(ctx context.Context, r model.Reading) error
}

func SendNonBlocking(ctx context.Context, out chan<- model.Reading, r model.Reading, logger *slog.Logger) bool {
	select {
	case out <- r:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("reading channel full, dropping reading", "device_id", r.DeviceID, "timestamp", r.Timestamp)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// parseReading runs one raw line through the parser and normalizer. A nil reading with a
// nil error means the line carried nothing (blank or a CSV header).
func parseReading(parser *Parser, line string, loc *time.Location) (*model.Reading, error) {
	fields, err := parser.ParseLine(line)
	if err != nil || fields == nil {
		return nil, err
	}
	r, err := normalize.Normalize(*fields, loc)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
