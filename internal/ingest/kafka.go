package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"aquaguard/internal/config"
	"aquaguard/internal/engine"
	"aquaguard/internal/logging"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer reads one topic with a consumer group. A message is committed only after the
// handler accepted it, was rejected as invalid, or exhausted its attempts.
type KafkaConsumer struct {
	reader      messageReader
	handler     Handler
	parser      *Parser
	cfg         *config.Manager
	maxAttempts int
	backoff     time.Duration
	logger      *slog.Logger
}

func NewKafkaConsumer(cfg *config.Manager, handler Handler, logger *slog.Logger) *KafkaConsumer {
	current := cfg.Get().Ingest.Kafka
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	return newKafkaConsumer(reader, cfg, handler, logger)
}

func newKafkaConsumer(reader messageReader, cfg *config.Manager, handler Handler, logger *slog.Logger) *KafkaConsumer {
	attempts := cfg.Get().Ingest.Kafka.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	return &KafkaConsumer{
		reader:      reader,
		handler:     handler,
		parser:      NewParser(),
		cfg:         cfg,
		maxAttempts: attempts,
		backoff:     500 * time.Millisecond,
		logger:      logging.OrNop(logger),
	}
}

// Run consumes until ctx is done.
func (k *KafkaConsumer) Run(ctx context.Context) error {
	defer k.reader.Close()
	k.logger.Info("kafka ingest started")
	for {
		m, err := k.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			k.logger.Warn("kafka fetch error", "err", err)
			if !BackoffSleep(ctx, k.backoff) {
				return nil
			}
			continue
		}
		k.process(ctx, m)
		if err := k.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			k.logger.Warn("kafka commit error", "partition", m.Partition, "offset", m.Offset, "err", err)
		}
	}
}

func (k *KafkaConsumer) process(ctx context.Context, m kafka.Message) {
	r, err := parseReading(k.parser, string(m.Value), k.cfg.Get().Location())
	if err != nil {
		k.logger.Warn("kafka payload rejected", "offset", m.Offset, "err", err)
		return
	}
	if r == nil {
		return
	}
	for attempt := 1; attempt <= k.maxAttempts; attempt++ {
		err = k.handler.Handle(ctx, *r)
		if err == nil || errors.Is(err, engine.ErrInvalidReading) {
			return
		}
		k.logger.Warn("kafka handle failed", "device_id", r.DeviceID, "attempt", attempt, "err", err)
		if attempt < k.maxAttempts && !BackoffSleep(ctx, k.backoff*time.Duration(attempt)) {
			return
		}
	}
	k.logger.Error("kafka message dropped after retries", "device_id", r.DeviceID, "offset", m.Offset, "err", err)
}
