package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisChannel publishes notifications on "<prefix>:<contact>" for downstream relays
// (SMS or push gateways) to pick up.
type RedisChannel struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisChannel(client redis.UniversalClient, prefix string) *RedisChannel {
	if prefix == "" {
		prefix = "aquaguard:notify"
	}
	return &RedisChannel{client: client, prefix: prefix}
}

type published struct {
	Contact  string    `json:"contact"`
	Subject  string    `json:"subject"`
	BodyHTML string    `json:"bodyHtml"`
	SentAt   time.Time `json:"sentAt"`
}

func (c *RedisChannel) Send(ctx context.Context, contact, subject, bodyHTML string) error {
	payload, err := json.Marshal(published{Contact: contact, Subject: subject, BodyHTML: bodyHTML, SentAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := c.client.Publish(ctx, c.prefix+":"+contact, payload).Err(); err != nil {
		return fmt.Errorf("redis publish to %s: %w", contact, err)
	}
	return nil
}
