// Package notify publishes import progress to Redis so processes other than
// the one running the import can follow a run.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/JonMunkholm/stockimport/internal/core"
	"github.com/JonMunkholm/stockimport/internal/logging"
	"github.com/redis/go-redis/v9"
)

// DefaultPrefix is the channel prefix used when none is configured.
const DefaultPrefix = "stockimport:progress"

const publishTimeout = 2 * time.Second

type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisPublisher is a core.ProgressReporter that publishes each event as
// JSON on "<prefix>:<run_id>". Publish failures are logged and dropped.
type RedisPublisher struct {
	client publisher
	prefix string
}

// NewRedisClient parses url and verifies the server answers.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewRedisPublisher returns a publisher using client.
func NewRedisPublisher(client *redis.Client, prefix string) *RedisPublisher {
	return newPublisher(client, prefix)
}

func newPublisher(client publisher, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisPublisher{client: client, prefix: prefix}
}

// Channel returns the channel events of runID are published on.
func (p *RedisPublisher) Channel(runID string) string {
	return p.prefix + ":" + runID
}

func (p *RedisPublisher) Report(ctx context.Context, ev core.ProgressEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		logging.FromContext(ctx).Warn("encode progress event", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := p.client.Publish(ctx, p.Channel(ev.RunID), data).Err(); err != nil {
		logging.FromContext(ctx).Warn("publish progress event",
			"channel", p.Channel(ev.RunID),
			"type", ev.Type,
			"error", err,
		)
	}
}

// Subscribe follows the events of runID until ctx ends or a complete or
// error event arrives. Undecodable messages are skipped.
func Subscribe(ctx context.Context, client *redis.Client, prefix, runID string) <-chan core.ProgressEvent {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	sub := client.Subscribe(ctx, prefix+":"+runID)
	out := make(chan core.ProgressEvent)

	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				ev, err := decode(msg.Payload)
				if err != nil {
					logging.FromContext(ctx).Debug("skip progress message", "error", err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
				if ev.Type == core.EventComplete || ev.Type == core.EventError {
					return
				}
			}
		}
	}()
	return out
}

func decode(payload string) (core.ProgressEvent, error) {
	var ev core.ProgressEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ev, fmt.Errorf("decode progress event: %w", err)
	}
	return ev, nil
}
