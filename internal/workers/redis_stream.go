// Package workers moves tier change events between the backend and the bot.
package workers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	StreamKey     = "bot:events"
	ConsumerGroup = "bundlealert_tier_consumers"
)

// Event types published on StreamKey.
const (
	EventWalletVerified     = "wallet_verified"
	EventWalletDisconnected = "wallet_disconnected"
)

// Event is a tier change the bot should act on.
type Event struct {
	ID      string
	Type    string
	UserID  int64
	Address string
	Tier    string
}

func (e Event) values() map[string]interface{} {
	return map[string]interface{}{
		"type":    e.Type,
		"user_id": strconv.FormatInt(e.UserID, 10),
		"address": e.Address,
		"tier":    e.Tier,
	}
}

func parseEvent(msg redis.XMessage) (Event, error) {
	str := func(k string) string {
		s, _ := msg.Values[k].(string)
		return s
	}
	ev := Event{ID: msg.ID, Type: str("type"), Address: str("address"), Tier: str("tier")}
	if ev.Type == "" {
		return ev, fmt.Errorf("event %s has no type", msg.ID)
	}
	id, err := strconv.ParseInt(str("user_id"), 10, 64)
	if err != nil {
		return ev, fmt.Errorf("event %s: invalid user_id: %w", msg.ID, err)
	}
	ev.UserID = id
	return ev, nil
}

// Publisher emits events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// StreamPublisher appends events to a capped redis stream.
type StreamPublisher struct {
	rdb    *redis.Client
	maxLen int64
}

func NewStreamPublisher(rdb *redis.Client) *StreamPublisher {
	return &StreamPublisher{rdb: rdb, maxLen: 10000}
}

func (p *StreamPublisher) Publish(ctx context.Context, ev Event) error {
	err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: p.maxLen,
		Approx: true,
		Values: ev.values(),
	}).Err()
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

// Handler processes one event. An error leaves the event pending.
type Handler func(ctx context.Context, ev Event) error

// RedisStreamWorker consumes StreamKey as a member of ConsumerGroup.
type RedisStreamWorker struct {
	rdb      *redis.Client
	consumer string
	handle   Handler
	block    time.Duration
	log      zerolog.Logger
}

func NewRedisStreamWorker(rdb *redis.Client, consumer string, handle Handler, log zerolog.Logger) *RedisStreamWorker {
	return &RedisStreamWorker{
		rdb:      rdb,
		consumer: consumer,
		handle:   handle,
		block:    5 * time.Second,
		log:      log.With().Str("component", "stream_worker").Str("consumer", consumer).Logger(),
	}
}

// Start reads until ctx is done.
func (w *RedisStreamWorker) Start(ctx context.Context) {
	if err := w.ensureGroup(ctx); err != nil {
		w.log.Error().Err(err).Msg("Error creating consumer group")
	}

	w.log.Info().Msg("Starting Redis stream worker...")
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping Redis stream worker...")
			return
		default:
		}

		if _, err := w.poll(ctx); err != nil && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("Error reading from stream")
			// backoff on error
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

func (w *RedisStreamWorker) ensureGroup(ctx context.Context) error {
	err := w.rdb.XGroupCreateMkStream(ctx, StreamKey, ConsumerGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// poll reads one batch, hands each event to the handler and acks the ones handled.
func (w *RedisStreamWorker) poll(ctx context.Context) (int, error) {
	entries, err := w.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    ConsumerGroup,
		Consumer: w.consumer,
		Streams:  []string{StreamKey, ">"},
		Count:    10,
		Block:    w.block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	handled := 0
	for _, stream := range entries {
		for _, msg := range stream.Messages {
			ev, err := parseEvent(msg)
			if err != nil {
				// malformed entries would be redelivered forever
				w.log.Warn().Err(err).Msg("Dropping malformed event")
				w.rdb.XAck(ctx, StreamKey, ConsumerGroup, msg.ID)
				continue
			}
			if err := w.handle(ctx, ev); err != nil {
				w.log.Error().Err(err).Str("event", ev.Type).Str("id", ev.ID).Msg("Event handler failed")
				continue
			}
			w.rdb.XAck(ctx, StreamKey, ConsumerGroup, msg.ID)
			handled++
		}
	}
	return handled, nil
}

// LogHandler records each event, standing in for the bot's tier sync.
func LogHandler(log zerolog.Logger) Handler {
	return func(_ context.Context, ev Event) error {
		log.Info().
			Str("event", ev.Type).
			Int64("user_id", ev.UserID).
			Str("address", ev.Address).
			Str("tier", ev.Tier).
			Msg("Tier event")
		return nil
	}
}
