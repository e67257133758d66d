package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLog implements Log on a Redis Stream. Publish is XADD; Claim prefers
// XAUTOCLAIM of entries idle past the visibility timeout, then falls back to
// a blocking XREADGROUP; Ack is XACK.
type RedisLog struct {
	client     *redis.Client
	stream     string
	group      string
	visibility time.Duration
}

// NewRedisLog creates a log over an existing client. visibility bounds how
// long a claimed-but-unacknowledged entry stays assigned to one consumer.
func NewRedisLog(client *redis.Client, stream, group string, visibility time.Duration) *RedisLog {
	return &RedisLog{client: client, stream: stream, group: group, visibility: visibility}
}

// Initialize implements Log. BUSYGROUP means the group already exists, which
// is the idempotent success case.
func (l *RedisLog) Initialize(ctx context.Context) error {
	err := l.client.XGroupCreateMkStream(ctx, l.stream, l.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s on %s: %w", l.group, l.stream, err)
	}
	return nil
}

// Publish implements Log.
func (l *RedisLog) Publish(ctx context.Context, e *Entry) error {
	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal entry payload: %w", err)
	}
	err = l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: l.stream,
		Values: map[string]any{
			"execution_id":       e.ExecutionID,
			"action_instance_id": e.ActionInstanceID,
			"area_id":            e.AreaID,
			"payload":            string(payloadJSON),
			"enqueued_at":        e.EnqueuedAt.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("append to stream %s: %w", l.stream, err)
	}
	return nil
}

// Claim implements Log.
func (l *RedisLog) Claim(ctx context.Context, consumer string, block time.Duration) (*Entry, error) {
	// Reclaim abandoned entries first so crashed consumers do not strand
	// work until the stream drains.
	msgs, _, err := l.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   l.stream,
		Group:    l.group,
		Consumer: consumer,
		MinIdle:  l.visibility,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("autoclaim on %s: %w", l.stream, err)
	}
	if len(msgs) > 0 {
		return decodeMessage(msgs[0])
	}

	streams, err := l.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    l.group,
		Consumer: consumer,
		Streams:  []string{l.stream, ">"},
		Count:    1,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("read group on %s: %w", l.stream, err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}
	return decodeMessage(streams[0].Messages[0])
}

// Ack implements Log.
func (l *RedisLog) Ack(ctx context.Context, id string) error {
	if err := l.client.XAck(ctx, l.stream, l.group, id).Err(); err != nil {
		return fmt.Errorf("ack %s on %s: %w", id, l.stream, err)
	}
	return nil
}

// Backlog implements Log using the consumer group lag.
func (l *RedisLog) Backlog(ctx context.Context) (int64, error) {
	groups, err := l.client.XInfoGroups(ctx, l.stream).Result()
	if err != nil {
		return 0, fmt.Errorf("stream info for %s: %w", l.stream, err)
	}
	for _, g := range groups {
		if g.Name == l.group {
			return g.Lag, nil
		}
	}
	return 0, fmt.Errorf("consumer group %s missing on %s", l.group, l.stream)
}

// Stats implements Log.
func (l *RedisLog) Stats(ctx context.Context) (*Info, error) {
	length, err := l.client.XLen(ctx, l.stream).Result()
	if err != nil {
		return nil, fmt.Errorf("stream length for %s: %w", l.stream, err)
	}
	info := &Info{Stream: l.stream, Group: l.group, Length: length}

	pending, err := l.client.XPending(ctx, l.stream, l.group).Result()
	if err == nil {
		info.Pending = pending.Count
	}
	if backlog, err := l.Backlog(ctx); err == nil {
		info.Backlog = backlog
	}
	return info, nil
}

func decodeMessage(msg redis.XMessage) (*Entry, error) {
	e := &Entry{ID: msg.ID}
	e.ExecutionID = stringValue(msg.Values, "execution_id")
	e.ActionInstanceID = stringValue(msg.Values, "action_instance_id")
	e.AreaID = stringValue(msg.Values, "area_id")
	if raw := stringValue(msg.Values, "payload"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &e.Payload); err != nil {
			return nil, fmt.Errorf("corrupt payload in entry %s: %w", msg.ID, err)
		}
	}
	if raw := stringValue(msg.Values, "enqueued_at"); raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			e.EnqueuedAt = t
		}
	}
	if e.ExecutionID == "" {
		return nil, fmt.Errorf("entry %s missing execution_id", msg.ID)
	}
	return e, nil
}

func stringValue(values map[string]any, key string) string {
	s, _ := values[key].(string)
	return s
}
