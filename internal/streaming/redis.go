package streaming

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	streamKeyPrefix = "fathom:events:"
	streamMaxLen    = 2048
	streamTTL       = 48 * time.Hour
)

// RedisMirror appends published events to a per-thread Redis Stream so
// consumers in other processes can tail or replay a run.
type RedisMirror struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisMirror(client *redis.Client, logger *zap.Logger) *RedisMirror {
	return &RedisMirror{client: client, logger: logger}
}

// Append writes the event via XADD with a bounded stream length. Failures are
// logged, never propagated; the in-memory stream stays authoritative.
func (r *RedisMirror) Append(threadID string, evt Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := streamKeyPrefix + threadID
	if err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"seq":  evt.Seq,
			"type": evt.Type,
			"data": string(evt.Marshal()),
		},
	}).Err(); err != nil {
		r.logger.Warn("Redis stream append failed",
			zap.String("thread_id", threadID),
			zap.Error(err),
		)
		return
	}
	// Best-effort expiry so finished runs age out
	r.client.Expire(ctx, key, streamTTL)
}

// Replay reads back mirrored events for a thread with Seq > since. Used when
// the in-memory ring has already rotated past the requested offset.
func (r *RedisMirror) Replay(ctx context.Context, threadID string, since uint64) ([]Event, error) {
	msgs, err := r.client.XRange(ctx, streamKeyPrefix+threadID, "-", "+").Result()
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}
		evt, err := decodeEvent([]byte(raw))
		if err != nil {
			continue
		}
		if evt.Seq > since {
			out = append(out, evt)
		}
	}
	return out, nil
}
