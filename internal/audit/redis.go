package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStreamSink appends records to a Redis stream with XADD.  The
// stream is trimmed approximately to maxLen entries when maxLen > 0.
type RedisStreamSink struct {
	rdb    redis.Cmdable
	stream string
	maxLen int64
}

func NewRedisStreamSink(rdb redis.Cmdable, stream string, maxLen int64) *RedisStreamSink {
	return &RedisStreamSink{rdb: rdb, stream: stream, maxLen: maxLen}
}

func (s *RedisStreamSink) Write(ctx context.Context, r Record) error {
	if err := s.rdb.XAdd(ctx, s.args(r)).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

func (s *RedisStreamSink) args(r Record) *redis.XAddArgs {
	// A slice keeps field order stable, a map would not.
	return &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: s.maxLen > 0,
		Values: []interface{}{
			"timestamp", r.Timestamp.UTC().Format(time.RFC3339Nano),
			"sender", r.Sender,
			"receiver", r.Receiver,
			"intent", r.Intent,
			"conversation_id", r.ConversationID,
			"content", r.Content,
			"level", string(r.Level),
		},
	}
}
