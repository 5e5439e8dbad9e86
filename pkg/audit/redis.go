package audit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultStream = "sentinel:audit"

// RedisSink appends audit entries to a Redis stream so external review
// tooling can consume them with XREAD.
type RedisSink struct {
	client redis.Cmdable
	stream string
	maxLen int64
}

// NewRedisSink creates a sink writing to the given stream, trimmed
// approximately to maxLen entries. Empty stream and maxLen <= 0 use defaults.
func NewRedisSink(client redis.Cmdable, stream string, maxLen int64) *RedisSink {
	if stream == "" {
		stream = defaultStream
	}

	if maxLen <= 0 {
		maxLen = defaultLogLimit
	}

	return &RedisSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisSink) Record(ctx context.Context, entry Entry) error {
	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":          entry.ID,
			"type":        string(entry.Type),
			"key":         entry.Key,
			"recorded_at": entry.RecordedAt.Format(timeLayout),
			"payload":     string(entry.Payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to append audit entry to stream %s: %w", s.stream, err)
	}

	return nil
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"
