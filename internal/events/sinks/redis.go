package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/keyword-harvester/internal/events"
)

const (
	defaultStream = "harvester:events"
	defaultMaxLen = 10000
)

// RedisStreamSink appends records to a capped Redis stream.
type RedisStreamSink struct {
	rdb    redis.UniversalClient
	stream string
	maxLen int64
}

// NewRedisStreamSink creates a sink writing to stream, trimmed to about maxLen entries.
func NewRedisStreamSink(rdb redis.UniversalClient, stream string, maxLen int64) *RedisStreamSink {
	if stream == "" {
		stream = defaultStream
	}
	if maxLen <= 0 {
		maxLen = defaultMaxLen
	}
	return &RedisStreamSink{rdb: rdb, stream: stream, maxLen: maxLen}
}

// Consume writes the batch in one pipeline.
func (s *RedisStreamSink) Consume(ctx context.Context, batch []events.Record) error {
	if len(batch) == 0 {
		return nil
	}
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, rec := range batch {
			values := map[string]any{
				"id":        rec.ID.String(),
				"timestamp": rec.Timestamp.Format(time.RFC3339Nano),
				"event":     rec.Event,
				"status":    string(rec.Status),
				"source":    rec.Source,
				"message":   rec.Message,
			}
			if len(rec.Details) > 0 {
				raw, err := json.Marshal(rec.Details)
				if err != nil {
					return fmt.Errorf("encode details for %s: %w", rec.ID, err)
				}
				values["details"] = string(raw)
			}
			pipe.XAdd(ctx, &redis.XAddArgs{
				Stream: s.stream,
				MaxLen: s.maxLen,
				Approx: true,
				Values: values,
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

// Close implements events.Sink. The Redis client is owned by the caller.
func (s *RedisStreamSink) Close(context.Context) error {
	return nil
}
