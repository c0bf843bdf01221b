package sinks

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/keyword-harvester/internal/events"
)

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))

	batch := []events.Record{
		events.NewRecord(events.EventCollectKeywords, events.StatusSuccess, "discord", "", map[string]any{"total": 3}),
		events.NewRecord(events.EventCollectKeywords, events.StatusError, "discord", "status 429", nil),
	}
	require.NoError(t, sink.Consume(context.Background(), batch))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, zapcore.InfoLevel, entries[0].Level)
	require.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	require.Equal(t, "discord", entries[1].ContextMap()["source"])
	require.Equal(t, "status 429", entries[1].ContextMap()["message"])
}

func TestRedisStreamSinkAppends(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	sink := NewRedisStreamSink(rdb, "", 0)
	rec := events.NewRecord(events.EventJobDone, events.StatusSuccess, "imageboard", "done", map[string]any{"keywords": 4})
	require.NoError(t, sink.Consume(context.Background(), []events.Record{rec}))
	require.NoError(t, sink.Consume(context.Background(), nil))

	msgs, err := rdb.XRange(context.Background(), "harvester:events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, rec.ID.String(), msgs[0].Values["id"])
	require.Equal(t, "job_done", msgs[0].Values["event"])
	require.JSONEq(t, `{"keywords":4}`, msgs[0].Values["details"].(string))
}
