package sqlbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orderout/nightglow/events"
	"github.com/orderout/nightglow/producer"
)

func message(t *testing.T, topic, sessionID string, seq int) *producer.Message {
	t.Helper()

	ev := events.New("task.transition", "test", sessionID, time.UnixMilli(int64(seq)), map[string]any{"seq": seq})
	value, err := json.Marshal(ev)
	require.NoError(t, err)

	return &producer.Message{
		Topic: topic,
		Key:   sessionID,
		Value: value,
		Headers: map[string]string{
			"event-type": ev.Type,
			"source":     ev.Source,
		},
	}
}

func TestSendBatchAndQuery(t *testing.T) {
	transport, err := NewInMemory(nil)
	require.NoError(t, err)
	defer transport.Close()

	ctx := context.Background()

	batch := map[string][]*producer.Message{
		"nightglow.tasks": {
			message(t, "nightglow.tasks", "s1", 0),
			message(t, "nightglow.tasks", "s1", 1),
			message(t, "nightglow.tasks", "s2", 2),
		},
	}
	require.NoError(t, transport.SendBatch(ctx, batch))

	require.NoError(t, transport.SendBatch(ctx, map[string][]*producer.Message{
		"nightglow.sessions": {message(t, "nightglow.sessions", "s1", 3)},
	}))

	values, err := transport.EventsBySession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, values, 3)

	// Append order is preserved across batches.
	var seqs []int
	for _, v := range values {
		var decoded events.Event
		require.NoError(t, json.Unmarshal(v, &decoded))
		seqs = append(seqs, int(decoded.Payload["seq"].(float64)))
	}
	require.Equal(t, []int{0, 1, 3}, seqs)

	other, err := transport.EventsBySession(ctx, "s2")
	require.NoError(t, err)
	require.Len(t, other, 1)

	none, err := transport.EventsBySession(ctx, "ghost")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	first, err := NewSqlite(dir+"/events.db", nil)
	require.NoError(t, err)
	require.NoError(t, first.SendBatch(context.Background(), map[string][]*producer.Message{
		"nightglow.tasks": {message(t, "nightglow.tasks", "s1", 0)},
	}))
	require.NoError(t, first.Close())

	// Re-opening applies no further migrations and keeps the data.
	second, err := NewSqlite(dir+"/events.db", nil)
	require.NoError(t, err)
	defer second.Close()

	values, err := second.EventsBySession(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, values, 1)
}
