// Package redisbus ships producer batches onto Redis Streams, one
// stream per fully-qualified topic.
package redisbus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/orderout/nightglow/producer"
)

type Options struct {
	Logger *slog.Logger

	// MaxLen caps stream length via approximate trimming. Zero disables
	// trimming.
	MaxLen int64
}

// Transport appends every message of a batch with a single pipeline
// round trip. Stream entries carry the partition key and headers as
// fields, so per-(topic, key) order follows append order.
type Transport struct {
	rdb     redis.UniversalClient
	options *Options
}

var _ producer.Transport = (*Transport)(nil)

func New(rdb redis.UniversalClient, opts *Options) *Transport {
	if opts == nil {
		opts = &Options{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Transport{rdb: rdb, options: opts}
}

func (t *Transport) SendBatch(ctx context.Context, batch map[string][]*producer.Message) error {
	pipe := t.rdb.Pipeline()

	count := 0
	for topic, msgs := range batch {
		for _, msg := range msgs {
			values := map[string]interface{}{
				"key":   msg.Key,
				"value": string(msg.Value),
			}
			for name, header := range msg.Headers {
				values["header:"+name] = header
			}

			pipe.XAdd(ctx, &redis.XAddArgs{
				Stream: topic,
				ID:     "*",
				MaxLen: t.options.MaxLen,
				Approx: t.options.MaxLen > 0,
				Values: values,
			})
			count++
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("adding %d messages to streams: %w", count, err)
	}

	t.options.Logger.DebugContext(ctx, "batch shipped to redis streams",
		"messages", count, "topics", len(batch))

	return nil
}

func (t *Transport) Close() error {
	return t.rdb.Close()
}
