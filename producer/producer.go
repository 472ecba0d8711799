// Package producer buffers observability events and ships them to a bus
// transport in batches.
package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/orderout/nightglow/events"
	mi "github.com/orderout/nightglow/internal/metrics"
	"github.com/orderout/nightglow/internal/metrickeys"
	"github.com/orderout/nightglow/metrics"
)

const (
	DefaultBatchSize   = 50
	DefaultLinger      = 500 * time.Millisecond
	DefaultTopicPrefix = "nightglow"
)

// Compression settings recognized for transports that support them.
const (
	CompressionNone   = "none"
	CompressionGzip   = "gzip"
	CompressionSnappy = "snappy"
	CompressionLz4    = "lz4"
)

type Options struct {
	// BatchSize triggers a flush when the buffer reaches it.
	BatchSize int

	// Linger is the interval of the background flush timer.
	Linger time.Duration

	// TopicPrefix qualifies logical topic names on the bus.
	TopicPrefix string

	// Compression is a transport hint; the buffering layer ignores it.
	Compression string

	Logger  *slog.Logger
	Metrics metrics.Client
	Clock   clock.Clock
}

func applyOptions(opts *Options) *Options {
	if opts == nil {
		opts = &Options{}
	}

	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Linger <= 0 {
		opts.Linger = DefaultLinger
	}
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = DefaultTopicPrefix
	}
	if opts.Compression == "" {
		opts.Compression = CompressionNone
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = mi.NewNoopMetricsClient()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	return opts
}

// Producer buffers events in memory and flushes them to the transport
// when the buffer reaches the batch size or the linger timer fires.
// Emit is non-blocking; transport failures re-queue the failed batch at
// the head of the buffer and surface only through Flush's error, logs
// and metrics.
type Producer struct {
	mu       sync.Mutex
	buffer   []*Message
	flushing bool

	connected bool
	stop      chan struct{}
	loopDone  chan struct{}

	transport Transport
	options   *Options
}

var _ events.Emitter = (*Producer)(nil)

func New(transport Transport, opts *Options) *Producer {
	return &Producer{
		transport: transport,
		options:   applyOptions(opts),
	}
}

// Connect arms the linger timer. Emit works before Connect; events just
// wait for the first explicit or size-triggered flush.
func (p *Producer) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.connected {
		return nil
	}

	p.connected = true
	p.stop = make(chan struct{})
	p.loopDone = make(chan struct{})

	go p.lingerLoop(p.stop, p.loopDone)

	p.options.Logger.DebugContext(ctx, "producer connected",
		"batchSize", p.options.BatchSize, "linger", p.options.Linger)

	return nil
}

// Disconnect stops the linger timer, performs a final flush, and closes
// the transport.
func (p *Producer) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return nil
	}
	p.connected = false
	close(p.stop)
	loopDone := p.loopDone
	p.mu.Unlock()

	<-loopDone

	flushErr := p.Flush(ctx)

	if err := p.transport.Close(); err != nil {
		return fmt.Errorf("closing transport: %w", err)
	}

	return flushErr
}

// Emit routes, serializes, and buffers one event. It never blocks on
// the transport; reaching the batch size triggers an asynchronous
// flush.
func (p *Producer) Emit(event *events.Event) {
	msg, err := p.message(event)
	if err != nil {
		p.options.Logger.Error("dropping unserializable event", "type", event.Type, "error", err)
		return
	}

	p.mu.Lock()
	p.buffer = append(p.buffer, msg)
	full := len(p.buffer) >= p.options.BatchSize
	p.mu.Unlock()

	p.options.Metrics.Counter(metrickeys.EventsEmitted, metrics.Tags{metrickeys.Topic: msg.Topic}, 1)

	if full {
		go func() {
			_ = p.Flush(context.Background())
		}()
	}
}

// Flush sends all buffered messages as one batch. It is idempotent and
// serialized: with a flush already in flight or an empty buffer it
// returns nil immediately. On transport failure the batch returns to
// the head of the buffer in original order.
func (p *Producer) Flush(ctx context.Context) error {
	p.mu.Lock()
	if p.flushing || len(p.buffer) == 0 {
		p.mu.Unlock()
		return nil
	}
	p.flushing = true
	batch := p.buffer
	p.buffer = nil
	p.mu.Unlock()

	grouped := make(map[string][]*Message)
	for _, m := range batch {
		grouped[m.Topic] = append(grouped[m.Topic], m)
	}

	start := p.options.Clock.Now()
	err := p.transport.SendBatch(ctx, grouped)

	p.mu.Lock()
	if err != nil {
		p.buffer = append(batch, p.buffer...)
	}
	p.flushing = false
	p.mu.Unlock()

	if err != nil {
		p.options.Logger.Error("batch transmission failed, re-queued",
			"messages", len(batch), "error", err)
		p.options.Metrics.Counter(metrickeys.FlushFailures, nil, 1)

		return fmt.Errorf("sending batch of %d messages: %w", len(batch), err)
	}

	p.options.Metrics.Counter(metrickeys.EventsFlushed, nil, float64(len(batch)))
	p.options.Metrics.Timing(metrickeys.FlushDuration, nil, p.options.Clock.Since(start))

	return nil
}

// Buffered reports the number of buffered, unflushed messages.
func (p *Producer) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.buffer)
}

func (p *Producer) lingerLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := p.options.Clock.Ticker(p.options.Linger)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := p.Flush(context.Background()); err != nil {
				// Already logged; the linger loop keeps retrying.
				continue
			}
		}
	}
}

func (p *Producer) message(event *events.Event) (*Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshaling event %s: %w", event.ID, err)
	}

	headers := map[string]string{
		"event-type": event.Type,
		"source":     event.Source,
	}
	if event.TraceContext != nil {
		headers["trace-id"] = event.TraceContext.TraceID
		headers["span-id"] = event.TraceContext.SpanID
	}

	return &Message{
		Topic:   p.options.TopicPrefix + "." + events.Topic(event.Type),
		Key:     event.SessionID,
		Value:   value,
		Headers: headers,
	}, nil
}
