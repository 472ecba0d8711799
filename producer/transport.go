package producer

import "context"

// Message is a routed, serialized event ready for the bus. Key is the
// partition key (the session id); messages with equal (Topic, Key)
// retain their relative order across flushes and retries.
type Message struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

// Transport delivers message batches to a concrete bus. Implementations
// must treat the per-topic slices as ordered.
type Transport interface {
	// SendBatch delivers all messages of one flush, grouped by
	// fully-qualified topic. An error means the whole batch failed and
	// will be retried by the producer.
	SendBatch(ctx context.Context, batch map[string][]*Message) error

	Close() error
}
