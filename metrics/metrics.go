// Package metrics defines the measurement interface the engine reports
// through. The default client is a noop; a Prometheus-backed client
// lives under internal/metrics.
package metrics

import "time"

type Tags map[string]string

// Client receives engine measurements. Implementations must be safe for
// concurrent use.
type Client interface {
	Counter(name string, tags Tags, value float64)

	Distribution(name string, tags Tags, value float64)

	Timing(name string, tags Tags, duration time.Duration)

	WithTags(tags Tags) Client
}
