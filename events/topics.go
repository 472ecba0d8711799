package events

import "strings"

// Logical topic names. The producer prefixes them with its configured
// topic prefix to form fully-qualified topics.
const (
	TopicMeasurements       = "measurements"
	TopicAlerts             = "alerts"
	TopicInstrumentCommands = "instrument-commands"
	TopicActions            = "actions"
	TopicTasks              = "tasks"
	TopicSessions           = "sessions"
	TopicDetections         = "detections"
	TopicAnomalies          = "anomalies"
)

// route entries are matched in order; first prefix match wins. The
// instrument entries precede the broader prefixes so that
// "instrument.alert" never falls through to the default.
var routes = []struct {
	prefix string
	topic  string
}{
	{TypeMeasurement, TopicMeasurements},
	{TypeAlert, TopicAlerts},
	{TypeInstrumentLifecycle, TopicInstrumentCommands},
	{"action.", TopicActions},
	{"task.", TopicTasks},
	{"workflow.", TopicTasks},
	{"session.", TopicSessions},
	{"detection.", TopicDetections},
	{"behavioral.", TopicAnomalies},
}

// Topic resolves the logical topic for an event type by prefix.
// Unrecognized types land on the measurements topic.
func Topic(eventType string) string {
	for _, r := range routes {
		if strings.HasPrefix(eventType, r.prefix) {
			return r.topic
		}
	}

	return TopicMeasurements
}
