package events

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTopic(t *testing.T) {
	tests := []struct {
		eventType string
		topic     string
	}{
		{"instrument.measurement", TopicMeasurements},
		{"instrument.measurement.memory", TopicMeasurements},
		{"instrument.alert", TopicAlerts},
		{"instrument.lifecycle", TopicInstrumentCommands},
		{"action.click", TopicActions},
		{"task.transition", TopicTasks},
		{"workflow.started", TopicTasks},
		{"workflow.finished", TopicTasks},
		{"session.created", TopicSessions},
		{"detection.headless", TopicDetections},
		{"behavioral.idle", TopicAnomalies},
		{"something.else", TopicMeasurements},
		{"", TopicMeasurements},
	}

	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			require.Equal(t, tt.topic, Topic(tt.eventType))
		})
	}
}
