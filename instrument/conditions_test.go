package instrument

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	result := func(values map[string]any) *ProbeResult {
		return &ProbeResult{Values: values}
	}

	tests := []struct {
		name       string
		result     *ProbeResult
		conditions []AlertCondition
		want       Severity
	}{
		{
			name:   "no conditions defaults to trace",
			result: result(map[string]any{"v": 1}),
			want:   SeverityTrace,
		},
		{
			name:   "probe severity preserved without matches",
			result: &ProbeResult{Severity: SeverityInfo, Values: map[string]any{"v": 1}},
			conditions: []AlertCondition{
				{Field: "v", Operator: OpGt, Threshold: 10, Severity: SeverityCritical},
			},
			want: SeverityInfo,
		},
		{
			name:   "gt match escalates",
			result: result(map[string]any{"durationMs": 1500.0}),
			conditions: []AlertCondition{
				{Field: "durationMs", Operator: OpGt, Threshold: 1000, Severity: SeverityCritical},
			},
			want: SeverityCritical,
		},
		{
			name:   "lt match",
			result: result(map[string]any{"fps": 10}),
			conditions: []AlertCondition{
				{Field: "fps", Operator: OpLt, Threshold: 24, Severity: SeverityWarn},
			},
			want: SeverityWarn,
		},
		{
			name:   "eq matches across numeric types",
			result: result(map[string]any{"count": 2}),
			conditions: []AlertCondition{
				{Field: "count", Operator: OpEq, Threshold: 2.0, Severity: SeverityWarn},
			},
			want: SeverityWarn,
		},
		{
			name:   "neq",
			result: result(map[string]any{"status": "ok"}),
			conditions: []AlertCondition{
				{Field: "status", Operator: OpNeq, Threshold: "ok", Severity: SeverityWarn},
			},
			want: SeverityTrace,
		},
		{
			name:   "contains",
			result: result(map[string]any{"userAgent": "HeadlessChrome/120"}),
			conditions: []AlertCondition{
				{Field: "userAgent", Operator: OpContains, Threshold: "Headless", Severity: SeverityCritical},
			},
			want: SeverityCritical,
		},
		{
			name:   "regex over stringified value",
			result: result(map[string]any{"code": 503}),
			conditions: []AlertCondition{
				{Field: "code", Operator: OpRegex, Threshold: "^5\\d\\d$", Severity: SeverityWarn},
			},
			want: SeverityWarn,
		},
		{
			name:   "critical overrides warn",
			result: result(map[string]any{"v": 100}),
			conditions: []AlertCondition{
				{Field: "v", Operator: OpGt, Threshold: 10, Severity: SeverityWarn},
				{Field: "v", Operator: OpGt, Threshold: 50, Severity: SeverityCritical},
			},
			want: SeverityCritical,
		},
		{
			name:   "missing field contributes nothing",
			result: result(map[string]any{"v": 1}),
			conditions: []AlertCondition{
				{Field: "other", Operator: OpGt, Threshold: 0, Severity: SeverityCritical},
			},
			want: SeverityTrace,
		},
		{
			name:   "non-numeric value never matches gt",
			result: result(map[string]any{"v": "fast"}),
			conditions: []AlertCondition{
				{Field: "v", Operator: OpGt, Threshold: 0, Severity: SeverityCritical},
			},
			want: SeverityTrace,
		},
		{
			name:   "invalid regex never matches",
			result: result(map[string]any{"v": "abc"}),
			conditions: []AlertCondition{
				{Field: "v", Operator: OpRegex, Threshold: "(", Severity: SeverityCritical},
			},
			want: SeverityTrace,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, classify(tt.result, tt.conditions))
		})
	}
}
