package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("valid definition", func(t *testing.T) {
		wf, err := Parse([]byte(`{
			"name": "checkout",
			"tasks": [
				{
					"name": "login",
					"steps": [
						{"type": "navigate", "url": "https://example.com/login"},
						{"type": "waitFor", "selector": "#login-form", "timeoutMs": 5000},
						{"type": "click", "selector": "#submit"}
					],
					"retry": {"maxRetries": 2, "backoffMs": 100}
				},
				{
					"name": "extract-orders",
					"dependsOn": ["login"],
					"steps": [
						{"type": "extract", "selector": ".order", "schema": {"fields": [
							{"name": "id", "type": "string"},
							{"name": "total", "type": "number"}
						]}}
					],
					"retry": {"maxRetries": 0, "backoffMs": 0},
					"output": {"storeAs": "orders", "format": "json"}
				}
			],
			"policy": {"maxConcurrentTasks": 2, "timeoutMs": 60000, "failFast": true}
		}`))
		require.NoError(t, err)

		require.Equal(t, "checkout", wf.Name)
		require.Len(t, wf.Tasks, 2)
		require.Equal(t, StepNavigate, wf.Tasks[0].Steps[0].Type)
		require.Equal(t, []string{"login"}, wf.Tasks[1].DependsOn)
		require.Equal(t, "orders", wf.Tasks[1].Output.StoreAs)
		require.True(t, wf.Policy.FailFast)

		schema := wf.Tasks[1].Steps[0].Schema
		require.Equal(t, []Field{{Name: "id", Type: "string"}, {Name: "total", Type: "number"}}, schema.Fields)
	})

	t.Run("unknown step type rejected", func(t *testing.T) {
		_, err := Parse([]byte(`{
			"name": "w",
			"tasks": [{"name": "a", "steps": [{"type": "screenshot"}]}]
		}`))
		require.Error(t, err)

		var perr *ParseError
		require.ErrorAs(t, err, &perr)
		require.Contains(t, perr.Error(), "unknown step type")
	})

	t.Run("invalid JSON", func(t *testing.T) {
		_, err := Parse([]byte(`{`))

		var perr *ParseError
		require.ErrorAs(t, err, &perr)
	})

	t.Run("missing name", func(t *testing.T) {
		_, err := Parse([]byte(`{"tasks": [{"name": "a", "steps": [{"type": "click", "selector": "#x"}]}]}`))
		require.Error(t, err)
	})

	t.Run("undefined dependency", func(t *testing.T) {
		_, err := Parse([]byte(`{
			"name": "w",
			"tasks": [{"name": "a", "dependsOn": ["ghost"], "steps": [{"type": "click", "selector": "#x"}]}]
		}`))
		require.ErrorContains(t, err, `depends on undefined task "ghost"`)
	})

	t.Run("self dependency", func(t *testing.T) {
		_, err := Parse([]byte(`{
			"name": "w",
			"tasks": [{"name": "a", "dependsOn": ["a"], "steps": [{"type": "click", "selector": "#x"}]}]
		}`))
		require.ErrorContains(t, err, "depends on itself")
	})

	t.Run("duplicate task names", func(t *testing.T) {
		_, err := Parse([]byte(`{
			"name": "w",
			"tasks": [
				{"name": "a", "steps": [{"type": "click", "selector": "#x"}]},
				{"name": "a", "steps": [{"type": "click", "selector": "#y"}]}
			]
		}`))
		require.ErrorContains(t, err, "duplicate task name")
	})

	t.Run("extract requires schema", func(t *testing.T) {
		_, err := Parse([]byte(`{
			"name": "w",
			"tasks": [{"name": "a", "steps": [{"type": "extract", "selector": ".row"}]}]
		}`))
		require.ErrorContains(t, err, "extract requires a schema")
	})

	t.Run("navigate requires url", func(t *testing.T) {
		_, err := Parse([]byte(`{
			"name": "w",
			"tasks": [{"name": "a", "steps": [{"type": "navigate"}]}]
		}`))
		require.ErrorContains(t, err, "navigate requires url")
	})
}

func TestPolicyDurations(t *testing.T) {
	p := Policy{TimeoutMs: 1500}
	require.Equal(t, "1.5s", p.Timeout().String())

	rp := RetryPolicy{BackoffMs: 250}
	require.Equal(t, "250ms", rp.Backoff().String())
}

func TestWorkflowTaskLookup(t *testing.T) {
	wf := &Workflow{Tasks: []*Task{{Name: "a"}, {Name: "b"}}}

	require.Equal(t, "b", wf.Task("b").Name)
	require.Nil(t, wf.Task("c"))
}
