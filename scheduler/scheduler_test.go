package scheduler

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orderout/nightglow/workflow"
)

func wfOf(deps map[string][]string, order ...string) *workflow.Workflow {
	wf := &workflow.Workflow{Name: "test"}
	for _, name := range order {
		wf.Tasks = append(wf.Tasks, &workflow.Task{
			Name:      name,
			DependsOn: deps[name],
			Steps:     []*workflow.Step{{Type: workflow.StepClick, Selector: "#x"}},
		})
	}

	return wf
}

func TestPlan(t *testing.T) {
	t.Run("single task", func(t *testing.T) {
		batches, err := Plan(wfOf(nil, "a"))
		require.NoError(t, err)
		require.Len(t, batches, 1)
		require.Equal(t, []string{"a"}, batches[0].Names())
	})

	t.Run("diamond", func(t *testing.T) {
		batches, err := Plan(wfOf(map[string][]string{
			"b": {"a"},
			"c": {"a"},
			"d": {"b", "c"},
		}, "a", "b", "c", "d"))
		require.NoError(t, err)

		require.Len(t, batches, 3)
		require.Equal(t, []string{"a"}, batches[0].Names())
		require.Equal(t, []string{"b", "c"}, batches[1].Names())
		require.Equal(t, []string{"d"}, batches[2].Names())
	})

	t.Run("independent tasks form one batch", func(t *testing.T) {
		batches, err := Plan(wfOf(nil, "a", "b", "c"))
		require.NoError(t, err)
		require.Len(t, batches, 1)
		require.Equal(t, []string{"a", "b", "c"}, batches[0].Names())
	})

	t.Run("chain", func(t *testing.T) {
		batches, err := Plan(wfOf(map[string][]string{
			"b": {"a"},
			"c": {"b"},
		}, "a", "b", "c"))
		require.NoError(t, err)
		require.Len(t, batches, 3)
	})

	t.Run("two task cycle", func(t *testing.T) {
		_, err := Plan(wfOf(map[string][]string{
			"a": {"b"},
			"b": {"a"},
		}, "a", "b"))

		var cerr *CycleError
		require.ErrorAs(t, err, &cerr)
		require.Equal(t, []string{"a", "b"}, cerr.Tasks)
	})

	t.Run("cycle behind valid prefix", func(t *testing.T) {
		_, err := Plan(wfOf(map[string][]string{
			"b": {"a", "d"},
			"c": {"b"},
			"d": {"c"},
		}, "a", "b", "c", "d"))

		var cerr *CycleError
		require.ErrorAs(t, err, &cerr)
		require.Equal(t, []string{"b", "c", "d"}, cerr.Tasks)
	})
}

// TestPlanRandomized checks the scheduler invariants over randomly
// generated acyclic graphs: dependencies always land in earlier batches
// and the union of batches is exactly the task set.
func TestPlanRandomized(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	for i := 0; i < 100; i++ {
		n := 1 + r.Intn(20)

		names := make([]string, n)
		deps := map[string][]string{}
		for j := 0; j < n; j++ {
			names[j] = fmt.Sprintf("t%d", j)

			// Only depend on earlier tasks, so the graph is acyclic.
			for k := 0; k < j; k++ {
				if r.Float64() < 0.3 {
					deps[names[j]] = append(deps[names[j]], names[k])
				}
			}
		}

		batches, err := Plan(wfOf(deps, names...))
		require.NoError(t, err)

		position := map[string]int{}
		total := 0
		for bi, batch := range batches {
			for _, task := range batch {
				_, dup := position[task.Name]
				require.False(t, dup, "task %s appears twice", task.Name)
				position[task.Name] = bi
				total++
			}
		}
		require.Equal(t, n, total)

		for name, dd := range deps {
			for _, dep := range dd {
				require.Less(t, position[dep], position[name],
					"dependency %s of %s must be in an earlier batch", dep, name)
			}
		}
	}
}

// TestPlanRandomizedCycles plants a cycle into a random graph and
// checks that Plan refuses it and names every participant.
func TestPlanRandomizedCycles(t *testing.T) {
	r := rand.New(rand.NewSource(7))

	for i := 0; i < 50; i++ {
		n := 3 + r.Intn(10)

		names := make([]string, n)
		deps := map[string][]string{}
		for j := 0; j < n; j++ {
			names[j] = fmt.Sprintf("t%d", j)
		}

		// Pick three distinct tasks and wire them into a ring.
		a, b, c := names[0], names[1], names[2]
		deps[a] = []string{c}
		deps[b] = []string{a}
		deps[c] = []string{b}

		_, err := Plan(wfOf(deps, names...))

		var cerr *CycleError
		require.ErrorAs(t, err, &cerr)
		require.Subset(t, cerr.Tasks, []string{a, b, c})
	}
}
