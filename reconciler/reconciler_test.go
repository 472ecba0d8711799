package reconciler

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/orderout/nightglow/workflow"
)

func taskOf(name string, maxRetries int) *workflow.Task {
	return &workflow.Task{
		Name:  name,
		Steps: []*workflow.Step{{Type: workflow.StepClick, Selector: "#x"}},
		Retry: workflow.RetryPolicy{MaxRetries: maxRetries},
	}
}

func TestLifecycle(t *testing.T) {
	t.Run("happy path", func(t *testing.T) {
		r := New(nil)
		r.Register(taskOf("a", 0))

		st, err := r.Status("a")
		require.NoError(t, err)
		require.Equal(t, StatePending, st.State)

		require.NoError(t, r.Schedule("a"))
		require.NoError(t, r.Start("a"))
		require.NoError(t, r.Succeed("a"))

		st, _ = r.Status("a")
		require.Equal(t, StateSucceeded, st.State)
		require.True(t, st.State.Terminal())
	})

	t.Run("fail with retries remaining", func(t *testing.T) {
		r := New(nil)
		r.Register(taskOf("a", 2))
		require.NoError(t, r.Schedule("a"))
		require.NoError(t, r.Start("a"))

		next, err := r.Fail("a", errors.New("element not found"))
		require.NoError(t, err)
		require.Equal(t, StateRetrying, next)

		st, _ := r.Status("a")
		require.Equal(t, 1, st.RetryCount)
		require.Equal(t, "element not found", st.LastError)

		require.NoError(t, r.Retry("a"))
		st, _ = r.Status("a")
		require.Equal(t, StateRunning, st.State)
	})

	t.Run("fail with retries exhausted", func(t *testing.T) {
		r := New(nil)
		r.Register(taskOf("a", 1))
		require.NoError(t, r.Schedule("a"))
		require.NoError(t, r.Start("a"))

		next, err := r.Fail("a", errors.New("boom"))
		require.NoError(t, err)
		require.Equal(t, StateRetrying, next)
		require.NoError(t, r.Retry("a"))

		next, err = r.Fail("a", errors.New("boom again"))
		require.NoError(t, err)
		require.Equal(t, StateEscalated, next)

		st, _ := r.Status("a")
		require.Equal(t, 1, st.RetryCount)
		require.Equal(t, "boom again", st.LastError)
	})

	t.Run("zero retries escalates immediately", func(t *testing.T) {
		r := New(nil)
		r.Register(taskOf("a", 0))
		require.NoError(t, r.Schedule("a"))
		require.NoError(t, r.Start("a"))

		next, err := r.Fail("a", errors.New("boom"))
		require.NoError(t, err)
		require.Equal(t, StateEscalated, next)

		st, _ := r.Status("a")
		require.Equal(t, 0, st.RetryCount)
	})
}

func TestInvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		run  func(r *Reconciler) error
	}{
		{"start before schedule", func(r *Reconciler) error { return r.Start("a") }},
		{"succeed before start", func(r *Reconciler) error {
			_ = r.Schedule("a")
			return r.Succeed("a")
		}},
		{"schedule twice", func(r *Reconciler) error {
			_ = r.Schedule("a")
			return r.Schedule("a")
		}},
		{"retry while running", func(r *Reconciler) error {
			_ = r.Schedule("a")
			_ = r.Start("a")
			return r.Retry("a")
		}},
		{"succeed after terminal", func(r *Reconciler) error {
			_ = r.Schedule("a")
			_ = r.Start("a")
			_ = r.Succeed("a")
			return r.Succeed("a")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(nil)
			r.Register(taskOf("a", 3))

			err := tt.run(r)

			var ierr *InvalidTransitionError
			require.ErrorAs(t, err, &ierr)
		})
	}

	t.Run("fail while not running", func(t *testing.T) {
		r := New(nil)
		r.Register(taskOf("a", 3))

		_, err := r.Fail("a", errors.New("x"))

		var ierr *InvalidTransitionError
		require.ErrorAs(t, err, &ierr)
	})
}

func TestUnknownTask(t *testing.T) {
	r := New(nil)

	var uerr *UnknownTaskError

	_, err := r.Status("ghost")
	require.ErrorAs(t, err, &uerr)
	require.ErrorAs(t, r.Schedule("ghost"), &uerr)
	_, err = r.Fail("ghost", errors.New("x"))
	require.ErrorAs(t, err, &uerr)
	require.ErrorAs(t, r.Escalate("ghost", "Cancelled"), &uerr)
}

func TestEscalate(t *testing.T) {
	t.Run("from any non-terminal state", func(t *testing.T) {
		for _, setup := range []func(r *Reconciler){
			func(r *Reconciler) {},
			func(r *Reconciler) { _ = r.Schedule("a") },
			func(r *Reconciler) { _ = r.Schedule("a"); _ = r.Start("a") },
			func(r *Reconciler) {
				_ = r.Schedule("a")
				_ = r.Start("a")
				_, _ = r.Fail("a", errors.New("x"))
			},
		} {
			r := New(nil)
			r.Register(taskOf("a", 5))
			setup(r)

			require.NoError(t, r.Escalate("a", "Cancelled"))

			st, _ := r.Status("a")
			require.Equal(t, StateEscalated, st.State)
			require.Equal(t, "Cancelled", st.LastError)
		}
	})

	t.Run("terminal states refuse", func(t *testing.T) {
		r := New(nil)
		r.Register(taskOf("a", 0))
		_ = r.Schedule("a")
		_ = r.Start("a")
		_ = r.Succeed("a")

		var ierr *InvalidTransitionError
		require.ErrorAs(t, r.Escalate("a", "Cancelled"), &ierr)
	})
}

func TestUpdatedAt(t *testing.T) {
	mock := clock.NewMock()
	r := New(mock)
	r.Register(taskOf("a", 0))

	st, _ := r.Status("a")
	registered := st.UpdatedAt

	mock.Add(5 * time.Millisecond)
	require.NoError(t, r.Schedule("a"))

	st, _ = r.Status("a")
	require.True(t, st.UpdatedAt.After(registered))
}

func TestSnapshot(t *testing.T) {
	r := New(nil)
	r.Register(taskOf("a", 0))
	r.Register(taskOf("b", 0))
	require.NoError(t, r.Schedule("a"))

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	require.Equal(t, StateScheduled, snap["a"].State)
	require.Equal(t, StatePending, snap["b"].State)

	// Snapshot is a copy, mutating it does not leak back.
	entry := snap["a"]
	entry.State = StateEscalated
	snap["a"] = entry

	st, _ := r.Status("a")
	require.Equal(t, StateScheduled, st.State)
}

// TestSoundnessRandomized drives tasks through random legal event
// sequences and checks that every task ends in exactly one terminal
// state with retryCount ≤ maxRetries.
func TestSoundnessRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(99))

	for i := 0; i < 200; i++ {
		maxRetries := rng.Intn(4)

		r := New(nil)
		name := fmt.Sprintf("t%d", i)
		r.Register(taskOf(name, maxRetries))

		require.NoError(t, r.Schedule(name))
		require.NoError(t, r.Start(name))

		for {
			st, err := r.Status(name)
			require.NoError(t, err)

			if st.State.Terminal() {
				require.LessOrEqual(t, st.RetryCount, maxRetries)
				break
			}

			switch st.State {
			case StateRunning:
				if rng.Float64() < 0.5 {
					require.NoError(t, r.Succeed(name))
				} else {
					_, err := r.Fail(name, errors.New("random failure"))
					require.NoError(t, err)
				}
			case StateRetrying:
				require.NoError(t, r.Retry(name))
			default:
				t.Fatalf("unexpected intermediate state %s", st.State)
			}
		}
	}
}
