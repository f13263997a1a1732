package chaos

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestThreshold(t *testing.T) {
	cases := []struct {
		op   string
		v    float64
		want bool
	}{
		{">", 2, true}, {">", 1, false},
		{"<", 0, true}, {"<", 1, false},
		{">=", 1, true}, {"<=", 1, true},
		{"==", 1, true}, {"==", 1.5, false},
		{"~", 1, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Threshold{Operator: tc.op, Value: 1}.Holds(tc.v), "%g %s 1", tc.v, tc.op)
	}
}

func TestRunAbortsOnBadSteadyState(t *testing.T) {
	e := NewEngine(zaptest.NewLogger(t))
	injected := false
	res, err := e.Run(context.Background(), Experiment{
		Name: "abort",
		SteadyState: []Probe{{
			Name:      "errors",
			Query:     func(context.Context) (float64, error) { return 3, nil },
			Threshold: Threshold{Operator: "==", Value: 0},
		}},
		Method: []Action{{Execute: func(context.Context) error { injected = true; return nil }}},
	})
	assert.ErrorIs(t, err, ErrSteadyStateInvalid)
	assert.False(t, res.SteadyStateValid)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, 3.0, res.Violations[0].Actual)
	assert.False(t, injected)
	assert.Empty(t, e.Results())
}

func TestRunMeasuresRecovery(t *testing.T) {
	e := NewEngine(zaptest.NewLogger(t))
	var broken atomic.Bool
	rolledBack := false

	res, err := e.Run(context.Background(), Experiment{
		Name: "flap",
		SteadyState: []Probe{{
			Name: "errors",
			Query: func(context.Context) (float64, error) {
				if broken.Load() {
					return 1, nil
				}
				return 0, nil
			},
			Threshold: Threshold{Operator: "==", Value: 0},
		}},
		Method: []Action{
			{Target: "svc", Execute: func(context.Context) error {
				broken.Store(true)
				time.AfterFunc(120*time.Millisecond, func() { broken.Store(false) })
				return nil
			}},
			{Target: "noisy", Execute: func(context.Context) error { return errors.New("partial failure") }},
		},
		Rollback: []Action{{Execute: func(context.Context) error { rolledBack = true; return nil }}},
		Validation: []Assertion{
			{Metric: "errors", Condition: func(v float64) bool { return v == 0 }, Message: "errors clear"},
		},
		Duration:    400 * time.Millisecond,
		SampleEvery: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	assert.True(t, res.SteadyStateValid)
	assert.True(t, res.HypothesisHeld, res.Failed)
	assert.True(t, rolledBack)
	assert.NotEmpty(t, res.Violations)
	require.NotNil(t, res.MTTR)
	assert.Greater(t, *res.MTTR, time.Duration(0))
	require.Len(t, res.ErrorEvents, 1)
	assert.Equal(t, "noisy", res.ErrorEvents[0].Component)
	assert.Len(t, e.Results(), 1)
}

func TestRunReportsFailedAssertions(t *testing.T) {
	e := NewEngine(zaptest.NewLogger(t)).SampleEvery(10 * time.Millisecond)
	res, err := e.Run(context.Background(), Experiment{
		Name: "fails",
		SteadyState: []Probe{{
			Name:      "queue",
			Query:     func(context.Context) (float64, error) { return 5, nil },
			Threshold: Threshold{Operator: "<", Value: 10},
		}},
		Validation: []Assertion{
			{Metric: "queue", Condition: func(v float64) bool { return v == 0 }, Message: "queue drains"},
			{Metric: "missing", Condition: func(float64) bool { return true }, Message: "never observed"},
		},
		Duration: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.False(t, res.HypothesisHeld)
	assert.Equal(t, []string{"queue drains", "never observed"}, res.Failed)
}

func TestRunRollsBackWhenCancelled(t *testing.T) {
	e := NewEngine(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	rolledBack := false
	_, err := e.Run(ctx, Experiment{
		Name:     "cancel",
		Method:   []Action{{Execute: func(context.Context) error { cancel(); return nil }}},
		Rollback: []Action{{Execute: func(ctx context.Context) error { rolledBack = ctx.Err() == nil; return nil }}},
		Duration: time.Hour,
	})
	require.NoError(t, err)
	assert.True(t, rolledBack)
}

func TestGameDaySkipsAbortedScenarios(t *testing.T) {
	e := NewEngine(zaptest.NewLogger(t))
	bad := Experiment{Name: "bad", SteadyState: []Probe{{
		Name:      "p",
		Query:     func(context.Context) (float64, error) { return 0, errors.New("down") },
		Threshold: Threshold{Operator: "==", Value: 0},
	}}}
	good := Experiment{Name: "good", Duration: 10 * time.Millisecond}

	results, err := e.RunGameDay(context.Background(), GameDay{Name: "weekly", Scenarios: []Experiment{bad, good}, Pause: time.Millisecond})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "good", results[0].ExperimentName)
	assert.True(t, results[0].HypothesisHeld)
}
