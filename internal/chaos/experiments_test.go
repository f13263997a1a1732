package chaos

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestLab(t *testing.T) *Lab {
	t.Helper()
	lab, err := NewLab(DefaultLabConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, lab.Close(ctx))
	})
	return lab
}

func runHeld(t *testing.T, lab *Lab, exp Experiment) *Result {
	t.Helper()
	res, err := NewEngine(zaptest.NewLogger(t)).Run(context.Background(), exp)
	require.NoError(t, err)
	assert.Empty(t, res.ErrorEvents)
	assert.True(t, res.HypothesisHeld, "failed: %v, violations: %+v", res.Failed, res.Violations)
	return res
}

func TestConcurrentCheckoutExperiment(t *testing.T) {
	lab := newTestLab(t)
	runHeld(t, lab, lab.ConcurrentCheckout(32))

	open, err := lab.Circulation.ListOpenLoans(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open, "rollback returned the winning loan")
}

func TestInventoryOutageExperiment(t *testing.T) {
	lab := newTestLab(t)
	res := runHeld(t, lab, lab.InventoryOutage(3, 500*time.Millisecond, 3*time.Second))

	assert.NotEmpty(t, res.Violations, "drift was visible during the outage")
	assert.NotNil(t, res.MTTR)
	assert.Contains(t, lab.Events.Types(), "LoanReturned")
}

func TestInventoryLatencyExperiment(t *testing.T) {
	lab := newTestLab(t)
	res := runHeld(t, lab, lab.InventoryLatency(8))

	hits := res.Observations["inventory_hits"]
	require.NotEmpty(t, hits)
	assert.Equal(t, float64(DefaultLabConfig().BreakerFailures), hits[len(hits)-1].Value)
}

func TestDriftProbe(t *testing.T) {
	lab := newTestLab(t)
	ctx := context.Background()
	copies, err := lab.AddCopies(ctx, 2)
	require.NoError(t, err)

	drift, err := lab.CopyDrift(ctx)
	require.NoError(t, err)
	assert.Zero(t, drift)

	require.NoError(t, lab.Inventory.MarkLoaned(ctx, copies[0]))
	drift, err = lab.CopyDrift(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.0, drift, "loaned in inventory with no loan")
}
