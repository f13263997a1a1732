// internal/chaos/experiments.go
package chaos

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"lendingcore/internal/circulation"
)

// RegisterAll registers the standard lending experiments against lab.
func RegisterAll(e *Engine, lab *Lab) {
	e.Register(lab.ConcurrentCheckout(64))
	e.Register(lab.InventoryOutage(5, 2*time.Second, 4*time.Second))
	e.Register(lab.InventoryLatency(10))
}

func (l *Lab) probe(name string, q func(context.Context) (float64, error), op string, v float64) Probe {
	return Probe{Name: name, Query: q, Threshold: Threshold{Operator: op, Value: v}}
}

func equals(want float64) func(float64) bool { return func(v float64) bool { return v == want } }

// ConcurrentCheckout races n borrowers for one copy.
func (l *Lab) ConcurrentCheckout(n int) Experiment {
	var winner uuid.UUID

	return Experiment{
		Name:       "concurrent-checkout",
		Hypothesis: "Exactly one of many simultaneous checkouts of a copy succeeds and inventory agrees",
		SteadyState: []Probe{
			l.probe("double_loans", l.DoubleLoans, "==", 0),
			l.probe("copy_drift", l.CopyDrift, "==", 0),
			l.probe("race_winners", l.RaceWinners, "<=", 1),
		},
		Method: []Action{{
			Type:   "concurrent-requests",
			Target: "circulation",
			Execute: func(ctx context.Context) error {
				l.Reset()
				ids, err := l.AddCopies(ctx, 1)
				if err != nil {
					return err
				}

				var (
					wg   sync.WaitGroup
					mu   sync.Mutex
					errs []error
				)
				for i := 0; i < n; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						id, err := l.Checkout(ctx, ids[0])
						mu.Lock()
						defer mu.Unlock()
						switch {
						case err == nil:
							winner = id
							l.winners.Add(1)
						case !errors.Is(err, circulation.ErrCopyAlreadyOnLoan) && !errors.Is(err, circulation.ErrCopyNotAvailable):
							errs = append(errs, err)
						}
					}()
				}
				wg.Wait()
				return errors.Join(errs...)
			},
		}},
		Rollback: []Action{{
			Type:   "return-winner",
			Target: "circulation",
			Execute: func(ctx context.Context) error {
				if winner == uuid.Nil {
					return nil
				}
				_, err := l.Circulation.ReturnLoan(ctx, winner)
				return err
			},
		}},
		Validation: []Assertion{
			{Metric: "race_winners", Condition: equals(1), Message: "exactly one checkout wins"},
			{Metric: "double_loans", Condition: equals(0), Message: "no copy is held by two loans"},
			{Metric: "copy_drift", Condition: equals(0), Message: "inventory matches the loan side"},
		},
		Duration:    time.Second,
		SampleEvery: 250 * time.Millisecond,
	}
}

// InventoryOutage takes inventory down while loans are returned and new
// checkouts are attempted, then brings it back after outage.
func (l *Lab) InventoryOutage(loans int, outage, settle time.Duration) Experiment {
	var (
		mu    sync.Mutex
		timer *time.Timer
	)

	return Experiment{
		Name:       "inventory-outage",
		Hypothesis: "Checkouts fail closed during an inventory outage, returns still commit, and copies converge after recovery",
		SteadyState: []Probe{
			l.probe("copy_drift", l.CopyDrift, "==", 0),
			l.probe("pending_sync", l.PendingSync, "==", 0),
			l.probe("unsafe_checkouts", l.UnsafeCheckouts, "==", 0),
		},
		Method: []Action{
			{
				Type:   "open-loans",
				Target: "circulation",
				Execute: func(ctx context.Context) error {
					l.Reset()
					copies, err := l.AddCopies(ctx, loans)
					if err != nil {
						return err
					}
					for _, id := range copies {
						if _, err := l.Checkout(ctx, id); err != nil {
							return fmt.Errorf("checkout before outage: %w", err)
						}
					}
					return nil
				},
			},
			{
				Type:   "outage",
				Target: "inventory",
				Execute: func(ctx context.Context) error {
					l.Faults.SetDown(true)
					mu.Lock()
					timer = time.AfterFunc(outage, func() { l.Faults.SetDown(false) })
					mu.Unlock()

					open, err := l.Circulation.ListOpenLoans(ctx)
					if err != nil {
						return err
					}
					var errs []error
					for _, loan := range open {
						if _, err := l.Circulation.ReturnLoan(ctx, loan.ID); err != nil {
							errs = append(errs, fmt.Errorf("return %s: %w", loan.ID, err))
						}
					}

					spare, err := l.AddCopies(ctx, 1)
					if err != nil {
						return errors.Join(append(errs, err)...)
					}
					if _, err := l.Checkout(ctx, spare[0]); err == nil {
						l.unsafe.Add(1)
					} else if !errors.Is(err, circulation.ErrGateUnavailable) {
						errs = append(errs, fmt.Errorf("checkout during outage: %w", err))
					}
					return errors.Join(errs...)
				},
			},
		},
		Rollback: []Action{{
			Type:   "restore",
			Target: "inventory",
			Execute: func(context.Context) error {
				mu.Lock()
				if timer != nil {
					timer.Stop()
				}
				mu.Unlock()
				l.Faults.Clear()
				return nil
			},
		}},
		Validation: []Assertion{
			{Metric: "unsafe_checkouts", Condition: equals(0), Message: "no loan opens while inventory cannot answer"},
			{Metric: "pending_sync", Condition: equals(0), Message: "every owed notification is delivered after recovery"},
			{Metric: "copy_drift", Condition: equals(0), Message: "inventory converges with the loan side"},
		},
		Duration:    outage + settle,
		SampleEvery: 250 * time.Millisecond,
	}
}

// InventoryLatency makes inventory slower than the gate timeout.
func (l *Lab) InventoryLatency(checkouts int) Experiment {
	bound := float64((3 * l.cfg.GateTimeout).Milliseconds())
	maxHits := float64(l.cfg.BreakerFailures)

	return Experiment{
		Name:       "inventory-latency",
		Hypothesis: "Checkouts against a slow inventory fail within the gate timeout and the breaker stops calling it",
		SteadyState: []Probe{
			l.probe("unsafe_checkouts", l.UnsafeCheckouts, "==", 0),
			l.probe("slowest_checkout_ms", l.SlowestCheckoutMillis, "<", bound),
			l.probe("inventory_hits", l.InventoryHits, "<=", maxHits),
		},
		Method: []Action{{
			Type:   "inject-latency",
			Target: "inventory",
			Execute: func(ctx context.Context) error {
				l.Reset()
				copies, err := l.AddCopies(ctx, checkouts)
				if err != nil {
					return err
				}
				l.Faults.SetLatency(4 * l.cfg.GateTimeout)
				var errs []error
				for _, id := range copies {
					_, err := l.Checkout(ctx, id)
					switch {
					case err == nil:
						l.unsafe.Add(1)
					case !errors.Is(err, circulation.ErrGateUnavailable):
						errs = append(errs, err)
					}
				}
				return errors.Join(errs...)
			},
		}},
		Rollback: []Action{{
			Type:    "remove-latency",
			Target:  "inventory",
			Execute: func(context.Context) error { l.Faults.Clear(); return nil },
		}},
		Validation: []Assertion{
			{Metric: "unsafe_checkouts", Condition: equals(0), Message: "no loan opens without an availability answer"},
			{Metric: "slowest_checkout_ms", Condition: func(v float64) bool { return v < bound }, Message: "checkouts fail fast"},
			{Metric: "inventory_hits", Condition: func(v float64) bool { return v <= maxHits }, Message: "the breaker sheds load"},
		},
		Duration:    time.Second,
		SampleEvery: 250 * time.Millisecond,
	}
}
