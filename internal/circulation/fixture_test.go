package circulation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"lendingcore/internal/apperr"
	"lendingcore/internal/events"
	"lendingcore/internal/inventory"
)

var (
	t0   = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)
	day0 = civil.DateOf(t0)
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) advanceDays(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.AddDate(0, 0, n)
}

// stubMembers answers every borrower the same way.
type stubMembers struct {
	missing    bool
	ineligible bool
	err        error
}

func (m stubMembers) Exists(context.Context, uuid.UUID) (bool, error) {
	return !m.missing, m.err
}

func (m stubMembers) CanBorrow(context.Context, uuid.UUID) (bool, error) {
	return !m.ineligible, m.err
}

func (m stubMembers) Validate(ctx context.Context, id uuid.UUID) error {
	switch {
	case m.err != nil:
		return fmt.Errorf("%w: %v", ErrGateUnavailable, m.err)
	case m.missing:
		return ErrBorrowerNotFound
	case m.ineligible:
		return ErrBorrowerNotEligible
	}
	return nil
}

// copyGate talks to a real inventory service in-process. The knobs inject
// the failures the HTTP client reports.
type copyGate struct {
	inv      inventory.Service
	down     atomic.Bool
	timeout  atomic.Bool
	reject   atomic.Bool
	notified atomic.Int32
}

func (g *copyGate) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	if g.down.Load() {
		return false, ErrGateUnavailable
	}
	_, err := g.inv.GetCopy(ctx, id)
	if errors.Is(err, inventory.ErrCopyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (g *copyGate) IsAvailable(ctx context.Context, id uuid.UUID) (bool, error) {
	if g.down.Load() {
		return false, ErrGateUnavailable
	}
	c, err := g.inv.GetCopy(ctx, id)
	if err != nil {
		return false, nil
	}
	return c.IsAvailable(), nil
}

func (g *copyGate) Validate(ctx context.Context, id uuid.UUID) error {
	exists, err := g.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return ErrCopyNotFound
	}
	ok, err := g.IsAvailable(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrCopyNotAvailable
	}
	return nil
}

func (g *copyGate) NotifyLoaned(ctx context.Context, id uuid.UUID) Notification {
	return g.send(func() error { return g.inv.MarkLoaned(ctx, id) })
}

func (g *copyGate) NotifyReturned(ctx context.Context, id uuid.UUID) Notification {
	return g.send(func() error { return g.inv.MarkReturned(ctx, id) })
}

func (g *copyGate) send(fn func() error) Notification {
	g.notified.Add(1)
	switch {
	case g.down.Load():
		return Failed(errors.New("connection refused"))
	case g.timeout.Load():
		return TimedOut(context.DeadlineExceeded)
	case g.reject.Load():
		return Rejected(errors.New("copy withdrawn"))
	}
	if err := fn(); err != nil {
		if k := apperr.KindOf(err); k == apperr.KindConflict || k == apperr.KindNotFound {
			return Rejected(err)
		}
		return Failed(err)
	}
	return Delivered()
}

type fixture struct {
	svc     Service
	store   *MemoryStore
	copies  *copyGate
	inv     inventory.Service
	rec     *events.Recorder
	clock   *testClock
	barcode atomic.Int32
}

func newFixture(t *testing.T, members EligibilityGate, opts ...Option) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	inv := inventory.NewService(inventory.NewMemoryStore(), events.Discard, log)
	f := &fixture{
		store:  NewMemoryStore(),
		copies: &copyGate{inv: inv},
		inv:    inv,
		rec:    &events.Recorder{},
		clock:  &testClock{now: t0},
	}
	if members == nil {
		members = stubMembers{}
	}
	opts = append([]Option{WithClock(f.clock.Now)}, opts...)
	f.svc = NewService(f.store, members, f.copies, f.rec, log, opts...)
	return f
}

func (f *fixture) newCopy(t *testing.T) uuid.UUID {
	t.Helper()
	n := f.barcode.Add(1)
	c, err := f.inv.AcquireCopy(context.Background(), inventory.AcquireCopyRequest{
		ItemID:  uuid.New(),
		Barcode: fmt.Sprintf("LN-%04d", n),
	})
	require.NoError(t, err)
	return c.ID
}

func (f *fixture) copyStatus(t *testing.T, id uuid.UUID) inventory.CopyStatus {
	t.Helper()
	c, err := f.inv.GetCopy(context.Background(), id)
	require.NoError(t, err)
	return c.Status
}

func (f *fixture) checkout(t *testing.T, copyID uuid.UUID, opts ...CheckoutOption) *Loan {
	t.Helper()
	req, err := NewCheckoutRequest(uuid.New(), copyID, opts...)
	require.NoError(t, err)
	id, err := f.svc.Checkout(context.Background(), req)
	require.NoError(t, err)
	loan, err := f.svc.GetLoan(context.Background(), id)
	require.NoError(t, err)
	return loan
}
