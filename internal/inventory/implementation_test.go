package inventory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"lendingcore/internal/events"
)

type countingStore struct {
	*MemoryStore
	creates atomic.Int32
}

func (c *countingStore) Create(ctx context.Context, cp *Copy) error {
	c.creates.Add(1)
	return c.MemoryStore.Create(ctx, cp)
}

type stubItems struct {
	exists bool
	err    error
}

func (s stubItems) ItemExists(context.Context, uuid.UUID) (bool, error) { return s.exists, s.err }

func newTestService(t *testing.T, opts ...Option) (Service, *countingStore, *events.Recorder) {
	t.Helper()
	store := &countingStore{MemoryStore: NewMemoryStore()}
	rec := &events.Recorder{}
	opts = append([]Option{WithClock(func() time.Time { return t0 })}, opts...)
	return NewService(store, rec, zaptest.NewLogger(t), opts...), store, rec
}

func TestAcquireCopy(t *testing.T) {
	svc, _, rec := newTestService(t)
	item := uuid.New()

	c, err := svc.AcquireCopy(context.Background(), AcquireCopyRequest{
		ItemID:        item,
		Barcode:       "lib-1001",
		ShelfLocation: "1-a-3",
	})
	require.NoError(t, err)

	assert.Equal(t, Barcode("LIB-1001"), c.Barcode)
	assert.Equal(t, StatusAvailable, c.Status)
	assert.Equal(t, "1-A-3", c.ShelfLocation.String())
	assert.Equal(t, t0, c.AcquiredAt)
	assert.Equal(t, []string{"CopyAcquired", "CopyLocationChanged"}, rec.Types())

	got, err := svc.GetCopy(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version)
}

func TestDuplicateBarcodeFailsBeforePersistence(t *testing.T) {
	svc, store, rec := newTestService(t)
	ctx := context.Background()

	_, err := svc.AcquireCopy(ctx, AcquireCopyRequest{ItemID: uuid.New(), Barcode: "DUP-0001"})
	require.NoError(t, err)
	rec.Reset()

	_, err = svc.AcquireCopy(ctx, AcquireCopyRequest{ItemID: uuid.New(), Barcode: "dup-0001"})
	assert.ErrorIs(t, err, ErrDuplicateBarcode)
	assert.Equal(t, int32(1), store.creates.Load(), "second copy never reached the store")
	assert.Empty(t, rec.Events())
}

func TestAcquireValidatesBeforeTouchingAnything(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.AcquireCopy(ctx, AcquireCopyRequest{ItemID: uuid.New(), Barcode: "x"})
	assert.ErrorIs(t, err, ErrInvalidBarcode)
	_, err = svc.AcquireCopy(ctx, AcquireCopyRequest{ItemID: uuid.New(), Barcode: "GOOD-1", ShelfLocation: "1-2"})
	assert.ErrorIs(t, err, ErrInvalidLocation)
	assert.Zero(t, store.creates.Load())
}

func TestAcquireChecksCatalog(t *testing.T) {
	ctx := context.Background()

	svc, _, _ := newTestService(t, WithItemLookup(stubItems{exists: false}))
	_, err := svc.AcquireCopy(ctx, AcquireCopyRequest{ItemID: uuid.New(), Barcode: "CAT-0001"})
	assert.ErrorIs(t, err, ErrItemNotFound)

	svc, store, _ := newTestService(t, WithItemLookup(stubItems{err: errors.New("connection refused")}))
	_, err = svc.AcquireCopy(ctx, AcquireCopyRequest{ItemID: uuid.New(), Barcode: "CAT-0001"})
	assert.ErrorIs(t, err, ErrCatalogUnavailable, "unreachable catalog blocks acquisition")
	assert.Zero(t, store.creates.Load())
}

func acquire(t *testing.T, svc Service, barcode string) *Copy {
	t.Helper()
	c, err := svc.AcquireCopy(context.Background(), AcquireCopyRequest{ItemID: uuid.New(), Barcode: barcode})
	require.NoError(t, err)
	return c
}

func TestRemoveLoanedCopyFails(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	c := acquire(t, svc, "RM-0001")
	require.NoError(t, svc.MarkLoaned(ctx, c.ID))

	err := svc.RemoveCopy(ctx, c.ID, "weeding")
	assert.ErrorIs(t, err, ErrCannotRemoveLoaned)

	got, err := svc.GetCopy(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusLoaned, got.Status)
}

func TestRemoveCopy(t *testing.T) {
	svc, _, rec := newTestService(t)
	ctx := context.Background()
	c := acquire(t, svc, "RM-0002")
	rec.Reset()

	require.NoError(t, svc.RemoveCopy(ctx, c.ID, ""))
	_, err := svc.GetCopy(ctx, c.ID)
	assert.ErrorIs(t, err, ErrCopyNotFound)
	assert.Equal(t, []string{"CopyRemoved"}, rec.Types())

	_ = acquire(t, svc, "RM-0002")
}

func TestChangeCopyStatus(t *testing.T) {
	svc, _, rec := newTestService(t)
	ctx := context.Background()
	c := acquire(t, svc, "ST-0001")
	rec.Reset()

	require.NoError(t, svc.ChangeCopyStatus(ctx, c.ID, StatusLost, ""))
	assert.Equal(t, []string{"CopyStatusChanged", "CopyLost"}, rec.Types())

	err := svc.ChangeCopyStatus(ctx, c.ID, StatusLoaned, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	err = svc.ChangeCopyStatus(ctx, uuid.New(), StatusLost, "")
	assert.ErrorIs(t, err, ErrCopyNotFound)

	err = svc.ChangeCopyStatus(ctx, c.ID, CopyStatus("BORROWED"), "")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestGateOperationsAreIdempotent(t *testing.T) {
	svc, _, rec := newTestService(t)
	ctx := context.Background()
	c := acquire(t, svc, "GT-0001")
	rec.Reset()

	require.NoError(t, svc.MarkLoaned(ctx, c.ID))
	require.NoError(t, svc.MarkLoaned(ctx, c.ID))
	require.NoError(t, svc.MarkReturned(ctx, c.ID))
	require.NoError(t, svc.MarkReturned(ctx, c.ID))

	assert.Equal(t, []string{"CopyStatusChanged", "CopyStatusChanged"}, rec.Types())
	got, err := svc.GetCopy(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Version)
}

func TestConcurrentMarkLoanedConverges(t *testing.T) {
	svc, _, rec := newTestService(t)
	ctx := context.Background()
	c := acquire(t, svc, "GT-0002")
	rec.Reset()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.MarkLoaned(ctx, c.ID))
		}()
	}
	wg.Wait()

	assert.Len(t, rec.Events(), 1, "exactly one writer performed the transition")
}

func TestRelocateCopy(t *testing.T) {
	svc, _, rec := newTestService(t)
	ctx := context.Background()
	c := acquire(t, svc, "LC-0001")
	rec.Reset()

	require.NoError(t, svc.RelocateCopy(ctx, c.ID, nil))
	assert.Empty(t, rec.Events())

	loc := ShelfLocation{Floor: "3", Section: "C", Shelf: "1"}
	require.NoError(t, svc.RelocateCopy(ctx, c.ID, &loc))
	got, err := svc.GetCopy(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "3-C-1", got.ShelfLocation.String())
}

func TestListAndAvailability(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	item := uuid.New()
	var ids []uuid.UUID
	for _, b := range []string{"AV-0001", "AV-0002", "AV-0003"} {
		c, err := svc.AcquireCopy(ctx, AcquireCopyRequest{ItemID: item, Barcode: b})
		require.NoError(t, err)
		ids = append(ids, c.ID)
	}
	require.NoError(t, svc.MarkLoaned(ctx, ids[0]))

	all, err := svc.ListCopiesByItem(ctx, item, false)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	avail, err := svc.ListCopiesByItem(ctx, item, true)
	require.NoError(t, err)
	assert.Len(t, avail, 2)

	a, err := svc.Availability(ctx, item)
	require.NoError(t, err)
	assert.Equal(t, 3, a.Total)
	assert.Equal(t, 2, a.Available)
	assert.Equal(t, 1, a.Loaned)
}
