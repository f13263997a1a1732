package clients

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"lendingcore/internal/circulation"
	"lendingcore/internal/config"
	"lendingcore/internal/events"
	"lendingcore/internal/httpx"
	"lendingcore/internal/inventory"
)

func testConfig(url string) config.ClientConfig {
	return config.ClientConfig{
		BaseURL:         url,
		Timeout:         500 * time.Millisecond,
		BreakerFailures: 5,
		BreakerCooldown: time.Minute,
	}
}

func serve(t *testing.T, h http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestFlag(t *testing.T) {
	cases := []struct {
		body string
		want bool
		err  bool
	}{
		{body: `true`, want: true},
		{body: `false`},
		{body: `{"exists":true,"status":"ACTIVE"}`, want: true},
		{body: `{"exists":false}`},
		{body: `{"status":"ACTIVE"}`, err: true},
		{body: `{"exists":"yes"}`, err: true},
		{body: `<html>`, err: true},
	}
	for _, tc := range cases {
		got, err := flag([]byte(tc.body), "exists")
		if tc.err {
			assert.Error(t, err, tc.body)
			continue
		}
		require.NoError(t, err, tc.body)
		assert.Equal(t, tc.want, got, tc.body)
	}
}

func membershipServer(t *testing.T, members map[uuid.UUID]bool) *httptest.Server {
	r := chi.NewRouter()
	r.Get("/members/{id}/exists", func(w http.ResponseWriter, r *http.Request) {
		_, ok := members[uuid.MustParse(chi.URLParam(r, "id"))]
		httpx.WriteJSON(w, http.StatusOK, ok)
	})
	r.Get("/members/{id}/can-borrow", func(w http.ResponseWriter, r *http.Request) {
		can, ok := members[uuid.MustParse(chi.URLParam(r, "id"))]
		if !ok {
			httpx.WriteJSON(w, http.StatusNotFound, httpx.ErrorBody{Error: "member not found", Code: "member_not_found"})
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"can_borrow": can, "active_loans": 2})
	})
	return serve(t, r)
}

func TestMembershipValidate(t *testing.T) {
	good, suspended := uuid.New(), uuid.New()
	srv := membershipServer(t, map[uuid.UUID]bool{good: true, suspended: false})
	c := NewMembershipClient(testConfig(srv.URL), srv.Client(), zaptest.NewLogger(t))
	ctx := context.Background()

	assert.NoError(t, c.Validate(ctx, good))
	assert.ErrorIs(t, c.Validate(ctx, suspended), circulation.ErrBorrowerNotEligible)
	assert.ErrorIs(t, c.Validate(ctx, uuid.New()), circulation.ErrBorrowerNotFound)

	_, err := c.CanBorrow(ctx, uuid.New())
	assert.ErrorIs(t, err, circulation.ErrGateUnavailable, "can-borrow without a member is not an answer")
}

func TestMembershipFailsClosed(t *testing.T) {
	srv := serve(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	c := NewMembershipClient(testConfig(srv.URL), srv.Client(), zaptest.NewLogger(t))
	assert.ErrorIs(t, c.Validate(context.Background(), uuid.New()), circulation.ErrGateUnavailable)

	dead := NewMembershipClient(testConfig("http://127.0.0.1:1"), nil, zaptest.NewLogger(t))
	assert.ErrorIs(t, dead.Validate(context.Background(), uuid.New()), circulation.ErrGateUnavailable)
}

// inventoryServer runs the real inventory HTTP surface.
func inventoryServer(t *testing.T) (*httptest.Server, inventory.Service) {
	t.Helper()
	log := zaptest.NewLogger(t)
	svc := inventory.NewService(inventory.NewMemoryStore(), events.Discard, log)
	r := httpx.NewRouter(log)
	inventory.NewHandler(svc, log).Register(r)
	return serve(t, r), svc
}

func TestInventoryClientAgainstInventoryService(t *testing.T) {
	srv, svc := inventoryServer(t)
	c := NewInventoryClient(testConfig(srv.URL), srv.Client(), zaptest.NewLogger(t))
	ctx := context.Background()

	cp, err := svc.AcquireCopy(ctx, inventory.AcquireCopyRequest{ItemID: uuid.New(), Barcode: "CL-0001"})
	require.NoError(t, err)

	exists, err := c.Exists(ctx, cp.ID)
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = c.Exists(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, c.Validate(ctx, cp.ID))
	assert.ErrorIs(t, c.Validate(ctx, uuid.New()), circulation.ErrCopyNotFound)

	n := c.NotifyLoaned(ctx, cp.ID)
	require.True(t, n.Delivered(), "%v", n.Err)
	assert.True(t, c.NotifyLoaned(ctx, cp.ID).Delivered(), "repeat is harmless")
	assert.ErrorIs(t, c.Validate(ctx, cp.ID), circulation.ErrCopyNotAvailable)
	ok, err := c.IsAvailable(ctx, cp.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.True(t, c.NotifyReturned(ctx, cp.ID).Delivered())
	require.NoError(t, svc.ChangeCopyStatus(ctx, cp.ID, inventory.StatusLost, "gone"))

	n = c.NotifyLoaned(ctx, cp.ID)
	assert.Equal(t, circulation.OutcomeRejected, n.Outcome)
	assert.ErrorContains(t, n.Err, "invalid_transition")

	n = c.NotifyLoaned(ctx, uuid.New())
	assert.Equal(t, circulation.OutcomeRejected, n.Outcome)
}

func TestNotifyRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := serve(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	cfg := testConfig(srv.URL)
	cfg.MaxRetries = 3
	c := NewInventoryClient(cfg, srv.Client(), zaptest.NewLogger(t))

	n := c.NotifyLoaned(context.Background(), uuid.New())
	assert.True(t, n.Delivered(), "%v", n.Err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestNotifyGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := serve(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	cfg := testConfig(srv.URL)
	cfg.MaxRetries = 2
	c := NewInventoryClient(cfg, srv.Client(), zaptest.NewLogger(t))

	n := c.NotifyReturned(context.Background(), uuid.New())
	assert.Equal(t, circulation.OutcomeFailed, n.Outcome)
	assert.Equal(t, int32(3), calls.Load())
}

func TestNotifyTimeout(t *testing.T) {
	srv := serve(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	cfg := testConfig(srv.URL)
	cfg.Timeout = 50 * time.Millisecond
	c := NewInventoryClient(cfg, srv.Client(), zaptest.NewLogger(t))

	n := c.NotifyLoaned(context.Background(), uuid.New())
	assert.Equal(t, circulation.OutcomeTimeout, n.Outcome)
	assert.Equal(t, "timeout", n.Outcome.String())
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := serve(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	cfg := testConfig(srv.URL)
	cfg.BreakerFailures = 2
	c := NewInventoryClient(cfg, srv.Client(), zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, c.Validate(ctx, uuid.New()), circulation.ErrGateUnavailable)
	}
	err := c.Validate(ctx, uuid.New())
	assert.ErrorIs(t, err, circulation.ErrGateUnavailable)
	assert.True(t, isBreakerOpen(err))
	assert.Equal(t, int32(2), calls.Load(), "open breaker short-circuits")

	n := c.NotifyLoaned(ctx, uuid.New())
	assert.Equal(t, circulation.OutcomeFailed, n.Outcome)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	var calls atomic.Int32
	srv := serve(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		httpx.WriteJSON(w, http.StatusConflict, httpx.ErrorBody{Error: "nope", Code: "copy_withdrawn"})
	}))
	cfg := testConfig(srv.URL)
	cfg.BreakerFailures = 1
	c := NewInventoryClient(cfg, srv.Client(), zaptest.NewLogger(t))

	for i := 0; i < 4; i++ {
		n := c.NotifyLoaned(context.Background(), uuid.New())
		assert.Equal(t, circulation.OutcomeRejected, n.Outcome)
		assert.ErrorContains(t, n.Err, "copy_withdrawn")
	}
	assert.Equal(t, int32(4), calls.Load())
}

func TestRateLimitHonoursContext(t *testing.T) {
	srv := serve(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, true)
	}))
	cfg := testConfig(srv.URL)
	cfg.RatePerSecond = 0.001
	cfg.Burst = 1
	c := NewInventoryClient(cfg, srv.Client(), zaptest.NewLogger(t))

	_, err := c.Exists(context.Background(), uuid.New())
	require.NoError(t, err)
	_, err = c.Exists(context.Background(), uuid.New())
	assert.ErrorIs(t, err, circulation.ErrGateUnavailable, "second call cannot get a token within the timeout")
}

func TestCatalogClient(t *testing.T) {
	known, broken := uuid.New(), uuid.New()
	r := chi.NewRouter()
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch uuid.MustParse(chi.URLParam(r, "id")) {
		case known:
			httpx.WriteJSON(w, http.StatusOK, map[string]string{"title": "Dune"})
		case broken:
			w.WriteHeader(http.StatusTeapot)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	srv := serve(t, r)
	c := NewCatalogClient(testConfig(srv.URL), srv.Client(), zaptest.NewLogger(t))
	ctx := context.Background()

	ok, err := c.ItemExists(ctx, known)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.ItemExists(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = c.ItemExists(ctx, broken)
	assert.Error(t, err)
}

func TestCatalogClientBlocksAcquisitionWhenDown(t *testing.T) {
	c := NewCatalogClient(testConfig("http://127.0.0.1:1"), nil, zaptest.NewLogger(t))
	svc := inventory.NewService(inventory.NewMemoryStore(), events.Discard, zaptest.NewLogger(t), inventory.WithItemLookup(c))

	_, err := svc.AcquireCopy(context.Background(), inventory.AcquireCopyRequest{ItemID: uuid.New(), Barcode: "CAT-0009"})
	assert.True(t, errors.Is(err, inventory.ErrCatalogUnavailable), "%v", err)
}
