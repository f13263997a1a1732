package chaos

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"lendingcore/internal/circulation"
	"lendingcore/internal/clients"
	"lendingcore/internal/config"
	"lendingcore/internal/events"
	"lendingcore/internal/httpx"
	"lendingcore/internal/inventory"
)

// Faults is HTTP middleware that makes the service behind it slow or
// unreachable on demand.
type Faults struct {
	latency atomic.Int64
	down    atomic.Bool
	hits    atomic.Int64
}

func (f *Faults) SetLatency(d time.Duration) { f.latency.Store(int64(d)) }

func (f *Faults) SetDown(down bool) { f.down.Store(down) }

// Hits counts requests that reached the middleware since the last Clear.
func (f *Faults) Hits() int64 { return f.hits.Load() }

// Clear removes every fault and resets the hit counter.
func (f *Faults) Clear() {
	f.latency.Store(0)
	f.down.Store(false)
	f.hits.Store(0)
}

func (f *Faults) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		if f.down.Load() {
			httpx.WriteJSON(w, http.StatusServiceUnavailable, httpx.ErrorBody{Error: "injected outage", Code: "chaos"})
			return
		}
		if d := time.Duration(f.latency.Load()); d > 0 {
			select {
			case <-time.After(d):
			case <-r.Context().Done():
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// LabConfig tunes the gates between circulation and the services it calls.
type LabConfig struct {
	GateTimeout     time.Duration
	MaxRetries      uint
	BreakerFailures uint32
	BreakerCooldown time.Duration
	// ReconcileSpec is the cron spec of the copy reconciler.
	ReconcileSpec string
}

func DefaultLabConfig() LabConfig {
	return LabConfig{
		GateTimeout:     200 * time.Millisecond,
		MaxRetries:      1,
		BreakerFailures: 3,
		BreakerCooldown: 500 * time.Millisecond,
		ReconcileSpec:   "@every 1s",
	}
}

// Lab is a complete lending deployment in one process: inventory and a
// membership stub served over HTTP, and circulation reaching them through
// the real gate clients.
type Lab struct {
	Inventory   inventory.Service
	Circulation circulation.Service
	Loans       *circulation.MemoryStore
	Faults      *Faults
	Events      *events.Recorder

	cfg       LabConfig
	log       *zap.Logger
	scheduler *circulation.Scheduler
	servers   []*httptest.Server

	mu      sync.Mutex
	copies  []uuid.UUID
	unsafe  atomic.Int64
	slowest atomic.Int64
	winners atomic.Int64
}

func NewLab(cfg LabConfig, log *zap.Logger) (*Lab, error) {
	l := &Lab{
		Loans:  circulation.NewMemoryStore(),
		Faults: &Faults{},
		Events: &events.Recorder{},
		cfg:    cfg,
		log:    log.With(zap.String("component", "lab")),
	}

	l.Inventory = inventory.NewService(inventory.NewMemoryStore(), events.Discard, log)
	inv := httpx.NewRouter(log)
	inventory.NewHandler(l.Inventory, log).Register(inv)
	invSrv := l.serve(l.Faults.Middleware(inv))

	members := chi.NewRouter()
	members.Get("/members/{id}/exists", func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]bool{"exists": true})
	})
	members.Get("/members/{id}/can-borrow", func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]bool{"can_borrow": true})
	})
	memberSrv := l.serve(members)

	gate := func(url string) config.ClientConfig {
		return config.ClientConfig{
			BaseURL:         url,
			Timeout:         cfg.GateTimeout,
			MaxRetries:      cfg.MaxRetries,
			BreakerFailures: cfg.BreakerFailures,
			BreakerCooldown: cfg.BreakerCooldown,
		}
	}
	l.Circulation = circulation.NewService(
		l.Loans,
		clients.NewMembershipClient(gate(memberSrv.URL), memberSrv.Client(), log),
		clients.NewInventoryClient(gate(invSrv.URL), invSrv.Client(), log),
		l.Events,
		log,
		circulation.WithReconcileLimits(100, 1, 50),
	)

	l.scheduler = circulation.NewScheduler(log, time.UTC)
	if err := l.scheduler.AddCirculation(l.Circulation, "", cfg.ReconcileSpec); err != nil {
		l.closeServers()
		return nil, err
	}
	l.scheduler.Start()
	return l, nil
}

func (l *Lab) serve(h http.Handler) *httptest.Server {
	srv := httptest.NewServer(h)
	l.servers = append(l.servers, srv)
	return srv
}

func (l *Lab) closeServers() {
	for _, srv := range l.servers {
		srv.Close()
	}
}

// Close stops the reconciler and the servers.
func (l *Lab) Close(ctx context.Context) error {
	err := l.scheduler.Stop(ctx)
	l.closeServers()
	return err
}

// AddCopies registers n loanable copies directly with inventory, bypassing
// any injected fault.
func (l *Lab) AddCopies(ctx context.Context, n int) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		c, err := l.Inventory.AcquireCopy(ctx, inventory.AcquireCopyRequest{
			ItemID:  uuid.New(),
			Barcode: "CHAOS-" + uuid.NewString()[:8],
		})
		if err != nil {
			return out, err
		}
		out = append(out, c.ID)
	}
	l.mu.Lock()
	l.copies = append(l.copies, out...)
	l.mu.Unlock()
	return out, nil
}

// Checkout runs one checkout for a fresh borrower and tracks its latency.
func (l *Lab) Checkout(ctx context.Context, copyID uuid.UUID) (uuid.UUID, error) {
	req, err := circulation.NewCheckoutRequest(uuid.New(), copyID)
	if err != nil {
		return uuid.Nil, err
	}
	start := time.Now()
	id, err := l.Circulation.Checkout(ctx, req)
	took := time.Since(start)
	for {
		cur := l.slowest.Load()
		if int64(took) <= cur || l.slowest.CompareAndSwap(cur, int64(took)) {
			break
		}
	}
	return id, err
}

// Reset clears injected faults and the per-experiment counters.
func (l *Lab) Reset() {
	l.Faults.Clear()
	l.unsafe.Store(0)
	l.slowest.Store(0)
	l.winners.Store(0)
}

// CopyDrift counts copies whose inventory status disagrees with the loan
// side: LOANED without an active loan, or not LOANED with one.
func (l *Lab) CopyDrift(ctx context.Context) (float64, error) {
	l.mu.Lock()
	copies := append([]uuid.UUID(nil), l.copies...)
	l.mu.Unlock()

	drift := 0
	for _, id := range copies {
		c, err := l.Inventory.GetCopy(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("copy %s: %w", id, err)
		}
		_, err = l.Loans.FindActiveByCopyID(ctx, id)
		onLoan := err == nil
		if err != nil && !errors.Is(err, circulation.ErrLoanNotFound) {
			return 0, err
		}
		if onLoan != (c.Status == inventory.StatusLoaned) {
			drift++
		}
	}
	return float64(drift), nil
}

// DoubleLoans counts copies held by more than one active loan.
func (l *Lab) DoubleLoans(ctx context.Context) (float64, error) {
	held := map[uuid.UUID]int{}
	for _, st := range []circulation.LoanStatus{circulation.StatusOpen, circulation.StatusOverdue} {
		loans, err := l.Loans.ListByStatus(ctx, st)
		if err != nil {
			return 0, err
		}
		for _, loan := range loans {
			held[loan.CopyID]++
		}
	}
	doubles := 0
	for _, n := range held {
		if n > 1 {
			doubles++
		}
	}
	return float64(doubles), nil
}

// PendingSync counts loans still owing the inventory a notification.
func (l *Lab) PendingSync(ctx context.Context) (float64, error) {
	loans, err := l.Loans.ListPendingCopySync(ctx, 0, 0)
	return float64(len(loans)), err
}

func (l *Lab) UnsafeCheckouts(context.Context) (float64, error) {
	return float64(l.unsafe.Load()), nil
}

func (l *Lab) SlowestCheckoutMillis(context.Context) (float64, error) {
	return float64(time.Duration(l.slowest.Load()).Milliseconds()), nil
}

func (l *Lab) InventoryHits(context.Context) (float64, error) {
	return float64(l.Faults.Hits()), nil
}

func (l *Lab) RaceWinners(context.Context) (float64, error) {
	return float64(l.winners.Load()), nil
}
