package circulation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ReconcileCopies re-sends the copy notifications that checkouts and
// returns could not deliver. Each loan is re-read before its notification
// so a loan that moved on since the listing gets the notification it needs
// now, not the stale one.
//
// A failure on one loan does not cancel the others; the first store error
// is returned after every loan was tried.
func (s *service) ReconcileCopies(ctx context.Context) (ReconcileReport, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.reconcile_copies")
	defer span.End()

	pending, err := s.store.ListPendingCopySync(ctx, s.maxSyncAttempts, s.reconcileBatch)
	if err != nil {
		return ReconcileReport{}, s.fail(span, err)
	}

	var (
		mu     sync.Mutex
		report = ReconcileReport{Checked: len(pending)}
		g      errgroup.Group
	)
	g.SetLimit(s.parallelism)
	for _, stale := range pending {
		g.Go(func() error {
			delivered, parked, err := s.reconcileOne(ctx, stale.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.Failed++
			case delivered:
				report.Delivered++
			default:
				report.Failed++
				if parked {
					report.Parked++
				}
			}
			return err
		})
	}
	err = g.Wait()

	span.SetAttributes(
		attribute.Int("loans.checked", report.Checked),
		attribute.Int("loans.delivered", report.Delivered),
		attribute.Int("loans.failed", report.Failed),
	)
	if report.Checked > 0 {
		s.log.Info("copy reconciliation",
			zap.Int("checked", report.Checked),
			zap.Int("delivered", report.Delivered),
			zap.Int("failed", report.Failed),
			zap.Int("parked", report.Parked),
		)
	}
	if err != nil {
		return report, s.fail(span, err)
	}
	return report, nil
}

// reconcileOne reports delivered for a loan that no longer owes anything,
// including one compensated away since the listing.
func (s *service) reconcileOne(ctx context.Context, id uuid.UUID) (delivered, parked bool, err error) {
	loan, err := s.store.FindByID(ctx, id)
	if errors.Is(err, ErrLoanNotFound) {
		return true, false, nil
	}
	if err != nil {
		return false, false, err
	}
	if !loan.CopySync.Pending() {
		return true, false, nil
	}

	sent := loan.CopySync
	n := s.notify(ctx, loan)
	if n.Delivered() {
		loan.SyncDelivered(s.clock())
	} else {
		loan.SyncFailed(n.Err, s.clock())
	}
	if err := s.store.Save(ctx, loan); err != nil {
		if !errors.Is(err, ErrConcurrentUpdate) {
			return false, false, err
		}
		// A mark-loaned that was not refused may have landed after a
		// concurrent return reached the copy.
		if sent == SyncMarkLoaned && n.Outcome != OutcomeRejected {
			if err := s.requeueReturn(ctx, id); err != nil {
				return false, false, err
			}
		}
		return n.Delivered(), false, nil
	}
	if n.Delivered() {
		return true, false, nil
	}

	fields := []zap.Field{
		zap.Stringer("loan_id", loan.ID),
		zap.Stringer("copy_id", loan.CopyID),
		zap.String("sync", string(loan.CopySync)),
		zap.Int("attempts", loan.SyncAttempts),
		zap.Stringer("outcome", n.Outcome),
		zap.NamedError("cause", n.Err),
	}
	if loan.SyncAttempts >= s.maxSyncAttempts {
		s.log.Error("copy sync parked, needs manual repair", fields...)
		return false, true, nil
	}
	s.log.Warn("copy sync still pending", fields...)
	return false, false, nil
}

// requeueReturn puts a mark-returned obligation back on a loan that was
// closed while a mark-loaned for it was in flight. Active loans are left
// alone; their pending mark-loaned is re-sent by the next pass.
func (s *service) requeueReturn(ctx context.Context, id uuid.UUID) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 5 * time.Millisecond
	eb.MaxInterval = 100 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		loan, err := s.store.FindByID(ctx, id)
		if errors.Is(err, ErrLoanNotFound) {
			s.log.Error("mark-loaned raced a compensated checkout, copy needs manual repair",
				zap.Stringer("loan_id", id))
			return struct{}{}, nil
		}
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if loan.IsActive() {
			return struct{}{}, nil
		}
		loan.RequireCopyReturn(s.clock())
		err = s.store.Save(ctx, loan)
		if errors.Is(err, ErrConcurrentUpdate) {
			return struct{}{}, err
		}
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		s.log.Warn("stale mark-loaned, mark-returned queued again",
			zap.Stringer("loan_id", loan.ID), zap.Stringer("copy_id", loan.CopyID))
		return struct{}{}, nil
	}, backoff.WithBackOff(eb), backoff.WithMaxTries(5))
	return err
}

func (s *service) notify(ctx context.Context, loan *Loan) Notification {
	var n Notification
	switch loan.CopySync {
	case SyncMarkLoaned:
		n = s.copies.NotifyLoaned(ctx, loan.CopyID)
	case SyncMarkReturned:
		n = s.copies.NotifyReturned(ctx, loan.CopyID)
	default:
		return Delivered()
	}
	s.metrics.notified(ctx, loan.CopySync, n)
	return n
}
