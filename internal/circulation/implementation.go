// internal/circulation/implementation.go
package circulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"lendingcore/internal/events"
)

// service implements the Service interface.
type service struct {
	store   LoanStore
	members EligibilityGate
	copies  CopyAvailabilityGate
	sink    events.Sink
	log     *zap.Logger
	tracer  trace.Tracer
	metrics *metrics

	fines    FineCalculator
	loanDays int
	loc      *time.Location
	now      func() time.Time

	sweepBatch      int
	reconcileBatch  int
	parallelism     int
	maxSyncAttempts int
}

type Option func(*service)

func WithFineCalculator(c FineCalculator) Option { return func(s *service) { s.fines = c } }

// WithLoanPeriod sets the default loan length in days.
func WithLoanPeriod(days int) Option {
	return func(s *service) {
		if days > 0 {
			s.loanDays = days
		}
	}
}

// WithLocation sets the time zone that decides which calendar day it is.
func WithLocation(loc *time.Location) Option {
	return func(s *service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option { return func(s *service) { s.now = now } }

// WithReconcileLimits bounds one reconciliation pass: at most batch loans,
// parallel notifications in flight, and maxAttempts failures before a loan
// is parked.
func WithReconcileLimits(batch, parallel, maxAttempts int) Option {
	return func(s *service) {
		if batch > 0 {
			s.reconcileBatch = batch
		}
		if parallel > 0 {
			s.parallelism = parallel
		}
		if maxAttempts > 0 {
			s.maxSyncAttempts = maxAttempts
		}
	}
}

// NewService creates a new circulation service instance.
func NewService(store LoanStore, members EligibilityGate, copies CopyAvailabilityGate, sink events.Sink, log *zap.Logger, opts ...Option) Service {
	log = log.With(zap.String("component", "circulation"))
	s := &service{
		store:           store,
		members:         members,
		copies:          copies,
		sink:            sink,
		log:             log,
		tracer:          otel.Tracer("lendingcore/circulation"),
		metrics:         newMetrics(otel.Meter("lendingcore/circulation"), log),
		fines:           DefaultFineCalculator(),
		loanDays:        DefaultLoanDays,
		loc:             time.UTC,
		now:             time.Now,
		sweepBatch:      500,
		reconcileBatch:  100,
		parallelism:     8,
		maxSyncAttempts: 20,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// clock returns the current instant in the library's time zone, so that
// civil.DateOf gives the library's calendar day.
func (s *service) clock() time.Time { return s.now().In(s.loc) }

// Checkout opens a loan for a copy nobody holds.
//
// The loan row is written with a pending mark-loaned obligation before the
// inventory service hears about it. If the inventory refuses, the loan is
// deleted again; if it cannot be reached, the obligation stays on the row
// for ReconcileCopies.
func (s *service) Checkout(ctx context.Context, req CheckoutRequest) (uuid.UUID, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.checkout", trace.WithAttributes(
		attribute.String("borrower.id", req.BorrowerID.String()),
		attribute.String("copy.id", req.CopyID.String()),
	))
	defer span.End()

	if req.BorrowerID == uuid.Nil || req.CopyID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: borrower and copy are required", ErrInvalidRequest)
	}
	if req.LoanDays < 0 {
		return uuid.Nil, fmt.Errorf("%w: %d", ErrInvalidLoanPeriod, req.LoanDays)
	}
	days := req.LoanDays
	if days == 0 {
		days = s.loanDays
	}

	if err := s.members.Validate(ctx, req.BorrowerID); err != nil {
		return uuid.Nil, s.fail(span, err)
	}
	if err := s.copies.Validate(ctx, req.CopyID); err != nil {
		// An unavailable copy is usually one of ours; say so when it is.
		if errors.Is(err, ErrCopyNotAvailable) {
			if held := s.ensureNotOnLoan(ctx, req.CopyID); errors.Is(held, ErrCopyAlreadyOnLoan) {
				err = held
			}
		}
		return uuid.Nil, s.fail(span, err)
	}
	if err := s.ensureNotOnLoan(ctx, req.CopyID); err != nil {
		return uuid.Nil, s.fail(span, err)
	}

	loan, evs := OpenLoan(req.BorrowerID, req.CopyID, days, s.clock())
	if err := s.store.Create(ctx, loan); err != nil {
		return uuid.Nil, s.fail(span, err)
	}
	span.SetAttributes(attribute.String("loan.id", loan.ID.String()))

	n := s.notify(ctx, loan)
	if n.Outcome == OutcomeRejected {
		return uuid.Nil, s.fail(span, s.compensate(ctx, loan, n.Err))
	}
	s.settle(ctx, loan, n)

	s.metrics.checkouts.Add(ctx, 1)
	s.log.Info("loan opened",
		zap.Stringer("loan_id", loan.ID),
		zap.Stringer("borrower_id", loan.BorrowerID),
		zap.Stringer("copy_id", loan.CopyID),
		zap.Stringer("due_date", loan.DueDate),
		zap.Stringer("copy_sync", n.Outcome),
	)
	s.dispatch(ctx, evs)
	return loan.ID, nil
}

// ensureNotOnLoan is the fast path only. Create enforces the rule
// atomically.
func (s *service) ensureNotOnLoan(ctx context.Context, copyID uuid.UUID) error {
	active, err := s.store.FindActiveByCopyID(ctx, copyID)
	switch {
	case err == nil:
		return fmt.Errorf("%w: copy %s is held by loan %s", ErrCopyAlreadyOnLoan, copyID, active.ID)
	case errors.Is(err, ErrLoanNotFound):
		return nil
	default:
		return err
	}
}

// compensate undoes a checkout the copy side refused. The loan never took
// effect, so it is removed rather than closed.
func (s *service) compensate(ctx context.Context, loan *Loan, cause error) error {
	s.metrics.compensations.Add(ctx, 1)
	refused := fmt.Errorf("%w: copy %s refused the loan: %v", ErrCopyNotAvailable, loan.CopyID, cause)
	if err := s.store.Delete(ctx, loan); err != nil {
		s.log.Error("compensation failed, loan left pending",
			zap.Stringer("loan_id", loan.ID), zap.Error(err))
		return errors.Join(refused, err)
	}
	s.log.Warn("checkout compensated",
		zap.Stringer("loan_id", loan.ID), zap.Stringer("copy_id", loan.CopyID), zap.NamedError("cause", cause))
	return refused
}

// settle records the outcome of a copy notification on the loan. Only a
// delivered notification clears the obligation.
func (s *service) settle(ctx context.Context, loan *Loan, n Notification) {
	if n.Delivered() {
		loan.SyncDelivered(s.clock())
	} else {
		loan.SyncFailed(n.Err, s.clock())
		s.log.Warn("copy notification pending",
			zap.Stringer("loan_id", loan.ID),
			zap.Stringer("copy_id", loan.CopyID),
			zap.String("sync", string(loan.CopySync)),
			zap.Stringer("outcome", n.Outcome),
			zap.NamedError("cause", n.Err),
		)
	}
	if err := s.store.Save(ctx, loan); err != nil {
		// The obligation is still on the stored row; reconciliation re-sends it.
		s.log.Warn("save copy sync state", zap.Stringer("loan_id", loan.ID), zap.Error(err))
	}
}

// ReturnLoan closes a loan, charging any fine owed as of today.
func (s *service) ReturnLoan(ctx context.Context, loanID uuid.UUID) (*Loan, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.return", trace.WithAttributes(attribute.String("loan.id", loanID.String())))
	defer span.End()

	loan, err := s.store.FindByID(ctx, loanID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	if loan.Status == StatusReturned {
		return nil, s.fail(span, fmt.Errorf("%w: %s", ErrAlreadyReturned, loanID))
	}

	now := s.clock()
	_, evs := loan.CalculateFine(s.fines, now)
	returned, err := loan.Return(now)
	if err != nil {
		return nil, s.fail(span, err)
	}
	evs = append(evs, returned...)

	if err := s.store.Save(ctx, loan); err != nil {
		return nil, s.fail(span, err)
	}

	n := s.notify(ctx, loan)
	s.settle(ctx, loan, n)

	s.metrics.returns.Add(ctx, 1)
	fields := []zap.Field{zap.Stringer("loan_id", loan.ID), zap.Stringer("copy_id", loan.CopyID)}
	if loan.Fine != nil {
		fields = append(fields, zap.Stringer("fine", loan.Fine))
	}
	s.log.Info("loan returned", fields...)
	s.dispatch(ctx, evs)
	return loan, nil
}

// MarkOverdue is the strict, single-loan form of SweepOverdue.
func (s *service) MarkOverdue(ctx context.Context, loanID uuid.UUID) (*Loan, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.mark_overdue", trace.WithAttributes(attribute.String("loan.id", loanID.String())))
	defer span.End()

	loan, err := s.store.FindByID(ctx, loanID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	evs, err := loan.MarkOverdue(s.clock())
	if err != nil {
		return nil, s.fail(span, err)
	}
	if err := s.store.Save(ctx, loan); err != nil {
		return nil, s.fail(span, err)
	}
	s.metrics.overdue.Add(ctx, 1)
	s.dispatch(ctx, evs)
	return loan, nil
}

// CalculateFine stores the fine owed as of today and returns it.
func (s *service) CalculateFine(ctx context.Context, loanID uuid.UUID) (Money, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.calculate_fine", trace.WithAttributes(attribute.String("loan.id", loanID.String())))
	defer span.End()

	loan, err := s.store.FindByID(ctx, loanID)
	if err != nil {
		return Money{}, s.fail(span, err)
	}
	prev := loan.Fine
	fine, evs := loan.CalculateFine(s.fines, s.clock())
	if !loan.IsActive() || (prev != nil && prev.Equal(fine)) {
		return fine, nil
	}
	if err := s.store.Save(ctx, loan); err != nil {
		return Money{}, s.fail(span, err)
	}
	s.dispatch(ctx, evs)
	return fine, nil
}

func (s *service) GetLoan(ctx context.Context, id uuid.UUID) (*Loan, error) {
	return s.store.FindByID(ctx, id)
}

func (s *service) ListLoansByBorrower(ctx context.Context, borrowerID uuid.UUID) ([]*Loan, error) {
	return s.store.ListByBorrower(ctx, borrowerID)
}

func (s *service) ListOpenLoans(ctx context.Context) ([]*Loan, error) {
	return s.store.ListByStatus(ctx, StatusOpen)
}

// ListOverdueLoans includes OPEN loans the sweep has not reached yet.
func (s *service) ListOverdueLoans(ctx context.Context) ([]OverdueLoan, error) {
	today := s.today()
	marked, err := s.store.ListByStatus(ctx, StatusOverdue)
	if err != nil {
		return nil, err
	}
	late, err := s.store.ListOpenDueBefore(ctx, today, 0)
	if err != nil {
		return nil, err
	}
	out := make([]OverdueLoan, 0, len(marked)+len(late))
	for _, l := range append(marked, late...) {
		out = append(out, OverdueLoan{Loan: l, DaysOverdue: l.DaysOverdue(today)})
	}
	return out, nil
}

func (s *service) today() civil.Date { return civil.DateOf(s.clock()) }

func (s *service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// dispatch hands events to the sink. State is already committed, so a sink
// failure is logged rather than returned.
func (s *service) dispatch(ctx context.Context, evs []events.Event) {
	if len(evs) == 0 {
		return
	}
	if err := s.sink.Publish(ctx, evs...); err != nil {
		s.log.Error("publish events failed", zap.Int("count", len(evs)), zap.Error(err))
	}
}
