package circulation

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// SweepOverdue marks OPEN loans past their due date as OVERDUE. Loans that
// are already OVERDUE are never selected, and a loan that another writer
// changed between the listing and the save is skipped, so repeated or
// overlapping sweeps converge without errors.
func (s *service) SweepOverdue(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.sweep_overdue")
	defer span.End()

	marked := 0
	for {
		now := s.clock()
		due, err := s.store.ListOpenDueBefore(ctx, s.today(), s.sweepBatch)
		if err != nil {
			return marked, s.fail(span, err)
		}

		progressed := 0
		for _, loan := range due {
			evs, err := loan.MarkOverdue(now)
			if err != nil {
				s.log.Debug("sweep skipped loan", zap.Stringer("loan_id", loan.ID), zap.Error(err))
				continue
			}
			if err := s.store.Save(ctx, loan); err != nil {
				if errors.Is(err, ErrConcurrentUpdate) || errors.Is(err, ErrLoanNotFound) {
					s.log.Debug("sweep lost race", zap.Stringer("loan_id", loan.ID))
					continue
				}
				return marked, s.fail(span, err)
			}
			progressed++
			s.metrics.overdue.Add(ctx, 1)
			s.dispatch(ctx, evs)
		}
		marked += progressed

		if len(due) < s.sweepBatch || progressed == 0 {
			break
		}
	}

	span.SetAttributes(attribute.Int("loans.marked", marked))
	if marked > 0 {
		s.log.Info("overdue sweep", zap.Int("marked", marked))
	}
	return marked, nil
}
