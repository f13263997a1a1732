package circulation

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

type metrics struct {
	checkouts     metric.Int64Counter
	returns       metric.Int64Counter
	compensations metric.Int64Counter
	notifications metric.Int64Counter
	overdue       metric.Int64Counter
}

func newMetrics(meter metric.Meter, log *zap.Logger) *metrics {
	m := &metrics{}
	var err error
	counter := func(name, desc string) metric.Int64Counter {
		if err != nil {
			return nil
		}
		var c metric.Int64Counter
		c, err = meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	m.checkouts = counter("circulation.checkouts", "Loans opened")
	m.returns = counter("circulation.returns", "Loans returned")
	m.compensations = counter("circulation.compensations", "Checkouts rolled back after the copy side refused")
	m.notifications = counter("circulation.copy_notifications", "Copy-side notifications by outcome")
	m.overdue = counter("circulation.overdue", "Loans moved to OVERDUE")
	if err != nil {
		log.Warn("metrics disabled", zap.Error(err))
		return newMetrics(noop.NewMeterProvider().Meter(""), log)
	}
	return m
}

func (m *metrics) notified(ctx context.Context, kind CopySync, n Notification) {
	m.notifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("outcome", n.Outcome.String()),
	))
}
