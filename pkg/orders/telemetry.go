package orders

import (
	"context"
	"errors"

	"github.com/example/stockkeeper/pkg/apperr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/example/stockkeeper/pkg/orders"

type instruments struct {
	tracer      trace.Tracer
	created     metric.Int64Counter
	transitions metric.Int64Counter
	rejections  metric.Int64Counter
}

func newInstruments() (*instruments, error) {
	meter := otel.Meter(instrumentationName)

	created, err := meter.Int64Counter("orders.created",
		metric.WithDescription("Orders assembled and committed"),
		metric.WithUnit("{order}"))
	if err != nil {
		return nil, err
	}
	transitions, err := meter.Int64Counter("orders.transitions",
		metric.WithDescription("Committed order status changes by from and to status"),
		metric.WithUnit("{transition}"))
	if err != nil {
		return nil, err
	}
	rejections, err := meter.Int64Counter("orders.rejections",
		metric.WithDescription("Order operations rejected, by error kind"),
		metric.WithUnit("{operation}"))
	if err != nil {
		return nil, err
	}

	return &instruments{
		tracer:      otel.Tracer(instrumentationName),
		created:     created,
		transitions: transitions,
		rejections:  rejections,
	}, nil
}

// fail marks span as failed and counts the rejection by kind.
func (i *instruments) fail(ctx context.Context, span trace.Span, op string, err error) {
	kind := apperr.KindOf(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String("error.kind", string(kind)))

	var stockErr *apperr.InsufficientStockError
	if errors.As(err, &stockErr) {
		span.SetAttributes(
			attribute.String("product.id", stockErr.ProductID),
			attribute.Int("stock.available", stockErr.Available),
			attribute.Int("stock.requested", stockErr.Requested))
	}

	i.rejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("kind", string(kind))))
}
