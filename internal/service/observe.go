package service

import (
	"context"
	"errors"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"treasury/internal/domain"
	"treasury/internal/metrics"
)

var tracer = otel.Tracer("treasury/internal/service")

// rejections are caller mistakes or state conflicts, as opposed to
// infrastructure failures.
var rejections = []error{
	domain.ErrDuplicateCreator,
	domain.ErrExecutiveCountMismatch,
	domain.ErrInvalidExecutiveAddress,
	domain.ErrNotExecutive,
	domain.ErrZeroAmount,
	domain.ErrInsufficientBalance,
	domain.ErrAlreadyExecuted,
	domain.ErrAlreadyConfirmed,
	domain.ErrNotApprovedYet,
	domain.ErrAssociationNotFound,
	domain.ErrRequestNotFound,
	domain.ErrNotProposer,
	domain.ErrInvalidAddress,
	domain.ErrBalanceOverflow,
}

func isRejection(err error) bool {
	for _, target := range rejections {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case isRejection(err):
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeError
	}
}

func startSpan(ctx context.Context, name string, accountNumber uint64, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.Int64("treasury.account_number", int64(accountNumber)))
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// amountAttr records amounts as decimal strings; token amounts are
// unsigned and may exceed the int64 attribute range.
func amountAttr(amount uint64) attribute.KeyValue {
	return attribute.String("treasury.amount", strconv.FormatUint(amount, 10))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
