package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultTxAttempts = 5
	defaultTxBudget   = 15 * time.Second
	tracerName        = "github.com/hanko-field/storefront/internal/platform/firestore"
)

// TxFunc runs inside a Firestore transaction. Firestore re-invokes it on contention,
// so it must read before writing and keep no state between invocations.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption tunes a single transaction.
type TxOption func(*txSettings)

type txSettings struct {
	attempts int
	budget   time.Duration
}

// WithTxAttempts raises or lowers the contention retry budget. Hot documents such as
// product stock counters use a higher value than the default.
func WithTxAttempts(attempts int) TxOption {
	return func(s *txSettings) {
		if attempts > 0 {
			s.attempts = attempts
		}
	}
}

// WithTxTimeout caps wall time across all attempts.
func WithTxTimeout(budget time.Duration) TxOption {
	return func(s *txSettings) {
		if budget > 0 {
			s.budget = budget
		}
	}
}

// RunTransaction executes fn in a traced transaction and classifies the outcome via WrapError.
// The span records how many times fn ran, which surfaces contention on hot documents.
func RunTransaction(ctx context.Context, client *firestore.Client, op string, fn TxFunc, opts ...TxOption) error {
	if op == "" {
		op = "transaction"
	}
	if client == nil || fn == nil {
		return WrapError(op, errors.New("firestore: transaction needs a client and a function"))
	}

	settings := txSettings{attempts: defaultTxAttempts, budget: defaultTxBudget}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > settings.budget {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, settings.budget)
		defer cancel()
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "firestore.tx "+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	runs := 0
	err := client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		runs++
		return fn(ctx, tx)
	}, firestore.MaxAttempts(settings.attempts))

	span.SetAttributes(
		attribute.String("db.operation", op),
		attribute.Int("firestore.tx.runs", runs),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return WrapError(op, err)
}
