package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/repositories"
)

type fakeRepoError struct {
	notFound, conflict bool
}

func (e fakeRepoError) Error() string       { return "repo failure" }
func (e fakeRepoError) IsNotFound() bool    { return e.notFound }
func (e fakeRepoError) IsConflict() bool    { return e.conflict }
func (e fakeRepoError) IsUnavailable() bool { return false }

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "nil", err: nil, want: ""},
		{name: "invalid input", err: fmt.Errorf("%w: bad", ErrInvalidInput), want: KindValidation},
		{name: "empty cart", err: ErrEmptyCart, want: KindValidation},
		{name: "signature", err: ErrInvalidSignature, want: KindValidation},
		{name: "not found", err: ErrNotFound, want: KindNotFound},
		{name: "stock error", err: &StockError{ProductID: "P1", Available: 1, Requested: 2}, want: KindInsufficientStock},
		{name: "refund window", err: ErrRefundWindowExpired, want: KindStateConflict},
		{name: "refund active", err: ErrRefundActive, want: KindStateConflict},
		{name: "disputed", err: ErrOrderDisputed, want: KindStateConflict},
		{name: "gateway", err: ErrGateway, want: KindGateway},
		{name: "gateway unavailable", err: ErrGatewayUnavailable, want: KindGatewayUnavailable},
		{name: "unknown", err: errors.New("boom"), want: KindInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestTranslateRepoError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "not found", err: fakeRepoError{notFound: true}, want: KindNotFound},
		{name: "conflict", err: fakeRepoError{conflict: true}, want: KindStateConflict},
		{name: "insufficient stock", err: repositories.NewInsufficientStockError("P1", 0, 1), want: KindInsufficientStock},
		{name: "refund active", err: repositories.NewLifecycleError(repositories.LifecycleErrorRefundActive, "active", nil), want: KindStateConflict},
		{name: "invalid transition", err: fmt.Errorf("wrap: %w", domain.ErrInvalidTransition), want: KindStateConflict},
		{name: "deadline", err: context.DeadlineExceeded, want: KindInternal},
		{name: "other", err: fakeRepoError{}, want: KindInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(translateRepoError(tc.err)); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}

	if got := ProductOf(translateRepoError(repositories.NewInsufficientStockError("P7", 0, 1))); got != "P7" {
		t.Fatalf("expected product P7, got %q", got)
	}
	if !errors.Is(translateRepoError(repositories.NewLifecycleError(repositories.LifecycleErrorRefundActive, "active", nil)), ErrRefundActive) {
		t.Fatal("expected refund active sentinel")
	}
}

func TestTranslateGatewayError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "signature", err: payments.ErrInvalidSignature, want: KindValidation},
		{name: "invalid request", err: fmt.Errorf("%w: amount", payments.ErrInvalidRequest), want: KindValidation},
		{name: "timeout", err: &payments.GatewayError{Op: "create_refund", Retryable: true}, want: KindGatewayUnavailable},
		{name: "deadline", err: context.DeadlineExceeded, want: KindGatewayUnavailable},
		{name: "declined", err: &payments.GatewayError{Op: "create_intent", Code: "card_declined"}, want: KindGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(translateGatewayError(tc.err)); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}
