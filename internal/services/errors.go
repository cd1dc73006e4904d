package services

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/repositories"
)

var (
	// ErrInvalidInput indicates the caller supplied invalid input parameters.
	ErrInvalidInput = errors.New("storefront: invalid input")
	// ErrEmptyCart indicates checkout was attempted with no cart lines.
	ErrEmptyCart = errors.New("checkout: cart is empty")
	// ErrInvalidSignature indicates a webhook payload failed signature verification.
	ErrInvalidSignature = errors.New("webhook: invalid signature")
	// ErrNotFound indicates the resource does not exist or is not visible to the caller.
	ErrNotFound = errors.New("storefront: not found")
	// ErrInsufficientStock indicates a requested quantity exceeds available stock.
	ErrInsufficientStock = errors.New("stock: insufficient stock")
	// ErrStateConflict indicates the resource is in a state that forbids the operation.
	ErrStateConflict = errors.New("storefront: state conflict")
	// ErrRefundWindowExpired indicates a customer refund was requested after the refund window.
	ErrRefundWindowExpired = fmt.Errorf("%w: refund window expired", ErrStateConflict)
	// ErrRefundActive indicates the order already has a pending or succeeded refund.
	ErrRefundActive = fmt.Errorf("%w: refund already active", ErrStateConflict)
	// ErrOrderDisputed indicates an open dispute freezes the order.
	ErrOrderDisputed = fmt.Errorf("%w: order is disputed", ErrStateConflict)
	// ErrGateway indicates the payment gateway rejected the request.
	ErrGateway = errors.New("gateway: request failed")
	// ErrGatewayUnavailable indicates the gateway gave no definitive answer; the call may be retried.
	ErrGatewayUnavailable = errors.New("gateway: unavailable")
)

// ErrorKind is the caller-facing error taxonomy.
type ErrorKind string

const (
	KindValidation         ErrorKind = "validation_error"
	KindNotFound           ErrorKind = "not_found"
	KindInsufficientStock  ErrorKind = "insufficient_stock"
	KindStateConflict      ErrorKind = "state_conflict"
	KindGateway            ErrorKind = "gateway_error"
	KindGatewayUnavailable ErrorKind = "gateway_unavailable"
	KindInternal           ErrorKind = "internal"
)

// Classify maps an error returned by any service into the taxonomy.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrEmptyCart), errors.Is(err, ErrInvalidSignature):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInsufficientStock):
		return KindInsufficientStock
	case errors.Is(err, ErrStateConflict):
		return KindStateConflict
	case errors.Is(err, ErrGatewayUnavailable):
		return KindGatewayUnavailable
	case errors.Is(err, ErrGateway):
		return KindGateway
	}
	return KindInternal
}

// StockError names the product that could not satisfy a requested quantity.
type StockError struct {
	ProductID string
	Available int
	Requested int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("stock: product %s has %d available, %d requested", e.ProductID, e.Available, e.Requested)
}

// Is makes StockError match ErrInsufficientStock.
func (e *StockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// ProductOf returns the product named by a stock error, if any.
func ProductOf(err error) string {
	var stockErr *StockError
	if errors.As(err, &stockErr) {
		return stockErr.ProductID
	}
	var lifecycleErr *repositories.LifecycleError
	if errors.As(err, &lifecycleErr) {
		return lifecycleErr.ProductID
	}
	return ""
}

// translateRepoError maps persistence failures onto service sentinels. Errors
// that already carry a sentinel pass through untouched.
func translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	if Classify(err) != KindInternal {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if code, ok := repositories.LifecycleErrorCodeOf(err); ok {
		switch code {
		case repositories.LifecycleErrorInsufficientStock:
			return fmt.Errorf("%w: %w", ErrInsufficientStock, err)
		case repositories.LifecycleErrorRefundActive:
			return fmt.Errorf("%w: %w", ErrRefundActive, err)
		default:
			return fmt.Errorf("%w: %w", ErrStateConflict, err)
		}
	}
	if errors.Is(err, domain.ErrInvalidTransition) {
		return fmt.Errorf("%w: %w", ErrStateConflict, err)
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %w", ErrStateConflict, err)
		}
	}
	return err
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

// translateGatewayError separates retryable gateway failures from definite rejections.
func translateGatewayError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, payments.ErrInvalidSignature) {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	if errors.Is(err, payments.ErrInvalidRequest) {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if payments.IsRetryable(err) {
		return fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
	}
	return fmt.Errorf("%w: %w", ErrGateway, err)
}
