package repositories

import (
	"errors"
	"fmt"
)

// LifecycleErrorCode enumerates domain-level failures detected inside persistence transactions.
type LifecycleErrorCode string

const (
	// LifecycleErrorInsufficientStock indicates a decrement would take stock below zero.
	LifecycleErrorInsufficientStock LifecycleErrorCode = "insufficient_stock"
	// LifecycleErrorRefundActive indicates the order already has a pending or succeeded refund.
	LifecycleErrorRefundActive LifecycleErrorCode = "refund_active"
	// LifecycleErrorInvalidState indicates the stored record forbids the operation.
	LifecycleErrorInvalidState LifecycleErrorCode = "invalid_state"
)

// LifecycleError carries a machine readable code alongside the failing operation.
type LifecycleError struct {
	Op        string
	Code      LifecycleErrorCode
	Message   string
	ProductID string
	Err       error
}

// Error implements the error interface.
func (e *LifecycleError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *LifecycleError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewLifecycleError constructs a typed lifecycle error.
func NewLifecycleError(code LifecycleErrorCode, message string, err error) *LifecycleError {
	if message == "" {
		message = string(code)
	}
	return &LifecycleError{Code: code, Message: message, Err: err}
}

// NewInsufficientStockError names the product whose stock would go negative.
func NewInsufficientStockError(productID string, available, requested int) *LifecycleError {
	e := NewLifecycleError(LifecycleErrorInsufficientStock, fmt.Sprintf("product %s has %d in stock, %d requested", productID, available, requested), nil)
	e.ProductID = productID
	return e
}

// LifecycleErrorCodeOf returns the code carried by err, if any.
func LifecycleErrorCodeOf(err error) (LifecycleErrorCode, bool) {
	var lerr *LifecycleError
	if errors.As(err, &lerr) {
		return lerr.Code, true
	}
	return "", false
}
