package payments

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// IntentStatus is the normalised state of a gateway payment intent.
type IntentStatus string

const (
	IntentStatusPending    IntentStatus = "pending"
	IntentStatusProcessing IntentStatus = "processing"
	IntentStatusSucceeded  IntentStatus = "succeeded"
	IntentStatusFailed     IntentStatus = "failed"
	IntentStatusCanceled   IntentStatus = "canceled"
)

// RefundStatus is the normalised state of a gateway refund.
type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusSucceeded RefundStatus = "succeeded"
	RefundStatusFailed    RefundStatus = "failed"
)

// Webhook event types consumed by the reconciler.
const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
	EventDisputeCreated  = "charge.dispute.created"
)

var (
	// ErrInvalidSignature indicates the webhook payload could not be authenticated.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
	// ErrInvalidRequest indicates the caller supplied an unusable request.
	ErrInvalidRequest = errors.New("payments: invalid request")
)

// CreateIntentRequest describes a payment intent to create.
type CreateIntentRequest struct {
	Amount          int64
	Currency        string
	PaymentMethodID string
	CustomerID      string
	Description     string
	ReceiptEmail    string
	Metadata        map[string]string
	IdempotencyKey  string
}

// Intent is the gateway view of an attempt to collect money.
type Intent struct {
	ID             string
	ClientSecret   string
	Status         IntentStatus
	Amount         int64
	Currency       string
	FailureMessage string
	ReceiptURL     string
	Metadata       map[string]string
}

// RefundRequest describes a refund against a payment intent.
type RefundRequest struct {
	IntentID       string
	Amount         int64
	Reason         string
	Metadata       map[string]string
	IdempotencyKey string
}

// RefundResult captures the gateway response to a refund request.
type RefundResult struct {
	ID            string
	Status        RefundStatus
	Amount        int64
	FailureReason string
}

// Dispute captures chargeback details delivered by webhook.
type Dispute struct {
	ID       string
	Reason   string
	Amount   int64
	OpenedAt time.Time
}

// WebhookEvent is a verified gateway notification.
type WebhookEvent struct {
	ID             string
	Type           string
	IntentID       string
	FailureMessage string
	ReceiptURL     string
	Dispute        *Dispute
	CreatedAt      time.Time
}

// Supported reports whether the reconciler acts on the event type.
func (e WebhookEvent) Supported() bool {
	switch e.Type {
	case EventIntentSucceeded, EventIntentFailed, EventDisputeCreated:
		return true
	}
	return false
}

// Gateway abstracts the external payment processor.
type Gateway interface {
	CreateIntent(ctx context.Context, req CreateIntentRequest) (Intent, error)
	RetrieveIntent(ctx context.Context, intentID string) (Intent, error)
	CancelIntent(ctx context.Context, intentID string) (Intent, error)
	CreateRefund(ctx context.Context, req RefundRequest) (RefundResult, error)
	ParseWebhook(payload []byte, signature string) (WebhookEvent, error)
}

// GatewayError reports a failed gateway call. Retryable errors mean no
// definitive answer was received (timeouts, outages).
type GatewayError struct {
	Op        string
	Code      string
	Message   string
	Retryable bool
	Err       error
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e == nil {
		return ""
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("payments: %s failed (%s): %s", e.Op, e.Code, msg)
	}
	return fmt.Sprintf("payments: %s failed: %s", e.Op, msg)
}

// Unwrap exposes the underlying error.
func (e *GatewayError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsRetryable reports whether err is a gateway error without a definitive outcome.
func IsRetryable(err error) bool {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Retryable
	}
	return isTransport(err)
}

func isTransport(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
