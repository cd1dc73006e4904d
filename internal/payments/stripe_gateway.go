package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultGatewayTimeout = 10 * time.Second
	tracerName            = "github.com/hanko-field/storefront/internal/payments"
)

// StripeLogger defines the logging contract for Stripe gateway operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Cancel(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

// StripeClients overrides the Stripe API clients, mainly for tests.
type StripeClients struct {
	Intents stripePaymentIntentAPI
	Refunds stripeRefundAPI
}

// StripeGatewayConfig configures the StripeGateway.
type StripeGatewayConfig struct {
	APIKey           string
	WebhookSecret    string
	AccountID        string
	Timeout          time.Duration
	WebhookTolerance time.Duration
	Backends         *stripe.Backends
	Logger           StripeLogger
	Clients          *StripeClients
	Tracer           trace.Tracer
}

// StripeGateway implements Gateway using Stripe Payment Intents.
type StripeGateway struct {
	intents       stripePaymentIntentAPI
	refunds       stripeRefundAPI
	webhookSecret string
	account       string
	timeout       time.Duration
	tolerance     time.Duration
	logger        StripeLogger
	tracer        trace.Tracer
}

// NewStripeGateway constructs a Stripe-backed Gateway.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}

	var clients StripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = StripeClients{Intents: sc.PaymentIntents, Refunds: sc.Refunds}
	}
	if clients.Intents == nil || clients.Refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	tolerance := cfg.WebhookTolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	return &StripeGateway{
		intents:       clients.Intents,
		refunds:       clients.Refunds,
		webhookSecret: secret,
		account:       strings.TrimSpace(cfg.AccountID),
		timeout:       timeout,
		tolerance:     tolerance,
		logger:        logger,
		tracer:        tracer,
	}, nil
}

// CreateIntent creates a Stripe Payment Intent for the amount.
func (g *StripeGateway) CreateIntent(ctx context.Context, req CreateIntentRequest) (Intent, error) {
	if req.Amount <= 0 {
		return Intent{}, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		return Intent{}, fmt.Errorf("%w: currency is required", ErrInvalidRequest)
	}

	ctx, span, cancel := g.start(ctx, "stripe.payment_intent.create")
	defer cancel()
	defer span.End()

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(currency),
	}
	g.prepare(ctx, &params.Params, req.IdempotencyKey)
	if pm := strings.TrimSpace(req.PaymentMethodID); pm != "" {
		params.PaymentMethod = stripe.String(pm)
	} else {
		params.AutomaticPaymentMethods = &stripe.PaymentIntentAutomaticPaymentMethodsParams{Enabled: stripe.Bool(true)}
	}
	if customer := strings.TrimSpace(req.CustomerID); customer != "" {
		params.Customer = stripe.String(customer)
	}
	if desc := strings.TrimSpace(req.Description); desc != "" {
		params.Description = stripe.String(desc)
	}
	if email := strings.TrimSpace(req.ReceiptEmail); email != "" {
		params.ReceiptEmail = stripe.String(email)
	}
	params.Metadata = copyMetadata(req.Metadata)

	intent, err := g.intents.New(params)
	if err != nil {
		return Intent{}, g.fail(span, "create intent", err)
	}
	span.SetAttributes(attribute.String("payments.intent_id", intent.ID))
	g.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"amount":        intent.Amount,
		"currency":      intent.Currency,
	})
	return stripeIntent(intent), nil
}

// RetrieveIntent fetches the current state of a Payment Intent.
func (g *StripeGateway) RetrieveIntent(ctx context.Context, intentID string) (Intent, error) {
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return Intent{}, fmt.Errorf("%w: intent id is required", ErrInvalidRequest)
	}

	ctx, span, cancel := g.start(ctx, "stripe.payment_intent.get", attribute.String("payments.intent_id", intentID))
	defer cancel()
	defer span.End()

	params := &stripe.PaymentIntentParams{}
	g.prepare(ctx, &params.Params, "")
	params.AddExpand("latest_charge")

	intent, err := g.intents.Get(intentID, params)
	if err != nil {
		return Intent{}, g.fail(span, "retrieve intent", err)
	}
	return stripeIntent(intent), nil
}

// CancelIntent cancels a Payment Intent that has not completed.
func (g *StripeGateway) CancelIntent(ctx context.Context, intentID string) (Intent, error) {
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return Intent{}, fmt.Errorf("%w: intent id is required", ErrInvalidRequest)
	}

	ctx, span, cancel := g.start(ctx, "stripe.payment_intent.cancel", attribute.String("payments.intent_id", intentID))
	defer cancel()
	defer span.End()

	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonAbandoned)),
	}
	g.prepare(ctx, &params.Params, "cancel_"+intentID)

	intent, err := g.intents.Cancel(intentID, params)
	if err != nil {
		return Intent{}, g.fail(span, "cancel intent", err)
	}
	g.logger(ctx, "payments.stripe.intent.canceled", map[string]any{"paymentIntent": intent.ID})
	return stripeIntent(intent), nil
}

// CreateRefund refunds part or all of a Payment Intent.
func (g *StripeGateway) CreateRefund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	intentID := strings.TrimSpace(req.IntentID)
	if intentID == "" {
		return RefundResult{}, fmt.Errorf("%w: intent id is required", ErrInvalidRequest)
	}
	if req.Amount <= 0 {
		return RefundResult{}, fmt.Errorf("%w: refund amount must be positive", ErrInvalidRequest)
	}

	ctx, span, cancel := g.start(ctx, "stripe.refund.create", attribute.String("payments.intent_id", intentID))
	defer cancel()
	defer span.End()

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
		Amount:        stripe.Int64(req.Amount),
	}
	g.prepare(ctx, &params.Params, req.IdempotencyKey)
	if reason := mapStripeRefundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}
	params.Metadata = copyMetadata(req.Metadata)

	refund, err := g.refunds.New(params)
	if err != nil {
		return RefundResult{}, g.fail(span, "create refund", err)
	}

	result := RefundResult{
		ID:            refund.ID,
		Amount:        refund.Amount,
		Status:        mapStripeRefundStatus(refund.Status),
		FailureReason: string(refund.FailureReason),
	}
	g.logger(ctx, "payments.stripe.refund.created", map[string]any{
		"paymentIntent": intentID,
		"refundId":      refund.ID,
		"status":        refund.Status,
		"amount":        refund.Amount,
	})
	return result, nil
}

// ParseWebhook verifies the Stripe-Signature header against the raw payload
// and decodes the events the reconciler consumes.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (WebhookEvent, error) {
	if len(payload) == 0 || strings.TrimSpace(signature) == "" {
		return WebhookEvent{}, ErrInvalidSignature
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                g.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := WebhookEvent{
		ID:        event.ID,
		Type:      string(event.Type),
		CreatedAt: time.Unix(event.Created, 0).UTC(),
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return out, nil
	}

	switch out.Type {
	case EventIntentSucceeded, EventIntentFailed:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return WebhookEvent{}, fmt.Errorf("%w: decode payment intent: %v", ErrInvalidRequest, err)
		}
		normalised := stripeIntent(&intent)
		out.IntentID = normalised.ID
		out.FailureMessage = normalised.FailureMessage
		out.ReceiptURL = normalised.ReceiptURL
	case EventDisputeCreated:
		var dispute stripe.Dispute
		if err := json.Unmarshal(event.Data.Raw, &dispute); err != nil {
			return WebhookEvent{}, fmt.Errorf("%w: decode dispute: %v", ErrInvalidRequest, err)
		}
		if dispute.PaymentIntent != nil {
			out.IntentID = dispute.PaymentIntent.ID
		}
		out.Dispute = &Dispute{
			ID:       dispute.ID,
			Reason:   string(dispute.Reason),
			Amount:   dispute.Amount,
			OpenedAt: time.Unix(dispute.Created, 0).UTC(),
		}
	}
	return out, nil
}

func (g *StripeGateway) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, context.CancelFunc) {
	ctx, span := g.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	return ctx, span, cancel
}

func (g *StripeGateway) prepare(ctx context.Context, params *stripe.Params, idempotencyKey string) {
	params.Context = ctx
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}
}

func (g *StripeGateway) fail(span trace.Span, op string, err error) error {
	gwErr := classifyStripeError(op, err)
	span.RecordError(gwErr)
	span.SetStatus(codes.Error, gwErr.Error())
	return gwErr
}

func classifyStripeError(op string, err error) *GatewayError {
	out := &GatewayError{Op: op, Err: err}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		out.Code = string(stripeErr.Code)
		out.Message = stripeErr.Msg
		out.Retryable = stripeErr.Type == stripe.ErrorTypeAPI || stripeErr.HTTPStatusCode >= 500 || stripeErr.HTTPStatusCode == 429
		return out
	}

	out.Retryable = isTransport(err) || errors.Is(err, context.Canceled)
	if out.Retryable {
		out.Code = "timeout"
	}
	return out
}

func stripeIntent(intent *stripe.PaymentIntent) Intent {
	if intent == nil {
		return Intent{}
	}

	out := Intent{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		Amount:       intent.Amount,
		Currency:     strings.ToUpper(string(intent.Currency)),
		Metadata:     copyMetadata(intent.Metadata),
	}
	if intent.LastPaymentError != nil {
		out.FailureMessage = strings.TrimSpace(intent.LastPaymentError.Msg)
	}
	if intent.LatestCharge != nil {
		out.ReceiptURL = intent.LatestCharge.ReceiptURL
	}

	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		out.Status = IntentStatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		out.Status = IntentStatusCanceled
	case stripe.PaymentIntentStatusProcessing, stripe.PaymentIntentStatusRequiresCapture:
		out.Status = IntentStatusProcessing
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		// a declined attempt drops the intent back to requires_payment_method with an error attached
		if intent.LastPaymentError != nil {
			out.Status = IntentStatusFailed
		} else {
			out.Status = IntentStatusPending
		}
	default:
		out.Status = IntentStatusPending
	}
	return out
}

func mapStripeRefundStatus(status stripe.RefundStatus) RefundStatus {
	switch status {
	case stripe.RefundStatusSucceeded:
		return RefundStatusSucceeded
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		return RefundStatusFailed
	default:
		return RefundStatusPending
	}
}

func mapStripeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case string(stripe.RefundReasonRequestedByCustomer):
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		return ""
	}
}

func copyMetadata(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		if key := strings.TrimSpace(k); key != "" {
			out[key] = v
		}
	}
	return out
}
