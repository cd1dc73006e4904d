package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/repositories/memory"
)

var fixtureNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type stubGateway struct {
	createIntentFunc   func(ctx context.Context, req payments.CreateIntentRequest) (payments.Intent, error)
	retrieveIntentFunc func(ctx context.Context, intentID string) (payments.Intent, error)
	cancelIntentFunc   func(ctx context.Context, intentID string) (payments.Intent, error)
	createRefundFunc   func(ctx context.Context, req payments.RefundRequest) (payments.RefundResult, error)
	parseWebhookFunc   func(payload []byte, signature string) (payments.WebhookEvent, error)

	mu            sync.Mutex
	refundCalls   []payments.RefundRequest
	intentCalls   []payments.CreateIntentRequest
	canceledCalls []string
}

func (g *stubGateway) CreateIntent(ctx context.Context, req payments.CreateIntentRequest) (payments.Intent, error) {
	g.mu.Lock()
	g.intentCalls = append(g.intentCalls, req)
	g.mu.Unlock()
	if g.createIntentFunc == nil {
		return payments.Intent{ID: "pi_test", ClientSecret: "pi_test_secret", Status: payments.IntentStatusPending, Amount: req.Amount, Currency: req.Currency}, nil
	}
	return g.createIntentFunc(ctx, req)
}

func (g *stubGateway) RetrieveIntent(ctx context.Context, intentID string) (payments.Intent, error) {
	if g.retrieveIntentFunc == nil {
		return payments.Intent{ID: intentID, Status: payments.IntentStatusSucceeded}, nil
	}
	return g.retrieveIntentFunc(ctx, intentID)
}

func (g *stubGateway) CancelIntent(ctx context.Context, intentID string) (payments.Intent, error) {
	g.mu.Lock()
	g.canceledCalls = append(g.canceledCalls, intentID)
	g.mu.Unlock()
	if g.cancelIntentFunc == nil {
		return payments.Intent{ID: intentID, Status: payments.IntentStatusCanceled}, nil
	}
	return g.cancelIntentFunc(ctx, intentID)
}

func (g *stubGateway) CreateRefund(ctx context.Context, req payments.RefundRequest) (payments.RefundResult, error) {
	g.mu.Lock()
	g.refundCalls = append(g.refundCalls, req)
	g.mu.Unlock()
	if g.createRefundFunc == nil {
		return payments.RefundResult{ID: "re_" + req.IdempotencyKey, Status: payments.RefundStatusSucceeded, Amount: req.Amount}, nil
	}
	return g.createRefundFunc(ctx, req)
}

func (g *stubGateway) ParseWebhook(payload []byte, signature string) (payments.WebhookEvent, error) {
	if g.parseWebhookFunc == nil {
		return payments.WebhookEvent{}, payments.ErrInvalidSignature
	}
	return g.parseWebhookFunc(payload, signature)
}

func (g *stubGateway) refunds() []payments.RefundRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]payments.RefundRequest(nil), g.refundCalls...)
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []OrderNotification
}

func (n *recordingNotifier) PublishOrderEvent(_ context.Context, message OrderNotification) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return fmt.Sprintf("msg-%d", len(n.messages)), nil
}

func (n *recordingNotifier) events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.messages))
	for _, m := range n.messages {
		out = append(out, m.Event)
	}
	return out
}

// sequenceIDs returns deterministic ulid-shaped ids.
func sequenceIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("01HZX0000000000000000%05d", n)
	}
}

func newFixtureStore() *memory.Store {
	store := memory.NewStore()
	store.PutProduct(domain.Product{ID: "P1", Name: "Walnut Board", Price: 5000, Stock: 10, Active: true, ImageURL: "https://cdn.example.com/p1.png"})
	store.PutProduct(domain.Product{ID: "P2", Name: "Oak Stool", Price: 2500, Stock: 3, Active: true})
	store.PutProduct(domain.Product{ID: "P3", Name: "Retired Lamp", Price: 1200, Stock: 5, Active: false})
	return store
}

func newFixturePricing(t *testing.T) *PricingEngine {
	t.Helper()
	engine, err := NewPricingEngine(PricingConfig{
		Currency:         "USD",
		TaxRate:          decimal.RequireFromString("0.08"),
		FreeShippingOver: 10000,
		FlatShippingFee:  999,
	})
	if err != nil {
		t.Fatalf("NewPricingEngine error: %v", err)
	}
	return engine
}

// paidOrder seeds an order that has been paid through intent pi_<number>.
func paidOrder(store *memory.Store, number, userID string, createdAt time.Time, lines ...domain.OrderLine) domain.Order {
	if len(lines) == 0 {
		lines = []domain.OrderLine{{ProductID: "P1", Name: "Walnut Board", UnitPrice: 5000, Quantity: 2, TotalPrice: 10000}}
	}
	var subtotal int64
	for _, line := range lines {
		subtotal += line.TotalPrice
	}
	paidAt := createdAt.Add(time.Minute)
	order := domain.Order{
		ID:              "ord_" + number,
		OrderNumber:     number,
		UserID:          userID,
		Lines:           lines,
		Totals:          domain.OrderTotals{Subtotal: subtotal, Tax: subtotal * 8 / 100, Total: subtotal + subtotal*8/100, Currency: "USD"},
		Status:          domain.OrderStatusProcessing,
		PaymentStatus:   domain.PaymentStatusPaid,
		PaymentIntentID: "pi_" + number,
		CreatedAt:       createdAt,
		UpdatedAt:       paidAt,
		PaidAt:          &paidAt,
	}
	store.PutOrder(order)
	store.PutPayment(domain.Payment{
		IntentID:    order.PaymentIntentID,
		OrderID:     order.ID,
		OrderNumber: number,
		Amount:      order.Totals.Total,
		Currency:    "USD",
		Status:      domain.PaymentRecordSucceeded,
		CreatedAt:   createdAt,
		UpdatedAt:   paidAt,
	})
	return order
}

// pendingOrder seeds an unpaid order linked to intent pi_<number>.
func pendingOrder(store *memory.Store, number, userID string, lines ...domain.OrderLine) domain.Order {
	order := paidOrder(store, number, userID, fixtureNow.Add(-time.Hour), lines...)
	order.Status = domain.OrderStatusPending
	order.PaymentStatus = domain.PaymentStatusPending
	order.PaidAt = nil
	store.PutOrder(order)
	store.PutPayment(domain.Payment{
		IntentID:    order.PaymentIntentID,
		OrderID:     order.ID,
		OrderNumber: number,
		Amount:      order.Totals.Total,
		Currency:    "USD",
		Status:      domain.PaymentRecordPending,
		CreatedAt:   order.CreatedAt,
		UpdatedAt:   order.CreatedAt,
	})
	return order
}
