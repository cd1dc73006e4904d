package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/services"
)

var errNotStubbed = errors.New("not stubbed")

type stubCartService struct {
	getFn    func(context.Context, services.CartOwner) (services.Cart, error)
	addFn    func(context.Context, services.AddCartLineCommand) (services.Cart, error)
	updateFn func(context.Context, services.UpdateCartLineCommand) (services.Cart, error)
	removeFn func(context.Context, services.RemoveCartLineCommand) (services.Cart, error)
	clearFn  func(context.Context, services.CartOwner) error
	mergeFn  func(context.Context, services.MergeCartCommand) (services.Cart, error)
}

func (s *stubCartService) GetCart(ctx context.Context, owner services.CartOwner) (services.Cart, error) {
	if s.getFn != nil {
		return s.getFn(ctx, owner)
	}
	return services.Cart{}, errNotStubbed
}

func (s *stubCartService) AddLine(ctx context.Context, cmd services.AddCartLineCommand) (services.Cart, error) {
	if s.addFn != nil {
		return s.addFn(ctx, cmd)
	}
	return services.Cart{}, errNotStubbed
}

func (s *stubCartService) UpdateLine(ctx context.Context, cmd services.UpdateCartLineCommand) (services.Cart, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.Cart{}, errNotStubbed
}

func (s *stubCartService) RemoveLine(ctx context.Context, cmd services.RemoveCartLineCommand) (services.Cart, error) {
	if s.removeFn != nil {
		return s.removeFn(ctx, cmd)
	}
	return services.Cart{}, errNotStubbed
}

func (s *stubCartService) Clear(ctx context.Context, owner services.CartOwner) error {
	if s.clearFn != nil {
		return s.clearFn(ctx, owner)
	}
	return errNotStubbed
}

func (s *stubCartService) Merge(ctx context.Context, cmd services.MergeCartCommand) (services.Cart, error) {
	if s.mergeFn != nil {
		return s.mergeFn(ctx, cmd)
	}
	return services.Cart{}, errNotStubbed
}

type stubCheckoutService struct {
	createFn func(context.Context, services.CreateIntentCommand) (services.CheckoutIntent, error)
}

func (s *stubCheckoutService) CreateIntent(ctx context.Context, cmd services.CreateIntentCommand) (services.CheckoutIntent, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.CheckoutIntent{}, errNotStubbed
}

type stubReconciler struct {
	confirmFn func(context.Context, services.ConfirmPaymentCommand) (services.Order, error)
	webhookFn func(context.Context, services.WebhookCommand) (services.WebhookResult, error)
	syncFn    func(context.Context, string) (services.Order, error)
}

func (s *stubReconciler) Confirm(ctx context.Context, cmd services.ConfirmPaymentCommand) (services.Order, error) {
	if s.confirmFn != nil {
		return s.confirmFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubReconciler) HandleWebhook(ctx context.Context, cmd services.WebhookCommand) (services.WebhookResult, error) {
	if s.webhookFn != nil {
		return s.webhookFn(ctx, cmd)
	}
	return services.WebhookResult{}, errNotStubbed
}

func (s *stubReconciler) Sync(ctx context.Context, intentID string) (services.Order, error) {
	if s.syncFn != nil {
		return s.syncFn(ctx, intentID)
	}
	return services.Order{}, errNotStubbed
}

type stubOrderService struct {
	listFn   func(context.Context, string, services.Pagination) (domain.CursorPage[services.Order], error)
	getFn    func(context.Context, string, string) (services.Order, error)
	cancelFn func(context.Context, services.CancelOrderCommand) (services.Order, error)
	statusFn func(context.Context, services.UpdateOrderStatusCommand) (services.Order, error)
}

func (s *stubOrderService) ListOrders(ctx context.Context, userID string, pager services.Pagination) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, userID, pager)
	}
	return domain.CursorPage[services.Order]{}, errNotStubbed
}

func (s *stubOrderService) GetOrder(ctx context.Context, userID, orderNumber string) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, userID, orderNumber)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) CancelOrder(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) UpdateOrderStatus(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
	if s.statusFn != nil {
		return s.statusFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

type stubRefundService struct {
	requestFn   func(context.Context, services.RequestRefundCommand) (services.Refund, error)
	processFn   func(context.Context, services.ProcessRefundCommand) (services.Refund, error)
	partialFn   func(context.Context, services.PartialRefundCommand) (services.Refund, error)
	listOrderFn func(context.Context, string, string) ([]services.Refund, error)
	listFn      func(context.Context, services.RefundStatus, services.Pagination) (domain.CursorPage[services.Refund], error)
}

func (s *stubRefundService) RequestRefund(ctx context.Context, cmd services.RequestRefundCommand) (services.Refund, error) {
	if s.requestFn != nil {
		return s.requestFn(ctx, cmd)
	}
	return services.Refund{}, errNotStubbed
}

func (s *stubRefundService) ProcessRefund(ctx context.Context, cmd services.ProcessRefundCommand) (services.Refund, error) {
	if s.processFn != nil {
		return s.processFn(ctx, cmd)
	}
	return services.Refund{}, errNotStubbed
}

func (s *stubRefundService) CreatePartialRefund(ctx context.Context, cmd services.PartialRefundCommand) (services.Refund, error) {
	if s.partialFn != nil {
		return s.partialFn(ctx, cmd)
	}
	return services.Refund{}, errNotStubbed
}

func (s *stubRefundService) ListOrderRefunds(ctx context.Context, userID, orderNumber string) ([]services.Refund, error) {
	if s.listOrderFn != nil {
		return s.listOrderFn(ctx, userID, orderNumber)
	}
	return nil, errNotStubbed
}

func (s *stubRefundService) ListRefunds(ctx context.Context, status services.RefundStatus, pager services.Pagination) (domain.CursorPage[services.Refund], error) {
	if s.listFn != nil {
		return s.listFn(ctx, status, pager)
	}
	return domain.CursorPage[services.Refund]{}, errNotStubbed
}

type stubStockService struct {
	availableFn func(context.Context, string) (int, error)
	decrementFn func(context.Context, string, int) (int, error)
	incrementFn func(context.Context, string, int) (int, error)
}

func (s *stubStockService) Available(ctx context.Context, productID string) (int, error) {
	if s.availableFn != nil {
		return s.availableFn(ctx, productID)
	}
	return 0, errNotStubbed
}

func (s *stubStockService) Decrement(ctx context.Context, productID string, quantity int) (int, error) {
	if s.decrementFn != nil {
		return s.decrementFn(ctx, productID, quantity)
	}
	return 0, errNotStubbed
}

func (s *stubStockService) Increment(ctx context.Context, productID string, quantity int) (int, error) {
	if s.incrementFn != nil {
		return s.incrementFn(ctx, productID, quantity)
	}
	return 0, errNotStubbed
}

type stubSystemService struct {
	report services.HealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.HealthReport, error) {
	return s.report, s.err
}

var (
	_ services.CartService       = (*stubCartService)(nil)
	_ services.CheckoutService   = (*stubCheckoutService)(nil)
	_ services.PaymentReconciler = (*stubReconciler)(nil)
	_ services.OrderService      = (*stubOrderService)(nil)
	_ services.RefundService     = (*stubRefundService)(nil)
	_ services.SystemService     = (*stubSystemService)(nil)
)

func withUser(ctx context.Context, uid string, roles ...string) context.Context {
	return auth.WithIdentity(ctx, &auth.Identity{UID: uid, Roles: roles})
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
	return body
}
