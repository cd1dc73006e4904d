package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/repositories/memory"
)

func newTestOrderService(t *testing.T, store *memory.Store, gateway *stubGateway, notifier *recordingNotifier) (OrderService, *memory.Registry) {
	t.Helper()
	reg := memory.NewRegistry(store)
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:    reg.Orders(),
		Lifecycle: reg.Lifecycle(),
		Gateway:   gateway,
		Notifier:  notifier,
		Clock:     func() time.Time { return fixtureNow },
	})
	require.NoError(t, err)
	return svc, reg
}

func TestOrderService_ListOrdersPaginates(t *testing.T) {
	store := newFixtureStore()
	for i := 0; i < 3; i++ {
		paidOrder(store, fmt.Sprintf("SF-%d", i), "user-1", fixtureNow.Add(time.Duration(i)*time.Hour))
	}
	paidOrder(store, "SF-other", "user-2", fixtureNow)
	svc, _ := newTestOrderService(t, store, &stubGateway{}, &recordingNotifier{})

	first, err := svc.ListOrders(context.Background(), "user-1", Pagination{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	require.Equal(t, "SF-2", first.Items[0].OrderNumber)
	require.Equal(t, "SF-1", first.Items[1].OrderNumber)
	require.NotEmpty(t, first.NextPageToken)

	second, err := svc.ListOrders(context.Background(), "user-1", Pagination{PageSize: 2, PageToken: first.NextPageToken})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	require.Equal(t, "SF-0", second.Items[0].OrderNumber)
	require.Empty(t, second.NextPageToken)
}

func TestOrderService_GetOrderHidesOtherUsers(t *testing.T) {
	store := newFixtureStore()
	paidOrder(store, "SF-1", "user-1", fixtureNow)
	svc, _ := newTestOrderService(t, store, &stubGateway{}, &recordingNotifier{})

	order, err := svc.GetOrder(context.Background(), "user-1", "SF-1")
	require.NoError(t, err)
	require.Equal(t, "SF-1", order.OrderNumber)

	_, err = svc.GetOrder(context.Background(), "user-2", "SF-1")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = svc.GetOrder(context.Background(), "user-1", "SF-missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestOrderService_CancelPendingOrder(t *testing.T) {
	store := newFixtureStore()
	order := pendingOrder(store, "SF-1", "user-1")
	gateway := &stubGateway{}
	notifier := &recordingNotifier{}
	svc, reg := newTestOrderService(t, store, gateway, notifier)

	canceled, err := svc.CancelOrder(context.Background(), CancelOrderCommand{UserID: "user-1", OrderNumber: "SF-1"})
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCancelled, canceled.Status)
	require.Equal(t, domain.PaymentStatusFailed, canceled.PaymentStatus)
	require.NotNil(t, canceled.CanceledAt)
	require.Equal(t, []string{order.PaymentIntentID}, gateway.canceledCalls)
	require.Equal(t, []string{"order.canceled"}, notifier.events())
	require.Equal(t, 10, store.Stock("P1"))

	payment, err := reg.Orders().FindPayment(context.Background(), order.PaymentIntentID)
	require.NoError(t, err)
	require.Equal(t, domain.PaymentRecordCanceled, payment.Status)

	_, err = svc.CancelOrder(context.Background(), CancelOrderCommand{UserID: "user-1", OrderNumber: "SF-1"})
	require.ErrorIs(t, err, ErrStateConflict)
}

func TestOrderService_CancelRejectsPaidOrder(t *testing.T) {
	store := newFixtureStore()
	paidOrder(store, "SF-1", "user-1", fixtureNow)
	gateway := &stubGateway{}
	svc, _ := newTestOrderService(t, store, gateway, &recordingNotifier{})

	_, err := svc.CancelOrder(context.Background(), CancelOrderCommand{UserID: "user-1", OrderNumber: "SF-1"})
	require.ErrorIs(t, err, ErrStateConflict)
	require.Equal(t, KindStateConflict, Classify(err))
	require.Empty(t, gateway.canceledCalls)

	_, err = svc.CancelOrder(context.Background(), CancelOrderCommand{UserID: "user-2", OrderNumber: "SF-1"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestOrderService_CancelKeepsOrderWhenGatewayFails(t *testing.T) {
	store := newFixtureStore()
	pendingOrder(store, "SF-1", "user-1")
	gateway := &stubGateway{
		cancelIntentFunc: func(context.Context, string) (payments.Intent, error) {
			return payments.Intent{}, &payments.GatewayError{Op: "cancel_intent", Retryable: true, Err: errors.New("connection reset")}
		},
	}
	svc, reg := newTestOrderService(t, store, gateway, &recordingNotifier{})

	_, err := svc.CancelOrder(context.Background(), CancelOrderCommand{UserID: "user-1", OrderNumber: "SF-1"})
	require.ErrorIs(t, err, ErrGatewayUnavailable)

	order, err := reg.Orders().FindByNumber(context.Background(), "SF-1")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPending, order.Status)
}

func TestOrderService_UpdateOrderStatus(t *testing.T) {
	store := newFixtureStore()
	paidOrder(store, "SF-1", "user-1", fixtureNow)
	pendingOrder(store, "SF-2", "user-1")
	svc, _ := newTestOrderService(t, store, &stubGateway{}, &recordingNotifier{})
	ctx := context.Background()

	shipped, err := svc.UpdateOrderStatus(ctx, UpdateOrderStatusCommand{OrderNumber: "SF-1", ActorID: "staff-1", TargetStatus: domain.OrderStatusShipped})
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusShipped, shipped.Status)

	expected := domain.OrderStatusProcessing
	_, err = svc.UpdateOrderStatus(ctx, UpdateOrderStatusCommand{OrderNumber: "SF-1", ActorID: "staff-1", TargetStatus: domain.OrderStatusDelivered, ExpectedStatus: &expected})
	require.ErrorIs(t, err, ErrStateConflict)

	delivered, err := svc.UpdateOrderStatus(ctx, UpdateOrderStatusCommand{OrderNumber: "SF-1", ActorID: "staff-1", TargetStatus: domain.OrderStatusDelivered})
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusDelivered, delivered.Status)

	cases := []struct {
		name string
		cmd  UpdateOrderStatusCommand
		kind ErrorKind
	}{
		{name: "refunded is not settable", cmd: UpdateOrderStatusCommand{OrderNumber: "SF-1", ActorID: "staff-1", TargetStatus: domain.OrderStatusRefunded}, kind: KindValidation},
		{name: "pending cannot ship", cmd: UpdateOrderStatusCommand{OrderNumber: "SF-2", ActorID: "staff-1", TargetStatus: domain.OrderStatusShipped}, kind: KindStateConflict},
		{name: "missing actor", cmd: UpdateOrderStatusCommand{OrderNumber: "SF-1", TargetStatus: domain.OrderStatusShipped}, kind: KindValidation},
		{name: "unknown order", cmd: UpdateOrderStatusCommand{OrderNumber: "SF-9", ActorID: "staff-1", TargetStatus: domain.OrderStatusShipped}, kind: KindNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.UpdateOrderStatus(ctx, tc.cmd)
			if got := Classify(err); got != tc.kind {
				t.Fatalf("expected %s, got %s (%v)", tc.kind, got, err)
			}
		})
	}
}
