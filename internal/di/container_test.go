package di

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/platform/config"
	"github.com/hanko-field/storefront/internal/repositories/memory"
	"github.com/hanko-field/storefront/internal/services"
)

var errUnused = errors.New("not used in wiring tests")

type nopGateway struct{}

func (nopGateway) CreateIntent(context.Context, payments.CreateIntentRequest) (payments.Intent, error) {
	return payments.Intent{}, errUnused
}

func (nopGateway) RetrieveIntent(context.Context, string) (payments.Intent, error) {
	return payments.Intent{}, errUnused
}

func (nopGateway) CancelIntent(context.Context, string) (payments.Intent, error) {
	return payments.Intent{}, errUnused
}

func (nopGateway) CreateRefund(context.Context, payments.RefundRequest) (payments.RefundResult, error) {
	return payments.RefundResult{}, errUnused
}

func (nopGateway) ParseWebhook([]byte, string) (payments.WebhookEvent, error) {
	return payments.WebhookEvent{}, errUnused
}

func testConfig() config.Config {
	var cfg config.Config
	cfg.Checkout.Currency = "usd"
	cfg.Checkout.FreeShippingOver = 10000
	cfg.Checkout.FlatShippingFee = 500
	cfg.Security.Environment = "test"
	return cfg
}

func TestNewContainer_WiresEveryService(t *testing.T) {
	store := memory.NewStore()
	store.PutProduct(domain.Product{ID: "P1", Name: "Tote", Price: 5000, Stock: 3, Active: true})

	c, err := NewContainer(testConfig(), memory.NewRegistry(store), Infrastructure{
		Gateway: nopGateway{},
		Clock:   func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	require.NotNil(t, c.Services.Cart)
	require.NotNil(t, c.Services.Stock)
	require.NotNil(t, c.Services.Checkout)
	require.NotNil(t, c.Services.Reconciler)
	require.NotNil(t, c.Services.Refunds)
	require.NotNil(t, c.Services.Orders)
	require.NotNil(t, c.Services.System)

	ctx := context.Background()
	cart, err := c.Services.Cart.AddLine(ctx, services.AddCartLineCommand{
		Owner:     domain.UserOwner("user-1"),
		ProductID: "P1",
		Quantity:  2,
	})
	require.NoError(t, err)
	require.Len(t, cart.Lines, 1)

	level, err := c.Services.Stock.Available(ctx, "P1")
	require.NoError(t, err)
	require.Equal(t, 3, level)

	report, err := c.Services.System.HealthReport(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.HealthStatusOK, report.Status)
	require.Equal(t, "test", report.Environment)

	require.NoError(t, c.Close(ctx))
}

func TestNewContainer_RequiresRegistryAndGateway(t *testing.T) {
	_, err := NewContainer(testConfig(), nil, Infrastructure{Gateway: nopGateway{}})
	require.Error(t, err)

	_, err = NewContainer(testConfig(), memory.NewRegistry(nil), Infrastructure{})
	require.Error(t, err)
}

func TestNewContainer_RejectsInvalidCurrency(t *testing.T) {
	cfg := testConfig()
	cfg.Checkout.Currency = "zz"

	_, err := NewContainer(cfg, memory.NewRegistry(nil), Infrastructure{Gateway: nopGateway{}})
	require.Error(t, err)
}
