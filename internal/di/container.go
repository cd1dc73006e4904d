package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/platform/config"
	"github.com/hanko-field/storefront/internal/repositories"
	"github.com/hanko-field/storefront/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Cart       services.CartService
	Stock      services.StockService
	Checkout   services.CheckoutService
	Reconciler services.PaymentReconciler
	Refunds    services.RefundService
	Orders     services.OrderService
	System     services.SystemService
}

// Infrastructure carries the external adapters the services call out to. Notifier and
// Archiver are optional; OptionalChecks names the health probes that only degrade readiness.
type Infrastructure struct {
	Gateway        payments.Gateway
	Notifier       services.NotificationPublisher
	Archiver       services.WebhookArchiver
	Meter          metric.Meter
	Logger         services.Logger
	Clock          func() time.Time
	Build          services.BuildInfo
	OptionalChecks []string
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides the Firestore
// registry and the Stripe gateway, while tests can supply in-memory registries and fakes.
func NewContainer(cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	if infra.Gateway == nil {
		return nil, errors.New("payment gateway is required")
	}

	svc, err := buildServices(cfg, reg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(cfg config.Config, reg repositories.Registry, infra Infrastructure) (Services, error) {
	var svc Services
	clock := infra.Clock
	if clock == nil {
		clock = time.Now
	}

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Carts:    reg.Carts(),
		Products: reg.Products(),
		Clock:    clock,
		Logger:   infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	stockSvc, err := services.NewStockService(services.StockServiceDeps{
		Products: reg.Products(),
		Clock:    clock,
		Logger:   infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build stock service: %w", err)
	}
	svc.Stock = stockSvc

	pricing, err := services.NewPricingEngine(services.PricingConfig{
		Currency:         cfg.Checkout.Currency,
		TaxRate:          cfg.Checkout.TaxRate,
		FreeShippingOver: cfg.Checkout.FreeShippingOver,
		FlatShippingFee:  cfg.Checkout.FlatShippingFee,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Carts:               reg.Carts(),
		Products:            reg.Products(),
		Orders:              reg.Orders(),
		Gateway:             infra.Gateway,
		Pricing:             pricing,
		Clock:               clock,
		OrderNumberPrefix:   cfg.Checkout.OrderNumberPrefix,
		OrderNumberAttempts: cfg.Checkout.OrderNumberAttempts,
		Logger:              infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkoutSvc

	reconciler, err := services.NewPaymentReconciler(services.PaymentReconcilerDeps{
		Orders:    reg.Orders(),
		Lifecycle: reg.Lifecycle(),
		Gateway:   infra.Gateway,
		Archiver:  infra.Archiver,
		Notifier:  infra.Notifier,
		Meter:     infra.Meter,
		Clock:     clock,
		Logger:    infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment reconciler: %w", err)
	}
	svc.Reconciler = reconciler

	refundSvc, err := services.NewRefundService(services.RefundServiceDeps{
		Orders:    reg.Orders(),
		Refunds:   reg.Refunds(),
		Lifecycle: reg.Lifecycle(),
		Gateway:   infra.Gateway,
		Notifier:  infra.Notifier,
		Meter:     infra.Meter,
		Window:    cfg.Refunds.Window,
		Clock:     clock,
		Logger:    infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build refund service: %w", err)
	}
	svc.Refunds = refundSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:    reg.Orders(),
		Lifecycle: reg.Lifecycle(),
		Gateway:   infra.Gateway,
		Notifier:  infra.Notifier,
		Meter:     infra.Meter,
		Clock:     clock,
		Logger:    infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	if healthRepo := reg.Health(); healthRepo != nil {
		build := infra.Build
		if build.Environment == "" {
			build.Environment = cfg.Security.Environment
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Optional:         infra.OptionalChecks,
			Clock:            clock,
			Build:            build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
