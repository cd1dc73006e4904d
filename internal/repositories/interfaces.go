package repositories

import (
	"context"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Carts() CartRepository
	Products() ProductRepository
	Orders() OrderRepository
	Refunds() RefundRepository
	Lifecycle() LifecycleRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CartMergeFunc combines the guest cart into the user cart. Either cart may be empty.
type CartMergeFunc func(guest domain.Cart, user domain.Cart) (domain.Cart, error)

// CartRepository persists one cart per owner.
type CartRepository interface {
	// Get returns a not-found RepositoryError when the owner has no cart yet.
	Get(ctx context.Context, owner domain.CartOwner) (domain.Cart, error)
	Save(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	Delete(ctx context.Context, owner domain.CartOwner) error
	// Merge runs fn inside a transaction, saves its result as the user cart and deletes the guest cart.
	Merge(ctx context.Context, guest domain.CartOwner, user domain.CartOwner, fn CartMergeFunc) (domain.Cart, error)
}

// ProductRepository is the read-only catalog lookup plus the per-product stock counter.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	// Adjust applies delta to the product's stock atomically and returns the new level.
	// A negative result fails with a LifecycleError of code LifecycleErrorInsufficientStock.
	Adjust(ctx context.Context, productID string, delta int, at time.Time) (int, error)
}

// OrderRepository persists orders, their order-number index and payment records.
type OrderRepository interface {
	// Insert creates the order and reserves its order number. A taken number yields a conflict RepositoryError.
	Insert(ctx context.Context, order domain.Order) error
	// AttachPayment stores the payment record and links its intent id to the pending order atomically.
	AttachPayment(ctx context.Context, orderID string, payment domain.Payment) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	FindPayment(ctx context.Context, intentID string) (domain.Payment, error)
	ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
	// UpdateStatus moves the fulfillment status when the transition table allows it.
	UpdateStatus(ctx context.Context, cmd OrderStatusUpdate) (domain.Order, error)
}

// OrderStatusUpdate describes an admin fulfillment transition.
type OrderStatusUpdate struct {
	OrderNumber string
	Target      domain.OrderStatus
	Expected    *domain.OrderStatus
	At          time.Time
}

// RefundGuard validates refund eligibility against the order as read inside the creating transaction.
type RefundGuard func(order domain.Order) error

// RefundRepository persists refund requests.
type RefundRepository interface {
	// InsertPending creates a pending refund. It fails with a LifecycleError of code
	// LifecycleErrorRefundActive when the order already has a pending or succeeded refund.
	InsertPending(ctx context.Context, refund domain.Refund, guard RefundGuard) (domain.Refund, error)
	FindByID(ctx context.Context, refundID string) (domain.Refund, error)
	ListByOrder(ctx context.Context, orderNumber string) ([]domain.Refund, error)
	ListByStatus(ctx context.Context, status domain.RefundStatus, pager domain.Pagination) (domain.CursorPage[domain.Refund], error)
}

// LifecycleTarget selects the order an event applies to. Exactly one field is set.
type LifecycleTarget struct {
	IntentID    string
	OrderNumber string
	RefundID    string
}

// LifecycleEventBuilder derives the event from the order (and refund, for refund targets) read inside the transaction.
type LifecycleEventBuilder func(order domain.Order, refund *domain.Refund) (domain.LifecycleEvent, error)

// LifecycleResult reports what a lifecycle transaction committed.
type LifecycleResult struct {
	Transition domain.Transition
	Refund     *domain.Refund
	Backorders []domain.StockAdjustment
}

// LifecycleRepository applies domain transitions and their effects in one atomic unit.
type LifecycleRepository interface {
	Apply(ctx context.Context, target LifecycleTarget, build LifecycleEventBuilder) (LifecycleResult, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}
