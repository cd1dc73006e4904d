// Package memory provides mutex-guarded repositories for tests and local runs.
// Every operation holds the store lock, which stands in for a Firestore transaction.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/pagination"
	"github.com/hanko-field/storefront/internal/repositories"
)

// Error implements repositories.RepositoryError.
type Error struct {
	msg      string
	notFound bool
	conflict bool
}

func (e *Error) Error() string       { return e.msg }
func (e *Error) IsNotFound() bool    { return e.notFound }
func (e *Error) IsConflict() bool    { return e.conflict }
func (e *Error) IsUnavailable() bool { return false }

func notFound(format string, args ...any) error {
	return &Error{msg: "memory: " + fmt.Sprintf(format, args...), notFound: true}
}

func conflict(format string, args ...any) error {
	return &Error{msg: "memory: " + fmt.Sprintf(format, args...), conflict: true}
}

// Store holds every collection.
type Store struct {
	mu       sync.Mutex
	carts    map[string]domain.Cart
	products map[string]domain.Product
	orders   map[string]domain.Order
	numbers  map[string]string
	payments map[string]domain.Payment
	refunds  map[string]domain.Refund
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		carts:    make(map[string]domain.Cart),
		products: make(map[string]domain.Product),
		orders:   make(map[string]domain.Order),
		numbers:  make(map[string]string),
		payments: make(map[string]domain.Payment),
		refunds:  make(map[string]domain.Refund),
	}
}

// PutProduct seeds or replaces a catalog entry.
func (s *Store) PutProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.ID] = product
}

// PutOrder seeds or replaces an order and its number index.
func (s *Store) PutOrder(order domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = cloneOrder(order)
	s.numbers[order.OrderNumber] = order.ID
}

// PutPayment seeds or replaces a payment record.
func (s *Store) PutPayment(payment domain.Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[payment.IntentID] = payment
}

// Stock returns the current stock of a product.
func (s *Store) Stock(productID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[productID].Stock
}

// Registry exposes the store through repositories.Registry.
type Registry struct {
	store *Store
}

// NewRegistry wraps the store.
func NewRegistry(store *Store) *Registry {
	if store == nil {
		store = NewStore()
	}
	return &Registry{store: store}
}

func (r *Registry) Close(context.Context) error                 { return nil }
func (r *Registry) Carts() repositories.CartRepository          { return CartRepository{r.store} }
func (r *Registry) Products() repositories.ProductRepository    { return ProductRepository{r.store} }
func (r *Registry) Orders() repositories.OrderRepository        { return OrderRepository{r.store} }
func (r *Registry) Refunds() repositories.RefundRepository      { return RefundRepository{r.store} }
func (r *Registry) Lifecycle() repositories.LifecycleRepository { return LifecycleRepository{r.store} }

func (r *Registry) Health() repositories.HealthRepository {
	repo, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{{
		Name:  "memory",
		Check: func(context.Context) error { return nil },
	}})
	if err != nil {
		panic(err)
	}
	return repo
}

// CartRepository implements repositories.CartRepository.
type CartRepository struct{ store *Store }

func (r CartRepository) Get(_ context.Context, owner domain.CartOwner) (domain.Cart, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cart, ok := r.store.carts[owner.Key()]
	if !ok {
		return domain.Cart{}, notFound("cart %s", owner.Key())
	}
	return cloneCart(cart), nil
}

func (r CartRepository) Save(_ context.Context, cart domain.Cart) (domain.Cart, error) {
	if !cart.Owner.Valid() {
		return domain.Cart{}, errors.New("memory: cart owner is required")
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.carts[cart.Owner.Key()] = cloneCart(cart)
	return cloneCart(cart), nil
}

func (r CartRepository) Delete(_ context.Context, owner domain.CartOwner) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.carts, owner.Key())
	return nil
}

func (r CartRepository) Merge(_ context.Context, guest, user domain.CartOwner, fn repositories.CartMergeFunc) (domain.Cart, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	guestCart := cloneCart(r.store.carts[guest.Key()])
	guestCart.Owner = guest
	userCart := cloneCart(r.store.carts[user.Key()])
	userCart.Owner = user
	merged, err := fn(guestCart, userCart)
	if err != nil {
		return domain.Cart{}, err
	}
	merged.Owner = user
	r.store.carts[user.Key()] = cloneCart(merged)
	delete(r.store.carts, guest.Key())
	return cloneCart(merged), nil
}

// ProductRepository implements repositories.ProductRepository.
type ProductRepository struct{ store *Store }

func (r ProductRepository) FindByID(_ context.Context, productID string) (domain.Product, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	product, ok := r.store.products[productID]
	if !ok {
		return domain.Product{}, notFound("product %s", productID)
	}
	return product, nil
}

func (r ProductRepository) Adjust(_ context.Context, productID string, delta int, _ time.Time) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	product, ok := r.store.products[productID]
	if !ok {
		return 0, notFound("product %s", productID)
	}
	next := product.Stock + delta
	if next < 0 {
		return 0, repositories.NewInsufficientStockError(productID, product.Stock, -delta)
	}
	product.Stock = next
	r.store.products[productID] = product
	return next, nil
}

// OrderRepository implements repositories.OrderRepository.
type OrderRepository struct{ store *Store }

func (r OrderRepository) Insert(_ context.Context, order domain.Order) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, taken := r.store.numbers[order.OrderNumber]; taken {
		return conflict("order number %s already exists", order.OrderNumber)
	}
	if _, exists := r.store.orders[order.ID]; exists {
		return conflict("order %s already exists", order.ID)
	}
	r.store.orders[order.ID] = cloneOrder(order)
	r.store.numbers[order.OrderNumber] = order.ID
	return nil
}

func (r OrderRepository) AttachPayment(_ context.Context, orderID string, payment domain.Payment) (domain.Order, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	order, ok := r.store.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("order %s", orderID)
	}
	if existing, ok := r.store.payments[payment.IntentID]; ok {
		if existing.OrderID == orderID && order.PaymentIntentID == payment.IntentID {
			return cloneOrder(order), nil
		}
		return domain.Order{}, conflict("payment %s already exists", payment.IntentID)
	}
	if order.Status != domain.OrderStatusPending || order.PaymentStatus != domain.PaymentStatusPending || order.PaymentIntentID != "" {
		return domain.Order{}, conflict("order %s cannot accept a payment", order.OrderNumber)
	}
	payment.OrderID = orderID
	r.store.payments[payment.IntentID] = payment
	order.PaymentIntentID = payment.IntentID
	order.UpdatedAt = payment.UpdatedAt
	r.store.orders[orderID] = order
	return cloneOrder(order), nil
}

func (r OrderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	order, ok := r.store.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("order %s", orderID)
	}
	return cloneOrder(order), nil
}

func (r OrderRepository) FindByNumber(_ context.Context, orderNumber string) (domain.Order, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	order, err := r.store.orderByNumber(orderNumber)
	if err != nil {
		return domain.Order{}, err
	}
	return cloneOrder(order), nil
}

func (r OrderRepository) FindPayment(_ context.Context, intentID string) (domain.Payment, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	payment, ok := r.store.payments[intentID]
	if !ok {
		return domain.Payment{}, notFound("payment %s", intentID)
	}
	return payment, nil
}

func (r OrderRepository) ListByUser(_ context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	r.store.mu.Lock()
	var orders []domain.Order
	for _, order := range r.store.orders {
		if order.UserID == userID {
			orders = append(orders, cloneOrder(order))
		}
	}
	r.store.mu.Unlock()
	return page(orders, pager, func(o domain.Order) (time.Time, string) { return o.CreatedAt, o.ID })
}

func (r OrderRepository) UpdateStatus(_ context.Context, cmd repositories.OrderStatusUpdate) (domain.Order, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	order, err := r.store.orderByNumber(cmd.OrderNumber)
	if err != nil {
		return domain.Order{}, err
	}
	if cmd.Expected != nil && order.Status != *cmd.Expected {
		return domain.Order{}, conflict("order %s is %s, expected %s", order.OrderNumber, order.Status, *cmd.Expected)
	}
	if order.Status == cmd.Target {
		return cloneOrder(order), nil
	}
	if !domain.CanTransitionOrder(order.Status, cmd.Target) {
		return domain.Order{}, repositories.NewLifecycleError(repositories.LifecycleErrorInvalidState,
			fmt.Sprintf("order %s cannot move from %s to %s", order.OrderNumber, order.Status, cmd.Target), domain.ErrInvalidTransition)
	}
	order.Status = cmd.Target
	order.UpdatedAt = cmd.At
	r.store.orders[order.ID] = order
	return cloneOrder(order), nil
}

// RefundRepository implements repositories.RefundRepository.
type RefundRepository struct{ store *Store }

func (r RefundRepository) InsertPending(_ context.Context, refund domain.Refund, guard repositories.RefundGuard) (domain.Refund, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	order, err := r.store.orderByNumber(refund.OrderNumber)
	if err != nil {
		return domain.Refund{}, err
	}
	if guard != nil {
		if err := guard(cloneOrder(order)); err != nil {
			return domain.Refund{}, err
		}
	}
	for _, existing := range r.store.refunds {
		if existing.OrderID == order.ID && existing.Active() {
			return domain.Refund{}, repositories.NewLifecycleError(repositories.LifecycleErrorRefundActive,
				fmt.Sprintf("order %s already has refund %s (%s)", order.OrderNumber, existing.ID, existing.Status), nil)
		}
	}
	if _, exists := r.store.refunds[refund.ID]; exists {
		return domain.Refund{}, conflict("refund %s already exists", refund.ID)
	}
	refund.OrderID = order.ID
	refund.Status = domain.RefundStatusPending
	if refund.Currency == "" {
		refund.Currency = order.Totals.Currency
	}
	r.store.refunds[refund.ID] = cloneRefund(refund)
	return cloneRefund(refund), nil
}

func (r RefundRepository) FindByID(_ context.Context, refundID string) (domain.Refund, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	refund, ok := r.store.refunds[refundID]
	if !ok {
		return domain.Refund{}, notFound("refund %s", refundID)
	}
	return cloneRefund(refund), nil
}

func (r RefundRepository) ListByOrder(_ context.Context, orderNumber string) ([]domain.Refund, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []domain.Refund
	for _, refund := range r.store.refunds {
		if refund.OrderNumber == orderNumber {
			out = append(out, cloneRefund(refund))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r RefundRepository) ListByStatus(_ context.Context, status domain.RefundStatus, pager domain.Pagination) (domain.CursorPage[domain.Refund], error) {
	r.store.mu.Lock()
	var refunds []domain.Refund
	for _, refund := range r.store.refunds {
		if refund.Status == status {
			refunds = append(refunds, cloneRefund(refund))
		}
	}
	r.store.mu.Unlock()
	return page(refunds, pager, func(rf domain.Refund) (time.Time, string) { return rf.CreatedAt, rf.ID })
}

func (s *Store) orderByNumber(orderNumber string) (domain.Order, error) {
	id, ok := s.numbers[strings.TrimSpace(orderNumber)]
	if !ok {
		return domain.Order{}, notFound("order %s", orderNumber)
	}
	order, ok := s.orders[id]
	if !ok {
		return domain.Order{}, notFound("order %s", orderNumber)
	}
	return order, nil
}

// page sorts newest first and slices with the same time cursor the Firestore repositories use.
func page[T any](items []T, pager domain.Pagination, key func(T) (time.Time, string)) (domain.CursorPage[T], error) {
	sort.SliceStable(items, func(i, j int) bool {
		ti, idi := key(items[i])
		tj, idj := key(items[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return idi > idj
	})
	size := pager.PageSize
	if size <= 0 {
		size = pagination.DefaultPageSize
	}
	start := 0
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		at, id, err := pagination.DecodeTimeCursor(token)
		if err != nil {
			return domain.CursorPage[T]{}, err
		}
		start = len(items)
		for i, item := range items {
			ti, idi := key(item)
			if ti.Before(at) || (ti.Equal(at) && idi < id) {
				start = i
				break
			}
		}
	}
	end := min(start+size, len(items))
	out := domain.CursorPage[T]{Items: slices.Clone(items[start:end])}
	if end < len(items) {
		at, id := key(items[end-1])
		token, err := pagination.EncodeTimeCursor(at, id)
		if err != nil {
			return domain.CursorPage[T]{}, err
		}
		out.NextPageToken = token
	}
	return out, nil
}

func cloneCart(cart domain.Cart) domain.Cart {
	cart.Lines = slices.Clone(cart.Lines)
	return cart
}

func cloneOrder(order domain.Order) domain.Order {
	order.Lines = slices.Clone(order.Lines)
	order.Backorders = slices.Clone(order.Backorders)
	if order.Dispute != nil {
		dispute := *order.Dispute
		order.Dispute = &dispute
	}
	return order
}

func cloneRefund(refund domain.Refund) domain.Refund {
	refund.Items = slices.Clone(refund.Items)
	return refund
}

var (
	_ repositories.Registry        = (*Registry)(nil)
	_ repositories.RepositoryError = (*Error)(nil)
)
