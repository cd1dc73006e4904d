package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/repositories"
)

const (
	defaultOrderNumberPrefix   = "SF"
	defaultOrderNumberAttempts = 5
	maxOrderNotesLength        = 500
	orderNumberSuffixLength    = 6
)

// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
var ErrCheckoutUnavailable = errors.New("checkout: unavailable")

type intentCreator interface {
	CreateIntent(ctx context.Context, req payments.CreateIntentRequest) (payments.Intent, error)
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Carts               repositories.CartRepository
	Products            productLookup
	Orders              repositories.OrderRepository
	Gateway             intentCreator
	Pricing             *PricingEngine
	Clock               func() time.Time
	IDGenerator         func() string
	OrderNumberPrefix   string
	OrderNumberAttempts int
	Logger              Logger
}

type checkoutService struct {
	carts     repositories.CartRepository
	products  productLookup
	orders    repositories.OrderRepository
	gateway   intentCreator
	pricing   *PricingEngine
	now       func() time.Time
	newID     func() string
	prefix    string
	attempts  int
	sanitizer *bluemonday.Policy
	logger    Logger
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Carts == nil {
		return nil, errors.New("checkout service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("checkout service: product lookup is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("checkout service: payment gateway is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("checkout service: pricing engine is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	prefix := strings.ToUpper(strings.TrimSpace(deps.OrderNumberPrefix))
	if prefix == "" {
		prefix = defaultOrderNumberPrefix
	}
	attempts := deps.OrderNumberAttempts
	if attempts <= 0 {
		attempts = defaultOrderNumberAttempts
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		carts:     deps.Carts,
		products:  deps.Products,
		orders:    deps.Orders,
		gateway:   deps.Gateway,
		pricing:   deps.Pricing,
		now:       func() time.Time { return clock().UTC() },
		newID:     newID,
		prefix:    prefix,
		attempts:  attempts,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger,
	}, nil
}

// CreateIntent turns the user's cart into a pending order and opens a gateway
// payment intent for its total. Failures after the order is stored leave it pending.
func (s *checkoutService) CreateIntent(ctx context.Context, cmd CreateIntentCommand) (CheckoutIntent, error) {
	if s == nil || s.orders == nil || s.gateway == nil {
		return CheckoutIntent{}, ErrCheckoutUnavailable
	}
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return CheckoutIntent{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	shipping := normalizeAddress(cmd.ShippingAddress)
	if err := validateAddress(shipping); err != nil {
		return CheckoutIntent{}, err
	}
	billing := shipping
	if cmd.BillingAddress != nil {
		billing = normalizeAddress(*cmd.BillingAddress)
		if err := validateAddress(billing); err != nil {
			return CheckoutIntent{}, err
		}
	}
	notes := s.sanitizeNotes(cmd.Notes)
	if utf8.RuneCountInString(notes) > maxOrderNotesLength {
		return CheckoutIntent{}, fmt.Errorf("%w: notes must be at most %d characters", ErrInvalidInput, maxOrderNotesLength)
	}

	cart, err := s.carts.Get(ctx, domain.UserOwner(userID))
	if err != nil {
		if isRepoNotFound(err) {
			return CheckoutIntent{}, ErrEmptyCart
		}
		return CheckoutIntent{}, translateRepoError(err)
	}
	if len(cart.Lines) == 0 {
		return CheckoutIntent{}, ErrEmptyCart
	}

	lines, err := s.snapshotLines(ctx, cart)
	if err != nil {
		return CheckoutIntent{}, err
	}

	now := s.now()
	order := domain.Order{
		ID:              "ord_" + s.newID(),
		UserID:          userID,
		Email:           strings.TrimSpace(cmd.Email),
		Lines:           lines,
		Totals:          s.pricing.Totals(lines),
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusPending,
		ShippingAddress: shipping,
		BillingAddress:  billing,
		Notes:           notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.insertOrder(ctx, &order); err != nil {
		return CheckoutIntent{}, err
	}
	s.logger(ctx, "checkout.order_created", map[string]any{
		"orderID":     order.ID,
		"orderNumber": order.OrderNumber,
		"total":       order.Totals.Total,
		"currency":    order.Totals.Currency,
	})

	intent, err := s.gateway.CreateIntent(ctx, payments.CreateIntentRequest{
		Amount:          order.Totals.Total,
		Currency:        order.Totals.Currency,
		PaymentMethodID: strings.TrimSpace(cmd.PaymentMethodID),
		Description:     "Order " + order.OrderNumber,
		ReceiptEmail:    order.Email,
		Metadata: map[string]string{
			"orderId":     order.ID,
			"orderNumber": order.OrderNumber,
			"userId":      userID,
		},
		IdempotencyKey: "checkout-" + order.ID,
	})
	if err != nil {
		s.logger(ctx, "checkout.intent_failed", map[string]any{
			"orderID":     order.ID,
			"orderNumber": order.OrderNumber,
			"retryable":   payments.IsRetryable(err),
			"error":       err.Error(),
		})
		return CheckoutIntent{}, translateGatewayError(err)
	}

	payment := domain.Payment{
		IntentID:    intent.ID,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Amount:      order.Totals.Total,
		Currency:    order.Totals.Currency,
		Status:      domain.PaymentRecordPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := s.orders.AttachPayment(ctx, order.ID, payment); err != nil {
		s.logger(ctx, "checkout.attach_payment_failed", map[string]any{
			"orderID":       order.ID,
			"paymentIntent": intent.ID,
			"error":         err.Error(),
		})
		return CheckoutIntent{}, translateRepoError(err)
	}

	return CheckoutIntent{
		OrderID:      order.ID,
		OrderNumber:  order.OrderNumber,
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Totals:       order.Totals,
	}, nil
}

// snapshotLines re-validates stock per product and freezes line data for the order.
func (s *checkoutService) snapshotLines(ctx context.Context, cart Cart) ([]OrderLine, error) {
	products := make(map[string]Product, len(cart.Lines))
	lines := make([]OrderLine, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		if line.Quantity <= 0 {
			continue
		}
		product, ok := products[line.ProductID]
		if !ok {
			found, err := s.products.FindByID(ctx, line.ProductID)
			if err != nil {
				return nil, translateRepoError(err)
			}
			if !found.Active {
				return nil, fmt.Errorf("%w: product %s is not available", ErrNotFound, line.ProductID)
			}
			products[line.ProductID] = found
			product = found
		}
		if requested := cart.Quantity(line.ProductID); requested > product.Stock {
			return nil, &StockError{ProductID: line.ProductID, Available: product.Stock, Requested: requested}
		}
		lines = append(lines, OrderLine{
			ProductID:  line.ProductID,
			Name:       product.Name,
			Size:       line.Size,
			ImageURL:   product.ImageURL,
			UnitPrice:  line.UnitPrice,
			Quantity:   line.Quantity,
			TotalPrice: line.Subtotal(),
		})
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}
	return lines, nil
}

// insertOrder assigns an order number and stores the order, regenerating the
// number when the uniqueness index reports a collision.
func (s *checkoutService) insertOrder(ctx context.Context, order *Order) error {
	var lastErr error
	for attempt := 0; attempt < s.attempts; attempt++ {
		order.OrderNumber = s.orderNumber(order.CreatedAt)
		err := s.orders.Insert(ctx, *order)
		if err == nil {
			return nil
		}
		if !isRepoConflict(err) {
			return translateRepoError(err)
		}
		lastErr = err
		s.logger(ctx, "checkout.order_number_collision", map[string]any{
			"orderNumber": order.OrderNumber,
			"attempt":     attempt + 1,
		})
	}
	return fmt.Errorf("%w: could not allocate order number: %w", ErrCheckoutUnavailable, lastErr)
}

// orderNumber renders <prefix>-<yyMMddHHmm>-<6 base32 characters>.
func (s *checkoutService) orderNumber(at time.Time) string {
	id := s.newID()
	if len(id) > orderNumberSuffixLength {
		id = id[len(id)-orderNumberSuffixLength:]
	}
	return fmt.Sprintf("%s-%s-%s", s.prefix, at.UTC().Format("0601021504"), strings.ToUpper(id))
}

func (s *checkoutService) sanitizeNotes(notes string) string {
	return strings.TrimSpace(s.sanitizer.Sanitize(strings.TrimSpace(notes)))
}

func normalizeAddress(addr Address) Address {
	addr.Recipient = strings.TrimSpace(addr.Recipient)
	addr.Line1 = strings.TrimSpace(addr.Line1)
	addr.City = strings.TrimSpace(addr.City)
	addr.PostalCode = strings.TrimSpace(addr.PostalCode)
	addr.Country = strings.ToUpper(strings.TrimSpace(addr.Country))
	return addr
}

func validateAddress(addr Address) error {
	switch {
	case addr.Recipient == "":
		return fmt.Errorf("%w: address recipient is required", ErrInvalidInput)
	case addr.Line1 == "":
		return fmt.Errorf("%w: address line1 is required", ErrInvalidInput)
	case addr.City == "":
		return fmt.Errorf("%w: address city is required", ErrInvalidInput)
	case addr.PostalCode == "":
		return fmt.Errorf("%w: address postal code is required", ErrInvalidInput)
	case len(addr.Country) != 2:
		return fmt.Errorf("%w: address country must be an ISO 3166-1 alpha-2 code", ErrInvalidInput)
	}
	return nil
}
