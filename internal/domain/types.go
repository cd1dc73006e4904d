package domain

import (
	"strings"
	"time"
)

// Pagination captures cursor-based pagination inputs.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// CartOwner identifies the holder of a cart. Exactly one of UserID or GuestToken is set.
type CartOwner struct {
	UserID     string
	GuestToken string
}

// UserOwner builds an owner for an authenticated user.
func UserOwner(userID string) CartOwner {
	return CartOwner{UserID: strings.TrimSpace(userID)}
}

// GuestOwner builds an owner for an anonymous guest session.
func GuestOwner(token string) CartOwner {
	return CartOwner{GuestToken: strings.TrimSpace(token)}
}

// Valid reports whether exactly one identity is present.
func (o CartOwner) Valid() bool {
	return (o.UserID == "") != (o.GuestToken == "")
}

// IsGuest reports whether the owner is an anonymous guest session.
func (o CartOwner) IsGuest() bool {
	return o.UserID == "" && o.GuestToken != ""
}

// Key returns the storage key for the owner's cart.
func (o CartOwner) Key() string {
	if o.UserID != "" {
		return "user:" + o.UserID
	}
	if o.GuestToken != "" {
		return "guest:" + o.GuestToken
	}
	return ""
}

// Cart aggregates the mutable pre-purchase selections for one owner.
type Cart struct {
	Owner     CartOwner
	Lines     []CartLine
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CartLine stores one product selection. UnitPrice is snapshotted when the line is added.
type CartLine struct {
	ProductID string
	Size      string
	Quantity  int
	UnitPrice int64
	AddedAt   time.Time
}

// Matches reports whether the line holds the given product and size.
func (l CartLine) Matches(productID, size string) bool {
	return l.ProductID == productID && strings.EqualFold(l.Size, size)
}

// Subtotal returns unit price multiplied by quantity.
func (l CartLine) Subtotal() int64 {
	return l.UnitPrice * int64(l.Quantity)
}

// FindLine returns the index of the line for product and size, or -1.
func (c Cart) FindLine(productID, size string) int {
	for i, line := range c.Lines {
		if line.Matches(productID, size) {
			return i
		}
	}
	return -1
}

// Quantity returns the total quantity of a product across sizes.
func (c Cart) Quantity(productID string) int {
	total := 0
	for _, line := range c.Lines {
		if line.ProductID == productID {
			total += line.Quantity
		}
	}
	return total
}

// Product is the read-only catalog view consumed by the cart and checkout flows.
type Product struct {
	ID       string
	Name     string
	Price    int64
	ImageURL string
	Stock    int
	Active   bool
}

// Address stores a shipping or billing address snapshot.
type Address struct {
	Recipient  string
	Line1      string
	Line2      *string
	City       string
	State      *string
	PostalCode string
	Country    string
	Phone      *string
}

// Order is the durable record of a purchase attempt.
type Order struct {
	ID                   string
	OrderNumber          string
	UserID               string
	Email                string
	Lines                []OrderLine
	Totals               OrderTotals
	Status               OrderStatus
	PaymentStatus        PaymentStatus
	ShippingAddress      Address
	BillingAddress       Address
	PaymentIntentID      string
	PaymentFailureReason string
	Notes                string
	Dispute              *OrderDispute
	Backorders           []StockAdjustment
	CreatedAt            time.Time
	UpdatedAt            time.Time
	PaidAt               *time.Time
	RefundedAt           *time.Time
	CanceledAt           *time.Time
}

// OwnedBy reports whether the order belongs to the user.
func (o Order) OwnedBy(userID string) bool {
	userID = strings.TrimSpace(userID)
	return userID != "" && o.UserID == userID
}

// OrderTotals holds monetary fields in the smallest currency unit.
type OrderTotals struct {
	Subtotal int64
	Shipping int64
	Tax      int64
	Total    int64
	Currency string
}

// Balanced reports whether total equals subtotal plus shipping plus tax.
func (t OrderTotals) Balanced() bool {
	return t.Total == t.Subtotal+t.Shipping+t.Tax
}

// OrderLine is an immutable snapshot of a purchased product.
type OrderLine struct {
	ProductID  string
	Name       string
	Size       string
	ImageURL   string
	UnitPrice  int64
	Quantity   int
	TotalPrice int64
}

// OrderDispute records a chargeback opened against the order's payment.
type OrderDispute struct {
	ID       string
	Reason   string
	Amount   int64
	OpenedAt time.Time
}

// Payment tracks the gateway intent linked one-to-one with an order.
type Payment struct {
	IntentID      string
	OrderID       string
	OrderNumber   string
	Amount        int64
	Currency      string
	Status        PaymentRecordStatus
	FailureReason string
	ReceiptURL    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Refund is a request to return money for an order.
type Refund struct {
	ID              string
	OrderID         string
	OrderNumber     string
	Amount          int64
	Currency        string
	Reason          RefundReason
	Type            RefundType
	Status          RefundStatus
	Items           []RefundItem
	Description     string
	GatewayRefundID string
	FailureReason   string
	RequestedBy     string
	ProcessedBy     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ProcessedAt     *time.Time
}

// Active reports whether the refund blocks new refund requests for its order.
func (r Refund) Active() bool {
	return r.Status == RefundStatusPending || r.Status == RefundStatusSucceeded
}

// RefundItem names units of an order line covered by a refund.
type RefundItem struct {
	ProductID string
	Size      string
	Quantity  int
}

// StockAdjustment describes a quantity change for one product.
type StockAdjustment struct {
	ProductID string
	Quantity  int
}
