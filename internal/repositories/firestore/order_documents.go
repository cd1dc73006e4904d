package firestore

import (
	"strings"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
)

type orderDocument struct {
	OrderNumber          string                    `firestore:"orderNumber"`
	UserID               string                    `firestore:"userId,omitempty"`
	Email                string                    `firestore:"email,omitempty"`
	Lines                []orderLineDocument       `firestore:"lines"`
	Totals               orderTotalsDocument       `firestore:"totals"`
	Status               string                    `firestore:"status"`
	PaymentStatus        string                    `firestore:"paymentStatus"`
	ShippingAddress      addressDocument           `firestore:"shippingAddress"`
	BillingAddress       addressDocument           `firestore:"billingAddress"`
	PaymentIntentID      string                    `firestore:"paymentIntentId,omitempty"`
	PaymentFailureReason string                    `firestore:"paymentFailureReason,omitempty"`
	Notes                string                    `firestore:"notes,omitempty"`
	Dispute              *disputeDocument          `firestore:"dispute,omitempty"`
	Backorders           []stockAdjustmentDocument `firestore:"backorders,omitempty"`
	CreatedAt            time.Time                 `firestore:"createdAt"`
	UpdatedAt            time.Time                 `firestore:"updatedAt"`
	PaidAt               *time.Time                `firestore:"paidAt,omitempty"`
	RefundedAt           *time.Time                `firestore:"refundedAt,omitempty"`
	CanceledAt           *time.Time                `firestore:"canceledAt,omitempty"`
}

type orderLineDocument struct {
	ProductID  string `firestore:"productId"`
	Name       string `firestore:"name"`
	Size       string `firestore:"size,omitempty"`
	ImageURL   string `firestore:"imageUrl,omitempty"`
	UnitPrice  int64  `firestore:"unitPrice"`
	Quantity   int    `firestore:"qty"`
	TotalPrice int64  `firestore:"totalPrice"`
}

type orderTotalsDocument struct {
	Subtotal int64  `firestore:"subtotal"`
	Shipping int64  `firestore:"shipping"`
	Tax      int64  `firestore:"tax"`
	Total    int64  `firestore:"total"`
	Currency string `firestore:"currency"`
}

type addressDocument struct {
	Recipient  string  `firestore:"recipient"`
	Line1      string  `firestore:"line1"`
	Line2      *string `firestore:"line2,omitempty"`
	City       string  `firestore:"city"`
	State      *string `firestore:"state,omitempty"`
	PostalCode string  `firestore:"postalCode"`
	Country    string  `firestore:"country"`
	Phone      *string `firestore:"phone,omitempty"`
}

type disputeDocument struct {
	ID       string    `firestore:"id"`
	Reason   string    `firestore:"reason"`
	Amount   int64     `firestore:"amount"`
	OpenedAt time.Time `firestore:"openedAt"`
}

type stockAdjustmentDocument struct {
	ProductID string `firestore:"productId"`
	Quantity  int    `firestore:"qty"`
}

type orderNumberDocument struct {
	OrderID   string    `firestore:"orderId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type paymentDocument struct {
	OrderID       string    `firestore:"orderId"`
	OrderNumber   string    `firestore:"orderNumber"`
	Amount        int64     `firestore:"amount"`
	Currency      string    `firestore:"currency"`
	Status        string    `firestore:"status"`
	FailureReason string    `firestore:"failureReason,omitempty"`
	ReceiptURL    string    `firestore:"receiptUrl,omitempty"`
	CreatedAt     time.Time `firestore:"createdAt"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

func newOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:          order.OrderNumber,
		UserID:               order.UserID,
		Email:                strings.TrimSpace(order.Email),
		Lines:                make([]orderLineDocument, 0, len(order.Lines)),
		Totals:               orderTotalsDocument(order.Totals),
		Status:               string(order.Status),
		PaymentStatus:        string(order.PaymentStatus),
		ShippingAddress:      addressDocument(order.ShippingAddress),
		BillingAddress:       addressDocument(order.BillingAddress),
		PaymentIntentID:      order.PaymentIntentID,
		PaymentFailureReason: order.PaymentFailureReason,
		Notes:                order.Notes,
		CreatedAt:            order.CreatedAt.UTC(),
		UpdatedAt:            order.UpdatedAt.UTC(),
		PaidAt:               utcPtr(order.PaidAt),
		RefundedAt:           utcPtr(order.RefundedAt),
		CanceledAt:           utcPtr(order.CanceledAt),
	}
	for _, line := range order.Lines {
		doc.Lines = append(doc.Lines, orderLineDocument(line))
	}
	if order.Dispute != nil {
		dispute := disputeDocument(*order.Dispute)
		doc.Dispute = &dispute
	}
	for _, adj := range order.Backorders {
		doc.Backorders = append(doc.Backorders, stockAdjustmentDocument(adj))
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	order := domain.Order{
		ID:                   id,
		OrderNumber:          d.OrderNumber,
		UserID:               d.UserID,
		Email:                d.Email,
		Lines:                make([]domain.OrderLine, 0, len(d.Lines)),
		Totals:               domain.OrderTotals(d.Totals),
		Status:               domain.OrderStatus(d.Status),
		PaymentStatus:        domain.PaymentStatus(d.PaymentStatus),
		ShippingAddress:      domain.Address(d.ShippingAddress),
		BillingAddress:       domain.Address(d.BillingAddress),
		PaymentIntentID:      d.PaymentIntentID,
		PaymentFailureReason: d.PaymentFailureReason,
		Notes:                d.Notes,
		CreatedAt:            d.CreatedAt,
		UpdatedAt:            d.UpdatedAt,
		PaidAt:               d.PaidAt,
		RefundedAt:           d.RefundedAt,
		CanceledAt:           d.CanceledAt,
	}
	for _, line := range d.Lines {
		order.Lines = append(order.Lines, domain.OrderLine(line))
	}
	if d.Dispute != nil {
		dispute := domain.OrderDispute(*d.Dispute)
		order.Dispute = &dispute
	}
	for _, adj := range d.Backorders {
		order.Backorders = append(order.Backorders, domain.StockAdjustment(adj))
	}
	return order
}

func newPaymentDocument(payment domain.Payment) paymentDocument {
	return paymentDocument{
		OrderID:       payment.OrderID,
		OrderNumber:   payment.OrderNumber,
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		Status:        string(payment.Status),
		FailureReason: payment.FailureReason,
		ReceiptURL:    payment.ReceiptURL,
		CreatedAt:     payment.CreatedAt.UTC(),
		UpdatedAt:     payment.UpdatedAt.UTC(),
	}
}

func (d paymentDocument) toDomain(intentID string) domain.Payment {
	return domain.Payment{
		IntentID:      intentID,
		OrderID:       d.OrderID,
		OrderNumber:   d.OrderNumber,
		Amount:        d.Amount,
		Currency:      d.Currency,
		Status:        domain.PaymentRecordStatus(d.Status),
		FailureReason: d.FailureReason,
		ReceiptURL:    d.ReceiptURL,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
