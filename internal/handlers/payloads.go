package handlers

import (
	"strings"

	"github.com/hanko-field/storefront/internal/services"
)

type cartLinePayload struct {
	ProductID string `json:"productId"`
	Size      string `json:"size,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
	LineTotal int64  `json:"lineTotal"`
	AddedAt   string `json:"addedAt,omitempty"`
}

type cartPayload struct {
	Lines     []cartLinePayload `json:"lines"`
	ItemCount int               `json:"itemCount"`
	Subtotal  int64             `json:"subtotal"`
	UpdatedAt string            `json:"updatedAt,omitempty"`
}

func buildCartPayload(cart services.Cart) cartPayload {
	payload := cartPayload{
		Lines:     make([]cartLinePayload, 0, len(cart.Lines)),
		UpdatedAt: formatTime(cart.UpdatedAt),
	}
	for _, line := range cart.Lines {
		total := line.UnitPrice * int64(line.Quantity)
		payload.Lines = append(payload.Lines, cartLinePayload{
			ProductID: line.ProductID,
			Size:      line.Size,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			LineTotal: total,
			AddedAt:   formatTime(line.AddedAt),
		})
		payload.ItemCount += line.Quantity
		payload.Subtotal += total
	}
	return payload
}

type addressPayload struct {
	Recipient  string  `json:"recipient" validate:"required,max=200"`
	Line1      string  `json:"line1" validate:"required,max=200"`
	Line2      *string `json:"line2,omitempty" validate:"omitempty,max=200"`
	City       string  `json:"city" validate:"required,max=100"`
	State      *string `json:"state,omitempty" validate:"omitempty,max=100"`
	PostalCode string  `json:"postalCode" validate:"required,max=20"`
	Country    string  `json:"country" validate:"required,len=2"`
	Phone      *string `json:"phone,omitempty" validate:"omitempty,max=30"`
}

func (p addressPayload) toAddress() services.Address {
	return services.Address{
		Recipient:  strings.TrimSpace(p.Recipient),
		Line1:      strings.TrimSpace(p.Line1),
		Line2:      p.Line2,
		City:       strings.TrimSpace(p.City),
		State:      p.State,
		PostalCode: strings.TrimSpace(p.PostalCode),
		Country:    strings.TrimSpace(p.Country),
		Phone:      p.Phone,
	}
}

func buildAddressPayload(addr services.Address) addressPayload {
	return addressPayload{
		Recipient:  addr.Recipient,
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      addr.Phone,
	}
}

type totalsPayload struct {
	Subtotal int64  `json:"subtotal"`
	Shipping int64  `json:"shipping"`
	Tax      int64  `json:"tax"`
	Total    int64  `json:"total"`
	Currency string `json:"currency"`
}

func buildTotalsPayload(t services.OrderTotals) totalsPayload {
	return totalsPayload{Subtotal: t.Subtotal, Shipping: t.Shipping, Tax: t.Tax, Total: t.Total, Currency: t.Currency}
}

type orderLinePayload struct {
	ProductID  string `json:"productId"`
	Name       string `json:"name"`
	Size       string `json:"size,omitempty"`
	ImageURL   string `json:"imageUrl,omitempty"`
	UnitPrice  int64  `json:"unitPrice"`
	Quantity   int    `json:"quantity"`
	TotalPrice int64  `json:"totalPrice"`
}

type disputePayload struct {
	ID       string `json:"id"`
	Reason   string `json:"reason"`
	Amount   int64  `json:"amount"`
	OpenedAt string `json:"openedAt"`
}

type stockPayload struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type orderPayload struct {
	ID                   string             `json:"id"`
	OrderNumber          string             `json:"orderNumber"`
	Status               string             `json:"status"`
	PaymentStatus        string             `json:"paymentStatus"`
	PaymentFailureReason string             `json:"paymentFailureReason,omitempty"`
	Lines                []orderLinePayload `json:"lines"`
	Totals               totalsPayload      `json:"totals"`
	ShippingAddress      addressPayload     `json:"shippingAddress"`
	BillingAddress       addressPayload     `json:"billingAddress"`
	Notes                string             `json:"notes,omitempty"`
	Dispute              *disputePayload    `json:"dispute,omitempty"`
	Backorders           []stockPayload     `json:"backorders,omitempty"`
	CreatedAt            string             `json:"createdAt"`
	UpdatedAt            string             `json:"updatedAt"`
	PaidAt               string             `json:"paidAt,omitempty"`
	RefundedAt           string             `json:"refundedAt,omitempty"`
	CanceledAt           string             `json:"canceledAt,omitempty"`
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:                   order.ID,
		OrderNumber:          order.OrderNumber,
		Status:               string(order.Status),
		PaymentStatus:        string(order.PaymentStatus),
		PaymentFailureReason: order.PaymentFailureReason,
		Lines:                make([]orderLinePayload, 0, len(order.Lines)),
		Totals:               buildTotalsPayload(order.Totals),
		ShippingAddress:      buildAddressPayload(order.ShippingAddress),
		BillingAddress:       buildAddressPayload(order.BillingAddress),
		Notes:                order.Notes,
		CreatedAt:            formatTime(order.CreatedAt),
		UpdatedAt:            formatTime(order.UpdatedAt),
		PaidAt:               formatTimePtr(order.PaidAt),
		RefundedAt:           formatTimePtr(order.RefundedAt),
		CanceledAt:           formatTimePtr(order.CanceledAt),
	}
	for _, line := range order.Lines {
		payload.Lines = append(payload.Lines, orderLinePayload{
			ProductID:  line.ProductID,
			Name:       line.Name,
			Size:       line.Size,
			ImageURL:   line.ImageURL,
			UnitPrice:  line.UnitPrice,
			Quantity:   line.Quantity,
			TotalPrice: line.TotalPrice,
		})
	}
	if d := order.Dispute; d != nil {
		payload.Dispute = &disputePayload{ID: d.ID, Reason: d.Reason, Amount: d.Amount, OpenedAt: formatTime(d.OpenedAt)}
	}
	for _, b := range order.Backorders {
		payload.Backorders = append(payload.Backorders, stockPayload{ProductID: b.ProductID, Quantity: b.Quantity})
	}
	return payload
}

type refundItemPayload struct {
	ProductID string `json:"productId" validate:"required"`
	Size      string `json:"size,omitempty"`
	Quantity  int    `json:"quantity" validate:"min=1"`
}

func toRefundItems(items []refundItemPayload) []services.RefundItem {
	if len(items) == 0 {
		return nil
	}
	out := make([]services.RefundItem, 0, len(items))
	for _, item := range items {
		out = append(out, services.RefundItem{
			ProductID: strings.TrimSpace(item.ProductID),
			Size:      strings.TrimSpace(item.Size),
			Quantity:  item.Quantity,
		})
	}
	return out
}

type refundPayload struct {
	ID              string              `json:"id"`
	OrderNumber     string              `json:"orderNumber"`
	Amount          int64               `json:"amount"`
	Currency        string              `json:"currency"`
	Reason          string              `json:"reason"`
	Type            string              `json:"type"`
	Status          string              `json:"status"`
	Items           []refundItemPayload `json:"items,omitempty"`
	Description     string              `json:"description,omitempty"`
	GatewayRefundID string              `json:"gatewayRefundId,omitempty"`
	FailureReason   string              `json:"failureReason,omitempty"`
	CreatedAt       string              `json:"createdAt"`
	ProcessedAt     string              `json:"processedAt,omitempty"`
}

func buildRefundPayload(refund services.Refund) refundPayload {
	payload := refundPayload{
		ID:              refund.ID,
		OrderNumber:     refund.OrderNumber,
		Amount:          refund.Amount,
		Currency:        refund.Currency,
		Reason:          string(refund.Reason),
		Type:            string(refund.Type),
		Status:          string(refund.Status),
		Description:     refund.Description,
		GatewayRefundID: refund.GatewayRefundID,
		FailureReason:   refund.FailureReason,
		CreatedAt:       formatTime(refund.CreatedAt),
		ProcessedAt:     formatTimePtr(refund.ProcessedAt),
	}
	for _, item := range refund.Items {
		payload.Items = append(payload.Items, refundItemPayload{ProductID: item.ProductID, Size: item.Size, Quantity: item.Quantity})
	}
	return payload
}

func buildRefundPayloads(refunds []services.Refund) []refundPayload {
	out := make([]refundPayload, 0, len(refunds))
	for _, refund := range refunds {
		out = append(out, buildRefundPayload(refund))
	}
	return out
}
