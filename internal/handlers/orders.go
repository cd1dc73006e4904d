package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/pagination"
	"github.com/hanko-field/storefront/internal/services"
)

// OrderHandlers serves the signed-in user's orders and refund requests.
type OrderHandlers struct {
	authn   *auth.Authenticator
	orders  services.OrderService
	refunds services.RefundService
	guard   func(http.Handler) http.Handler
}

// NewOrderHandlers wires order endpoints. guard, when set, wraps refund requests.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, refunds services.RefundService, guard ...func(http.Handler) http.Handler) *OrderHandlers {
	h := &OrderHandlers{authn: authn, orders: orders, refunds: refunds}
	if len(guard) > 0 {
		h.guard = chainMiddleware(guard...)
	}
	return h
}

// Routes registers /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth())
	}
	group.Get("/", h.listOrders)
	group.Get("/{orderNumber}", h.getOrder)
	group.Get("/{orderNumber}/refunds", h.listOrderRefunds)
	group.Post("/{orderNumber}/cancel", h.cancelOrder)
}

// RefundRoutes registers /refunds endpoints.
func (h *OrderHandlers) RefundRoutes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth())
	}
	request := http.Handler(http.HandlerFunc(h.requestRefund))
	if h.guard != nil {
		request = h.guard(request)
	}
	group.Method(http.MethodPost, "/request", request)
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

type refundListResponse struct {
	Items         []refundPayload `json:"items"`
	NextPageToken string          `json:"nextPageToken,omitempty"`
}

type requestRefundRequest struct {
	OrderNumber string              `json:"orderNumber" validate:"required,max=64"`
	Reason      string              `json:"reason" validate:"required,oneof=requested_by_customer duplicate fraudulent defective other"`
	Amount      *int64              `json:"amount,omitempty" validate:"omitempty,gt=0"`
	Items       []refundItemPayload `json:"items,omitempty" validate:"omitempty,dive"`
	Description string              `json:"description" validate:"max=1000"`
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireUser(w, r)
	if !ok {
		return
	}
	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		writePaginationError(w, r, err)
		return
	}
	page, err := h.orders.ListOrders(ctx, identity.UID, services.Pagination{PageSize: params.PageSize, PageToken: params.PageToken})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := orderListResponse{Items: make([]orderPayload, 0, len(page.Items)), NextPageToken: page.NextPageToken}
	for _, order := range page.Items {
		resp.Items = append(resp.Items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireUser(w, r)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(ctx, identity.UID, chi.URLParam(r, "orderNumber"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireUser(w, r)
	if !ok {
		return
	}
	order, err := h.orders.CancelOrder(ctx, services.CancelOrderCommand{
		UserID:      identity.UID,
		OrderNumber: chi.URLParam(r, "orderNumber"),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) listOrderRefunds(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.refunds == nil {
		serviceUnavailable(ctx, w, "refund")
		return
	}
	identity, ok := requireUser(w, r)
	if !ok {
		return
	}
	refunds, err := h.refunds.ListOrderRefunds(ctx, identity.UID, chi.URLParam(r, "orderNumber"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, refundListResponse{Items: buildRefundPayloads(refunds)})
}

func (h *OrderHandlers) requestRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.refunds == nil {
		serviceUnavailable(ctx, w, "refund")
		return
	}
	identity, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req requestRefundRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteBodyError(w, r, err)
		return
	}
	refund, err := h.refunds.RequestRefund(ctx, services.RequestRefundCommand{
		UserID:      identity.UID,
		OrderNumber: strings.TrimSpace(req.OrderNumber),
		Reason:      services.RefundReason(req.Reason),
		Amount:      req.Amount,
		Items:       toRefundItems(req.Items),
		Description: req.Description,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildRefundPayload(refund))
}

func writePaginationError(w http.ResponseWriter, r *http.Request, err error) {
	code := "invalid_request"
	switch {
	case errors.Is(err, pagination.ErrInvalidPageSize):
		code = "invalid_page_size"
	case errors.Is(err, pagination.ErrInvalidPageToken):
		code = "invalid_page_token"
	}
	httpx.WriteError(r.Context(), w, httpx.NewError(code, err.Error(), http.StatusBadRequest))
}
