package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/pagination"
	"github.com/hanko-field/storefront/internal/services"
)

// AdminHandlers serves staff refund review, fulfillment updates and stock corrections.
type AdminHandlers struct {
	authn   *auth.Authenticator
	orders  services.OrderService
	refunds services.RefundService
	stock   services.StockService
}

// NewAdminHandlers wires staff endpoints.
func NewAdminHandlers(authn *auth.Authenticator, orders services.OrderService, refunds services.RefundService, stock services.StockService) *AdminHandlers {
	return &AdminHandlers{authn: authn, orders: orders, refunds: refunds, stock: stock}
}

// Routes registers /admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
	}
	group.Get("/refunds", h.listRefunds)
	group.Post("/refunds/{refundId}/process", h.processRefund)
	group.Post("/refunds/{orderNumber}/partial", h.partialRefund)
	group.Post("/orders/{orderNumber}/refunds/partial", h.partialRefund)
	group.Patch("/orders/{orderNumber}/status", h.updateStatus)
	group.Get("/products/{productId}/stock", h.getStock)
	group.Post("/products/{productId}/stock", h.adjustStock)
}

type processRefundRequest struct {
	Approve *bool  `json:"approve" validate:"required"`
	Note    string `json:"note" validate:"max=1000"`
}

type partialRefundRequest struct {
	Amount      int64               `json:"amount" validate:"gt=0"`
	Items       []refundItemPayload `json:"items,omitempty" validate:"omitempty,dive"`
	Reason      string              `json:"reason" validate:"omitempty,oneof=requested_by_customer duplicate fraudulent defective other"`
	Description string              `json:"description" validate:"max=1000"`
}

// adjustStockRequest corrects a counter after a recount; negative deltas remove units.
type adjustStockRequest struct {
	Delta int    `json:"delta" validate:"required"`
	Note  string `json:"note" validate:"max=500"`
}

type stockResponse struct {
	ProductID string `json:"productId"`
	Available int    `json:"available"`
}

type updateStatusRequest struct {
	Status         string  `json:"status" validate:"required,oneof=shipped delivered"`
	ExpectedStatus *string `json:"expectedStatus,omitempty" validate:"omitempty,oneof=pending processing shipped delivered cancelled refunded"`
}

func (h *AdminHandlers) listRefunds(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.refunds == nil {
		serviceUnavailable(ctx, w, "refund")
		return
	}
	status := services.RefundStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		writePaginationError(w, r, err)
		return
	}
	page, err := h.refunds.ListRefunds(ctx, status, services.Pagination{PageSize: params.PageSize, PageToken: params.PageToken})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, refundListResponse{Items: buildRefundPayloads(page.Items), NextPageToken: page.NextPageToken})
}

func (h *AdminHandlers) processRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.refunds == nil {
		serviceUnavailable(ctx, w, "refund")
		return
	}
	identity, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req processRefundRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteBodyError(w, r, err)
		return
	}
	refund, err := h.refunds.ProcessRefund(ctx, services.ProcessRefundCommand{
		RefundID: chi.URLParam(r, "refundId"),
		ActorID:  identity.UID,
		Approve:  *req.Approve,
		Note:     req.Note,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildRefundPayload(refund))
}

func (h *AdminHandlers) partialRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.refunds == nil {
		serviceUnavailable(ctx, w, "refund")
		return
	}
	identity, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req partialRefundRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteBodyError(w, r, err)
		return
	}
	refund, err := h.refunds.CreatePartialRefund(ctx, services.PartialRefundCommand{
		OrderNumber: chi.URLParam(r, "orderNumber"),
		ActorID:     identity.UID,
		Amount:      req.Amount,
		Items:       toRefundItems(req.Items),
		Reason:      services.RefundReason(req.Reason),
		Description: req.Description,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildRefundPayload(refund))
}

func (h *AdminHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req updateStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteBodyError(w, r, err)
		return
	}
	cmd := services.UpdateOrderStatusCommand{
		OrderNumber:  chi.URLParam(r, "orderNumber"),
		ActorID:      identity.UID,
		TargetStatus: services.OrderStatus(req.Status),
	}
	if req.ExpectedStatus != nil {
		expected := services.OrderStatus(*req.ExpectedStatus)
		cmd.ExpectedStatus = &expected
	}
	order, err := h.orders.UpdateOrderStatus(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *AdminHandlers) getStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stock == nil {
		serviceUnavailable(ctx, w, "stock")
		return
	}
	productID := chi.URLParam(r, "productId")
	level, err := h.stock.Available(ctx, productID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, stockResponse{ProductID: productID, Available: level})
}

func (h *AdminHandlers) adjustStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stock == nil {
		serviceUnavailable(ctx, w, "stock")
		return
	}
	if _, ok := requireUser(w, r); !ok {
		return
	}
	var req adjustStockRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteBodyError(w, r, err)
		return
	}
	productID := chi.URLParam(r, "productId")
	var (
		level int
		err   error
	)
	if req.Delta > 0 {
		level, err = h.stock.Increment(ctx, productID, req.Delta)
	} else {
		level, err = h.stock.Decrement(ctx, productID, -req.Delta)
	}
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, stockResponse{ProductID: productID, Available: level})
}
