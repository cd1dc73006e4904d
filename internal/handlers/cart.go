package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/services"
)

// CartHandlers serves the cart of the signed-in user or of the guest session.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
}

func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{authn: authn, carts: carts}
}

// Routes registers cart endpoints. Authentication is optional; anonymous callers get a guest session.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.OptionalFirebaseAuth())
	}
	group = group.With(auth.GuestSession())
	group.Get("/", h.getCart)
	group.Delete("/", h.clearCart)
	group.Post("/lines", h.addLine)
	group.Patch("/lines/{productId}", h.updateLine)
	group.Delete("/lines/{productId}", h.removeLine)
	group.Post("/merge", h.mergeCart)
}

type addCartLineRequest struct {
	ProductID string `json:"productId" validate:"required,max=128"`
	Size      string `json:"size" validate:"max=32"`
	Quantity  int    `json:"quantity" validate:"min=1"`
}

type updateCartLineRequest struct {
	Size     string `json:"size" validate:"max=32"`
	Quantity *int   `json:"quantity" validate:"required,min=0"`
}

type mergeCartRequest struct {
	GuestToken string `json:"guestToken" validate:"omitempty,uuid"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	cart, err := h.carts.GetCart(r.Context(), owner)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartPayload(cart))
}

func (h *CartHandlers) addLine(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	var req addCartLineRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteBodyError(w, r, err)
		return
	}
	cart, err := h.carts.AddLine(r.Context(), services.AddCartLineCommand{
		Owner:     owner,
		ProductID: strings.TrimSpace(req.ProductID),
		Size:      strings.TrimSpace(req.Size),
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartPayload(cart))
}

func (h *CartHandlers) updateLine(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	var req updateCartLineRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteBodyError(w, r, err)
		return
	}
	size := req.Size
	if size == "" {
		size = r.URL.Query().Get("size")
	}
	cart, err := h.carts.UpdateLine(r.Context(), services.UpdateCartLineCommand{
		Owner:     owner,
		ProductID: strings.TrimSpace(chi.URLParam(r, "productId")),
		Size:      strings.TrimSpace(size),
		Quantity:  *req.Quantity,
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartPayload(cart))
}

func (h *CartHandlers) removeLine(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	cart, err := h.carts.RemoveLine(r.Context(), services.RemoveCartLineCommand{
		Owner:     owner,
		ProductID: strings.TrimSpace(chi.URLParam(r, "productId")),
		Size:      strings.TrimSpace(r.URL.Query().Get("size")),
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartPayload(cart))
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	if err := h.carts.Clear(r.Context(), owner); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// mergeCart folds the guest cart named by the body or the X-Guest-Session header into the user's cart.
func (h *CartHandlers) mergeCart(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req mergeCartRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteBodyError(w, r, err)
			return
		}
	}
	token := strings.TrimSpace(req.GuestToken)
	if token == "" {
		token = auth.GuestTokenFromContext(r.Context())
	}
	if token == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "guest session token is required", http.StatusBadRequest))
		return
	}
	cart, err := h.carts.Merge(r.Context(), services.MergeCartCommand{GuestToken: token, UserID: identity.UID})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartPayload(cart))
}

func (h *CartHandlers) owner(w http.ResponseWriter, r *http.Request) (services.CartOwner, bool) {
	if h.carts == nil {
		serviceUnavailable(r.Context(), w, "cart")
		return services.CartOwner{}, false
	}
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		return services.CartOwner{UserID: identity.UID}, true
	}
	if token := auth.GuestTokenFromContext(r.Context()); token != "" {
		return services.CartOwner{GuestToken: token}, true
	}
	httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "sign in or start a guest session", http.StatusUnauthorized))
	return services.CartOwner{}, false
}
