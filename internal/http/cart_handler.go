package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/go_cart/storefront/internal/cart"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/fjod/go_cart/storefront/internal/service"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Contexts hands out the open tabs of a shopper.
type Contexts interface {
	Context(ctx context.Context, shopperID, contextID string) (*service.BrowsingContext, error)
	CloseContext(shopperID, contextID string) bool
}

type CartHandler struct {
	contexts Contexts
	timeout  time.Duration
	log      *zap.Logger
}

func NewCartHandler(contexts Contexts, timeout time.Duration, log *zap.Logger) *CartHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &CartHandler{
		contexts: contexts,
		timeout:  timeout,
		log:      log,
	}
}

type AddItemRequestDTO struct {
	Nombre *string  `json:"nombre"`
	Precio *float64 `json:"precio"`
}

type CartResponse struct {
	Items   []domain.LineItem `json:"items"`
	Total   float64           `json:"total"`
	Count   int               `json:"count"`
	Warning string            `json:"warning,omitempty"`
}

type CheckoutResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	OrderID int64  `json:"order_id,omitempty"`
	Warning string `json:"warning,omitempty"`
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	bc, err := h.open(r)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cartResponse(bc.Cart, nil))
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Nombre == nil || req.Precio == nil {
		respondError(w, http.StatusBadRequest, "invalid_item", "nombre and precio are required")
		return
	}

	bc, err := h.open(r)
	if err != nil {
		handleError(w, err)
		return
	}

	err = bc.Cart.Add(ctx, *req.Nombre, *req.Precio)
	h.respondMutation(w, r, bc, err, http.StatusCreated)
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_index", "index must be an integer")
		return
	}

	bc, err := h.open(r)
	if err != nil {
		handleError(w, err)
		return
	}

	err = bc.Cart.RemoveAt(ctx, index)
	h.respondMutation(w, r, bc, err, http.StatusOK)
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	bc, err := h.open(r)
	if err != nil {
		handleError(w, err)
		return
	}

	err = bc.Cart.Clear(ctx)
	h.respondMutation(w, r, bc, err, http.StatusOK)
}

// Reload re-reads the persisted cart, like opening the page again.
func (h *CartHandler) Reload(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	bc, err := h.open(r)
	if err != nil {
		handleError(w, err)
		return
	}
	if err := bc.Cart.Load(ctx); err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cartResponse(bc.Cart, nil))
}

func (h *CartHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	bc, err := h.open(r)
	if err != nil {
		handleError(w, err)
		return
	}

	sess, err := bc.Session.Load(ctx)
	if err != nil {
		handleError(w, err)
		return
	}

	conf, err := bc.Cart.Checkout(ctx, sess.UserID)
	if conf == nil {
		handleError(w, err)
		return
	}

	resp := CheckoutResponse{
		Success: true,
		Message: conf.Message,
		OrderID: conf.OrderID,
	}
	if err != nil {
		// the order went through; only the stored cart is stale
		logger.FromContext(ctx, h.log).Error("checkout completed with storage error", zap.Error(err))
		resp.Warning = cart.UserMessage(err)
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *CartHandler) Badge(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	bc, err := h.open(r)
	if err != nil {
		handleError(w, err)
		return
	}

	state, err := bc.Badge.Refresh(ctx)
	if err != nil {
		logger.FromContext(ctx, h.log).Warn("serving stale badge", zap.Error(err))
	}
	respondJSON(w, http.StatusOK, state)
}

// CloseContext forgets the tab named by the request.
func (h *CartHandler) CloseContext(w http.ResponseWriter, r *http.Request) {
	h.contexts.CloseContext(getShopperID(r.Context()), getContextID(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) open(r *http.Request) (*service.BrowsingContext, error) {
	return h.contexts.Context(r.Context(), getShopperID(r.Context()), getContextID(r.Context()))
}

// respondMutation answers with the cart after a change. A change that only
// failed to persist is still reported as done, with a warning.
func (h *CartHandler) respondMutation(w http.ResponseWriter, r *http.Request, bc *service.BrowsingContext, err error, okStatus int) {
	if err != nil && !errors.Is(err, cart.ErrNotPersisted) {
		handleError(w, err)
		return
	}
	if err != nil {
		logger.FromContext(r.Context(), h.log).Warn("cart changed but not persisted", zap.Error(err))
	}
	respondJSON(w, okStatus, cartResponse(bc.Cart, err))
}

func cartResponse(c *cart.Store, err error) CartResponse {
	items := c.Items()
	resp := CartResponse{
		Items: items,
		Total: domain.Cart{Items: items}.Total(),
		Count: len(items),
	}
	if err != nil {
		resp.Warning = cart.UserMessage(err)
	}
	return resp
}
