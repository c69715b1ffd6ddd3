package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fjod/go_cart/storefront/internal/cart"
	"github.com/fjod/go_cart/storefront/internal/orders"
	"github.com/fjod/go_cart/storefront/internal/service"
	"github.com/fjod/go_cart/storefront/internal/session"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// the status line is already out; nothing useful to do on failure
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleError maps domain errors to status codes. The error text shown to
// the shopper always comes from cart.UserMessage.
func handleError(w http.ResponseWriter, err error) {
	var httpStatus int
	var code string
	var rejected *orders.RejectedError

	switch {
	case errors.Is(err, service.ErrInvalidContext):
		httpStatus = http.StatusBadRequest
		code = "invalid_context"
	case errors.Is(err, session.ErrInvalidSession):
		httpStatus = http.StatusBadRequest
		code = "invalid_session"
	case errors.Is(err, cart.ErrEmptyCart):
		httpStatus = http.StatusBadRequest
		code = "empty_cart"
	case errors.Is(err, cart.ErrInvalidItem):
		httpStatus = http.StatusBadRequest
		code = "invalid_item"
	case errors.Is(err, cart.ErrCheckoutInProgress):
		httpStatus = http.StatusConflict
		code = "checkout_in_progress"
	case errors.As(err, &rejected):
		httpStatus = http.StatusUnprocessableEntity
		code = "order_rejected"
	case errors.Is(err, orders.ErrUnavailable):
		httpStatus = http.StatusBadGateway
		code = "orders_unavailable"
	case errors.Is(err, cart.ErrNotPersisted):
		httpStatus = http.StatusServiceUnavailable
		code = "storage_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		httpStatus = http.StatusGatewayTimeout
		code = "timeout"
	default:
		httpStatus = http.StatusInternalServerError
		code = "internal_error"
	}

	respondJSON(w, httpStatus, ErrorResponse{
		Error:   cart.UserMessage(err),
		Code:    code,
		Details: err.Error(),
	})
}
