package cart

import (
	"errors"

	"github.com/fjod/go_cart/storefront/internal/orders"
)

var (
	ErrEmptyCart          = errors.New("cart is empty")
	ErrInvalidItem        = errors.New("invalid cart item")
	ErrCheckoutInProgress = errors.New("checkout in progress")
	// ErrNotPersisted means the in-memory cart changed but the persisted copy did not.
	ErrNotPersisted = errors.New("cart not persisted")
)

const (
	msgEmptyCart   = "El carrito está vacío."
	msgRejected    = "Error al procesar la compra: "
	msgUnknown     = "Error desconocido"
	msgUnavailable = "Error al conectar con el servidor. La compra no se pudo procesar."
	msgInProgress  = "Ya hay una compra en curso."
	msgInvalidItem = "Producto no válido."
	msgNotSaved    = "No se pudo guardar el carrito."
)

// UserMessage is the text shown to the shopper for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var rejected *orders.RejectedError
	switch {
	case errors.Is(err, ErrEmptyCart):
		return msgEmptyCart
	case errors.As(err, &rejected):
		if rejected.Detail == "" {
			return msgRejected + msgUnknown
		}
		return msgRejected + rejected.Detail
	case errors.Is(err, orders.ErrUnavailable):
		return msgUnavailable
	case errors.Is(err, ErrCheckoutInProgress):
		return msgInProgress
	case errors.Is(err, ErrInvalidItem):
		return msgInvalidItem
	case errors.Is(err, ErrNotPersisted):
		return msgNotSaved
	default:
		return msgUnknown
	}
}
