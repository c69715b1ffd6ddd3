package http

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const (
	HeaderShopperID = "X-Shopper-ID"
	HeaderContextID = "X-Context-ID"
)

type ctxKey int

const (
	shopperKey ctxKey = iota
	contextIDKey
)

// BrowsingContextMiddleware identifies the shopper and the tab. A request
// without a tab id starts a new tab; the id is echoed so the client can keep it.
func BrowsingContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		shopperID := r.Header.Get(HeaderShopperID)
		if shopperID == "" {
			respondError(w, http.StatusBadRequest, "missing_shopper", "missing "+HeaderShopperID+" header")
			return
		}

		contextID := r.Header.Get(HeaderContextID)
		if contextID == "" {
			contextID = uuid.NewString()
		}
		w.Header().Set(HeaderContextID, contextID)

		ctx := context.WithValue(r.Context(), shopperKey, shopperID)
		ctx = context.WithValue(ctx, contextIDKey, contextID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func getShopperID(ctx context.Context) string {
	if id, ok := ctx.Value(shopperKey).(string); ok {
		return id
	}
	return ""
}

func getContextID(ctx context.Context) string {
	if id, ok := ctx.Value(contextIDKey).(string); ok {
		return id
	}
	return ""
}
