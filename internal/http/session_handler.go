package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/fjod/go_cart/storefront/internal/session"
	"go.uber.org/zap"
)

// SessionEvents tells other storefront instances that a shopper logged out.
type SessionEvents interface {
	SessionEnded(ctx context.Context, shopperID string) error
}

type SessionHandler struct {
	contexts Contexts
	events   SessionEvents
	timeout  time.Duration
	log      *zap.Logger
}

// NewSessionHandler builds the handler; events may be nil.
func NewSessionHandler(contexts Contexts, events SessionEvents, timeout time.Duration, log *zap.Logger) *SessionHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionHandler{
		contexts: contexts,
		events:   events,
		timeout:  timeout,
		log:      log,
	}
}

type SaveSessionRequestDTO struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type SessionResponse struct {
	LoggedIn bool   `json:"logged_in"`
	UserID   *int64 `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	bc, err := h.contexts.Context(r.Context(), getShopperID(r.Context()), getContextID(r.Context()))
	if err != nil {
		handleError(w, err)
		return
	}

	sess, err := bc.Session.Load(ctx)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sessionResponse(sess))
}

// SaveSession records the user returned by the login API for this tab.
func (h *SessionHandler) SaveSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req SaveSessionRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	bc, err := h.contexts.Context(r.Context(), getShopperID(r.Context()), getContextID(r.Context()))
	if err != nil {
		handleError(w, err)
		return
	}

	err = bc.Session.Save(ctx, session.User{
		ID:       req.UserID,
		Username: req.Username,
		Email:    req.Email,
	})
	if err != nil {
		handleError(w, err)
		return
	}

	sess, err := bc.Session.Load(ctx)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sessionResponse(sess))
}

// EndSession logs the tab out and drops the shopper's cart.
func (h *SessionHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	bc, err := h.contexts.Context(r.Context(), getShopperID(r.Context()), getContextID(r.Context()))
	if err != nil {
		handleError(w, err)
		return
	}

	if err := bc.Session.End(ctx); err != nil {
		handleError(w, err)
		return
	}
	log := logger.FromContext(ctx, h.log)
	if err := bc.Cart.Load(ctx); err != nil {
		log.Warn("reload after logout failed", zap.Error(err))
	}
	if h.events != nil {
		if err := h.events.SessionEnded(ctx, bc.ShopperID); err != nil {
			log.Warn("session end not published", zap.Error(err))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func sessionResponse(s session.Session) SessionResponse {
	return SessionResponse{
		LoggedIn: s.LoggedIn,
		UserID:   s.UserID,
		Username: s.DisplayName(),
		Email:    s.Email,
	}
}
