package badge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront/internal/cart"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/storage"
	"go.uber.org/zap"
)

const refreshTimeout = 2 * time.Second

// State is what the navbar shows next to the cart link.
type State struct {
	Count   int  `json:"count"`
	Visible bool `json:"visible"`
}

// Source is anything that announces cart changes.
type Source interface {
	Subscribe(fn func(cart.Event)) (cancel func())
}

// Notifier counts the items of the persisted cart. It reads storage rather
// than a cart's memory so writes from other contexts are reflected.
type Notifier struct {
	kv  storage.KV
	log *zap.Logger

	mu    sync.RWMutex
	state State
}

func New(kv storage.KV, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{kv: kv, log: log}
}

// Refresh re-reads the cart key. On a read error the previous state is kept.
func (n *Notifier) Refresh(ctx context.Context) (State, error) {
	raw, err := n.kv.Get(ctx, domain.CartKey)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return n.State(), fmt.Errorf("read cart for badge: %w", err)
	}

	count := 0
	if err == nil {
		count = len(domain.DecodeItemsOrEmpty(raw))
	}
	state := State{Count: count, Visible: count > 0}

	n.mu.Lock()
	n.state = state
	n.mu.Unlock()
	return state, nil
}

func (n *Notifier) State() State {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// Bind refreshes the badge on every event from src.
func (n *Notifier) Bind(src Source) (cancel func()) {
	return src.Subscribe(func(e cart.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()

		if _, err := n.Refresh(ctx); err != nil {
			n.log.Warn("badge refresh failed",
				zap.Bool("remote", e.Remote),
				zap.Error(err))
		}
	})
}
