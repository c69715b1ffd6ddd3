package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fjod/go_cart/storefront/internal/badge"
	"github.com/fjod/go_cart/storefront/internal/cart"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/fjod/go_cart/storefront/internal/session"
	"github.com/fjod/go_cart/storefront/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var ErrInvalidContext = errors.New("shopper and context ids are required")

// BrowsingContext is one open tab of a shopper.
type BrowsingContext struct {
	ID        string
	ShopperID string
	Cart      *cart.Store
	Session   *session.Store
	Badge     *badge.Notifier

	stop     context.CancelFunc
	unbind   func()
	lastUsed atomic.Int64 // unix nanos
}

func (bc *BrowsingContext) touch(now time.Time) {
	bc.lastUsed.Store(now.UnixNano())
}

func (bc *BrowsingContext) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, bc.lastUsed.Load()))
}

func (bc *BrowsingContext) close() {
	bc.unbind()
	bc.stop()
}

// Storefront keeps the open browsing contexts. Every shopper is an origin of
// the backend; all of a shopper's tabs share its cart key.
type Storefront struct {
	backend     storage.Backend
	orders      cart.OrderSubmitter
	log         *zap.Logger
	idleTimeout time.Duration
	now         func() time.Time

	mu       sync.RWMutex
	contexts map[string]*BrowsingContext
	sfg      singleflight.Group // one load per tab
}

type Option func(*Storefront)

// WithIdleTimeout closes tabs not used for d. Zero keeps tabs until closed.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Storefront) { s.idleTimeout = d }
}

func NewStorefront(backend storage.Backend, orders cart.OrderSubmitter, log *zap.Logger, opts ...Option) *Storefront {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Storefront{
		backend:  backend,
		orders:   orders,
		log:      log,
		now:      time.Now,
		contexts: make(map[string]*BrowsingContext),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Context returns the tab, opening and loading it on first use.
func (s *Storefront) Context(ctx context.Context, shopperID, contextID string) (*BrowsingContext, error) {
	if shopperID == "" || contextID == "" {
		return nil, ErrInvalidContext
	}
	key := contextKey(shopperID, contextID)

	s.mu.RLock()
	bc, ok := s.contexts[key]
	s.mu.RUnlock()
	if ok {
		bc.touch(s.now())
		return bc, nil
	}

	v, err, _ := s.sfg.Do(key, func() (interface{}, error) {
		s.mu.RLock()
		bc, ok := s.contexts[key]
		s.mu.RUnlock()
		if ok {
			return bc, nil
		}

		// the tab outlives the request that opened it
		bc, err := s.open(context.WithoutCancel(ctx), shopperID, contextID)
		if err != nil {
			return nil, err
		}

		bc.touch(s.now())
		s.mu.Lock()
		s.contexts[key] = bc
		s.mu.Unlock()
		return bc, nil
	})
	if err != nil {
		return nil, err
	}
	bc = v.(*BrowsingContext)
	bc.touch(s.now())
	return bc, nil
}

func (s *Storefront) open(ctx context.Context, shopperID, contextID string) (*BrowsingContext, error) {
	log := logger.FromContext(ctx, s.log).With(
		zap.String("shopper_id", shopperID),
		zap.String("context_id", contextID))

	origin := s.backend.Origin(shopperID)
	store := cart.New(origin, s.orders, cart.WithID(contextID), cart.WithLogger(s.log))
	if err := store.Load(ctx); err != nil {
		return nil, fmt.Errorf("open context: %w", err)
	}

	notifier := badge.New(origin, s.log)
	if _, err := notifier.Refresh(ctx); err != nil {
		log.Warn("initial badge refresh failed", zap.Error(err))
	}
	unbind := notifier.Bind(store)

	watchCtx, stop := context.WithCancel(context.Background())
	if err := store.Watch(watchCtx); err != nil {
		unbind()
		stop()
		return nil, fmt.Errorf("open context: %w", err)
	}

	log.Info("browsing context opened", zap.Int("items", store.Len()))
	return &BrowsingContext{
		ID:        contextID,
		ShopperID: shopperID,
		Cart:      store,
		Session:   session.New(s.backend.Origin(sessionOrigin(shopperID, contextID)), origin, contextID),
		Badge:     notifier,
		stop:      stop,
		unbind:    unbind,
	}, nil
}

// CloseContext stops watching for the tab and forgets it. It reports whether
// the tab was open.
func (s *Storefront) CloseContext(shopperID, contextID string) bool {
	key := contextKey(shopperID, contextID)

	s.mu.Lock()
	bc, ok := s.contexts[key]
	delete(s.contexts, key)
	s.mu.Unlock()

	if ok {
		bc.close()
		s.log.Info("browsing context closed",
			zap.String("shopper_id", shopperID),
			zap.String("context_id", contextID))
	}
	return ok
}

// RemoveCart drops the shopper's persisted cart on behalf of source. Open
// tabs are told through the change feed.
func (s *Storefront) RemoveCart(ctx context.Context, shopperID, source string) error {
	if shopperID == "" {
		return ErrInvalidContext
	}
	origin := s.backend.Origin(shopperID)
	if err := origin.Remove(storage.WithSource(ctx, source), domain.CartKey); err != nil {
		return fmt.Errorf("remove cart of %s: %w", shopperID, err)
	}
	return nil
}

// CloseIdle closes the tabs not used for longer than the idle timeout and
// returns how many it closed.
func (s *Storefront) CloseIdle() int {
	if s.idleTimeout <= 0 {
		return 0
	}
	now := s.now()

	var idle []*BrowsingContext
	s.mu.Lock()
	for key, bc := range s.contexts {
		if bc.idleSince(now) > s.idleTimeout {
			idle = append(idle, bc)
			delete(s.contexts, key)
		}
	}
	s.mu.Unlock()

	for _, bc := range idle {
		bc.close()
	}
	if len(idle) > 0 {
		s.log.Info("idle browsing contexts closed", zap.Int("closed", len(idle)))
	}
	return len(idle)
}

// Run closes idle tabs periodically until ctx is done.
func (s *Storefront) Run(ctx context.Context) {
	if s.idleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(max(s.idleTimeout/2, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.CloseIdle()
		case <-ctx.Done():
			return
		}
	}
}

// Open reports how many tabs are open.
func (s *Storefront) Open() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contexts)
}

// Close shuts every open tab.
func (s *Storefront) Close() {
	s.mu.Lock()
	contexts := s.contexts
	s.contexts = make(map[string]*BrowsingContext)
	s.mu.Unlock()

	for _, bc := range contexts {
		bc.close()
	}
}

func contextKey(shopperID, contextID string) string {
	return shopperID + "/" + contextID
}

func sessionOrigin(shopperID, contextID string) string {
	return "session:" + shopperID + ":" + contextID
}
