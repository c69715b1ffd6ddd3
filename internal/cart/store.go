package cart

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/fjod/go_cart/storefront/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// OrderSubmitter sends an order to the orders API exactly once.
type OrderSubmitter interface {
	CreateOrder(ctx context.Context, order domain.OrderRequest) (*domain.OrderConfirmation, error)
}

// Store is the cart of one browsing context.
type Store struct {
	id     string
	kv     storage.Store
	orders OrderSubmitter
	log    *zap.Logger

	mu          sync.Mutex
	items       []domain.LineItem
	checkingOut bool

	subs subscribers
	sfg  singleflight.Group
}

type Option func(*Store)

// WithID sets the identity stamped on this store's writes.
func WithID(id string) Option {
	return func(s *Store) { s.id = id }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = l }
}

func New(kv storage.Store, orders OrderSubmitter, opts ...Option) *Store {
	s := &Store{
		id:     uuid.NewString(),
		kv:     kv,
		orders: orders,
		log:    zap.NewNop(),
		items:  []domain.LineItem{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(zap.String("context_id", s.id))
	return s
}

func (s *Store) ID() string {
	return s.id
}

// Load replaces the in-memory cart with the persisted one. Anything that does
// not decode as a cart is an empty cart.
func (s *Store) Load(ctx context.Context) error {
	raw, err := s.kv.Get(ctx, domain.CartKey)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.items = []domain.LineItem{}
		return nil
	case err != nil:
		s.items = []domain.LineItem{}
		return fmt.Errorf("%w: load: %w", ErrNotPersisted, err)
	}

	items, err := domain.DecodeItems(raw)
	if err != nil {
		logger.FromContext(ctx, s.log).Warn("discarding malformed cart", zap.Error(err))
		items = []domain.LineItem{}
	}
	s.items = items
	return nil
}

func (s *Store) Add(ctx context.Context, name string, unitPrice float64) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidItem)
	}
	if math.IsNaN(unitPrice) || math.IsInf(unitPrice, 0) {
		return fmt.Errorf("%w: price %v", ErrInvalidItem, unitPrice)
	}

	s.mu.Lock()
	if s.checkingOut {
		s.mu.Unlock()
		return ErrCheckoutInProgress
	}
	s.items = append(s.items, domain.LineItem{Name: name, UnitPrice: unitPrice})
	err := s.persist(ctx)
	s.mu.Unlock()

	s.changed()
	return err
}

// RemoveAt drops the item at index. An index outside the cart is ignored but
// the cart is still persisted and the change signalled.
func (s *Store) RemoveAt(ctx context.Context, index int) error {
	s.mu.Lock()
	if s.checkingOut {
		s.mu.Unlock()
		return ErrCheckoutInProgress
	}
	if index >= 0 && index < len(s.items) {
		s.items = slices.Delete(s.items, index, index+1)
	}
	err := s.persist(ctx)
	s.mu.Unlock()

	s.changed()
	return err
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	if s.checkingOut {
		s.mu.Unlock()
		return ErrCheckoutInProgress
	}
	err := s.reset(ctx)
	s.mu.Unlock()

	s.changed()
	return err
}

func (s *Store) Total() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Cart{Items: s.items}.Total()
}

func (s *Store) Items() []domain.LineItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.items)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Checkout submits the current cart once and empties it on success. Calls
// made while a submission is running share its result. A caller whose ctx
// ends stops waiting, but the submission it started runs on, bounded by the
// order client's own timeout, so joined callers still get the outcome.
func (s *Store) Checkout(ctx context.Context, userID *int64) (*domain.OrderConfirmation, error) {
	shareCtx := context.WithoutCancel(ctx)
	ch := s.sfg.DoChan("checkout", func() (interface{}, error) {
		return s.checkout(shareCtx, userID)
	})

	select {
	case res := <-ch:
		if res.Shared {
			s.log.Debug("joined in-flight checkout")
		}
		conf, _ := res.Val.(*domain.OrderConfirmation)
		return conf, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Store) checkout(ctx context.Context, userID *int64) (*domain.OrderConfirmation, error) {
	log := logger.FromContext(ctx, s.log)

	s.mu.Lock()
	if len(s.items) == 0 {
		s.mu.Unlock()
		return nil, ErrEmptyCart
	}
	order := domain.OrderRequest{
		Items:  slices.Clone(s.items),
		Total:  domain.Cart{Items: s.items}.Total(),
		UserID: userID,
	}
	s.checkingOut = true
	s.mu.Unlock()

	conf, err := s.orders.CreateOrder(ctx, order)

	s.mu.Lock()
	s.checkingOut = false
	if err != nil {
		s.mu.Unlock()
		log.Info("checkout failed, cart kept", zap.Int("items", len(order.Items)), zap.Error(err))
		return nil, err
	}
	persistErr := s.reset(ctx)
	s.mu.Unlock()

	s.changed()
	if persistErr != nil {
		log.Error("order placed but cart not cleared from storage", zap.Error(persistErr))
		return conf, persistErr
	}
	return conf, nil
}

// Subscribe registers fn for every change of this cart, local or remote.
func (s *Store) Subscribe(fn func(Event)) (cancel func()) {
	return s.subs.add(fn)
}

// Watch forwards writes of the cart key made by other contexts to
// subscribers until ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	changes, err := s.kv.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch cart changes: %w", err)
	}

	go func() {
		for change := range changes {
			if change.Key != domain.CartKey || change.Source == s.id {
				continue
			}
			s.subs.publish(Event{Key: change.Key, Source: change.Source, Remote: true})
		}
	}()
	return nil
}

// persist writes the whole cart. Callers hold s.mu.
func (s *Store) persist(ctx context.Context) error {
	raw, err := domain.EncodeItems(s.items)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotPersisted, err)
	}
	if err := s.kv.Set(storage.WithSource(ctx, s.id), domain.CartKey, raw); err != nil {
		logger.FromContext(ctx, s.log).Warn("cart write failed", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrNotPersisted, err)
	}
	return nil
}

// reset empties the cart and drops the persisted key. Callers hold s.mu.
func (s *Store) reset(ctx context.Context) error {
	s.items = []domain.LineItem{}
	if err := s.kv.Remove(storage.WithSource(ctx, s.id), domain.CartKey); err != nil {
		logger.FromContext(ctx, s.log).Warn("cart remove failed", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrNotPersisted, err)
	}
	return nil
}

func (s *Store) changed() {
	s.subs.publish(Event{Key: domain.CartKey, Source: s.id})
}
