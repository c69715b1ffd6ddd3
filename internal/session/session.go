package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/storage"
)

// Keys written after a successful login.
const (
	KeyLoggedIn = "isLoggedIn"
	KeyUsername = "username"
	KeyEmail    = "email"
	KeyUserID   = "userId"
	KeyUser     = "user"
)

const defaultUsername = "Usuario"

var ErrInvalidSession = errors.New("invalid session")

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type Session struct {
	LoggedIn bool
	UserID   *int64
	Username string
	Email    string
}

// DisplayName is the name shown in the navbar.
func (s Session) DisplayName() string {
	if s.Username == "" {
		return defaultUsername
	}
	return s.Username
}

// Store keeps the session of one browsing context. shared is the origin-wide
// store that holds the cart.
type Store struct {
	kv     storage.KV
	shared storage.KV
	source string
}

func New(kv, shared storage.KV, source string) *Store {
	return &Store{kv: kv, shared: shared, source: source}
}

func (s *Store) Save(ctx context.Context, u User) error {
	if u.Username == "" || u.Email == "" {
		return fmt.Errorf("%w: username and email are required", ErrInvalidSession)
	}

	user, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal user failed: %w", err)
	}

	values := []struct{ key, value string }{
		{KeyLoggedIn, "true"},
		{KeyUsername, u.Username},
		{KeyEmail, u.Email},
		{KeyUserID, strconv.FormatInt(u.ID, 10)},
		{KeyUser, string(user)},
	}
	for _, v := range values {
		if err := s.kv.Set(ctx, v.key, v.value); err != nil {
			return fmt.Errorf("save session key %s: %w", v.key, err)
		}
	}
	return nil
}

// Load reads the session. Missing keys leave their fields empty and an
// unparseable userId makes the session anonymous.
func (s *Store) Load(ctx context.Context) (Session, error) {
	var sess Session

	loggedIn, err := s.get(ctx, KeyLoggedIn)
	if err != nil {
		return Session{}, err
	}
	sess.LoggedIn = loggedIn == "true"

	if sess.Username, err = s.get(ctx, KeyUsername); err != nil {
		return Session{}, err
	}
	if sess.Email, err = s.get(ctx, KeyEmail); err != nil {
		return Session{}, err
	}

	rawID, err := s.get(ctx, KeyUserID)
	if err != nil {
		return Session{}, err
	}
	if id, err := strconv.ParseInt(rawID, 10, 64); err == nil {
		sess.UserID = &id
	}
	return sess, nil
}

// End logs the context out: the session keys go and so does the cart.
func (s *Store) End(ctx context.Context) error {
	var errs []error
	for _, key := range []string{KeyLoggedIn, KeyUsername, KeyEmail, KeyUserID, KeyUser} {
		if err := s.kv.Remove(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("remove session key %s: %w", key, err))
		}
	}
	if err := s.shared.Remove(storage.WithSource(ctx, s.source), domain.CartKey); err != nil {
		errs = append(errs, fmt.Errorf("remove cart: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Store) get(ctx context.Context, key string) (string, error) {
	value, err := s.kv.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read session key %s: %w", key, err)
	}
	return value, nil
}
