package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract checks the behaviour every backend shares.
func runStoreContract(t *testing.T, backend Backend) {
	t.Run("GetMissing", func(t *testing.T) {
		s := backend.Origin("contract-missing")
		_, err := s.Get(context.Background(), "carrito")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("SetGetRemove", func(t *testing.T) {
		ctx := context.Background()
		s := backend.Origin("contract-crud")

		require.NoError(t, s.Set(ctx, "carrito", `[{"nombre":"a","precio":1}]`))
		value, err := s.Get(ctx, "carrito")
		require.NoError(t, err)
		assert.Equal(t, `[{"nombre":"a","precio":1}]`, value)

		require.NoError(t, s.Set(ctx, "carrito", "[]"))
		value, err = s.Get(ctx, "carrito")
		require.NoError(t, err)
		assert.Equal(t, "[]", value)

		require.NoError(t, s.Remove(ctx, "carrito"))
		_, err = s.Get(ctx, "carrito")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("RemoveMissing", func(t *testing.T) {
		s := backend.Origin("contract-remove-missing")
		assert.NoError(t, s.Remove(context.Background(), "nothing"))
	})

	t.Run("OriginsAreIsolated", func(t *testing.T) {
		ctx := context.Background()
		a := backend.Origin("contract-a")
		b := backend.Origin("contract-b")

		require.NoError(t, a.Set(ctx, "carrito", "[]"))
		_, err := b.Get(ctx, "carrito")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("WatchReportsKeyAndSource", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		s := backend.Origin("contract-watch")

		changes, err := s.Watch(ctx)
		require.NoError(t, err)

		writer := backend.Origin("contract-watch")
		require.NoError(t, writer.Set(WithSource(ctx, "tab-a"), "carrito", "[]"))

		select {
		case change := <-changes:
			assert.Equal(t, Change{Key: "carrito", Source: "tab-a"}, change)
		case <-time.After(10 * time.Second):
			t.Fatal("no change delivered")
		}

		require.NoError(t, writer.Remove(WithSource(ctx, "tab-b"), "carrito"))
		select {
		case change := <-changes:
			assert.Equal(t, Change{Key: "carrito", Source: "tab-b"}, change)
		case <-time.After(10 * time.Second):
			t.Fatal("no change delivered for remove")
		}
	})

	t.Run("WatchClosesWithContext", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		s := backend.Origin("contract-watch-close")

		changes, err := s.Watch(ctx)
		require.NoError(t, err)
		cancel()

		require.Eventually(t, func() bool {
			select {
			case _, ok := <-changes:
				return !ok
			default:
				return false
			}
		}, 10*time.Second, 10*time.Millisecond)
	})

	t.Run("OtherOriginChangesNotDelivered", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		changes, err := backend.Origin("contract-quiet").Watch(ctx)
		require.NoError(t, err)

		require.NoError(t, backend.Origin("contract-noisy").Set(ctx, "carrito", "[]"))
		select {
		case change := <-changes:
			t.Fatalf("unexpected change %+v", change)
		case <-time.After(200 * time.Millisecond):
		}
	})
}
