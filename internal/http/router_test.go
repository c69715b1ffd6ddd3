package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront/internal/badge"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/orders"
	"github.com/fjod/go_cart/storefront/internal/service"
	"github.com/fjod/go_cart/storefront/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	handler    http.Handler
	storefront *service.Storefront
	backend    *storage.MemoryBackend
	orderCalls atomic.Int32
	lastOrder  atomic.Pointer[domain.OrderRequest]
	events     recordingEvents
}

type recordingEvents struct {
	mu    sync.Mutex
	ended []string
}

func (r *recordingEvents) SessionEnded(_ context.Context, shopperID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, shopperID)
	return nil
}

// newTestEnv runs the router against an in-memory backend and a fake orders
// API answering with status and body.
func newTestEnv(t *testing.T, status int, body string, opts ...service.Option) *testEnv {
	t.Helper()
	env := &testEnv{backend: storage.NewMemoryBackend()}

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.orderCalls.Add(1)
		var order domain.OrderRequest
		if err := json.NewDecoder(r.Body).Decode(&order); err == nil {
			env.lastOrder.Store(&order)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(api.Close)

	env.storefront = service.NewStorefront(env.backend, orders.NewClient(api.URL), nil, opts...)
	t.Cleanup(env.storefront.Close)
	env.handler = NewRouter(env.storefront, &env.events, 5*time.Second, nil)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, tab string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		if s, ok := body.(string); ok {
			reader = bytes.NewBufferString(s)
		} else {
			data, err := json.Marshal(body)
			require.NoError(t, err)
			reader = bytes.NewReader(data)
		}
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderShopperID, "shopper-1")
	if tab != "" {
		req.Header.Set(HeaderContextID, tab)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (e *testEnv) addItems(t *testing.T, tab string, items ...domain.LineItem) {
	t.Helper()
	for _, item := range items {
		w := e.do(t, http.MethodPost, "/api/v1/cart/items", tab, map[string]interface{}{
			"nombre": item.Name,
			"precio": item.UnitPrice,
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}
}

var (
	widget = domain.LineItem{Name: "Widget", UnitPrice: 10}
	gadget = domain.LineItem{Name: "Gadget", UnitPrice: 5.5}
)

const confirmation = `{"success":true,"message":"Compra realizada con éxito","order_id":12}`

func TestHealth(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, confirmation)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestMissingShopper(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, confirmation)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "missing_shopper", decode[ErrorResponse](t, w).Code)
}

func TestContextIDIsGeneratedAndEchoed(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, confirmation)

	w := env.do(t, http.MethodGet, "/api/v1/cart", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(HeaderContextID))

	w = env.do(t, http.MethodGet, "/api/v1/cart", "tab-1", nil)
	assert.Equal(t, "tab-1", w.Header().Get(HeaderContextID))
}

func TestGetCart_Empty(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, confirmation)

	w := env.do(t, http.MethodGet, "/api/v1/cart", "tab-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"items":[],"total":0,"count":0}`, w.Body.String())
}

func TestAddItem(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, confirmation)
	env.addItems(t, "tab-1", widget)

	w := env.do(t, http.MethodPost, "/api/v1/cart/items", "tab-1", map[string]interface{}{"nombre": "Gadget", "precio": 5.5})
	require.Equal(t, http.StatusCreated, w.Code)

	resp := decode[CartResponse](t, w)
	assert.Equal(t, []domain.LineItem{widget, gadget}, resp.Items)
	assert.Equal(t, 15.5, resp.Total)
	assert.Equal(t, 2, resp.Count)
	assert.Empty(t, resp.Warning)

	raw, err := env.backend.Origin("shopper-1").Get(context.Background(), domain.CartKey)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"nombre":"Widget","precio":10},{"nombre":"Gadget","precio":5.5}]`, raw)
}

func TestAddItem_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body interface{}
		code string
	}{
		{name: "invalid json", body: "{", code: "invalid_request"},
		{name: "missing precio", body: map[string]interface{}{"nombre": "Widget"}, code: "invalid_item"},
		{name: "missing nombre", body: map[string]interface{}{"precio": 1}, code: "invalid_item"},
		{name: "empty nombre", body: map[string]interface{}{"nombre": "", "precio": 1}, code: "invalid_item"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, http.StatusOK, confirmation)

			w := env.do(t, http.MethodPost, "/api/v1/cart/items", "tab-1", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.code, decode[ErrorResponse](t, w).Code)
		})
	}
}

func TestRemoveItem(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, confirmation)
	env.addItems(t, "tab-1", widget, gadget, widget)

	w := env.do(t, http.MethodDelete, "/api/v1/cart/items/1", "tab-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []domain.LineItem{widget, widget}, decode[CartResponse](t, w).Items)

	// out of range is ignored
	w = env.do(t, http.MethodDelete, "/api/v1/cart/items/9", "tab-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decode[CartResponse](t, w).Count)

	w = env.do(t, http.MethodDelete, "/api/v1/cart/items/-1", "tab-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decode[CartResponse](t, w).Count)

	w = env.do(t, http.MethodDelete, "/api/v1/cart/items/first", "tab-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_index", decode[ErrorResponse](t, w).Code)
}

func TestClearCart(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, confirmation)
	env.addItems(t, "tab-1", widget, gadget)

	w := env.do(t, http.MethodDelete, "/api/v1/cart", "tab-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[CartResponse](t, w).Count)

	_, err := env.backend.Origin("shopper-1").Get(context.Background(), domain.CartKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestReloadSeesOtherTab(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, confirmation)
	env.do(t, http.MethodGet, "/api/v1/cart", "tab-2", nil)
	env.addItems(t, "tab-1", widget)

	w := env.do(t, http.MethodGet, "/api/v1/cart", "tab-2", nil)
	assert.Equal(t, 0, decode[CartResponse](t, w).Count)

	w = env.do(t, http.MethodPost, "/api/v1/cart/reload", "tab-2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []domain.LineItem{widget}, decode[CartResponse](t, w).Items)
}

func TestBadge(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, confirmation)

	w := env.do(t, http.MethodGet, "/api/v1/cart/badge", "tab-2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, badge.State{}, decode[badge.State](t, w))

	env.addItems(t, "tab-1", widget, gadget)

	w = env.do(t, http.MethodGet, "/api/v1/cart/badge", "tab-2", nil)
	assert.Equal(t, badge.State{Count: 2, Visible: true}, decode[badge.State](t, w))
}

func TestCheckout_Success(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, confirmation)
	w := env.do(t, http.MethodPut, "/api/v1/session", "tab-1", map[string]interface{}{
		"user_id": 7, "username": "ana", "email": "ana@example.com",
	})
	require.Equal(t, http.StatusOK, w.Code)
	env.addItems(t, "tab-1", widget, gadget)

	w = env.do(t, http.MethodPost, "/api/v1/cart/checkout", "tab-1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[CheckoutResponse](t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, "Compra realizada con éxito", resp.Message)
	assert.Equal(t, int64(12), resp.OrderID)

	order := env.lastOrder.Load()
	require.NotNil(t, order)
	assert.Equal(t, []domain.LineItem{widget, gadget}, order.Items)
	assert.Equal(t, 15.5, order.Total)
	require.NotNil(t, order.UserID)
	assert.Equal(t, int64(7), *order.UserID)

	w = env.do(t, http.MethodGet, "/api/v1/cart", "tab-1", nil)
	assert.Equal(t, 0, decode[CartResponse](t, w).Count)
}

func TestCheckout_AnonymousSendsNullUser(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, confirmation)
	env.addItems(t, "tab-1", widget)

	w := env.do(t, http.MethodPost, "/api/v1/cart/checkout", "tab-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, env.lastOrder.Load().UserID)
}

func TestCheckout_EmptyCart(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, confirmation)

	w := env.do(t, http.MethodPost, "/api/v1/cart/checkout", "tab-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode[ErrorResponse](t, w)
	assert.Equal(t, "empty_cart", resp.Code)
	assert.Equal(t, "El carrito está vacío.", resp.Error)
	assert.Equal(t, int32(0), env.orderCalls.Load())
}

func TestCheckout_Rejected(t *testing.T) {
	env := newTestEnv(t, http.StatusBadRequest, `{"detail":"Stock insuficiente"}`)
	env.addItems(t, "tab-1", widget, gadget)

	w := env.do(t, http.MethodPost, "/api/v1/cart/checkout", "tab-1", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	resp := decode[ErrorResponse](t, w)
	assert.Equal(t, "order_rejected", resp.Code)
	assert.Equal(t, "Error al procesar la compra: Stock insuficiente", resp.Error)

	w = env.do(t, http.MethodGet, "/api/v1/cart", "tab-1", nil)
	assert.Equal(t, []domain.LineItem{widget, gadget}, decode[CartResponse](t, w).Items)
}

func TestCheckout_Unavailable(t *testing.T) {
	env := newTestEnv(t, http.StatusInternalServerError, `Internal Server Error`)
	env.addItems(t, "tab-1", widget)

	w := env.do(t, http.MethodPost, "/api/v1/cart/checkout", "tab-1", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	resp := decode[ErrorResponse](t, w)
	assert.Equal(t, "orders_unavailable", resp.Code)
	assert.Equal(t, "Error al conectar con el servidor. La compra no se pudo procesar.", resp.Error)
	assert.Equal(t, int32(1), env.orderCalls.Load())

	w = env.do(t, http.MethodGet, "/api/v1/cart", "tab-1", nil)
	assert.Equal(t, 1, decode[CartResponse](t, w).Count)
}

func TestSession_SaveGetEnd(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, confirmation)

	w := env.do(t, http.MethodGet, "/api/v1/session", "tab-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"logged_in":false,"user_id":null,"username":"Usuario"}`, w.Body.String())

	w = env.do(t, http.MethodPut, "/api/v1/session", "tab-1", map[string]interface{}{
		"user_id": 7, "username": "ana", "email": "ana@example.com",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"logged_in":true,"user_id":7,"username":"ana","email":"ana@example.com"}`, w.Body.String())

	env.addItems(t, "tab-1", widget)

	w = env.do(t, http.MethodDelete, "/api/v1/session", "tab-1", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"shopper-1"}, env.events.ended)

	w = env.do(t, http.MethodGet, "/api/v1/session", "tab-1", nil)
	assert.False(t, decode[SessionResponse](t, w).LoggedIn)

	w = env.do(t, http.MethodGet, "/api/v1/cart", "tab-1", nil)
	assert.Equal(t, 0, decode[CartResponse](t, w).Count)
}

func TestSession_SaveRequiresUser(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, confirmation)

	w := env.do(t, http.MethodPut, "/api/v1/session", "tab-1", map[string]interface{}{"user_id": 7})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_session", decode[ErrorResponse](t, w).Code)
}

func TestCloseContext(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, confirmation)
	env.do(t, http.MethodGet, "/api/v1/cart", "tab-1", nil)
	require.Equal(t, 1, env.storefront.Open())

	w := env.do(t, http.MethodDelete, "/api/v1/context", "tab-1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 0, env.storefront.Open())
}

func TestUntaggedRequestsDoNotPileUp(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, confirmation, service.WithIdleTimeout(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.storefront.Run(ctx)

	for i := 0; i < 100; i++ {
		w := env.do(t, http.MethodGet, "/api/v1/cart", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
	}

	assert.Eventually(t, func() bool {
		return env.storefront.Open() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
