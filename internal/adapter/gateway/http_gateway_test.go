package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

func newTestGateway(t *testing.T, h http.HandlerFunc) *HTTPGateway {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPGateway(Config{
		BaseURL:     srv.URL,
		Timeout:     2 * time.Second,
		MaxRetries:  2,
		BaseBackoff: time.Millisecond,
	})
}

func TestListProducts_DecodesWireFormat(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/productos", r.URL.Path)
		io.WriteString(w, `[
			{"id": 1, "nombre": "Mouse", "descripcion": "USB", "categoria": "perifericos", "precio": 12990, "stock": 4, "imagen": "img/mouse.png"},
			{"id": "sku-9", "nombre": "Teclado", "precio": "19990.50", "stock": 0}
		]`)
	})

	products, err := gw.ListProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 2)

	assert.Equal(t, "1", products[0].ID)
	assert.Equal(t, "Mouse", products[0].Name)
	assert.Equal(t, "perifericos", products[0].Category)
	assert.Equal(t, "12990", products[0].Price.String())
	assert.Equal(t, 4, products[0].Stock)

	assert.Equal(t, "sku-9", products[1].ID)
	assert.Equal(t, "19990.5", products[1].Price.String())
}

func TestListProducts_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, `[]`)
	})

	products, err := gw.ListProducts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, products)
	assert.Equal(t, int32(3), calls.Load())
}

func TestListProducts_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, `{"error": "upstream down"}`)
	})

	_, err := gw.ListProducts(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrGatewayUnavailable))
	assert.Equal(t, "upstream down", domain.Reason(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestListProducts_NoRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	gw := NewHTTPGateway(Config{BaseURL: srv.URL, MaxRetries: NoRetries, BaseBackoff: time.Millisecond})

	_, err := gw.ListProducts(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrGatewayUnavailable))
	assert.Equal(t, int32(1), calls.Load())
}

func TestListProducts_TransportFailure(t *testing.T) {
	gw := NewHTTPGateway(Config{BaseURL: "http://127.0.0.1:1", MaxRetries: NoRetries, Timeout: time.Second})

	_, err := gw.ListProducts(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrGatewayUnavailable))
}

func TestReserve_SendsItemAndClientID(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/agregar-carrito", r.URL.Path)
		assert.Equal(t, "client-7", r.Header.Get(ClientIDHeader))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(3), body["id"])
		assert.Equal(t, float64(1), body["cantidad"])

		io.WriteString(w, `{"stock": 5}`)
	})

	ctx := port.ContextWithClientID(context.Background(), "client-7")
	stock, err := gw.Reserve(ctx, "3", 1)
	require.NoError(t, err)
	assert.Equal(t, 5, stock)
}

func TestReserve_StringIDStaysString(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "007", body["id"])
		io.WriteString(w, `{"stock": 1}`)
	})

	_, err := gw.Reserve(context.Background(), "007", 1)
	require.NoError(t, err)
}

func TestReserve_MissingStockIsUnreported(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"ok": true}`)
	})

	stock, err := gw.Reserve(context.Background(), "1", 1)
	require.NoError(t, err)
	assert.Equal(t, -1, stock)
}

func TestReserve_MapsRefusals(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   error
		reason string
	}{
		{"unknown product", http.StatusNotFound, `{"error": "Producto no encontrado"}`, domain.ErrUnknownProduct, "Producto no encontrado"},
		{"no stock", http.StatusConflict, `{"error": "Sin stock"}`, domain.ErrInsufficientStock, "Sin stock"},
		{"gone", http.StatusGone, `{"error": "Agotado"}`, domain.ErrInsufficientStock, "Agotado"},
		{"other refusal", http.StatusBadRequest, `{"error": "cantidad invalida"}`, domain.ErrReservationRejected, "cantidad invalida"},
		{"error in ok body", http.StatusOK, `{"error": "reserva fallida"}`, domain.ErrReservationRejected, "reserva fallida"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})

			_, err := gw.Reserve(context.Background(), "1", 1)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)
			assert.Equal(t, tt.reason, domain.Reason(err))
		})
	}
}

func TestReserve_NeverRetried(t *testing.T) {
	var calls atomic.Int32
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := gw.Reserve(context.Background(), "1", 1)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRelease_SendsItemsInOrder(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/liberar-reservas", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"items":[{"id":2,"cantidad":1},{"id":1,"cantidad":3}]}`, string(raw))
		w.WriteHeader(http.StatusOK)
	})

	err := gw.Release(context.Background(), []domain.Item{
		{ProductID: "2", Quantity: 1},
		{ProductID: "1", Quantity: 3},
	})
	require.NoError(t, err)
}

func TestRelease_ServerError(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, "boom")
	})

	err := gw.Release(context.Background(), []domain.Item{{ProductID: "1", Quantity: 1}})
	require.Error(t, err)
	assert.Equal(t, "boom", domain.Reason(err))
}

func TestCreateTransaction(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/create-transaction", r.URL.Path)
		io.WriteString(w, `{"token": "tok-1", "url": "https://pay.example/init"}`)
	})

	items := []domain.Item{{ProductID: "1", Quantity: 2}}
	intent, err := gw.CreateTransaction(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", intent.Token)
	assert.Equal(t, "https://pay.example/init", intent.RedirectURL)
	assert.Equal(t, items, intent.Items)
}

func TestCreateTransaction_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		reason string
	}{
		{"error field", http.StatusOK, `{"error": "monto invalido"}`, "monto invalido"},
		{"missing token", http.StatusOK, `{"url": "https://pay.example/init"}`, "no transaction in response"},
		{"server error", http.StatusInternalServerError, `{"error": "transbank down"}`, "transbank down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})

			_, err := gw.CreateTransaction(context.Background(), []domain.Item{{ProductID: "1", Quantity: 1}})
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrTransactionCreationFailed))
			assert.Equal(t, tt.reason, domain.Reason(err))
		})
	}
}

func TestCommitStatus(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/commit", r.URL.Path)
		assert.Equal(t, "tok-1", r.URL.Query().Get(domain.TokenField))
		io.WriteString(w, `{
			"status": "AUTHORIZED",
			"buy_order": "O-55",
			"amount": 25980,
			"transaction_date": "2024-05-01T10:00:00Z",
			"response_code": 0,
			"authorization_code": "1213"
		}`)
	})

	cs, err := gw.CommitStatus(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "AUTHORIZED", cs.Status)
	assert.Equal(t, "O-55", cs.Order)
	assert.Equal(t, "25980", cs.Amount.String())
	assert.Equal(t, "0", cs.ResponseCode)
	assert.Equal(t, "1213", cs.AuthorizationCode)
}

func TestCommitStatus_RetriesThrottling(t *testing.T) {
	var calls atomic.Int32
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		io.WriteString(w, `{"status": "ABORTED"}`)
	})

	cs, err := gw.CommitStatus(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "ABORTED", cs.Status)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCommitStatus_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := gw.CommitStatus(context.Background(), "tok-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrGatewayUnavailable))
	assert.Equal(t, int32(1), calls.Load())
}

func TestWireID(t *testing.T) {
	tests := []struct {
		id   wireID
		want string
	}{
		{"12", `12`},
		{"007", `"007"`},
		{"abc", `"abc"`},
		{"-3", `-3`},
	}
	for _, tt := range tests {
		b, err := json.Marshal(tt.id)
		require.NoError(t, err)
		assert.Equal(t, tt.want, string(b))
	}
}
