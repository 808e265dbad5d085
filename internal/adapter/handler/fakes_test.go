package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/storefront/internal/adapter/gateway"
	"github.com/rl1809/storefront/internal/adapter/messaging"
	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/core/service"
)

type inventoryProduct struct {
	ID       int    `json:"id"`
	Name     string `json:"nombre"`
	Category string `json:"categoria"`
	Price    int    `json:"precio"`
	Stock    int    `json:"stock"`
}

// fakeInventory is an in-process inventory and payment backend speaking the
// wire format of the real one.
type fakeInventory struct {
	mu       sync.Mutex
	products map[int]*inventoryProduct
	order    []int
	statuses map[string]string
	tokens   int
	releases int
}

func newFakeInventory(products ...inventoryProduct) *fakeInventory {
	inv := &fakeInventory{
		products: make(map[int]*inventoryProduct),
		statuses: make(map[string]string),
	}
	for i := range products {
		p := products[i]
		inv.products[p.ID] = &p
		inv.order = append(inv.order, p.ID)
	}
	return inv
}

func (inv *fakeInventory) stock(id int) int {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.products[id].Stock
}

func (inv *fakeInventory) setStatus(token, status string) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.statuses[token] = status
}

func (inv *fakeInventory) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	switch r.URL.Path {
	case "/productos":
		out := make([]inventoryProduct, 0, len(inv.order))
		for _, id := range inv.order {
			out = append(out, *inv.products[id])
		}
		json.NewEncoder(w).Encode(out)

	case "/agregar-carrito":
		var req struct {
			ID       int `json:"id"`
			Quantity int `json:"cantidad"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		p, ok := inv.products[req.ID]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"error":"Producto no encontrado"}`)
			return
		}
		if p.Stock < req.Quantity {
			w.WriteHeader(http.StatusConflict)
			io.WriteString(w, `{"error":"Sin stock suficiente"}`)
			return
		}
		p.Stock -= req.Quantity
		fmt.Fprintf(w, `{"stock":%d}`, p.Stock)

	case "/liberar-reservas":
		var req struct {
			Items []struct {
				ID       int `json:"id"`
				Quantity int `json:"cantidad"`
			} `json:"items"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		for _, it := range req.Items {
			if p, ok := inv.products[it.ID]; ok {
				p.Stock += it.Quantity
			}
		}
		inv.releases++
		io.WriteString(w, `{"ok":true}`)

	case "/create-transaction":
		inv.tokens++
		token := fmt.Sprintf("tok-%d", inv.tokens)
		if _, ok := inv.statuses[token]; !ok {
			inv.statuses[token] = "AUTHORIZED"
		}
		fmt.Fprintf(w, `{"token":%q,"url":"https://webpay.example/init"}`, token)

	case "/commit":
		token := r.URL.Query().Get("token_ws")
		status, ok := inv.statuses[token]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprintf(w, `{"status":%q,"buy_order":"O-%s","amount":1000,"response_code":0,"authorization_code":"1213"}`, status, token)

	default:
		http.NotFound(w, r)
	}
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.Out = io.Discard
	return log
}

func newTestSessions(t *testing.T, inv *fakeInventory) *service.Sessions {
	t.Helper()
	backend := httptest.NewServer(inv)
	t.Cleanup(backend.Close)

	gw := gateway.NewHTTPGateway(gateway.Config{
		BaseURL:     backend.URL,
		Timeout:     2 * time.Second,
		BaseBackoff: time.Millisecond,
	})
	log := quietLogger()
	return service.NewSessions(
		gw,
		storage.NewMemorySnapshotStore(),
		storage.NewMemoryCheckoutLog(),
		messaging.NewLogPublisher(log),
		service.SessionConfig{FailurePolicy: service.ReleaseOnFailure},
		log,
	)
}

func defaultProducts() []inventoryProduct {
	return []inventoryProduct{
		{ID: 1, Name: "Mouse", Category: "perifericos", Price: 12990, Stock: 1},
		{ID: 2, Name: "Teclado", Category: "perifericos", Price: 19990, Stock: 5},
		{ID: 3, Name: "Monitor", Category: "pantallas", Price: 99990, Stock: 2},
	}
}
