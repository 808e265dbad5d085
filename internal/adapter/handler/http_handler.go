package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	pkgerrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
)

// tbkAbortField is sent instead of token_ws when the shopper cancels on the payment form.
const tbkAbortField = "TBK_TOKEN"

type HTTPHandler struct {
	sessions *service.Sessions
	pageSize int
	log      logrus.FieldLogger
}

type productResponse struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	Image       string          `json:"image"`
	SoldOut     bool            `json:"sold_out"`
}

type catalogResponse struct {
	Items      []productResponse `json:"items"`
	Categories []string          `json:"categories"`
	Total      int               `json:"total"`
	Page       int               `json:"page"`
	TotalPages int               `json:"total_pages"`
	From       int               `json:"from"`
	To         int               `json:"to"`
	Stale      string            `json:"stale,omitempty"`
}

type cartLineResponse struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type cartResponse struct {
	Items []cartLineResponse `json:"items"`
	Count int                `json:"count"`
	Total decimal.Decimal    `json:"total"`
}

type ReserveHTTPRequest struct {
	ProductID string `json:"product_id"`
	Quantity  *int   `json:"quantity"`
}

type reserveResponse struct {
	Stock int          `json:"stock"`
	Cart  cartResponse `json:"cart"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func NewHTTPHandler(sessions *service.Sessions, pageSize int, log logrus.FieldLogger) *HTTPHandler {
	if pageSize <= 0 {
		pageSize = service.DefaultPageSize
	}
	return &HTTPHandler{sessions: sessions, pageSize: pageSize, log: log}
}

// Router registers the storefront routes.
func (h *HTTPHandler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/api/session", h.StartSession).Methods(http.MethodPost)
	r.HandleFunc("/api/catalog", h.Catalog).Methods(http.MethodGet)
	r.HandleFunc("/api/catalog/refresh", h.RefreshCatalog).Methods(http.MethodPost)
	r.HandleFunc("/api/cart", h.ViewCart).Methods(http.MethodGet)
	r.HandleFunc("/api/cart", h.EmptyCart).Methods(http.MethodDelete)
	r.HandleFunc("/api/cart/items", h.AddToCart).Methods(http.MethodPost)
	r.HandleFunc("/api/cart/items/{id}", h.RemoveFromCart).Methods(http.MethodDelete)
	r.HandleFunc("/checkout", h.Checkout).Methods(http.MethodPost)
	r.HandleFunc("/checkout/return", h.CheckoutReturn).Methods(http.MethodGet, http.MethodPost)
	return r
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StartSession runs the store page load: leftovers from an earlier visit are
// released and the catalog is fetched.
func (h *HTTPHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.Get(sessionID(r))
	sess.Checkout.Reset()

	if err := sess.Cart.Start(r.Context()); err != nil {
		h.writeError(w, r, pkgerrors.Wrap(err, "start session"))
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(sess.Cart.View()))
}

func (h *HTTPHandler) Catalog(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.Get(sessionID(r))

	q := r.URL.Query()
	query := service.CatalogQuery{
		Category: q.Get("category"),
		Search:   q.Get("q"),
		Sort:     domain.SortOrder(q.Get("sort")),
		Page:     atoiOr(q.Get("page"), 1),
		PageSize: atoiOr(q.Get("page_size"), h.pageSize),
	}
	if query.PageSize <= 0 {
		query.PageSize = h.pageSize
	}

	page := sess.Catalog.Query(query)
	resp := catalogResponse{
		Items:      toProductResponses(page.Items),
		Categories: sess.Catalog.Categories(),
		Total:      page.Total,
		Page:       page.Page,
		TotalPages: page.TotalPages,
		From:       page.From,
		To:         page.To,
	}
	if err := sess.Catalog.Stale(); err != nil {
		resp.Stale = messageFor(err)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) RefreshCatalog(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.Get(sessionID(r))

	if err := sess.Catalog.Refresh(r.Context()); err != nil {
		h.writeError(w, r, pkgerrors.Wrap(err, "refresh catalog"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"products": len(sess.Catalog.Products())})
}

func (h *HTTPHandler) ViewCart(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.Get(sessionID(r))
	writeJSON(w, http.StatusOK, toCartResponse(sess.Cart.View()))
}

func (h *HTTPHandler) AddToCart(w http.ResponseWriter, r *http.Request) {
	var req ReserveHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if strings.TrimSpace(req.ProductID) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing required fields"})
		return
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	sess := h.sessions.Get(sessionID(r))
	stock, err := sess.Cart.Reserve(r.Context(), req.ProductID, quantity)
	if err != nil {
		h.writeError(w, r, pkgerrors.Wrapf(err, "reserve %s", req.ProductID))
		return
	}
	if stock < 0 {
		if p, ok := sess.Catalog.Product(req.ProductID); ok {
			stock = p.Stock
		}
	}
	writeJSON(w, http.StatusOK, reserveResponse{Stock: stock, Cart: toCartResponse(sess.Cart.View())})
}

// RemoveFromCart releases quantity units, or the whole entry when no quantity is given.
func (h *HTTPHandler) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	productID := mux.Vars(r)["id"]
	sess := h.sessions.Get(sessionID(r))

	var err error
	if raw := r.URL.Query().Get("quantity"); raw != "" {
		quantity, convErr := strconv.Atoi(raw)
		if convErr != nil {
			h.writeError(w, r, domain.ErrInvalidQuantity)
			return
		}
		err = sess.Cart.Release(r.Context(), productID, quantity)
	} else {
		err = sess.Cart.Remove(r.Context(), productID)
	}
	if err != nil {
		h.writeError(w, r, pkgerrors.Wrapf(err, "release %s", productID))
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(sess.Cart.View()))
}

func (h *HTTPHandler) EmptyCart(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.Get(sessionID(r))
	if err := sess.Cart.ReleaseAll(r.Context()); err != nil {
		h.writeError(w, r, pkgerrors.Wrap(err, "empty cart"))
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(sess.Cart.View()))
}

// Checkout opens a payment and answers with a page that posts the shopper to the payment form.
func (h *HTTPHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.Get(sessionID(r))

	intent, err := sess.Checkout.Pay(r.Context())
	if err != nil {
		h.writeError(w, r, pkgerrors.Wrap(err, "checkout"))
		return
	}
	h.sessions.BindToken(intent.Token, sess.ID)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if err := templates.ExecuteTemplate(w, "redirect", redirectData{
		Action: intent.RedirectURL,
		Field:  domain.TokenField,
		Token:  intent.Token,
	}); err != nil {
		requestLogger(r, h.log).WithError(err).Error("render redirect form")
	}
}

// CheckoutReturn is the return page of the payment leg.
func (h *HTTPHandler) CheckoutReturn(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	params := domain.ReturnParams{
		Status: r.Form.Get("status"),
		Order:  r.Form.Get("order"),
		Token:  r.Form.Get(domain.TokenField),
	}
	// A cancel on the payment form comes back with the same token as TBK_TOKEN.
	lookup := params.Token
	if abortToken := r.Form.Get(tbkAbortField); params.Token == "" && abortToken != "" {
		lookup = abortToken
		if params.Status == "" {
			params.Status = domain.StatusAborted
		}
	}

	sess := h.sessions.ForToken(lookup, sessionID(r))
	if sess == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing session"})
		return
	}
	if sess.ID != sessionID(r) {
		// the browser came back without its cookie and was handed a new one
		setSessionCookie(w, sess.ID)
	}
	outcome := sess.Checkout.Confirm(r.Context(), params)

	requestLogger(r, h.log).WithFields(logrus.Fields{
		"session": sess.ID,
		"outcome": outcome.Kind,
	}).Info("checkout return")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if err := templates.ExecuteTemplate(w, "outcome", outcomeData{
		Kind:    string(outcome.Kind),
		Heading: outcome.Heading(),
		Message: outcome.Message(),
		Details: outcome.Details(),
		Retry:   outcome.Kind == domain.OutcomeTransportError,
		Token:   outcome.Token,
		Field:   domain.TokenField,
	}); err != nil {
		requestLogger(r, h.log).WithError(err).Error("render outcome page")
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	log := requestLogger(r, h.log).WithError(err)
	if status >= http.StatusInternalServerError {
		log.Warn("request failed")
	} else {
		log.Info("request refused")
	}

	resp := errorResponse{Error: messageFor(err)}
	var gerr *domain.GatewayError
	if errors.As(err, &gerr) && gerr.Reason != "" {
		resp.Reason = gerr.Reason
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrEmptyCart), errors.Is(err, domain.ErrInvalidQuantity):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotInCart), errors.Is(err, domain.ErrUnknownProduct):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientStock), errors.Is(err, domain.ErrCheckoutInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrReservationRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrTransactionCreationFailed):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrCatalogUnavailable), errors.Is(err, domain.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func messageFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrEmptyCart):
		return "your cart is empty"
	case errors.Is(err, domain.ErrInvalidQuantity):
		return "quantity must be a positive integer"
	case errors.Is(err, domain.ErrNotInCart):
		return "product is not in your cart"
	case errors.Is(err, domain.ErrUnknownProduct):
		return "product does not exist"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "not enough stock"
	case errors.Is(err, domain.ErrCheckoutInProgress):
		return "a payment is already being created"
	case errors.Is(err, domain.ErrReservationRejected):
		return "reservation was rejected"
	case errors.Is(err, domain.ErrTransactionCreationFailed):
		return "could not start the payment"
	case errors.Is(err, domain.ErrCatalogUnavailable):
		return "could not load products"
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return "reservation service unavailable"
	}
	return "internal error"
}

func toProductResponses(products []domain.Product) []productResponse {
	out := make([]productResponse, 0, len(products))
	for _, p := range products {
		out = append(out, productResponse{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Category:    p.Category,
			Price:       p.Price,
			Stock:       p.Stock,
			Image:       p.Image,
			SoldOut:     p.SoldOut(),
		})
	}
	return out
}

func toCartResponse(v domain.CartView) cartResponse {
	lines := make([]cartLineResponse, 0, len(v.Lines))
	for _, l := range v.Lines {
		lines = append(lines, cartLineResponse{
			ProductID: l.Product.ID,
			Name:      l.Product.Name,
			Price:     l.Product.Price,
			Quantity:  l.Quantity,
			Subtotal:  l.Subtotal,
		})
	}
	return cartResponse{Items: lines, Count: v.Count, Total: v.Total}
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
