package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultMaxRetries  = 3
	defaultBaseBackoff = 100 * time.Millisecond
	maxErrorBody       = 4 << 10

	ClientIDHeader = "X-Client-ID"

	// NoRetries sends every read once.
	NoRetries = -1
)

// Paths are the inventory service endpoints, relative to BaseURL.
type Paths struct {
	Catalog           string `yaml:"catalog"`
	Reserve           string `yaml:"reserve"`
	Release           string `yaml:"release"`
	CreateTransaction string `yaml:"create_transaction"`
	CommitStatus      string `yaml:"commit_status"`
}

func DefaultPaths() Paths {
	return Paths{
		Catalog:           "/productos",
		Reserve:           "/agregar-carrito",
		Release:           "/liberar-reservas",
		CreateTransaction: "/create-transaction",
		CommitStatus:      "/commit",
	}
}

// Config for NewHTTPGateway. A zero MaxRetries selects the default; use
// NoRetries to turn retries off.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	MaxRetries  int
	BaseBackoff time.Duration
	Paths       Paths
}

// HTTPGateway talks to the inventory and payment backend over JSON/HTTP.
// Reads are retried with exponential backoff, mutating calls are sent once.
type HTTPGateway struct {
	baseURL     string
	client      *http.Client
	maxRetries  int
	baseBackoff time.Duration
	paths       Paths
}

var _ port.ReservationGateway = (*HTTPGateway)(nil)

func NewHTTPGateway(cfg Config) *HTTPGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = defaultBaseBackoff
	}
	cfg.Paths = withDefaults(cfg.Paths)

	return &HTTPGateway{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		maxRetries:  cfg.MaxRetries,
		baseBackoff: cfg.BaseBackoff,
		paths:       cfg.Paths,
	}
}

func withDefaults(p Paths) Paths {
	d := DefaultPaths()
	if p.Catalog == "" {
		p.Catalog = d.Catalog
	}
	if p.Reserve == "" {
		p.Reserve = d.Reserve
	}
	if p.Release == "" {
		p.Release = d.Release
	}
	if p.CreateTransaction == "" {
		p.CreateTransaction = d.CreateTransaction
	}
	if p.CommitStatus == "" {
		p.CommitStatus = d.CommitStatus
	}
	return p
}

func (g *HTTPGateway) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var resp *http.Response
	err := g.retry(ctx, func() (err error) {
		resp, err = g.do(ctx, http.MethodGet, g.paths.Catalog, nil)
		if err != nil {
			return err
		}
		if retryableStatus(resp.StatusCode) {
			reason := readReason(resp)
			return &domain.GatewayError{Kind: domain.ErrGatewayUnavailable, Reason: reason, StatusCode: resp.StatusCode}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.GatewayError{Kind: domain.ErrGatewayUnavailable, Reason: readReason(resp), StatusCode: resp.StatusCode}
	}

	var wire []wireProduct
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, errors.Wrap(unavailable(err), "decode catalog")
	}

	products := make([]domain.Product, 0, len(wire))
	for _, p := range wire {
		products = append(products, p.toDomain())
	}
	return products, nil
}

func (g *HTTPGateway) Reserve(ctx context.Context, productID string, quantity int) (int, error) {
	body := wireItem{ID: wireID(productID), Quantity: quantity}
	resp, err := g.do(ctx, http.MethodPost, g.paths.Reserve, body)
	if err != nil {
		return 0, errors.Wrapf(err, "reserve %s", productID)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var out reserveResponse
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 && out.Error == "" {
		if out.Stock == nil {
			return -1, nil
		}
		return *out.Stock, nil
	}

	reason := out.Error
	if reason == "" {
		reason = strings.TrimSpace(string(raw))
	}
	gerr := &domain.GatewayError{Reason: reason, StatusCode: resp.StatusCode}
	switch resp.StatusCode {
	case http.StatusNotFound:
		gerr.Kind = domain.ErrUnknownProduct
	case http.StatusConflict, http.StatusGone:
		gerr.Kind = domain.ErrInsufficientStock
	default:
		gerr.Kind = domain.ErrReservationRejected
	}
	return 0, gerr
}

func (g *HTTPGateway) Release(ctx context.Context, items []domain.Item) error {
	resp, err := g.do(ctx, http.MethodPost, g.paths.Release, itemsRequest{Items: toWireItems(items)})
	if err != nil {
		return errors.Wrap(err, "release reservations")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &domain.GatewayError{Kind: domain.ErrReservationRejected, Reason: readReason(resp), StatusCode: resp.StatusCode}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (g *HTTPGateway) CreateTransaction(ctx context.Context, items []domain.Item) (domain.TransactionIntent, error) {
	resp, err := g.do(ctx, http.MethodPost, g.paths.CreateTransaction, itemsRequest{Items: toWireItems(items)})
	if err != nil {
		return domain.TransactionIntent{}, errors.Wrap(err, "create transaction")
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var out transactionResponse
	if err := json.Unmarshal(raw, &out); err != nil && resp.StatusCode < 300 {
		return domain.TransactionIntent{}, &domain.GatewayError{
			Kind:       domain.ErrTransactionCreationFailed,
			Reason:     "malformed response",
			StatusCode: resp.StatusCode,
		}
	}

	if resp.StatusCode >= 300 || out.Error != "" || out.Token == "" || out.URL == "" {
		reason := out.Error
		if reason == "" && resp.StatusCode >= 300 {
			reason = strings.TrimSpace(string(raw))
		}
		if reason == "" {
			reason = "no transaction in response"
		}
		return domain.TransactionIntent{}, &domain.GatewayError{
			Kind:       domain.ErrTransactionCreationFailed,
			Reason:     reason,
			StatusCode: resp.StatusCode,
		}
	}

	return domain.TransactionIntent{
		Items:       append([]domain.Item(nil), items...),
		Token:       out.Token,
		RedirectURL: out.URL,
	}, nil
}

func (g *HTTPGateway) CommitStatus(ctx context.Context, token string) (domain.CommitStatus, error) {
	path := g.paths.CommitStatus + "?" + url.Values{domain.TokenField: {token}}.Encode()

	var resp *http.Response
	err := g.retry(ctx, func() (err error) {
		resp, err = g.do(ctx, http.MethodGet, path, nil)
		if err != nil {
			return err
		}
		if retryableStatus(resp.StatusCode) {
			reason := readReason(resp)
			return &domain.GatewayError{Kind: domain.ErrGatewayUnavailable, Reason: reason, StatusCode: resp.StatusCode}
		}
		return nil
	})
	if err != nil {
		return domain.CommitStatus{}, errors.Wrap(err, "commit status")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.CommitStatus{}, &domain.GatewayError{Kind: domain.ErrGatewayUnavailable, Reason: readReason(resp), StatusCode: resp.StatusCode}
	}

	var out commitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.CommitStatus{}, errors.Wrap(unavailable(err), "decode commit status")
	}
	return out.toDomain(), nil
}

func (g *HTTPGateway) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "encode request")
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := port.ClientIDFromContext(ctx); id != "" {
		req.Header.Set(ClientIDHeader, id)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, unavailable(err)
	}
	return resp, nil
}

// retry runs fn until it succeeds, the context ends, or the error is not
// retryable. Only transport failures, 429 and 5xx are retried.
func (g *HTTPGateway) retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !retryable(err) || attempt >= g.maxRetries {
			return err
		}

		select {
		case <-ctx.Done():
			return err
		case <-time.After(g.backoff(attempt)):
		}
	}
}

func (g *HTTPGateway) backoff(attempt int) time.Duration {
	exp := g.baseBackoff * time.Duration(1<<attempt)
	jitter := time.Duration(rand.Int63n(int64(exp/2) + 1))
	return exp + jitter
}

func retryable(err error) bool {
	var gerr *domain.GatewayError
	if !errors.As(err, &gerr) {
		return false
	}
	return gerr.Kind == domain.ErrGatewayUnavailable && (gerr.StatusCode == 0 || retryableStatus(gerr.StatusCode))
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func unavailable(err error) error {
	return &domain.GatewayError{Kind: domain.ErrGatewayUnavailable, Reason: err.Error()}
}

// readReason drains resp and returns the server's error text.
func readReason(resp *http.Response) string {
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var e errorResponse
	if json.Unmarshal(raw, &e) == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Message != "" {
			return e.Message
		}
	}
	if s := strings.TrimSpace(string(raw)); s != "" {
		return s
	}
	return fmt.Sprintf("status %d", resp.StatusCode)
}
