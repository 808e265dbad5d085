package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

const DefaultPageSize = 4

type CatalogQuery struct {
	Category string
	Search   string
	Sort     domain.SortOrder
	Page     int
	PageSize int
}

type Page struct {
	Items      []domain.Product
	Total      int
	Page       int
	TotalPages int
	// From and To are the 1-based positions of the first and last item shown, 0 when empty.
	From int
	To   int
}

// CatalogCache holds the last product list fetched from the gateway.
type CatalogCache struct {
	gateway port.ReservationGateway

	mu       sync.RWMutex
	products []domain.Product
	index    map[string]int
	lastErr  error
}

func NewCatalogCache(gateway port.ReservationGateway) *CatalogCache {
	return &CatalogCache{
		gateway: gateway,
		index:   make(map[string]int),
	}
}

// Refresh replaces the cached list. On failure the previous list is kept.
func (c *CatalogCache) Refresh(ctx context.Context) error {
	products, err := c.gateway.ListProducts(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %w", domain.ErrCatalogUnavailable, err)
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
		return err
	}

	list := make([]domain.Product, len(products))
	index := make(map[string]int, len(products))
	for i, p := range products {
		list[i] = p.Normalize()
		index[p.ID] = i
	}

	c.mu.Lock()
	c.products = list
	c.index = index
	c.lastErr = nil
	c.mu.Unlock()

	return nil
}

// Stale reports the error of the last failed refresh, nil once a refresh succeeds.
func (c *CatalogCache) Stale() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// SetStock overwrites a product's stock with the server's value.
func (c *CatalogCache) SetStock(productID string, stock int) {
	if stock < 0 {
		stock = 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if i, ok := c.index[productID]; ok {
		c.products[i].Stock = stock
	}
}

func (c *CatalogCache) Product(productID string) (domain.Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i, ok := c.index[productID]
	if !ok {
		return domain.Product{}, false
	}
	return c.products[i], true
}

func (c *CatalogCache) Products() []domain.Product {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.Product, len(c.products))
	copy(out, c.products)
	return out
}

// Categories lists the distinct categories in the cache, sorted.
func (c *CatalogCache) Categories() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for _, p := range c.products {
		if _, ok := seen[p.Category]; ok {
			continue
		}
		seen[p.Category] = struct{}{}
		out = append(out, p.Category)
	}
	sort.Strings(out)
	return out
}

func (c *CatalogCache) Query(q CatalogQuery) Page {
	return Paginate(Filter(c.Products(), q), q.Page, q.PageSize)
}

// Filter applies the category, search and sort parts of q.
func Filter(products []domain.Product, q CatalogQuery) []domain.Product {
	out := make([]domain.Product, 0, len(products))
	needle := strings.ToLower(q.Search)
	search := strings.TrimSpace(q.Search) != ""

	for _, p := range products {
		if q.Category != "" && q.Category != domain.CategoryAll && p.Category != q.Category {
			continue
		}
		if search && !strings.Contains(strings.ToLower(p.Name), needle) {
			continue
		}
		out = append(out, p)
	}

	switch q.Sort {
	case domain.SortPriceAsc:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Price.LessThan(out[j].Price) })
	case domain.SortPriceDesc:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Price.GreaterThan(out[j].Price) })
	}

	return out
}

func Paginate(products []domain.Product, page, pageSize int) Page {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	total := len(products)
	totalPages := (total + pageSize - 1) / pageSize
	if totalPages < 1 {
		totalPages = 1
	}
	if page > totalPages {
		page = totalPages
	}
	if page < 1 {
		page = 1
	}

	start := (page - 1) * pageSize
	end := start + pageSize
	if end > total {
		end = total
	}

	p := Page{
		Items:      products[start:end],
		Total:      total,
		Page:       page,
		TotalPages: totalPages,
	}
	if total > 0 {
		p.From = start + 1
		p.To = end
	}
	return p
}
