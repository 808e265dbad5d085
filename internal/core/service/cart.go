package service

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

// Cart keeps the ledger in step with the reservations the gateway grants.
//
// Calls for the same product are queued behind each other so a release can
// never overtake a reserve still in flight. Calls for different products run
// concurrently. Whole-cart operations (ReleaseAll, Start, Checkout, Settle)
// wait for every per-product call to finish and block new ones meanwhile.
type Cart struct {
	clientID  string
	gateway   port.ReservationGateway
	catalog   *CatalogCache
	ledger    *Ledger
	snapshots port.SnapshotRepository
	log       logrus.FieldLogger

	gate    sync.RWMutex
	locksMu sync.Mutex
	locks   map[string]*productLock
}

type productLock struct {
	ch   chan struct{}
	refs int
}

func NewCart(
	clientID string,
	gateway port.ReservationGateway,
	catalog *CatalogCache,
	ledger *Ledger,
	snapshots port.SnapshotRepository,
	log logrus.FieldLogger,
) *Cart {
	return &Cart{
		clientID:  clientID,
		gateway:   gateway,
		catalog:   catalog,
		ledger:    ledger,
		snapshots: snapshots,
		log:       log.WithField("session", clientID),
		locks:     make(map[string]*productLock),
	}
}

// Reserve holds quantity more units of a product and returns the server's
// remaining stock. The ledger is untouched unless the gateway grants the units.
func (c *Cart) Reserve(ctx context.Context, productID string, quantity int) (int, error) {
	if quantity <= 0 {
		return 0, domain.ErrInvalidQuantity
	}

	unlock, err := c.lockProduct(ctx, productID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	ctx = c.detach(ctx)
	stock, err := c.gateway.Reserve(ctx, productID, quantity)
	if err != nil {
		c.log.WithField("product", productID).WithError(err).Info("reservation refused")
		return 0, err
	}

	c.ledger.Add(productID, quantity)
	c.persist(ctx)
	if stock < 0 {
		c.refresh(ctx)
	} else {
		c.catalog.SetStock(productID, stock)
	}

	c.log.WithFields(logrus.Fields{
		"product":  productID,
		"quantity": quantity,
		"stock":    stock,
	}).Debug("reserved")

	return stock, nil
}

// Release gives back quantity units of a held product.
func (c *Cart) Release(ctx context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return domain.ErrInvalidQuantity
	}
	return c.release(ctx, productID, quantity)
}

// Remove gives back every unit held for a product.
func (c *Cart) Remove(ctx context.Context, productID string) error {
	return c.release(ctx, productID, 0)
}

func (c *Cart) release(ctx context.Context, productID string, quantity int) error {
	unlock, err := c.lockProduct(ctx, productID)
	if err != nil {
		return err
	}
	defer unlock()

	held := c.ledger.Quantity(productID)
	if held == 0 {
		return domain.ErrNotInCart
	}
	if quantity == 0 {
		quantity = held
	}
	if quantity > held {
		return domain.ErrInvalidQuantity
	}

	ctx = c.detach(ctx)
	if err := c.gateway.Release(ctx, []domain.Item{{ProductID: productID, Quantity: quantity}}); err != nil {
		// the entry goes anyway; the next refresh reconciles stock
		c.log.WithField("product", productID).WithError(err).Warn("release failed")
	}

	c.ledger.Remove(productID, quantity)
	c.persist(ctx)
	c.refresh(ctx)

	return nil
}

// ReleaseAll gives back the whole cart in one call and empties the ledger
// whatever the gateway answers. An empty cart makes no remote call.
func (c *Cart) ReleaseAll(ctx context.Context) error {
	c.gate.Lock()
	defer c.gate.Unlock()

	items := c.ledger.Items()
	if len(items) == 0 {
		return nil
	}

	ctx = c.detach(ctx)
	if err := c.gateway.Release(ctx, items); err != nil {
		c.log.WithField("items", len(items)).WithError(err).Warn("release all failed")
	}

	c.ledger.Clear()
	c.persist(ctx)
	c.refresh(ctx)

	return nil
}

// Start runs on every store page load. Whatever this client held before is
// released blind and the ledger starts empty; the release outcome is only
// logged. The returned error is the catalog refresh failure, if any.
func (c *Cart) Start(ctx context.Context) error {
	c.gate.Lock()

	detached := c.detach(ctx)
	worklist := c.ledger.Items()
	saved, err := c.snapshots.Take(detached, c.clientID)
	if err != nil {
		c.log.WithError(err).Warn("read cart snapshot failed")
	}
	if len(worklist) == 0 {
		worklist = saved
	}

	c.ledger.Clear()

	if len(worklist) > 0 {
		if err := c.gateway.Release(detached, worklist); err != nil {
			c.log.WithField("items", len(worklist)).WithError(err).Warn("startup release failed")
		} else {
			c.log.WithField("items", len(worklist)).Info("released reservations from previous page")
		}
	}

	c.gate.Unlock()

	return c.catalog.Refresh(ctx)
}

// Checkout runs fn with the cart frozen, passing the ledger contents in order.
func (c *Cart) Checkout(ctx context.Context, fn func(ctx context.Context, items []domain.Item) error) error {
	c.gate.Lock()
	defer c.gate.Unlock()

	items := c.ledger.Items()
	if len(items) == 0 {
		return domain.ErrEmptyCart
	}
	return fn(c.detach(ctx), items)
}

// Settle empties the cart after a sale: the reservations became the order,
// so nothing is released.
func (c *Cart) Settle(ctx context.Context) {
	c.gate.Lock()
	defer c.gate.Unlock()

	c.ledger.Clear()
	if err := c.snapshots.Delete(c.detach(ctx), c.clientID); err != nil {
		c.log.WithError(err).Warn("delete cart snapshot failed")
	}
}

// RefreshCatalog reloads the catalog, logging a failure. The failure stays visible through CatalogCache.Stale.
func (c *Cart) RefreshCatalog(ctx context.Context) {
	c.refresh(ctx)
}

// View joins the ledger with the catalog for display.
func (c *Cart) View() domain.CartView {
	view := domain.CartView{Total: decimal.Zero}
	for _, e := range c.ledger.Entries() {
		p, ok := c.catalog.Product(e.ProductID)
		if !ok {
			p = domain.Product{ID: e.ProductID, Name: e.ProductID}
		}
		subtotal := p.Price.Mul(decimal.NewFromInt(int64(e.Quantity)))
		view.Lines = append(view.Lines, domain.CartLine{Product: p, Quantity: e.Quantity, Subtotal: subtotal})
		view.Count += e.Quantity
		view.Total = view.Total.Add(subtotal)
	}
	return view
}

func (c *Cart) Ledger() *Ledger {
	return c.ledger
}

func (c *Cart) Catalog() *CatalogCache {
	return c.catalog
}

func (c *Cart) persist(ctx context.Context) {
	if err := c.snapshots.Save(ctx, c.clientID, c.ledger.Items()); err != nil {
		c.log.WithError(err).Warn("write cart snapshot failed")
	}
}

func (c *Cart) refresh(ctx context.Context) {
	if err := c.catalog.Refresh(ctx); err != nil {
		c.log.WithError(err).Warn("catalog refresh failed")
	}
}

// detach keeps client attribution but drops cancellation: a call the
// gateway has started must be mirrored in the ledger even if the shopper
// navigated away.
func (c *Cart) detach(ctx context.Context) context.Context {
	return port.ContextWithClientID(context.WithoutCancel(ctx), c.clientID)
}

func (c *Cart) lockProduct(ctx context.Context, productID string) (func(), error) {
	c.gate.RLock()

	c.locksMu.Lock()
	l, ok := c.locks[productID]
	if !ok {
		l = &productLock{ch: make(chan struct{}, 1)}
		c.locks[productID] = l
	}
	l.refs++
	c.locksMu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		c.dropLock(productID, l)
		c.gate.RUnlock()
		return nil, ctx.Err()
	}

	return func() {
		<-l.ch
		c.dropLock(productID, l)
		c.gate.RUnlock()
	}, nil
}

func (c *Cart) dropLock(productID string, l *productLock) {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(c.locks, productID)
	}
}
