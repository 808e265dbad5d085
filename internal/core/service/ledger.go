package service

import (
	"sort"
	"sync"

	"github.com/rl1809/storefront/internal/core/domain"
)

// Ledger mirrors the units the reservation service currently holds for one client.
// Quantities are always positive; an entry that reaches zero is deleted.
type Ledger struct {
	mu      sync.RWMutex
	entries map[string]int
}

func NewLedger() *Ledger {
	return &Ledger{entries: make(map[string]int)}
}

func (l *Ledger) Add(productID string, quantity int) {
	if quantity <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[productID] += quantity
}

// Remove takes up to quantity units off an entry and returns how many were removed.
func (l *Ledger) Remove(productID string, quantity int) int {
	if quantity <= 0 {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	held := l.entries[productID]
	if quantity >= held {
		delete(l.entries, productID)
		return held
	}
	l.entries[productID] = held - quantity
	return quantity
}

func (l *Ledger) Quantity(productID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entries[productID]
}

// Entries returns the ledger ordered by product id.
func (l *Ledger) Entries() []domain.CartEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.CartEntry, 0, len(l.entries))
	for id, qty := range l.entries {
		out = append(out, domain.CartEntry{ProductID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

func (l *Ledger) Items() []domain.Item {
	entries := l.Entries()
	items := make([]domain.Item, len(entries))
	for i, e := range entries {
		items[i] = domain.Item{ProductID: e.ProductID, Quantity: e.Quantity}
	}
	return items
}

// Total is the number of units held across all entries.
func (l *Ledger) Total() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := 0
	for _, qty := range l.entries {
		total += qty
	}
	return total
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]int)
}
