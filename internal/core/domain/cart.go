package domain

import "github.com/shopspring/decimal"

type CartEntry struct {
	ProductID string
	Quantity  int
}

// Item is one (product, quantity) pair as sent to the reservation service.
type Item struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// CartLine is a ledger entry joined with its catalog product, for display.
type CartLine struct {
	Product  Product
	Quantity int
	Subtotal decimal.Decimal
}

type CartView struct {
	Lines []CartLine
	Count int
	Total decimal.Decimal
}
