package domain

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// CategoryAll disables the category filter.
const CategoryAll = "all"

const defaultCategory = "other"

type SortOrder string

const (
	SortNone      SortOrder = ""
	SortPriceAsc  SortOrder = "asc"
	SortPriceDesc SortOrder = "desc"
)

type Product struct {
	ID          string
	Name        string
	Description string
	Category    string
	Price       decimal.Decimal
	Stock       int
	Image       string
}

// Normalize fills the display defaults a catalog entry may omit.
func (p Product) Normalize() Product {
	if p.Category == "" {
		p.Category = defaultCategory
	}
	if p.Image == "" {
		p.Image = "img/" + strings.Map(func(r rune) rune {
			if unicode.IsSpace(r) {
				return -1
			}
			return r
		}, strings.ToLower(p.Name)) + ".png"
	}
	if p.Stock < 0 {
		p.Stock = 0
	}
	return p
}

func (p Product) SoldOut() bool {
	return p.Stock <= 0
}
