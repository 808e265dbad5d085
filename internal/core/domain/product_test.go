package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProductNormalize(t *testing.T) {
	p := Product{ID: "1", Name: "Taza Grande Azul", Stock: -3}.Normalize()

	assert.Equal(t, "other", p.Category)
	assert.Equal(t, "img/tazagrandeazul.png", p.Image)
	assert.Equal(t, 0, p.Stock)
	assert.True(t, p.SoldOut())

	kept := Product{Category: "mugs", Image: "cdn/x.png", Stock: 2}.Normalize()
	assert.Equal(t, "mugs", kept.Category)
	assert.Equal(t, "cdn/x.png", kept.Image)
	assert.False(t, kept.SoldOut())
}

func TestGatewayError(t *testing.T) {
	err := &GatewayError{Kind: ErrInsufficientStock, Reason: "sin stock", StatusCode: 409}

	assert.True(t, errors.Is(err, ErrInsufficientStock))
	assert.Equal(t, "insufficient stock: sin stock", err.Error())
	assert.Equal(t, "sin stock", Reason(err))
	assert.Equal(t, "cart is empty", Reason(ErrEmptyCart))
}
