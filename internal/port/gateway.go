package port

import (
	"context"

	"github.com/rl1809/storefront/internal/core/domain"
)

type ReservationGateway interface {
	// ListProducts returns the full catalog with current stock
	ListProducts(ctx context.Context) ([]domain.Product, error)

	// Reserve holds quantity units of a product, returns the server's remaining stock.
	// A negative stock means the server did not report it.
	Reserve(ctx context.Context, productID string, quantity int) (int, error)

	// Release gives back held units, in the given order
	Release(ctx context.Context, items []domain.Item) error

	// CreateTransaction opens a payment for the given items
	CreateTransaction(ctx context.Context, items []domain.Item) (domain.TransactionIntent, error)

	// CommitStatus looks up the final status of a payment by its correlation token
	CommitStatus(ctx context.Context, token string) (domain.CommitStatus, error)
}

type ctxKeyClientID struct{}

// ContextWithClientID attributes gateway calls made with ctx to a client.
func ContextWithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, ctxKeyClientID{}, clientID)
}

func ClientIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyClientID{}).(string)
	return id
}
