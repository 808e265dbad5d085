package port

import (
	"context"

	"github.com/rl1809/storefront/internal/core/domain"
)

type SnapshotRepository interface {
	// Save overwrites the client's cart snapshot; an empty slice clears it
	Save(ctx context.Context, clientID string, items []domain.Item) error

	// Take returns and deletes the client's snapshot, nil if there is none
	Take(ctx context.Context, clientID string) ([]domain.Item, error)

	// Delete removes the client's snapshot
	Delete(ctx context.Context, clientID string) error
}
