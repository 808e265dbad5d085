package port

import (
	"context"

	"github.com/rl1809/storefront/internal/core/domain"
)

type CheckoutRepository interface {
	// RecordIntent persists a newly created checkout attempt
	RecordIntent(ctx context.Context, clientID string, intent domain.TransactionIntent) error

	// RecordOutcome stores the final outcome of an attempt; an outcome is written at most once
	RecordOutcome(ctx context.Context, outcome domain.CommitOutcome) error

	// FindOutcome returns the recorded outcome for a token, nil if none is recorded yet
	FindOutcome(ctx context.Context, token string) (*domain.CommitOutcome, error)
}

type OutcomePublisher interface {
	// Publish announces a final checkout outcome
	Publish(ctx context.Context, clientID string, outcome domain.CommitOutcome) error
}
