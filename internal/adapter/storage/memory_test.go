package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/storefront/internal/core/domain"
)

func TestMemorySnapshot(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySnapshotStore()

	items := []domain.Item{{ProductID: "1", Quantity: 2}}
	require.NoError(t, store.Save(ctx, "c1", items))

	got, err := store.Take(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, items, got)

	got, err = store.Take(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.Save(ctx, "c1", items))
	require.NoError(t, store.Save(ctx, "c1", nil))
	got, _ = store.Take(ctx, "c1")
	assert.Nil(t, got)
}

func TestMemoryCheckoutLog_OutcomeWrittenOnce(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryCheckoutLog()

	require.NoError(t, log.RecordIntent(ctx, "c1", domain.TransactionIntent{Token: "tok-1"}))

	found, err := log.FindOutcome(ctx, "tok-1")
	require.NoError(t, err)
	assert.Nil(t, found)

	require.NoError(t, log.RecordOutcome(ctx, domain.Aborted("tok-1")))
	err = log.RecordOutcome(ctx, domain.Rejected("tok-1", "-1", "", ""))
	assert.ErrorIs(t, err, ErrOutcomeRecorded)

	found, err = log.FindOutcome(ctx, "tok-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, domain.OutcomeAborted, found.Kind)
}
