package repository

import (
	"context"
	"testing"

	"scriptmarket/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkProcessedDetectsDuplicate(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewWebhookEventRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.MarkProcessed(ctx, db, "evt_1", "checkout.session.completed"))
	assert.ErrorIs(t, repo.MarkProcessed(ctx, db, "evt_1", "checkout.session.completed"), ErrAlreadyProcessed)

	exists, err := repo.Exists(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, exists)
}
