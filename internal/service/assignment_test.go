package service

import (
	"context"
	"errors"
	"testing"

	"scriptmarket/internal/client"
	"scriptmarket/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingAssignment(t *testing.T, f *fixture) *model.ScriptAssignment {
	t.Helper()
	seedScriptProgram(t, f)
	recordPurchaseWithUsername(t, f, "evt_1", "pi_1", "trader42")

	assignments, err := f.assignments.ListByBuyer(context.Background(), "buyer-1")
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	return assignments[0]
}

func TestDispatchGrantsAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pending := pendingAssignment(t, f)

	assigned, err := f.assignmentSvc.Dispatch(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AssignmentStatusAssigned, assigned.Status)
	assert.Equal(t, 1, assigned.AssignmentAttempts)
	require.NotNil(t, assigned.AssignedAt)
	assert.True(t, f.now.Equal(*assigned.AssignedAt))

	require.Len(t, f.platform.grants, 1)
	grant := f.platform.grants[0]
	assert.Equal(t, "PUB;trend", grant.PineID)
	assert.Equal(t, "trader42", grant.Username)
	assert.Equal(t, string(model.AccessTypePurchase), grant.AccessType)
	assert.Nil(t, grant.ExpiresAt)

	_, err = f.assignmentSvc.Dispatch(ctx, pending.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Len(t, f.platform.grants, 1)
}

func TestDispatchFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pending := pendingAssignment(t, f)

	f.platform.grantErr = errors.New("username not found")
	failed, err := f.assignmentSvc.Dispatch(ctx, pending.ID)
	assert.ErrorIs(t, err, ErrScriptPlatform)
	require.NotNil(t, failed)
	assert.Equal(t, model.AssignmentStatusFailed, failed.Status)

	stored, err := f.assignments.FindByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AssignmentStatusFailed, stored.Status)
	assert.Equal(t, "username not found", stored.ErrorMessage)
	assert.Equal(t, 1, stored.AssignmentAttempts)

	f.platform.grantErr = nil
	assigned, err := f.assignmentSvc.Dispatch(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AssignmentStatusAssigned, assigned.Status)

	stored, err = f.assignments.FindByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.AssignmentAttempts)
	assert.Empty(t, stored.ErrorMessage)
}

func TestDispatchUnknownAssignment(t *testing.T) {
	f := newFixture(t)

	_, err := f.assignmentSvc.Dispatch(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDispatchPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedScriptProgram(t, f)

	recordPurchaseWithUsername(t, f, "evt_1", "pi_1", "trader42")
	recordPurchaseWithUsername(t, f, "evt_2", "pi_2", "trader43")

	result, err := f.assignmentSvc.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, JobDispatchPending, result.Job)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 2, result.Assigned)
	assert.Zero(t, result.Failed)

	result, err = f.assignmentSvc.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Processed)
	assert.Len(t, f.platform.grants, 2)
}

func TestDispatchPendingCountsFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pendingAssignment(t, f)

	f.platform.grantErr = errors.New("platform down")
	result, err := f.assignmentSvc.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Errors)

	// Failed rows are only retried on request.
	result, err = f.assignmentSvc.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Processed)
}

func TestStartTrial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedTrialProgram(t, f)

	trial, err := f.assignmentSvc.StartTrial(ctx, "buyer-1", "prog-trial", " trader42 ")
	require.NoError(t, err)
	assert.Equal(t, model.AssignmentStatusAssigned, trial.Status)
	assert.True(t, trial.IsTrial)
	assert.Equal(t, "trader42", trial.TradingViewUsername)
	require.NotNil(t, trial.ExpiresAt)
	assert.True(t, f.now.AddDate(0, 0, 7).Equal(*trial.ExpiresAt))

	require.Len(t, f.platform.grants, 1)
	assert.Equal(t, string(model.AccessTypeTrial), f.platform.grants[0].AccessType)
	require.NotNil(t, f.platform.grants[0].ExpiresAt)

	_, err = f.assignmentSvc.StartTrial(ctx, "buyer-1", "prog-trial", "trader42")
	assert.ErrorIs(t, err, ErrTrialAlreadyUsed)
}

func TestStartTrialValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedScriptProgram(t, f)
	seedTrialProgram(t, f)

	_, err := f.assignmentSvc.StartTrial(ctx, "buyer-1", "prog-trial", "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.assignmentSvc.StartTrial(ctx, "buyer-1", "nope", "trader42")
	assert.ErrorIs(t, err, ErrNotFound)

	// prog-1 has no trial period.
	_, err = f.assignmentSvc.StartTrial(ctx, "buyer-1", "prog-1", "trader42")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestStartTrialPlatformFailureConsumesTrial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedTrialProgram(t, f)

	f.platform.grantErr = errors.New("rate limited")
	trial, err := f.assignmentSvc.StartTrial(ctx, "buyer-1", "prog-trial", "trader42")
	assert.ErrorIs(t, err, ErrScriptPlatform)
	require.NotNil(t, trial)
	assert.Equal(t, model.AssignmentStatusFailed, trial.Status)

	f.platform.grantErr = nil
	retried, err := f.assignmentSvc.Dispatch(ctx, trial.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AssignmentStatusAssigned, retried.Status)

	_, err = f.assignmentSvc.StartTrial(ctx, "buyer-1", "prog-trial", "trader42")
	assert.ErrorIs(t, err, ErrTrialAlreadyUsed)
}

func TestSyncSellerScripts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedSeller(t, &model.Seller{ID: "seller-1", TradingViewUsername: "author"})

	f.platform.scripts = []client.PublishedScript{
		{PineID: "PUB;a", Name: "Alpha"},
		{PineID: "PUB;b", Name: "Beta"},
	}
	scripts, err := f.assignmentSvc.SyncSellerScripts(ctx, "seller-1")
	require.NoError(t, err)
	assert.Len(t, scripts, 2)

	f.platform.scripts = []client.PublishedScript{{PineID: "PUB;b", Name: "Beta v2"}}
	_, err = f.assignmentSvc.SyncSellerScripts(ctx, "seller-1")
	require.NoError(t, err)

	stored, err := f.scripts.ListBySeller(ctx, "seller-1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "Beta v2", stored[0].Name)

	f.platform.listErr = errors.New("timeout")
	_, err = f.assignmentSvc.SyncSellerScripts(ctx, "seller-1")
	assert.ErrorIs(t, err, ErrScriptPlatform)

	f.seedSeller(t, &model.Seller{ID: "seller-2"})
	_, err = f.assignmentSvc.SyncSellerScripts(ctx, "seller-2")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDispatchRefusesRefundedPurchase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pending := pendingAssignment(t, f)

	// The purchase flips to refunded without its assignments being revoked.
	require.NoError(t, f.db.Model(&model.Purchase{}).
		Where("id = ?", pending.PurchaseID).
		Update("status", model.PurchaseStatusRefunded).Error)

	_, err := f.assignmentSvc.Dispatch(ctx, pending.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Empty(t, f.platform.grants)

	got, err := f.assignments.FindByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AssignmentStatusRevoked, got.Status)
	assert.NotNil(t, got.RevokedAt)

	result, err := f.assignmentSvc.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Processed)
}

func TestRevokePurchaseAccessEndsFailedAssignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pending := pendingAssignment(t, f)

	f.platform.grantErr = errors.New("username not found")
	_, err := f.assignmentSvc.Dispatch(ctx, pending.ID)
	require.ErrorIs(t, err, ErrScriptPlatform)

	revoked, err := f.assignmentSvc.RevokePurchaseAccess(ctx, pending.PurchaseID)
	require.NoError(t, err)
	assert.Equal(t, 1, revoked)
	assert.Empty(t, f.platform.revokes)

	f.platform.grantErr = nil
	_, err = f.assignmentSvc.Dispatch(ctx, pending.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Len(t, f.platform.grants, 1)
}
