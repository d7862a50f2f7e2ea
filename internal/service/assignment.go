package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"scriptmarket/internal/client"
	"scriptmarket/internal/dto"
	"scriptmarket/internal/logging"
	"scriptmarket/internal/metrics"
	"scriptmarket/internal/model"
	"scriptmarket/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const JobDispatchPending = "dispatch-pending"

type AssignmentService interface {
	// Dispatch grants script access for a pending or failed assignment. A platform
	// failure is stored on the assignment and returned wrapped in ErrScriptPlatform.
	Dispatch(ctx context.Context, assignmentID string) (*model.ScriptAssignment, error)
	DispatchPending(ctx context.Context) (*dto.DispatchResult, error)
	StartTrial(ctx context.Context, buyerID, programID, username string) (*model.ScriptAssignment, error)

	RevokePurchaseAccess(ctx context.Context, purchaseID string) (int, error)
	RevokeSubscriptionAccess(ctx context.Context, subscriptionID string) (int, error)

	SyncSellerScripts(ctx context.Context, sellerID string) ([]*model.SellerScript, error)
}

type assignmentServiceImpl struct {
	db             *gorm.DB
	assignmentRepo repository.AssignmentRepository
	programRepo    repository.ProgramRepository
	sellerRepo     repository.SellerRepository
	scriptRepo     repository.SellerScriptRepository
	purchaseRepo   repository.PurchaseRepository
	subRepo        repository.SubscriptionRepository
	platform       client.ScriptPlatformClient
	logger         zerolog.Logger
	nowFn          func() time.Time
}

func NewAssignmentService(
	db *gorm.DB,
	assignmentRepo repository.AssignmentRepository,
	programRepo repository.ProgramRepository,
	sellerRepo repository.SellerRepository,
	scriptRepo repository.SellerScriptRepository,
	purchaseRepo repository.PurchaseRepository,
	subRepo repository.SubscriptionRepository,
	platform client.ScriptPlatformClient,
) AssignmentService {
	return &assignmentServiceImpl{
		db:             db,
		assignmentRepo: assignmentRepo,
		programRepo:    programRepo,
		sellerRepo:     sellerRepo,
		scriptRepo:     scriptRepo,
		purchaseRepo:   purchaseRepo,
		subRepo:        subRepo,
		platform:       platform,
		logger:         logging.Component("assignments"),
		nowFn:          time.Now,
	}
}

func (s *assignmentServiceImpl) Dispatch(ctx context.Context, assignmentID string) (*model.ScriptAssignment, error) {
	assignment, err := s.assignmentRepo.FindByID(ctx, assignmentID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: assignment %s", ErrNotFound, assignmentID)
	}
	if err != nil {
		return nil, fmt.Errorf("load assignment: %w", err)
	}

	if assignment.Status != model.AssignmentStatusPending && assignment.Status != model.AssignmentStatusFailed {
		return nil, fmt.Errorf("%w: assignment %s is %s", ErrInvalidTransition, assignmentID, assignment.Status)
	}
	if assignment.PineID == "" || assignment.TradingViewUsername == "" {
		return nil, fmt.Errorf("%w: assignment %s has no script or username", ErrInvalidInput, assignmentID)
	}
	if err := s.checkPaid(ctx, assignment); err != nil {
		return nil, err
	}

	if err := s.assignmentRepo.BeginAttempt(ctx, assignmentID); err != nil {
		if errors.Is(err, repository.ErrStaleTransition) {
			return nil, fmt.Errorf("%w: assignment %s changed concurrently", ErrInvalidTransition, assignmentID)
		}
		return nil, fmt.Errorf("begin dispatch attempt: %w", err)
	}
	assignment.AssignmentAttempts++

	logger := s.logger.With().
		Str("assignment_id", assignment.ID).
		Str("pine_id", assignment.PineID).
		Int("attempt", assignment.AssignmentAttempts).
		Logger()

	now := s.nowFn().UTC()
	accessType := assignment.AccessType
	var expiresAt *time.Time
	if assignment.IsTrial {
		accessType = model.AccessTypeTrial
		expiry := now.AddDate(0, 0, assignment.TrialDays)
		expiresAt = &expiry
	}

	grantErr := s.platform.GrantAccess(ctx, client.GrantAccessRequest{
		PineID:     assignment.PineID,
		Username:   assignment.TradingViewUsername,
		AccessType: string(accessType),
		ExpiresAt:  expiresAt,
	})
	if grantErr != nil {
		metrics.AssignmentDispatchTotal.WithLabelValues(string(accessType), "failed").Inc()
		logger.Warn().Err(grantErr).Msg("grant access failed")

		if err := s.assignmentRepo.MarkFailed(ctx, assignment.ID, grantErr.Error()); err != nil {
			return nil, fmt.Errorf("mark assignment failed: %w", err)
		}
		assignment.Status = model.AssignmentStatusFailed
		assignment.ErrorMessage = grantErr.Error()
		return assignment, fmt.Errorf("%w: %v", ErrScriptPlatform, grantErr)
	}

	if err := s.assignmentRepo.MarkAssigned(ctx, assignment.ID, now, expiresAt); err != nil {
		if errors.Is(err, repository.ErrStaleTransition) {
			// Revoked while the grant was in flight.
			if revokeErr := s.platform.RevokeAccess(ctx, assignment.PineID, assignment.TradingViewUsername); revokeErr != nil {
				logger.Warn().Err(revokeErr).Msg("revoke access granted after revocation")
			}
			return nil, fmt.Errorf("%w: assignment %s changed concurrently", ErrInvalidTransition, assignmentID)
		}
		return nil, fmt.Errorf("mark assignment assigned: %w", err)
	}
	metrics.AssignmentDispatchTotal.WithLabelValues(string(accessType), "assigned").Inc()
	logger.Info().Msg("script access granted")

	assignment.Status = model.AssignmentStatusAssigned
	assignment.AssignedAt = &now
	assignment.ErrorMessage = ""
	if expiresAt != nil {
		assignment.ExpiresAt = expiresAt
	}
	return assignment, nil
}

// checkPaid refuses to grant access for a refunded purchase or a canceled subscription,
// revoking the assignment so it is not picked up again.
func (s *assignmentServiceImpl) checkPaid(ctx context.Context, assignment *model.ScriptAssignment) error {
	reason := ""
	if assignment.PurchaseID != "" {
		purchase, err := s.purchaseRepo.FindByID(ctx, assignment.PurchaseID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("load purchase: %w", err)
		}
		if err == nil && purchase.Status != model.PurchaseStatusCompleted {
			reason = fmt.Sprintf("purchase %s is %s", purchase.ID, purchase.Status)
		}
	}
	if reason == "" && assignment.SubscriptionID != "" {
		sub, err := s.subRepo.GetBySubscriptionID(ctx, assignment.SubscriptionID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("load subscription: %w", err)
		}
		if err == nil && sub.Status == model.SubscriptionStatusCanceled {
			reason = fmt.Sprintf("subscription %s is %s", sub.ID, sub.Status)
		}
	}
	if reason == "" {
		return nil
	}

	if _, err := s.assignmentRepo.Transition(ctx, assignment.ID, assignment.Status, model.AssignmentStatusRevoked, s.nowFn().UTC()); err != nil {
		return fmt.Errorf("revoke unpaid assignment: %w", err)
	}
	s.logger.Warn().Str("assignment_id", assignment.ID).Str("reason", reason).Msg("assignment no longer paid for, revoked")
	return fmt.Errorf("%w: assignment %s: %s", ErrInvalidTransition, assignment.ID, reason)
}

func (s *assignmentServiceImpl) DispatchPending(ctx context.Context) (*dto.DispatchResult, error) {
	pending, err := s.assignmentRepo.ListByStatus(ctx, model.AssignmentStatusPending)
	if err != nil {
		return nil, fmt.Errorf("list pending assignments: %w", err)
	}

	result := &dto.DispatchResult{
		SweepResult: dto.SweepResult{Job: JobDispatchPending},
	}
	for _, assignment := range pending {
		_, err := s.Dispatch(ctx, assignment.ID)
		switch {
		case err == nil:
			result.Processed++
			result.Assigned++
		case errors.Is(err, ErrScriptPlatform):
			result.Processed++
			result.Failed++
			result.Errors++
		case errors.Is(err, ErrInvalidTransition):
			// picked up by a concurrent dispatch
		default:
			s.logger.Error().Err(err).Str("assignment_id", assignment.ID).Msg("dispatch assignment")
			result.Errors++
		}
	}

	return result, nil
}

func (s *assignmentServiceImpl) StartTrial(ctx context.Context, buyerID, programID, username string) (*model.ScriptAssignment, error) {
	username = strings.TrimSpace(username)
	if buyerID == "" || programID == "" || username == "" {
		return nil, fmt.Errorf("%w: program_id and tradingview_username are required", ErrInvalidInput)
	}

	program, err := s.programRepo.FindByID(ctx, programID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: program %s", ErrNotFound, programID)
	}
	if err != nil {
		return nil, fmt.Errorf("load program: %w", err)
	}
	if program.Status != model.ProgramStatusPublished || program.TrialPeriodDays <= 0 {
		return nil, fmt.Errorf("%w: program %s does not offer a trial", ErrInvalidInput, programID)
	}
	if program.PineID == "" {
		return nil, fmt.Errorf("%w: program %s has no script attached", ErrInvalidInput, programID)
	}

	used, err := s.assignmentRepo.HasTrial(ctx, buyerID, programID)
	if err != nil {
		return nil, fmt.Errorf("check previous trials: %w", err)
	}
	if used {
		return nil, ErrTrialAlreadyUsed
	}

	assignment := &model.ScriptAssignment{
		ID:                  uuid.NewString(),
		ProgramID:           program.ID,
		BuyerID:             buyerID,
		SellerID:            program.SellerID,
		Status:              model.AssignmentStatusPending,
		AccessType:          model.AccessTypeTrial,
		IsTrial:             true,
		TrialDays:           program.TrialPeriodDays,
		TradingViewUsername: username,
		PineID:              program.PineID,
	}
	if err := s.assignmentRepo.Create(ctx, s.db, assignment); err != nil {
		return nil, fmt.Errorf("create trial assignment: %w", err)
	}

	return s.Dispatch(ctx, assignment.ID)
}

func (s *assignmentServiceImpl) RevokePurchaseAccess(ctx context.Context, purchaseID string) (int, error) {
	assignments, err := s.assignmentRepo.ListOpenByPurchase(ctx, purchaseID)
	if err != nil {
		return 0, fmt.Errorf("list purchase assignments: %w", err)
	}

	revoked, errs := endAccess(ctx, s.assignmentRepo, s.platform, s.logger, assignments, model.AssignmentStatusRevoked, s.nowFn().UTC())
	if errs > 0 {
		return revoked, fmt.Errorf("%w: %d revocations failed", ErrScriptPlatform, errs)
	}
	return revoked, nil
}

func (s *assignmentServiceImpl) RevokeSubscriptionAccess(ctx context.Context, subscriptionID string) (int, error) {
	assignments, err := s.assignmentRepo.ListOpenBySubscription(ctx, subscriptionID)
	if err != nil {
		return 0, fmt.Errorf("list subscription assignments: %w", err)
	}

	revoked, errs := endAccess(ctx, s.assignmentRepo, s.platform, s.logger, assignments, model.AssignmentStatusRevoked, s.nowFn().UTC())
	if errs > 0 {
		return revoked, fmt.Errorf("%w: %d revocations failed", ErrScriptPlatform, errs)
	}
	return revoked, nil
}

func (s *assignmentServiceImpl) SyncSellerScripts(ctx context.Context, sellerID string) ([]*model.SellerScript, error) {
	seller, err := s.sellerRepo.Get(ctx, sellerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: seller %s", ErrNotFound, sellerID)
	}
	if err != nil {
		return nil, fmt.Errorf("load seller: %w", err)
	}
	if seller.TradingViewUsername == "" {
		return nil, fmt.Errorf("%w: seller has no tradingview username", ErrInvalidInput)
	}

	published, err := s.platform.ListUserScripts(ctx, seller.TradingViewUsername)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScriptPlatform, err)
	}

	now := s.nowFn().UTC()
	scripts := make([]*model.SellerScript, 0, len(published))
	for _, p := range published {
		scripts = append(scripts, &model.SellerScript{
			SellerID: seller.ID,
			PineID:   p.PineID,
			Name:     p.Name,
			SyncedAt: now,
		})
	}

	if err := s.scriptRepo.Replace(ctx, seller.ID, scripts); err != nil {
		return nil, fmt.Errorf("store seller scripts: %w", err)
	}

	s.logger.Info().Str("seller_id", seller.ID).Int("scripts", len(scripts)).Msg("seller scripts synced")
	return scripts, nil
}

// endAccess moves rows to a terminal status and revokes platform access for those that
// were assigned. The local transition is authoritative: a failed revoke is logged and counted only.
func endAccess(
	ctx context.Context,
	repo repository.AssignmentRepository,
	platform client.ScriptPlatformClient,
	logger zerolog.Logger,
	assignments []*model.ScriptAssignment,
	to model.AssignmentStatus,
	now time.Time,
) (processed, errs int) {
	for _, assignment := range assignments {
		from := assignment.Status
		moved, err := repo.Transition(ctx, assignment.ID, from, to, now)
		if err != nil {
			logger.Error().Err(err).Str("assignment_id", assignment.ID).Msgf("mark assignment %s", to)
			errs++
			continue
		}
		if !moved {
			continue
		}
		processed++
		if from != model.AssignmentStatusAssigned {
			continue
		}

		if err := platform.RevokeAccess(ctx, assignment.PineID, assignment.TradingViewUsername); err != nil {
			logger.Warn().Err(err).
				Str("assignment_id", assignment.ID).
				Str("username", assignment.TradingViewUsername).
				Msg("revoke access failed")
			errs++
		}
	}
	return processed, errs
}
