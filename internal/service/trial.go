package service

import (
	"context"
	"fmt"
	"time"

	"scriptmarket/internal/client"
	"scriptmarket/internal/dto"
	"scriptmarket/internal/logging"
	"scriptmarket/internal/model"
	"scriptmarket/internal/repository"

	"github.com/rs/zerolog"
)

const JobTrialCleanup = "trial-cleanup"

type TrialService interface {
	// ExpireTrials expires every assigned trial whose expires_at is before now.
	ExpireTrials(ctx context.Context, now time.Time) (*dto.SweepResult, error)
}

type trialServiceImpl struct {
	assignmentRepo repository.AssignmentRepository
	platform       client.ScriptPlatformClient
	logger         zerolog.Logger
}

func NewTrialService(
	assignmentRepo repository.AssignmentRepository,
	platform client.ScriptPlatformClient,
) TrialService {
	return &trialServiceImpl{
		assignmentRepo: assignmentRepo,
		platform:       platform,
		logger:         logging.Component("trials"),
	}
}

func (s *trialServiceImpl) ExpireTrials(ctx context.Context, now time.Time) (*dto.SweepResult, error) {
	now = now.UTC()

	trials, err := s.assignmentRepo.ListExpiredTrials(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list expired trials: %w", err)
	}

	processed, errs := endAccess(ctx, s.assignmentRepo, s.platform, s.logger, trials, model.AssignmentStatusExpired, now)

	s.logger.Info().Int("expired", processed).Int("errors", errs).Msg("trial sweep finished")

	return &dto.SweepResult{
		Job:       JobTrialCleanup,
		Processed: processed,
		Errors:    errs,
	}, nil
}
