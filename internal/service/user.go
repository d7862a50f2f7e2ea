package service

import (
	"context"
	"fmt"

	"scriptmarket/internal/dto"
	"scriptmarket/internal/repository"
)

type UserService interface {
	GetAssignments(ctx context.Context, buyerID string) ([]*dto.AssignmentResponse, error)
	GetPurchases(ctx context.Context, buyerID string) ([]*dto.PurchaseResponse, error)
}

type userServiceImpl struct {
	assignmentRepo repository.AssignmentRepository
	purchaseRepo   repository.PurchaseRepository
}

func NewUserService(
	assignmentRepo repository.AssignmentRepository,
	purchaseRepo repository.PurchaseRepository,
) UserService {
	return &userServiceImpl{
		assignmentRepo: assignmentRepo,
		purchaseRepo:   purchaseRepo,
	}
}

func (s *userServiceImpl) GetAssignments(ctx context.Context, buyerID string) ([]*dto.AssignmentResponse, error) {
	assignments, err := s.assignmentRepo.ListByBuyer(ctx, buyerID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}

	resp := make([]*dto.AssignmentResponse, 0, len(assignments))
	for _, a := range assignments {
		resp = append(resp, dto.NewAssignmentResponse(a))
	}
	return resp, nil
}

func (s *userServiceImpl) GetPurchases(ctx context.Context, buyerID string) ([]*dto.PurchaseResponse, error) {
	purchases, err := s.purchaseRepo.ListByBuyer(ctx, buyerID)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}

	resp := make([]*dto.PurchaseResponse, 0, len(purchases))
	for _, p := range purchases {
		resp = append(resp, dto.NewPurchaseResponse(p))
	}
	return resp, nil
}
