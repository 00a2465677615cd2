package usecases

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zapp/backend/internal/entities"
)

// FacilitatorService maintains the directory used for grouping and visibility.
type FacilitatorService struct {
	logger *slog.Logger
	repo   FacilitatorsRepository
}

func NewFacilitatorService(logger *slog.Logger, repo FacilitatorsRepository) *FacilitatorService {
	return &FacilitatorService{logger: logger, repo: repo}
}

func (s *FacilitatorService) RegisterFacilitator(ctx context.Context, input RegisterFacilitatorInput) (*entities.Facilitator, error) {
	f, err := input.toFacilitator()
	if err != nil {
		return nil, err
	}
	if err = s.repo.UpsertFacilitator(ctx, f); err != nil {
		return nil, fmt.Errorf("upsert facilitator: %w", err)
	}
	s.logger.Info("Facilitator registered", "merchant_id", f.MerchantID, "rails", entities.RailStrings(f.EnabledRails), "active", f.Active)
	return f, nil
}
