package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/classbill/classbill/internal/clock"
	feedomain "github.com/classbill/classbill/internal/fee/domain"
	"github.com/classbill/classbill/pkg/apperr"
	"github.com/classbill/classbill/pkg/db/option"
	"github.com/classbill/classbill/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	feerepo repository.Repository[feedomain.FeeDefinition]
}

func NewService(p ServiceParam) feedomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("fee.service"),
		genID: p.GenID,
		clock: p.Clock,

		feerepo: repository.ProvideStore[feedomain.FeeDefinition](p.DB),
	}
}

func (s *Service) Create(ctx context.Context, schoolID snowflake.ID, req feedomain.CreateFeeRequest) (*feedomain.FeeDefinition, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.Validation("Fee name is required")
	}
	if !req.Amount.IsPositive() {
		return nil, apperr.Validation("Fee amount must be positive")
	}

	existing, err := s.findByNaturalKey(ctx, schoolID, name, req.Recurrence)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperr.Conflict("Fee definition already exists")
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	now := s.clock.Now()
	fee := &feedomain.FeeDefinition{
		ID:         s.genID.Generate(),
		SchoolID:   schoolID,
		Name:       name,
		Amount:     req.Amount.Round(2),
		Recurrence: req.Recurrence,
		IsActive:   active,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.feerepo.Create(ctx, fee); err != nil {
		return nil, err
	}
	return fee, nil
}

func (s *Service) Update(ctx context.Context, schoolID, feeID snowflake.ID, req feedomain.UpdateFeeRequest) (*feedomain.FeeDefinition, error) {
	fee, err := s.GetByID(ctx, schoolID, feeID)
	if err != nil {
		return nil, err
	}

	nextName := fee.Name
	if req.Name != nil {
		nextName = strings.TrimSpace(*req.Name)
	}
	nextRecurrence := fee.Recurrence
	if req.Recurrence != nil {
		nextRecurrence = *req.Recurrence
	}
	if nextName != fee.Name || nextRecurrence != fee.Recurrence {
		existing, err := s.findByNaturalKey(ctx, schoolID, nextName, nextRecurrence)
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.ID != fee.ID {
			return nil, apperr.Conflict("Fee definition already exists")
		}
	}

	fee.Name = nextName
	fee.Recurrence = nextRecurrence
	if req.Amount != nil {
		if !req.Amount.IsPositive() {
			return nil, apperr.Validation("Fee amount must be positive")
		}
		fee.Amount = req.Amount.Round(2)
	}
	if req.IsActive != nil {
		fee.IsActive = *req.IsActive
	}
	fee.UpdatedAt = s.clock.Now()

	if err := s.db.WithContext(ctx).Save(fee).Error; err != nil {
		return nil, err
	}
	return fee, nil
}

func (s *Service) GetByID(ctx context.Context, schoolID, feeID snowflake.ID) (*feedomain.FeeDefinition, error) {
	fee, err := s.feerepo.FindOne(ctx, &feedomain.FeeDefinition{ID: feeID, SchoolID: schoolID}, option.Active())
	if err != nil {
		return nil, err
	}
	if fee == nil {
		return nil, apperr.NotFound("Fee definition not found")
	}
	return fee, nil
}

func (s *Service) List(ctx context.Context, schoolID snowflake.ID) ([]*feedomain.FeeDefinition, error) {
	return s.feerepo.Find(ctx, &feedomain.FeeDefinition{SchoolID: schoolID}, option.Active(), option.OrderBy("name"))
}

func (s *Service) Delete(ctx context.Context, schoolID, feeID snowflake.ID) error {
	fee, err := s.GetByID(ctx, schoolID, feeID)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	return s.db.WithContext(ctx).Model(fee).Updates(map[string]any{
		"deleted_at": now,
		"is_active":  false,
		"updated_at": now,
	}).Error
}

func (s *Service) findByNaturalKey(ctx context.Context, schoolID snowflake.ID, name string, recurrence feedomain.FeeRecurrence) (*feedomain.FeeDefinition, error) {
	return s.feerepo.FindOne(ctx, &feedomain.FeeDefinition{
		SchoolID:   schoolID,
		Name:       name,
		Recurrence: recurrence,
	}, option.Active())
}
