package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	chargedomain "github.com/classbill/classbill/internal/charge/domain"
	"github.com/classbill/classbill/internal/clock"
	feedomain "github.com/classbill/classbill/internal/fee/domain"
	schooldomain "github.com/classbill/classbill/internal/school/domain"
	"github.com/classbill/classbill/pkg/apperr"
	"github.com/classbill/classbill/pkg/db/option"
	"github.com/classbill/classbill/pkg/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Students schooldomain.StudentLookup
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	students schooldomain.StudentLookup

	chargerepo repository.Repository[chargedomain.Charge]
	feerepo    repository.Repository[feedomain.FeeDefinition]
}

func NewService(p ServiceParam) chargedomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("charge.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		students: p.Students,

		chargerepo: repository.ProvideStore[chargedomain.Charge](p.DB),
		feerepo:    repository.ProvideStore[feedomain.FeeDefinition](p.DB),
	}
}

func (s *Service) Create(ctx context.Context, schoolID snowflake.ID, req chargedomain.CreateChargeRequest) (*chargedomain.Charge, error) {
	if _, err := s.students.GetStudentInSchool(ctx, schoolID, req.StudentID); err != nil {
		return nil, err
	}
	if req.FeeDefinitionID != nil {
		fee, err := s.feerepo.FindOne(ctx, &feedomain.FeeDefinition{ID: *req.FeeDefinitionID, SchoolID: schoolID}, option.Active())
		if err != nil {
			return nil, err
		}
		if fee == nil {
			return nil, apperr.NotFound("Fee definition not found")
		}
	}
	if req.Amount.IsZero() {
		return nil, apperr.Validation("Charge amount must not be zero")
	}

	now := s.clock.Now()
	charge := &chargedomain.Charge{
		ID:              s.genID.Generate(),
		SchoolID:        schoolID,
		StudentID:       req.StudentID,
		FeeDefinitionID: req.FeeDefinitionID,
		Description:     req.Description,
		Amount:          req.Amount.Round(2),
		Period:          req.Period,
		ChargeType:      req.ChargeType,
		Status:          chargedomain.ChargeStatusUnpaid,
		DueDate:         chargedomain.DateOf(req.DueDate),
		DebtCreatedAt:   now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.chargerepo.Create(ctx, charge); err != nil {
		return nil, err
	}
	return charge, nil
}

func (s *Service) Update(ctx context.Context, schoolID, chargeID snowflake.ID, req chargedomain.UpdateChargeRequest) (*chargedomain.Charge, error) {
	charge, err := s.GetByID(ctx, schoolID, chargeID)
	if err != nil {
		return nil, err
	}

	if req.Description != nil {
		charge.Description = *req.Description
	}
	if req.Amount != nil {
		if req.Amount.IsZero() {
			return nil, apperr.Validation("Charge amount must not be zero")
		}
		charge.Amount = req.Amount.Round(2)
	}
	if req.Period != nil {
		charge.Period = req.Period
	}
	if req.DueDate != nil {
		charge.DueDate = chargedomain.DateOf(*req.DueDate)
	}
	if req.Status != nil {
		charge.Status = *req.Status
	}
	charge.UpdatedAt = s.clock.Now()

	if err := s.db.WithContext(ctx).Save(charge).Error; err != nil {
		return nil, err
	}
	return charge, nil
}

func (s *Service) GetByID(ctx context.Context, schoolID, chargeID snowflake.ID) (*chargedomain.Charge, error) {
	charge, err := s.chargerepo.FindOne(ctx, &chargedomain.Charge{ID: chargeID, SchoolID: schoolID}, option.Active())
	if err != nil {
		return nil, err
	}
	if charge == nil {
		return nil, apperr.NotFound("Charge not found")
	}
	return charge, nil
}

func (s *Service) ListForStudent(ctx context.Context, schoolID, studentID snowflake.ID) ([]*chargedomain.Charge, error) {
	return s.chargerepo.Find(ctx,
		&chargedomain.Charge{SchoolID: schoolID, StudentID: studentID},
		option.Active(),
		option.OrderBy("due_date, id"),
	)
}

func (s *Service) ListUnbilled(ctx context.Context, schoolID, studentID snowflake.ID) ([]*chargedomain.Charge, decimal.Decimal, error) {
	charges, err := s.chargerepo.Find(ctx,
		&chargedomain.Charge{SchoolID: schoolID, StudentID: studentID, Status: chargedomain.ChargeStatusUnpaid},
		option.Active(),
		option.IsNull("invoice_id"),
		option.OrderBy("due_date, id"),
	)
	if err != nil {
		return nil, decimal.Zero, err
	}

	total := decimal.Zero
	for _, charge := range charges {
		total = total.Add(charge.Amount)
	}
	return charges, total.Round(2), nil
}

func (s *Service) Delete(ctx context.Context, schoolID, chargeID snowflake.ID) error {
	charge, err := s.GetByID(ctx, schoolID, chargeID)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	return s.db.WithContext(ctx).Model(charge).Updates(map[string]any{
		"deleted_at": now,
		"status":     chargedomain.ChargeStatusCancelled,
		"updated_at": now,
	}).Error
}
