package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	balancedomain "github.com/classbill/classbill/internal/balance/domain"
	"github.com/classbill/classbill/internal/cache"
	chargedomain "github.com/classbill/classbill/internal/charge/domain"
	"github.com/classbill/classbill/internal/config"
	paymentdomain "github.com/classbill/classbill/internal/payment/domain"
	schooldomain "github.com/classbill/classbill/internal/school/domain"
	"github.com/classbill/classbill/pkg/db/option"
	"github.com/classbill/classbill/pkg/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	Config   config.Config
	DB       *gorm.DB
	Log      *zap.Logger
	Cache    cache.Store
	Students schooldomain.StudentLookup
}

type Service struct {
	log      *zap.Logger
	cache    cache.Store
	students schooldomain.StudentLookup
	ttl      time.Duration

	chargerepo  repository.Repository[chargedomain.Charge]
	paymentrepo repository.Repository[paymentdomain.Payment]
}

func NewService(p ServiceParam) balancedomain.Service {
	return &Service{
		log:      p.Log.Named("balance.service"),
		cache:    p.Cache,
		students: p.Students,
		ttl:      time.Duration(p.Config.BalanceCacheTTLSeconds) * time.Second,

		chargerepo:  repository.ProvideStore[chargedomain.Charge](p.DB),
		paymentrepo: repository.ProvideStore[paymentdomain.Payment](p.DB),
	}
}

func cacheKey(schoolID, studentID snowflake.ID) string {
	return fmt.Sprintf("student_balance:%s:%s", schoolID, studentID)
}

func (s *Service) Snapshot(ctx context.Context, schoolID, studentID snowflake.ID) (*balancedomain.Snapshot, error) {
	if _, err := s.students.GetStudentInSchool(ctx, schoolID, studentID); err != nil {
		return nil, err
	}

	key := cacheKey(schoolID, studentID)
	var cached balancedomain.Snapshot
	if s.cache.GetJSON(ctx, key, &cached) {
		return &cached, nil
	}

	snapshot, err := s.compute(ctx, schoolID, studentID)
	if err != nil {
		return nil, err
	}
	s.cache.SetJSON(ctx, key, snapshot, s.ttl)
	return snapshot, nil
}

func (s *Service) compute(ctx context.Context, schoolID, studentID snowflake.ID) (*balancedomain.Snapshot, error) {
	charges, err := s.chargerepo.Find(ctx,
		&chargedomain.Charge{SchoolID: schoolID, StudentID: studentID},
		option.Active(),
	)
	if err != nil {
		return nil, err
	}
	payments, err := s.paymentrepo.Find(ctx,
		&paymentdomain.Payment{SchoolID: schoolID, StudentID: studentID},
		option.Active(),
	)
	if err != nil {
		return nil, err
	}

	snapshot := &balancedomain.Snapshot{
		TotalCharged:      decimal.Zero,
		TotalPaid:         decimal.Zero,
		TotalUnpaid:       decimal.Zero,
		TotalUnpaidDebt:   decimal.Zero,
		TotalUnpaidCredit: decimal.Zero,
	}
	for _, charge := range charges {
		if charge.Status == chargedomain.ChargeStatusCancelled {
			continue
		}
		snapshot.TotalCharged = snapshot.TotalCharged.Add(charge.Amount)
		if charge.Status != chargedomain.ChargeStatusUnpaid {
			continue
		}
		snapshot.TotalUnpaid = snapshot.TotalUnpaid.Add(charge.Amount)
		if charge.Amount.IsNegative() {
			snapshot.TotalUnpaidCredit = snapshot.TotalUnpaidCredit.Add(charge.Amount.Abs())
		} else {
			snapshot.TotalUnpaidDebt = snapshot.TotalUnpaidDebt.Add(charge.Amount)
		}
	}
	for _, payment := range payments {
		snapshot.TotalPaid = snapshot.TotalPaid.Add(payment.Amount)
	}

	snapshot.TotalCharged = snapshot.TotalCharged.Round(2)
	snapshot.TotalPaid = snapshot.TotalPaid.Round(2)
	snapshot.TotalUnpaid = snapshot.TotalUnpaid.Round(2)
	snapshot.TotalUnpaidDebt = snapshot.TotalUnpaidDebt.Round(2)
	snapshot.TotalUnpaidCredit = snapshot.TotalUnpaidCredit.Round(2)
	return snapshot, nil
}

func (s *Service) Invalidate(ctx context.Context, schoolID, studentID snowflake.ID) {
	s.cache.Delete(ctx, cacheKey(schoolID, studentID))
}
