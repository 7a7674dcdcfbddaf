package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	balancedomain "github.com/classbill/classbill/internal/balance/domain"
	chargedomain "github.com/classbill/classbill/internal/charge/domain"
	"github.com/classbill/classbill/internal/clock"
	invoicedomain "github.com/classbill/classbill/internal/invoice/domain"
	"github.com/classbill/classbill/internal/observability/metrics"
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
	Balances balancedomain.Service
	Metrics  *metrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	students schooldomain.StudentLookup
	balances balancedomain.Service
	metrics  *metrics.Metrics

	invoicerepo repository.Repository[invoicedomain.Invoice]
	itemrepo    repository.Repository[invoicedomain.InvoiceItem]
	chargerepo  repository.Repository[chargedomain.Charge]
}

func NewService(p ServiceParam) invoicedomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("invoice.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		students: p.Students,
		balances: p.Balances,
		metrics:  p.Metrics,

		invoicerepo: repository.ProvideStore[invoicedomain.Invoice](p.DB),
		itemrepo:    repository.ProvideStore[invoicedomain.InvoiceItem](p.DB),
		chargerepo:  repository.ProvideStore[chargedomain.Charge](p.DB),
	}
}

// Generate runs the full issuance pass for one student inside a single
// transaction: supersede open invoices, post delta interest, then bill every
// unpaid charge onto a fresh open invoice.
func (s *Service) Generate(ctx context.Context, schoolID, studentID snowflake.ID, asOf time.Time) (*invoicedomain.Invoice, error) {
	if _, err := s.students.GetStudentInSchool(ctx, schoolID, studentID); err != nil {
		return nil, err
	}

	var invoice *invoicedomain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&invoicedomain.Invoice{}).
			Where("school_id = ? AND student_id = ? AND status = ? AND deleted_at IS NULL",
				schoolID, studentID, invoicedomain.InvoiceStatusOpen).
			Updates(map[string]any{
				"status":     invoicedomain.InvoiceStatusClosed,
				"updated_at": s.clock.Now(),
			}).Error; err != nil {
			return err
		}

		if err := s.accrueInterest(ctx, tx, schoolID, studentID, asOf); err != nil {
			return err
		}

		charges, err := s.chargerepo.WithTrx(tx).Find(ctx,
			&chargedomain.Charge{SchoolID: schoolID, StudentID: studentID, Status: chargedomain.ChargeStatusUnpaid},
			option.Active(),
			option.OrderBy("due_date, id"),
		)
		if err != nil {
			return err
		}
		if len(charges) == 0 {
			return apperr.Validation("No unpaid charges available for invoice generation")
		}

		now := s.clock.Now()
		invoice = &invoicedomain.Invoice{
			ID:          s.genID.Generate(),
			SchoolID:    schoolID,
			StudentID:   studentID,
			Period:      asOf.UTC().Format("2006-01"),
			IssuedAt:    now,
			DueDate:     chargedomain.DateOf(asOf),
			TotalAmount: decimal.Zero,
			Status:      invoicedomain.InvoiceStatusOpen,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.invoicerepo.WithTrx(tx).Create(ctx, invoice); err != nil {
			return err
		}

		total := decimal.Zero
		items := make([]*invoicedomain.InvoiceItem, 0, len(charges))
		for _, charge := range charges {
			if err := tx.Model(&chargedomain.Charge{}).
				Where("id = ?", charge.ID).
				Updates(map[string]any{"invoice_id": invoice.ID, "updated_at": now}).Error; err != nil {
				return err
			}
			items = append(items, &invoicedomain.InvoiceItem{
				ID:          s.genID.Generate(),
				InvoiceID:   invoice.ID,
				ChargeID:    charge.ID,
				Description: charge.Description,
				Amount:      charge.Amount,
				ChargeType:  charge.ChargeType,
				CreatedAt:   now,
			})
			total = total.Add(charge.Amount)
		}
		if err := s.itemrepo.WithTrx(tx).BatchCreate(ctx, items); err != nil {
			return err
		}

		invoice.TotalAmount = total.Round(2)
		return tx.Model(&invoicedomain.Invoice{}).
			Where("id = ?", invoice.ID).
			Update("total_amount", invoice.TotalAmount).Error
	})
	if err != nil {
		return nil, err
	}

	s.balances.Invalidate(ctx, schoolID, studentID)
	if s.metrics != nil {
		s.metrics.InvoicesGenerated.Inc()
	}
	s.log.Info("invoice generated",
		zap.Int64("school_id", schoolID.Int64()),
		zap.Int64("student_id", studentID.Int64()),
		zap.Int64("invoice_id", invoice.ID.Int64()),
		zap.String("period", invoice.Period),
		zap.String("total_amount", invoice.TotalAmount.String()),
	)
	return invoice, nil
}

// accrueInterest posts the delta between cumulative interest owed and the
// unpaid interest already on the ledger for every overdue fee. Settled
// interest rows drop out of the subtrahend, so once they are paid a later
// run re-accrues against the full cumulative amount.
func (s *Service) accrueInterest(ctx context.Context, tx *gorm.DB, schoolID, studentID snowflake.ID, asOf time.Time) error {
	chargerepo := s.chargerepo.WithTrx(tx)
	fees, err := chargerepo.Find(ctx,
		&chargedomain.Charge{SchoolID: schoolID, StudentID: studentID, Status: chargedomain.ChargeStatusUnpaid, ChargeType: chargedomain.ChargeTypeFee},
		option.Active(),
		option.OrderBy("due_date, id"),
	)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	for _, fee := range fees {
		if !fee.AccruesInterest(asOf) {
			continue
		}
		cumulative := chargedomain.AccrueInterest(fee.Amount, fee.DueDate, asOf)

		origin := fee.ID
		posted, err := chargerepo.Find(ctx,
			&chargedomain.Charge{SchoolID: schoolID, StudentID: studentID, ChargeType: chargedomain.ChargeTypeInterest, Status: chargedomain.ChargeStatusUnpaid, OriginChargeID: &origin},
			option.Active(),
		)
		if err != nil {
			return err
		}
		alreadyPosted := decimal.Zero
		for _, row := range posted {
			alreadyPosted = alreadyPosted.Add(row.Amount)
		}

		delta := cumulative.Sub(alreadyPosted).Round(2)
		if !delta.IsPositive() {
			continue
		}
		interest := &chargedomain.Charge{
			ID:             s.genID.Generate(),
			SchoolID:       schoolID,
			StudentID:      studentID,
			OriginChargeID: &origin,
			Description:    "Interest for charge #" + fee.ID.String(),
			Amount:         delta,
			Period:         fee.Period,
			ChargeType:     chargedomain.ChargeTypeInterest,
			Status:         chargedomain.ChargeStatusUnpaid,
			DueDate:        chargedomain.DateOf(asOf),
			DebtCreatedAt:  now,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := chargerepo.Create(ctx, interest); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) GenerateForSchool(ctx context.Context, schoolID snowflake.ID, asOf time.Time) (*invoicedomain.BatchResult, error) {
	studentIDs, err := s.students.ListStudentIDs(ctx, schoolID)
	if err != nil {
		return nil, err
	}

	result := &invoicedomain.BatchResult{SchoolID: schoolID, Errors: []invoicedomain.StudentError{}}
	for _, studentID := range studentIDs {
		result.ProcessedStudents++
		if _, err := s.Generate(ctx, schoolID, studentID, asOf); err != nil {
			if apperr.IsValidation(err) {
				result.SkippedStudents++
				result.Errors = append(result.Errors, invoicedomain.StudentError{
					StudentID: studentID, Error: err.Error(), Type: "skipped",
				})
				continue
			}
			result.FailedStudents++
			result.Errors = append(result.Errors, invoicedomain.StudentError{
				StudentID: studentID, Error: err.Error(), Type: "failed",
			})
			s.log.Warn("invoice generation failed",
				zap.Int64("school_id", schoolID.Int64()),
				zap.Int64("student_id", studentID.Int64()),
				zap.Error(err),
			)
			continue
		}
		result.GeneratedStudents++
	}
	return result, nil
}

func (s *Service) GetByID(ctx context.Context, schoolID, invoiceID snowflake.ID) (*invoicedomain.Invoice, error) {
	invoice, err := s.invoicerepo.FindOne(ctx, &invoicedomain.Invoice{ID: invoiceID, SchoolID: schoolID}, option.Active())
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, apperr.NotFound("Invoice not found")
	}
	return invoice, nil
}

func (s *Service) ListItems(ctx context.Context, schoolID, invoiceID snowflake.ID) ([]*invoicedomain.InvoiceItem, error) {
	if _, err := s.GetByID(ctx, schoolID, invoiceID); err != nil {
		return nil, err
	}
	return s.itemrepo.Find(ctx, &invoicedomain.InvoiceItem{InvoiceID: invoiceID}, option.OrderBy("id"))
}

func (s *Service) ListForStudent(ctx context.Context, schoolID, studentID snowflake.ID) ([]*invoicedomain.Invoice, error) {
	return s.invoicerepo.Find(ctx,
		&invoicedomain.Invoice{SchoolID: schoolID, StudentID: studentID},
		option.Active(),
		option.OrderBy("issued_at DESC, id DESC"),
	)
}
