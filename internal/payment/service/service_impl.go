package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	balancedomain "github.com/classbill/classbill/internal/balance/domain"
	chargedomain "github.com/classbill/classbill/internal/charge/domain"
	"github.com/classbill/classbill/internal/clock"
	"github.com/classbill/classbill/internal/config"
	invoicedomain "github.com/classbill/classbill/internal/invoice/domain"
	"github.com/classbill/classbill/internal/observability/metrics"
	paymentdomain "github.com/classbill/classbill/internal/payment/domain"
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

	Config   config.Config
	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Students schooldomain.StudentLookup
	Balances balancedomain.Service
	Locker   paymentdomain.InvoiceLocker
	Metrics  *metrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	students schooldomain.StudentLookup
	balances balancedomain.Service
	locker   paymentdomain.InvoiceLocker
	metrics  *metrics.Metrics
	lockTTL  time.Duration

	paymentrepo repository.Repository[paymentdomain.Payment]
	invoicerepo repository.Repository[invoicedomain.Invoice]
	chargerepo  repository.Repository[chargedomain.Charge]
}

func NewService(p ServiceParam) paymentdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("payment.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		students: p.Students,
		balances: p.Balances,
		locker:   p.Locker,
		metrics:  p.Metrics,
		lockTTL:  time.Duration(p.Config.PaymentLockTTLSeconds) * time.Second,

		paymentrepo: repository.ProvideStore[paymentdomain.Payment](p.DB),
		invoicerepo: repository.ProvideStore[invoicedomain.Invoice](p.DB),
		chargerepo:  repository.ProvideStore[chargedomain.Charge](p.DB),
	}
}

func (s *Service) Apply(ctx context.Context, schoolID snowflake.ID, req paymentdomain.ApplyPaymentRequest) (*paymentdomain.Payment, error) {
	payment, err := s.apply(ctx, schoolID, req)
	if err != nil {
		if s.metrics != nil && (apperr.IsValidation(err) || apperr.IsConflict(err) || apperr.IsNotFound(err)) {
			s.metrics.PaymentsRejected.Inc()
		}
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.PaymentsApplied.Inc()
	}
	return payment, nil
}

func (s *Service) apply(ctx context.Context, schoolID snowflake.ID, req paymentdomain.ApplyPaymentRequest) (*paymentdomain.Payment, error) {
	if !req.Amount.IsPositive() {
		return nil, apperr.Validation("Payment amount must be positive")
	}
	if _, err := s.students.GetStudentInSchool(ctx, schoolID, req.StudentID); err != nil {
		return nil, err
	}

	invoice, err := s.invoicerepo.FindOne(ctx, &invoicedomain.Invoice{ID: req.InvoiceID, SchoolID: schoolID}, option.Active())
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, apperr.NotFound("Invoice not found")
	}
	if invoice.StudentID != req.StudentID {
		return nil, apperr.Validation("Invoice does not belong to student")
	}
	if invoice.Status != invoicedomain.InvoiceStatusOpen {
		return nil, apperr.Validation("Only open invoices can receive payments")
	}
	if chargedomain.DateOf(req.PaidAt).After(chargedomain.DateOf(invoice.DueDate)) {
		return nil, apperr.Validation("Overdue invoices cannot receive payments")
	}

	lockKey := fmt.Sprintf("payment_lock:%s:%s", schoolID, invoice.ID)
	token, ok, err := s.locker.TryLock(ctx, lockKey, s.lockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Conflict("A payment is already being processed for this invoice")
	}
	defer func() {
		if err := s.locker.Release(ctx, lockKey, token); err != nil {
			s.log.Warn("payment lock release failed", zap.String("key", lockKey), zap.Error(err))
		}
	}()

	var payment *paymentdomain.Payment
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		payment = &paymentdomain.Payment{
			ID:        s.genID.Generate(),
			SchoolID:  schoolID,
			StudentID: req.StudentID,
			InvoiceID: invoice.ID,
			Amount:    req.Amount.Round(2),
			Method:    req.Method,
			PaidAt:    req.PaidAt,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.paymentrepo.WithTrx(tx).Create(ctx, payment); err != nil {
			return err
		}
		return s.allocate(ctx, tx, invoice, payment)
	})
	if err != nil {
		return nil, err
	}

	s.balances.Invalidate(ctx, schoolID, req.StudentID)
	s.log.Info("payment applied",
		zap.Int64("school_id", schoolID.Int64()),
		zap.Int64("invoice_id", invoice.ID.Int64()),
		zap.Int64("payment_id", payment.ID.Int64()),
		zap.String("amount", payment.Amount.String()),
	)
	return payment, nil
}

// allocate walks the invoice's unpaid charges in (due_date, id) order and
// consumes the payment amount. Negative charges release their absolute value
// back into the pool, even after the payment is exhausted, so a trailing
// credit still settles and can revive the walk. A partially covered charge is
// still marked paid and its shortfall is reissued as an unlinked residual
// charge. Whatever remains after the walk becomes an unlinked carry credit.
// The invoice closes unless a residual was created.
func (s *Service) allocate(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice, payment *paymentdomain.Payment) error {
	chargerepo := s.chargerepo.WithTrx(tx)
	invoiceID := invoice.ID
	charges, err := chargerepo.Find(ctx,
		&chargedomain.Charge{SchoolID: invoice.SchoolID, StudentID: invoice.StudentID, InvoiceID: &invoiceID, Status: chargedomain.ChargeStatusUnpaid},
		option.Active(),
		option.OrderBy("due_date, id"),
	)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	markPaid := func(chargeID snowflake.ID) error {
		return tx.Model(&chargedomain.Charge{}).
			Where("id = ?", chargeID).
			Updates(map[string]any{"status": chargedomain.ChargeStatusPaid, "updated_at": now}).Error
	}

	remaining := payment.Amount
	splitOccurred := false
	for _, charge := range charges {
		if charge.Amount.IsNegative() {
			remaining = remaining.Add(charge.Amount.Abs())
			if err := markPaid(charge.ID); err != nil {
				return err
			}
			continue
		}
		if !remaining.IsPositive() {
			continue
		}
		if remaining.GreaterThanOrEqual(charge.Amount) {
			remaining = remaining.Sub(charge.Amount)
			if err := markPaid(charge.ID); err != nil {
				return err
			}
			continue
		}

		// Partial cover: the billed charge settles as paid and the shortfall
		// returns to the ledger as a fresh unbilled charge.
		origin := charge.ID
		residual := &chargedomain.Charge{
			ID:             s.genID.Generate(),
			SchoolID:       charge.SchoolID,
			StudentID:      charge.StudentID,
			OriginChargeID: &origin,
			Description:    "Residual for charge #" + charge.ID.String(),
			Amount:         charge.Amount.Sub(remaining).Round(2),
			Period:         charge.Period,
			ChargeType:     charge.ChargeType,
			Status:         chargedomain.ChargeStatusUnpaid,
			DueDate:        charge.DueDate,
			DebtCreatedAt:  now,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := chargerepo.Create(ctx, residual); err != nil {
			return err
		}
		if err := markPaid(charge.ID); err != nil {
			return err
		}
		remaining = decimal.Zero
		splitOccurred = true
	}

	if remaining.IsPositive() {
		carry := &chargedomain.Charge{
			ID:            s.genID.Generate(),
			SchoolID:      invoice.SchoolID,
			StudentID:     invoice.StudentID,
			Description:   "Carry credit from invoice #" + invoice.ID.String(),
			Amount:        remaining.Neg().Round(2),
			ChargeType:    chargedomain.ChargeTypePenalty,
			Status:        chargedomain.ChargeStatusUnpaid,
			DueDate:       chargedomain.DateOf(payment.PaidAt),
			DebtCreatedAt: now,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := chargerepo.Create(ctx, carry); err != nil {
			return err
		}
	}

	if !splitOccurred {
		return tx.Model(&invoicedomain.Invoice{}).
			Where("id = ?", invoice.ID).
			Updates(map[string]any{"status": invoicedomain.InvoiceStatusClosed, "updated_at": now}).Error
	}
	return nil
}

func (s *Service) GetByID(ctx context.Context, schoolID, paymentID snowflake.ID) (*paymentdomain.Payment, error) {
	payment, err := s.paymentrepo.FindOne(ctx, &paymentdomain.Payment{ID: paymentID, SchoolID: schoolID}, option.Active())
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, apperr.NotFound("Payment not found")
	}
	return payment, nil
}

func (s *Service) ListForInvoice(ctx context.Context, schoolID, invoiceID snowflake.ID) ([]*paymentdomain.Payment, error) {
	return s.paymentrepo.Find(ctx,
		&paymentdomain.Payment{SchoolID: schoolID, InvoiceID: invoiceID},
		option.Active(),
		option.OrderBy("paid_at, id"),
	)
}
