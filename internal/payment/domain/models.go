// Package domain contains the payment model and allocation contract.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Payment records money received against one invoice. Allocation effects
// (charges marked paid, residuals, carry credits) live on the charge ledger.
type Payment struct {
	ID        snowflake.ID    `gorm:"primaryKey" json:"id"`
	SchoolID  snowflake.ID    `gorm:"not null;index" json:"school_id"`
	StudentID snowflake.ID    `gorm:"not null;index" json:"student_id"`
	InvoiceID snowflake.ID    `gorm:"not null;index" json:"invoice_id"`
	Amount    decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"amount"`
	Method    string          `gorm:"type:text;not null" json:"method"`
	PaidAt    time.Time       `gorm:"not null;index" json:"paid_at"`
	CreatedAt time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time       `gorm:"not null" json:"updated_at"`
	DeletedAt *time.Time      `gorm:"index" json:"deleted_at,omitempty"`
}

func (Payment) TableName() string { return "payments" }

type ApplyPaymentRequest struct {
	StudentID snowflake.ID    `json:"student_id" binding:"required"`
	InvoiceID snowflake.ID    `json:"invoice_id" binding:"required"`
	Amount    decimal.Decimal `json:"amount" binding:"required"`
	PaidAt    time.Time       `json:"paid_at" binding:"required"`
	Method    string          `json:"method"`
}

// InvoiceLocker serializes payment application per invoice.
type InvoiceLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

type Service interface {
	// Apply validates the payment against the invoice, acquires the invoice
	// lock, and allocates the amount across the invoice's unpaid charges in
	// one transaction.
	Apply(ctx context.Context, schoolID snowflake.ID, req ApplyPaymentRequest) (*Payment, error)
	GetByID(ctx context.Context, schoolID, paymentID snowflake.ID) (*Payment, error)
	ListForInvoice(ctx context.Context, schoolID, invoiceID snowflake.ID) ([]*Payment, error)
}
