// Package domain contains persistence models for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	chargedomain "github.com/classbill/classbill/internal/charge/domain"
	"github.com/shopspring/decimal"
)

// InvoiceStatus represents invoice lifecycle states. Closed means superseded
// by a later generation pass or settled by allocation, not necessarily paid.
type InvoiceStatus string

const (
	InvoiceStatusOpen      InvoiceStatus = "open"
	InvoiceStatusClosed    InvoiceStatus = "closed"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

// Invoice aggregates a snapshot of a student's unpaid charges at generation
// time. At most one open invoice exists per (school, student).
type Invoice struct {
	ID          snowflake.ID    `gorm:"primaryKey" json:"id"`
	SchoolID    snowflake.ID    `gorm:"not null;index" json:"school_id"`
	StudentID   snowflake.ID    `gorm:"not null;index" json:"student_id"`
	Period      string          `gorm:"type:text;not null;index" json:"period"`
	IssuedAt    time.Time       `gorm:"not null;index" json:"issued_at"`
	DueDate     time.Time       `gorm:"type:date;not null;index" json:"due_date"`
	TotalAmount decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"total_amount"`
	Status      InvoiceStatus   `gorm:"type:text;not null;index" json:"status"`
	CreatedAt   time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"not null" json:"updated_at"`
	DeletedAt   *time.Time      `gorm:"index" json:"deleted_at,omitempty"`
}

func (Invoice) TableName() string { return "invoices" }

// InvoiceItem is the immutable snapshot of one charge as billed. Created once
// at issuance, never mutated.
type InvoiceItem struct {
	ID          snowflake.ID            `gorm:"primaryKey" json:"id"`
	InvoiceID   snowflake.ID            `gorm:"not null;index" json:"invoice_id"`
	ChargeID    snowflake.ID            `gorm:"not null;index" json:"charge_id"`
	Description string                  `gorm:"type:text;not null" json:"description"`
	Amount      decimal.Decimal         `gorm:"type:numeric(10,2);not null" json:"amount"`
	ChargeType  chargedomain.ChargeType `gorm:"type:text;not null" json:"charge_type"`
	CreatedAt   time.Time               `gorm:"not null" json:"created_at"`
}

func (InvoiceItem) TableName() string { return "invoice_items" }
