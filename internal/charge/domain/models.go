// Package domain contains the charge ledger model: one signed debt or credit
// line per student. Interest, residual and carry-credit charges all live here
// and reference their origin through OriginChargeID.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type ChargeType string

const (
	ChargeTypeFee      ChargeType = "fee"
	ChargeTypeInterest ChargeType = "interest"
	ChargeTypePenalty  ChargeType = "penalty"
)

type ChargeStatus string

const (
	ChargeStatusUnpaid    ChargeStatus = "unpaid"
	ChargeStatusPaid      ChargeStatus = "paid"
	ChargeStatusCancelled ChargeStatus = "cancelled"
)

// Charge is one signed debt (positive) or credit (negative) line.
//
// Interest charges always carry OriginChargeID pointing at the base fee.
// Residual charges point at the partially covered source charge. Carry
// credits are unlinked negatives. DebtCreatedAt is when the obligation
// originated, distinct from row creation, and drives interest math and
// allocation ordering.
type Charge struct {
	ID              snowflake.ID    `gorm:"primaryKey" json:"id"`
	SchoolID        snowflake.ID    `gorm:"not null;index" json:"school_id"`
	StudentID       snowflake.ID    `gorm:"not null;index" json:"student_id"`
	FeeDefinitionID *snowflake.ID   `gorm:"index" json:"fee_definition_id,omitempty"`
	InvoiceID       *snowflake.ID   `gorm:"index" json:"invoice_id,omitempty"`
	OriginChargeID  *snowflake.ID   `gorm:"index" json:"origin_charge_id,omitempty"`
	Description     string          `gorm:"type:text;not null" json:"description"`
	Amount          decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"amount"`
	Period          *string         `gorm:"type:text" json:"period,omitempty"`
	ChargeType      ChargeType      `gorm:"type:text;not null;index" json:"charge_type"`
	Status          ChargeStatus    `gorm:"type:text;not null;index" json:"status"`
	DueDate         time.Time       `gorm:"type:date;not null;index" json:"due_date"`
	DebtCreatedAt   time.Time       `gorm:"not null" json:"debt_created_at"`
	CreatedAt       time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"not null" json:"updated_at"`
	DeletedAt       *time.Time      `gorm:"index" json:"deleted_at,omitempty"`
}

func (Charge) TableName() string { return "charges" }
