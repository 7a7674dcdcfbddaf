// Package domain contains persistence models for recurring fee definitions.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// FeeRecurrence is how often a fee definition is expected to be charged.
type FeeRecurrence string

const (
	RecurrenceMonthly FeeRecurrence = "monthly"
	RecurrenceTerm    FeeRecurrence = "term"
	RecurrenceYearly  FeeRecurrence = "yearly"
	RecurrenceOneTime FeeRecurrence = "one_time"
)

// FeeDefinition is a recurring fee template. (school, name, recurrence) is the
// natural key among non-deleted definitions.
type FeeDefinition struct {
	ID         snowflake.ID    `gorm:"primaryKey" json:"id"`
	SchoolID   snowflake.ID    `gorm:"not null;index" json:"school_id"`
	Name       string          `gorm:"type:text;not null;index" json:"name"`
	Amount     decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"amount"`
	Recurrence FeeRecurrence   `gorm:"type:text;not null;index" json:"recurrence"`
	IsActive   bool            `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"not null" json:"updated_at"`
	DeletedAt  *time.Time      `gorm:"index" json:"deleted_at,omitempty"`
}

func (FeeDefinition) TableName() string { return "fee_definitions" }
