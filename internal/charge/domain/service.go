package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type CreateChargeRequest struct {
	StudentID       snowflake.ID    `json:"student_id" binding:"required"`
	FeeDefinitionID *snowflake.ID   `json:"fee_definition_id"`
	Description     string          `json:"description" binding:"required"`
	Amount          decimal.Decimal `json:"amount" binding:"required"`
	Period          *string         `json:"period"`
	DueDate         time.Time       `json:"due_date" binding:"required" time_format:"2006-01-02"`
	ChargeType      ChargeType      `json:"charge_type" binding:"required"`
}

type UpdateChargeRequest struct {
	Description *string          `json:"description"`
	Amount      *decimal.Decimal `json:"amount"`
	Period      *string          `json:"period"`
	DueDate     *time.Time       `json:"due_date" time_format:"2006-01-02"`
	Status      *ChargeStatus    `json:"status"`
}

type Service interface {
	Create(ctx context.Context, schoolID snowflake.ID, req CreateChargeRequest) (*Charge, error)
	Update(ctx context.Context, schoolID, chargeID snowflake.ID, req UpdateChargeRequest) (*Charge, error)
	GetByID(ctx context.Context, schoolID, chargeID snowflake.ID) (*Charge, error)
	ListForStudent(ctx context.Context, schoolID, studentID snowflake.ID) ([]*Charge, error)
	// ListUnbilled returns the student's unpaid charges that are not linked to
	// any invoice, ordered by (due_date, id), together with their total.
	ListUnbilled(ctx context.Context, schoolID, studentID snowflake.ID) ([]*Charge, decimal.Decimal, error)
	// Delete soft-deletes the charge and marks it cancelled.
	Delete(ctx context.Context, schoolID, chargeID snowflake.ID) error
}
