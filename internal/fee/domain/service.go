package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type CreateFeeRequest struct {
	Name       string          `json:"name" binding:"required"`
	Amount     decimal.Decimal `json:"amount" binding:"required"`
	Recurrence FeeRecurrence   `json:"recurrence" binding:"required"`
	IsActive   *bool           `json:"is_active"`
}

type UpdateFeeRequest struct {
	Name       *string          `json:"name"`
	Amount     *decimal.Decimal `json:"amount"`
	Recurrence *FeeRecurrence   `json:"recurrence"`
	IsActive   *bool            `json:"is_active"`
}

type Service interface {
	Create(ctx context.Context, schoolID snowflake.ID, req CreateFeeRequest) (*FeeDefinition, error)
	Update(ctx context.Context, schoolID, feeID snowflake.ID, req UpdateFeeRequest) (*FeeDefinition, error)
	GetByID(ctx context.Context, schoolID, feeID snowflake.ID) (*FeeDefinition, error)
	List(ctx context.Context, schoolID snowflake.ID) ([]*FeeDefinition, error)
	// Delete soft-deletes and deactivates the definition.
	Delete(ctx context.Context, schoolID, feeID snowflake.ID) error
}
