// Package domain defines the student balance snapshot contract.
package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Snapshot summarizes a student's ledger position. Unpaid splits into debt
// (positive unpaid charges) and credit (negative unpaid charges) so a carry
// credit is visible even when the net unpaid amount is zero.
type Snapshot struct {
	TotalCharged      decimal.Decimal `json:"total_charged"`
	TotalPaid         decimal.Decimal `json:"total_paid"`
	TotalUnpaid       decimal.Decimal `json:"total_unpaid"`
	TotalUnpaidDebt   decimal.Decimal `json:"total_unpaid_debt"`
	TotalUnpaidCredit decimal.Decimal `json:"total_unpaid_credit"`
}

type Service interface {
	// Snapshot returns the student's aggregates, served from cache when warm.
	Snapshot(ctx context.Context, schoolID, studentID snowflake.ID) (*Snapshot, error)
	// Invalidate drops the cached snapshot after a ledger mutation commits.
	Invalidate(ctx context.Context, schoolID, studentID snowflake.ID)
}
