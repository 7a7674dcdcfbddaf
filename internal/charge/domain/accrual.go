package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

var (
	monthlyInterestRate = decimal.RequireFromString("0.02")
	averageMonthDays    = decimal.NewFromInt(30)
)

// AccruesInterest reports whether a charge is eligible for interest accrual at
// asOf: only positive, fee-type charges past their due date accrue. Interest
// and penalty charges never compound.
func (c *Charge) AccruesInterest(asOf time.Time) bool {
	return c.ChargeType == ChargeTypeFee &&
		c.Amount.IsPositive() &&
		DateOf(c.DueDate).Before(DateOf(asOf))
}

// AccrueInterest computes the cumulative interest owed on an overdue amount:
// 2% per 30-day month, prorated by calendar days overdue, rounded half-up to
// two decimals. Callers subtract interest already posted to get the delta.
func AccrueInterest(amount decimal.Decimal, dueDate, asOf time.Time) decimal.Decimal {
	overdueDays := decimal.NewFromInt(int64(daysBetween(dueDate, asOf)))
	monthsOverdue := overdueDays.Div(averageMonthDays)
	return amount.Mul(monthlyInterestRate).Mul(monthsOverdue).Round(2)
}

// DateOf truncates an instant to its UTC calendar date.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(DateOf(to).Sub(DateOf(from)) / (24 * time.Hour))
}
