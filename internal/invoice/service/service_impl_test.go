package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	balancedomain "github.com/classbill/classbill/internal/balance/domain"
	chargedomain "github.com/classbill/classbill/internal/charge/domain"
	"github.com/classbill/classbill/internal/clock"
	feedomain "github.com/classbill/classbill/internal/fee/domain"
	invoicedomain "github.com/classbill/classbill/internal/invoice/domain"
	schooldomain "github.com/classbill/classbill/internal/school/domain"
	schoolrepo "github.com/classbill/classbill/internal/school/repository"
	"github.com/classbill/classbill/pkg/apperr"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubBalance struct {
	invalidations int
}

func (s *stubBalance) Snapshot(context.Context, snowflake.ID, snowflake.ID) (*balancedomain.Snapshot, error) {
	return &balancedomain.Snapshot{}, nil
}

func (s *stubBalance) Invalidate(context.Context, snowflake.ID, snowflake.ID) {
	s.invalidations++
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&schooldomain.School{},
		&schooldomain.Student{},
		&schooldomain.StudentSchool{},
		&feedomain.FeeDefinition{},
		&chargedomain.Charge{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceItem{},
	))
	return db
}

func newTestService(t *testing.T, db *gorm.DB, clk clock.Clock) (invoicedomain.Service, *snowflake.Node, *stubBalance) {
	t.Helper()
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	balances := &stubBalance{}
	svc := NewService(ServiceParam{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Students: schoolrepo.NewStudentLookup(db),
		Balances: balances,
	})
	return svc, node, balances
}

func seedStudent(t *testing.T, db *gorm.DB, node *snowflake.Node) (snowflake.ID, snowflake.ID) {
	t.Helper()
	schoolID := node.Generate()
	studentID := node.Generate()
	require.NoError(t, db.Create(&schooldomain.School{ID: schoolID, Name: "Testing High", Slug: schoolID.String()}).Error)
	require.NoError(t, db.Create(&schooldomain.Student{ID: studentID, FirstName: "Ada", LastName: "Lovelace"}).Error)
	require.NoError(t, db.Create(&schooldomain.StudentSchool{ID: node.Generate(), StudentID: studentID, SchoolID: schoolID}).Error)
	return schoolID, studentID
}

func seedFeeCharge(t *testing.T, db *gorm.DB, node *snowflake.Node, schoolID, studentID snowflake.ID, amount string, dueDate time.Time) *chargedomain.Charge {
	t.Helper()
	charge := &chargedomain.Charge{
		ID:            node.Generate(),
		SchoolID:      schoolID,
		StudentID:     studentID,
		Description:   "Tuition",
		Amount:        decimal.RequireFromString(amount),
		ChargeType:    chargedomain.ChargeTypeFee,
		Status:        chargedomain.ChargeStatusUnpaid,
		DueDate:       dueDate,
		DebtCreatedAt: dueDate.AddDate(0, -1, 0),
	}
	require.NoError(t, db.Create(charge).Error)
	return charge
}

func TestGenerateFailsWithoutUnpaidCharges(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	asOf := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	svc, node, _ := newTestService(t, db, clock.NewFakeClock(asOf))
	schoolID, studentID := seedStudent(t, db, node)

	_, err := svc.Generate(ctx, schoolID, studentID, asOf)
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	assert.Equal(t, "No unpaid charges available for invoice generation", err.Error())
}

func TestGenerateUnknownStudent(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	asOf := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	svc, node, _ := newTestService(t, db, clock.NewFakeClock(asOf))
	schoolID, _ := seedStudent(t, db, node)

	_, err := svc.Generate(ctx, schoolID, node.Generate(), asOf)
	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))
	assert.Equal(t, "Student not found", err.Error())
}

func TestGenerateTotalMatchesItems(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	asOf := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	svc, node, balances := newTestService(t, db, clock.NewFakeClock(asOf))
	schoolID, studentID := seedStudent(t, db, node)

	future := asOf.AddDate(0, 1, 0)
	first := seedFeeCharge(t, db, node, schoolID, studentID, "100.00", future)
	second := seedFeeCharge(t, db, node, schoolID, studentID, "25.50", future)

	invoice, err := svc.Generate(ctx, schoolID, studentID, asOf)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusOpen, invoice.Status)
	assert.Equal(t, "2026-02", invoice.Period)
	assert.True(t, invoice.TotalAmount.Equal(decimal.RequireFromString("125.50")), "total %s", invoice.TotalAmount)
	assert.Equal(t, 1, balances.invalidations)

	items, err := svc.ListItems(ctx, schoolID, invoice.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	itemsTotal := decimal.Zero
	for _, item := range items {
		itemsTotal = itemsTotal.Add(item.Amount)
	}
	assert.True(t, itemsTotal.Equal(invoice.TotalAmount))

	for _, chargeID := range []snowflake.ID{first.ID, second.ID} {
		var linked chargedomain.Charge
		require.NoError(t, db.First(&linked, "id = ?", chargeID).Error)
		require.NotNil(t, linked.InvoiceID)
		assert.Equal(t, invoice.ID, *linked.InvoiceID)
		assert.Equal(t, chargedomain.ChargeStatusUnpaid, linked.Status)
	}
}

func TestGeneratePostsInterestOnOverdueFee(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	dueDate := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	asOf := dueDate.AddDate(0, 0, 30)
	svc, node, _ := newTestService(t, db, clock.NewFakeClock(asOf))
	schoolID, studentID := seedStudent(t, db, node)

	fee := seedFeeCharge(t, db, node, schoolID, studentID, "100.00", dueDate)

	invoice, err := svc.Generate(ctx, schoolID, studentID, asOf)
	require.NoError(t, err)
	assert.True(t, invoice.TotalAmount.Equal(decimal.RequireFromString("102.00")), "total %s", invoice.TotalAmount)

	var interests []chargedomain.Charge
	require.NoError(t, db.Where("charge_type = ? AND origin_charge_id = ?", chargedomain.ChargeTypeInterest, fee.ID).Find(&interests).Error)
	require.Len(t, interests, 1)
	assert.True(t, interests[0].Amount.Equal(decimal.RequireFromString("2.00")))
	assert.Equal(t, "Interest for charge #"+fee.ID.String(), interests[0].Description)
	assert.Equal(t, chargedomain.DateOf(asOf), chargedomain.DateOf(interests[0].DueDate))
}

func TestGenerateInterestIsDeltaBased(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	dueDate := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	firstAsOf := dueDate.AddDate(0, 0, 30)
	clk := clock.NewFakeClock(firstAsOf)
	svc, node, _ := newTestService(t, db, clk)
	schoolID, studentID := seedStudent(t, db, node)

	fee := seedFeeCharge(t, db, node, schoolID, studentID, "100.00", dueDate)

	firstInvoice, err := svc.Generate(ctx, schoolID, studentID, firstAsOf)
	require.NoError(t, err)

	secondAsOf := dueDate.AddDate(0, 0, 60)
	clk.Advance(30 * 24 * time.Hour)
	secondInvoice, err := svc.Generate(ctx, schoolID, studentID, secondAsOf)
	require.NoError(t, err)

	// Cumulative interest at 60 days is 4.00; 2.00 was already posted, so the
	// second pass adds exactly one 2.00 row.
	var interests []chargedomain.Charge
	require.NoError(t, db.Where("charge_type = ? AND origin_charge_id = ?", chargedomain.ChargeTypeInterest, fee.ID).Order("id").Find(&interests).Error)
	require.Len(t, interests, 2)
	posted := decimal.Zero
	for _, row := range interests {
		posted = posted.Add(row.Amount)
	}
	assert.True(t, posted.Equal(decimal.RequireFromString("4.00")), "posted %s", posted)
	assert.True(t, secondInvoice.TotalAmount.Equal(decimal.RequireFromString("104.00")), "total %s", secondInvoice.TotalAmount)

	var previous invoicedomain.Invoice
	require.NoError(t, db.First(&previous, "id = ?", firstInvoice.ID).Error)
	assert.Equal(t, invoicedomain.InvoiceStatusClosed, previous.Status)
}

func TestGenerateReaccruesAfterInterestIsPaid(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	dueDate := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	firstAsOf := dueDate.AddDate(0, 0, 30)
	clk := clock.NewFakeClock(firstAsOf)
	svc, node, _ := newTestService(t, db, clk)
	schoolID, studentID := seedStudent(t, db, node)

	fee := seedFeeCharge(t, db, node, schoolID, studentID, "100.00", dueDate)

	_, err := svc.Generate(ctx, schoolID, studentID, firstAsOf)
	require.NoError(t, err)

	// Settle the 2.00 interest row while the base fee stays unpaid.
	require.NoError(t, db.Model(&chargedomain.Charge{}).
		Where("charge_type = ? AND origin_charge_id = ?", chargedomain.ChargeTypeInterest, fee.ID).
		Update("status", chargedomain.ChargeStatusPaid).Error)

	secondAsOf := dueDate.AddDate(0, 0, 60)
	clk.Advance(30 * 24 * time.Hour)
	second, err := svc.Generate(ctx, schoolID, studentID, secondAsOf)
	require.NoError(t, err)

	// Paid rows no longer offset the cumulative amount, so the full 4.00 owed
	// at 60 days posts as a fresh unpaid row.
	var unpaid []chargedomain.Charge
	require.NoError(t, db.Where("charge_type = ? AND origin_charge_id = ? AND status = ?",
		chargedomain.ChargeTypeInterest, fee.ID, chargedomain.ChargeStatusUnpaid).Find(&unpaid).Error)
	require.Len(t, unpaid, 1)
	assert.True(t, unpaid[0].Amount.Equal(decimal.RequireFromString("4.00")), "interest %s", unpaid[0].Amount)
	assert.True(t, second.TotalAmount.Equal(decimal.RequireFromString("104.00")), "total %s", second.TotalAmount)
}

func TestGenerateSameInstantPostsNoNewInterest(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	dueDate := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	asOf := dueDate.AddDate(0, 0, 30)
	svc, node, _ := newTestService(t, db, clock.NewFakeClock(asOf))
	schoolID, studentID := seedStudent(t, db, node)

	fee := seedFeeCharge(t, db, node, schoolID, studentID, "100.00", dueDate)

	_, err := svc.Generate(ctx, schoolID, studentID, asOf)
	require.NoError(t, err)
	second, err := svc.Generate(ctx, schoolID, studentID, asOf)
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&chargedomain.Charge{}).
		Where("charge_type = ? AND origin_charge_id = ?", chargedomain.ChargeTypeInterest, fee.ID).
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.True(t, second.TotalAmount.Equal(decimal.RequireFromString("102.00")))
}

func TestGenerateForSchoolIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	asOf := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	svc, node, _ := newTestService(t, db, clock.NewFakeClock(asOf))
	schoolID, billable := seedStudent(t, db, node)

	empty := node.Generate()
	require.NoError(t, db.Create(&schooldomain.Student{ID: empty, FirstName: "No", LastName: "Charges"}).Error)
	require.NoError(t, db.Create(&schooldomain.StudentSchool{ID: node.Generate(), StudentID: empty, SchoolID: schoolID}).Error)

	seedFeeCharge(t, db, node, schoolID, billable, "80.00", asOf.AddDate(0, 1, 0))

	result, err := svc.GenerateForSchool(ctx, schoolID, asOf)
	require.NoError(t, err)
	assert.Equal(t, 2, result.ProcessedStudents)
	assert.Equal(t, 1, result.GeneratedStudents)
	assert.Equal(t, 1, result.SkippedStudents)
	assert.Equal(t, 0, result.FailedStudents)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, empty, result.Errors[0].StudentID)
	assert.Equal(t, "skipped", result.Errors[0].Type)
	assert.Equal(t, "No unpaid charges available for invoice generation", result.Errors[0].Error)
}
