package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	chargedomain "github.com/classbill/classbill/internal/charge/domain"
	"github.com/classbill/classbill/internal/clock"
	"github.com/classbill/classbill/internal/config"
	invoicedomain "github.com/classbill/classbill/internal/invoice/domain"
	"github.com/classbill/classbill/internal/observability/metrics"
	paymentdomain "github.com/classbill/classbill/internal/payment/domain"
	recondomain "github.com/classbill/classbill/internal/reconciliation/domain"
	"github.com/classbill/classbill/pkg/apperr"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testBed struct {
	db      *gorm.DB
	svc     recondomain.Service
	node    *snowflake.Node
	clk     *clock.FakeClock
	metrics *metrics.Metrics

	schoolID  snowflake.ID
	studentID snowflake.ID
}

func newTestBed(t *testing.T) *testBed {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&chargedomain.Charge{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceItem{},
		&paymentdomain.Payment{},
		&recondomain.Run{},
		&recondomain.Finding{},
	))

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))

	m := metrics.New(prometheus.NewRegistry())
	svc := NewService(ServiceParam{
		Config:  config.Config{ReconDuplicateWindowSeconds: 60},
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   clk,
		Metrics: m,
	})

	return &testBed{db: db, svc: svc, node: node, clk: clk, metrics: m, schoolID: node.Generate(), studentID: node.Generate()}
}

func (b *testBed) makeInvoice(t *testing.T, status invoicedomain.InvoiceStatus, total string, dueDate time.Time) *invoicedomain.Invoice {
	t.Helper()
	invoice := &invoicedomain.Invoice{
		ID:          b.node.Generate(),
		SchoolID:    b.schoolID,
		StudentID:   b.studentID,
		Period:      "2026-02",
		IssuedAt:    dueDate.AddDate(0, 0, -10),
		DueDate:     dueDate,
		TotalAmount: decimal.RequireFromString(total),
		Status:      status,
	}
	require.NoError(t, b.db.Create(invoice).Error)
	return invoice
}

func (b *testBed) makeItem(t *testing.T, invoiceID, chargeID snowflake.ID, amount string) *invoicedomain.InvoiceItem {
	t.Helper()
	item := &invoicedomain.InvoiceItem{
		ID:          b.node.Generate(),
		InvoiceID:   invoiceID,
		ChargeID:    chargeID,
		Description: "Tuition",
		Amount:      decimal.RequireFromString(amount),
		ChargeType:  chargedomain.ChargeTypeFee,
	}
	require.NoError(t, b.db.Create(item).Error)
	return item
}

func (b *testBed) makeCharge(t *testing.T, charge *chargedomain.Charge) *chargedomain.Charge {
	t.Helper()
	if charge.ID == 0 {
		charge.ID = b.node.Generate()
	}
	charge.SchoolID = b.schoolID
	if charge.StudentID == 0 {
		charge.StudentID = b.studentID
	}
	if charge.Description == "" {
		charge.Description = "Tuition"
	}
	if charge.DebtCreatedAt.IsZero() {
		charge.DebtCreatedAt = charge.DueDate
	}
	require.NoError(t, b.db.Create(charge).Error)
	return charge
}

func (b *testBed) makePayment(t *testing.T, invoiceID snowflake.ID, amount string, paidAt time.Time) *paymentdomain.Payment {
	t.Helper()
	payment := &paymentdomain.Payment{
		ID:        b.node.Generate(),
		SchoolID:  b.schoolID,
		StudentID: b.studentID,
		InvoiceID: invoiceID,
		Amount:    decimal.RequireFromString(amount),
		Method:    "cash",
		PaidAt:    paidAt,
	}
	require.NoError(t, b.db.Create(payment).Error)
	return payment
}

func (b *testBed) runAndFindings(t *testing.T) (*recondomain.Run, []*recondomain.Finding) {
	t.Helper()
	run, err := b.svc.Run(context.Background(), b.schoolID, nil)
	require.NoError(t, err)
	result, err := b.svc.GetRun(context.Background(), b.schoolID, run.ID)
	require.NoError(t, err)
	return result.Run, result.Findings
}

func findingsByCode(findings []*recondomain.Finding, code string) []*recondomain.Finding {
	var matched []*recondomain.Finding
	for _, finding := range findings {
		if finding.CheckCode == code {
			matched = append(matched, finding)
		}
	}
	return matched
}

func TestRunCompletesOnEmptyLedger(t *testing.T) {
	b := newTestBed(t)

	run, findings := b.runAndFindings(t)
	assert.Equal(t, recondomain.RunStatusCompleted, run.Status)
	require.NotNil(t, run.StartedAt)
	require.NotNil(t, run.FinishedAt)
	assert.Empty(t, findings)
}

func TestRunDetectsInvoiceTotalMismatch(t *testing.T) {
	b := newTestBed(t)
	dueDate := b.clk.Now().AddDate(0, 0, 10)
	invoice := b.makeInvoice(t, invoicedomain.InvoiceStatusOpen, "100.00", dueDate)
	charge := b.makeCharge(t, &chargedomain.Charge{
		Amount: decimal.RequireFromString("90.00"), ChargeType: chargedomain.ChargeTypeFee,
		Status: chargedomain.ChargeStatusUnpaid, DueDate: dueDate, InvoiceID: &invoice.ID,
	})
	b.makeItem(t, invoice.ID, charge.ID, "90.00")

	_, findings := b.runAndFindings(t)
	matched := findingsByCode(findings, "invoice_total_mismatch")
	require.Len(t, matched, 1)
	assert.Equal(t, recondomain.SeverityHigh, matched[0].Severity)
	assert.Equal(t, "invoice", matched[0].EntityType)
	assert.Equal(t, invoice.ID, matched[0].EntityID)
}

func TestRunDetectsInterestWithInvalidOrigin(t *testing.T) {
	b := newTestBed(t)
	dueDate := b.clk.Now().AddDate(0, 0, -5)

	noOrigin := b.makeCharge(t, &chargedomain.Charge{
		Amount: decimal.RequireFromString("2.00"), ChargeType: chargedomain.ChargeTypeInterest,
		Status: chargedomain.ChargeStatusUnpaid, DueDate: dueDate,
	})
	cancelled := b.makeCharge(t, &chargedomain.Charge{
		Amount: decimal.RequireFromString("100.00"), ChargeType: chargedomain.ChargeTypeFee,
		Status: chargedomain.ChargeStatusCancelled, DueDate: dueDate,
	})
	onCancelled := b.makeCharge(t, &chargedomain.Charge{
		Amount: decimal.RequireFromString("2.00"), ChargeType: chargedomain.ChargeTypeInterest,
		Status: chargedomain.ChargeStatusUnpaid, DueDate: dueDate, OriginChargeID: &cancelled.ID,
	})
	healthyBase := b.makeCharge(t, &chargedomain.Charge{
		Amount: decimal.RequireFromString("100.00"), ChargeType: chargedomain.ChargeTypeFee,
		Status: chargedomain.ChargeStatusUnpaid, DueDate: dueDate,
	})
	b.makeCharge(t, &chargedomain.Charge{
		Amount: decimal.RequireFromString("2.00"), ChargeType: chargedomain.ChargeTypeInterest,
		Status: chargedomain.ChargeStatusUnpaid, DueDate: dueDate, OriginChargeID: &healthyBase.ID,
	})

	_, findings := b.runAndFindings(t)
	matched := findingsByCode(findings, "interest_invalid_origin")
	require.Len(t, matched, 2)
	entityIDs := []snowflake.ID{matched[0].EntityID, matched[1].EntityID}
	assert.Contains(t, entityIDs, noOrigin.ID)
	assert.Contains(t, entityIDs, onCancelled.ID)
}

func TestRunDetectsOpenInvoiceWithSufficientPayments(t *testing.T) {
	b := newTestBed(t)
	dueDate := b.clk.Now().AddDate(0, 0, 10)
	invoice := b.makeInvoice(t, invoicedomain.InvoiceStatusOpen, "100.00", dueDate)
	charge := b.makeCharge(t, &chargedomain.Charge{
		Amount: decimal.RequireFromString("100.00"), ChargeType: chargedomain.ChargeTypeFee,
		Status: chargedomain.ChargeStatusPaid, DueDate: dueDate, InvoiceID: &invoice.ID,
	})
	b.makeItem(t, invoice.ID, charge.ID, "100.00")
	b.makePayment(t, invoice.ID, "100.00", dueDate.AddDate(0, 0, -1))

	_, findings := b.runAndFindings(t)
	matched := findingsByCode(findings, "invoice_open_with_sufficient_payments")
	require.Len(t, matched, 1)
	assert.Equal(t, invoice.ID, matched[0].EntityID)
}

func TestRunDetectsUnappliedNegativeCharge(t *testing.T) {
	b := newTestBed(t)
	dueDate := b.clk.Now().AddDate(0, 0, 10)
	invoice := b.makeInvoice(t, invoicedomain.InvoiceStatusOpen, "80.00", dueDate)
	fee := b.makeCharge(t, &chargedomain.Charge{
		Amount: decimal.RequireFromString("100.00"), ChargeType: chargedomain.ChargeTypeFee,
		Status: chargedomain.ChargeStatusPaid, DueDate: dueDate, InvoiceID: &invoice.ID,
	})
	credit := b.makeCharge(t, &chargedomain.Charge{
		Amount: decimal.RequireFromString("-20.00"), ChargeType: chargedomain.ChargeTypePenalty,
		Status: chargedomain.ChargeStatusUnpaid, DueDate: dueDate, InvoiceID: &invoice.ID,
	})
	b.makeItem(t, invoice.ID, fee.ID, "100.00")
	b.makeItem(t, invoice.ID, credit.ID, "-20.00")
	b.makePayment(t, invoice.ID, "100.00", dueDate.AddDate(0, 0, -1))

	_, findings := b.runAndFindings(t)
	matched := findingsByCode(findings, "unapplied_negative_charge")
	require.Len(t, matched, 1)
	assert.Equal(t, credit.ID, matched[0].EntityID)
}

func TestRunDetectsDuplicatePaymentsWithinWindow(t *testing.T) {
	b := newTestBed(t)
	dueDate := b.clk.Now().AddDate(0, 0, 10)
	invoice := b.makeInvoice(t, invoicedomain.InvoiceStatusOpen, "200.00", dueDate)
	paidAt := dueDate.Add(-48 * time.Hour)

	b.makePayment(t, invoice.ID, "50.00", paidAt)
	duplicate := b.makePayment(t, invoice.ID, "50.00", paidAt.Add(10*time.Second))
	b.makePayment(t, invoice.ID, "50.00", paidAt.Add(10*time.Minute))

	_, findings := b.runAndFindings(t)
	matched := findingsByCode(findings, "duplicate_payment_window")
	require.Len(t, matched, 1)
	assert.Equal(t, duplicate.ID, matched[0].EntityID)
}

func TestRunFlagsEveryDuplicatePairInWindow(t *testing.T) {
	b := newTestBed(t)
	dueDate := b.clk.Now().AddDate(0, 0, 10)
	invoice := b.makeInvoice(t, invoicedomain.InvoiceStatusOpen, "200.00", dueDate)
	paidAt := dueDate.Add(-48 * time.Hour)

	b.makePayment(t, invoice.ID, "50.00", paidAt)
	second := b.makePayment(t, invoice.ID, "50.00", paidAt.Add(10*time.Second))
	third := b.makePayment(t, invoice.ID, "50.00", paidAt.Add(20*time.Second))

	_, findings := b.runAndFindings(t)
	matched := findingsByCode(findings, "duplicate_payment_window")
	require.Len(t, matched, 3)
	var entityIDs []snowflake.ID
	for _, finding := range matched {
		entityIDs = append(entityIDs, finding.EntityID)
	}
	assert.ElementsMatch(t, []snowflake.ID{second.ID, third.ID, third.ID}, entityIDs)
}

func TestRunDetectsOrphanUnpaidCharge(t *testing.T) {
	b := newTestBed(t)
	asOf := b.clk.Now()
	b.makeInvoice(t, invoicedomain.InvoiceStatusOpen, "100.00", asOf.AddDate(0, 0, 10))
	orphan := b.makeCharge(t, &chargedomain.Charge{
		Amount: decimal.RequireFromString("40.00"), ChargeType: chargedomain.ChargeTypeFee,
		Status: chargedomain.ChargeStatusUnpaid, DueDate: asOf.AddDate(0, 0, -3),
	})

	_, findings := b.runAndFindings(t)
	matched := findingsByCode(findings, "orphan_unpaid_charge")
	require.Len(t, matched, 1)
	assert.Equal(t, orphan.ID, matched[0].EntityID)
}

func TestRunDetectsCancelledChargeItemWithoutResidual(t *testing.T) {
	b := newTestBed(t)
	dueDate := b.clk.Now().AddDate(0, 0, 10)
	invoice := b.makeInvoice(t, invoicedomain.InvoiceStatusOpen, "150.00", dueDate)

	replaced := b.makeCharge(t, &chargedomain.Charge{
		Amount: decimal.RequireFromString("100.00"), ChargeType: chargedomain.ChargeTypeFee,
		Status: chargedomain.ChargeStatusCancelled, DueDate: dueDate, InvoiceID: &invoice.ID,
	})
	b.makeCharge(t, &chargedomain.Charge{
		Amount: decimal.RequireFromString("100.00"), ChargeType: chargedomain.ChargeTypeFee,
		Status: chargedomain.ChargeStatusUnpaid, DueDate: dueDate, OriginChargeID: &replaced.ID,
	})
	abandoned := b.makeCharge(t, &chargedomain.Charge{
		Amount: decimal.RequireFromString("50.00"), ChargeType: chargedomain.ChargeTypeFee,
		Status: chargedomain.ChargeStatusCancelled, DueDate: dueDate, InvoiceID: &invoice.ID,
	})
	b.makeItem(t, invoice.ID, replaced.ID, "100.00")
	orphanItem := b.makeItem(t, invoice.ID, abandoned.ID, "50.00")

	_, findings := b.runAndFindings(t)
	matched := findingsByCode(findings, "invoice_item_cancelled_charge_no_residual")
	require.Len(t, matched, 1)
	assert.Equal(t, orphanItem.ID, matched[0].EntityID)
}

func TestRunSummaryCounts(t *testing.T) {
	b := newTestBed(t)
	dueDate := b.clk.Now().AddDate(0, 0, 10)
	invoice := b.makeInvoice(t, invoicedomain.InvoiceStatusOpen, "100.00", dueDate)
	charge := b.makeCharge(t, &chargedomain.Charge{
		Amount: decimal.RequireFromString("90.00"), ChargeType: chargedomain.ChargeTypeFee,
		Status: chargedomain.ChargeStatusUnpaid, DueDate: dueDate, InvoiceID: &invoice.ID,
	})
	b.makeItem(t, invoice.ID, charge.ID, "90.00")
	b.makeCharge(t, &chargedomain.Charge{
		Amount: decimal.RequireFromString("2.00"), ChargeType: chargedomain.ChargeTypeInterest,
		Status: chargedomain.ChargeStatusUnpaid, DueDate: dueDate,
	})

	run, err := b.svc.Run(context.Background(), b.schoolID, nil)
	require.NoError(t, err)
	assert.Equal(t, recondomain.RunStatusCompleted, run.Status)

	assert.EqualValues(t, 2, run.Summary["findings_total"])
	byCheck, ok := run.Summary["by_check"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1, byCheck["invoice_total_mismatch"])
	assert.EqualValues(t, 1, byCheck["interest_invalid_origin"])
	bySeverity, ok := run.Summary["by_severity"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 2, bySeverity["high"])
	assert.Equal(t, float64(2), testutil.ToFloat64(b.metrics.ReconFindings.WithLabelValues("high")))
}

func TestRunFailureNeverLeavesRunRunning(t *testing.T) {
	b := newTestBed(t)
	dueDate := b.clk.Now().AddDate(0, 0, 10)
	invoice := b.makeInvoice(t, invoicedomain.InvoiceStatusOpen, "100.00", dueDate)
	charge := b.makeCharge(t, &chargedomain.Charge{
		Amount: decimal.RequireFromString("90.00"), ChargeType: chargedomain.ChargeTypeFee,
		Status: chargedomain.ChargeStatusUnpaid, DueDate: dueDate, InvoiceID: &invoice.ID,
	})
	b.makeItem(t, invoice.ID, charge.ID, "90.00")

	// Findings can no longer be persisted.
	require.NoError(t, b.db.Migrator().DropTable(&recondomain.Finding{}))

	run, err := b.svc.Run(context.Background(), b.schoolID, nil)
	require.NoError(t, err)
	assert.Equal(t, recondomain.RunStatusFailed, run.Status)
	assert.Contains(t, run.Summary, "error")
	require.NotNil(t, run.FinishedAt)

	var stored recondomain.Run
	require.NoError(t, b.db.First(&stored, "id = ?", run.ID).Error)
	assert.Equal(t, recondomain.RunStatusFailed, stored.Status)

	// Nothing was persisted, so nothing was counted either.
	assert.Equal(t, float64(0), testutil.ToFloat64(b.metrics.ReconFindings.WithLabelValues("high")))
}

func TestRunsAreTenantScoped(t *testing.T) {
	b := newTestBed(t)
	otherSchool := b.node.Generate()

	run, err := b.svc.Run(context.Background(), b.schoolID, nil)
	require.NoError(t, err)

	_, err = b.svc.GetRun(context.Background(), otherSchool, run.ID)
	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))
	assert.Equal(t, "Reconciliation run not found", err.Error())
}

func TestListRunsReturnsNewestFirst(t *testing.T) {
	b := newTestBed(t)
	first, err := b.svc.Run(context.Background(), b.schoolID, nil)
	require.NoError(t, err)
	b.clk.Advance(time.Minute)
	second, err := b.svc.Run(context.Background(), b.schoolID, nil)
	require.NoError(t, err)

	runs, err := b.svc.ListRuns(context.Background(), b.schoolID)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID)
	assert.Equal(t, first.ID, runs[1].ID)
}
