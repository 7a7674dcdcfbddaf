package service

import (
	"context"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	chargedomain "github.com/classbill/classbill/internal/charge/domain"
	invoicedomain "github.com/classbill/classbill/internal/invoice/domain"
	paymentdomain "github.com/classbill/classbill/internal/payment/domain"
	recondomain "github.com/classbill/classbill/internal/reconciliation/domain"
	"github.com/classbill/classbill/pkg/db/option"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ledgerSnapshot is the read-once working set shared by every check. Charges
// are loaded without the soft-delete filter so origin checks can see deleted
// rows.
type ledgerSnapshot struct {
	invoices []*invoicedomain.Invoice
	items    []*invoicedomain.InvoiceItem
	charges  []*chargedomain.Charge
	payments []*paymentdomain.Payment

	chargeByID     map[snowflake.ID]*chargedomain.Charge
	itemsByInvoice map[snowflake.ID][]*invoicedomain.InvoiceItem
	payByInvoice   map[snowflake.ID][]*paymentdomain.Payment
	originRefs     map[snowflake.ID]bool
}

func (s *Service) loadSnapshot(ctx context.Context, schoolID snowflake.ID) (*ledgerSnapshot, error) {
	snap := &ledgerSnapshot{
		chargeByID:     map[snowflake.ID]*chargedomain.Charge{},
		itemsByInvoice: map[snowflake.ID][]*invoicedomain.InvoiceItem{},
		payByInvoice:   map[snowflake.ID][]*paymentdomain.Payment{},
		originRefs:     map[snowflake.ID]bool{},
	}

	var err error
	if snap.invoices, err = s.invoicerepo.Find(ctx, &invoicedomain.Invoice{SchoolID: schoolID}, option.Active()); err != nil {
		return nil, err
	}
	if snap.charges, err = s.chargerepo.Find(ctx, &chargedomain.Charge{SchoolID: schoolID}); err != nil {
		return nil, err
	}
	if snap.payments, err = s.paymentrepo.Find(ctx, &paymentdomain.Payment{SchoolID: schoolID}, option.Active()); err != nil {
		return nil, err
	}
	if len(snap.invoices) > 0 {
		invoiceIDs := make([]snowflake.ID, 0, len(snap.invoices))
		for _, invoice := range snap.invoices {
			invoiceIDs = append(invoiceIDs, invoice.ID)
		}
		if err := s.db.WithContext(ctx).
			Where("invoice_id IN ?", invoiceIDs).
			Order("id").
			Find(&snap.items).Error; err != nil {
			return nil, err
		}
	}

	for _, charge := range snap.charges {
		snap.chargeByID[charge.ID] = charge
		if charge.OriginChargeID != nil && charge.DeletedAt == nil && charge.Status != chargedomain.ChargeStatusCancelled {
			snap.originRefs[*charge.OriginChargeID] = true
		}
	}
	for _, item := range snap.items {
		snap.itemsByInvoice[item.InvoiceID] = append(snap.itemsByInvoice[item.InvoiceID], item)
	}
	for _, payment := range snap.payments {
		snap.payByInvoice[payment.InvoiceID] = append(snap.payByInvoice[payment.InvoiceID], payment)
	}
	return snap, nil
}

func (s *Service) executeChecks(ctx context.Context, schoolID snowflake.ID, asOf time.Time) ([]*recondomain.Finding, error) {
	snap, err := s.loadSnapshot(ctx, schoolID)
	if err != nil {
		return nil, err
	}

	findings := []*recondomain.Finding{}
	findings = append(findings, checkInvoiceTotalMismatch(snap)...)
	findings = append(findings, checkOrphanUnpaidCharge(snap, asOf)...)
	findings = append(findings, checkCancelledChargeNoResidual(snap)...)
	findings = append(findings, checkInterestInvalidOrigin(snap)...)
	findings = append(findings, checkOpenWithSufficientPayments(snap)...)
	findings = append(findings, checkUnappliedNegativeCharge(snap)...)
	findings = append(findings, checkDuplicatePaymentWindow(snap, s.duplicateWindow)...)
	return findings, nil
}

func checkInvoiceTotalMismatch(snap *ledgerSnapshot) []*recondomain.Finding {
	var findings []*recondomain.Finding
	for _, invoice := range snap.invoices {
		itemTotal := decimal.Zero
		for _, item := range snap.itemsByInvoice[invoice.ID] {
			itemTotal = itemTotal.Add(item.Amount)
		}
		itemTotal = itemTotal.Round(2)
		if itemTotal.Equal(invoice.TotalAmount) {
			continue
		}
		findings = append(findings, &recondomain.Finding{
			CheckCode:  "invoice_total_mismatch",
			Severity:   recondomain.SeverityHigh,
			EntityType: "invoice",
			EntityID:   invoice.ID,
			Message:    "Invoice total does not match the sum of its items",
			Details: datatypes.JSONMap{
				"total_amount": invoice.TotalAmount.String(),
				"items_total":  itemTotal.String(),
			},
		})
	}
	return findings
}

func checkOrphanUnpaidCharge(snap *ledgerSnapshot, asOf time.Time) []*recondomain.Finding {
	asOfDate := chargedomain.DateOf(asOf)
	openNotDue := map[snowflake.ID]*invoicedomain.Invoice{}
	for _, invoice := range snap.invoices {
		if invoice.Status == invoicedomain.InvoiceStatusOpen && !chargedomain.DateOf(invoice.DueDate).Before(asOfDate) {
			openNotDue[invoice.StudentID] = invoice
		}
	}

	var findings []*recondomain.Finding
	for _, charge := range snap.charges {
		if charge.DeletedAt != nil || charge.Status != chargedomain.ChargeStatusUnpaid || charge.InvoiceID != nil {
			continue
		}
		if chargedomain.DateOf(charge.DueDate).After(asOfDate) {
			continue
		}
		invoice, ok := openNotDue[charge.StudentID]
		if !ok {
			continue
		}
		findings = append(findings, &recondomain.Finding{
			CheckCode:  "orphan_unpaid_charge",
			Severity:   recondomain.SeverityMedium,
			EntityType: "charge",
			EntityID:   charge.ID,
			Message:    "Due unbilled charge while the student has an open invoice",
			Details: datatypes.JSONMap{
				"open_invoice_id": invoice.ID.String(),
				"due_date":        charge.DueDate.Format("2006-01-02"),
			},
		})
	}
	return findings
}

func checkCancelledChargeNoResidual(snap *ledgerSnapshot) []*recondomain.Finding {
	var findings []*recondomain.Finding
	for _, item := range snap.items {
		charge, ok := snap.chargeByID[item.ChargeID]
		if !ok || charge.Status != chargedomain.ChargeStatusCancelled {
			continue
		}
		if snap.originRefs[charge.ID] {
			continue
		}
		findings = append(findings, &recondomain.Finding{
			CheckCode:  "invoice_item_cancelled_charge_no_residual",
			Severity:   recondomain.SeverityMedium,
			EntityType: "invoice_item",
			EntityID:   item.ID,
			Message:    "Invoice item references a cancelled charge with no replacement",
			Details: datatypes.JSONMap{
				"invoice_id": item.InvoiceID.String(),
				"charge_id":  item.ChargeID.String(),
			},
		})
	}
	return findings
}

func checkInterestInvalidOrigin(snap *ledgerSnapshot) []*recondomain.Finding {
	var findings []*recondomain.Finding
	for _, charge := range snap.charges {
		if charge.DeletedAt != nil || charge.ChargeType != chargedomain.ChargeTypeInterest {
			continue
		}
		reason := ""
		switch {
		case charge.OriginChargeID == nil:
			reason = "missing"
		default:
			origin, ok := snap.chargeByID[*charge.OriginChargeID]
			switch {
			case !ok:
				reason = "missing"
			case origin.DeletedAt != nil:
				reason = "deleted"
			case origin.Status == chargedomain.ChargeStatusCancelled:
				reason = "cancelled"
			}
		}
		if reason == "" {
			continue
		}
		findings = append(findings, &recondomain.Finding{
			CheckCode:  "interest_invalid_origin",
			Severity:   recondomain.SeverityHigh,
			EntityType: "charge",
			EntityID:   charge.ID,
			Message:    "Interest charge has an invalid origin charge",
			Details:    datatypes.JSONMap{"reason": reason},
		})
	}
	return findings
}

func checkOpenWithSufficientPayments(snap *ledgerSnapshot) []*recondomain.Finding {
	var findings []*recondomain.Finding
	for _, invoice := range snap.invoices {
		if invoice.Status != invoicedomain.InvoiceStatusOpen {
			continue
		}
		payments := snap.payByInvoice[invoice.ID]
		if len(payments) == 0 {
			continue
		}
		paid := decimal.Zero
		for _, payment := range payments {
			paid = paid.Add(payment.Amount)
		}
		if paid.LessThan(invoice.TotalAmount) {
			continue
		}
		findings = append(findings, &recondomain.Finding{
			CheckCode:  "invoice_open_with_sufficient_payments",
			Severity:   recondomain.SeverityHigh,
			EntityType: "invoice",
			EntityID:   invoice.ID,
			Message:    "Invoice is still open although payments cover its total",
			Details: datatypes.JSONMap{
				"total_amount": invoice.TotalAmount.String(),
				"paid_total":   paid.Round(2).String(),
			},
		})
	}
	return findings
}

func checkUnappliedNegativeCharge(snap *ledgerSnapshot) []*recondomain.Finding {
	var findings []*recondomain.Finding
	for _, charge := range snap.charges {
		if charge.DeletedAt != nil || charge.Status != chargedomain.ChargeStatusUnpaid {
			continue
		}
		if !charge.Amount.IsNegative() || charge.InvoiceID == nil {
			continue
		}
		if len(snap.payByInvoice[*charge.InvoiceID]) == 0 {
			continue
		}
		findings = append(findings, &recondomain.Finding{
			CheckCode:  "unapplied_negative_charge",
			Severity:   recondomain.SeverityMedium,
			EntityType: "charge",
			EntityID:   charge.ID,
			Message:    "Negative charge was not consumed by payments on its invoice",
			Details: datatypes.JSONMap{
				"invoice_id": charge.InvoiceID.String(),
				"amount":     charge.Amount.String(),
			},
		})
	}
	return findings
}

func checkDuplicatePaymentWindow(snap *ledgerSnapshot, window time.Duration) []*recondomain.Finding {
	type bucket struct {
		student snowflake.ID
		amount  string
	}
	grouped := map[bucket][]*paymentdomain.Payment{}
	for _, payment := range snap.payments {
		key := bucket{student: payment.StudentID, amount: payment.Amount.String()}
		grouped[key] = append(grouped[key], payment)
	}

	var findings []*recondomain.Finding
	for _, payments := range grouped {
		if len(payments) < 2 {
			continue
		}
		sort.Slice(payments, func(i, j int) bool {
			if payments[i].PaidAt.Equal(payments[j].PaidAt) {
				return payments[i].ID < payments[j].ID
			}
			return payments[i].PaidAt.Before(payments[j].PaidAt)
		})
		// One finding per qualifying pair, flagged on the later payment. The
		// slice is sorted by paid_at, so once a pair exceeds the window every
		// later partner of the same earlier payment does too.
		for i := 0; i < len(payments)-1; i++ {
			for j := i + 1; j < len(payments); j++ {
				gap := payments[j].PaidAt.Sub(payments[i].PaidAt)
				if gap > window {
					break
				}
				findings = append(findings, &recondomain.Finding{
					CheckCode:  "duplicate_payment_window",
					Severity:   recondomain.SeverityHigh,
					EntityType: "payment",
					EntityID:   payments[j].ID,
					Message:    "Possible duplicate payment within the detection window",
					Details: datatypes.JSONMap{
						"previous_payment_id": payments[i].ID.String(),
						"amount":              payments[j].Amount.String(),
						"gap_seconds":         gap.Seconds(),
					},
				})
			}
		}
	}
	sort.Slice(findings, func(i, j int) bool { return findings[i].EntityID < findings[j].EntityID })
	return findings
}
