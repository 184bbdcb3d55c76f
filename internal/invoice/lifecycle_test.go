package invoice

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/defter-erp/defter/internal/money"
)

func draftInvoice(t *testing.T) *Invoice {
	t.Helper()
	la, err := ComputeLine(dec("1"), money.MustParse("100.00", "TRY"), dec("18"))
	require.NoError(t, err)
	totals, err := ComputeTotals("TRY", []LineAmounts{la})
	require.NoError(t, err)
	customerID := int64(7)
	return &Invoice{
		ID:         1,
		Direction:  DirectionSales,
		CustomerID: &customerID,
		Currency:   "TRY",
		DueDate:    time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		Lines: []LineItem{{
			Description: "consulting",
			Quantity:    dec("1"),
			UnitPrice:   money.MustParse("100.00", "TRY"),
			NetAmount:   la.NetAmount,
			TaxAmount:   la.TaxAmount,
			LineTotal:   la.LineTotal,
		}},
		Status:     StatusDraft,
		Subtotal:   totals.Subtotal,
		TaxTotal:   totals.TaxTotal,
		GrandTotal: totals.GrandTotal,
		PaidAmount: money.Zero("TRY"),
	}
}

func TestTransitionDraftToSentStampsIssueDate(t *testing.T) {
	inv := draftInvoice(t)
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	require.True(t, inv.IssueDate.IsZero())

	require.NoError(t, Transition(inv, StatusSent, now))
	require.Equal(t, StatusSent, inv.Status)
	require.Equal(t, now, inv.IssueDate)
}

func TestTransitionEmptyDraftRejected(t *testing.T) {
	inv := draftInvoice(t)
	inv.Lines = nil
	err := Transition(inv, StatusSent, time.Now())
	require.ErrorIs(t, err, ErrEmptyInvoice)
	require.Equal(t, StatusDraft, inv.Status)
}

func TestTransitionZeroTotalRejected(t *testing.T) {
	inv := draftInvoice(t)
	inv.GrandTotal = money.Zero("TRY")
	err := Transition(inv, StatusSent, time.Now())
	require.ErrorIs(t, err, ErrZeroTotal)
}

func TestTransitionSentToPaidRequiresSettledBalance(t *testing.T) {
	inv := draftInvoice(t)
	require.NoError(t, Transition(inv, StatusSent, time.Now()))

	err := Transition(inv, StatusPaid, time.Now())
	require.ErrorIs(t, err, ErrInvalidTransition)

	inv.PaidAmount = inv.GrandTotal
	require.NoError(t, Transition(inv, StatusPaid, time.Now()))
	require.Equal(t, StatusPaid, inv.Status)
}

func TestTransitionOverdue(t *testing.T) {
	inv := draftInvoice(t)
	require.NoError(t, Transition(inv, StatusSent, time.Now()))

	before := inv.DueDate.AddDate(0, 0, -1)
	err := Transition(inv, StatusOverdue, before)
	require.ErrorIs(t, err, ErrInvalidTransition)

	after := inv.DueDate.AddDate(0, 0, 1)
	require.NoError(t, Transition(inv, StatusOverdue, after))
	require.Equal(t, StatusOverdue, inv.Status)

	// Late payment settles an overdue invoice.
	inv.PaidAmount = inv.GrandTotal
	require.NoError(t, Transition(inv, StatusPaid, after))
}

func TestCancelledUnreachableFromPaid(t *testing.T) {
	inv := draftInvoice(t)
	require.NoError(t, Transition(inv, StatusSent, time.Now()))
	inv.PaidAmount = inv.GrandTotal
	require.NoError(t, Transition(inv, StatusPaid, time.Now()))

	err := Transition(inv, StatusCancelled, time.Now())
	require.ErrorIs(t, err, ErrCannotCancelPaid)
	require.Equal(t, StatusPaid, inv.Status)
}

func TestCancelWithPartialPaymentRejected(t *testing.T) {
	inv := draftInvoice(t)
	require.NoError(t, Transition(inv, StatusSent, time.Now()))
	inv.PaidAmount = money.MustParse("10.00", "TRY")

	err := Transition(inv, StatusCancelled, time.Now())
	require.ErrorIs(t, err, ErrCannotCancelPaid)
}

func TestCancelUnpaidAllowed(t *testing.T) {
	inv := draftInvoice(t)
	require.NoError(t, Transition(inv, StatusSent, time.Now()))
	require.NoError(t, Transition(inv, StatusCancelled, time.Now()))
	require.Equal(t, StatusCancelled, inv.Status)
}

func TestInvalidTransitionNamesStates(t *testing.T) {
	inv := draftInvoice(t)
	require.NoError(t, Transition(inv, StatusSent, time.Now()))
	inv.PaidAmount = inv.GrandTotal
	require.NoError(t, Transition(inv, StatusPaid, time.Now()))

	err := Transition(inv, StatusDraft, time.Now())
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	require.Equal(t, StatusPaid, te.From)
	require.Equal(t, StatusDraft, te.To)
}

func TestDeriveStatusOverdueAtRead(t *testing.T) {
	inv := draftInvoice(t)
	require.NoError(t, Transition(inv, StatusSent, time.Now()))

	onTime := inv.DueDate.AddDate(0, 0, -1)
	require.Equal(t, StatusSent, DeriveStatus(inv, onTime))

	late := inv.DueDate.AddDate(0, 0, 1)
	require.Equal(t, StatusOverdue, DeriveStatus(inv, late))

	// Settled invoices never read as overdue.
	inv.PaidAmount = inv.GrandTotal
	require.Equal(t, StatusSent, DeriveStatus(inv, late))
}
