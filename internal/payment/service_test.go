package payment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/defter-erp/defter/internal/invoice"
	"github.com/defter-erp/defter/internal/money"
	"github.com/defter-erp/defter/internal/schedule"
	"github.com/defter-erp/defter/internal/shared"
)

type memoryStore struct {
	invoices map[int64]*invoice.Invoice
	entries  map[int64]*schedule.Entry
	payments map[uuid.UUID]*Payment
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		invoices: make(map[int64]*invoice.Invoice),
		entries:  make(map[int64]*schedule.Entry),
		payments: make(map[uuid.UUID]*Payment),
	}
}

func (m *memoryStore) Atomic(ctx context.Context, fn func(Store) error) error {
	return fn(m)
}

func (m *memoryStore) LoadInvoice(ctx context.Context, id int64) (*invoice.Invoice, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *memoryStore) SaveInvoice(ctx context.Context, inv *invoice.Invoice) error {
	cur, ok := m.invoices[inv.ID]
	if !ok {
		return shared.ErrNotFound
	}
	if cur.Version != inv.Version {
		return shared.ErrVersionConflict
	}
	cp := *inv
	cp.Version++
	m.invoices[inv.ID] = &cp
	inv.Version++
	return nil
}

func (m *memoryStore) LoadScheduleEntry(ctx context.Context, id int64) (*schedule.Entry, error) {
	e, ok := m.entries[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *memoryStore) LoadScheduleEntries(ctx context.Context, invoiceID int64) ([]schedule.Entry, error) {
	var out []schedule.Entry
	for _, e := range m.entries {
		if e.SourceInvoiceID != nil && *e.SourceInvoiceID == invoiceID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (m *memoryStore) SaveScheduleEntry(ctx context.Context, e *schedule.Entry) error {
	cur, ok := m.entries[e.ID]
	if !ok {
		return shared.ErrNotFound
	}
	if cur.Version != e.Version {
		return shared.ErrVersionConflict
	}
	cp := *e
	cp.Version++
	m.entries[e.ID] = &cp
	e.Version++
	return nil
}

func (m *memoryStore) LoadPayment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	p, ok := m.payments[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memoryStore) SavePayment(ctx context.Context, p *Payment) error {
	cp := *p
	m.payments[p.ID] = &cp
	return nil
}

var testNow = time.Date(2026, 4, 15, 10, 0, 0, 0, time.UTC)

func testService(store Store) *Service {
	return NewService(store).WithClock(func() time.Time { return testNow })
}

func sentInvoice(id int64, total string) *invoice.Invoice {
	customerID := int64(1)
	return &invoice.Invoice{
		ID:         id,
		Number:     "INV-2026-000001",
		Direction:  invoice.DirectionSales,
		CustomerID: &customerID,
		Currency:   "TRY",
		IssueDate:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		DueDate:    time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		Status:     invoice.StatusSent,
		GrandTotal: money.MustParse(total, "TRY"),
		PaidAmount: money.Zero("TRY"),
		Version:    1,
	}
}

func installmentEntry(id, invoiceID int64, number int, amount string) *schedule.Entry {
	return &schedule.Entry{
		ID:                id,
		SourceInvoiceID:   &invoiceID,
		Description:       "Installment",
		DueDate:           time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		Amount:            money.MustParse(amount, "TRY"),
		PaidAmount:        money.Zero("TRY"),
		InstallmentNumber: &number,
		Version:           1,
	}
}

func completedPayment(target TargetRef, amount string) Payment {
	return Payment{
		ID:          uuid.New(),
		Target:      target,
		Amount:      money.MustParse(amount, "TRY"),
		PaymentDate: testNow,
		Method:      "bank_transfer",
		Status:      StatusCompleted,
		Kind:        KindNormal,
	}
}

func TestReconcileFullPaymentSettlesInvoice(t *testing.T) {
	store := newMemoryStore()
	store.invoices[7] = sentInvoice(7, "290.00")
	svc := testService(store)

	res, err := svc.Reconcile(context.Background(),
		completedPayment(TargetRef{Kind: TargetInvoice, ID: 7}, "290.00"))
	require.NoError(t, err)
	require.True(t, res.TargetSettled)
	require.True(t, res.Outstanding.IsZero())
	require.Equal(t, invoice.StatusPaid, store.invoices[7].Status)
	require.True(t, store.invoices[7].PaidAmount.Equal(money.MustParse("290.00", "TRY")))
}

func TestReconcilePartialPaymentKeepsInvoiceOpen(t *testing.T) {
	store := newMemoryStore()
	store.invoices[7] = sentInvoice(7, "290.00")
	svc := testService(store)

	res, err := svc.Reconcile(context.Background(),
		completedPayment(TargetRef{Kind: TargetInvoice, ID: 7}, "100.00"))
	require.NoError(t, err)
	require.False(t, res.TargetSettled)
	require.True(t, res.Outstanding.Equal(money.MustParse("190.00", "TRY")))
	require.Equal(t, invoice.StatusSent, store.invoices[7].Status)
}

func TestReconcileDuplicateCompletedIDRejected(t *testing.T) {
	store := newMemoryStore()
	store.invoices[7] = sentInvoice(7, "290.00")
	svc := testService(store)

	p := completedPayment(TargetRef{Kind: TargetInvoice, ID: 7}, "100.00")
	_, err := svc.Reconcile(context.Background(), p)
	require.NoError(t, err)
	balanceAfterFirst := store.invoices[7].PaidAmount

	_, err = svc.Reconcile(context.Background(), p)
	require.ErrorIs(t, err, ErrDuplicatePayment)
	require.True(t, store.invoices[7].PaidAmount.Equal(balanceAfterFirst))
}

func TestReconcileOverpaymentRejectedWithExcess(t *testing.T) {
	store := newMemoryStore()
	store.invoices[7] = sentInvoice(7, "290.00")
	svc := testService(store)

	_, err := svc.Reconcile(context.Background(),
		completedPayment(TargetRef{Kind: TargetInvoice, ID: 7}, "300.00"))
	require.ErrorIs(t, err, ErrOverpayment)

	var over *OverpaymentError
	require.ErrorAs(t, err, &over)
	require.True(t, over.Excess.Equal(money.MustParse("10.00", "TRY")))
	require.True(t, store.invoices[7].PaidAmount.IsZero())
	require.Empty(t, store.payments)
}

func TestReconcileCurrencyMismatchRejected(t *testing.T) {
	store := newMemoryStore()
	store.invoices[7] = sentInvoice(7, "290.00")
	svc := testService(store)

	p := completedPayment(TargetRef{Kind: TargetInvoice, ID: 7}, "290.00")
	p.Amount = money.MustParse("290.00", "USD")
	_, err := svc.Reconcile(context.Background(), p)
	require.ErrorIs(t, err, money.ErrCurrencyMismatch)
	require.True(t, store.invoices[7].PaidAmount.IsZero())
}

func TestReconcileUnknownTarget(t *testing.T) {
	svc := testService(newMemoryStore())

	_, err := svc.Reconcile(context.Background(),
		completedPayment(TargetRef{Kind: TargetInvoice, ID: 99}, "10.00"))
	require.ErrorIs(t, err, ErrUnknownTarget)

	_, err = svc.Reconcile(context.Background(),
		completedPayment(TargetRef{Kind: TargetScheduleEntry, ID: 99}, "10.00"))
	require.ErrorIs(t, err, ErrUnknownTarget)
}

func TestReconcileSettledInvoiceRejectsRegularPayment(t *testing.T) {
	store := newMemoryStore()
	inv := sentInvoice(7, "290.00")
	inv.PaidAmount = inv.GrandTotal
	inv.Status = invoice.StatusPaid
	store.invoices[7] = inv
	svc := testService(store)

	_, err := svc.Reconcile(context.Background(),
		completedPayment(TargetRef{Kind: TargetInvoice, ID: 7}, "10.00"))
	require.ErrorIs(t, err, ErrAlreadySettled)
}

func TestReconcileRejectsCancelledInvoice(t *testing.T) {
	store := newMemoryStore()
	inv := sentInvoice(7, "290.00")
	inv.Status = invoice.StatusCancelled
	store.invoices[7] = inv
	svc := testService(store)

	_, err := svc.Reconcile(context.Background(),
		completedPayment(TargetRef{Kind: TargetInvoice, ID: 7}, "290.00"))
	require.ErrorIs(t, err, ErrTargetNotPayable)
	require.True(t, store.invoices[7].PaidAmount.IsZero())
	require.Equal(t, invoice.StatusCancelled, store.invoices[7].Status)
	require.Empty(t, store.payments)
}

func TestReconcileRejectsDraftInvoice(t *testing.T) {
	store := newMemoryStore()
	inv := sentInvoice(7, "290.00")
	inv.Status = invoice.StatusDraft
	store.invoices[7] = inv
	svc := testService(store)

	_, err := svc.Reconcile(context.Background(),
		completedPayment(TargetRef{Kind: TargetInvoice, ID: 7}, "100.00"))
	require.ErrorIs(t, err, ErrTargetNotPayable)
	require.True(t, store.invoices[7].PaidAmount.IsZero())
}

func TestReconcileAdjustmentAppliesToSettledInvoice(t *testing.T) {
	store := newMemoryStore()
	inv := sentInvoice(7, "290.00")
	inv.PaidAmount = inv.GrandTotal
	inv.Status = invoice.StatusPaid
	store.invoices[7] = inv
	svc := testService(store)

	p := completedPayment(TargetRef{Kind: TargetInvoice, ID: 7}, "10.00")
	p.Kind = KindAdjustment
	res, err := svc.Reconcile(context.Background(), p)
	require.NoError(t, err)
	require.True(t, res.Outstanding.Equal(money.MustParse("-10.00", "TRY")))
	require.True(t, store.invoices[7].PaidAmount.Equal(money.MustParse("300.00", "TRY")))
}

func TestReconcileFailedPaymentIsAuditOnly(t *testing.T) {
	store := newMemoryStore()
	store.invoices[7] = sentInvoice(7, "290.00")
	svc := testService(store)

	p := completedPayment(TargetRef{Kind: TargetInvoice, ID: 7}, "290.00")
	p.Status = StatusFailed
	res, err := svc.Reconcile(context.Background(), p)
	require.NoError(t, err)
	require.True(t, res.Applied.IsZero())
	require.False(t, res.TargetSettled)
	require.True(t, store.invoices[7].PaidAmount.IsZero())
	require.Contains(t, store.payments, p.ID)
}

func TestReconcileEntryExactPaymentMarksPaid(t *testing.T) {
	store := newMemoryStore()
	store.invoices[5] = sentInvoice(5, "290.00")
	store.entries[1] = installmentEntry(1, 5, 1, "96.67")
	store.entries[2] = installmentEntry(2, 5, 2, "96.67")
	svc := testService(store)

	res, err := svc.Reconcile(context.Background(),
		completedPayment(TargetRef{Kind: TargetScheduleEntry, ID: 1}, "96.67"))
	require.NoError(t, err)
	require.True(t, res.TargetSettled)
	require.True(t, store.entries[1].Paid)
	require.NotNil(t, store.entries[1].PaymentDate)
	require.Equal(t, testNow, *store.entries[1].PaymentDate)
	require.False(t, res.ParentInvoiceSettled)
	require.Equal(t, invoice.StatusSent, store.invoices[5].Status)
}

func TestReconcileLastInstallmentPromotesParentInvoice(t *testing.T) {
	store := newMemoryStore()
	store.invoices[5] = sentInvoice(5, "290.00")
	store.entries[1] = installmentEntry(1, 5, 1, "96.67")
	store.entries[2] = installmentEntry(2, 5, 2, "96.67")
	store.entries[3] = installmentEntry(3, 5, 3, "96.66")
	svc := testService(store)

	for id, amount := range map[int64]string{1: "96.67", 2: "96.67"} {
		_, err := svc.Reconcile(context.Background(),
			completedPayment(TargetRef{Kind: TargetScheduleEntry, ID: id}, amount))
		require.NoError(t, err)
	}
	require.Equal(t, invoice.StatusSent, store.invoices[5].Status)

	res, err := svc.Reconcile(context.Background(),
		completedPayment(TargetRef{Kind: TargetScheduleEntry, ID: 3}, "96.66"))
	require.NoError(t, err)
	require.True(t, res.TargetSettled)
	require.True(t, res.ParentInvoiceSettled)
	require.NotNil(t, res.ParentInvoiceID)
	require.Equal(t, int64(5), *res.ParentInvoiceID)
	require.Equal(t, invoice.StatusPaid, store.invoices[5].Status)
	require.True(t, store.invoices[5].Outstanding().IsZero())
}

func TestReconcileEntryPartialPaymentAccumulates(t *testing.T) {
	store := newMemoryStore()
	store.entries[1] = installmentEntry(1, 5, 1, "96.67")
	store.invoices[5] = sentInvoice(5, "290.00")
	svc := testService(store)

	res, err := svc.Reconcile(context.Background(),
		completedPayment(TargetRef{Kind: TargetScheduleEntry, ID: 1}, "50.00"))
	require.NoError(t, err)
	require.False(t, res.TargetSettled)
	require.False(t, store.entries[1].Paid)
	require.True(t, res.Outstanding.Equal(money.MustParse("46.67", "TRY")))

	res, err = svc.Reconcile(context.Background(),
		completedPayment(TargetRef{Kind: TargetScheduleEntry, ID: 1}, "46.67"))
	require.NoError(t, err)
	require.True(t, res.TargetSettled)
	require.True(t, store.entries[1].Paid)
}

func TestReconcilePreservesPlanReference(t *testing.T) {
	store := newMemoryStore()
	store.invoices[7] = sentInvoice(7, "290.00")
	svc := testService(store)

	planRef := "PLAN-2026-0007"
	p := completedPayment(TargetRef{Kind: TargetInvoice, ID: 7}, "100.00")
	p.PlanRef = &planRef
	res, err := svc.Reconcile(context.Background(), p)
	require.NoError(t, err)
	require.NotNil(t, res.Payment.PlanRef)
	require.Equal(t, planRef, *res.Payment.PlanRef)

	stored, err := svc.Get(context.Background(), p.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.PlanRef)
	require.Equal(t, planRef, *stored.PlanRef)
}

func TestReconcileRejectsNonPositiveAmount(t *testing.T) {
	svc := testService(newMemoryStore())

	p := completedPayment(TargetRef{Kind: TargetInvoice, ID: 7}, "0.00")
	_, err := svc.Reconcile(context.Background(), p)
	require.ErrorIs(t, err, ErrInvalidAmount)
}
