package invoice

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/defter-erp/defter/internal/money"
	"github.com/defter-erp/defter/internal/shared"
)

type memoryInvoiceRepo struct {
	invoices map[int64]*Invoice
	nextID   int64
}

func newMemoryInvoiceRepo() *memoryInvoiceRepo {
	return &memoryInvoiceRepo{invoices: make(map[int64]*Invoice)}
}

func (r *memoryInvoiceRepo) CreateInvoice(ctx context.Context, inv *Invoice) (*Invoice, error) {
	r.nextID++
	inv.ID = r.nextID
	if inv.Number == "" {
		inv.Number = fmt.Sprintf("INV-2026-%06d", r.nextID)
	}
	inv.Version = 1
	stored := *inv
	r.invoices[inv.ID] = &stored
	return inv, nil
}

func (r *memoryInvoiceRepo) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	inv, ok := r.invoices[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *inv
	cp.Lines = append([]LineItem(nil), inv.Lines...)
	return &cp, nil
}

func (r *memoryInvoiceRepo) ListInvoices(ctx context.Context, req ListRequest) ([]Invoice, error) {
	var out []Invoice
	for _, inv := range r.invoices {
		if req.Status != "" && inv.Status != req.Status {
			continue
		}
		if req.Direction != "" && inv.Direction != req.Direction {
			continue
		}
		out = append(out, *inv)
	}
	return out, nil
}

func (r *memoryInvoiceRepo) SaveInvoice(ctx context.Context, inv *Invoice) error {
	stored, ok := r.invoices[inv.ID]
	if !ok {
		return shared.ErrNotFound
	}
	if stored.Version != inv.Version {
		return fmt.Errorf("invoice: save %d: %w", inv.ID, shared.ErrVersionConflict)
	}
	inv.Version++
	cp := *inv
	cp.Lines = append([]LineItem(nil), inv.Lines...)
	r.invoices[inv.ID] = &cp
	return nil
}

func (r *memoryInvoiceRepo) DeleteInvoice(ctx context.Context, id int64) error {
	if _, ok := r.invoices[id]; !ok {
		return shared.ErrNotFound
	}
	delete(r.invoices, id)
	return nil
}

type stubScheduleChecker struct {
	referenced map[int64]bool
}

func (s *stubScheduleChecker) HasEntriesForInvoice(ctx context.Context, invoiceID int64) (bool, error) {
	return s.referenced[invoiceID], nil
}

func newTestService() (*Service, *memoryInvoiceRepo, *stubScheduleChecker) {
	repo := newMemoryInvoiceRepo()
	checker := &stubScheduleChecker{referenced: make(map[int64]bool)}
	svc := NewService(repo, checker).WithClock(func() time.Time {
		return time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	})
	return svc, repo, checker
}

func salesInput() CreateInput {
	customerID := int64(42)
	return CreateInput{
		Direction:  DirectionSales,
		CustomerID: &customerID,
		Currency:   "TRY",
		DueDate:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Lines: []LineInput{
			{Description: "widget", Quantity: dec("2"), UnitPrice: money.MustParse("100.00", "TRY"), TaxRatePercent: dec("18")},
			{Description: "gadget", Quantity: dec("1"), UnitPrice: money.MustParse("50.00", "TRY"), TaxRatePercent: dec("8")},
		},
	}
}

func TestCreateComputesTotals(t *testing.T) {
	svc, _, _ := newTestService()

	inv, err := svc.Create(context.Background(), salesInput())
	require.NoError(t, err)
	require.Equal(t, StatusDraft, inv.Status)
	require.True(t, inv.Subtotal.Equal(money.MustParse("250.00", "TRY")))
	require.True(t, inv.TaxTotal.Equal(money.MustParse("40.00", "TRY")))
	require.True(t, inv.GrandTotal.Equal(money.MustParse("290.00", "TRY")))
	require.Len(t, inv.Lines, 2)
	require.NotEmpty(t, inv.Number)
}

type stubRateSource struct {
	rates map[int64]string
}

func (s *stubRateSource) RateFor(ctx context.Context, taxID int64) (decimal.Decimal, error) {
	rate, ok := s.rates[taxID]
	if !ok {
		return decimal.Decimal{}, shared.ErrNotFound
	}
	return dec(rate), nil
}

func TestCreateResolvesRateFromTaxRule(t *testing.T) {
	svc, _, _ := newTestService()
	svc.WithTaxRates(&stubRateSource{rates: map[int64]string{3: "18"}})

	taxID := int64(3)
	input := salesInput()
	input.Lines = []LineInput{
		{Description: "widget", Quantity: dec("1"), UnitPrice: money.MustParse("100.00", "TRY"), TaxID: &taxID},
	}
	inv, err := svc.Create(context.Background(), input)
	require.NoError(t, err)
	require.True(t, inv.Lines[0].TaxRatePercent.Equal(dec("18")))
	require.True(t, inv.GrandTotal.Equal(money.MustParse("118.00", "TRY")))
}

func TestCreateRejectsUnknownTaxRule(t *testing.T) {
	svc, _, _ := newTestService()
	svc.WithTaxRates(&stubRateSource{rates: map[int64]string{}})

	taxID := int64(99)
	input := salesInput()
	input.Lines[0].TaxID = &taxID
	_, err := svc.Create(context.Background(), input)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCreateRejectsTaxRuleWithoutSource(t *testing.T) {
	svc, _, _ := newTestService()

	taxID := int64(3)
	input := salesInput()
	input.Lines[0].TaxID = &taxID
	_, err := svc.Create(context.Background(), input)
	require.Error(t, err)
}

func TestCreateRejectsBothParties(t *testing.T) {
	svc, _, _ := newTestService()
	input := salesInput()
	supplierID := int64(9)
	input.SupplierID = &supplierID

	_, err := svc.Create(context.Background(), input)
	require.ErrorIs(t, err, ErrInvalidParty)
}

func TestCreateRejectsNeitherParty(t *testing.T) {
	svc, _, _ := newTestService()
	input := salesInput()
	input.CustomerID = nil

	_, err := svc.Create(context.Background(), input)
	require.ErrorIs(t, err, ErrInvalidParty)
}

func TestCreateRejectsMixedCurrencyLine(t *testing.T) {
	svc, _, _ := newTestService()
	input := salesInput()
	input.Lines[1].UnitPrice = money.MustParse("50.00", "USD")

	_, err := svc.Create(context.Background(), input)
	require.ErrorIs(t, err, money.ErrCurrencyMismatch)
}

func TestCreateRejectsDueBeforeIssue(t *testing.T) {
	svc, _, _ := newTestService()
	input := salesInput()
	input.IssueDate = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	_, err := svc.Create(context.Background(), input)
	require.ErrorIs(t, err, ErrDueBeforeIssue)
}

func TestReplaceLinesRecomputesTotals(t *testing.T) {
	svc, _, _ := newTestService()
	inv, err := svc.Create(context.Background(), salesInput())
	require.NoError(t, err)

	updated, err := svc.ReplaceLines(context.Background(), inv.ID, []LineInput{
		{Description: "widget", Quantity: dec("1"), UnitPrice: money.MustParse("100.00", "TRY"), TaxRatePercent: dec("18")},
	})
	require.NoError(t, err)
	require.True(t, updated.GrandTotal.Equal(money.MustParse("118.00", "TRY")))
	require.Len(t, updated.Lines, 1)
}

func TestReplaceLinesRejectedAfterSend(t *testing.T) {
	svc, _, _ := newTestService()
	inv, err := svc.Create(context.Background(), salesInput())
	require.NoError(t, err)
	_, err = svc.Transition(context.Background(), inv.ID, StatusSent)
	require.NoError(t, err)

	_, err = svc.ReplaceLines(context.Background(), inv.ID, nil)
	require.ErrorIs(t, err, ErrNotDraft)
}

func TestTransitionPersistsAndBumpsVersion(t *testing.T) {
	svc, repo, _ := newTestService()
	inv, err := svc.Create(context.Background(), salesInput())
	require.NoError(t, err)

	sent, err := svc.Transition(context.Background(), inv.ID, StatusSent)
	require.NoError(t, err)
	require.Equal(t, StatusSent, sent.Status)
	require.False(t, sent.IssueDate.IsZero())

	stored := repo.invoices[inv.ID]
	require.Equal(t, StatusSent, stored.Status)
	require.Equal(t, int64(2), stored.Version)
}

func TestDeleteRejectsReferencedInvoice(t *testing.T) {
	svc, _, checker := newTestService()
	inv, err := svc.Create(context.Background(), salesInput())
	require.NoError(t, err)
	checker.referenced[inv.ID] = true

	err = svc.Delete(context.Background(), inv.ID)
	require.ErrorIs(t, err, ErrInvoiceReferenced)
}

func TestDeleteDraft(t *testing.T) {
	svc, repo, _ := newTestService()
	inv, err := svc.Create(context.Background(), salesInput())
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), inv.ID))
	require.NotContains(t, repo.invoices, inv.ID)
}

func TestDeleteNonDraftRejected(t *testing.T) {
	svc, _, _ := newTestService()
	inv, err := svc.Create(context.Background(), salesInput())
	require.NoError(t, err)
	_, err = svc.Transition(context.Background(), inv.ID, StatusSent)
	require.NoError(t, err)

	err = svc.Delete(context.Background(), inv.ID)
	require.ErrorIs(t, err, ErrNotDraft)
}
