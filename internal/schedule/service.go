package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/defter-erp/defter/internal/invoice"
	"github.com/defter-erp/defter/internal/money"
)

// ErrInvoiceNotPayable indicates the invoice cannot carry a payment plan.
var ErrInvoiceNotPayable = errors.New("schedule: invoice not payable")

// ErrAlreadyScheduled indicates installments already exist for the invoice.
var ErrAlreadyScheduled = errors.New("schedule: invoice already has installments")

// RepositoryPort defines persistence for schedule entries. SaveEntries must
// be all-or-nothing; generation never leaves partial output behind.
type RepositoryPort interface {
	SaveEntries(ctx context.Context, entries []Entry) ([]Entry, error)
	GetEntry(ctx context.Context, id int64) (*Entry, error)
	ListEntries(ctx context.Context, req ListRequest) ([]Entry, error)
	ListByInvoice(ctx context.Context, invoiceID int64) ([]Entry, error)
	HasEntriesForInvoice(ctx context.Context, invoiceID int64) (bool, error)
}

// InvoiceReader loads invoices for plan expansion.
type InvoiceReader interface {
	GetInvoice(ctx context.Context, id int64) (*invoice.Invoice, error)
}

// ListRequest filters schedule listings.
type ListRequest struct {
	UnpaidOnly bool
	DueBefore  time.Time
	Limit      int
}

// Service handles schedule business logic.
type Service struct {
	repo     RepositoryPort
	invoices InvoiceReader
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, invoices InvoiceReader) *Service {
	return &Service{repo: repo, invoices: invoices}
}

// CreateInstallmentPlan expands a payment plan against an invoice's grand
// total and persists the resulting entries in one shot.
func (s *Service) CreateInstallmentPlan(ctx context.Context, invoiceID int64, plan PaymentPlan, firstDue time.Time) ([]Entry, error) {
	inv, err := s.invoices.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status == invoice.StatusPaid || inv.Status == invoice.StatusCancelled {
		return nil, fmt.Errorf("%w: status %s", ErrInvoiceNotPayable, inv.Status)
	}
	exists, err := s.repo.HasEntriesForInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: id %d", ErrAlreadyScheduled, invoiceID)
	}

	entries, err := GenerateInstallments(inv.GrandTotal, plan, firstDue, invoiceID)
	if err != nil {
		return nil, err
	}
	return s.repo.SaveEntries(ctx, entries)
}

// CreateRecurring expands and persists a periodic obligation.
func (s *Service) CreateRecurring(ctx context.Context, description string, amount money.Money, start time.Time, period RecurringPeriod, horizonCount int) ([]Entry, error) {
	entries, err := GenerateRecurring(description, amount, start, period, horizonCount)
	if err != nil {
		return nil, err
	}
	return s.repo.SaveEntries(ctx, entries)
}

// Get returns one schedule entry.
func (s *Service) Get(ctx context.Context, id int64) (*Entry, error) {
	return s.repo.GetEntry(ctx, id)
}

// List returns entries matching the request.
func (s *Service) List(ctx context.Context, req ListRequest) ([]Entry, error) {
	return s.repo.ListEntries(ctx, req)
}

// ListByInvoice returns all entries expanded from one invoice.
func (s *Service) ListByInvoice(ctx context.Context, invoiceID int64) ([]Entry, error) {
	return s.repo.ListByInvoice(ctx, invoiceID)
}

// Overdue returns unpaid entries past due at the given instant. The
// predicate mirrors the invoice lifecycle's read-time overdue check.
func (s *Service) Overdue(ctx context.Context, now time.Time) ([]Entry, error) {
	return s.repo.ListEntries(ctx, ListRequest{UnpaidOnly: true, DueBefore: now})
}
