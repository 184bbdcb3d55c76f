package taxes

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInactive indicates a deactivated rule was referenced by a new line item.
var ErrInactive = errors.New("taxes: rule is inactive")

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// List returns tax rules. Pass activeOnly to hide deactivated rules from
// invoice entry forms; historical invoices keep their snapshot regardless.
func (s *Service) List(ctx context.Context, activeOnly bool) ([]Tax, error) {
	return s.repo.List(ctx, activeOnly)
}

func (s *Service) Get(ctx context.Context, id int64) (Tax, error) {
	if id <= 0 {
		return Tax{}, errors.New("invalid tax ID")
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, tax Tax) (Tax, error) {
	if err := s.validate(tax); err != nil {
		return Tax{}, err
	}
	tax.Active = true
	return s.repo.Create(ctx, tax)
}

func (s *Service) Update(ctx context.Context, id int64, tax Tax) error {
	if id <= 0 {
		return errors.New("invalid tax ID")
	}
	if err := s.validate(tax); err != nil {
		return err
	}
	return s.repo.Update(ctx, id, tax)
}

// RateFor resolves a rule to the rate snapshot new line items copy.
// Deactivated rules are rejected; they exist only for historical invoices.
func (s *Service) RateFor(ctx context.Context, id int64) (decimal.Decimal, error) {
	tax, err := s.Get(ctx, id)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if !tax.Active {
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrInactive, tax.Code)
	}
	return tax.Snapshot(), nil
}

// Deactivate hides a rule from new invoices. Rules are never deleted once
// referenced; existing line items carry their own rate snapshot.
func (s *Service) Deactivate(ctx context.Context, id int64) error {
	if id <= 0 {
		return errors.New("invalid tax ID")
	}
	return s.repo.SetActive(ctx, id, false)
}
