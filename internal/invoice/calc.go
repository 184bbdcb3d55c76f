package invoice

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/defter-erp/defter/internal/money"
)

var (
	// ErrInvalidQuantity indicates a non-positive line quantity.
	ErrInvalidQuantity = errors.New("invoice: quantity must be positive")
	// ErrInvalidTaxRate indicates a negative tax rate.
	ErrInvalidTaxRate = errors.New("invoice: tax rate must not be negative")
)

var hundred = decimal.NewFromInt(100)

// LineAmounts holds the derived amounts for a single line item.
// NetAmount is the gross base rounded at currency precision; TaxAmount is
// rounded independently; LineTotal = NetAmount + TaxAmount holds exactly.
type LineAmounts struct {
	NetAmount money.Money
	TaxAmount money.Money
	LineTotal money.Money
}

// Totals holds invoice-level sums of already-rounded line amounts.
type Totals struct {
	Subtotal   money.Money
	TaxTotal   money.Money
	GrandTotal money.Money
}

// ComputeLine derives tax and total for one line item. The gross base
// (quantity x unit price) stays unrounded; rounding happens once per derived
// field, half-even at the currency's minor unit precision.
func ComputeLine(quantity decimal.Decimal, unitPrice money.Money, taxRatePercent decimal.Decimal) (LineAmounts, error) {
	if !quantity.IsPositive() {
		return LineAmounts{}, fmt.Errorf("%w: %s", ErrInvalidQuantity, quantity)
	}
	if taxRatePercent.IsNegative() {
		return LineAmounts{}, fmt.Errorf("%w: %s", ErrInvalidTaxRate, taxRatePercent)
	}

	gross := unitPrice.MulDecimal(quantity)
	tax := gross.MulDecimal(taxRatePercent.Div(hundred)).Round()
	net := gross.Round()
	total, err := net.Add(tax)
	if err != nil {
		return LineAmounts{}, err
	}
	return LineAmounts{NetAmount: net, TaxAmount: tax, LineTotal: total}, nil
}

// ComputeTotals sums line amounts field-wise. Each line was rounded before
// summation, so totals match per-line display conventions without drift.
// An empty slice yields zero totals in the given currency; the empty-invoice
// guard belongs to the draft-to-sent transition.
func ComputeTotals(currency string, lines []LineAmounts) (Totals, error) {
	t := Totals{
		Subtotal:   money.Zero(currency),
		TaxTotal:   money.Zero(currency),
		GrandTotal: money.Zero(currency),
	}
	for _, line := range lines {
		var err error
		if t.Subtotal, err = t.Subtotal.Add(line.NetAmount); err != nil {
			return Totals{}, err
		}
		if t.TaxTotal, err = t.TaxTotal.Add(line.TaxAmount); err != nil {
			return Totals{}, err
		}
		if t.GrandTotal, err = t.GrandTotal.Add(line.LineTotal); err != nil {
			return Totals{}, err
		}
	}
	return t, nil
}
