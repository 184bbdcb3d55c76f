package taxes

import "github.com/shopspring/decimal"

// Tax represents a named tax rate configuration.
type Tax struct {
	ID          int64           `json:"id"`
	Code        string          `json:"code"`
	Name        string          `json:"name"`
	RatePercent decimal.Decimal `json:"rate_percent"`
	Active      bool            `json:"active"`
}

// Snapshot returns the rate to copy into a line item at computation time.
// Invoices store this copy, never a live reference, so later edits to the
// rule leave historical totals untouched.
func (t Tax) Snapshot() decimal.Decimal {
	return t.RatePercent.Copy()
}
