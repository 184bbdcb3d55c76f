package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/defter-erp/defter/internal/money"
)

var (
	// ErrInvalidPlan indicates an installment template that cannot expand.
	ErrInvalidPlan = errors.New("schedule: invalid payment plan")
	// ErrInvalidHorizon indicates a recurring horizon below one occurrence.
	ErrInvalidHorizon = errors.New("schedule: horizon must be at least 1")
	// ErrInvalidPeriod indicates an unknown recurring period.
	ErrInvalidPeriod = errors.New("schedule: unknown recurring period")
)

var hundred = decimal.NewFromInt(100)

// GenerateInstallments expands a payment plan into concrete entries. The
// fee-adjusted total is rounded once; each installment takes the rounded
// equal share capped at the balance still unallocated, and the last takes
// whatever remains so the sum equals the adjusted total exactly. Naive
// equal division loses or gains minor units, and an uncapped share can
// overshoot a tiny total before the last entry; the remainder correction
// plus the cap keep every amount non-negative.
func GenerateInstallments(total money.Money, plan PaymentPlan, firstDue time.Time, invoiceID int64) ([]Entry, error) {
	if plan.InstallmentCount < 1 {
		return nil, fmt.Errorf("%w: installment count %d", ErrInvalidPlan, plan.InstallmentCount)
	}
	if plan.IntervalDays < 0 {
		return nil, fmt.Errorf("%w: interval days %d", ErrInvalidPlan, plan.IntervalDays)
	}
	if plan.FeePercent.IsNegative() {
		return nil, fmt.Errorf("%w: fee percent %s", ErrInvalidPlan, plan.FeePercent)
	}
	if total.IsNegative() {
		return nil, fmt.Errorf("%w: negative total %s", ErrInvalidPlan, total)
	}

	factor := decimal.NewFromInt(1).Add(plan.FeePercent.Div(hundred))
	adjusted := total.MulDecimal(factor).Round()
	share := adjusted.DivInt(int64(plan.InstallmentCount)).Round()

	entries := make([]Entry, 0, plan.InstallmentCount)
	remaining := adjusted
	for i := 0; i < plan.InstallmentCount; i++ {
		amount := share
		if i == plan.InstallmentCount-1 {
			amount = remaining
		} else {
			if cmp, err := amount.Cmp(remaining); err != nil {
				return nil, err
			} else if cmp > 0 {
				amount = remaining
			}
			var err error
			remaining, err = remaining.Sub(amount)
			if err != nil {
				return nil, err
			}
		}
		number := i + 1
		entries = append(entries, Entry{
			SourceInvoiceID:   &invoiceID,
			Description:       fmt.Sprintf("Installment %d/%d", number, plan.InstallmentCount),
			DueDate:           firstDue.AddDate(0, 0, i*plan.IntervalDays),
			Amount:            amount,
			PaidAmount:        money.Zero(total.Currency()),
			InstallmentNumber: &number,
		})
	}
	return entries, nil
}

// GenerateRecurring expands a periodic obligation into horizonCount entries.
// Period steps use calendar-month arithmetic, not fixed day counts.
func GenerateRecurring(description string, amount money.Money, start time.Time, period RecurringPeriod, horizonCount int) ([]Entry, error) {
	if horizonCount < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidHorizon, horizonCount)
	}
	months, ok := period.Months()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPeriod, period)
	}

	entries := make([]Entry, 0, horizonCount)
	for k := 0; k < horizonCount; k++ {
		entries = append(entries, Entry{
			Description: description,
			DueDate:     addMonthsClamped(start, k*months),
			Amount:      amount.Round(),
			PaidAmount:  money.Zero(amount.Currency()),
			Recurring:   true,
			Period:      period,
		})
	}
	return entries, nil
}

// addMonthsClamped adds calendar months, clamping the day-of-month to the
// target month's length: Jan 31 + 1 month is Feb 28 (29 in leap years),
// never Mar 2/3 as time.AddDate would produce.
func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	target := time.Date(year, month+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	if last := daysIn(target.Year(), target.Month()); day > last {
		day = last
	}
	hour, min, sec := t.Clock()
	return time.Date(target.Year(), target.Month(), day, hour, min, sec, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
