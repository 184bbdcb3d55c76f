package invoice

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidTransition indicates a status change not allowed by the
	// lifecycle graph.
	ErrInvalidTransition = errors.New("invoice: invalid status transition")
	// ErrCannotCancelPaid indicates a cancellation attempt against an
	// invoice that already received completed payments.
	ErrCannotCancelPaid = errors.New("invoice: cannot cancel invoice with payments")
	// ErrEmptyInvoice indicates a draft with no line items cannot be sent.
	ErrEmptyInvoice = errors.New("invoice: no line items")
	// ErrZeroTotal indicates a draft with a zero grand total cannot be sent.
	ErrZeroTotal = errors.New("invoice: grand total is zero")
)

// TransitionError names the current and requested states of a rejected
// transition.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invoice: invalid status transition %s -> %s", e.From, e.To)
}

// Unwrap lets errors.Is match ErrInvalidTransition.
func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Transition advances the invoice to the target status in place, enforcing
// the lifecycle graph:
//
//	draft -> sent -> {paid, overdue, cancelled}
//	overdue -> {paid, cancelled}
//	paid, cancelled terminal
//
// Paid requires a settled balance, which only the payment reconciler
// establishes; cancellation requires that no completed payment exists.
func Transition(inv *Invoice, target Status, now time.Time) error {
	if inv.Status == target {
		return &TransitionError{From: inv.Status, To: target}
	}

	switch target {
	case StatusSent:
		if inv.Status != StatusDraft {
			return &TransitionError{From: inv.Status, To: target}
		}
		if len(inv.Lines) == 0 {
			return ErrEmptyInvoice
		}
		if inv.GrandTotal.IsZero() {
			return ErrZeroTotal
		}
		if inv.IssueDate.IsZero() {
			inv.IssueDate = now
		}

	case StatusPaid:
		if inv.Status != StatusSent && inv.Status != StatusOverdue {
			return &TransitionError{From: inv.Status, To: target}
		}
		if !inv.Outstanding().IsZero() {
			return fmt.Errorf("%w: outstanding balance %s", ErrInvalidTransition, inv.Outstanding())
		}

	case StatusOverdue:
		if inv.Status != StatusSent {
			return &TransitionError{From: inv.Status, To: target}
		}
		if !IsOverdue(inv, now) {
			return fmt.Errorf("%w: invoice not past due", ErrInvalidTransition)
		}

	case StatusCancelled:
		if inv.Status == StatusPaid {
			return ErrCannotCancelPaid
		}
		if inv.Status.IsTerminal() {
			return &TransitionError{From: inv.Status, To: target}
		}
		if inv.PaidAmount.IsPositive() {
			return ErrCannotCancelPaid
		}

	default:
		return &TransitionError{From: inv.Status, To: target}
	}

	inv.Status = target
	inv.UpdatedAt = now
	return nil
}

// IsOverdue is the shared overdue predicate: past due date with an open
// balance. The read path and the sweep job must agree on this exact check.
func IsOverdue(inv *Invoice, now time.Time) bool {
	if inv.Status != StatusSent && inv.Status != StatusOverdue {
		return false
	}
	return now.After(inv.DueDate) && inv.Outstanding().IsPositive()
}

// DeriveStatus computes the read-time status without persisting a
// transition: a sent invoice past its due date with an open balance reads as
// overdue. Stored status wins everywhere else.
func DeriveStatus(inv *Invoice, now time.Time) Status {
	if inv.Status == StatusSent && IsOverdue(inv, now) {
		return StatusOverdue
	}
	return inv.Status
}
