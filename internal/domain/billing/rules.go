package billing

import "github.com/hms/hms/internal/money"

// ComputeBalance returns total minus paid. The result is negative on
// overpayment and is never clamped.
func ComputeBalance(b *Bill) money.Money {
	return money.Subtract(b.TotalAmount, b.PaidAmount)
}

// ClassifyStatus derives the status implied by the amounts. An explicit
// cancellation always wins.
func ClassifyStatus(total, paid money.Money, explicit Status) Status {
	switch {
	case explicit == StatusCancelled:
		return StatusCancelled
	case !paid.IsPositive():
		return StatusPending
	case paid.Cmp(total) < 0:
		return StatusPartial
	default:
		return StatusPaid
	}
}

// Reconciliation compares the stored status of a bill with the status its
// amounts imply. It is advisory: the stored status stays authoritative.
type Reconciliation struct {
	Stored     Status `json:"stored"`
	Implied    Status `json:"implied"`
	Consistent bool   `json:"consistent"`
}

func Reconcile(b *Bill) Reconciliation {
	implied := ClassifyStatus(b.TotalAmount, b.PaidAmount, b.Status)
	return Reconciliation{
		Stored:     b.Status,
		Implied:    implied,
		Consistent: implied == b.Status,
	}
}

// Summary holds the dashboard totals for a set of bills.
type Summary struct {
	Collected   money.Money `json:"collected"`
	Outstanding money.Money `json:"outstanding"`
	Count       int         `json:"count"`
	PaidCount   int         `json:"paid_count"`
}

// Aggregate totals a bill collection. Collected sums every paid amount.
// Outstanding sums the positive balance of pending and partial bills only,
// so overpayments never reduce it. Aggregate is additive over disjoint sets.
func Aggregate(bills []*Bill) Summary {
	var s Summary
	for _, b := range bills {
		s.Count++
		s.Collected = s.Collected.Add(b.PaidAmount)
		switch b.Status {
		case StatusPending, StatusPartial:
			s.Outstanding = s.Outstanding.Add(ComputeBalance(b).Max(money.Zero()))
		case StatusPaid:
			s.PaidCount++
		}
	}
	return s
}
