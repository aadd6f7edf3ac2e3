package loan

import (
	"math"
	"time"
)

// ComputeLateFee returns the suggested late fee for a loan at the given
// moment: zero unless the loan is active and past its due date, otherwise
// the number of late days (rounded up) times ratePerDay. The value is
// advisory; the authoritative fine is whatever Return stores.
func ComputeLateFee(l Loan, ratePerDay int64, now time.Time) int64 {
	if l.Status != StatusDipinjam || ratePerDay <= 0 {
		return 0
	}
	if !now.After(l.DueDate) {
		return 0
	}
	overdue := now.Sub(l.DueDate)
	daysLate := int64(math.Ceil(overdue.Hours() / 24))
	return daysLate * ratePerDay
}
