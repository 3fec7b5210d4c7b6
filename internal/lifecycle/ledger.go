package lifecycle

import (
	"time"

	"github.com/shopspring/decimal"

	"campusworks/internal/domain"
)

// ValidateSchedule checks that every percentage lies in 0..100 and that they
// sum to exactly 100.
func ValidateSchedule(schedule []int) error {
	if len(schedule) == 0 {
		return domain.ErrInvalidSchedule.Withf("no milestones")
	}
	sum := 0
	for i, pct := range schedule {
		if pct < 0 || pct > 100 {
			return domain.ErrInvalidSchedule.Withf("milestone %d has percentage %d", i, pct)
		}
		sum += pct
	}
	if sum != 100 {
		return domain.ErrInvalidSchedule.Withf("percentages sum to %d, want 100", sum)
	}
	return nil
}

// InitLedger creates a zeroed ledger for totalAmount released on schedule.
// Tranches are truncated to scale decimal places; the final tranche absorbs
// the remainder.
func InitLedger(projectID string, totalAmount decimal.Decimal, schedule []int, scale int32, now time.Time) (domain.EscrowLedger, error) {
	if totalAmount.IsNegative() {
		return domain.EscrowLedger{}, domain.ErrInvalidSchedule.Withf("total amount %s is negative", totalAmount)
	}
	if err := ValidateSchedule(schedule); err != nil {
		return domain.EscrowLedger{}, err
	}
	if scale < 0 {
		scale = 0
	}
	ts := now.UTC()
	return domain.EscrowLedger{
		ProjectID:      projectID,
		TotalAmount:    totalAmount,
		ReleasedAmount: decimal.Zero,
		Schedule:       append([]int(nil), schedule...),
		Scale:          scale,
		Entries:        []domain.LedgerEntry{},
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}, nil
}

// TrancheAmount returns the amount released for milestone index of schedule.
func TrancheAmount(total decimal.Decimal, schedule []int, index int, scale int32) decimal.Decimal {
	last := len(schedule) - 1
	if index < last {
		return total.Mul(decimal.NewFromInt(int64(schedule[index]))).Shift(-2).Truncate(scale)
	}
	paid := decimal.Zero
	for i := 0; i < last; i++ {
		paid = paid.Add(TrancheAmount(total, schedule, i, scale))
	}
	return total.Sub(paid)
}

// Release appends the tranche for milestoneIndex and returns the new released
// amount. Tranches release strictly in index order, each at most once.
func Release(l *domain.EscrowLedger, milestoneIndex int, now time.Time) (decimal.Decimal, error) {
	if l.Sealed {
		return l.ReleasedAmount, domain.ErrLedgerSealed
	}
	if milestoneIndex < 0 || milestoneIndex >= len(l.Schedule) {
		return l.ReleasedAmount, domain.ErrMilestoneNotFound.Withf("index %d", milestoneIndex)
	}
	if released(l, milestoneIndex) {
		return l.ReleasedAmount, domain.ErrAlreadyReleased.Withf("milestone %d", milestoneIndex)
	}
	if milestoneIndex > 0 && !released(l, milestoneIndex-1) {
		return l.ReleasedAmount, domain.ErrOutOfOrder.Withf("milestone %d before %d", milestoneIndex, milestoneIndex-1)
	}
	amount := TrancheAmount(l.TotalAmount, l.Schedule, milestoneIndex, l.Scale)
	ts := now.UTC()
	l.Entries = append(l.Entries, domain.LedgerEntry{
		MilestoneIndex: milestoneIndex,
		Amount:         amount,
		ReleasedAt:     ts,
	})
	l.ReleasedAmount = l.ReleasedAmount.Add(amount)
	l.UpdatedAt = ts
	return l.ReleasedAmount, nil
}

func released(l *domain.EscrowLedger, milestoneIndex int) bool {
	for _, e := range l.Entries {
		if e.MilestoneIndex == milestoneIndex {
			return true
		}
	}
	return false
}

// Balance returns the released and held amounts.
func Balance(l domain.EscrowLedger) (released, held decimal.Decimal) {
	return l.ReleasedAmount, l.TotalAmount.Sub(l.ReleasedAmount)
}

// BalanceView builds the read model of l.
func BalanceView(l domain.EscrowLedger) domain.Balance {
	released, held := Balance(l)
	entries := append([]domain.LedgerEntry{}, l.Entries...)
	return domain.Balance{
		Total:      l.TotalAmount,
		Released:   released,
		Held:       held,
		Refundable: l.Refundable,
		Sealed:     l.Sealed,
		Entries:    entries,
	}
}

// MarkRefundable flags held funds as refundable. No transfer happens here.
func MarkRefundable(l *domain.EscrowLedger, now time.Time) {
	l.Refundable = true
	l.UpdatedAt = now.UTC()
}

// Seal freezes the ledger against further releases.
func Seal(l *domain.EscrowLedger, now time.Time) {
	l.Sealed = true
	l.UpdatedAt = now.UTC()
}
