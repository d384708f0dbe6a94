package budget

import (
	"time"

	"github.com/zllovesuki/bmc/account"
)

// FreeMonthlyLimit is how many budgets a free account may create per
// calendar month. Paid tiers are unlimited.
const FreeMonthlyLimit = 10

// monthWindow returns the half-open [start, end) interval of the UTC
// calendar month containing ref. The month boundary is evaluated in
// UTC, matching how Budget.CreatedAt is written.
func monthWindow(ref time.Time) (time.Time, time.Time) {
	ref = ref.UTC()
	start := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// CanCreate decides whether an account on the given plan, having
// created the given number of budgets this month, may create one more.
// Purely advisory; the authoritative check runs inside the creation
// transaction in Manager.Create.
func CanCreate(plan account.Plan, createdThisMonth int64) bool {
	if plan == account.PlanFree {
		return createdThisMonth < FreeMonthlyLimit
	}
	return true
}

// Remaining returns how many budgets the account may still create this
// month, or -1 for unlimited
func Remaining(plan account.Plan, createdThisMonth int64) int64 {
	if plan != account.PlanFree {
		return -1
	}
	left := int64(FreeMonthlyLimit) - createdThisMonth
	if left < 0 {
		return 0
	}
	return left
}
