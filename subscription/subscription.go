package subscription

import (
	"time"

	"github.com/zllovesuki/bmc/account"
)

// Record is the local mirror of one external billing subscription's lifecycle.
// At most one Record per account is active, but history may contain several
// (upgrades, cancellations, re-subscriptions). Records are never deleted.
type Record struct {
	ID         string       `json:"id" gorm:"primaryKey"`        // Corresponds to Stripe's Subscription ID
	AccountID  string       `json:"accountId" gorm:"index"`      // The account that owns the subscription
	CustomerID string       `json:"customerId" gorm:"index"`     // Corresponds to Stripe's Customer ID
	Plan       account.Plan `json:"plan"`                        // Tier resolved from the price at checkout
	Status     Status       `json:"status" gorm:"index"`         // See const.go for transitions
	StartedAt  time.Time    `json:"startedAt"`                   // Stripe's subscription.start_date
	EndedAt    *time.Time   `json:"endedAt"`                     // Set when the subscription is cancelled
}
