package account

import "time"

// Plan is the tier of an account, deciding quota and feature access
type Plan string

// Defining the available plan tiers. Every account starts on PlanFree
const (
	PlanFree    Plan = "free"
	PlanPro     Plan = "pro"
	PlanPremium Plan = "premium"
)

// Valid reports if p is one of the enumerated tiers
func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanPro, PlanPremium:
		return true
	default:
		return false
	}
}

// Account describes a user of the service
type Account struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	Email     string    `json:"email" gorm:"uniqueIndex"`
	FullName  string    `json:"fullName"`
	Plan      Plan      `json:"plan" gorm:"not null;default:free"` // Mutated only by the subscription reconciler
	CreatedAt time.Time `json:"createdAt"`
}
