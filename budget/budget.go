package budget

import (
	"time"

	"github.com/zllovesuki/bmc/client"
)

// Status is the custom type to define the approval state of a budget
type Status string

// A budget starts pending and may be approved once through its public link
const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
)

// Item is one line of a budget. Totals are in integer cents.
type Item struct {
	ID             string `json:"id" gorm:"primaryKey"`
	BudgetID       string `json:"budgetId" gorm:"index"`
	Description    string `json:"description"`
	Quantity       int64  `json:"quantity"`
	UnitPriceCents int64  `json:"unitPriceCents"`
	TotalCents     int64  `json:"totalCents"` // Quantity * UnitPriceCents, computed at insert
}

// Budget describes an itemized budget shared with a client for approval
type Budget struct {
	ID          string        `json:"id" gorm:"primaryKey"`
	AccountID   string        `json:"accountId" gorm:"index"`
	ClientID    string        `json:"clientId" gorm:"index"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Status      Status        `json:"status" gorm:"index"`
	ApprovedAt  *time.Time    `json:"approvedAt"`
	PublicID    string        `json:"publicId" gorm:"uniqueIndex"` // read-only share token, not guessable
	CreatedAt   time.Time     `json:"createdAt" gorm:"index"`      // written in UTC; the quota window depends on it
	Items       []Item        `json:"items"`
	Client      client.Client `json:"client" gorm:"foreignKey:ClientID"`
}

// TotalCents returns the sum of all line item totals
func (b *Budget) TotalCents() int64 {
	var total int64
	for _, item := range b.Items {
		total += item.TotalCents
	}
	return total
}
