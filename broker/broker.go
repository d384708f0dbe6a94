package broker

import (
	"context"
	"time"
)

// BudgetApproved is published when a client approves a budget through
// its public link
type BudgetApproved struct {
	BudgetID    string    `json:"budgetId"`
	AccountID   string    `json:"accountId"`
	BudgetTitle string    `json:"budgetTitle"`
	ClientName  string    `json:"clientName"`
	ApprovedAt  time.Time `json:"approvedAt"`
}

// Producer defines the interface for publishing notifications via message broker
type Producer interface {
	Close()
	PublishBudgetApproved(p *BudgetApproved) error
}

// Consumer defines the interface for receiving notifications via message broker
type Consumer interface {
	Close()
	ReceiveBudgetApproved(ctx context.Context) (<-chan *BudgetApproved, error)
}
