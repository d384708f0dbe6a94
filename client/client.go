package client

import "time"

// Client describes one of a user's clients, the recipient of budgets
type Client struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	AccountID string    `json:"accountId" gorm:"index"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"createdAt"`
}
