package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ManagerOptions contains the configuration for the subscription Manager
type ManagerOptions struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// Manager handles the database operations relating to subscription Records
type Manager struct {
	ManagerOptions
}

// NewManager returns a new Manager for subscription Records
func NewManager(option ManagerOptions) (*Manager, error) {
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if err := option.DB.AutoMigrate(&Record{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize subscription.Manager")
	}
	return &Manager{
		ManagerOptions: option,
	}, nil
}

// ListOption filters the Records returned by List
type ListOption struct {
	AccountID string
	Before    time.Time
	Limit     int
}

// List returns an account's subscription history, newest first
func (m *Manager) List(ctx context.Context, opt ListOption) ([]Record, error) {
	if len(opt.AccountID) == 0 {
		return nil, fmt.Errorf("ListOption.AccountID is required")
	}
	baseQuery := m.DB.WithContext(ctx).
		Order("started_at desc").
		Where("account_id = ?", opt.AccountID)
	if opt.Limit > 0 {
		baseQuery = baseQuery.Limit(opt.Limit)
	}
	if !opt.Before.IsZero() {
		baseQuery = baseQuery.Where("started_at < ?", opt.Before)
	}

	results := make([]Record, 0, 1)
	result := baseQuery.Find(&results)

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, result.Error
	}
	return results, nil
}

// GetByID returns the Record with the given external subscription reference
func (m *Manager) GetByID(ctx context.Context, id string) (*Record, error) {
	if len(id) == 0 {
		return nil, fmt.Errorf("id is required")
	}
	var rec Record
	result := m.DB.WithContext(ctx).First(&rec, "id = ?", id)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &rec, nil
}

// GetActiveByAccountID returns the account's active Record, or nil if
// the account has no active subscription
func (m *Manager) GetActiveByAccountID(ctx context.Context, accountID string) (*Record, error) {
	if len(accountID) == 0 {
		return nil, fmt.Errorf("accountID is required")
	}
	var rec Record
	result := m.DB.WithContext(ctx).
		Where("account_id = ?", accountID).
		Where("status = ?", StatusActive).
		Order("started_at desc").
		First(&rec)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, result.Error
	}
	return &rec, nil
}
