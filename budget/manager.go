package budget

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zllovesuki/bmc/account"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v3"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrQuotaExceeded is returned when the account's plan does not allow
// creating another budget this month
var ErrQuotaExceeded = fmt.Errorf("monthly budget quota exceeded for the current plan")

// ManagerOptions contains the configuration for the budget Manager
type ManagerOptions struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// Manager handles the database operations relating to Budgets
type Manager struct {
	ManagerOptions
}

// NewManager returns a new Manager for budgets
func NewManager(option ManagerOptions) (*Manager, error) {
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if err := option.DB.AutoMigrate(&Budget{}, &Item{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize budget.Manager")
	}
	return &Manager{
		ManagerOptions: option,
	}, nil
}

// ItemOption describes one line of a budget to be created
type ItemOption struct {
	Description    string
	Quantity       int64
	UnitPriceCents int64
}

// CreateOption describes a new budget to be created
type CreateOption struct {
	AccountID   string
	ClientID    string
	Title       string
	Description string
	Items       []ItemOption
}

// Create will create a new budget with its items. The plan read, the
// current-month count and the insert share one serializable transaction
// so concurrent requests from the same account cannot slip past the
// free-tier quota.
func (m *Manager) Create(ctx context.Context, opt CreateOption) (*Budget, error) {
	if len(opt.AccountID) == 0 {
		return nil, fmt.Errorf("CreateOption.AccountID is required")
	}
	if len(opt.ClientID) == 0 {
		return nil, fmt.Errorf("CreateOption.ClientID is required")
	}
	if len(opt.Title) == 0 {
		return nil, fmt.Errorf("CreateOption.Title is required")
	}

	now := time.Now().UTC()
	newBudget := &Budget{
		ID:          shortuuid.New(),
		AccountID:   opt.AccountID,
		ClientID:    opt.ClientID,
		Title:       opt.Title,
		Description: opt.Description,
		Status:      StatusPending,
		PublicID:    uuid.New().String(),
		CreatedAt:   now,
	}
	for _, item := range opt.Items {
		newBudget.Items = append(newBudget.Items, Item{
			ID:             shortuuid.New(),
			BudgetID:       newBudget.ID,
			Description:    item.Description,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
			TotalCents:     item.Quantity * item.UnitPriceCents,
		})
	}

	err := m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var acct account.Account
		if err := tx.First(&acct, "id = ?", opt.AccountID).Error; err != nil {
			return err
		}

		count, err := countMonth(tx, opt.AccountID, now)
		if err != nil {
			return err
		}
		if !CanCreate(acct.Plan, count) {
			return ErrQuotaExceeded
		}

		return tx.Create(newBudget).Error
	}, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
	if err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			return nil, err
		}
		m.Logger.Error("Unable to create new budget in database",
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot create budget")
	}

	return newBudget, nil
}

func countMonth(tx *gorm.DB, accountID string, ref time.Time) (int64, error) {
	start, end := monthWindow(ref)
	var count int64
	err := tx.Model(&Budget{}).
		Where("account_id = ?", accountID).
		Where("created_at >= ? AND created_at < ?", start, end).
		Count(&count).Error
	return count, err
}

// ListOption filters the budgets returned by List
type ListOption struct {
	AccountID string
	Before    time.Time
	Limit     int
}

// List returns an account's budgets with their items, newest first
func (m *Manager) List(ctx context.Context, opt ListOption) ([]Budget, error) {
	if len(opt.AccountID) == 0 {
		return nil, fmt.Errorf("ListOption.AccountID is required")
	}
	baseQuery := m.DB.WithContext(ctx).
		Order("created_at desc").
		Where("account_id = ?", opt.AccountID)
	if opt.Limit > 0 {
		baseQuery = baseQuery.Limit(opt.Limit)
	}
	if !opt.Before.IsZero() {
		baseQuery = baseQuery.Where("created_at < ?", opt.Before)
	}

	results := make([]Budget, 0, 1)
	result := baseQuery.Preload("Items").Preload("Client").Find(&results)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, result.Error
	}
	return results, nil
}

// Get will return the budget by id if it is owned by the given account
func (m *Manager) Get(ctx context.Context, accountID, budgetID string) (*Budget, error) {
	var b Budget
	result := m.DB.WithContext(ctx).
		Preload("Items").
		Preload("Client").
		Where("account_id = ?", accountID).
		Where("id = ?", budgetID).
		First(&b)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &b, nil
}

// GetByPublicID will return the budget behind a public share token.
// This is the read-only view served without authentication.
func (m *Manager) GetByPublicID(ctx context.Context, publicID string) (*Budget, error) {
	var b Budget
	result := m.DB.WithContext(ctx).
		Preload("Items").
		Preload("Client").
		Where("public_id = ?", publicID).
		First(&b)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &b, nil
}

// Approve marks the budget behind the public token as approved.
// Approving an already-approved budget is a no-op; the budget is
// returned either way, or nil if the token matches nothing. The bool
// reports whether this call performed the transition.
func (m *Manager) Approve(ctx context.Context, publicID string) (*Budget, bool, error) {
	var approved *Budget
	var transitioned bool
	err := m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var b Budget
		result := tx.Preload("Items").Preload("Client").
			Where("public_id = ?", publicID).
			First(&b)
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil
		}
		if result.Error != nil {
			return result.Error
		}
		if b.Status == StatusApproved {
			approved = &b
			return nil
		}
		now := time.Now().UTC()
		if err := tx.Model(&Budget{}).
			Where("id = ?", b.ID).
			Updates(map[string]interface{}{
				"status":      StatusApproved,
				"approved_at": now,
			}).Error; err != nil {
			return err
		}
		b.Status = StatusApproved
		b.ApprovedAt = &now
		approved = &b
		transitioned = true
		return nil
	})
	if err != nil {
		m.Logger.Error("Unable to approve budget",
			zap.Error(err),
		)
		return nil, false, extErrors.Wrap(err, "Cannot approve budget")
	}
	return approved, transitioned, nil
}

// Stats summarizes an account's budgets for the dashboard
type Stats struct {
	Total     int64 `json:"total"`
	Pending   int64 `json:"pending"`
	Approved  int64 `json:"approved"`
	ThisMonth int64 `json:"thisMonth"`
	Remaining int64 `json:"remaining"` // budgets still allowed this month; -1 means unlimited
}

// GetStats computes the dashboard counters for an account. The
// current-month counter is derived on demand, never cached.
func (m *Manager) GetStats(ctx context.Context, acct *account.Account) (*Stats, error) {
	if acct == nil {
		return nil, fmt.Errorf("nil account is invalid")
	}
	db := m.DB.WithContext(ctx)
	var stats Stats

	if err := db.Model(&Budget{}).
		Where("account_id = ?", acct.ID).
		Count(&stats.Total).Error; err != nil {
		return nil, extErrors.Wrap(err, "Cannot count budgets")
	}
	if err := db.Model(&Budget{}).
		Where("account_id = ?", acct.ID).
		Where("status = ?", StatusPending).
		Count(&stats.Pending).Error; err != nil {
		return nil, extErrors.Wrap(err, "Cannot count pending budgets")
	}
	if err := db.Model(&Budget{}).
		Where("account_id = ?", acct.ID).
		Where("status = ?", StatusApproved).
		Count(&stats.Approved).Error; err != nil {
		return nil, extErrors.Wrap(err, "Cannot count approved budgets")
	}

	count, err := countMonth(db, acct.ID, time.Now().UTC())
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot count budgets for the current month")
	}
	stats.ThisMonth = count
	stats.Remaining = Remaining(acct.Plan, count)

	return &stats, nil
}
