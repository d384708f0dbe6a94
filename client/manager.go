package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lithammer/shortuuid/v3"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Manager handles the database operations relating to Clients
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewManager returns a new Manager for clients
func NewManager(logger *zap.Logger, db *gorm.DB) (*Manager, error) {
	if err := db.AutoMigrate(&Client{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize client.Manager")
	}
	return &Manager{
		db:     db,
		logger: logger,
	}, nil
}

// CreateOption describes a new client to be created
type CreateOption struct {
	AccountID string
	Name      string
	Email     string
	Phone     string
}

// Create will create a new client owned by the given account
func (m *Manager) Create(ctx context.Context, opt CreateOption) (*Client, error) {
	if len(opt.AccountID) == 0 {
		return nil, fmt.Errorf("CreateOption.AccountID is required")
	}
	if len(opt.Name) == 0 {
		return nil, fmt.Errorf("CreateOption.Name is required")
	}
	newClient := &Client{
		ID:        shortuuid.New(),
		AccountID: opt.AccountID,
		Name:      opt.Name,
		Email:     opt.Email,
		Phone:     opt.Phone,
		CreatedAt: time.Now().UTC(),
	}
	result := m.db.WithContext(ctx).Create(newClient)
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot create a new Client")
	}
	return newClient, nil
}

// Get will return the client by id if it is owned by the given account
func (m *Manager) Get(ctx context.Context, accountID, clientID string) (*Client, error) {
	var c Client
	result := m.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Where("id = ?", clientID).
		First(&c)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get client by id")
	}
	return &c, nil
}

// List returns the account's clients, newest first
func (m *Manager) List(ctx context.Context, accountID string) ([]Client, error) {
	if len(accountID) == 0 {
		return nil, fmt.Errorf("accountID is required")
	}
	results := make([]Client, 0, 1)
	result := m.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at desc").
		Find(&results)
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, result.Error
	}
	return results, nil
}

// UpdateOption describes the mutable fields of a client
type UpdateOption struct {
	AccountID string
	ClientID  string
	Name      string
	Email     string
	Phone     string
}

// Update will update the client if it is owned by the given account,
// returning nil when no such client exists
func (m *Manager) Update(ctx context.Context, opt UpdateOption) (*Client, error) {
	if len(opt.AccountID) == 0 || len(opt.ClientID) == 0 {
		return nil, fmt.Errorf("UpdateOption.AccountID and UpdateOption.ClientID are required")
	}
	result := m.db.WithContext(ctx).
		Model(&Client{}).
		Where("account_id = ?", opt.AccountID).
		Where("id = ?", opt.ClientID).
		Updates(map[string]interface{}{
			"name":  opt.Name,
			"email": opt.Email,
			"phone": opt.Phone,
		})
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot update client")
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return m.Get(ctx, opt.AccountID, opt.ClientID)
}

// Delete removes the client if it is owned by the given account,
// reporting whether a row was removed
func (m *Manager) Delete(ctx context.Context, accountID, clientID string) (bool, error) {
	result := m.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Where("id = ?", clientID).
		Delete(&Client{})
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return false, extErrors.Wrap(result.Error, "Cannot delete client")
	}
	return result.RowsAffected > 0, nil
}
