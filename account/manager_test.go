package account

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func testManager(t *testing.T) *Manager {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// the in-memory database vanishes when its only connection closes
	sqlDB.SetMaxOpenConns(1)

	m, err := NewManager(zap.NewNop(), db)
	require.NoError(t, err)
	return m
}

func TestNewAccountStartsFree(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	acct, err := m.NewAccount(ctx, "u1@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, acct.ID)
	assert.Equal(t, PlanFree, acct.Plan)

	found, err := m.GetByEmail(ctx, "u1@example.com")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, acct.ID, found.ID)
}

func TestNewAccountDuplicateEmail(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	_, err := m.NewAccount(ctx, "u1@example.com")
	require.NoError(t, err)

	_, err = m.NewAccount(ctx, "u1@example.com")
	assert.Error(t, err)
}

func TestGetByIDNotFound(t *testing.T) {
	m := testManager(t)

	acct, err := m.GetByID(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, acct)
}

func TestUpdateProfile(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	acct, err := m.NewAccount(ctx, "u1@example.com")
	require.NoError(t, err)

	updated, err := m.UpdateProfile(ctx, acct.ID, "Ada Lovelace")
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, "Ada Lovelace", updated.FullName)

	updated, err = m.UpdateProfile(ctx, "ghost", "Nobody")
	require.NoError(t, err)
	assert.Nil(t, updated)
}

func TestPlanValid(t *testing.T) {
	assert.True(t, PlanFree.Valid())
	assert.True(t, PlanPro.Valid())
	assert.True(t, PlanPremium.Valid())
	assert.False(t, Plan("platinum").Valid())
	assert.False(t, Plan("").Valid())
}
