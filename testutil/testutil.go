// Package testutil holds fixtures shared by the package tests: an in-memory
// database with the full schema and a controllable clock.
package testutil

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"fitparty/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Epoch is the default start time of test clocks.
var Epoch = time.Date(2026, time.March, 2, 18, 0, 0, 0, time.UTC)

// NewDB opens a private in-memory SQLite database and migrates every model. The
// pool is held to one connection, so code under test must not use the parent
// handle while inside a transaction.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.AllModels()...))
	return db
}

// SeedProfile stores a mirrored user profile.
func SeedProfile(t testing.TB, db *gorm.DB, userID, displayName string) {
	t.Helper()
	require.NoError(t, db.Create(&models.UserProfile{
		ExternalUserID: userID,
		Username:       userID,
		DisplayName:    displayName,
		CreatedAt:      Epoch,
		UpdatedAt:      Epoch,
	}).Error)
}

// Clock is a manually advanced time source, safe for concurrent use.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
