package testutil

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/kasuganosora/dmail/cache"
	"github.com/kasuganosora/dmail/config"
	dbadapter "github.com/kasuganosora/dmail/db"
	"github.com/kasuganosora/dmail/model"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// SetupTestDB creates a private in-memory SQLite DB and runs AutoMigrate.
// It requires no external services and is safe to use in parallel tests.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := dbadapter.Open(config.DatabaseConfig{
		Mode:       dbadapter.ModeSQLite,
		SQLitePath: fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	})
	require.NoError(t, err, "SetupTestDB: Open")
	require.NoError(t, model.AutoMigrate(db), "SetupTestDB: AutoMigrate")
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// SetupTestCache creates LocalCache and LocalPubSub (no Redis required).
func SetupTestCache(t *testing.T) (cache.Cache, cache.PubSub) {
	t.Helper()
	cfg := cache.CacheConfig{} // empty RedisAddr → LocalCache
	c, err := cache.NewCache(cfg)
	require.NoError(t, err, "SetupTestCache: NewCache")
	ps, err := cache.NewPubSub(cfg)
	require.NoError(t, err, "SetupTestCache: NewPubSub")
	return c, ps
}

// CreateUser inserts a user with the given name and level.
func CreateUser(t *testing.T, db *gorm.DB, name string, level int) *model.User {
	t.Helper()
	u := &model.User{
		Name:                     name,
		PasswordHash:             "x",
		Email:                    name + "@example.com",
		Level:                    level,
		ReceiveMailNotifications: true,
	}
	require.NoError(t, db.Create(u).Error, "CreateUser %s", name)
	return u
}

// ReloadUser re-reads a user row.
func ReloadUser(t *testing.T, db *gorm.DB, id int64) *model.User {
	t.Helper()
	var u model.User
	require.NoError(t, db.First(&u, id).Error)
	return &u
}
