package db

import (
	"fmt"
	"time"

	"github.com/kasuganosora/dmail/config"
	dbmysql "github.com/kasuganosora/dmail/db/mysql"
	dbpostgres "github.com/kasuganosora/dmail/db/postgres"
	dbsqlite "github.com/kasuganosora/dmail/db/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	ModeSQLite   = "sqlite"
	ModeMySQL    = "mysql"
	ModePostgres = "postgres"
)

func dialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Mode {
	case ModeSQLite:
		return dbsqlite.Dialector(cfg.SQLitePath)
	case ModeMySQL:
		return dbmysql.Dialector(cfg.MySQLDSN)
	case ModePostgres:
		return dbpostgres.Dialector(cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("db: unknown mode %q", cfg.Mode)
	}
}

// Open returns a *gorm.DB for the configured database mode. Timestamps
// gorm fills in are always UTC.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	d, err := dialector(cfg)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(d, &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", cfg.Mode, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.Mode == ModeSQLite {
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpen)
	sqlDB.SetMaxIdleConns(cfg.MaxIdle)
	sqlDB.SetConnMaxLifetime(cfg.MaxLife)
	return db, nil
}
