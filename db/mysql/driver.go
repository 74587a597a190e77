package mysql

import (
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// NormalizeDSN forces parseTime and a UTC location onto dsn so DATETIME
// columns round-trip as UTC time.Time values.
func NormalizeDSN(dsn string) (string, error) {
	cfg, err := gomysql.ParseDSN(dsn)
	if err != nil {
		return "", err
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}

// Dialector returns a MySQL dialector for dsn.
func Dialector(dsn string) (gorm.Dialector, error) {
	normalized, err := NormalizeDSN(dsn)
	if err != nil {
		return nil, err
	}
	return mysql.New(mysql.Config{
		DSN:               normalized,
		DefaultStringSize: 255,
	}), nil
}
