package postgres

import (
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Dialector returns a PostgreSQL dialector over a jackc/pgx connection
// pool. Sessions run in UTC regardless of the server default.
func Dialector(dsn string) (gorm.Dialector, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if cfg.RuntimeParams == nil {
		cfg.RuntimeParams = map[string]string{}
	}
	cfg.RuntimeParams["timezone"] = "UTC"
	return postgres.New(postgres.Config{Conn: stdlib.OpenDB(*cfg)}), nil
}
