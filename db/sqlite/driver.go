package sqlite

import (
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Dialector returns a SQLite (mattn/go-sqlite3) dialector for path,
// creating the parent directory of an on-disk database.
//
// SQLite compares timestamps as text, so callers must keep every stored
// timestamp in UTC. With more than one open connection, concurrent
// transactions fail with SQLITE_BUSY instead of waiting; callers limit
// the pool to a single connection.
func Dialector(path string) (gorm.Dialector, error) {
	if !strings.HasPrefix(path, "file:") && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	return sqlite.Open(path), nil
}
