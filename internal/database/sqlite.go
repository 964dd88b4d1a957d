package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"
	"github.com/google/uuid"
)

// OpenSQLite opens a pure-Go SQLite database.  An empty dsn yields a
// private in-memory database, which is what tests and single-node dev
// runs use.  SQLite allows one writer at a time, so the pool is capped
// at a single connection.
func OpenSQLite(dsn string) (*sql.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := Migrate(ctx, db, DialectSQLite); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
