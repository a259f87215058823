package storeguard

import (
	"context"
	"database/sql"

	"github.com/sony/gobreaker"
)

// DB wraps a database connection with store guard protection. The postgres
// stats repository uses it for every query so that a dead database fails
// fast instead of holding a connection slot per routing request.
type DB struct {
	guard *Guard
	db    *sql.DB
}

// NewDB wraps db with the stats store breaker configuration.
func NewDB(db *sql.DB) *DB {
	return &DB{guard: New(StatsStoreConfig()), db: db}
}

// NewDBWithConfig wraps db with a custom breaker configuration.
func NewDBWithConfig(db *sql.DB, cfg Config) *DB {
	return &DB{guard: New(cfg), db: db}
}

// QueryContext executes a query through the breaker. When the circuit is
// open it returns gobreaker.ErrOpenState without hitting the database.
func (d *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	result, err := d.guard.Execute(func() (interface{}, error) {
		return d.db.QueryContext(ctx, query, args...)
	})
	if err != nil {
		return nil, err
	}
	return result.(*sql.Rows), nil
}

// ExecContext executes a statement through the breaker.
func (d *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	result, err := d.guard.Execute(func() (interface{}, error) {
		return d.db.ExecContext(ctx, query, args...)
	})
	if err != nil {
		return nil, err
	}
	return result.(sql.Result), nil
}

// State returns the breaker state.
func (d *DB) State() gobreaker.State {
	return d.guard.State()
}

// IsOpen returns true if the breaker is open.
func (d *DB) IsOpen() bool {
	return d.guard.IsOpen()
}

// DB returns the underlying connection for operations that should bypass
// the breaker, such as the readiness ping.
func (d *DB) DB() *sql.DB {
	return d.db
}
