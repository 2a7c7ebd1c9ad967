package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/lib/pq"

	"github.com/moshimoshi/fukushu/internal/errs"
)

// placeholder returns the n-th positional placeholder.
func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

// placeholders returns n comma-joined placeholders starting at $1.
func placeholders(n int) string {
	list := []string{}
	for i := 0; i < n; i++ {
		list = append(list, placeholder(i+1))
	}
	return strings.Join(list, ", ")
}

// Timestamps are TIMESTAMPTZ at rest and epoch milliseconds at the store
// boundary. tsExpr and tsParam keep the conversion in one place.

// tsExpr reads a timestamp column as epoch milliseconds.
func tsExpr(column string) string {
	return fmt.Sprintf("(EXTRACT(EPOCH FROM %s) * 1000)::bigint", column)
}

// tsParam binds an epoch-millisecond argument as a timestamp.
func tsParam(n int) string {
	return fmt.Sprintf("to_timestamp($%d::double precision / 1000.0)", n)
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// querier is satisfied by both *sql.DB and *sql.Tx, so single-row statements
// can run standalone or inside a batch transaction.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// nullableMs unwraps an optional epoch-millisecond value for binding.
func nullableMs(ts *int64) any {
	if ts == nil {
		return nil
	}
	return *ts
}

// textArray binds a string slice as TEXT[], never as NULL.
func textArray(values []string) any {
	if values == nil {
		values = []string{}
	}
	return pq.Array(values)
}

// wrapError classifies a database error: transient failures become
// UNAVAILABLE so the store facade retries them, everything else INTERNAL.
func wrapError(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if isTransient(err) {
		return errs.Unavailable(err, format, args...)
	}
	return errs.Internal(err, format, args...)
}

func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// Connection failures, resource exhaustion, shutdowns and system
		// errors clear up on their own; so do serialization failures and
		// deadlocks.
		switch pqErr.Code.Class() {
		case "08", "53", "57", "58":
			return true
		}
		switch pqErr.Code {
		case "40001", "40P01":
			return true
		}
	}
	return false
}
