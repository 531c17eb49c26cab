package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/RealZimboGuy/freightflow/internal/config"
)

// placeholder returns the correct bind variable for the given index based on DB type.
// Postgres uses $1, $2... while MySQL and SQLite use ?
func placeholder(i int) string {
	db := config.GetSystemSettingString(config.DATABASE_TYPE)
	if db == config.DATABASE_TYPE_POSTGRES {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

// placeholders returns n comma separated bind variables starting at index start.
func placeholders(start, n int) string {
	pps := make([]string, 0, n)
	for i := 0; i < n; i++ {
		pps = append(pps, placeholder(start+i))
	}
	return strings.Join(pps, ", ")
}

// dateBeforeOrAt returns a predicate comparing a datetime column with the bind variable at idx.
// SQLite stores text timestamps so both sides are coerced through julianday().
func dateBeforeOrAt(column string, idx int) string {
	switch config.GetSystemSettingString(config.DATABASE_TYPE) {
	case config.DATABASE_TYPE_POSTGRES, config.DATABASE_TYPE_MYSQL:
		return fmt.Sprintf("%s <= %s", column, placeholder(idx))
	default:
		return fmt.Sprintf("julianday(%s) <= julianday(%s)", column, placeholder(idx))
	}
}

func dateBefore(column string, idx int) string {
	switch config.GetSystemSettingString(config.DATABASE_TYPE) {
	case config.DATABASE_TYPE_POSTGRES, config.DATABASE_TYPE_MYSQL:
		return fmt.Sprintf("%s < %s", column, placeholder(idx))
	default:
		return fmt.Sprintf("julianday(%s) < julianday(%s)", column, placeholder(idx))
	}
}

func dateAfter(column string, idx int) string {
	switch config.GetSystemSettingString(config.DATABASE_TYPE) {
	case config.DATABASE_TYPE_POSTGRES, config.DATABASE_TYPE_MYSQL:
		return fmt.Sprintf("%s > %s", column, placeholder(idx))
	default:
		return fmt.Sprintf("julianday(%s) > julianday(%s)", column, placeholder(idx))
	}
}

func supportsReturning() bool {
	return config.GetSystemSettingString(config.DATABASE_TYPE) == config.DATABASE_TYPE_POSTGRES
}

func formatDateInDatabase(t time.Time) string {
	switch config.GetSystemSettingString(config.DATABASE_TYPE) {
	case config.DATABASE_TYPE_SQLLITE:
		return t.UTC().Format("2006-01-02 15:04:05.000")
	case config.DATABASE_TYPE_MYSQL:
		return t.UTC().Format("2006-01-02 15:04:05.000000")
	}
	// PostgreSQL supports RFC3339
	return t.UTC().Format(time.RFC3339Nano)
}

func formatDateInDatabaseNull(t sql.NullTime) interface{} {
	if !t.Valid {
		return nil
	}
	return formatDateInDatabase(t.Time)
}

// insertReturningID runs an INSERT and reports the generated id, using RETURNING where the dialect has it.
func insertReturningID(ctx context.Context, db *sql.DB, base string, vals ...interface{}) (int64, error) {
	var id int64
	if supportsReturning() {
		err := db.QueryRowContext(ctx, base+" RETURNING id", vals...).Scan(&id)
		return id, err
	}
	res, err := db.ExecContext(ctx, base, vals...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// execCAS runs a guarded UPDATE and reports whether exactly one row changed.
func execCAS(ctx context.Context, db *sql.DB, query string, vals ...interface{}) (bool, error) {
	res, err := db.ExecContext(ctx, query, vals...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
