package db

import (
	"context"
	"database/sql"

	"github.com/xiaoyuanzhu-com/opencode-bot/log"
)

func (d *DB) logQuery(kind string, query string, args []any) {
	if !d.logQueries {
		return
	}
	log.Debug().
		Str("kind", kind).
		Str("sql", query).
		Interface("params", args).
		Msg("db query")
}

// Run executes an INSERT/UPDATE/DELETE query
func (d *DB) Run(ctx context.Context, query string, args ...any) (sql.Result, error) {
	d.logQuery("run", query, args)
	return d.conn.ExecContext(ctx, query, args...)
}

// QueryRow runs a query expected to return at most one row
func (d *DB) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	d.logQuery("get", query, args)
	return d.conn.QueryRowContext(ctx, query, args...)
}

// Select runs a SELECT query returning multiple rows.
// The scanner function is called for each row to map results.
func Select[T any](ctx context.Context, d *DB, query string, args []any, scanner func(*sql.Rows) (T, error)) ([]T, error) {
	d.logQuery("select", query, args)

	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []T
	for rows.Next() {
		item, err := scanner(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}
