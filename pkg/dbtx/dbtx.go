// Package dbtx defines the minimal database handle every repository needs,
// satisfied equally by a *pgxpool.Pool, a *pgxpool.Conn, or a pgx.Tx, so
// repositories can run standalone or inside a caller-managed transaction
// without changing their method signatures.
package dbtx

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of pgx's pool/conn/tx surface repositories depend on.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
