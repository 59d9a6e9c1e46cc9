package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Database is the minimal transaction boundary every service depends
// on. Services call Begin to obtain a pgx.Tx, pass it through the
// repository calls that make up one command, and Commit or Rollback
// once the outbox row has been inserted in the same transaction.
type Database interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Pool adapts a *pgxpool.Pool to Database.
type Pool struct {
	*pgxpool.Pool
}

// NewPool wraps an existing pgxpool.Pool.
func NewPool(pool *pgxpool.Pool) *Pool {
	return &Pool{Pool: pool}
}

func (p *Pool) Begin(ctx context.Context) (pgx.Tx, error) {
	return p.Pool.Begin(ctx)
}
