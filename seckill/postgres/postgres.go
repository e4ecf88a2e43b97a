// Package postgres persists flash-sale orders in PostgreSQL.
//
// Expected schema:
//
//	CREATE TABLE voucher_order (
//	    id         BIGINT PRIMARY KEY,
//	    user_id    BIGINT NOT NULL,
//	    voucher_id BIGINT NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL,
//	    UNIQUE (user_id, voucher_id)
//	);
//
// The unique constraint is the durable one-order-per-user guarantee; the
// processor's per-user lock only narrows the window, it does not replace it.
package postgres

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unkn0wn-root/stampede/seckill"
)

const table = "voucher_order"

// uniqueViolation is the SQLSTATE for a unique constraint violation.
const uniqueViolation = "23505"

var sb = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store implements seckill.OrderStore on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ seckill.OrderStore = (*Store)(nil)

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// InsertIfAbsent inserts the order unless one already exists for the same
// (user, voucher) pair. A concurrent insert losing to the unique constraint
// is reported as (false, nil), same as finding the row up front.
func (s *Store) InsertIfAbsent(ctx context.Context, o seckill.Order) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	query, args, err := sb.Select("1").
		From(table).
		Where(sq.Eq{"user_id": int64(o.UserID), "voucher_id": int64(o.VoucherID)}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("postgres: build select: %w", err)
	}

	var one int
	err = tx.QueryRow(ctx, query, args...).Scan(&one)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return false, fmt.Errorf("postgres: lookup order: %w", err)
	}

	query, args, err = sb.Insert(table).
		Columns("id", "user_id", "voucher_id", "created_at").
		Values(int64(o.ID), int64(o.UserID), int64(o.VoucherID), o.CreatedAt).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("postgres: build insert: %w", err)
	}

	if _, err := tx.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return false, nil
		}
		return false, fmt.Errorf("postgres: insert order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("postgres: commit: %w", err)
	}
	return true, nil
}
