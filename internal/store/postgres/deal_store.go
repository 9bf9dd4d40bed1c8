package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/skinarb/internal/domain"
)

// DealStore implements domain.DealStore using PostgreSQL.
type DealStore struct {
	pool *pgxpool.Pool
}

// NewDealStore creates a DealStore backed by the given connection pool.
func NewDealStore(pool *pgxpool.Pool) *DealStore {
	return &DealStore{pool: pool}
}

var _ domain.DealStore = (*DealStore)(nil)

const dealSelectCols = `SELECT id, deal_id, item_name, source_market, target_market,
	buy_price, sell_price, spread_percent, spread_usd, deal_created_at,
	success, profit, error, failed_step, buy_reference, sell_reference,
	buy_confirmations, sell_confirmations, duration_seconds, started_at, completed_at
	FROM deal_results`

// uniqueViolation is the SQLSTATE for a duplicate primary key.
const uniqueViolation = "23505"

// Create inserts one result. Results are append-only; a repeated ID yields
// domain.ErrAlreadyExists.
func (s *DealStore) Create(ctx context.Context, r domain.DealResult) error {
	const query = `
		INSERT INTO deal_results (
			id, deal_id, item_name, source_market, target_market,
			buy_price, sell_price, spread_percent, spread_usd, deal_created_at,
			success, profit, error, failed_step, buy_reference, sell_reference,
			buy_confirmations, sell_confirmations, duration_seconds, started_at, completed_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21
		)`
	d := r.Deal
	_, err := s.pool.Exec(ctx, query,
		r.ID, d.ID, d.ItemName, d.SourceMarket, d.TargetMarket,
		d.BuyPrice, d.SellPrice, d.SpreadPercent, d.SpreadUSD, d.CreatedAt,
		r.Success, r.Profit, r.Error, string(r.FailedStep), r.BuyReference, r.SellReference,
		r.BuyConfirmations, r.SellConfirmations, r.DurationSeconds, r.StartedAt, r.CompletedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("postgres: create deal result %s: %w", r.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create deal result %s: %w", r.ID, err)
	}
	return nil
}

// GetByID returns one result or domain.ErrNotFound.
func (s *DealStore) GetByID(ctx context.Context, id string) (domain.DealResult, error) {
	rows, err := s.pool.Query(ctx, dealSelectCols+" WHERE id = $1", id)
	if err != nil {
		return domain.DealResult{}, fmt.Errorf("postgres: get deal result %s: %w", id, err)
	}
	res, err := pgx.CollectExactlyOneRow(rows, scanDealResult)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DealResult{}, fmt.Errorf("postgres: get deal result %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.DealResult{}, fmt.Errorf("postgres: get deal result %s: %w", id, err)
	}
	return res, nil
}

// List returns results newest first with pagination and time filtering on
// completed_at.
func (s *DealStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.DealResult, error) {
	query, args := listQuery(dealSelectCols, "completed_at", opts)
	return s.query(ctx, "list deal results", query, args...)
}

// ListBefore returns every result completed before the cutoff, oldest first.
func (s *DealStore) ListBefore(ctx context.Context, before time.Time) ([]domain.DealResult, error) {
	return s.query(ctx, "list deal results before",
		dealSelectCols+" WHERE completed_at < $1 ORDER BY completed_at ASC", before)
}

// DeleteBefore removes results completed before the cutoff and returns the
// number of rows removed.
func (s *DealStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM deal_results WHERE completed_at < $1", before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete deal results: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SumProfit totals the profit of successful deals completed since the given
// time.
func (s *DealStore) SumProfit(ctx context.Context, since time.Time) (float64, error) {
	var total float64
	err := s.pool.QueryRow(ctx,
		"SELECT COALESCE(SUM(profit), 0) FROM deal_results WHERE success AND completed_at >= $1", since,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum profit: %w", err)
	}
	return total, nil
}

func (s *DealStore) query(ctx context.Context, op, query string, args ...any) ([]domain.DealResult, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	results, err := pgx.CollectRows(rows, scanDealResult)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	return results, nil
}

func scanDealResult(row pgx.CollectableRow) (domain.DealResult, error) {
	var r domain.DealResult
	var step string
	d := &r.Deal
	err := row.Scan(
		&r.ID, &d.ID, &d.ItemName, &d.SourceMarket, &d.TargetMarket,
		&d.BuyPrice, &d.SellPrice, &d.SpreadPercent, &d.SpreadUSD, &d.CreatedAt,
		&r.Success, &r.Profit, &r.Error, &step, &r.BuyReference, &r.SellReference,
		&r.BuyConfirmations, &r.SellConfirmations, &r.DurationSeconds, &r.StartedAt, &r.CompletedAt,
	)
	r.FailedStep = domain.EngineState(step)
	return r, err
}
