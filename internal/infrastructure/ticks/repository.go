package ticks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	marketdata "rulebot/internal/domain/entity/marketdata"
)

// Repository stores the historical indicator tick series that backtests
// replay. Inserts arrive in batches from the broker's persistence buffer.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(ctx context.Context, dsn string) (*Repository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	return &Repository{pool: pool}, nil
}

func (r *Repository) Close() {
	if r == nil || r.pool == nil {
		return
	}
	r.pool.Close()
}

func (r *Repository) AddTicks(ctx context.Context, ticks []marketdata.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	rows := make([][]interface{}, 0, len(ticks))
	for i := range ticks {
		snapshot, err := json.Marshal(ticks[i].Snapshot)
		if err != nil {
			return fmt.Errorf("marshal snapshot: %w", err)
		}
		rows = append(rows, []interface{}{
			ticks[i].Pair,
			ticks[i].Time,
			snapshot,
		})
	}
	_, err := r.pool.CopyFrom(
		ctx,
		pgx.Identifier{"indicator_ticks"},
		[]string{"pair", "ticked_at", "snapshot"},
		pgx.CopyFromRows(rows),
	)
	return err
}

// CountRange reports how many ticks exist for a pair in a window; the
// backtest service rejects submissions over empty windows up front.
func (r *Repository) CountRange(ctx context.Context, pair string, from, to time.Time) (int64, error) {
	const query = `
		SELECT COUNT(*)
		FROM indicator_ticks
		WHERE pair=$1 AND ticked_at >= $2 AND ticked_at <= $3`
	var count int64
	if err := r.pool.QueryRow(ctx, query, pair, from, to).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// GetRange returns the tick series for a pair in chronological order.
func (r *Repository) GetRange(ctx context.Context, pair string, from, to time.Time) ([]marketdata.Tick, error) {
	const query = `
		SELECT pair, ticked_at, snapshot
		FROM indicator_ticks
		WHERE pair=$1 AND ticked_at >= $2 AND ticked_at <= $3
		ORDER BY ticked_at ASC`
	rows, err := r.pool.Query(ctx, query, pair, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ticks []marketdata.Tick
	for rows.Next() {
		var (
			tick     marketdata.Tick
			snapshot []byte
		)
		if err := rows.Scan(&tick.Pair, &tick.Time, &snapshot); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(snapshot, &tick.Snapshot); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot: %w", err)
		}
		ticks = append(ticks, tick)
	}
	return ticks, rows.Err()
}
