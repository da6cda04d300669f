package tradelog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	bots "rulebot/internal/domain/entity/bots"
	marketdata "rulebot/internal/domain/entity/marketdata"
)

// Repository appends trade records to postgres. The table is append-only;
// there is no update path by design of the trade log.
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

const insertTradeQuery = `
	INSERT INTO trade_records (id, bot_id, recorded_at, action, price, trigger, sizing, order_status, order_id, fail_reason, indicators)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`

func (r *Repository) Append(ctx context.Context, record *bots.TradeRecord) error {
	if record == nil {
		return errors.New("nil trade record")
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	sizing, err := marshalSizing(record.Sizing)
	if err != nil {
		return err
	}
	indicators, err := json.Marshal(record.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal indicators: %w", err)
	}
	_, err = r.pool.Exec(ctx, insertTradeQuery,
		record.ID,
		record.BotID,
		record.Timestamp,
		record.Action,
		record.Price,
		record.Trigger,
		sizing,
		record.Status,
		nullable(record.OrderID),
		nullable(record.FailReason),
		indicators,
	)
	return err
}

func (r *Repository) RecentForBot(ctx context.Context, botID uuid.UUID, limit int) ([]bots.TradeRecord, error) {
	const query = `
		SELECT id, bot_id, recorded_at, action, price, trigger, sizing, order_status, order_id, fail_reason, indicators
		FROM trade_records
		WHERE bot_id=$1
		ORDER BY recorded_at DESC
		LIMIT $2`
	rows, err := r.pool.Query(ctx, query, botID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []bots.TradeRecord
	for rows.Next() {
		var (
			record     bots.TradeRecord
			recordedAt time.Time
			sizing     []byte
			orderID    *string
			failReason *string
			indicators []byte
		)
		if err := rows.Scan(
			&record.ID,
			&record.BotID,
			&recordedAt,
			&record.Action,
			&record.Price,
			&record.Trigger,
			&sizing,
			&record.Status,
			&orderID,
			&failReason,
			&indicators,
		); err != nil {
			return nil, err
		}
		record.Timestamp = recordedAt
		if len(sizing) > 0 {
			parsed := &bots.Sizing{}
			if err := json.Unmarshal(sizing, parsed); err != nil {
				return nil, fmt.Errorf("unmarshal sizing: %w", err)
			}
			record.Sizing = parsed
		}
		if orderID != nil {
			record.OrderID = *orderID
		}
		if failReason != nil {
			record.FailReason = *failReason
		}
		if len(indicators) > 0 {
			var snapshot marketdata.IndicatorSnapshot
			if err := json.Unmarshal(indicators, &snapshot); err != nil {
				return nil, fmt.Errorf("unmarshal indicators: %w", err)
			}
			record.Snapshot = snapshot
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func marshalSizing(sizing *bots.Sizing) ([]byte, error) {
	if sizing == nil {
		return nil, nil
	}
	data, err := json.Marshal(sizing)
	if err != nil {
		return nil, fmt.Errorf("marshal sizing: %w", err)
	}
	return data, nil
}

func nullable(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
