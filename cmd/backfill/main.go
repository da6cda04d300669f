package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"rulebot/internal/domain/entity/marketdata"
	"rulebot/internal/indicators"
	"rulebot/internal/infrastructure/ticks"
)

const (
	defaultPairsFile = "cmd/producer/pairs.json"
	defaultInterval  = "1m"

	klinePageLimit = 1000
	insertBatch    = 500
)

var intervalDurations = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"1d":  24 * time.Hour,
}

type backfillConfig struct {
	DSN      string
	Pairs    []string
	Interval string
	Step     time.Duration
	From     time.Time
	To       time.Time
}

func main() {
	_ = godotenv.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tickRepo, err := ticks.NewRepository(ctx, cfg.DSN)
	if err != nil {
		logger.Fatalf("failed to init tick repo: %v", err)
	}
	defer tickRepo.Close()

	client := binance.NewClient(os.Getenv("BINANCE_API_KEY"), os.Getenv("BINANCE_SECRET_KEY"))
	loader := &loader{
		cfg:    cfg,
		client: client,
		repo:   tickRepo,
		logger: logger.WithField("component", "backfill"),
	}

	for _, pair := range cfg.Pairs {
		if ctx.Err() != nil {
			break
		}
		count, err := loader.backfillPair(ctx, pair)
		if err != nil {
			logger.WithField("pair", pair).WithError(err).Error("backfill failed")
			continue
		}
		logger.WithFields(logrus.Fields{"pair": pair, "ticks": count}).Info("pair backfilled")
	}
}

type loader struct {
	cfg    *backfillConfig
	client *binance.Client
	repo   *ticks.Repository
	logger *logrus.Entry
}

// backfillPair fetches klines from before the window start so that every
// tick inside the window has full indicator history, then inserts the
// window's ticks in batches.
func (l *loader) backfillPair(ctx context.Context, pair string) (int, error) {
	warmup := indicators.MinCloses + 40
	fetchFrom := l.cfg.From.Add(-time.Duration(warmup) * l.cfg.Step)

	klines, err := l.fetchKlines(ctx, pair, fetchFrom, l.cfg.To)
	if err != nil {
		return 0, err
	}
	if len(klines) == 0 {
		return 0, fmt.Errorf("no klines for %s in window", pair)
	}

	closes := make([]float64, 0, len(klines))
	total := 0
	batch := make([]marketdata.Tick, 0, insertBatch)

	for _, k := range klines {
		closePrice, err := strconv.ParseFloat(k.Close, 64)
		if err != nil {
			return total, fmt.Errorf("parse close %q: %w", k.Close, err)
		}
		closes = append(closes, closePrice)

		tickedAt := time.UnixMilli(k.CloseTime).UTC()
		if tickedAt.Before(l.cfg.From) || tickedAt.After(l.cfg.To) {
			continue
		}
		if len(closes) < indicators.MinCloses {
			continue
		}

		volume, changePct := l.trailingStats(klines, closes, len(closes)-1)
		snapshot, err := indicators.BuildSnapshot(closes, volume, changePct)
		if err != nil {
			continue
		}
		batch = append(batch, marketdata.Tick{Pair: pair, Time: tickedAt, Snapshot: snapshot})

		if len(batch) >= insertBatch {
			if err := l.repo.AddTicks(ctx, batch); err != nil {
				return total, fmt.Errorf("insert ticks: %w", err)
			}
			total += len(batch)
			batch = batch[:0]
		}
	}

	if len(batch) > 0 {
		if err := l.repo.AddTicks(ctx, batch); err != nil {
			return total, fmt.Errorf("insert ticks: %w", err)
		}
		total += len(batch)
	}
	return total, nil
}

// trailingStats derives 24h quote volume and price change from the kline
// series itself. Both are zero when the series does not cover 24h yet.
func (l *loader) trailingStats(klines []*binance.Kline, closes []float64, idx int) (volume, changePct float64) {
	points := int(24 * time.Hour / l.cfg.Step)
	if points <= 0 || idx < points {
		return 0, 0
	}
	for i := idx - points + 1; i <= idx; i++ {
		v, err := strconv.ParseFloat(klines[i].QuoteAssetVolume, 64)
		if err == nil {
			volume += v
		}
	}
	prev := closes[idx-points]
	if prev != 0 {
		changePct = (closes[idx] - prev) / prev * 100
	}
	return volume, changePct
}

func (l *loader) fetchKlines(ctx context.Context, pair string, from, to time.Time) ([]*binance.Kline, error) {
	var all []*binance.Kline
	cursor := from
	for cursor.Before(to) {
		page, err := l.client.NewKlinesService().
			Symbol(pair).
			Interval(l.cfg.Interval).
			StartTime(cursor.UnixMilli()).
			EndTime(to.UnixMilli()).
			Limit(klinePageLimit).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch klines: %w", err)
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
		last := page[len(page)-1]
		next := time.UnixMilli(last.CloseTime).UTC()
		if !next.After(cursor) {
			break
		}
		cursor = next
	}
	return all, nil
}

func loadConfig() (*backfillConfig, error) {
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		return nil, errors.New("DATABASE_DSN is required")
	}

	from, err := timeEnv("BACKFILL_FROM")
	if err != nil {
		return nil, err
	}
	to, err := timeEnv("BACKFILL_TO")
	if err != nil {
		return nil, err
	}
	if !to.After(from) {
		return nil, errors.New("BACKFILL_TO must be after BACKFILL_FROM")
	}

	interval := envOrDefault("BACKFILL_INTERVAL", defaultInterval)
	step, ok := intervalDurations[interval]
	if !ok {
		return nil, fmt.Errorf("unsupported interval %q", interval)
	}

	pairs, err := readPairs(envOrDefault("PAIRS_FILE", defaultPairsFile))
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, errors.New("pairs list is empty")
	}

	return &backfillConfig{
		DSN:      dsn,
		Pairs:    pairs,
		Interval: interval,
		Step:     step,
		From:     from.UTC(),
		To:       to.UTC(),
	}, nil
}

func timeEnv(key string) (time.Time, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return time.Time{}, fmt.Errorf("%s is required", key)
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}

func envOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func readPairs(path string) ([]string, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read pairs file: %w", err)
	}
	var payload struct {
		Pairs []string `json:"pairs"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse pairs file: %w", err)
	}
	pairs := make([]string, 0, len(payload.Pairs))
	for _, pair := range payload.Pairs {
		pair = strings.ToUpper(strings.TrimSpace(pair))
		if pair != "" {
			pairs = append(pairs, pair)
		}
	}
	return pairs, nil
}
