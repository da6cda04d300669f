package backtests

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	backtest "rulebot/internal/domain/entity/backtest"
)

var ErrRunNotFound = errors.New("backtest run not found")

type runModel struct {
	ID         uuid.UUID `gorm:"primaryKey;column:id;type:uuid"`
	BotID      uuid.UUID `gorm:"column:bot_id;type:uuid;not null;index"`
	Status     string    `gorm:"column:status;type:varchar(16);not null;index"`
	WindowFrom time.Time `gorm:"column:window_from;not null"`
	WindowTo   time.Time `gorm:"column:window_to;not null"`
	Report     []byte    `gorm:"column:report;type:jsonb"`
	Error      string    `gorm:"column:error;type:text"`
	TestedAt   time.Time `gorm:"column:tested_at;not null;index"`
}

func (runModel) TableName() string {
	return "backtest_runs"
}

// Repository persists backtest runs and enforces per-bot rolling retention
// of completed results.
type Repository struct {
	db *gorm.DB
}

func NewRepository(dsn string) (*Repository, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&runModel{}); err != nil {
		return nil, fmt.Errorf("migrate backtest runs: %w", err)
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Create(ctx context.Context, run *backtest.Run) error {
	model, err := toModel(run)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(model).Error
}

func (r *Repository) Update(ctx context.Context, run *backtest.Run) error {
	model, err := toModel(run)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Save(model).Error
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*backtest.Run, error) {
	var model runModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return toDomain(&model)
}

// CountInFlight counts pending or running runs for the advisory
// one-backtest-at-a-time check.
func (r *Repository) CountInFlight(ctx context.Context, botID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&runModel{}).
		Where("bot_id = ? AND status IN ?", botID, []string{string(backtest.StatusPending), string(backtest.StatusRunning)}).
		Count(&count).Error
	return count, err
}

func (r *Repository) ListCompleted(ctx context.Context, botID uuid.UUID, limit int) ([]backtest.Run, error) {
	var models []runModel
	err := r.db.WithContext(ctx).
		Where("bot_id = ? AND status = ?", botID, string(backtest.StatusCompleted)).
		Order("tested_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	runs := make([]backtest.Run, 0, len(models))
	for i := range models {
		run, err := toDomain(&models[i])
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, nil
}

// TrimCompleted deletes completed runs beyond the keep most recent by
// tested_at, leaving exactly keep behind once more than keep exist.
func (r *Repository) TrimCompleted(ctx context.Context, botID uuid.UUID, keep int) error {
	const query = `
		DELETE FROM backtest_runs
		WHERE bot_id = ? AND status = ?
		AND id NOT IN (
			SELECT id FROM backtest_runs
			WHERE bot_id = ? AND status = ?
			ORDER BY tested_at DESC
			LIMIT ?
		)`
	completed := string(backtest.StatusCompleted)
	return r.db.WithContext(ctx).Exec(query, botID, completed, botID, completed, keep).Error
}

func toModel(run *backtest.Run) (*runModel, error) {
	model := &runModel{
		ID:         run.ID,
		BotID:      run.BotID,
		Status:     string(run.Status),
		WindowFrom: run.Window.From,
		WindowTo:   run.Window.To,
		Error:      run.Error,
		TestedAt:   run.TestedAt,
	}
	if run.Report != nil {
		report, err := json.Marshal(run.Report)
		if err != nil {
			return nil, fmt.Errorf("marshal report: %w", err)
		}
		model.Report = report
	}
	return model, nil
}

func toDomain(model *runModel) (*backtest.Run, error) {
	run := &backtest.Run{
		ID:       model.ID,
		BotID:    model.BotID,
		Status:   backtest.RunStatus(model.Status),
		Window:   backtest.Window{From: model.WindowFrom, To: model.WindowTo},
		Error:    model.Error,
		TestedAt: model.TestedAt,
	}
	if len(model.Report) > 0 {
		report := &backtest.Report{}
		if err := json.Unmarshal(model.Report, report); err != nil {
			return nil, fmt.Errorf("unmarshal report for run %s: %w", model.ID, err)
		}
		run.Report = report
	}
	return run, nil
}
