package botstore

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

	bots "rulebot/internal/domain/entity/bots"
)

var ErrBotNotFound = errors.New("bot not found")

// botModel is the persisted shape of a bot. The execution config is stored
// as a JSON document: the management plane owns its validation, the engine
// only reads it.
type botModel struct {
	ID        uuid.UUID `gorm:"primaryKey;column:id;type:uuid"`
	AccountID string    `gorm:"column:account_id;type:varchar(64);not null"`
	Pair      string    `gorm:"column:pair;type:varchar(32);not null;index"`
	Active    bool      `gorm:"column:active;not null;index"`
	Config    []byte    `gorm:"column:config;type:jsonb;not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (botModel) TableName() string {
	return "bots"
}

// Repository reads bot configurations maintained by the management plane.
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
	if err := db.AutoMigrate(&botModel{}); err != nil {
		return nil, fmt.Errorf("migrate bots: %w", err)
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*bots.Bot, error) {
	var model botModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBotNotFound
	}
	if err != nil {
		return nil, err
	}
	return toDomain(&model)
}

func (r *Repository) ListActive(ctx context.Context) ([]bots.Bot, error) {
	var models []botModel
	if err := r.db.WithContext(ctx).Where("active = ?", true).Find(&models).Error; err != nil {
		return nil, err
	}
	result := make([]bots.Bot, 0, len(models))
	for i := range models {
		bot, err := toDomain(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, *bot)
	}
	return result, nil
}

// Save upserts a bot row; used by tooling and tests, the engine itself only
// reads.
func (r *Repository) Save(ctx context.Context, bot *bots.Bot) error {
	config, err := json.Marshal(bot.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	model := botModel{
		ID:        bot.ID,
		AccountID: bot.AccountID,
		Pair:      bot.Config.Pair,
		Active:    bot.Active,
		Config:    config,
		CreatedAt: bot.CreatedAt,
		UpdatedAt: bot.UpdatedAt,
	}
	return r.db.WithContext(ctx).Save(&model).Error
}

func toDomain(model *botModel) (*bots.Bot, error) {
	bot := &bots.Bot{
		ID:        model.ID,
		AccountID: model.AccountID,
		Active:    model.Active,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
	if err := json.Unmarshal(model.Config, &bot.Config); err != nil {
		return nil, fmt.Errorf("unmarshal config for bot %s: %w", model.ID, err)
	}
	return bot, nil
}
