package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	backtest "rulebot/internal/domain/entity/backtest"
	bots "rulebot/internal/domain/entity/bots"
	interfaces "rulebot/internal/domain/interfaces"
)

// MaxCompletedRuns is the rolling retention cap: only this many completed
// runs are kept per bot, oldest removed first.
const MaxCompletedRuns = 5

const executeTimeout = 5 * time.Minute

var (
	ErrRunInFlight = errors.New("a backtest is already pending or running for this bot")
	ErrBotNotFound = errors.New("bot not found")
	ErrEmptyWindow = errors.New("no ticks recorded in the requested window")
)

// Service owns the backtest run lifecycle: submission, execution, report
// persistence and rolling retention.
type Service struct {
	runs   interfaces.BacktestRepository
	ticks  interfaces.TickRepository
	bots   interfaces.BotRepository
	logger *logrus.Entry
}

func NewService(runs interfaces.BacktestRepository, ticks interfaces.TickRepository, botsRepo interfaces.BotRepository, logger *logrus.Logger) *Service {
	return &Service{
		runs:   runs,
		ticks:  ticks,
		bots:   botsRepo,
		logger: logger.WithField("component", "backtest"),
	}
}

// Submit records a pending run and starts it in the background. The one-run
// in-flight check per bot is advisory: it is a plain query, not an atomic
// guarantee, but the submission path is expected to respect it.
func (s *Service) Submit(ctx context.Context, botID uuid.UUID, window backtest.Window) (*backtest.Run, error) {
	bot, err := s.bots.Get(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBotNotFound, err)
	}

	inFlight, err := s.runs.CountInFlight(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("count in-flight runs: %w", err)
	}
	if inFlight > 0 {
		return nil, ErrRunInFlight
	}

	count, err := s.ticks.CountRange(ctx, bot.Config.Pair, window.From, window.To)
	if err != nil {
		return nil, fmt.Errorf("count window ticks: %w", err)
	}
	if count == 0 {
		return nil, ErrEmptyWindow
	}

	run := &backtest.Run{
		ID:       uuid.New(),
		BotID:    botID,
		Status:   backtest.StatusPending,
		Window:   window,
		TestedAt: time.Now().UTC(),
	}
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	go func() {
		runCtx, cancel := context.WithTimeout(context.Background(), executeTimeout)
		defer cancel()
		s.Execute(runCtx, run, bot)
	}()

	return run, nil
}

// Execute drives one run to completed or failed. Every run outcome is
// persisted; nothing here propagates beyond the run itself.
func (s *Service) Execute(ctx context.Context, run *backtest.Run, bot *bots.Bot) {
	log := s.logger.WithFields(logrus.Fields{"run": run.ID, "bot": run.BotID})

	run.Status = backtest.StatusRunning
	if err := s.runs.Update(ctx, run); err != nil {
		log.WithError(err).Error("mark run running failed")
		return
	}

	ticks, err := s.ticks.GetRange(ctx, bot.Config.Pair, run.Window.From, run.Window.To)
	if err != nil {
		s.fail(ctx, run, fmt.Errorf("fetch ticks: %w", err), log)
		return
	}

	report, err := Simulate(&bot.Config, run.Window, ticks)
	if err != nil {
		s.fail(ctx, run, err, log)
		return
	}

	run.Status = backtest.StatusCompleted
	run.Report = report
	run.TestedAt = time.Now().UTC()
	if err := s.runs.Update(ctx, run); err != nil {
		log.WithError(err).Error("persist completed run failed")
		return
	}

	if err := s.runs.TrimCompleted(ctx, run.BotID, MaxCompletedRuns); err != nil {
		log.WithError(err).Warn("trim completed runs failed")
	}
	log.WithField("trades", report.Summary.TotalTrades).Info("backtest completed")
}

// Get returns one run with its report, if finished.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*backtest.Run, error) {
	return s.runs.Get(ctx, id)
}

// ListCompleted returns the retained completed runs for a bot, newest first.
func (s *Service) ListCompleted(ctx context.Context, botID uuid.UUID) ([]backtest.Run, error) {
	return s.runs.ListCompleted(ctx, botID, MaxCompletedRuns)
}

func (s *Service) fail(ctx context.Context, run *backtest.Run, cause error, log *logrus.Entry) {
	run.Status = backtest.StatusFailed
	run.Error = cause.Error()
	run.TestedAt = time.Now().UTC()
	if err := s.runs.Update(ctx, run); err != nil {
		log.WithError(err).Error("persist failed run failed")
		return
	}
	log.WithError(cause).Warn("backtest failed")
}
