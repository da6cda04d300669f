package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	appbacktest "rulebot/internal/application/service/backtest"
	domainbacktest "rulebot/internal/domain/entity/backtest"
	bots "rulebot/internal/domain/entity/bots"
	marketdata "rulebot/internal/domain/entity/marketdata"
	"rulebot/internal/domain/entity/rules"
	"rulebot/internal/infrastructure/backtests"
)

type stubRunRepo struct {
	mu   sync.Mutex
	runs map[uuid.UUID]domainbacktest.Run
}

func newStubRunRepo() *stubRunRepo {
	return &stubRunRepo{runs: make(map[uuid.UUID]domainbacktest.Run)}
}

func (s *stubRunRepo) Create(_ context.Context, run *domainbacktest.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = *run
	return nil
}

func (s *stubRunRepo) Get(_ context.Context, id uuid.UUID) (*domainbacktest.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, backtests.ErrRunNotFound
	}
	return &run, nil
}

func (s *stubRunRepo) Update(_ context.Context, run *domainbacktest.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = *run
	return nil
}

func (s *stubRunRepo) CountInFlight(_ context.Context, botID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, run := range s.runs {
		if run.BotID == botID && (run.Status == domainbacktest.StatusPending || run.Status == domainbacktest.StatusRunning) {
			n++
		}
	}
	return n, nil
}

func (s *stubRunRepo) ListCompleted(_ context.Context, botID uuid.UUID, limit int) ([]domainbacktest.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domainbacktest.Run
	for _, run := range s.runs {
		if run.BotID == botID && run.Status == domainbacktest.StatusCompleted && len(out) < limit {
			out = append(out, run)
		}
	}
	return out, nil
}

func (s *stubRunRepo) TrimCompleted(_ context.Context, _ uuid.UUID, _ int) error { return nil }

type stubTickRepo struct {
	ticks []marketdata.Tick
}

func (s *stubTickRepo) AddTicks(_ context.Context, _ []marketdata.Tick) error { return nil }

func (s *stubTickRepo) GetRange(_ context.Context, _ string, _, _ time.Time) ([]marketdata.Tick, error) {
	return s.ticks, nil
}

func (s *stubTickRepo) CountRange(_ context.Context, _ string, _, _ time.Time) (int64, error) {
	return int64(len(s.ticks)), nil
}

type stubBotRepo struct {
	bot *bots.Bot
}

func (s *stubBotRepo) Get(_ context.Context, id uuid.UUID) (*bots.Bot, error) {
	if s.bot == nil || s.bot.ID != id {
		return nil, errors.New("not found")
	}
	return s.bot, nil
}

func (s *stubBotRepo) ListActive(_ context.Context) ([]bots.Bot, error) { return nil, nil }

type stubTradeLog struct {
	records []bots.TradeRecord
}

func (s *stubTradeLog) Append(_ context.Context, record *bots.TradeRecord) error {
	s.records = append(s.records, *record)
	return nil
}

func (s *stubTradeLog) RecentForBot(_ context.Context, botID uuid.UUID, limit int) ([]bots.TradeRecord, error) {
	var out []bots.TradeRecord
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		if s.records[i].BotID == botID {
			out = append(out, s.records[i])
		}
	}
	return out, nil
}

func newTestHandler(runs *stubRunRepo, botRepo *stubBotRepo, trades *stubTradeLog) *Handler {
	ticks := &stubTickRepo{ticks: []marketdata.Tick{{
		Pair: "BTCUSDT",
		Time: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}}}
	return newTestHandlerWithTicks(runs, ticks, botRepo, trades)
}

func newTestHandlerWithTicks(runs *stubRunRepo, ticks *stubTickRepo, botRepo *stubBotRepo, trades *stubTradeLog) *Handler {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	svc := appbacktest.NewService(runs, ticks, botRepo, logger)
	return NewHandler(svc, trades, nil, 0)
}

func apiBot() *bots.Bot {
	return &bots.Bot{
		ID:     uuid.New(),
		Active: true,
		Config: bots.ExecutionConfig{
			Pair: "BTCUSDT",
			Mode: bots.ModeOnceAndWait,
			BuyQuery: &rules.RuleGroup{
				Combinator: rules.CombinatorAnd,
				Children:   []rules.Node{rules.RuleNode("rsi_14", rules.OpLess, "30")},
			},
		},
	}
}

func submitBody(t *testing.T, botID string) *bytes.Buffer {
	t.Helper()
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	body, err := json.Marshal(map[string]any{
		"botId": botID,
		"from":  from,
		"to":    from.Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return bytes.NewBuffer(body)
}

func TestSubmitBacktest_Accepted(t *testing.T) {
	bot := apiBot()
	handler := newTestHandler(newStubRunRepo(), &stubBotRepo{bot: bot}, &stubTradeLog{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/backtests/", submitBody(t, bot.ID.String()))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusAccepted, rec.Body.String())
	}
	var run domainbacktest.Run
	if err := json.Unmarshal(rec.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if run.Status != domainbacktest.StatusPending {
		t.Errorf("run status = %q, want %q", run.Status, domainbacktest.StatusPending)
	}
	if run.BotID != bot.ID {
		t.Errorf("run bot = %s, want %s", run.BotID, bot.ID)
	}
}

func TestSubmitBacktest_UnknownBot(t *testing.T) {
	handler := newTestHandler(newStubRunRepo(), &stubBotRepo{}, &stubTradeLog{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/backtests/", submitBody(t, uuid.NewString()))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestSubmitBacktest_ConflictWhileInFlight(t *testing.T) {
	bot := apiBot()
	runs := newStubRunRepo()
	runs.runs[uuid.New()] = domainbacktest.Run{
		ID:     uuid.New(),
		BotID:  bot.ID,
		Status: domainbacktest.StatusRunning,
	}
	handler := newTestHandler(runs, &stubBotRepo{bot: bot}, &stubTradeLog{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/backtests/", submitBody(t, bot.ID.String()))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestSubmitBacktest_BadWindow(t *testing.T) {
	bot := apiBot()
	handler := newTestHandler(newStubRunRepo(), &stubBotRepo{bot: bot}, &stubTradeLog{})

	body, _ := json.Marshal(map[string]any{
		"botId": bot.ID.String(),
		"from":  time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		"to":    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/backtests/", bytes.NewBuffer(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestSubmitBacktest_EmptyWindowUnprocessable(t *testing.T) {
	bot := apiBot()
	handler := newTestHandlerWithTicks(newStubRunRepo(), &stubTickRepo{}, &stubBotRepo{bot: bot}, &stubTradeLog{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/backtests/", submitBody(t, bot.ID.String()))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d: %s", rec.Code, http.StatusUnprocessableEntity, rec.Body.String())
	}
}

func TestGetBacktest_NotFound(t *testing.T) {
	handler := newTestHandler(newStubRunRepo(), &stubBotRepo{}, &stubTradeLog{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/backtests/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestListTrades_ReturnsRecentRecords(t *testing.T) {
	bot := apiBot()
	trades := &stubTradeLog{}
	for i := 0; i < 3; i++ {
		_ = trades.Append(context.Background(), &bots.TradeRecord{
			ID:     uuid.New(),
			BotID:  bot.ID,
			Action: bots.ActionBuy,
			Price:  45000 + float64(i),
			Status: bots.OrderFilled,
		})
	}
	handler := newTestHandler(newStubRunRepo(), &stubBotRepo{bot: bot}, trades)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/bots/"+bot.ID.String()+"/trades?limit=2", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var records []bots.TradeRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("expected 2 records, got %d", len(records))
	}
}

func TestListTrades_RejectsBadLimit(t *testing.T) {
	bot := apiBot()
	handler := newTestHandler(newStubRunRepo(), &stubBotRepo{bot: bot}, &stubTradeLog{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/bots/"+bot.ID.String()+"/trades?limit=-1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}
