package http

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	appbacktest "rulebot/internal/application/service/backtest"
	domainbacktest "rulebot/internal/domain/entity/backtest"
	"rulebot/internal/domain/interfaces"
	"rulebot/internal/infrastructure/backtests"
)

const (
	backtestsBasePath = "/api/v1/backtests"
	botsBasePath      = "/api/v1/bots"
)

const defaultTradeLimit = 50

var (
	errMissingID    = errors.New("missing id")
	errMissingRange = errors.New("from/to body fields required")
	errBadWindow    = errors.New("window end must be after start")
)

type Handler struct {
	router    *gin.Engine
	backtests *appbacktest.Service
	trades    interfaces.TradeLogRepository
	cache     *redis.Client
	cacheTTL  time.Duration
}

func NewHandler(bt *appbacktest.Service, trades interfaces.TradeLogRepository, cache *redis.Client, cacheTTL time.Duration) *Handler {
	router := gin.New()
	router.Use(gin.Recovery())

	h := &Handler{
		router:    router,
		backtests: bt,
		trades:    trades,
		cache:     cache,
		cacheTTL:  cacheTTL,
	}
	h.registerRoutes()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	bt := h.router.Group(backtestsBasePath)
	{
		bt.POST("/", h.submitBacktest)
		bt.GET("/:id", h.getBacktest)
	}

	bots := h.router.Group(botsBasePath)
	if h.cache != nil {
		bots.Use(h.cacheMiddleware())
	}
	{
		bots.GET("/:id/backtests", h.listBacktests)
		bots.GET("/:id/trades", h.listTrades)
	}
}

type backtestPayload struct {
	BotID string     `json:"botId"`
	From  *time.Time `json:"from"`
	To    *time.Time `json:"to"`
}

func (p *backtestPayload) window() (domainbacktest.Window, error) {
	if p.From == nil || p.To == nil {
		return domainbacktest.Window{}, errMissingRange
	}
	if !p.To.After(*p.From) {
		return domainbacktest.Window{}, errBadWindow
	}
	return domainbacktest.Window{From: *p.From, To: *p.To}, nil
}

// submitBacktest queues a backtest run for a bot and returns it in its
// pending state. Only one run may be in flight per bot.
func (h *Handler) submitBacktest(c *gin.Context) {
	var payload backtestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	botID, err := uuid.Parse(payload.BotID)
	if err != nil {
		writeError(c, http.StatusBadRequest, fmt.Errorf("botId: %w", err))
		return
	}
	window, err := payload.window()
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}

	run, err := h.backtests.Submit(c.Request.Context(), botID, window)
	switch {
	case errors.Is(err, appbacktest.ErrBotNotFound):
		writeError(c, http.StatusNotFound, err)
		return
	case errors.Is(err, appbacktest.ErrRunInFlight):
		writeError(c, http.StatusConflict, err)
		return
	case errors.Is(err, appbacktest.ErrEmptyWindow):
		writeError(c, http.StatusUnprocessableEntity, err)
		return
	case err != nil:
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusAccepted, run)
}

// getBacktest returns one run by id, report included once completed.
func (h *Handler) getBacktest(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	run, err := h.backtests.Get(c.Request.Context(), id)
	if errors.Is(err, backtests.ErrRunNotFound) {
		writeError(c, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// listBacktests returns the retained completed runs for a bot, newest first.
func (h *Handler) listBacktests(c *gin.Context) {
	botID, err := parseIDParam(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	runs, err := h.backtests.ListCompleted(c.Request.Context(), botID)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, runs)
}

// listTrades returns a bot's most recent live trade records.
func (h *Handler) listTrades(c *gin.Context) {
	botID, err := parseIDParam(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	limit := defaultTradeLimit
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(c, http.StatusBadRequest, fmt.Errorf("limit query param must be a positive integer"))
			return
		}
	}
	records, err := h.trades.RecentForBot(c.Request.Context(), botID, limit)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func parseIDParam(c *gin.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, errMissingID
	}
	return id, nil
}

func writeError(c *gin.Context, status int, err error) {
	if err == nil {
		status = http.StatusInternalServerError
		err = errors.New("unknown error")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// cacheMiddleware caches GET responses in Redis.
func (h *Handler) cacheMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.cache == nil || c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		key := h.cacheKey(c)
		ctx := c.Request.Context()

		if cached, err := h.cache.Get(ctx, key).Result(); err == nil {
			c.Data(http.StatusOK, "application/json", []byte(cached))
			c.Abort()
			return
		}

		recorder := &responseRecorder{
			ResponseWriter: c.Writer,
			status:         http.StatusOK,
			body:           &bytes.Buffer{},
		}
		c.Writer = recorder

		c.Next()

		if recorder.status >= 200 && recorder.status < 300 && recorder.body.Len() > 0 {
			_ = h.cache.Set(ctx, key, recorder.body.Bytes(), h.cacheTTL).Err()
		}
	}
}

type responseRecorder struct {
	gin.ResponseWriter
	body   *bytes.Buffer
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	if len(data) > 0 {
		r.body.Write(data)
	}
	return r.ResponseWriter.Write(data)
}

func (h *Handler) cacheKey(c *gin.Context) string {
	return fmt.Sprintf("cache:%s:%s?%s", c.Request.Method, c.Request.URL.Path, c.Request.URL.RawQuery)
}
