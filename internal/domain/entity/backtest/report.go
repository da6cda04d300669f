package backtest

import (
	"time"

	"github.com/google/uuid"
)

// SizingMode records how the simulator sized trades for a run.
type SizingMode string

const (
	// SizingConfigured means the bot's own sizing configuration was used.
	SizingConfigured SizingMode = "configured"
	// SizingDefault means no sizing was configured and the default notional
	// was applied per buy.
	SizingDefault SizingMode = "default"
)

// RunStatus is the lifecycle state of a backtest run.
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// Window bounds one backtest over historical ticks.
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Summary aggregates a whole run.
type Summary struct {
	NetPnl             float64 `json:"netPnl"`
	WinRate            float64 `json:"winRate"`
	TotalTrades        int     `json:"totalTrades"`
	TotalBuys          int     `json:"totalBuys"`
	TotalSells         int     `json:"totalSells"`
	LargestGain        float64 `json:"largestGain"`
	LargestLoss        float64 `json:"largestLoss"`
	AvgHoldTimeMinutes int     `json:"avgHoldTimeMinutes"`
}

// HourlyBucket groups trades by the hour of their tick timestamps. Buckets
// exist for reporting granularity only; simulation state crosses bucket
// boundaries unbroken.
type HourlyBucket struct {
	HourStart   time.Time `json:"hourStart"`
	TotalTrades int       `json:"totalTrades"`
	TotalBuys   int       `json:"totalBuys"`
	TotalSells  int       `json:"totalSells"`
	RealisedPnl float64   `json:"realisedPnl"`
	OpenPrice   float64   `json:"openPrice"`
	ClosePrice  float64   `json:"closePrice"`
}

// Report is the output of one backtest run.
type Report struct {
	Window        Window         `json:"window"`
	SizingMode    SizingMode     `json:"sizingMode"`
	Summary       Summary        `json:"summary"`
	HourlyBuckets []HourlyBucket `json:"hourlyBuckets"`
}

// Run is the persisted record of a backtest request and its outcome.
type Run struct {
	ID       uuid.UUID
	BotID    uuid.UUID
	Status   RunStatus
	Window   Window
	Report   *Report
	Error    string
	TestedAt time.Time
}
