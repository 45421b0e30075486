// Package health implements the trader's single health endpoint (§6):
// healthy/degraded status, last scan completion time, current mode, open
// and today's trade counts, and process uptime.
package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"predictionmarket-trader/internal/engine"
	"predictionmarket-trader/internal/store"
)

// Mode mirrors the Scheduler's current operating state.
type Mode string

const (
	ModeInitializing Mode = "initializing"
	ModeActive       Mode = "active"
	ModeObserveOnly  Mode = "observe_only"
)

// degradedAfter is the staleness bound on the last completed scan before
// the endpoint reports degraded (§6).
const degradedAfter = 30 * time.Minute

// Status is the JSON body the health endpoint returns.
type Status struct {
	Healthy              bool      `json:"healthy"`
	Degraded             bool      `json:"degraded"`
	LastScanCompletedAt  time.Time `json:"last_scan_completed_at"`
	MinutesSinceLastScan float64   `json:"minutes_since_last_scan"`
	Mode                 string    `json:"mode"`
	OpenTrades           int       `json:"open_trades"`
	ExecutedToday        int       `json:"executed_today"`
	UptimeSeconds        float64   `json:"uptime_seconds"`

	// PortfolioRisk is nil until at least minRiskSampleDays of resolved
	// history has accumulated (engine.ComputePortfolioRisk's own floor).
	PortfolioRisk *engine.PortfolioRiskSummary `json:"portfolio_risk,omitempty"`
}

// Checker tracks the state the health endpoint reports. The Scheduler
// calls RecordScanCompleted and SetMode as it runs; the HTTP handler reads
// Status under the same mutex.
type Checker struct {
	store     *store.Store
	startedAt time.Time

	mu           sync.Mutex
	lastScan     time.Time
	mode         Mode
}

// New builds a Checker starting in ModeInitializing.
func New(s *store.Store, startedAt time.Time) *Checker {
	return &Checker{store: s, startedAt: startedAt, mode: ModeInitializing}
}

// RecordScanCompleted marks a scan cycle (tier-1 or tier-2) as having
// finished at t.
func (c *Checker) RecordScanCompleted(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastScan = t
}

// SetMode updates the reported operating mode.
func (c *Checker) SetMode(m Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = m
}

// Status computes the current health snapshot as of now.
func (c *Checker) Status(now time.Time) (Status, error) {
	c.mu.Lock()
	lastScan, mode := c.lastScan, c.mode
	c.mu.Unlock()

	open, err := c.store.ListOpenTradeRecords()
	if err != nil {
		return Status{}, err
	}
	executedToday, err := c.store.CountExecutedToday(0, now.Truncate(24*time.Hour))
	if err != nil {
		return Status{}, err
	}
	executedTodayT2, err := c.store.CountExecutedToday(1, now.Truncate(24*time.Hour))
	if err != nil {
		return Status{}, err
	}
	resolved, err := c.store.ListResolvedNonVoidAscending()
	if err != nil {
		return Status{}, err
	}

	var minutesSince float64
	degraded := true
	if !lastScan.IsZero() {
		minutesSince = now.Sub(lastScan).Minutes()
		degraded = now.Sub(lastScan) > degradedAfter
	}

	return Status{
		Healthy:              !degraded,
		Degraded:             degraded,
		LastScanCompletedAt:  lastScan,
		MinutesSinceLastScan: minutesSince,
		Mode:                 string(mode),
		OpenTrades:           len(open),
		ExecutedToday:        executedToday + executedTodayT2,
		UptimeSeconds:        now.Sub(c.startedAt).Seconds(),
		PortfolioRisk:        engine.ComputePortfolioRisk(resolved, now),
	}, nil
}

// Handler serves the health endpoint as JSON.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := c.Status(time.Now().UTC())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if status.Degraded {
			w.WriteHeader(http.StatusOK) // degraded is still a 200: the data itself says so
		}
		json.NewEncoder(w).Encode(status)
	}
}
