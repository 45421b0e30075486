// Package scheduler drives the trader's asynchronous control flow (§5):
// a tier-1 scan on a fixed cadence, a dynamic tier-2 window triggered by
// crypto-relevant breaking news or social chatter and extended while it
// stays active, a resolution poller, and an adverse-move sweep, each on
// its own ticker. Adapted from
// the teacher's billing scheduler (internal/billing/scheduler.go): the
// same mutex-guarded running flag and stop-channel shutdown, generalized
// from a weekly-settlement/balance-snapshot pair to the trader's four
// cadences plus the mutex-protected (Portfolio, LearningState) pair §5
// calls out as the one piece of state every cadence touches.
package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"predictionmarket-trader/internal/engine"
	"predictionmarket-trader/internal/health"
	"predictionmarket-trader/internal/logger"
	"predictionmarket-trader/internal/market"
	"predictionmarket-trader/internal/model"
	"predictionmarket-trader/internal/store"
)

// Config is the cadence and cap configuration the Scheduler runs under,
// sourced from internal/config.
type Config struct {
	Tier1DailyCap        int
	Tier1ScanInterval    time.Duration
	Tier2ScanInterval    time.Duration
	ResolutionPollEvery  time.Duration
	AdverseSweepEvery    time.Duration
	Tier2WindowDuration  time.Duration
}

// Scheduler owns the shared Portfolio/LearningState pair and the four
// ticking loops that read and mutate it (§5 Shared resources: "a mutex
// guards the (Portfolio, LearningState) pair read and updated by every
// concurrent path").
type Scheduler struct {
	Pipeline *engine.Pipeline
	Executor *engine.Executor
	Store    *store.Store
	Health   *health.Checker
	Config   Config

	mu       sync.Mutex
	learning *engine.LearningState

	scanMu        sync.Mutex // cancellation-safe: refuses a second tier-1/tier-2 scan while one is in flight
	tier1Running  bool
	tier2Running  bool
	tier2Deadline time.Time

	wg sync.WaitGroup
}

// New builds a Scheduler. initial is the LearningState LoadLearningState
// (or Recalculate) returned at startup.
func New(pipeline *engine.Pipeline, executor *engine.Executor, s *store.Store, h *health.Checker, cfg Config, initial *engine.LearningState) *Scheduler {
	return &Scheduler{Pipeline: pipeline, Executor: executor, Store: s, Health: h, Config: cfg, learning: initial}
}

// Learning returns the current learning state under the shared mutex.
func (sch *Scheduler) Learning() *engine.LearningState {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	return sch.learning
}

// SetLearning installs a new learning state, used by the model-swap and
// recalculate-learning commands after they rebuild it out of band.
func (sch *Scheduler) SetLearning(ls *engine.LearningState) {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	sch.learning = ls
	sch.Pipeline.Learning = ls
	sch.Executor.Learning = ls
}

// TriggerTier2Window extends (or opens) the crypto-news-triggered tier-2
// scan window from now (§5: "tier-2 is dynamic, news-triggered, and
// extendable").
func (sch *Scheduler) TriggerTier2Window(now time.Time) {
	sch.scanMu.Lock()
	defer sch.scanMu.Unlock()
	deadline := now.Add(sch.Config.Tier2WindowDuration)
	if deadline.After(sch.tier2Deadline) {
		sch.tier2Deadline = deadline
	}
}

func (sch *Scheduler) tier2WindowActive(now time.Time) bool {
	sch.scanMu.Lock()
	defer sch.scanMu.Unlock()
	return now.Before(sch.tier2Deadline)
}

// Run starts every cadence and blocks until ctx is cancelled, then waits
// for in-flight work to finish before returning (§5, the teacher's
// signal.NotifyContext + graceful-shutdown pattern in main.go).
func (sch *Scheduler) Run(ctx context.Context) {
	sch.Health.SetMode(health.ModeActive)

	loops := []struct {
		name     string
		interval time.Duration
		run      func(context.Context, time.Time)
	}{
		{"tier1_scan", sch.Config.Tier1ScanInterval, sch.runTier1Scan},
		{"tier2_scan", sch.Config.Tier2ScanInterval, sch.runTier2Scan},
		{"resolution_poll", sch.Config.ResolutionPollEvery, sch.runResolutionPoll},
		{"adverse_sweep", sch.Config.AdverseSweepEvery, sch.runAdverseSweep},
	}

	for _, l := range loops {
		sch.wg.Add(1)
		go sch.tickerLoop(ctx, l.name, l.interval, l.run)
	}
	sch.wg.Wait()
}

func (sch *Scheduler) tickerLoop(ctx context.Context, name string, interval time.Duration, run func(context.Context, time.Time)) {
	defer sch.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			run(ctx, t.UTC())
		}
	}
}

// runTier1Scan runs one tier-1 scan cycle if one isn't already in flight
// (§5: a scan must be cancellation-safe and never double-start).
func (sch *Scheduler) runTier1Scan(ctx context.Context, now time.Time) {
	sch.scanMu.Lock()
	if sch.tier1Running {
		sch.scanMu.Unlock()
		return
	}
	sch.tier1Running = true
	sch.scanMu.Unlock()
	defer func() {
		sch.scanMu.Lock()
		sch.tier1Running = false
		sch.scanMu.Unlock()
	}()

	sch.runScan(ctx, market.Tier1, now, sch.Config.Tier1DailyCap)
}

// runTier2Scan runs a tier-2 cycle only while the crypto-news-triggered
// window is open.
func (sch *Scheduler) runTier2Scan(ctx context.Context, now time.Time) {
	if !sch.tier2WindowActive(now) {
		return
	}
	sch.scanMu.Lock()
	if sch.tier2Running {
		sch.scanMu.Unlock()
		return
	}
	sch.tier2Running = true
	sch.scanMu.Unlock()
	defer func() {
		sch.scanMu.Lock()
		sch.tier2Running = false
		sch.scanMu.Unlock()
	}()

	// Tier-2 has no separate daily cap setting; a cap this large keeps
	// observe-only mode and RankAndGate's cutoff from binding. Monk Mode's
	// tier cap check still compares tier-2's executed count to Tier1DailyCap.
	sch.runScan(ctx, market.Tier2, now, 1<<30)
}

func (sch *Scheduler) runScan(ctx context.Context, tier market.Tier, now time.Time, dailyCap int) {
	executedToday, err := sch.Store.CountExecutedToday(int(tier), now.Truncate(24*time.Hour))
	if err != nil {
		logger.Warn("scheduler", "count executed today: "+err.Error())
		return
	}
	remaining := dailyCap - executedToday
	observeOnly := remaining <= 0

	sch.mu.Lock()
	sch.Pipeline.Learning = sch.learning
	gated, newsSignals, err := sch.Pipeline.Run(ctx, tier, now, remaining, observeOnly)
	sch.mu.Unlock()
	if err != nil {
		logger.Warn("scheduler", "pipeline run failed: "+err.Error())
		return
	}
	if tier == market.Tier1 {
		ObserveTierTwoTrigger(sch, collectCryptoSignalPool(newsSignals, gated), now)
	}

	written, err := sch.Executor.Run(ctx, gated, tier, now)
	if err != nil {
		logger.Warn("scheduler", "executor run failed: "+err.Error())
		return
	}
	sch.Health.RecordScanCompleted(now)
	if observeOnly {
		sch.Health.SetMode(health.ModeObserveOnly)
	} else {
		sch.Health.SetMode(health.ModeActive)
	}
	logger.Success("scheduler", "scan complete")
	logger.Stats("tier", tier)
	logger.Stats("candidates", len(gated))
	logger.Stats("records_written", written)
}

// runResolutionPoll checks open trades against the market source and
// resolves the ones that have settled, mutating the shared portfolio
// under the same mutex the gate reads it through.
func (sch *Scheduler) runResolutionPoll(ctx context.Context, now time.Time) {
	sch.mu.Lock()
	defer sch.mu.Unlock()

	portfolio, err := sch.Store.LoadPortfolio(sch.Pipeline.InitialBankroll)
	if err != nil {
		logger.Warn("scheduler", "load portfolio: "+err.Error())
		return
	}
	sch.Executor.Learning = sch.learning
	n, err := sch.Executor.PollResolutions(ctx, &portfolio, now)
	if err != nil {
		logger.Warn("scheduler", "poll resolutions: "+err.Error())
		return
	}
	if n == 0 {
		return
	}
	if err := sch.Store.SavePortfolio(portfolio); err != nil {
		logger.Warn("scheduler", "save portfolio: "+err.Error())
		return
	}
	logger.Info("scheduler", "resolved trades")
	logger.Stats("resolved_count", n)
	logger.Stats("total_pnl", portfolio.TotalPnL)
}

// runAdverseSweep recomputes the unrealized-adverse-move fraction every
// open record carries, feeding the cooldown check on the next gate pass.
func (sch *Scheduler) runAdverseSweep(ctx context.Context, now time.Time) {
	n, err := sch.Executor.SweepAdverseMoves(ctx)
	if err != nil {
		logger.Warn("scheduler", "sweep adverse moves: "+err.Error())
		return
	}
	if n > 0 {
		logger.Info("scheduler", "swept unrealized adverse moves")
		logger.Stats("positions_swept", n)
	}
}

// cryptoTriggerWords flags a headline or post as crypto-relevant. It is a
// short list drawn from the crypto vocabulary the Keyword Extractor uses
// (internal/keywords.MarketTypeSupplements["crypto"]), not an identical copy
// of it; "crypto" also matches "cryptocurrency" as a substring.
var cryptoTriggerWords = []string{"crypto", "bitcoin", "ethereum", "btc", "eth"}

// tier2FollowerThreshold is the social-reach half of the tier-2 trigger's
// credibility condition (§5).
const tier2FollowerThreshold = 100000

// collectCryptoSignalPool gathers the distinct news and social signals
// observed during one tier-1 scan, for ObserveTierTwoTrigger to inspect.
// newsSignals is the scan's full deduplicated news batch; gated carries
// each candidate's social signals (collected per-market, inside the
// pipeline, and never otherwise surfaced to the scheduler). Deduplicated
// by source+text since the same social post can match more than one
// market's keyword search within a single scan.
func collectCryptoSignalPool(newsSignals []model.Signal, gated []model.TradeCandidate) []model.Signal {
	seen := make(map[string]bool, len(newsSignals))
	var pool []model.Signal
	add := func(s model.Signal) {
		key := string(s.SourceKind) + "|" + s.Text
		if seen[key] {
			return
		}
		seen[key] = true
		pool = append(pool, s)
	}
	for _, s := range newsSignals {
		add(s)
	}
	for _, c := range gated {
		for _, s := range c.Signals {
			if s.SourceKind == model.SourceSocial {
				add(s)
			}
		}
	}
	return pool
}

// ObserveTierTwoTrigger opens/extends the tier-2 window only once the
// scan's crypto-relevant signal pool clears both halves of §5's
// condition: at least 2 qualifying news-or-social signals, including at
// least one from an S1/S2 source or with >= 100k followers. A single
// offhand crypto mention, or several from low-credibility/low-reach
// sources, does not qualify.
func ObserveTierTwoTrigger(sch *Scheduler, signals []model.Signal, now time.Time) {
	var qualifying []model.Signal
	for _, s := range signals {
		if s.SourceKind != model.SourceNews && s.SourceKind != model.SourceSocial {
			continue
		}
		text := strings.ToLower(s.Text)
		for _, w := range cryptoTriggerWords {
			if strings.Contains(text, w) {
				qualifying = append(qualifying, s)
				break
			}
		}
	}
	if len(qualifying) < 2 {
		return
	}
	for _, s := range qualifying {
		if s.SourceTier == model.TierS1 || s.SourceTier == model.TierS2 || s.Followers >= tier2FollowerThreshold {
			sch.TriggerTier2Window(now)
			return
		}
	}
}
