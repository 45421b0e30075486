// Command trader is the prediction-market trader's entry point: a serve
// mode running the full scan/execute/resolve loop plus five flat
// maintenance subcommands, in the teacher's own flag-based style
// (flag.String/flag.Int + flag.Parse, no command-tree library).
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"

	"predictionmarket-trader/internal/classifier"
	"predictionmarket-trader/internal/collectors"
	"predictionmarket-trader/internal/config"
	"predictionmarket-trader/internal/engine"
	"predictionmarket-trader/internal/health"
	"predictionmarket-trader/internal/keywords"
	"predictionmarket-trader/internal/llm"
	"predictionmarket-trader/internal/logger"
	"predictionmarket-trader/internal/market"
	"predictionmarket-trader/internal/scheduler"
	"predictionmarket-trader/internal/store"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "serve":
		err = runServe(args)
	case "model-swap":
		err = runModelSwap(args)
	case "void-trade":
		err = runVoidTrade(args)
	case "start-experiment":
		err = runStartExperiment(args)
	case "end-experiment":
		err = runEndExperiment(args)
	case "recalculate-learning":
		err = runRecalculateLearning(args)
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		logger.Error("trader", err.Error())
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: trader <serve|model-swap|void-trade|start-experiment|end-experiment|recalculate-learning> [flags]")
}

// runServe wires every collaborator and runs the scheduler until an
// interrupt or SIGTERM, then shuts down gracefully (the teacher's
// signal.NotifyContext pattern in its own main.go).
func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	healthPort := fs.Int("health-port", 8090, "health endpoint port")
	fs.Parse(args)

	logger.Banner(version)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.SetLevel("info")

	s, err := store.Open(cfg.StoreDSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	sourceList, err := config.LoadSourceList(cfg.SourceListPath)
	if err != nil {
		return fmt.Errorf("load source list: %w", err)
	}
	newsFeeds, err := config.LoadNewsFeedList(cfg.NewsFeedPath)
	if err != nil {
		return fmt.Errorf("load news feed list: %w", err)
	}
	feedMap := make(map[string]string, len(newsFeeds.Feeds))
	for _, f := range newsFeeds.Feeds {
		feedMap[f.URL] = f.Domain
	}

	clsfr := classifier.New(sourceList)
	newsCollector := collectors.NewNewsCollector(collectors.NewRSSAtomFetcher(cfg.NewsFetchRPS), clsfr, feedMap)
	socialSearcher := collectors.NewHTTPSocialSearcher(cfg.SocialAPIBaseURL, cfg.SocialAPIKey, cfg.SocialAPIRPS)
	socialCollector := collectors.NewSocialCollector(socialSearcher, clsfr)

	completer := llm.NewHTTPCompleter(cfg.LMBaseURL, cfg.LMAPIKey, cfg.LMModelName, cfg.LMRPS)
	kwExtractor := keywords.New(completer)
	lmClient := llm.New(completer, s)

	src := market.NewHTTPSource(cfg.MarketAPIBaseURL, cfg.MarketAPIRPS)

	if _, err := s.CurrentExperimentRun(); err != nil {
		if _, startErr := s.StartExperiment(uuid.NewString(), "initial run", "model-0", "{}", time.Now().UTC()); startErr != nil {
			return fmt.Errorf("start initial experiment: %w", startErr)
		}
	}
	run, err := s.CurrentExperimentRun()
	if err != nil {
		return fmt.Errorf("load experiment run: %w", err)
	}

	learning, err := engine.LoadLearningState(s)
	if err != nil {
		return fmt.Errorf("load learning state: %w", err)
	}

	decisionParams := engine.DecisionParams{
		MinEdgeThreshold:      cfg.MinEdgeThreshold,
		KellyFraction:         cfg.KellyFraction,
		MaxPositionPct:        cfg.MaxPositionPct,
		MaxClusterExposurePct: cfg.MaxClusterExposurePct,
	}
	gateParams := engine.GateParams{
		Tier1DailyCap:         cfg.Tier1DailyCap,
		DailyLossLimitPct:     cfg.DailyLossLimitPct,
		WeeklyLossLimitPct:    cfg.WeeklyLossLimitPct,
		CooldownWindow:        cfg.CooldownWindow,
		MaxExposurePct:        cfg.MaxExposurePct,
		DailyAPIBudget:        cfg.DailyAPIBudget,
		MaxClusterExposurePct: cfg.MaxClusterExposurePct,
	}

	pipeline := &engine.Pipeline{
		Source:          src,
		News:            newsCollector,
		Social:          socialCollector,
		Keywords:        kwExtractor,
		LM:              lmClient,
		Store:           s,
		Learning:        learning,
		DecisionParams:  decisionParams,
		GateParams:      gateParams,
		InitialBankroll: cfg.InitialBankroll,
		ModelID:         run.ModelID,
		ExperimentRunID: run.ID,
	}

	executor := &engine.Executor{
		Source:          src,
		Store:           s,
		Learning:        learning,
		Rand:            rand.New(rand.NewSource(time.Now().UnixNano())),
		Params:          engine.ExecutionParams{Paper: cfg.Environment == config.EnvPaper, OrderType: engine.OrderTaker},
		ModelID:         run.ModelID,
		ExperimentRunID: run.ID,
	}

	hc := health.New(s, time.Now().UTC())

	sch := scheduler.New(pipeline, executor, s, hc, scheduler.Config{
		Tier1DailyCap:       cfg.Tier1DailyCap,
		Tier1ScanInterval:   cfg.Tier1ScanInterval,
		Tier2ScanInterval:   cfg.Tier2ScanInterval,
		ResolutionPollEvery: cfg.ResolutionPollEvery,
		AdverseSweepEvery:   cfg.AdverseSweepEvery,
		Tier2WindowDuration: cfg.Tier2WindowDuration,
	}, learning)

	logger.Stats("environment", cfg.Environment)
	logger.Stats("initial_bankroll", humanize.FormatFloat("#,###.##", cfg.InitialBankroll))
	logger.Stats("tier1_daily_cap", cfg.Tier1DailyCap)
	logger.Stats("experiment_run", run.ID)

	mux := http.NewServeMux()
	mux.Handle("/health", hc.Handler())
	healthServer := &http.Server{Addr: fmt.Sprintf(":%d", *healthPort), Handler: mux}
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health", fmt.Sprintf("server failed: %v", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Info("trader", "shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		healthServer.Shutdown(shutdownCtx)
	}()

	sch.Run(ctx)
	logger.Info("trader", "stopped")
	return nil
}

func runModelSwap(args []string) error {
	fs := flag.NewFlagSet("model-swap", flag.ExitOnError)
	newModelID := fs.String("new-model-id", "", "identity of the model taking over")
	reason := fs.String("reason", "", "reason for the swap")
	fs.Parse(args)
	if *newModelID == "" {
		return fmt.Errorf("model-swap: -new-model-id is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	s, err := store.Open(cfg.StoreDSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	oldRun, err := s.CurrentExperimentRun()
	if err != nil {
		return fmt.Errorf("current experiment run: %w", err)
	}
	now := time.Now().UTC()
	if err := s.EndExperiment(oldRun.ID, now); err != nil {
		return fmt.Errorf("end experiment: %w", err)
	}
	newRun, err := s.StartExperiment(uuid.NewString(), "model swap from "+oldRun.ModelID, *newModelID, oldRun.ConfigJSON, now)
	if err != nil {
		return fmt.Errorf("start experiment: %w", err)
	}
	if _, err := s.RecordModelSwap(uuid.NewString(), oldRun.ModelID, *newModelID, *reason, newRun.ID, now); err != nil {
		return fmt.Errorf("record model swap: %w", err)
	}

	learning, err := engine.LoadLearningState(s)
	if err != nil {
		return fmt.Errorf("load learning state: %w", err)
	}
	if _, err := engine.Swap(s, learning); err != nil {
		return fmt.Errorf("apply swap semantics: %w", err)
	}

	logger.Success("trader", "model swap complete")
	logger.Stats("old_model", oldRun.ModelID)
	logger.Stats("new_model", *newModelID)
	logger.Stats("new_run", newRun.ID)
	return nil
}

func runVoidTrade(args []string) error {
	fs := flag.NewFlagSet("void-trade", flag.ExitOnError)
	id := fs.String("id", "", "trade record id to void")
	reason := fs.String("reason", "", "reason for voiding")
	fs.Parse(args)
	if *id == "" {
		return fmt.Errorf("void-trade: -id is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	s, err := store.Open(cfg.StoreDSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	if _, err := engine.Void(s, *id, *reason); err != nil {
		return fmt.Errorf("void trade: %w", err)
	}
	logger.Success("trader", "trade voided and learning state rebuilt")
	logger.Stats("id", *id)
	return nil
}

func runStartExperiment(args []string) error {
	fs := flag.NewFlagSet("start-experiment", flag.ExitOnError)
	description := fs.String("description", "", "human-readable description")
	modelID := fs.String("model-id", "", "model identity for this run")
	fs.Parse(args)
	if *modelID == "" {
		return fmt.Errorf("start-experiment: -model-id is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	s, err := store.Open(cfg.StoreDSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	run, err := s.StartExperiment(uuid.NewString(), *description, *modelID, "{}", time.Now().UTC())
	if err != nil {
		return fmt.Errorf("start experiment: %w", err)
	}
	logger.Success("trader", "experiment started")
	logger.Stats("run_id", run.ID)
	return nil
}

func runEndExperiment(args []string) error {
	fs := flag.NewFlagSet("end-experiment", flag.ExitOnError)
	runID := fs.String("run-id", "", "experiment run id to end")
	fs.Parse(args)
	if *runID == "" {
		return fmt.Errorf("end-experiment: -run-id is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	s, err := store.Open(cfg.StoreDSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	if err := s.EndExperiment(*runID, time.Now().UTC()); err != nil {
		return fmt.Errorf("end experiment: %w", err)
	}
	logger.Success("trader", "experiment ended")
	logger.Stats("run_id", *runID)
	return nil
}

func runRecalculateLearning(args []string) error {
	fs := flag.NewFlagSet("recalculate-learning", flag.ExitOnError)
	fs.Parse(args)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	s, err := store.Open(cfg.StoreDSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	learning, err := engine.Recalculate(s)
	if err != nil {
		return fmt.Errorf("recalculate learning: %w", err)
	}

	logger.Section("Recalculated Market-Type Performance")
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Market Type", "Trades", "Total PnL", "Avg Brier", "Should Disable"})
	types := make([]string, 0, len(learning.MarketTypes))
	for mt := range learning.MarketTypes {
		types = append(types, mt)
	}
	for _, mt := range types {
		perf := learning.MarketTypes[mt]
		table.Append([]string{
			perf.MarketType,
			fmt.Sprintf("%d", perf.TotalTrades),
			humanize.FormatFloat("#,###.##", perf.TotalPnL),
			fmt.Sprintf("%.3f", perf.AvgBrier()),
			fmt.Sprintf("%v", perf.ShouldDisable()),
		})
	}
	table.Render()

	logger.Success("trader", "learning state recalculated")
	logger.Stats("calibration_buckets", len(learning.Calibration))
	logger.Stats("market_types", len(learning.MarketTypes))
	logger.Stats("signal_trackers", len(learning.Signals))
	return nil
}
