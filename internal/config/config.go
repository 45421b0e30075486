// Package config loads the trader's settings from the environment (with a
// .env file as an optional local override) and from two YAML documents: the
// source-credibility lists and the news-feed list.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment selects paper or live order placement.
type Environment string

const (
	EnvPaper Environment = "paper"
	EnvLive  Environment = "live"
)

// Config holds every environment-derived setting the trader needs. Secrets
// (LM key, social key) are mandatory; everything else has a default.
type Config struct {
	LMAPIKey     string
	SocialAPIKey string

	Environment Environment

	InitialBankroll float64

	// Tier caps and thresholds (§4.7, §5).
	Tier1DailyCap       int
	Tier1ScanInterval   time.Duration
	Tier2ScanInterval   time.Duration
	ResolutionPollEvery time.Duration
	AdverseSweepEvery   time.Duration
	Tier2WindowDuration time.Duration

	MinEdgeThreshold      float64
	KellyFraction         float64
	MaxPositionPct        float64
	MaxClusterExposurePct float64

	// Risk limits ("Monk Mode", §4.7).
	DailyLossLimitPct float64
	WeeklyLossLimitPct float64
	CooldownWindow     time.Duration
	CooldownStreak     int
	MaxExposurePct     float64
	DailyAPIBudget     float64

	SourceListPath string
	NewsFeedPath   string

	StoreDSN string

	// External collaborator endpoints and rate limits (§6).
	MarketAPIBaseURL      string
	MarketAPIRPS          float64
	SocialAPIBaseURL      string
	SocialAPIRPS          float64
	NewsFetchRPS          float64
	LMBaseURL             string
	LMModelName           string
	LMRPS                 float64
}

// Load reads .env if present (missing is not an error, matching the
// teacher's tolerant startup), then populates Config from the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := &Config{
		LMAPIKey:     os.Getenv("LM_API_KEY"),
		SocialAPIKey: os.Getenv("SOCIAL_API_KEY"),

		Environment: Environment(getEnvOrDefault("TRADER_ENV", string(EnvPaper))),

		InitialBankroll: getEnvFloatOrDefault("INITIAL_BANKROLL", 5000),

		Tier1DailyCap:       getEnvIntOrDefault("TIER1_DAILY_CAP", 10),
		Tier1ScanInterval:   getEnvDurationOrDefault("TIER1_SCAN_INTERVAL", 15*time.Minute),
		Tier2ScanInterval:   getEnvDurationOrDefault("TIER2_SCAN_INTERVAL", 30*time.Minute),
		ResolutionPollEvery: getEnvDurationOrDefault("RESOLUTION_POLL_INTERVAL", 5*time.Minute),
		AdverseSweepEvery:   getEnvDurationOrDefault("ADVERSE_SWEEP_INTERVAL", 10*time.Minute),
		Tier2WindowDuration: getEnvDurationOrDefault("TIER2_WINDOW_DURATION", 30*time.Minute),

		MinEdgeThreshold:      getEnvFloatOrDefault("MIN_EDGE_THRESHOLD", 0.03),
		KellyFraction:         getEnvFloatOrDefault("KELLY_FRACTION", 0.25),
		MaxPositionPct:        getEnvFloatOrDefault("MAX_POSITION_PCT", 0.08),
		MaxClusterExposurePct: getEnvFloatOrDefault("MAX_CLUSTER_EXPOSURE_PCT", 0.12),

		DailyLossLimitPct:  getEnvFloatOrDefault("DAILY_LOSS_LIMIT_PCT", 0.05),
		WeeklyLossLimitPct: getEnvFloatOrDefault("WEEKLY_LOSS_LIMIT_PCT", 0.10),
		CooldownWindow:     getEnvDurationOrDefault("COOLDOWN_WINDOW", 2*time.Hour),
		CooldownStreak:     getEnvIntOrDefault("COOLDOWN_STREAK", 3),
		MaxExposurePct:     getEnvFloatOrDefault("MAX_EXPOSURE_PCT", 0.30),
		DailyAPIBudget:     getEnvFloatOrDefault("DAILY_API_BUDGET", 25.0),

		SourceListPath: getEnvOrDefault("SOURCE_LIST_PATH", "config/sources.yaml"),
		NewsFeedPath:   getEnvOrDefault("NEWS_FEED_PATH", "config/feeds.yaml"),

		StoreDSN: getEnvOrDefault("STORE_DSN", "trader.db"),

		MarketAPIBaseURL: getEnvOrDefault("MARKET_API_BASE_URL", "https://api.example-market.com/v1"),
		MarketAPIRPS:     getEnvFloatOrDefault("MARKET_API_RPS", 5),
		SocialAPIBaseURL: getEnvOrDefault("SOCIAL_API_BASE_URL", "https://api.example-social.com/v2"),
		SocialAPIRPS:     getEnvFloatOrDefault("SOCIAL_API_RPS", 2),
		NewsFetchRPS:     getEnvFloatOrDefault("NEWS_FETCH_RPS", 3),
		LMBaseURL:        getEnvOrDefault("LM_BASE_URL", "https://api.example-lm.com/v1"),
		LMModelName:      getEnvOrDefault("LM_MODEL_NAME", "gpt-4o-mini"),
		LMRPS:            getEnvFloatOrDefault("LM_RPS", 2),
	}

	if cfg.LMAPIKey == "" {
		return nil, fmt.Errorf("config: LM_API_KEY is required")
	}
	if cfg.SocialAPIKey == "" {
		return nil, fmt.Errorf("config: SOCIAL_API_KEY is required")
	}
	if cfg.Environment != EnvPaper && cfg.Environment != EnvLive {
		return nil, fmt.Errorf("config: TRADER_ENV must be %q or %q, got %q", EnvPaper, EnvLive, cfg.Environment)
	}

	return cfg, nil
}

// SourceList is the S1/S2/S3 handle+domain list plus the S4 expert-keyword
// list, loaded once at startup by the Source Classifier (§4.1, §6).
type SourceList struct {
	S1Handles     []string `yaml:"s1_handles"`
	S1Domains     []string `yaml:"s1_domains"`
	S2Handles     []string `yaml:"s2_handles"`
	S2Domains     []string `yaml:"s2_domains"`
	S3Handles     []string `yaml:"s3_handles"`
	S3Domains     []string `yaml:"s3_domains"`
	S4ExpertWords []string `yaml:"s4_expert_keywords"`
}

// LoadSourceList parses the source-credibility YAML document.
func LoadSourceList(path string) (*SourceList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read source list: %w", err)
	}
	var sl SourceList
	if err := yaml.Unmarshal(data, &sl); err != nil {
		return nil, fmt.Errorf("config: parse source list: %w", err)
	}
	return &sl, nil
}

// NewsFeed is one configured RSS/Atom feed and its canonical domain, used
// both to fetch and to attribute a tier via the domain list above.
type NewsFeed struct {
	URL    string `yaml:"url"`
	Domain string `yaml:"domain"`
}

// NewsFeedList is the set of feeds the News Collector polls.
type NewsFeedList struct {
	Feeds []NewsFeed `yaml:"feeds"`
}

// LoadNewsFeedList parses the news-feed YAML document.
func LoadNewsFeedList(path string) (*NewsFeedList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read news feed list: %w", err)
	}
	var nl NewsFeedList
	if err := yaml.Unmarshal(data, &nl); err != nil {
		return nil, fmt.Errorf("config: parse news feed list: %w", err)
	}
	return &nl, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
