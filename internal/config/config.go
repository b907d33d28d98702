package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr string
	DataDir  string
	DBPath   string

	LogLevel string
	LogFile  bool

	// Symbols the swarm tracks.
	Symbols []string

	// Agent cadences.
	ScoutInterval      time.Duration
	AnalystInterval    time.Duration
	NewsHoundInterval  time.Duration
	QuantInterval      time.Duration
	IngestionInterval  time.Duration
	StrategistInterval time.Duration

	// Risk policy.
	MaxPositionPct float64
	MinConfidence  float64

	// Synthesis blend weights and action thresholds.
	TechnicalWeight   float64
	FundamentalWeight float64
	SentimentWeight   float64
	BuyThreshold      float64
	SellThreshold     float64

	// Event log retention.
	RetentionMaxAge time.Duration
	PruneInterval   time.Duration

	// External collaborators.
	QuoteProvider string // "simulated" or "yahoo"
	OpenAIAPIKey  string
	OpenAIModel   string
}

func Load() Config {
	_ = godotenv.Load()
	dataDir := getEnv("SWARMD_DATA_DIR", "data")
	return Config{
		HTTPAddr: getEnv("SWARMD_HTTP_ADDR", ":8080"),
		DataDir:  dataDir,
		DBPath:   getEnv("SWARMD_DB_PATH", filepath.Join(dataDir, "swarmd.db")),

		LogLevel: getEnv("SWARMD_LOG_LEVEL", "info"),
		LogFile:  getBool("SWARMD_LOG_FILE", false),

		Symbols: getList("SWARMD_SYMBOLS", []string{"AAPL", "NVDA", "MSFT", "TSLA", "GOOGL", "META"}),

		ScoutInterval:      getDuration("SWARMD_SCOUT_INTERVAL", 8*time.Second),
		AnalystInterval:    getDuration("SWARMD_ANALYST_INTERVAL", 15*time.Second),
		NewsHoundInterval:  getDuration("SWARMD_NEWSHOUND_INTERVAL", 12*time.Second),
		QuantInterval:      getDuration("SWARMD_QUANT_INTERVAL", 15*time.Second),
		IngestionInterval:  getDuration("SWARMD_INGESTION_INTERVAL", 5*time.Minute),
		StrategistInterval: getDuration("SWARMD_STRATEGIST_INTERVAL", 20*time.Second),

		MaxPositionPct: getFloat("SWARMD_MAX_POSITION_PCT", 0.25),
		MinConfidence:  getFloat("SWARMD_MIN_CONFIDENCE", 0.4),

		TechnicalWeight:   getFloat("SWARMD_WEIGHT_TECHNICAL", 0.4),
		FundamentalWeight: getFloat("SWARMD_WEIGHT_FUNDAMENTAL", 0.3),
		SentimentWeight:   getFloat("SWARMD_WEIGHT_SENTIMENT", 0.3),
		BuyThreshold:      getFloat("SWARMD_BUY_THRESHOLD", 0.55),
		SellThreshold:     getFloat("SWARMD_SELL_THRESHOLD", 0.45),

		RetentionMaxAge: getDuration("SWARMD_RETENTION_MAX_AGE", 72*time.Hour),
		PruneInterval:   getDuration("SWARMD_PRUNE_INTERVAL", time.Hour),

		QuoteProvider: getEnv("SWARMD_QUOTE_PROVIDER", "simulated"),
		OpenAIAPIKey:  getEnv("SWARMD_OPENAI_API_KEY", ""),
		OpenAIModel:   getEnv("SWARMD_OPENAI_MODEL", "gpt-4o-mini"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.ToUpper(p))
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
