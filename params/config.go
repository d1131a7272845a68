package params

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type API struct {
	Addr        string
	CORSOrigins []string
}

type Market struct {
	Symbol     string
	BaseAsset  string
	QuoteAsset string
	// Operator is the hex address granted TransferFrom allowances;
	// it settles trades on both asset ledgers.
	Operator string
}

type Feed struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type Config struct {
	DataDir string
	LogFile string
	API     API
	Market  Market
	Feed    Feed
}

func Default() Config {
	return Config{
		DataDir: "data",
		LogFile: "",
		API: API{
			Addr:        ":8080",
			CORSOrigins: []string{"*"},
		},
		Market: Market{
			Symbol:     "BT-QT",
			BaseAsset:  "BT",
			QuoteAsset: "QT",
			Operator:   "0x00000000000000000000000000000000000Ec0De",
		},
		Feed: Feed{
			Enabled: false,
			Brokers: []string{"localhost:9092"},
			Topic:   "tokenex.trades",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	cfg.DataDir = getEnv("DATA_DIR", cfg.DataDir)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.API.CORSOrigins = splitList(origins)
	}

	cfg.Market.Symbol = getEnv("PAIR_SYMBOL", cfg.Market.Symbol)
	cfg.Market.BaseAsset = getEnv("PAIR_BASE", cfg.Market.BaseAsset)
	cfg.Market.QuoteAsset = getEnv("PAIR_QUOTE", cfg.Market.QuoteAsset)
	cfg.Market.Operator = getEnv("OPERATOR_ADDRESS", cfg.Market.Operator)

	if enabled := os.Getenv("KAFKA_ENABLED"); enabled != "" {
		if v, err := strconv.ParseBool(enabled); err == nil {
			cfg.Feed.Enabled = v
		}
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		// Example: "broker1:9092,broker2:9092"
		cfg.Feed.Brokers = splitList(brokers)
		cfg.Feed.Enabled = true
	}
	cfg.Feed.Topic = getEnv("KAFKA_TOPIC", cfg.Feed.Topic)

	return cfg
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
