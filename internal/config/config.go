package config

import (
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds everything the engine needs to boot: broker endpoint,
// stream names, the snapshot cadence, and the scan/timeout knobs spec.md
// leaves as environment-level concerns (configurable is a non-goal).
type Config struct {
	Debug bool

	// Broker (Redis) connection
	BrokerAddr string
	BrokerDB   int

	// Stream / channel names
	OrdersStream   string
	DBQueueStream  string
	ResponsePrefix string

	// Consumer-group mode (disabled by default; spec.md §4.2 normalizes
	// to plain-offset mode)
	ConsumerGroupMode bool
	ConsumerGroup     string
	ConsumerName      string

	// Timeouts / periods
	BrokerReadBlock    time.Duration
	BrokerReadMax      int64
	BrokerRetryBackoff time.Duration
	LiquidationPeriod  time.Duration
	SnapshotPeriod     time.Duration
	CreateOrderWindow  time.Duration

	// Snapshot
	SnapshotPath string

	// Domain defaults
	NewUserBalance   decimal.Decimal
	SupportedAssets  []SupportedAsset
}

// SupportedAsset is the static catalog entry returned by
// GET_SUPPORTED_ASSETS (spec.md §4.4, enriched per original_source).
type SupportedAsset struct {
	Symbol   string
	Name     string
	ImageURL string
}

func Load() *Config {
	cfg := &Config{
		Debug: getEnvBool("DEBUG", false),

		BrokerAddr: getEnv("BROKER_ADDR", "127.0.0.1:6379"),
		BrokerDB:   getEnvInt("BROKER_DB", 0),

		OrdersStream:   getEnv("ORDERS_STREAM", "orders"),
		DBQueueStream:  getEnv("DB_QUEUE_STREAM", "db_queue"),
		ResponsePrefix: getEnv("RESPONSE_PREFIX", "response:"),

		ConsumerGroupMode: getEnvBool("CONSUMER_GROUP_MODE", false),
		ConsumerGroup:     getEnv("CONSUMER_GROUP", "engine"),
		ConsumerName:      getEnv("CONSUMER_NAME", "engine-1"),

		BrokerReadBlock:    getEnvDuration("BROKER_READ_BLOCK", 1000*time.Millisecond),
		BrokerReadMax:      int64(getEnvInt("BROKER_READ_MAX", 100)),
		BrokerRetryBackoff: getEnvDuration("BROKER_RETRY_BACKOFF", 1*time.Second),
		LiquidationPeriod:  getEnvDuration("LIQUIDATION_PERIOD", 1*time.Second),
		SnapshotPeriod:     getEnvDuration("SNAPSHOT_PERIOD", 5*time.Second),
		CreateOrderWindow:  getEnvDuration("CREATE_ORDER_WINDOW", 5*time.Second),

		SnapshotPath: getEnv("SNAPSHOT_PATH", "snapshot.json"),

		NewUserBalance: getEnvDecimal("NEW_USER_BALANCE", decimal.NewFromInt(5000)),
		SupportedAssets: []SupportedAsset{
			{Symbol: "BTC", Name: "Bitcoin", ImageURL: "https://example.com/btc.png"},
			{Symbol: "ETH", Name: "Ethereum", ImageURL: "https://example.com/eth.png"},
			{Symbol: "SOL", Name: "Solana", ImageURL: "https://example.com/sol.png"},
		},
	}

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
