package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Kafka    KafkaConfig
	Redis    RedisConfig
	Engine   EngineConfig
	Risk     RiskDefaults
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port        string
	Host        string
	Environment string
	Version     string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// KafkaConfig holds Kafka/Redpanda configuration
type KafkaConfig struct {
	Brokers         []string
	EventsTopic     string
	ExecutionsTopic string
	ConsumerGroup   string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// EngineConfig holds the execution-engine knobs that are not part of the
// versioned risk limits.
type EngineConfig struct {
	Account             string
	QuoteAsset          string
	Testnet             bool
	MaxPositionFraction float64       // fraction of free quote balance one order may use
	ExchangeTimeout     time.Duration // per exchange call
	ReconcileAttempts   int           // bounded retries after an exchange timeout
	ReconcileBackoff    time.Duration // initial backoff, doubled per attempt
	SharpeWindowDays    int           // trailing window for the Sharpe ratio
	IntakePollInterval  time.Duration // how often the engine drains unprocessed signals
	PaperSeedBalance    float64       // quote balance deposited on first testnet start
	PaperFillLatency    time.Duration // simulated exchange fill latency
}

// RiskDefaults seeds risk_config_versions when the table is empty. After
// the first start the committed versions are authoritative and these are
// ignored.
type RiskDefaults struct {
	MaxTradesPerDay    int
	CooldownSec        int
	DailyMaxLoss       float64
	DailyTrailDrawdown float64
	AdvisorThreshold   float64
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        getEnv("SERVER_PORT", "8082"),
			Host:        getEnv("SERVER_HOST", "0.0.0.0"),
			Environment: getEnv("ENVIRONMENT", "development"),
			Version:     getEnv("SERVICE_VERSION", "dev"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "postgres"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "trader"),
			Password: getEnv("DB_PASSWORD", "trader5"),
			DBName:   getEnv("DB_NAME", "trading_platform"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Kafka: KafkaConfig{
			Brokers:         parseBrokers(getEnv("KAFKA_BROKERS", "localhost:19092")),
			EventsTopic:     getEnv("KAFKA_EVENTS_TOPIC", "trading.events"),
			ExecutionsTopic: getEnv("KAFKA_EXECUTIONS_TOPIC", "trading.executions"),
			ConsumerGroup:   getEnv("KAFKA_CONSUMER_GROUP", "trading-engine"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       0,
		},
		Engine: EngineConfig{
			Account:             getEnv("ENGINE_ACCOUNT", "primary"),
			QuoteAsset:          getEnv("ENGINE_QUOTE_ASSET", "USDT"),
			Testnet:             getEnvBool("ENGINE_TESTNET", true),
			MaxPositionFraction: getEnvFloat("ENGINE_MAX_POSITION_FRACTION", 0.25),
			ExchangeTimeout:     getEnvDuration("ENGINE_EXCHANGE_TIMEOUT", 5*time.Second),
			ReconcileAttempts:   getEnvInt("ENGINE_RECONCILE_ATTEMPTS", 5),
			ReconcileBackoff:    getEnvDuration("ENGINE_RECONCILE_BACKOFF", 2*time.Second),
			SharpeWindowDays:    getEnvInt("ENGINE_SHARPE_WINDOW_DAYS", 30),
			IntakePollInterval:  getEnvDuration("ENGINE_INTAKE_POLL_INTERVAL", 2*time.Second),
			PaperSeedBalance:    getEnvFloat("ENGINE_PAPER_SEED_BALANCE", 10000),
			PaperFillLatency:    getEnvDuration("ENGINE_PAPER_FILL_LATENCY", 500*time.Millisecond),
		},
		Risk: RiskDefaults{
			MaxTradesPerDay:    getEnvInt("RISK_MAX_TRADES_PER_DAY", 10),
			CooldownSec:        getEnvInt("RISK_COOLDOWN_SEC", 300),
			DailyMaxLoss:       getEnvFloat("RISK_DAILY_MAX_LOSS", 100),
			DailyTrailDrawdown: getEnvFloat("RISK_DAILY_TRAIL_DRAWDOWN", 0.10),
			AdvisorThreshold:   getEnvFloat("RISK_ADVISOR_THRESHOLD", 0.60),
		},
	}
}

// ConnectionString returns the PostgreSQL connection string
func (d *DatabaseConfig) ConnectionString() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + d.Port + "/" + d.DBName + "?sslmode=" + d.SSLMode
}

// Address returns the Redis address in host:port format
func (r *RedisConfig) Address() string {
	return r.Host + ":" + r.Port
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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

// parseBrokers splits a comma-separated broker list
func parseBrokers(brokers string) []string {
	parts := strings.Split(brokers, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
