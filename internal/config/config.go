// Package config loads the application configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config represents the application configuration.
type Config struct {
	App        AppConfig        `envPrefix:"APP_"`
	Kafka      KafkaConfig      `envPrefix:"KAFKA_"`
	Redis      RedisConfig      `envPrefix:"REDIS_"`
	Postgres   PostgresConfig   `envPrefix:"POSTGRES_"`
	ClickHouse ClickHouseConfig `envPrefix:"CLICKHOUSE_"`
	Pipeline   PipelineConfig   `envPrefix:"PIPELINE_"`
	Classifier ClassifierConfig `envPrefix:"CLASSIFIER_"`
	Anomaly    AnomalyConfig    `envPrefix:"ANOMALY_"`
	Sink       SinkConfig       `envPrefix:"SINK_"`
}

// AppConfig represents the application configuration.
type AppConfig struct {
	Name        string `env:"NAME" envDefault:"fx-cortex"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
}

// KafkaConfig represents the CDC stream configuration.
type KafkaConfig struct {
	Brokers         []string `env:"BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	TradesTopic     string   `env:"TRADES_TOPIC" envDefault:"fx-cortex.raw_data.trades"`
	DeadLetterTopic string   `env:"DEAD_LETTER_TOPIC" envDefault:"fx-cortex.dead_letter"`
	ConsumerGroup   string   `env:"CONSUMER_GROUP" envDefault:"fx-cortex-analyzer"`
}

// RedisConfig represents the state cache configuration.
type RedisConfig struct {
	Addr     string        `env:"ADDR" envDefault:"localhost:6379"`
	Password string        `env:"PASSWORD" envDefault:""`
	DB       int           `env:"DB" envDefault:"0"`
	Grace    time.Duration `env:"GRACE" envDefault:"1h"`
}

// PostgresConfig represents the durable trade history configuration.
// An empty DSN disables the Postgres-backed history store.
type PostgresConfig struct {
	DSN string `env:"DSN" envDefault:""`
}

// ClickHouseConfig represents the analytics sink configuration. The target
// database is the DSN path segment; an empty DSN falls back to in-memory
// stores.
type ClickHouseConfig struct {
	DSN string `env:"DSN" envDefault:""`
}

// PipelineConfig tunes the partitioned aggregation workers.
type PipelineConfig struct {
	Workers       int           `env:"WORKERS" envDefault:"4"`
	QueueSize     int           `env:"QUEUE_SIZE" envDefault:"1024"`
	Debounce      time.Duration `env:"DEBOUNCE" envDefault:"5s"`
	FlushInterval time.Duration `env:"FLUSH_INTERVAL" envDefault:"1s"`
}

// ClassifierConfig tunes the archetype classification rounds.
type ClassifierConfig struct {
	Interval            time.Duration `env:"INTERVAL" envDefault:"5m"`
	WindowID            string        `env:"WINDOW" envDefault:"30d"`
	VersionBase         string        `env:"VERSION_BASE" envDefault:"v1"`
	Eps                 float64       `env:"EPS" envDefault:"1.2"`
	MinPts              int           `env:"MIN_PTS" envDefault:"3"`
	LinkageCutoff       float64       `env:"LINKAGE_CUTOFF" envDefault:"1.0"`
	SimilarityTolerance float64       `env:"SIMILARITY_TOLERANCE" envDefault:"0.15"`
}

// AnomalyConfig tunes the per-trader deviation detector.
type AnomalyConfig struct {
	DeviationThreshold float64 `env:"DEVIATION_THRESHOLD" envDefault:"3.0"`
	CategoricalJumpPct float64 `env:"CATEGORICAL_JUMP_PCT" envDefault:"25"`
	BaselineWindow     string  `env:"BASELINE_WINDOW" envDefault:"24h"`
	MinSamples         int     `env:"MIN_SAMPLES" envDefault:"5"`
}

// SinkConfig tunes the per-worker outbound writers.
type SinkConfig struct {
	QueueSize     int           `env:"QUEUE_SIZE" envDefault:"1024"`
	BatchSize     int           `env:"BATCH_SIZE" envDefault:"256"`
	FlushInterval time.Duration `env:"FLUSH_INTERVAL" envDefault:"1s"`
	MaxRetries    int           `env:"MAX_RETRIES" envDefault:"5"`
	RetryBackoff  time.Duration `env:"RETRY_BACKOFF" envDefault:"100ms"`
	OverflowDir   string        `env:"OVERFLOW_DIR" envDefault:"./overflow"`
}

// Load loads the configuration from the environment.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}
