package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	AppName                       string        `env:"APP_NAME" envDefault:"partnermap-api"`
	Version                       string        `env:"APP_VERSION" envDefault:"dev"`
	Port                          int           `env:"PORT" envDefault:"3004"`
	LogLevel                      string        `env:"LOG_LEVEL" envDefault:"info"`
	PrettyLogs                    bool          `env:"PRETTY_LOGS" envDefault:"false"`
	HttpServerWriteTimeoutSeconds int           `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" envDefault:"30"`
	HttpServerReadTimeoutSeconds  int           `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" envDefault:"30"`
	HttpServerIdleTimeoutSeconds  int           `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" envDefault:"10"`
	MaxHeaderBytes                int           `env:"HTTP_SERVER_MAX_HEADER_BYTES" envDefault:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int           `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" envDefault:"10"`
	AllowOrigins                  []string      `env:"HTTP_SERVER_ALLOW_ORIGINS" envDefault:"*"`
	AllowMethods                  []string      `env:"HTTP_SERVER_ALLOW_METHODS" envDefault:"GET,POST,PATCH,DELETE"`
	StartupMaxAttempts            int           `env:"STARTUP_MAX_ATTEMPTS" envDefault:"5"`
	ShutdownTimeout               time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	// PostgreSQL (Registry)
	DatabaseDriver                string        `env:"DB_DRIVER" envDefault:"postgres"`
	DatabaseHost                  string        `env:"DB_HOST" envDefault:"localhost"`
	DatabasePort                  string        `env:"DB_PORT" envDefault:"5432"`
	DatabaseUserName              string        `env:"DB_USER_NAME" envDefault:""`
	DatabasePassword              string        `env:"DB_PASSWORD" envDefault:""`
	DatabaseName                  string        `env:"DB_NAME" envDefault:"partnermap"`
	DatabaseSSLMode               string        `env:"DB_SSL_MODE" envDefault:"disable"`
	DatabaseMaxOpenConns          int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DatabaseMaxIdleConns          int           `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DatabaseConnMaxLifetime       time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"5m"`
	DatabaseMigrationFolderPath   string        `env:"DB_MIGRATION_FOLDER_PATH" envDefault:"db/pg"`
	DatabaseMigrationVersion      uint          `env:"DB_MIGRATION_VERSION" envDefault:"0"`
	DatabaseMigrationForce        int           `env:"DB_MIGRATION_FORCE" envDefault:"0"`
	DatabaseMigrationAutoRollback bool          `env:"DB_MIGRATION_AUTO_ROLLBACK" envDefault:"true"`

	// Redis (distributed locks)
	RedisEnabled    bool          `env:"REDIS_ENABLED" envDefault:"false"`
	RedisHost       string        `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort       int           `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword   string        `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB         int           `env:"REDIS_DB" envDefault:"0"`
	RedisLockPrefix string        `env:"REDIS_LOCK_PREFIX" envDefault:"partnermap:lock:"`
	RedisLockTTL    time.Duration `env:"REDIS_LOCK_TTL" envDefault:"30s"`
	RedisLockWait   time.Duration `env:"REDIS_LOCK_WAIT" envDefault:"10s"`

	// Graph Database (Memgraph)
	GraphEnabled    bool   `env:"GRAPH_ENABLED" envDefault:"false"`
	GraphDBHost     string `env:"GRAPH_DB_HOST" envDefault:"localhost"`
	GraphDBPort     int    `env:"GRAPH_DB_PORT" envDefault:"7687"`
	GraphDBUser     string `env:"GRAPH_DB_USER" envDefault:""`
	GraphDBPassword string `env:"GRAPH_DB_PASSWORD" envDefault:""`

	// Kafka Producer (registry events)
	KafkaEnabled      bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers      []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaOutputTopic  string   `env:"KAFKA_OUTPUT_TOPIC" envDefault:"partner-map-events"`
	KafkaBatchSize    int      `env:"KAFKA_BATCH_SIZE" envDefault:"100"`
	KafkaBatchTimeout int      `env:"KAFKA_BATCH_TIMEOUT_MS" envDefault:"100"`
	KafkaRequiredAcks int      `env:"KAFKA_REQUIRED_ACKS" envDefault:"1"`
	KafkaCompression  string   `env:"KAFKA_COMPRESSION" envDefault:"snappy"`

	// Tracing
	OTLPEndpoint string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTLPProtocol string        `env:"OTEL_EXPORTER_OTLP_PROTOCOL" envDefault:"http"`
	OTLPInsecure bool          `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	OTLPHeaders  string        `env:"OTEL_EXPORTER_OTLP_HEADERS" envDefault:""`
	OTLPTimeout  time.Duration `env:"OTEL_EXPORTER_OTLP_TIMEOUT" envDefault:"10s"`

	// Processing
	AnalyzerConcurrency int     `env:"ANALYZER_CONCURRENCY" envDefault:"8"`
	GroupingThreshold   float64 `env:"GROUPING_THRESHOLD" envDefault:"0.7"`
}

// Load parses the process environment into a Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.GroupingThreshold <= 0 || cfg.GroupingThreshold >= 1 {
		return nil, fmt.Errorf("GROUPING_THRESHOLD must be in (0, 1), got %v", cfg.GroupingThreshold)
	}
	return cfg, nil
}
