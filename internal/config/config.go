package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Broker         BrokerConfig
	Logging        LoggingConfig
	Processing     ProcessingConfig
	Dedup          DedupConfig
	Retention      RetentionConfig
	API            APIConfig
	CircuitBreaker CircuitBreakerConfig
	Tracing        TracingConfig
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig
	Redis         RedisConfig
	MongoDB       MongoDBConfig
	RunMigrations bool `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type BrokerConfig struct {
	Type  string      `mapstructure:"type"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers          []string    `mapstructure:"brokers"`
	GroupID          string      `mapstructure:"group_id"`
	InputTopic       string      `mapstructure:"input_topic"`
	OutputTopic      string      `mapstructure:"output_topic"`
	SchemaEventTopic string      `mapstructure:"schema_event_topic"`
	DLQTopic         string      `mapstructure:"dlq_topic"`
	Retry            RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ProcessingConfig covers the event lifecycle and the retry scheduler:
// attempt budgets, backoff shape, handler timeouts and sweep cadence.
type ProcessingConfig struct {
	MaxAttemptsDefault     int           `mapstructure:"max_attempts_default"`
	RetryBaseInterval      time.Duration `mapstructure:"retry_base_interval"`
	RetryMaxInterval       time.Duration `mapstructure:"retry_max_interval"`
	RetryJitterPct         float64       `mapstructure:"retry_jitter_pct"`
	HandlerTimeout         time.Duration `mapstructure:"handler_timeout"`
	StuckProcessingTimeout time.Duration `mapstructure:"stuck_processing_timeout"`
	SchedulerInterval      time.Duration `mapstructure:"scheduler_interval"`
	WorkerLimit            int           `mapstructure:"worker_limit"`
	SweepBatchSize         int           `mapstructure:"sweep_batch_size"`
}

type DedupConfig struct {
	HashAlgorithm string        `mapstructure:"hash_algorithm"`
	Window        time.Duration `mapstructure:"window"`
	OnRedisError  string        `mapstructure:"on_redis_error"`
}

type RetentionConfig struct {
	DefaultDays    int           `mapstructure:"default_days"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	PurgeBatchSize int           `mapstructure:"purge_batch_size"`
}

type APIConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
