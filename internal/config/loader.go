package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"eventhub/internal/constants"
)

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	applyDefaults(&cfg)

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func bindEnvVariables() {
	viper.BindEnv("broker.kafka.brokers", "BROKER_KAFKA_BROKERS")
	viper.BindEnv("broker.kafka.group_id", "BROKER_KAFKA_GROUP_ID")
	viper.BindEnv("broker.kafka.input_topic", "BROKER_KAFKA_INPUT_TOPIC")
	viper.BindEnv("broker.kafka.output_topic", "BROKER_KAFKA_OUTPUT_TOPIC")
	viper.BindEnv("broker.kafka.schema_event_topic", "BROKER_KAFKA_SCHEMA_EVENT_TOPIC")
	viper.BindEnv("broker.kafka.dlq_topic", "BROKER_KAFKA_DLQ_TOPIC")

	viper.BindEnv("database.postgres.host", "DATABASE_POSTGRES_HOST")
	viper.BindEnv("database.postgres.port", "DATABASE_POSTGRES_PORT")
	viper.BindEnv("database.postgres.user", "DATABASE_POSTGRES_USER")
	viper.BindEnv("database.postgres.password", "DATABASE_POSTGRES_PASSWORD")
	viper.BindEnv("database.postgres.dbname", "DATABASE_POSTGRES_DBNAME")
	viper.BindEnv("database.postgres.sslmode", "DATABASE_POSTGRES_SSLMODE")

	viper.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	viper.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	viper.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")
	viper.BindEnv("database.redis.db", "DATABASE_REDIS_DB")

	viper.BindEnv("database.mongodb.uri", "DATABASE_MONGODB_URI")
	viper.BindEnv("database.mongodb.database", "DATABASE_MONGODB_DATABASE")

	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout_seconds", "SERVER_READ_TIMEOUT_SECONDS")
	viper.BindEnv("server.write_timeout_seconds", "SERVER_WRITE_TIMEOUT_SECONDS")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")

	viper.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	viper.BindEnv("tracing.otlp.insecure", "TRACING_OTLP_INSECURE")
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.service_name", "TRACING_SERVICE_NAME")
}

func applyEnvOverrides(cfg *Config) error {
	if brokersEnv := viper.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		if len(brokers) > 0 && brokers[0] != "" {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}

	if otlpEndpoint := viper.GetString("TRACING_OTLP_ENDPOINT"); otlpEndpoint != "" {
		cfg.Tracing.OTLP.Endpoint = otlpEndpoint
	}

	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Database.Postgres.MaxOpenConns == 0 {
		cfg.Database.Postgres.MaxOpenConns = 25
	}
	if cfg.Database.Postgres.MaxIdleConns == 0 {
		cfg.Database.Postgres.MaxIdleConns = 5
	}
	if cfg.Database.Postgres.ConnMaxLifetime == 0 {
		cfg.Database.Postgres.ConnMaxLifetime = 30 * time.Minute
	}
	if cfg.Processing.MaxAttemptsDefault == 0 {
		cfg.Processing.MaxAttemptsDefault = constants.DefaultMaxAttempts
	}
	if cfg.Processing.RetryBaseInterval == 0 {
		cfg.Processing.RetryBaseInterval = time.Second
	}
	if cfg.Processing.RetryMaxInterval == 0 {
		cfg.Processing.RetryMaxInterval = 5 * time.Minute
	}
	if cfg.Processing.RetryJitterPct == 0 {
		cfg.Processing.RetryJitterPct = 0.2
	}
	if cfg.Processing.HandlerTimeout == 0 {
		cfg.Processing.HandlerTimeout = 30 * time.Second
	}
	if cfg.Processing.StuckProcessingTimeout == 0 {
		cfg.Processing.StuckProcessingTimeout = 5 * time.Minute
	}
	if cfg.Processing.SchedulerInterval == 0 {
		cfg.Processing.SchedulerInterval = constants.DefaultSchedulerInterval
	}
	if cfg.Processing.WorkerLimit == 0 {
		cfg.Processing.WorkerLimit = 8
	}
	if cfg.Processing.SweepBatchSize == 0 {
		cfg.Processing.SweepBatchSize = 200
	}
	if cfg.Dedup.HashAlgorithm == "" {
		cfg.Dedup.HashAlgorithm = constants.HashAlgorithmSHA256
	}
	if cfg.Dedup.Window == 0 {
		cfg.Dedup.Window = constants.DefaultDedupWindow
	}
	if cfg.Dedup.OnRedisError == "" {
		cfg.Dedup.OnRedisError = constants.FallbackDeny
	}
	if cfg.Retention.DefaultDays == 0 {
		cfg.Retention.DefaultDays = constants.DefaultRetentionDays
	}
	if cfg.Retention.SweepInterval == 0 {
		cfg.Retention.SweepInterval = time.Hour
	}
	if cfg.Retention.PurgeBatchSize == 0 {
		cfg.Retention.PurgeBatchSize = 500
	}
}
