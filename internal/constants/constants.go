package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	CacheKeyPrefixDedup = "eventhub:dedup:"
)

const (
	DefaultInputTopic  = "submitted_events"
	DefaultOutputTopic = "processed_events"
)

const (
	DefaultMongoDBName = "eventhub"
	SchemaCollection   = "event_schemas"
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	PostgresMigrationsPath = "migrations/postgres"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

const (
	DefaultMaxAttempts   = 3
	DefaultRetentionDays = 90
	DefaultDedupWindow   = time.Hour
)

const (
	DefaultSchedulerInterval      = 30 * time.Second
	DefaultStuckProcessingTimeout = 5 * time.Minute
	DefaultRetentionSweepInterval = time.Hour
	DefaultWorkerLimit            = 8
	DefaultSweepBatchSize         = 100
)

const (
	FallbackAllow = "allow"
	FallbackDeny  = "deny"
)

const (
	HashAlgorithmSHA256 = "sha256"
	HashAlgorithmMD5    = "md5"
)
