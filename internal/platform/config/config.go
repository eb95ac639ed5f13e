package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process level configuration.
type Server struct {
	Addr           string
	LogLevel       slog.Level
	RoutingFile    string
	VocabularyFile string
	Postgres       PostgresConfig
	Redis          RedisConfig
	Kafka          KafkaConfig
	Index          IndexConfig
	Locks          LockConfig
	Audit          AuditConfig
	Sources        []SourceConfig
}

// PostgresConfig selects the durable graph store. An empty DSN keeps the
// graph in memory.
type PostgresConfig struct {
	DSN          string
	MaxOpenConns int
	TxTimeout    time.Duration
}

// RedisConfig configures the Redis client used for item locks and the
// relation index. An empty URL disables Redis.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures graph event publishing. No brokers keeps events in
// the outbox table only.
type KafkaConfig struct {
	Brokers       []string
	Topic         string
	Partitions    int32
	Replicas      int16
	RelayInterval time.Duration
	RelayBatch    int
}

// IndexConfig tunes relation index synchronization.
type IndexConfig struct {
	Concurrency int
	Prefix      string
}

// LockConfig tunes per-item locking.
type LockConfig struct {
	TTL          time.Duration
	WaitTimeout  time.Duration
	RetryBackoff time.Duration
}

// AuditConfig tunes graph event publishing. A sample rate below 1 drops that
// share of operations events; compliance and security events are always kept.
type AuditConfig struct {
	OperationsSampleRate float64
}

// SourceConfig registers one external metadata source served over HTTP.
type SourceConfig struct {
	ID      string
	Host    string
	APIKey  string
	Timeout time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	return Server{
		Addr:           envString("CONCYTEC_ADDR", ":8080"),
		LogLevel:       envLevel("CONCYTEC_LOG_LEVEL", slog.LevelInfo),
		RoutingFile:    os.Getenv("CONCYTEC_ROUTING_FILE"),
		VocabularyFile: os.Getenv("CONCYTEC_VOCABULARY_FILE"),
		Postgres: PostgresConfig{
			DSN:          os.Getenv("CONCYTEC_DATABASE_URL"),
			MaxOpenConns: envInt("CONCYTEC_DATABASE_MAX_OPEN_CONNS", 20),
			TxTimeout:    envDuration("CONCYTEC_DATABASE_TX_TIMEOUT", 5*time.Second),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("CONCYTEC_REDIS_URL"),
			PoolSize:     envInt("CONCYTEC_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("CONCYTEC_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("CONCYTEC_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("CONCYTEC_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("CONCYTEC_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:       envList("CONCYTEC_KAFKA_BROKERS"),
			Topic:         envString("CONCYTEC_KAFKA_TOPIC", "concytec.graph.events"),
			Partitions:    int32(envInt("CONCYTEC_KAFKA_PARTITIONS", 3)),
			Replicas:      int16(envInt("CONCYTEC_KAFKA_REPLICAS", 1)),
			RelayInterval: envDuration("CONCYTEC_OUTBOX_RELAY_INTERVAL", time.Second),
			RelayBatch:    envInt("CONCYTEC_OUTBOX_RELAY_BATCH", 100),
		},
		Index: IndexConfig{
			Concurrency: envInt("CONCYTEC_INDEX_CONCURRENCY", 4),
			Prefix:      envString("CONCYTEC_INDEX_PREFIX", "concytec:index"),
		},
		Locks: LockConfig{
			TTL:          envDuration("CONCYTEC_LOCK_TTL", 30*time.Second),
			WaitTimeout:  envDuration("CONCYTEC_LOCK_WAIT", 5*time.Second),
			RetryBackoff: envDuration("CONCYTEC_LOCK_BACKOFF", 25*time.Millisecond),
		},
		Audit: AuditConfig{
			OperationsSampleRate: envFloat("CONCYTEC_AUDIT_OPERATIONS_SAMPLE_RATE", 1),
		},
		Sources: envSources("CONCYTEC_SOURCES"),
	}
}

// envSources parses "id=host" pairs; the API key and timeout of each source
// are read from CONCYTEC_SOURCE_<ID>_API_KEY and _TIMEOUT.
func envSources(key string) []SourceConfig {
	var out []SourceConfig
	for _, entry := range envList(key) {
		sourceID, host, ok := strings.Cut(entry, "=")
		if !ok || sourceID == "" || host == "" {
			continue
		}
		prefix := "CONCYTEC_SOURCE_" + strings.ToUpper(sourceID)
		out = append(out, SourceConfig{
			ID:      sourceID,
			Host:    host,
			APIKey:  os.Getenv(prefix + "_API_KEY"),
			Timeout: envDuration(prefix+"_TIMEOUT", 10*time.Second),
		})
	}
	return out
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func envList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envLevel(key string, def slog.Level) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(os.Getenv(key))); err == nil {
		return level
	}
	return def
}
