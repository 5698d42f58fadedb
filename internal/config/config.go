package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Broker         BrokerConfig
	Logging        LoggingConfig
	Dedup          DedupConfig
	RateLimit      RateLimitConfig
	Queue          QueueConfig
	Retry          RetryConfig
	Routing        RoutingConfig
	Channels       ChannelsConfig
	Records        RecordsConfig
	CircuitBreaker CircuitBreakerConfig
	HTTPRateLimit  HTTPRateLimitConfig `mapstructure:"http_rate_limit"`
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
	RunMigrations bool   `mapstructure:"run_migrations"`
	MigrationsDir string `mapstructure:"migrations_dir"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
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
	Brokers       []string          `mapstructure:"brokers"`
	GroupID       string            `mapstructure:"group_id"`
	EventsTopic   string            `mapstructure:"events_topic"`
	RealtimeTopic string            `mapstructure:"realtime_topic"`
	DLQTopic      string            `mapstructure:"dlq_topic"`
	Retry         BrokerRetryConfig `mapstructure:"retry"`
}

type BrokerRetryConfig struct {
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

// DedupConfig controls both layers of the duplicate check. Window values are
// seconds; WindowsByEventType overrides the default per event type (longer
// windows for assignment-class events, shorter for status pings).
type DedupConfig struct {
	WindowSeconds        int            `mapstructure:"window_seconds"`
	WindowsByEventType   map[string]int `mapstructure:"windows_by_event_type"`
	ContentWindowSeconds int            `mapstructure:"content_window_seconds"`
	CacheSize            int            `mapstructure:"cache_size"`
	CacheTTLSeconds      int            `mapstructure:"cache_ttl_seconds"`
	OnStoreError         string         `mapstructure:"on_store_error"`
}

// Ceiling holds per-window limits. Zero means the window is not enforced.
type Ceiling struct {
	Minute int64 `mapstructure:"minute"`
	Hour   int64 `mapstructure:"hour"`
	Day    int64 `mapstructure:"day"`
}

type RateLimitConfig struct {
	Global           Ceiling `mapstructure:"global"`
	PerEventType     Ceiling `mapstructure:"per_event_type"`
	PerRecipient     Ceiling `mapstructure:"per_recipient"`
	UrgentMultiplier float64 `mapstructure:"urgent_multiplier"`
}

type QueueConfig struct {
	ImmediateWorkers int           `mapstructure:"immediate_workers"`
	BatchWorkers     int           `mapstructure:"batch_workers"`
	ImmediateBuffer  int           `mapstructure:"immediate_buffer"`
	BatchBuffer      int           `mapstructure:"batch_buffer"`
	BatchInterval    time.Duration `mapstructure:"batch_interval"`
	BatchSize        int           `mapstructure:"batch_size"`
	ResultBuffer     int           `mapstructure:"result_buffer"`
}

type RetryConfig struct {
	MaxAttempts            int            `mapstructure:"max_attempts"`
	MaxAttemptsByEventType map[string]int `mapstructure:"max_attempts_by_event_type"`
	InitialInterval        time.Duration  `mapstructure:"initial_interval"`
	MaxInterval            time.Duration  `mapstructure:"max_interval"`
	Multiplier             float64        `mapstructure:"multiplier"`
	JitterFraction         float64        `mapstructure:"jitter_fraction"`
}

type RoutingConfig struct {
	ReloadIntervalSeconds int `mapstructure:"reload_interval_seconds"`
}

type ChannelsConfig struct {
	DeliveryTimeoutSeconds int           `mapstructure:"delivery_timeout_seconds"`
	Push                   PushConfig    `mapstructure:"push"`
	Webhook                WebhookConfig `mapstructure:"webhook"`
}

type PushConfig struct {
	GatewayURL string `mapstructure:"gateway_url"`
	APIKey     string `mapstructure:"api_key"`
}

type WebhookConfig struct {
	SigningSecret string `mapstructure:"signing_secret"`
}

type RecordsConfig struct {
	RetentionHours       int `mapstructure:"retention_hours"`
	SweepIntervalMinutes int `mapstructure:"sweep_interval_minutes"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type HTTPRateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
