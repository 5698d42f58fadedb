package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	CacheKeyPrefixFingerprint = "dedup:fp:"
	CacheKeyPrefixContent     = "dedup:content:"
	CacheKeyPrefixDupCount    = "dedup:dups:"
	CacheKeyPrefixRateLimit   = "rl:"
)

const (
	DefaultEventsTopic   = "notification_events"
	DefaultRealtimeTopic = "notification_realtime"
	DefaultDLQTopic      = "notification_dlq"
)

const (
	DefaultMongoDBName        = "beacon"
	RecordsCollection         = "notification_records"
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

const (
	DefaultDedupWindow        = 30 * time.Second
	DefaultContentWindow      = 10 * time.Second
	DefaultDeliveryTimeout    = 5 * time.Second
	DefaultMaxAttempts        = 5
)

const (
	FallbackAllow = "allow"
	FallbackDeny  = "deny"
)

const (
	ScopeGlobal    = "global"
	ScopeEventType = "event_type"
	ScopeRecipient = "recipient"
)
