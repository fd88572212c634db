package config

// Config is the full service configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "5m").
// The file may be YAML or JSON; YAML is coerced to JSON before decoding so
// unknown fields are rejected in both formats.
type Config struct {
	Log         LogConfig         `json:"log"`
	Storage     StorageConfig     `json:"storage"`
	Redis       RedisConfig       `json:"redis"`
	Ingest      IngestConfig      `json:"ingest"`
	Engine      EngineConfig      `json:"engine"`
	Metrics     MetricsConfig     `json:"metrics"`
	Notify      NotifyConfig      `json:"notify"`
	Transports  TransportsConfig  `json:"transports"`
	Fanout      FanoutConfig      `json:"fanout"`
	Ops         OpsConfig         `json:"ops"`
	Maintenance MaintenanceConfig `json:"maintenance"`
}

type LogConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LogFileConfig `json:"file"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type StorageConfig struct {
	// Path to the SQLite database file.
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// RedisConfig configures the shared cooldown store. When Enabled is false
// the cooldown coordinator runs on its process-local fallback only.
type RedisConfig struct {
	Enabled   bool   `json:"enabled"`
	Addr      string `json:"addr,omitempty"`
	Password  string `json:"password,omitempty"`
	DB        int    `json:"db,omitempty"`
	KeyPrefix string `json:"key_prefix,omitempty"` // default: "cooldown:"
}

// IngestConfig configures the aircraft.json poller. Leave URL empty to run
// without the built-in poller (snapshots fed via the engine API only).
type IngestConfig struct {
	URL      string  `json:"url,omitempty"`
	Interval string  `json:"interval,omitempty"` // default: "5s"
	Timeout  string  `json:"timeout,omitempty"`  // per-fetch, default: "10s"
	Observer *LatLon `json:"observer,omitempty"`
}

type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type EngineConfig struct {
	// RuleCacheTTL bounds how long the selector reuses a fetched rule set.
	RuleCacheTTL string `json:"rule_cache_ttl,omitempty"` // default: "15s"

	// DefaultCooldown applies to rules with no cooldown of their own.
	DefaultCooldown string `json:"default_cooldown,omitempty"` // default: "5m"
}

type MetricsConfig struct {
	// RingSize bounds the recent-cycle buffer.
	RingSize int `json:"ring_size,omitempty"` // default: 1000

	// SummaryWindow is the trailing window for Summary().
	SummaryWindow string `json:"summary_window,omitempty"` // default: "15m"
}

type NotifyConfig struct {
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`

	// FallbackEndpoints is the legacy comma-delimited endpoint list used
	// when routing resolves no channels at all.
	FallbackEndpoints string `json:"fallback_endpoints,omitempty"`
}

type TransportsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	MQTT     MQTTConfig     `json:"mqtt"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"` // do not log
}

type MQTTConfig struct {
	Enabled  bool   `json:"enabled"`
	Broker   string `json:"broker,omitempty"` // e.g. "tcp://localhost:1883"
	ClientID string `json:"client_id,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"` // do not log
}

// FanoutConfig mirrors trigger events to Kafka for downstream consumers.
type FanoutConfig struct {
	Brokers []string `json:"brokers,omitempty"`
	Topic   string   `json:"topic,omitempty"` // default: "skyalert.triggers"
}

type OpsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8077"
}

type MaintenanceConfig struct {
	// Cron specs (robfig/cron, standard 5-field).
	CooldownPrune string `json:"cooldown_prune,omitempty"` // default: "*/5 * * * *"
	LogRetention  string `json:"log_retention,omitempty"`  // default: "17 3 * * *"

	// DeliveryLogMaxAge bounds delivery-log rows kept by the retention job.
	DeliveryLogMaxAge string `json:"delivery_log_max_age,omitempty"` // default: "720h"
}
