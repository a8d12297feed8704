package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.yaml.in/yaml/v4"
)

const (
	EnvAPIBaseURL = "API_BASE_URL"
	EnvAPIKey     = "CRONJOB_API_KEY"
)

type Config struct {
	API     APIConfig     `yaml:"api"`
	Carrier CarrierConfig `yaml:"carrier"`
	Sync    SyncConfig    `yaml:"sync"`
	Redis   RedisConfig   `yaml:"redis"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	HTTP    HTTPConfig    `yaml:"http"`
	Log     LogConfig     `yaml:"log"`
}

// APIConfig описывает API-владельца данных об отправлениях.
type APIConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	PendingLimit   int    `yaml:"pending_limit"`
}

type CarrierConfig struct {
	Mode           string `yaml:"mode"` // "ssw" | "fake"
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	UserAgent      string `yaml:"user_agent"`

	// Часовой пояс дат на странице перевозчика; по умолчанию UTC-3.
	UTCOffsetHours *int `yaml:"utc_offset_hours"`

	OccurrenceCatalogPath string `yaml:"occurrence_catalog_path"`

	Breaker BreakerConfig `yaml:"breaker"`
}

type BreakerConfig struct {
	Enabled            bool `yaml:"enabled"`
	FailureThreshold   int  `yaml:"failure_threshold"`
	OpenTimeoutSeconds int  `yaml:"open_timeout_seconds"`
}

type SyncConfig struct {
	Workers          int    `yaml:"workers"`
	RunBudgetSeconds int    `yaml:"run_budget_seconds"`
	Schedule         string `yaml:"schedule"`
	RunOnStart       bool   `yaml:"run_on_start"`

	CarrierRetries      *int `yaml:"carrier_retries"`
	APIRetries          *int `yaml:"api_retries"`
	RetryInitialMillis  int  `yaml:"retry_initial_millis"`
	RetryMaxIntervalSec int  `yaml:"retry_max_interval_seconds"`
}

// RedisConfig is optional: an empty host disables the shared rate limiter
// and the last-report store.
type RedisConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	ReportTTLSeconds   int    `yaml:"report_ttl_seconds"`
}

// KafkaConfig is optional: an empty host disables publishing and the
// trigger consumer.
type KafkaConfig struct {
	Host                    string `yaml:"host"`
	Port                    int    `yaml:"port"`
	ShipmentSyncedTopicName string `yaml:"shipment_synced_topic_name"`
	SyncCompletedTopicName  string `yaml:"sync_completed_topic_name"`
	SyncRequestedTopicName  string `yaml:"sync_requested_topic_name"`
	ConsumerGroup           string `yaml:"consumer_group"`
}

type HTTPConfig struct {
	Addr        string `yaml:"addr"`
	SwaggerPath string `yaml:"swagger_path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	config.ApplyEnv(os.LookupEnv)
	return &config, nil
}

// ApplyEnv перекрывает адрес и ключ API переменными окружения (так их отдаёт деплой).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvAPIBaseURL); ok && v != "" {
		c.API.BaseURL = v
	}
	if v, ok := lookup(EnvAPIKey); ok && v != "" {
		c.API.APIKey = v
	}
}

func (c *Config) Validate() error {
	var missing []string
	if c.API.BaseURL == "" {
		missing = append(missing, "api.base_url ("+EnvAPIBaseURL+")")
	}
	if c.API.APIKey == "" {
		missing = append(missing, "api.api_key ("+EnvAPIKey+")")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	switch c.Carrier.Mode {
	case "", "ssw", "fake":
	default:
		return fmt.Errorf("unknown carrier mode %q", c.Carrier.Mode)
	}
	return nil
}

func (c CarrierConfig) Location() *time.Location {
	if c.UTCOffsetHours == nil {
		return time.FixedZone("BRT", -3*60*60)
	}
	h := *c.UTCOffsetHours
	return time.FixedZone(fmt.Sprintf("UTC%+d", h), h*60*60)
}

func (r RedisConfig) Enabled() bool { return r.Host != "" }

func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%d", r.Host, r.Port) }

func (k KafkaConfig) Enabled() bool { return k.Host != "" }

func (k KafkaConfig) Brokers() []string { return []string{fmt.Sprintf("%s:%d", k.Host, k.Port)} }

func Seconds(n int) time.Duration { return time.Duration(n) * time.Second }
