package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CollectorConfig is the cloud-side collector configuration.
type CollectorConfig struct {
	Collector CollectorTree `yaml:"collector"`
}

// CollectorTree groups the collector sections.
type CollectorTree struct {
	Stream  StreamConfig  `yaml:"stream"`
	Store   StoreConfig   `yaml:"store"`
	Cache   CacheConfig   `yaml:"cache"`
	Alerts  AlertsConfig  `yaml:"alerts"`
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
}

// StreamConfig controls the telemetry stream consumer group.
type StreamConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Partitions   []string      `yaml:"partitions"`
	Group        string        `yaml:"group"`
	Consumer     string        `yaml:"consumer"`
	BatchSize    int64         `yaml:"batch_size"`
	BlockTimeout time.Duration `yaml:"block_timeout"`
}

// StoreConfig controls the document store connection.
type StoreConfig struct {
	URI            string        `yaml:"uri"`
	Database       string        `yaml:"database"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// CacheConfig controls the freshness cache.
type CacheConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// AlertsConfig controls rule evaluators and extra alert sinks. A zero
// threshold disables the corresponding evaluator.
type AlertsConfig struct {
	TemperatureGT float64            `yaml:"temperature_gt"`
	BatteryBelow  int                `yaml:"battery_below"`
	LogFile       string             `yaml:"log_file"`
	Webhook       AlertWebhookConfig `yaml:"webhook"`
}

// AlertWebhookConfig controls the optional HTTP alert forwarder.
type AlertWebhookConfig struct {
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// ServerConfig controls the REST/WebSocket listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DeviceConfig is the edge publisher configuration.
type DeviceConfig struct {
	Device DeviceTree `yaml:"device"`
}

// DeviceTree groups the device sections.
type DeviceTree struct {
	Host         string        `yaml:"host"`
	DeviceID     string        `yaml:"device_id"`
	DeviceKey    string        `yaml:"device_key"`
	APIVersion   string        `yaml:"api_version"`
	Websockets   bool          `yaml:"websockets"`
	SendInterval time.Duration `yaml:"send_interval"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
	RenewMargin  time.Duration `yaml:"renew_margin"`
	Retries      int           `yaml:"retries"`
	Logging      LoggingConfig `yaml:"logging"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// LoadCollector reads and parses a collector YAML config file.
func LoadCollector(path string) (*CollectorConfig, error) {
	var cfg CollectorConfig
	if err := load(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDevice reads and parses a device YAML config file.
func LoadDevice(path string) (*DeviceConfig, error) {
	var cfg DeviceConfig
	if err := load(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func load(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}
