// Package cache is the freshness-cache collaborator: last sample per device
// with bounded expiry, plus the alert-stream channel.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"telemetryhub/internal/logger"
	"telemetryhub/pkg/models"
)

const alertChannel = "alerts:stream"

// Config configures the freshness cache.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Cache stores the latest sample per device and publishes fired alerts.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates the cache client and verifies connectivity.
func New(cfg Config) (*Cache, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping freshness cache: %w", err)
	}

	logger.Infof("Freshness cache ready (addr=%s ttl=%s)", cfg.Addr, cfg.TTL)
	return &Cache{client: client, ttl: cfg.TTL}, nil
}

func latestKey(deviceID string) string {
	return fmt.Sprintf("device:%s:latest", deviceID)
}

// SetLatest stores the sample under the device's latest key. The TTL lets
// stale devices age out of "latest" queries.
func (c *Cache) SetLatest(ctx context.Context, sample *models.TelemetrySample) error {
	payload, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to encode sample: %w", err)
	}
	if err := c.client.Set(ctx, latestKey(sample.DeviceID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache latest for %s: %w", sample.DeviceID, err)
	}
	return nil
}

// GetLatest returns the freshest sample for a device, or nil when the entry
// is absent or expired.
func (c *Cache) GetLatest(ctx context.Context, deviceID string) (*models.TelemetrySample, error) {
	raw, err := c.client.Get(ctx, latestKey(deviceID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latest for %s: %w", deviceID, err)
	}

	var sample models.TelemetrySample
	if err := json.Unmarshal(raw, &sample); err != nil {
		return nil, fmt.Errorf("failed to decode latest for %s: %w", deviceID, err)
	}
	return &sample, nil
}

// PublishAlert pushes the alert onto the alert-stream channel.
func (c *Cache) PublishAlert(ctx context.Context, rec *models.AlertRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}
	if err := c.client.Publish(ctx, alertChannel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	return nil
}

// Close closes the client.
func (c *Cache) Close() error {
	return c.client.Close()
}
