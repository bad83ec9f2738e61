// Package stream consumes telemetry batches from a partitioned stream under
// a named consumer group.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"telemetryhub/internal/logger"
	"telemetryhub/internal/observability"
	"telemetryhub/pkg/models"
)

// Stream entry metadata keys. The bridge in front of the broker writes the
// origin identity next to the raw body.
const (
	fieldDeviceID = "device_id"
	fieldBody     = "body"
)

// Handler receives each decoded sample, one call per delivered entry.
type Handler func(ctx context.Context, sample *models.TelemetrySample) error

// Config configures the consumer group.
type Config struct {
	Addr         string
	Password     string
	DB           int
	Partitions   []string // stream keys, one per partition
	Group        string
	Consumer     string
	BatchSize    int64
	BlockTimeout time.Duration
}

// streamClient is the slice of the redis client the consumer drives;
// narrowed so tests can substitute a fake.
type streamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	Close() error
}

// Consumer reads batches from every partition, dispatches each entry to a
// handler, and advances the group checkpoint once per batch.
type Consumer struct {
	client streamClient
	cfg    Config
}

// New creates the consumer and ensures the group exists on every partition.
func New(cfg Config) (*Consumer, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if len(cfg.Partitions) == 0 {
		return nil, fmt.Errorf("at least one stream partition is required")
	}
	if strings.TrimSpace(cfg.Group) == "" {
		return nil, fmt.Errorf("consumer group is required")
	}
	if strings.TrimSpace(cfg.Consumer) == "" {
		host, _ := os.Hostname()
		cfg.Consumer = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	c := &Consumer{client: client, cfg: cfg}
	if err := c.ensureGroups(context.Background()); err != nil {
		client.Close()
		return nil, err
	}
	return c, nil
}

func (c *Consumer) ensureGroups(ctx context.Context) error {
	for _, key := range c.cfg.Partitions {
		err := c.client.XGroupCreateMkStream(ctx, key, c.cfg.Group, "$").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("failed to create group %s on %s: %w", c.cfg.Group, key, err)
		}
	}
	return nil
}

// Run consumes until ctx is cancelled. Reads block for at most the
// configured timeout so the loop stays responsive to shutdown even when no
// events arrive. Returns ctx.Err() on cancellation.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	logger.Infof("Stream consumer started (group=%s consumer=%s partitions=%d)",
		c.cfg.Group, c.cfg.Consumer, len(c.cfg.Partitions))

	streams := make([]string, 0, 2*len(c.cfg.Partitions))
	streams = append(streams, c.cfg.Partitions...)
	for range c.cfg.Partitions {
		streams = append(streams, ">")
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			Streams:  streams,
			Count:    c.cfg.BatchSize,
			Block:    c.cfg.BlockTimeout,
		}).Result()
		if err == redis.Nil {
			// No events within the block window; loop to observe ctx.
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Errorf("Failed to read stream batch: %v", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}

		// Dispatch every entry of the batch first, then advance the
		// checkpoint once per partition regardless of per-entry outcomes.
		for _, part := range res {
			c.dispatch(ctx, part.Stream, part.Messages, handler)
		}
		for _, part := range res {
			c.checkpoint(ctx, part.Stream, part.Messages)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, stream string, entries []redis.XMessage, handler Handler) {
	for _, entry := range entries {
		sample, deviceID, err := decodeEntry(entry.Values)
		if err != nil {
			observability.ParseFailures.Inc()
			logger.Warnf("Failed to parse entry %s on %s (device=%s): %v", entry.ID, stream, orUnknown(deviceID), err)
			continue
		}
		observability.EventsConsumed.Inc()
		if err := handler(ctx, sample); err != nil {
			logger.Warnf("Handler rejected entry %s on %s (device=%s): %v", entry.ID, stream, sample.DeviceID, err)
		}
	}
}

// checkpoint acknowledges the batch. Failures are logged and swallowed:
// on restart the stream redelivers and downstream tolerates duplicates.
func (c *Consumer) checkpoint(ctx context.Context, stream string, entries []redis.XMessage) {
	if len(entries) == 0 {
		return
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.ID)
	}
	if err := c.client.XAck(ctx, stream, c.cfg.Group, ids...).Err(); err != nil {
		observability.CheckpointFailures.Inc()
		logger.Warnf("Failed to advance checkpoint on %s: %v", stream, err)
	}
}

// decodeEntry extracts the origin identity and the sample body from one
// stream entry. The identity may arrive as raw bytes or text; it is injected
// into the sample when the body omits it. The best-known identity is
// returned even when decoding fails, for logging.
func decodeEntry(values map[string]interface{}) (*models.TelemetrySample, string, error) {
	deviceID := stringValue(values[fieldDeviceID])

	body := stringValue(values[fieldBody])
	if body == "" {
		return nil, deviceID, fmt.Errorf("entry has no body")
	}

	var sample models.TelemetrySample
	if err := json.Unmarshal([]byte(body), &sample); err != nil {
		return nil, deviceID, fmt.Errorf("failed to decode body: %w", err)
	}
	if sample.DeviceID == "" && deviceID != "" {
		sample.DeviceID = deviceID
	}
	return &sample, deviceID, nil
}

func stringValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	default:
		return ""
	}
}

func orUnknown(deviceID string) string {
	if deviceID == "" {
		return "unknown"
	}
	return deviceID
}

// Close closes the stream client.
func (c *Consumer) Close() error {
	return c.client.Close()
}
