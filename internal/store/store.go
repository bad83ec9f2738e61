// Package store is the document-store collaborator backing historical reads.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"telemetryhub/internal/logger"
	"telemetryhub/pkg/models"
)

// Config configures the document store connection.
type Config struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

// Store wraps the telemetry, devices, and alerts collections.
type Store struct {
	client    *mongo.Client
	telemetry *mongo.Collection
	devices   *mongo.Collection
	alerts    *mongo.Collection
}

// New connects, pings, and ensures the telemetry index. The index is
// (deviceId, ts descending) so "latest N" reads are cheap.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, fmt.Errorf("store uri is required")
	}
	if strings.TrimSpace(cfg.Database) == "" {
		cfg.Database = "telemetryhub"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect document store: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping document store: %w", err)
	}

	db := client.Database(cfg.Database)
	s := &Store{
		client:    client,
		telemetry: db.Collection("telemetry"),
		devices:   db.Collection("devices"),
		alerts:    db.Collection("alerts"),
	}

	_, err = s.telemetry.Indexes().CreateOne(connectCtx, mongo.IndexModel{
		Keys: bson.D{{Key: "deviceId", Value: 1}, {Key: "ts", Value: -1}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure telemetry index: %w", err)
	}

	logger.Infof("Document store ready (db=%s)", cfg.Database)
	return s, nil
}

// InsertTelemetry persists one sample and upserts the per-device lifetime
// record: firstSeen only on first insertion, lastSeen unconditionally.
func (s *Store) InsertTelemetry(ctx context.Context, sample *models.TelemetrySample) error {
	if _, err := s.telemetry.InsertOne(ctx, sample); err != nil {
		return fmt.Errorf("failed to insert telemetry: %w", err)
	}

	update := bson.M{
		"$setOnInsert": bson.M{"firstSeen": sample.TS},
		"$set":         bson.M{"lastSeen": sample.TS},
	}
	if _, err := s.devices.UpdateByID(ctx, sample.DeviceID, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to upsert device %s: %w", sample.DeviceID, err)
	}
	return nil
}

// QueryTelemetry returns up to limit samples for a device, ascending by
// timestamp. Reads run newest-first against the index and are reversed
// before returning.
func (s *Store) QueryTelemetry(ctx context.Context, deviceID string, limit int64) ([]models.TelemetrySample, error) {
	if limit <= 0 {
		limit = 100
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "ts", Value: -1}}).
		SetLimit(limit).
		SetProjection(bson.M{"_id": 0})
	cur, err := s.telemetry.Find(ctx, bson.M{"deviceId": deviceID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry for %s: %w", deviceID, err)
	}

	var out []models.TelemetrySample
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode telemetry for %s: %w", deviceID, err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// InsertAlert persists one alert record.
func (s *Store) InsertAlert(ctx context.Context, rec *models.AlertRecord) error {
	if _, err := s.alerts.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// ListDeviceIDs returns the ids of every device ever seen.
func (s *Store) ListDeviceIDs(ctx context.Context) ([]string, error) {
	cur, err := s.devices.Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode device ids: %w", err)
	}

	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
