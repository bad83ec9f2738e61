// Package pipeline orchestrates ingestion: validate, persist, cache,
// evaluate rules, and fan out.
package pipeline

import (
	"context"
	"fmt"

	"telemetryhub/internal/logger"
	"telemetryhub/internal/observability"
	"telemetryhub/internal/rules"
	"telemetryhub/pkg/models"
)

// TelemetryStore persists samples and alerts and tracks device lifetimes.
type TelemetryStore interface {
	InsertTelemetry(ctx context.Context, sample *models.TelemetrySample) error
	InsertAlert(ctx context.Context, rec *models.AlertRecord) error
}

// LatestCache keeps the most recent sample per device and carries the
// alert-stream channel.
type LatestCache interface {
	SetLatest(ctx context.Context, sample *models.TelemetrySample) error
	PublishAlert(ctx context.Context, rec *models.AlertRecord) error
}

// Broadcaster fans messages out to live observers.
type Broadcaster interface {
	Broadcast(msg models.HubMessage)
}

// AlertSink receives every fired alert record (audit log, webhook). Sink
// failures are logged and never abort the dispatch.
type AlertSink interface {
	WriteAlert(rec *models.AlertRecord) error
}

// Ingest processes validated samples end to end. Invocations are sequential
// per adapter instance; Ingest keeps no per-call state.
type Ingest struct {
	store      TelemetryStore
	cache      LatestCache
	hub        Broadcaster
	evaluators []rules.Evaluator
	sinks      []AlertSink
}

// NewIngest composes the pipeline from its collaborators.
func NewIngest(store TelemetryStore, cache LatestCache, hub Broadcaster, evaluators []rules.Evaluator, sinks []AlertSink) *Ingest {
	return &Ingest{
		store:      store,
		cache:      cache,
		hub:        hub,
		evaluators: evaluators,
		sinks:      sinks,
	}
}

// Handle runs one sample through the pipeline. Persistence and the cache
// update happen before any evaluation or broadcast, so a live subscriber
// receiving a message can already query the record. A validation or
// persistence failure stops the dispatch and is reported to the caller;
// nothing is broadcast for a sample that was not stored.
func (p *Ingest) Handle(ctx context.Context, sample *models.TelemetrySample) error {
	if err := sample.Validate(); err != nil {
		return fmt.Errorf("invalid sample: %w", err)
	}

	if err := p.store.InsertTelemetry(ctx, sample); err != nil {
		return fmt.Errorf("failed to persist telemetry for %s: %w", sample.DeviceID, err)
	}
	if err := p.cache.SetLatest(ctx, sample); err != nil {
		return fmt.Errorf("failed to update freshness cache for %s: %w", sample.DeviceID, err)
	}

	for _, ev := range p.evaluators {
		rec := ev.Evaluate(sample)
		if rec == nil {
			continue
		}
		observability.AlertsFired.Inc()
		logger.Infof("Alert fired (device=%s rule=%s value=%v)", rec.DeviceID, rec.Rule, rec.Value)

		if err := p.store.InsertAlert(ctx, rec); err != nil {
			logger.Errorf("Failed to persist alert %s: %v", rec.AlertID, err)
		}
		if err := p.cache.PublishAlert(ctx, rec); err != nil {
			logger.Errorf("Failed to publish alert %s: %v", rec.AlertID, err)
		}
		for _, sink := range p.sinks {
			if err := sink.WriteAlert(rec); err != nil {
				logger.Errorf("Failed to write alert %s to sink: %v", rec.AlertID, err)
			}
		}
		p.hub.Broadcast(models.AlertMessage(rec))
	}

	p.hub.Broadcast(models.TelemetryMessage(sample))
	return nil
}
