// Package rules holds the alert rule evaluators applied to each sample.
package rules

import "telemetryhub/pkg/models"

// Evaluator maps one telemetry sample to at most one alert record. Stateless
// evaluators share nothing between calls; a stateful evaluator must own its
// own per-device windowed state.
type Evaluator interface {
	Evaluate(sample *models.TelemetrySample) *models.AlertRecord
}

// NoopEvaluator never fires.
type NoopEvaluator struct{}

// Evaluate returns no alert.
func (NoopEvaluator) Evaluate(sample *models.TelemetrySample) *models.AlertRecord {
	return nil
}
