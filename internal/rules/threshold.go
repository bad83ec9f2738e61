package rules

import (
	"fmt"

	"github.com/google/uuid"

	"telemetryhub/pkg/models"
)

// TemperatureThreshold fires when the sample temperature strictly exceeds
// GT. Equality never fires.
type TemperatureThreshold struct {
	GT float64
}

// Evaluate returns an active high-severity alert when the threshold is
// exceeded. The rule identifier embeds the threshold so downstream consumers
// can tell rule instances apart.
func (r TemperatureThreshold) Evaluate(s *models.TelemetrySample) *models.AlertRecord {
	if s == nil || s.Temperature <= r.GT {
		return nil
	}
	return &models.AlertRecord{
		AlertID:  uuid.NewString(),
		DeviceID: s.DeviceID,
		TS:       s.TS,
		Type:     "threshold",
		Metric:   "temperature",
		Value:    s.Temperature,
		Rule:     fmt.Sprintf("temp_gt_%g", r.GT),
		Severity: models.SeverityHigh,
		State:    models.StateActive,
	}
}
