package rules

import (
	"fmt"

	"github.com/google/uuid"

	"telemetryhub/pkg/models"
)

// BatteryLow fires when the sample battery level drops strictly below the
// configured floor.
type BatteryLow struct {
	Below int
}

// Evaluate returns an active medium-severity alert when the battery is low.
func (r BatteryLow) Evaluate(s *models.TelemetrySample) *models.AlertRecord {
	if s == nil || s.Battery >= r.Below {
		return nil
	}
	return &models.AlertRecord{
		AlertID:  uuid.NewString(),
		DeviceID: s.DeviceID,
		TS:       s.TS,
		Type:     "threshold",
		Metric:   "battery",
		Value:    float64(s.Battery),
		Rule:     fmt.Sprintf("battery_lt_%d", r.Below),
		Severity: models.SeverityMedium,
		State:    models.StateActive,
	}
}
