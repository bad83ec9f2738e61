package models

import (
	"fmt"
	"strings"
	"time"
)

// TelemetrySample is one reading reported by a field device. The JSON field
// names are the wire format between the device publisher, the stream, and
// the document store; they must not change.
type TelemetrySample struct {
	DeviceID    string            `json:"deviceId" bson:"deviceId"`
	TS          string            `json:"ts" bson:"ts"`
	Temperature float64           `json:"temperature" bson:"temperature"`
	Humidity    float64           `json:"humidity" bson:"humidity"`
	Battery     int               `json:"battery" bson:"battery"`
	Status      string            `json:"status" bson:"status"`
	Props       map[string]string `json:"props,omitempty" bson:"props,omitempty"`
}

// Validate checks the fields required before a sample may enter the pipeline.
func (s *TelemetrySample) Validate() error {
	if s == nil {
		return fmt.Errorf("nil sample")
	}
	if strings.TrimSpace(s.DeviceID) == "" {
		return fmt.Errorf("missing deviceId")
	}
	if strings.TrimSpace(s.TS) == "" {
		return fmt.Errorf("missing ts")
	}
	if _, err := time.Parse(time.RFC3339, s.TS); err != nil {
		return fmt.Errorf("bad ts %q: %w", s.TS, err)
	}
	if s.Battery < 0 || s.Battery > 100 {
		return fmt.Errorf("battery out of range: %d", s.Battery)
	}
	return nil
}

// Time returns the parsed sample timestamp.
func (s *TelemetrySample) Time() (time.Time, error) {
	return time.Parse(time.RFC3339, s.TS)
}
