package models

// Alert severities.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Alert states. Evaluators only emit active records; a resolution would be
// a new record, never an update in place.
const (
	StateActive   = "active"
	StateResolved = "resolved"
)

// AlertRecord describes one rule firing for one sample. Immutable once
// created; persisted and broadcast but never updated.
type AlertRecord struct {
	AlertID  string  `json:"alertId" bson:"alertId"`
	DeviceID string  `json:"deviceId" bson:"deviceId"`
	TS       string  `json:"ts" bson:"ts"`
	Type     string  `json:"type" bson:"type"`
	Metric   string  `json:"metric" bson:"metric"`
	Value    float64 `json:"value" bson:"value"`
	Rule     string  `json:"rule" bson:"rule"`
	Severity string  `json:"severity" bson:"severity"`
	State    string  `json:"state" bson:"state"`
}
