package models

// Hub message types.
const (
	MessageTelemetry = "telemetry"
	MessageAlert     = "alert"
)

// HubMessage is the envelope broadcast to live subscribers.
type HubMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// TelemetryMessage wraps a sample for broadcast.
func TelemetryMessage(sample *TelemetrySample) HubMessage {
	return HubMessage{Type: MessageTelemetry, Data: sample}
}

// AlertMessage wraps an alert record for broadcast.
func AlertMessage(rec *AlertRecord) HubMessage {
	return HubMessage{Type: MessageAlert, Data: rec}
}
