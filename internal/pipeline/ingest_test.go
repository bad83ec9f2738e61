package pipeline

import (
	"context"
	"fmt"
	"testing"

	"telemetryhub/internal/rules"
	"telemetryhub/pkg/models"
)

// recorder captures every collaborator call in order so tests can assert
// both effects and sequencing.
type recorder struct {
	calls       []string
	insertErr   error
	setErr      error
	broadcasts  []models.HubMessage
	sinkRecords []*models.AlertRecord
	sinkErr     error
}

func (r *recorder) InsertTelemetry(ctx context.Context, s *models.TelemetrySample) error {
	r.calls = append(r.calls, "insertTelemetry")
	return r.insertErr
}

func (r *recorder) InsertAlert(ctx context.Context, rec *models.AlertRecord) error {
	r.calls = append(r.calls, "insertAlert")
	return nil
}

func (r *recorder) SetLatest(ctx context.Context, s *models.TelemetrySample) error {
	r.calls = append(r.calls, "setLatest")
	return r.setErr
}

func (r *recorder) PublishAlert(ctx context.Context, rec *models.AlertRecord) error {
	r.calls = append(r.calls, "publishAlert")
	return nil
}

func (r *recorder) Broadcast(msg models.HubMessage) {
	r.calls = append(r.calls, "broadcast:"+msg.Type)
	r.broadcasts = append(r.broadcasts, msg)
}

func (r *recorder) WriteAlert(rec *models.AlertRecord) error {
	r.calls = append(r.calls, "sink")
	r.sinkRecords = append(r.sinkRecords, rec)
	return r.sinkErr
}

func hotSample() *models.TelemetrySample {
	return &models.TelemetrySample{
		DeviceID:    "d1",
		TS:          "2024-01-01T00:00:00Z",
		Temperature: 85,
		Humidity:    50,
		Battery:     90,
		Status:      "OK",
	}
}

func newTestIngest(r *recorder) *Ingest {
	return NewIngest(r, r, r, []rules.Evaluator{rules.TemperatureThreshold{GT: 80}}, []AlertSink{r})
}

func TestHandleHotSampleFiresAlertThenTelemetry(t *testing.T) {
	r := &recorder{}
	p := newTestIngest(r)

	if err := p.Handle(context.Background(), hotSample()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{
		"insertTelemetry",
		"setLatest",
		"insertAlert",
		"publishAlert",
		"sink",
		"broadcast:alert",
		"broadcast:telemetry",
	}
	if len(r.calls) != len(want) {
		t.Fatalf("unexpected call sequence: %v", r.calls)
	}
	for i := range want {
		if r.calls[i] != want[i] {
			t.Fatalf("call %d: got %s, want %s (full: %v)", i, r.calls[i], want[i], r.calls)
		}
	}

	alert, ok := r.broadcasts[0].Data.(*models.AlertRecord)
	if !ok {
		t.Fatalf("first broadcast is not an alert record: %+v", r.broadcasts[0])
	}
	if alert.Metric != "temperature" || alert.Value != 85 || alert.Severity != models.SeverityHigh {
		t.Fatalf("unexpected alert: %+v", alert)
	}
}

func TestHandleCoolSampleBroadcastsTelemetryOnly(t *testing.T) {
	r := &recorder{}
	p := newTestIngest(r)

	s := hotSample()
	s.Temperature = 70
	if err := p.Handle(context.Background(), s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(r.broadcasts) != 1 || r.broadcasts[0].Type != models.MessageTelemetry {
		t.Fatalf("expected a single telemetry broadcast, got %v", r.calls)
	}
	for _, c := range r.calls {
		if c == "insertAlert" || c == "publishAlert" || c == "sink" {
			t.Fatalf("alert effect without a fired alert: %v", r.calls)
		}
	}
}

func TestHandleValidationFailsClosed(t *testing.T) {
	r := &recorder{}
	p := newTestIngest(r)

	s := hotSample()
	s.DeviceID = ""
	if err := p.Handle(context.Background(), s); err == nil {
		t.Fatalf("expected validation error")
	}
	if len(r.calls) != 0 {
		t.Fatalf("validation failure must prevent all effects, got %v", r.calls)
	}
}

func TestHandlePersistFailureStopsDispatch(t *testing.T) {
	r := &recorder{insertErr: fmt.Errorf("store down")}
	p := newTestIngest(r)

	if err := p.Handle(context.Background(), hotSample()); err == nil {
		t.Fatalf("expected persistence error")
	}
	if len(r.broadcasts) != 0 {
		t.Fatalf("nothing may be broadcast for an unstored sample: %v", r.calls)
	}
}

func TestHandleSinkFailureDoesNotBlockBroadcast(t *testing.T) {
	r := &recorder{sinkErr: fmt.Errorf("webhook 500")}
	p := newTestIngest(r)

	if err := p.Handle(context.Background(), hotSample()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := r.broadcasts; len(got) != 2 || got[0].Type != models.MessageAlert || got[1].Type != models.MessageTelemetry {
		t.Fatalf("sink failure changed broadcast behavior: %v", r.calls)
	}
}

func TestHandleMultipleEvaluators(t *testing.T) {
	r := &recorder{}
	p := NewIngest(r, r, r, []rules.Evaluator{
		rules.TemperatureThreshold{GT: 80},
		rules.BatteryLow{Below: 95},
	}, nil)

	if err := p.Handle(context.Background(), hotSample()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var alerts, telemetry int
	for _, msg := range r.broadcasts {
		switch msg.Type {
		case models.MessageAlert:
			alerts++
		case models.MessageTelemetry:
			telemetry++
		}
	}
	if alerts != 2 || telemetry != 1 {
		t.Fatalf("expected 2 alert and 1 telemetry broadcasts, got %d/%d", alerts, telemetry)
	}
	if r.broadcasts[len(r.broadcasts)-1].Type != models.MessageTelemetry {
		t.Fatalf("telemetry broadcast must come last: %v", r.calls)
	}
}
