package models

import "testing"

func valid() TelemetrySample {
	return TelemetrySample{
		DeviceID:    "d1",
		TS:          "2024-01-01T00:00:00Z",
		Temperature: 25,
		Humidity:    50,
		Battery:     90,
		Status:      "OK",
	}
}

func TestValidateAcceptsCompleteSample(t *testing.T) {
	s := valid()
	if err := s.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateAcceptsOffsetTimestamps(t *testing.T) {
	s := valid()
	s.TS = "2024-06-01T12:30:00+02:00"
	if err := s.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := map[string]func(*TelemetrySample){
		"missing deviceId": func(s *TelemetrySample) { s.DeviceID = "" },
		"missing ts":       func(s *TelemetrySample) { s.TS = "" },
		"unparseable ts":   func(s *TelemetrySample) { s.TS = "yesterday" },
		"battery negative": func(s *TelemetrySample) { s.Battery = -1 },
		"battery over 100": func(s *TelemetrySample) { s.Battery = 101 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			s := valid()
			mutate(&s)
			if err := s.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
