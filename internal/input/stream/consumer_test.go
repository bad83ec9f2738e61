package stream

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"

	"telemetryhub/pkg/models"
)

const goodBody = `{"ts":"2024-01-01T00:00:00Z","temperature":25,"humidity":50,"battery":90,"status":"OK"}`

func TestDecodeEntryInjectsIdentityFromMetadata(t *testing.T) {
	for name, id := range map[string]interface{}{
		"text":  "d1",
		"bytes": []byte("d1"),
	} {
		t.Run(name, func(t *testing.T) {
			sample, deviceID, err := decodeEntry(map[string]interface{}{
				"device_id": id,
				"body":      goodBody,
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if deviceID != "d1" {
				t.Fatalf("unexpected metadata identity: %q", deviceID)
			}
			if sample.DeviceID != "d1" {
				t.Fatalf("identity not injected: %+v", sample)
			}
		})
	}
}

func TestDecodeEntryKeepsBodyIdentity(t *testing.T) {
	body := `{"deviceId":"from-body","ts":"2024-01-01T00:00:00Z","temperature":25,"humidity":50,"battery":90,"status":"OK"}`
	sample, _, err := decodeEntry(map[string]interface{}{
		"device_id": "from-meta",
		"body":      body,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sample.DeviceID != "from-body" {
		t.Fatalf("body identity must win, got %q", sample.DeviceID)
	}
}

func TestDecodeEntryReturnsIdentityOnFailure(t *testing.T) {
	_, deviceID, err := decodeEntry(map[string]interface{}{
		"device_id": "d9",
		"body":      "{not json",
	})
	if err == nil {
		t.Fatalf("expected decode error")
	}
	if deviceID != "d9" {
		t.Fatalf("best-known identity lost on failure: %q", deviceID)
	}

	_, _, err = decodeEntry(map[string]interface{}{"device_id": "d9"})
	if err == nil {
		t.Fatalf("expected error for missing body")
	}
}

// fakeStream serves one canned batch, then reports empty reads, and records
// every XAck call.
type fakeStream struct {
	batch    []redis.XStream
	served   atomic.Bool
	ackCalls []ackCall
	ackErr   error
}

type ackCall struct {
	stream string
	ids    []string
}

func (f *fakeStream) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd {
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeStream) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	if f.served.Swap(true) {
		return redis.NewXStreamSliceCmdResult(nil, redis.Nil)
	}
	return redis.NewXStreamSliceCmdResult(f.batch, nil)
}

func (f *fakeStream) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	f.ackCalls = append(f.ackCalls, ackCall{stream: stream, ids: ids})
	return redis.NewIntResult(int64(len(ids)), f.ackErr)
}

func (f *fakeStream) Close() error { return nil }

func entry(id string, values map[string]interface{}) redis.XMessage {
	return redis.XMessage{ID: id, Values: values}
}

func runOneBatch(t *testing.T, fake *fakeStream, handler Handler) {
	t.Helper()
	c := &Consumer{client: fake, cfg: Config{
		Partitions:   []string{"telemetry:0"},
		Group:        "collector",
		Consumer:     "test-1",
		BatchSize:    100,
		BlockTimeout: time.Millisecond,
	}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, handler) }()

	// Let the single batch drain, then stop the loop cooperatively.
	deadline := time.After(2 * time.Second)
	for !fake.served.Load() {
		select {
		case <-deadline:
			t.Fatalf("batch never served")
		case <-time.After(time.Millisecond):
		}
	}
	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunDispatchesBatchThenCheckpointsOnce(t *testing.T) {
	fake := &fakeStream{batch: []redis.XStream{{
		Stream: "telemetry:0",
		Messages: []redis.XMessage{
			entry("1-0", map[string]interface{}{"device_id": "d1", "body": goodBody}),
			entry("2-0", map[string]interface{}{"device_id": "d2", "body": "{broken"}),
			entry("3-0", map[string]interface{}{"device_id": "d3", "body": goodBody}),
		},
	}}}

	var handled []string
	runOneBatch(t, fake, func(ctx context.Context, s *models.TelemetrySample) error {
		handled = append(handled, s.DeviceID)
		return nil
	})

	// The malformed entry is skipped; the rest of the batch still flows.
	if len(handled) != 2 || handled[0] != "d1" || handled[1] != "d3" {
		t.Fatalf("unexpected dispatch set: %v", handled)
	}

	// Checkpoint covers the whole batch, bad entries included, exactly once.
	if len(fake.ackCalls) != 1 {
		t.Fatalf("expected exactly one checkpoint advance, got %d", len(fake.ackCalls))
	}
	ack := fake.ackCalls[0]
	if ack.stream != "telemetry:0" || len(ack.ids) != 3 {
		t.Fatalf("unexpected checkpoint: %+v", ack)
	}
}

func TestRunHandlerErrorDoesNotAbortBatch(t *testing.T) {
	fake := &fakeStream{batch: []redis.XStream{{
		Stream: "telemetry:0",
		Messages: []redis.XMessage{
			entry("1-0", map[string]interface{}{"device_id": "d1", "body": goodBody}),
			entry("2-0", map[string]interface{}{"device_id": "d2", "body": goodBody}),
		},
	}}}

	var handled []string
	runOneBatch(t, fake, func(ctx context.Context, s *models.TelemetrySample) error {
		handled = append(handled, s.DeviceID)
		if s.DeviceID == "d1" {
			return fmt.Errorf("store down")
		}
		return nil
	})

	if len(handled) != 2 {
		t.Fatalf("handler error aborted the batch: %v", handled)
	}
	if len(fake.ackCalls) != 1 {
		t.Fatalf("checkpoint must still advance, got %d calls", len(fake.ackCalls))
	}
}

func TestRunCheckpointFailureIsSwallowed(t *testing.T) {
	fake := &fakeStream{
		ackErr: fmt.Errorf("ack failed"),
		batch: []redis.XStream{{
			Stream: "telemetry:0",
			Messages: []redis.XMessage{
				entry("1-0", map[string]interface{}{"device_id": "d1", "body": goodBody}),
			},
		}},
	}

	runOneBatch(t, fake, func(ctx context.Context, s *models.TelemetrySample) error { return nil })

	if len(fake.ackCalls) != 1 {
		t.Fatalf("expected one checkpoint attempt, got %d", len(fake.ackCalls))
	}
}

func TestNewRequiresGroupAndPartitions(t *testing.T) {
	if _, err := New(Config{Group: "g"}); err == nil {
		t.Fatalf("expected error without partitions")
	}
	if _, err := New(Config{Partitions: []string{"telemetry:0"}}); err == nil {
		t.Fatalf("expected error without group")
	}
}
