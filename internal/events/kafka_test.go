package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestKafkaPublisher_KeysByRide(t *testing.T) {
	w := &recordingWriter{}
	p := &KafkaPublisher{writer: w, timeout: time.Second}

	err := p.Publish(context.Background(), Event{Type: OfferResolved, RideID: "r1", DriverID: "d1", At: time.Now()})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "r1" {
		t.Fatalf("expected key r1, got %q", w.msgs[0].Key)
	}
	var got Event
	if err := json.Unmarshal(w.msgs[0].Value, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type != OfferResolved || got.DriverID != "d1" {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	boom := errors.New("broker down")
	p := &KafkaPublisher{writer: &recordingWriter{err: boom}, timeout: time.Second}
	if err := p.Publish(context.Background(), Event{Type: RideCreated, RideID: "r1"}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped broker error, got %v", err)
	}
}
