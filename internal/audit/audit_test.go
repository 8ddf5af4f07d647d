package audit

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

type captureWriter struct {
	events []*Event
}

func (w *captureWriter) WriteEvent(event *Event) error {
	w.events = append(w.events, event)
	return nil
}

func TestLogger_LogCrypto(t *testing.T) {
	logger := NewLogger(100, &captureWriter{})

	logger.LogCrypto(EventTypeEncrypt, "reports/q3.pdf", true, nil, 100*time.Millisecond)

	events := logger.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	event := events[0]
	if event.EventType != EventTypeEncrypt {
		t.Fatalf("expected event type %s, got %s", EventTypeEncrypt, event.EventType)
	}
	if event.Key != "reports/q3.pdf" {
		t.Fatalf("expected key reports/q3.pdf, got %s", event.Key)
	}
	if !event.Success {
		t.Fatal("expected success to be true")
	}
}

func TestLogger_FailedDecryptBecomesAuthFailure(t *testing.T) {
	logger := NewLogger(100, &captureWriter{})

	logger.LogCrypto(EventTypeDecrypt, "data/object.bin", false, errors.New("frame authentication failed"), 10*time.Millisecond)

	events := logger.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].EventType != EventTypeAuthFailure {
		t.Fatalf("expected auth_failure, got %s", events[0].EventType)
	}
	if events[0].Error == "" {
		t.Fatal("expected error to be recorded")
	}
}

func TestLogger_LogAccess(t *testing.T) {
	writer := &captureWriter{}
	logger := NewLogger(100, writer)

	logger.LogAccess("get_object", "data/object.bin", "bytes=0-99", "203.0.113.7", "req-1", true, nil, 5*time.Millisecond)

	if len(writer.events) != 1 {
		t.Fatalf("expected writer to see 1 event, got %d", len(writer.events))
	}
	event := writer.events[0]
	if event.EventType != EventTypeAccess || event.Operation != "get_object" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.Range != "bytes=0-99" {
		t.Fatalf("expected range to be recorded, got %q", event.Range)
	}
}

func TestLogger_MaxEvents(t *testing.T) {
	logger := NewLogger(3, &captureWriter{})

	for i := 0; i < 10; i++ {
		logger.LogAccess("get_object", fmt.Sprintf("key-%d", i), "", "", "", true, nil, 0)
	}

	events := logger.Events()
	if len(events) != 3 {
		t.Fatalf("expected 3 retained events, got %d", len(events))
	}
	if events[0].Key != "key-7" || events[2].Key != "key-9" {
		t.Fatalf("expected the newest events to be retained, got %s..%s", events[0].Key, events[2].Key)
	}
}
