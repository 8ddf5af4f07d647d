// Package audit keeps a bounded in-memory trail of security-relevant
// gateway events and mirrors them to the structured log.
package audit

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// EventType classifies an audit event.
type EventType string

const (
	// EventTypeEncrypt is an object encryption on upload.
	EventTypeEncrypt EventType = "encrypt"
	// EventTypeDecrypt is an object decryption on download.
	EventTypeDecrypt EventType = "decrypt"
	// EventTypeAuthFailure is a rejected decryption: tampered ciphertext
	// or a sealed key unsealed with the wrong KEK or path.
	EventTypeAuthFailure EventType = "auth_failure"
	// EventTypeAccess is any other object access.
	EventTypeAccess EventType = "access"
)

// Event is a single audit record.
type Event struct {
	Timestamp time.Time     `json:"timestamp"`
	EventType EventType     `json:"event_type"`
	Operation string        `json:"operation"`
	Key       string        `json:"key,omitempty"`
	Range     string        `json:"range,omitempty"`
	ClientIP  string        `json:"client_ip,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration_ms"`
}

// EventWriter receives every event as it is logged.
type EventWriter interface {
	WriteEvent(event *Event) error
}

// Logger records audit events.
type Logger struct {
	mu        sync.Mutex
	events    []*Event
	maxEvents int
	writer    EventWriter
}

// NewLogger creates an audit logger keeping at most maxEvents in memory.
// A nil writer mirrors events to the structured log.
func NewLogger(maxEvents int, writer EventWriter) *Logger {
	if writer == nil {
		writer = &logWriter{}
	}
	return &Logger{
		events:    make([]*Event, 0, maxEvents),
		maxEvents: maxEvents,
		writer:    writer,
	}
}

// Log records one event.
func (l *Logger) Log(event *Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// A failing writer must not block the request path.
	_ = l.writer.WriteEvent(event)

	l.events = append(l.events, event)
	if len(l.events) > l.maxEvents {
		l.events = l.events[len(l.events)-l.maxEvents:]
	}
}

// LogCrypto records an encryption or decryption of an object. A failed
// decryption is recorded as an authentication failure.
func (l *Logger) LogCrypto(eventType EventType, key string, success bool, err error, duration time.Duration) {
	if eventType == EventTypeDecrypt && !success {
		eventType = EventTypeAuthFailure
	}
	event := &Event{
		Timestamp: time.Now(),
		EventType: eventType,
		Operation: string(eventType),
		Key:       key,
		Success:   success,
		Duration:  duration,
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

// LogAccess records an object access.
func (l *Logger) LogAccess(operation, key, byteRange, clientIP, requestID string, success bool, err error, duration time.Duration) {
	event := &Event{
		Timestamp: time.Now(),
		EventType: EventTypeAccess,
		Operation: operation,
		Key:       key,
		Range:     byteRange,
		ClientIP:  clientIP,
		RequestID: requestID,
		Success:   success,
		Duration:  duration,
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

// Events returns a copy of the retained events, oldest first.
func (l *Logger) Events() []*Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := make([]*Event, len(l.events))
	copy(events, l.events)
	return events
}

// logWriter mirrors audit events to the structured log.
type logWriter struct{}

func (w *logWriter) WriteEvent(event *Event) error {
	logrus.WithFields(logrus.Fields{
		"audit":      true,
		"event_type": event.EventType,
		"operation":  event.Operation,
		"key":        event.Key,
		"range":      event.Range,
		"client_ip":  event.ClientIP,
		"request_id": event.RequestID,
		"success":    event.Success,
		"error":      event.Error,
		"duration":   event.Duration.String(),
	}).Info("audit event")
	return nil
}
