package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventSessionCreated      EventType = "session.created"
	EventSessionDeleted      EventType = "session.deleted"
	EventSessionReaped       EventType = "session.reaped"
	EventRouteSelected       EventType = "route.selected"
	EventCapabilityInvoked   EventType = "capability.invoked"
	EventCapabilityFailed    EventType = "capability.failed"
	EventTurnCompleted       EventType = "turn.completed"
	EventTurnInterrupted     EventType = "turn.interrupted"
	EventStreamRejected      EventType = "stream.rejected"
	EventOracleError         EventType = "oracle.error"
	EventConnectionOpened    EventType = "connection.opened"
	EventConnectionClosed    EventType = "connection.closed"
	EventChatRequestReceived EventType = "chat.received"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEvent builds an event, marshalling payload when it is non-nil.
func NewEvent(t EventType, sessionID string, payload any) Event {
	ev := Event{Type: t, Timestamp: time.Now(), SessionID: sessionID}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			ev.Payload = data
		}
	}
	return ev
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
