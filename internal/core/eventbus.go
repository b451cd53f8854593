package core

import "sync"

// EventType defines the type of event being published.
type EventType string

const (
	ClientJoinedEvent    EventType = "ClientJoined"
	ClientLeftEvent      EventType = "ClientLeft"
	ReportDeliveredEvent EventType = "ReportDelivered"
	ReportFailedEvent    EventType = "ReportFailed"
	UplinkChangedEvent   EventType = "UplinkChanged"
	APChangedEvent       EventType = "APChanged"
	ClockSyncedEvent     EventType = "ClockSynced"
)

// AllEvents lists every event type, for subscribers that relay everything.
var AllEvents = []EventType{
	ClientJoinedEvent,
	ClientLeftEvent,
	ReportDeliveredEvent,
	ReportFailedEvent,
	UplinkChangedEvent,
	APChangedEvent,
	ClockSyncedEvent,
}

// Event is the envelope for all system events.
type Event struct {
	Type    EventType
	Payload interface{}
}

// ClientPayload accompanies ClientJoined and ClientLeft.
type ClientPayload struct {
	MAC    string `json:"mac"`
	Signal int    `json:"signal,omitempty"`
	Count  int    `json:"count"`
}

// ReportPayload accompanies ReportDelivered and ReportFailed.
type ReportPayload struct {
	MAC            string `json:"mac"`
	VerificationID string `json:"verificationId,omitempty"`
	StudentName    string `json:"studentName,omitempty"`
	Attempts       int    `json:"attempts"`
	Error          string `json:"error,omitempty"`
}

// LinkPayload accompanies UplinkChanged and APChanged.
type LinkPayload struct {
	Up    bool   `json:"up"`
	Error string `json:"error,omitempty"`
}

// Subscriber is a channel that receives events.
type Subscriber chan Event

// EventBus handles pub/sub messaging for the application.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
}

// NewEventBus creates a new EventBus.
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
	}
}

// Subscribe returns a channel that receives events of the given types.
func (eb *EventBus) Subscribe(eventTypes ...EventType) Subscriber {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(Subscriber, 100) // Buffered channel so publishers don't block
	for _, t := range eventTypes {
		eb.subscribers[t] = append(eb.subscribers[t], ch)
	}

	return ch
}

// Unsubscribe removes a subscriber channel.
func (eb *EventBus) Unsubscribe(ch Subscriber, eventTypes ...EventType) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, t := range eventTypes {
		subs := eb.subscribers[t]
		for i, sub := range subs {
			if sub == ch {
				eb.subscribers[t] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
	}
}

// Publish distributes an event to all active subscribers for its type.
// A subscriber whose buffer is full misses the event.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, sub := range eb.subscribers[event.Type] {
		select {
		case sub <- event:
		default:
		}
	}
}
