package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventAppointmentCreated   = "appointment_created"
	EventAppointmentConfirmed = "appointment_confirmed"
	EventAppointmentCancelled = "appointment_cancelled"
	EventAppointmentExpired   = "appointment_expired"
	EventAppointmentNoShow    = "appointment_no_show"
	EventAppointmentCompleted = "appointment_completed"
	EventTravelUpdated        = "appointment_travel_updated"
	EventTravelConflict       = "appointment_travel_conflict"
	EventClientBlocked        = "client_blocked"
	EventClientUnblocked      = "client_unblocked"
)

// TransitionEvents maps a target status to the event announcing it.
var TransitionEvents = map[string]string{
	"pending":   EventAppointmentCreated,
	"confirmed": EventAppointmentConfirmed,
	"cancelled": EventAppointmentCancelled,
	"expired":   EventAppointmentExpired,
	"no_show":   EventAppointmentNoShow,
	"completed": EventAppointmentCompleted,
}

// AppointmentEventPayload describes the minimal appointment snapshot for
// notification subscribers.
type AppointmentEventPayload struct {
	AppointmentID string    `json:"appointment_id"`
	OwnerID       string    `json:"owner_id"`
	ClientName    string    `json:"client_name,omitempty"`
	Phone         string    `json:"phone"`
	Status        string    `json:"status"`
	StartAt       time.Time `json:"start_at"`
	ExpiresAt     time.Time `json:"expires_at,omitempty"`
	TravelMinutes int       `json:"travel_minutes"`
	Provisional   bool      `json:"travel_provisional,omitempty"`
	ChangedBy     string    `json:"changed_by,omitempty"`
}

// ClientBlockPayload announces a block list change.
type ClientBlockPayload struct {
	OwnerID string `json:"owner_id"`
	Phone   string `json:"phone"`
	Reason  string `json:"reason,omitempty"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
