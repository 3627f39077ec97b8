package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Event types published by the reservation core.
const (
	ReservationCreated       = "reservation.created"
	ReservationStatusChanged = "reservation.status_changed"
	ReservationRescheduled   = "reservation.rescheduled"
	SyncBatchMigrated        = "sync.batch_migrated"
	SyncDone                 = "sync.done"
	SyncStalled              = "sync.stalled"
)

// AllTypes lists every event type, in publication-independent order.
var AllTypes = []string{
	ReservationCreated,
	ReservationStatusChanged,
	ReservationRescheduled,
	SyncBatchMigrated,
	SyncDone,
	SyncStalled,
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Key       string
	Payload   []byte
	CreatedAt time.Time
}

// Keyed payloads choose the partition key of their event.
type Keyed interface {
	EventKey() string
}

// ReservationEvent is the payload of reservation.* events.
type ReservationEvent struct {
	ReservationID  string `json:"reservation_id"`
	TenantID       string `json:"tenant_id"`
	OrgID          string `json:"org_id"`
	StaffID        string `json:"staff_id,omitempty"`
	Status         string `json:"status"`
	PreviousStatus string `json:"previous_status,omitempty"`
	StartTimeUnix  int64  `json:"start_time_unix"`
	EndTimeUnix    int64  `json:"end_time_unix"`
}

func (e ReservationEvent) EventKey() string { return e.TenantID + "/" + e.ReservationID }

// SyncEvent is the payload of sync.* events.
type SyncEvent struct {
	RunID    string `json:"run_id"`
	Cursor   string `json:"cursor,omitempty"`
	Records  int    `json:"records"`
	Migrated int    `json:"migrated"`
	Attempt  int    `json:"attempt,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (e SyncEvent) EventKey() string { return e.RunID }

// EventHandler reacts to an event.
type EventHandler func(event Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	seq         atomic.Int64
	logger      zerolog.Logger
}

// NewEventBus constructs an empty bus.
func NewEventBus(logger *zerolog.Logger) *EventBus {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "events").Logger()
	}
	return &EventBus{subscribers: make(map[string][]EventHandler), logger: l}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.ID == 0 {
		event.ID = b.seq.Add(1)
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	// Handlers run synchronously; a failing handler does not stop the others.
	for _, handler := range handlers {
		if err := handler(event); err != nil {
			b.logger.Warn().Err(err).Str("type", event.Type).Int64("event_id", event.ID).Msg("event handler failed")
		}
	}
}

// PublishJSON encodes payload and publishes it under eventType.
func (b *EventBus) PublishJSON(eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	event := Event{Type: eventType, Payload: data}
	if k, ok := payload.(Keyed); ok {
		event.Key = k.EventKey()
	}
	b.Publish(event)
	return nil
}
