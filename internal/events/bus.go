package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system.
// Progress/log types and failure/alert types are published under
// distinct names so consumers can subscribe to what they need.
type EventType string

const (
	EventBotLog          EventType = "bot_log"
	EventSystemError     EventType = "system_error"
	EventPositionUpdate  EventType = "position_update"
	EventPositionClosed  EventType = "position_closed"
	EventPriceUpdate     EventType = "price_update"
	EventBotStatusUpdate EventType = "bot_status_update"
)

// Event represents a single system event.
type Event struct {
	Type      EventType              `json:"type"`
	UserID    string                 `json:"userId,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events.
type Subscriber func(Event)

// Bus manages event publishing and subscriptions.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType][]Subscriber),
	}
}

// Subscribe registers a subscriber for a specific event type.
func (b *Bus) Subscribe(eventType EventType, subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events.
func (b *Bus) SubscribeAll(subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.allSubs = append(b.allSubs, subscriber)
}

// Publish sends an event to all matching subscribers. Each subscriber
// runs in its own goroutine so a slow consumer never blocks the
// publisher.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if subs, ok := b.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}
	for _, sub := range b.allSubs {
		go sub(event)
	}
}

// PublishBotLog publishes a bot log event.
func (b *Bus) PublishBotLog(userID, level, message, symbol string, data map[string]interface{}) {
	payload := map[string]interface{}{
		"level":   level,
		"message": message,
	}
	if symbol != "" {
		payload["symbol"] = symbol
	}
	for k, v := range data {
		payload[k] = v
	}
	b.Publish(Event{Type: EventBotLog, UserID: userID, Data: payload})
}

// PublishSystemError publishes a system error event.
func (b *Bus) PublishSystemError(userID, title, source, message string) {
	b.Publish(Event{
		Type:   EventSystemError,
		UserID: userID,
		Data: map[string]interface{}{
			"title":   title,
			"source":  source,
			"message": message,
		},
	})
}

// PublishPositionUpdate publishes a position update event.
func (b *Bus) PublishPositionUpdate(userID string, position interface{}) {
	b.Publish(Event{
		Type:   EventPositionUpdate,
		UserID: userID,
		Data:   map[string]interface{}{"position": position},
	})
}

// PublishPositionClosed publishes a position closed event.
func (b *Bus) PublishPositionClosed(userID string, position interface{}, reason string) {
	b.Publish(Event{
		Type:   EventPositionClosed,
		UserID: userID,
		Data: map[string]interface{}{
			"position": position,
			"reason":   reason,
		},
	})
}

// PublishPriceUpdate publishes a price update event.
func (b *Bus) PublishPriceUpdate(symbol string, price float64) {
	b.Publish(Event{
		Type: EventPriceUpdate,
		Data: map[string]interface{}{
			"symbol": symbol,
			"price":  price,
		},
	})
}

// PublishBotStatus publishes a bot status update event.
func (b *Bus) PublishBotStatus(userID, botType, status string) {
	b.Publish(Event{
		Type:   EventBotStatusUpdate,
		UserID: userID,
		Data: map[string]interface{}{
			"botType": botType,
			"status":  status,
		},
	})
}
