package events

import (
	"sync"
	"testing"
	"time"
)

func TestSubscribeReceivesMatchingType(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	var got []Event
	done := make(chan struct{}, 1)

	bus.Subscribe(EventPositionClosed, func(e Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
		done <- struct{}{}
	})

	bus.PublishPriceUpdate("BTCUSDT", 50000)
	bus.PublishPositionClosed("user-1", map[string]interface{}{"id": "p1"}, "Take profit")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if got[0].Type != EventPositionClosed {
		t.Errorf("expected type %s, got %s", EventPositionClosed, got[0].Type)
	}
	if got[0].UserID != "user-1" {
		t.Errorf("expected userId user-1, got %s", got[0].UserID)
	}
	if got[0].Data["reason"] != "Take profit" {
		t.Errorf("expected reason in payload, got %v", got[0].Data)
	}
}

func TestSubscribeAllReceivesEverything(t *testing.T) {
	bus := NewBus()

	var wg sync.WaitGroup
	wg.Add(3)
	var mu sync.Mutex
	count := 0

	bus.SubscribeAll(func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
		wg.Done()
	})

	bus.PublishBotLog("u", "INFO", "cycle start", "", nil)
	bus.PublishBotStatus("u", "spot", "Running")
	bus.PublishSystemError("u", "Exchange rejected", "bybit", "retCode 10001")

	waited := make(chan struct{})
	go func() { wg.Wait(); close(waited) }()
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("catch-all subscriber missed events")
	}

	mu.Lock()
	defer mu.Unlock()
	if count != 3 {
		t.Errorf("expected 3 events, got %d", count)
	}
}

func TestPublishSetsTimestamp(t *testing.T) {
	bus := NewBus()

	done := make(chan Event, 1)
	bus.Subscribe(EventBotLog, func(e Event) { done <- e })

	bus.Publish(Event{Type: EventBotLog, Data: map[string]interface{}{"message": "m"}})

	select {
	case e := <-done:
		if e.Timestamp.IsZero() {
			t.Error("expected timestamp to be set on publish")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never invoked")
	}
}
