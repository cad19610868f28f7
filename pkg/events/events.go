// Package events provides the publish/subscribe sink Muninn notifies.
//
// The knowledge store and rule engine publish fire-and-forget notifications;
// no subscriber contract is enforced by the core. Publishing never blocks:
// a subscriber that falls behind loses events rather than stalling a
// mutation path.
//
// Topics:
//   - knowledge:add          {type: entity|triple, id}
//   - knowledge:infer        {inputFacts, inferredFacts}
//   - knowledge:validate     {valid, violations}
//   - knowledge:rule:induced {id, rule}
//
// Example Usage:
//
//	bus := events.NewBus()
//	ch := bus.Subscribe()
//	go func() {
//		for ev := range ch {
//			fmt.Printf("%s: %v\n", ev.Topic, ev.Payload)
//		}
//	}()
//
//	bus.Publish(events.Event{
//		Topic:   events.TopicKnowledgeAdd,
//		Payload: map[string]interface{}{"type": "triple", "id": id},
//	})
package events

import (
	"reflect"
	"sync"
	"time"
)

// Topic names published by the core.
const (
	TopicKnowledgeAdd = "knowledge:add"
	TopicInfer        = "knowledge:infer"
	TopicValidate     = "knowledge:validate"
	TopicRuleInduced  = "knowledge:rule:induced"
)

// Event is a single notification.
type Event struct {
	Topic     string
	Timestamp time.Time
	Payload   map[string]interface{}
}

// Bus dispatches events to subscriber channels.
//
// Subscriber channels are buffered; Publish drops events for channels whose
// buffer is full instead of blocking the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers []chan Event
}

// NewBus creates an event bus with no subscribers.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe returns a buffered channel that receives every published event.
func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subscribers = append(b.subscribers, ch)
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	if ch == nil {
		return
	}
	target := reflect.ValueOf(ch).Pointer()

	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subscribers {
		if reflect.ValueOf(sub).Pointer() == target {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			close(sub)
			return
		}
	}
}

// Publish delivers an event to all subscribers without blocking.
// A zero Timestamp is filled in with the current time.
// Publish on a nil bus is a no-op, so components can treat the bus as optional.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full; drop rather than stall the mutation path.
		}
	}
}

// Close closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subscribers {
		close(sub)
	}
	b.subscribers = nil
}

// Publisher is the narrow interface the core components depend on.
// A nil *Bus is a valid no-op publisher via the Emit helper.
type Publisher interface {
	Publish(event Event)
}

// Emit publishes to bus when it is non-nil. Both components treat the bus as
// optional; hosts that do not care about notifications pass nil.
func Emit(bus Publisher, topic string, payload map[string]interface{}) {
	if bus == nil {
		return
	}
	bus.Publish(Event{Topic: topic, Payload: payload})
}
