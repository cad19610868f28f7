package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus(t *testing.T) {
	t.Run("subscribers receive published events", func(t *testing.T) {
		bus := NewBus()
		defer bus.Close()
		ch := bus.Subscribe()

		bus.Publish(Event{
			Topic:   TopicKnowledgeAdd,
			Payload: map[string]interface{}{"type": "triple", "id": "tpl-1"},
		})

		select {
		case event := <-ch:
			assert.Equal(t, TopicKnowledgeAdd, event.Topic)
			assert.Equal(t, "tpl-1", event.Payload["id"])
			assert.False(t, event.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("no event received")
		}
	})

	t.Run("every subscriber gets every event", func(t *testing.T) {
		bus := NewBus()
		defer bus.Close()
		first := bus.Subscribe()
		second := bus.Subscribe()

		bus.Publish(Event{Topic: TopicInfer})

		for _, ch := range []<-chan Event{first, second} {
			select {
			case event := <-ch:
				assert.Equal(t, TopicInfer, event.Topic)
			case <-time.After(time.Second):
				t.Fatal("subscriber missed the event")
			}
		}
	})

	t.Run("publish never blocks on a full subscriber", func(t *testing.T) {
		bus := NewBus()
		defer bus.Close()
		bus.Subscribe() // never drained

		done := make(chan struct{})
		go func() {
			for i := 0; i < 1000; i++ {
				bus.Publish(Event{Topic: TopicValidate})
			}
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("publish blocked on a full subscriber")
		}
	})

	t.Run("unsubscribe closes the channel", func(t *testing.T) {
		bus := NewBus()
		defer bus.Close()
		ch := bus.Subscribe()

		bus.Unsubscribe(ch)

		_, open := <-ch
		assert.False(t, open)
	})

	t.Run("publish on a nil bus is a no-op", func(t *testing.T) {
		var bus *Bus
		assert.NotPanics(t, func() {
			bus.Publish(Event{Topic: TopicKnowledgeAdd})
		})
	})

	t.Run("close closes all subscriber channels", func(t *testing.T) {
		bus := NewBus()
		ch := bus.Subscribe()
		bus.Close()

		_, open := <-ch
		assert.False(t, open)
	})
}

func TestEmit(t *testing.T) {
	t.Run("nil publisher is a no-op", func(t *testing.T) {
		assert.NotPanics(t, func() {
			Emit(nil, TopicKnowledgeAdd, nil)
		})
	})

	t.Run("typed nil bus is still a no-op", func(t *testing.T) {
		var bus *Bus
		assert.NotPanics(t, func() {
			Emit(bus, TopicKnowledgeAdd, nil)
		})
	})

	t.Run("delivers topic and payload", func(t *testing.T) {
		bus := NewBus()
		defer bus.Close()
		ch := bus.Subscribe()

		Emit(bus, TopicRuleInduced, map[string]interface{}{"id": "rule-1"})

		event := <-ch
		require.Equal(t, TopicRuleInduced, event.Topic)
		assert.Equal(t, "rule-1", event.Payload["id"])
	})
}
