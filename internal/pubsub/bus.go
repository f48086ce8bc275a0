// Package pubsub implements the topic-keyed, in-process control-plane
// broadcast bus used for lifecycle and input events (WillAddProcessor,
// DidCreateLink, GraphCompileFailed, ...). It is never used for data flow —
// that is internal/link's job. Grounded directly on the teacher's in-memory
// EventBus: buffered-channel-per-subscriber, non-blocking publish via
// select/default so a slow subscriber cannot stall the publisher.
package pubsub

import (
	"log/slog"
	"sync"
	"time"
)

// Event is one control-plane event. Topic is the event type string
// (e.g. "graph.compile.failed"); Data carries whatever payload the
// publisher chose.
type Event struct {
	Topic string
	Time  time.Time
	Data  interface{}
}

// Bus is an in-process pub/sub broadcast bus.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan Event
	allSubs     []chan Event
	funcSubs    map[string][]func(Event)
	bufferSize  int
	logger      *slog.Logger
}

// NewBus creates a pub/sub bus with a default per-subscriber buffer of 64
// events.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string][]chan Event),
		funcSubs:    make(map[string][]func(Event)),
		bufferSize:  64,
		logger:      slog.Default(),
	}
}

// Subscribe returns a channel receiving events for the given topics; pass no
// topics to receive every event.
func (b *Bus) Subscribe(topics ...string) chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	if len(topics) == 0 {
		b.allSubs = append(b.allSubs, ch)
	} else {
		for _, t := range topics {
			b.subscribers[t] = append(b.subscribers[t], ch)
		}
	}
	return ch
}

// Unsubscribe removes and closes a channel subscription.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for t, subs := range b.subscribers {
		filtered := make([]chan Event, 0, len(subs))
		for _, s := range subs {
			if s != ch {
				filtered = append(filtered, s)
			}
		}
		b.subscribers[t] = filtered
	}
	filtered := make([]chan Event, 0, len(b.allSubs))
	for _, s := range b.allSubs {
		if s != ch {
			filtered = append(filtered, s)
		}
	}
	b.allSubs = filtered
	close(ch)
}

// OnTopic registers a synchronous callback invoked for every event on topic.
// The callback runs inline from Publish, wrapped so a panic cannot take down
// the publisher or stall other subscribers.
func (b *Bus) OnTopic(topic string, fn func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.funcSubs[topic] = append(b.funcSubs[topic], fn)
}

// Publish implements processor.EventPublisher and is the primary entry
// point used by the compiler and worker runtime.
func (b *Bus) Publish(topic string, payload interface{}) {
	b.publish(Event{Topic: topic, Time: time.Now(), Data: payload})
}

func (b *Bus) publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[event.Topic] {
		select {
		case ch <- event:
		default:
			b.logger.Warn("pubsub: subscriber channel full, dropping event", "topic", event.Topic)
		}
	}
	for _, ch := range b.allSubs {
		select {
		case ch <- event:
		default:
		}
	}
	for _, fn := range b.funcSubs[event.Topic] {
		b.dispatchSafely(fn, event)
	}
}

func (b *Bus) dispatchSafely(fn func(Event), event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("pubsub: subscriber callback panicked", "topic", event.Topic, "panic", r)
		}
	}()
	fn(event)
}

// SubscriberCount reports the total number of active subscriptions
// (channel-based and callback-based).
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	count := len(b.allSubs)
	for _, subs := range b.subscribers {
		count += len(subs)
	}
	for _, fns := range b.funcSubs {
		count += len(fns)
	}
	return count
}

// Well-known lifecycle topics published by the compiler and worker runtime.
const (
	TopicWillAddProcessor    = "graph.processor.will_add"
	TopicDidCreateProcessor  = "graph.processor.did_create"
	TopicWillRemoveProcessor = "graph.processor.will_remove"
	TopicDidRemoveProcessor  = "graph.processor.did_remove"
	TopicWillAddLink         = "graph.link.will_add"
	TopicDidCreateLink       = "graph.link.did_create"
	TopicWillRemoveLink      = "graph.link.will_remove"
	TopicDidRemoveLink       = "graph.link.did_remove"
	TopicCompileFailed       = "graph.compile.failed"
	TopicCompileSucceeded    = "graph.compile.succeeded"
	TopicProcessorError      = "processor.error"
	TopicProcessorFailed     = "processor.failed"
	TopicRuntimeStateChanged = "runtime.state.changed"
)
