package pubsub_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fluxcore/streamgraph/internal/pubsub"
)

func TestSubscribeReceivesMatchingTopicOnly(t *testing.T) {
	b := pubsub.NewBus()
	ch := b.Subscribe(pubsub.TopicCompileSucceeded)

	b.Publish(pubsub.TopicCompileFailed, "nope")
	b.Publish(pubsub.TopicCompileSucceeded, "yes")

	select {
	case ev := <-ch:
		require.Equal(t, pubsub.TopicCompileSucceeded, ev.Topic)
		require.Equal(t, "yes", ev.Data)
	case <-time.After(time.Second):
		t.Fatal("expected an event")
	}

	select {
	case ev := <-ch:
		t.Fatalf("unexpected second event: %+v", ev)
	default:
	}
}

func TestSubscribeWithNoTopicsReceivesEverything(t *testing.T) {
	b := pubsub.NewBus()
	ch := b.Subscribe()

	b.Publish(pubsub.TopicCompileFailed, nil)
	b.Publish(pubsub.TopicCompileSucceeded, nil)

	first := <-ch
	second := <-ch
	require.Equal(t, pubsub.TopicCompileFailed, first.Topic)
	require.Equal(t, pubsub.TopicCompileSucceeded, second.Topic)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := pubsub.NewBus()
	ch := b.Subscribe(pubsub.TopicCompileFailed)
	b.Unsubscribe(ch)

	_, ok := <-ch
	require.False(t, ok)
}

func TestOnTopicPanicIsContained(t *testing.T) {
	b := pubsub.NewBus()
	called := false
	b.OnTopic(pubsub.TopicCompileFailed, func(pubsub.Event) {
		panic("boom")
	})
	b.OnTopic(pubsub.TopicCompileFailed, func(ev pubsub.Event) {
		called = true
	})

	require.NotPanics(t, func() {
		b.Publish(pubsub.TopicCompileFailed, nil)
	})
	require.True(t, called)
}

func TestSubscriberCountTracksAllKinds(t *testing.T) {
	b := pubsub.NewBus()
	require.Equal(t, 0, b.SubscriberCount())

	b.Subscribe(pubsub.TopicCompileFailed)
	b.Subscribe()
	b.OnTopic(pubsub.TopicCompileFailed, func(pubsub.Event) {})

	require.Equal(t, 3, b.SubscriberCount())
}
