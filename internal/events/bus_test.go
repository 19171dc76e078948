package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_DeliversToTopicSubscribers(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(8, TopicImportCompleted)
	defer unsub()

	bus.Publish(TopicImportCompleted, "done")
	bus.Publish(TopicUploadQueue, "ignored")

	select {
	case evt := <-ch:
		assert.Equal(t, TopicImportCompleted, evt.Topic)
		assert.Equal(t, "done", evt.Data)
	case <-time.After(time.Second):
		t.Fatal("expected an event")
	}

	select {
	case evt := <-ch:
		t.Fatalf("unexpected event on topic %s", evt.Topic)
	default:
	}
}

func TestBus_PublishNeverBlocks(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(1, TopicUploadProgress)
	defer unsub()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			bus.Publish(TopicUploadProgress, i)
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	// the buffer holds the most recent event, older ones were coalesced away
	evt := <-ch
	assert.Equal(t, 99, evt.Data)
}

func TestBus_NonLossyTopicDropsNewest(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(1, TopicImportError)
	defer unsub()

	bus.Publish(TopicImportError, "first")
	bus.Publish(TopicImportError, "second") // dropped, buffer full

	evt := <-ch
	assert.Equal(t, "first", evt.Data)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(1, TopicDownloadHWM)
	unsub()

	bus.Publish(TopicDownloadHWM, "x")

	_, open := <-ch
	require.False(t, open, "channel should be closed after unsubscribe")
}
