package events

import (
	"sync"
	"time"
)

// Topic identifies a stream of events on the bus.
type Topic string

const (
	TopicUploadProgress   Topic = "upload.progress"
	TopicUploadQueue      Topic = "upload.queue"
	TopicDownloadProgress Topic = "download.progress"
	TopicDownloadQueue    Topic = "download.queue"
	TopicDownloadHWM      Topic = "download.hwm"
	TopicImportProgress   Topic = "import.progress"
	TopicImportLog        Topic = "import.log"
	TopicImportCompleted  Topic = "import.completed"
	TopicImportError      Topic = "import.error"
	TopicImportCancelled  Topic = "import.cancelled"
	TopicServiceTest      Topic = "service.test"
	TopicSyncError        Topic = "sync.error"
	TopicAuthInvalid      Topic = "auth.invalid"
)

// progress topics tolerate dropped intermediate events
var lossyTopics = map[Topic]bool{
	TopicUploadProgress:   true,
	TopicDownloadProgress: true,
	TopicImportProgress:   true,
}

// Event is a value delivered to subscribers. Data is a value type owned by the
// publisher; subscribers must not mutate it.
type Event struct {
	Topic Topic
	Time  time.Time
	Data  any
}

// LogEvent is the payload on import.log.
type LogEvent struct {
	Level   string
	Message string
}

type subscriber struct {
	topics map[Topic]bool
	ch     chan Event
}

// Bus is an in-process publish/subscribe hub. Publishing never blocks: when a
// subscriber's buffer is full, the oldest buffered event on a lossy topic is
// evicted, otherwise the new event is dropped.
type Bus struct {
	mu   sync.RWMutex
	subs []*subscriber
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers interest in the given topics and returns the delivery
// channel plus an unsubscribe func. With no topics, every event is delivered.
func (b *Bus) Subscribe(buffer int, topics ...Topic) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}

	sub := &subscriber{
		ch: make(chan Event, buffer),
	}
	if len(topics) > 0 {
		sub.topics = make(map[Topic]bool, len(topics))
		for _, t := range topics {
			sub.topics[t] = true
		}
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s == sub {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				close(s.ch)
				return
			}
		}
	}

	return sub.ch, unsubscribe
}

// Publish delivers data to all subscribers of topic without blocking.
func (b *Bus) Publish(topic Topic, data any) {
	evt := Event{
		Topic: topic,
		Time:  time.Now(),
		Data:  data,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.topics != nil && !sub.topics[topic] {
			continue
		}

		select {
		case sub.ch <- evt:
			continue
		default:
		}

		if !lossyTopics[topic] {
			continue
		}

		// coalesce: evict the oldest buffered event, then retry once
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- evt:
		default:
		}
	}
}
