package scanner

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Topic names one of the notification channels exposed to subscribers.
type Topic string

const (
	TopicActiveFork       Topic = "active_fork"
	TopicForks            Topic = "forks"
	TopicValidationChecks Topic = "validation_checks"
	TopicInvalidBlocks    Topic = "invalid_block_checks"
	TopicLaggingNodes     Topic = "lagging_nodes_checks"
	TopicWatchedAddresses Topic = "watched_address_checks"
)

// Topics lists every topic a subscriber may ask for.
func Topics() []Topic {
	return []Topic{
		TopicActiveFork, TopicForks, TopicValidationChecks,
		TopicInvalidBlocks, TopicLaggingNodes, TopicWatchedAddresses,
	}
}

// Event is one published notification.
type Event struct {
	Topic     Topic       `json:"topic"`
	Payload   interface{} `json:"payload"`
	CreatedAt time.Time   `json:"created_at"`
}

// Hub fans events out to per-subscriber bounded channels. A slow subscriber
// loses events rather than stalling the tick.
type Hub struct {
	mu     sync.RWMutex
	subs   map[Topic]map[int64]chan Event
	nextID int64
	buffer int
	logger *zap.Logger
}

// NewHub builds a hub with the given per-subscriber channel capacity.
func NewHub(buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		subs:   make(map[Topic]map[int64]chan Event),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers for a topic. The returned cancel func must be called
// to release the channel.
func (h *Hub) Subscribe(topic Topic) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subs[topic] == nil {
		h.subs[topic] = make(map[int64]chan Event)
	}
	id := h.nextID
	h.nextID++
	ch := make(chan Event, h.buffer)
	h.subs[topic][id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[topic][id]; ok {
			delete(h.subs[topic], id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber of its topic.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs[ev.Topic] {
		select {
		case ch <- ev:
		default:
			if h.logger != nil {
				h.logger.Warn("dropping event for slow subscriber", zap.String("topic", string(ev.Topic)))
			}
		}
	}
}

// SubscriberCount reports the number of subscribers on a topic.
func (h *Hub) SubscriberCount(topic Topic) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}
