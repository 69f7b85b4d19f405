package classify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTopicMaxAge is how long a pushed topic stays active.
const DefaultTopicMaxAge = 2 * time.Minute

// TopicQueueItem is one detected topic with its detection time.
type TopicQueueItem struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
}

// TopicQueue is a time-windowed set of recently detected topics. Items older
// than the max age are logically expired: they are excluded from every
// Active query, whether or not they are still physically present.
type TopicQueue struct {
	mu     sync.Mutex
	maxAge time.Duration
	items  []TopicQueueItem
}

// NewTopicQueue creates a topic queue with the given expiry window.
func NewTopicQueue(maxAge time.Duration) *TopicQueue {
	if maxAge <= 0 {
		maxAge = DefaultTopicMaxAge
	}

	return &TopicQueue{maxAge: maxAge}
}

// Push records a topic detection.
func (q *TopicQueue) Push(topic string) TopicQueueItem {
	item := TopicQueueItem{
		ID:        uuid.NewString(),
		Topic:     topic,
		Timestamp: time.Now(),
	}

	q.mu.Lock()
	q.pruneLocked(item.Timestamp)
	q.items = append(q.items, item)
	q.mu.Unlock()

	return item
}

// Active returns the topics still inside the age window at the given time,
// oldest first.
func (q *TopicQueue) Active(now time.Time) []TopicQueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	active := make([]TopicQueueItem, 0, len(q.items))
	for _, item := range q.items {
		if now.Sub(item.Timestamp) <= q.maxAge {
			active = append(active, item)
		}
	}
	return active
}

// Len returns the number of items physically retained, expired or not.
func (q *TopicQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// pruneLocked drops long-expired items so the backing slice cannot grow
// without bound. Expiry itself is enforced on the read path.
func (q *TopicQueue) pruneLocked(now time.Time) {
	kept := q.items[:0]
	for _, item := range q.items {
		if now.Sub(item.Timestamp) <= q.maxAge {
			kept = append(kept, item)
		}
	}
	q.items = kept
}
