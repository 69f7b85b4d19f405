package session

import (
	"sync"
	"time"
)

// DefaultEventCapacity bounds the in-memory event history.
const DefaultEventCapacity = 50

// Event is one engine event retained for the status API and subscribers.
type Event struct {
	Kind      string    `json:"kind"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// EventLog is a bounded ring of recent events. Once the capacity is reached
// every append evicts the oldest entry; memory use stays flat no matter how
// long a session runs. Subscribers get best-effort delivery on buffered
// channels and are dropped from, not blocked on, when they fall behind.
type EventLog struct {
	mu       sync.Mutex
	capacity int
	events   []Event
	start    int
	count    int
	subs     []chan Event
	appended uint64
	dropped  uint64
}

// EventLogStats represents event log statistics.
type EventLogStats struct {
	Appended    uint64 `json:"appended"`
	Dropped     uint64 `json:"dropped_deliveries"`
	Retained    int    `json:"retained"`
	Subscribers int    `json:"subscribers"`
}

// NewEventLog creates an event log with the given capacity.
func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = DefaultEventCapacity
	}

	return &EventLog{
		capacity: capacity,
		events:   make([]Event, capacity),
	}
}

// Append records an event, evicting the oldest entry when full, and fans it
// out to subscribers without ever blocking the caller.
func (l *EventLog) Append(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	l.mu.Lock()
	if l.count < l.capacity {
		l.events[(l.start+l.count)%l.capacity] = event
		l.count++
	} else {
		l.events[l.start] = event
		l.start = (l.start + 1) % l.capacity
	}
	l.appended++

	subs := make([]chan Event, len(l.subs))
	copy(subs, l.subs)
	l.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub <- event:
		default:
			l.mu.Lock()
			l.dropped++
			l.mu.Unlock()
		}
	}
}

// Recent returns the retained events, oldest first.
func (l *EventLog) Recent() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	recent := make([]Event, 0, l.count)
	for i := 0; i < l.count; i++ {
		recent = append(recent, l.events[(l.start+i)%l.capacity])
	}
	return recent
}

// Subscribe registers a buffered listener channel. The returned cancel
// function removes it.
func (l *EventLog) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)

	l.mu.Lock()
	l.subs = append(l.subs, ch)
	l.mu.Unlock()

	cancel := func() {
		l.mu.Lock()
		for i, sub := range l.subs {
			if sub == ch {
				l.subs = append(l.subs[:i], l.subs[i+1:]...)
				break
			}
		}
		l.mu.Unlock()
	}

	return ch, cancel
}

// GetStats returns current event log statistics.
func (l *EventLog) GetStats() EventLogStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return EventLogStats{
		Appended:    l.appended,
		Dropped:     l.dropped,
		Retained:    l.count,
		Subscribers: len(l.subs),
	}
}
