// Package events carries fire-and-forget notifications from the feature
// machines to whoever is displaying or persisting them.
//
// Publish never blocks. Subscribers get a buffered channel and a slow
// subscriber loses events rather than stalling a feature.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types
const (
	LikeStarted     = "like:started"
	LikeSuccess     = "like:success"
	LikeStopped     = "like:stopped"
	LikeRejected    = "like:rejected"
	CommentStarted  = "comment:started"
	CommentSuccess  = "comment:success"
	CommentStopped  = "comment:stopped"
	CommentRejected = "comment:rejected"
	LogAdded        = "log:added"
)

// Event is a single notification
type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

// Counts is the payload of started/success/stopped events
type Counts struct {
	Total int `json:"total"`
	Today int `json:"today"`
}

// Comment is the payload of comment:success
type Comment struct {
	Counts
	Text   string `json:"text"`
	Source string `json:"source"` // "pool" or "ai"
}

// Rejection is the payload of *:rejected; the host turns the feature toggle off
type Rejection struct {
	Reason string `json:"reason"`
}

// Bus fans events out to subscribers
type Bus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{subs: map[uint64]chan Event{}}
}

// Publish delivers e to every subscriber with room in its buffer
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		func() {
			// An unsubscribe may close ch concurrently
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

// Emit is shorthand for Publish with the current time
func (b *Bus) Emit(typ string, data any) {
	b.Publish(Event{Type: typ, Time: time.Now(), Data: data})
}

// Subscribe returns a channel of events and a function that closes it
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Subscribers returns the number of live subscriptions
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
