package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// EventType is the kind of change a notification reports.
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// EventMask selects which event types a subscription receives.
type EventMask uint8

const (
	MaskInsert EventMask = 1 << iota
	MaskUpdate
	MaskDelete

	// AllEvents subscribes to inserts, updates and deletes.
	AllEvents = MaskInsert | MaskUpdate | MaskDelete
)

// Has reports whether the mask selects t.
func (m EventMask) Has(t EventType) bool {
	switch t {
	case EventInsert:
		return m&MaskInsert != 0
	case EventUpdate:
		return m&MaskUpdate != 0
	case EventDelete:
		return m&MaskDelete != 0
	}
	return false
}

func (m EventMask) String() string {
	var parts []string
	if m&MaskInsert != 0 {
		parts = append(parts, string(EventInsert))
	}
	if m&MaskUpdate != 0 {
		parts = append(parts, string(EventUpdate))
	}
	if m&MaskDelete != 0 {
		parts = append(parts, string(EventDelete))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// ParseEventType parses a lower-case event name.
func ParseEventType(s string) (EventType, error) {
	switch t := EventType(strings.ToLower(s)); t {
	case EventInsert, EventUpdate, EventDelete:
		return t, nil
	}
	return "", fmt.Errorf("unknown event type %q", s)
}

// Change is a notification that the expense table changed.
type Change struct {
	Event EventType `json:"event"`

	// ID is the affected row. Empty for bulk deletes.
	ID string `json:"id,omitempty"`
}

// ChangeHandler receives change notifications. Handlers run on the publisher's
// goroutine and must not block.
type ChangeHandler func(Change)

// Subscription is a live change subscription.
type Subscription interface {
	// Close stops delivery. It is safe to call more than once.
	Close() error
}

// Broker fans change notifications out to subscribers.
// The zero value is not usable; use NewBroker.
type Broker struct {
	mu      sync.RWMutex
	nextID  uint64
	subs    map[uint64]*brokerSub
	observe func(Change)
}

type brokerSub struct {
	broker  *Broker
	id      uint64
	mask    EventMask
	handler ChangeHandler
	once    sync.Once
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[uint64]*brokerSub)}
}

// Subscribe registers handler for the events in mask. The subscription also ends
// when ctx is cancelled.
func (b *Broker) Subscribe(ctx context.Context, mask EventMask, handler ChangeHandler) (Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("subscribe: nil handler")
	}
	if mask&AllEvents == 0 {
		return nil, fmt.Errorf("subscribe: empty event mask")
	}

	b.mu.Lock()
	b.nextID++
	sub := &brokerSub{broker: b, id: b.nextID, mask: mask, handler: handler}
	b.subs[sub.id] = sub
	b.mu.Unlock()

	context.AfterFunc(ctx, func() { sub.Close() })
	return sub, nil
}

// Publish delivers c to every subscriber whose mask selects it.
func (b *Broker) Publish(c Change) {
	b.mu.RLock()
	observe := b.observe
	targets := make([]*brokerSub, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.mask.Has(c.Event) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	if observe != nil {
		observe(c)
	}
	for _, sub := range targets {
		sub.handler(c)
	}
}

// Observe calls fn for every published change, before any subscriber sees it.
func (b *Broker) Observe(fn func(Change)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observe = fn
}

// Len returns the number of live subscriptions.
func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// CloseAll ends every subscription.
func (b *Broker) CloseAll() {
	b.mu.Lock()
	b.subs = make(map[uint64]*brokerSub)
	b.mu.Unlock()
}

func (s *brokerSub) Close() error {
	s.once.Do(func() {
		s.broker.mu.Lock()
		delete(s.broker.subs, s.id)
		s.broker.mu.Unlock()
	})
	return nil
}
