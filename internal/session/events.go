package session

import (
	"sync"
	"sync/atomic"

	"github.com/AikioCorp/buy-web-sub002/internal/feed"
	"github.com/AikioCorp/buy-web-sub002/internal/suggest"
)

// EventType identifies the payload of an Event.
type EventType uint8

const (
	EventSuggestions EventType = iota + 1
	EventFeed
	EventNavigate
)

func (t EventType) String() string {
	switch t {
	case EventSuggestions:
		return "suggestions"
	case EventFeed:
		return "feed"
	case EventNavigate:
		return "navigate"
	default:
		return "unknown"
	}
}

// Event is a published snapshot or navigation intent.
type Event struct {
	Type        EventType
	Suggestions suggest.Set
	Feed        feed.State
	Intent      suggest.Intent
}

// Subscription receives session events. Pending suggestion and feed
// snapshots are coalesced so a slow reader always ends on the latest state;
// navigation intents are queued in order and never replaced.
type Subscription struct {
	s     *Session
	ready chan struct{}
	done  chan struct{}

	mu        sync.Mutex
	pending   []Event
	closed    bool
	coalesced atomic.Uint64
}

// Ready is signalled whenever events become pending.
func (sub *Subscription) Ready() <-chan struct{} { return sub.ready }

// Done is closed when the session closes or the subscription is cancelled.
func (sub *Subscription) Done() <-chan struct{} { return sub.done }

// Next pops the oldest pending event.
func (sub *Subscription) Next() (Event, bool) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if len(sub.pending) == 0 {
		return Event{}, false
	}
	ev := sub.pending[0]
	sub.pending[0] = Event{}
	sub.pending = sub.pending[1:]
	return ev, true
}

// Coalesced returns the number of snapshots replaced by a newer one before
// the subscriber read them.
func (sub *Subscription) Coalesced() uint64 {
	return sub.coalesced.Load()
}

// Cancel ends the subscription.
func (sub *Subscription) Cancel() {
	s := sub.s
	s.subMu.Lock()
	_, ok := s.subs[sub]
	if ok {
		delete(s.subs, sub)
	}
	s.subMu.Unlock()
	if ok {
		sub.close()
		// Idle time counts from the moment the last reader left.
		s.touch()
	}
}

func (sub *Subscription) push(ev Event) {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	replaced := false
	if ev.Type != EventNavigate {
		for i := range sub.pending {
			if sub.pending[i].Type == ev.Type {
				sub.pending[i] = ev
				replaced = true
				break
			}
		}
	}
	if !replaced {
		sub.pending = append(sub.pending, ev)
	}
	sub.mu.Unlock()

	if replaced {
		sub.coalesced.Add(1)
	}
	select {
	case sub.ready <- struct{}{}:
	default:
	}
}

func (sub *Subscription) close() {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if !sub.closed {
		sub.closed = true
		close(sub.done)
	}
}

// Subscribe registers a new event subscriber. The current suggestion and feed
// snapshots are pending on return, so a reader needs no separate initial read.
// Delivery never blocks the session loop.
func (s *Session) Subscribe() *Subscription {
	sub := &Subscription{
		s:     s,
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}

	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.closed {
		sub.close()
		return sub
	}
	// Snapshots are stored before they are broadcast, and broadcasts take
	// subMu, so later events are never older than these.
	sub.push(Event{Type: EventSuggestions, Suggestions: s.Suggestions()})
	sub.push(Event{Type: EventFeed, Feed: s.Feed()})
	s.subs[sub] = struct{}{}
	return sub
}

// watched reports whether a subscriber is attached.
func (s *Session) watched() bool {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subs) > 0
}

func (s *Session) broadcast(ev Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for sub := range s.subs {
		sub.push(ev)
	}
}
