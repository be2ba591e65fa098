package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

// droppableTypes are events that may be silently dropped under
// subscriber backpressure without corrupting conversation semantics;
// everything else (response, error, tool_call/result, session_*) must
// never be dropped. Generalized from event_sink.go's isDroppableEvent,
// which drew the same line around delta/stdout/stderr tokens.
var droppableTypes = map[models.EventType]bool{
	models.EventToken:   true,
	models.EventTyping:  true,
	models.EventWaiting: true,
	models.EventThinking: true,
}

const defaultSubscriberBuffer = 128
const defaultRingBufferSize = 256
const nonDroppableBlockWindow = 5 * time.Millisecond

// Subscriber is a bounded outbound channel plus accounting for lag.
type Subscriber struct {
	ch      chan models.Event
	dropped int64
	closed  int32
}

// Events returns the channel of delivered events.
func (s *Subscriber) Events() <-chan models.Event { return s.ch }

// Dropped reports how many droppable events were discarded due to
// backpressure on this subscriber.
func (s *Subscriber) Dropped() int64 { return atomic.LoadInt64(&s.dropped) }

type sessionState struct {
	mu          sync.Mutex
	nextEventID uint64
	ring        *ringBuffer
	subscribers map[*Subscriber]struct{}
}

// Bus is the per-session publish/subscribe mechanism fanning typed
// events to zero or more transport subscribers. It never owns Sessions —
// only a weak-by-id map of session_id to subscriber sets and ring
// buffers, per spec.md §3's ownership rule.
type Bus struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState
	ringCap  int
	subCap   int
}

// New constructs an event bus. ringCap is the per-session replay window
// (default 256); subCap is each subscriber's channel capacity (default
// 128).
func New(ringCap, subCap int) *Bus {
	if ringCap <= 0 {
		ringCap = defaultRingBufferSize
	}
	if subCap <= 0 {
		subCap = defaultSubscriberBuffer
	}
	return &Bus{sessions: make(map[string]*sessionState), ringCap: ringCap, subCap: subCap}
}

func (b *Bus) stateFor(sessionID string) *sessionState {
	b.mu.RLock()
	s, ok := b.sessions[sessionID]
	b.mu.RUnlock()
	if ok {
		return s
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sessions[sessionID]; ok {
		return s
	}
	s := &sessionState{ring: newRingBuffer(b.ringCap), subscribers: make(map[*Subscriber]struct{})}
	b.sessions[sessionID] = s
	return s
}

// Subscribe adds a subscriber for sessionID and immediately replays the
// last N buffered events (or a single gap marker if the buffer has
// rotated past what's retained). Returns the subscriber and an
// unsubscribe function.
func (b *Bus) Subscribe(sessionID string, lastEventID uint64) (*Subscriber, func()) {
	s := b.stateFor(sessionID)
	sub := &Subscriber{ch: make(chan models.Event, b.subCap)}

	s.mu.Lock()
	s.subscribers[sub] = struct{}{}
	replay, gap := s.ring.since(lastEventID)
	s.mu.Unlock()

	if gap {
		sub.ch <- models.Event{SessionID: sessionID, Type: models.EventGap, Timestamp: time.Now()}
	}
	for _, e := range replay {
		select {
		case sub.ch <- e:
		default:
			atomic.AddInt64(&sub.dropped, 1)
		}
	}

	unsubscribe := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subscribers[sub]; ok {
			delete(s.subscribers, sub)
			if atomic.CompareAndSwapInt32(&sub.closed, 0, 1) {
				close(sub.ch)
			}
		}
	}
	return sub, unsubscribe
}

// Emit appends e to the session's ring buffer (assigning its EventID) and
// delivers it to every current subscriber. On a full subscriber channel,
// droppable events (per IsDroppable) are dropped immediately (oldest-
// undelivered semantics approximated by dropping the incoming one, since
// the channel already holds the undelivered backlog); non-droppable
// events instead block for up to nonDroppableBlockWindow before being
// dropped with the same lag accounting, since the bus must never let one
// slow subscriber stall emission to the rest indefinitely.
func (b *Bus) Emit(sessionID string, e models.Event) models.Event {
	s := b.stateFor(sessionID)

	s.mu.Lock()
	s.nextEventID++
	e.SessionID = sessionID
	e.EventID = s.nextEventID
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	s.ring.push(e)
	subs := make([]*Subscriber, 0, len(s.subscribers))
	for sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	droppable := droppableTypes[e.Type]
	for _, sub := range subs {
		select {
		case sub.ch <- e:
			continue
		default:
		}

		if droppable {
			atomic.AddInt64(&sub.dropped, 1)
			continue
		}

		select {
		case sub.ch <- e:
		case <-time.After(nonDroppableBlockWindow):
			atomic.AddInt64(&sub.dropped, 1)
		}
	}
	return e
}

// Close drains a session's state: emits a final session_end, detaches
// and closes every subscriber channel.
func (b *Bus) Close(sessionID string) {
	b.Emit(sessionID, models.Event{Type: models.EventSessionEnd})

	b.mu.Lock()
	s, ok := b.sessions[sessionID]
	delete(b.sessions, sessionID)
	b.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subscribers {
		if atomic.CompareAndSwapInt32(&sub.closed, 0, 1) {
			close(sub.ch)
		}
	}
	s.subscribers = nil
}

// IsDroppable reports whether an event type may be dropped under
// subscriber backpressure.
func IsDroppable(t models.EventType) bool { return droppableTypes[t] }
