package eventbus

import "github.com/haasonsaas/nexus/pkg/models"

// ringBuffer retains the last N events for a session so a reconnecting
// subscriber can replay gaps. Indexing is by EventID, monotonically
// increasing per session; eviction drops the oldest entry.
type ringBuffer struct {
	cap    int
	events []models.Event // ordered oldest-first
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity <= 0 {
		capacity = 256
	}
	return &ringBuffer{cap: capacity, events: make([]models.Event, 0, capacity)}
}

func (r *ringBuffer) push(e models.Event) {
	r.events = append(r.events, e)
	if len(r.events) > r.cap {
		r.events = r.events[len(r.events)-r.cap:]
	}
}

// oldestID returns the smallest retained EventID, or 0 if empty.
func (r *ringBuffer) oldestID() uint64 {
	if len(r.events) == 0 {
		return 0
	}
	return r.events[0].EventID
}

// since returns every retained event with EventID > lastEventID, and
// whether a gap exists (lastEventID predates the oldest retained event,
// i.e. it was evicted).
func (r *ringBuffer) since(lastEventID uint64) (events []models.Event, gap bool) {
	if len(r.events) == 0 {
		return nil, false
	}
	if r.oldestID() > 0 && lastEventID < r.oldestID()-1 {
		// The requested id has been evicted: everything before the
		// retained window is gone, so the client needs a gap marker.
		return append([]models.Event(nil), r.events...), true
	}
	out := make([]models.Event, 0, len(r.events))
	for _, e := range r.events {
		if e.EventID > lastEventID {
			out = append(out, e)
		}
	}
	return out, false
}
