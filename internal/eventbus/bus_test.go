package eventbus

import (
	"testing"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

func TestSubscribeReplaysInOrder(t *testing.T) {
	b := New(256, 128)
	for i := 0; i < 5; i++ {
		b.Emit("s1", models.Event{Type: models.EventToken, Payload: map[string]any{"i": i}})
	}
	sub, unsub := b.Subscribe("s1", 0)
	defer unsub()

	for i := 0; i < 5; i++ {
		e := <-sub.Events()
		if e.EventID != uint64(i+1) {
			t.Fatalf("event %d: id = %d, want %d", i, e.EventID, i+1)
		}
	}
}

func TestEmitFIFOPerSession(t *testing.T) {
	b := New(256, 128)
	sub, unsub := b.Subscribe("s1", 0)
	defer unsub()

	var ids []uint64
	done := make(chan struct{})
	go func() {
		for i := 0; i < 3; i++ {
			ids = append(ids, (<-sub.Events()).EventID)
		}
		close(done)
	}()

	b.Emit("s1", models.Event{Type: models.EventToken})
	b.Emit("s1", models.Event{Type: models.EventToken})
	b.Emit("s1", models.Event{Type: models.EventResponse})
	<-done

	for i, id := range ids {
		if id != uint64(i+1) {
			t.Fatalf("ids = %v, not monotonic FIFO", ids)
		}
	}
}

func TestReplayFromLastEventID(t *testing.T) {
	b := New(256, 128)
	for i := 0; i < 10; i++ {
		b.Emit("s1", models.Event{Type: models.EventToken})
	}
	sub, unsub := b.Subscribe("s1", 7)
	defer unsub()

	for i := 8; i <= 10; i++ {
		e := <-sub.Events()
		if e.EventID != uint64(i) {
			t.Fatalf("got id %d, want %d", e.EventID, i)
		}
	}
}

func TestReplayEmitsGapWhenEvicted(t *testing.T) {
	b := New(4, 128) // tiny ring to force eviction
	for i := 0; i < 10; i++ {
		b.Emit("s1", models.Event{Type: models.EventToken})
	}
	sub, unsub := b.Subscribe("s1", 1) // id 1 long evicted
	defer unsub()

	e := <-sub.Events()
	if e.Type != models.EventGap {
		t.Fatalf("first replayed event = %v, want gap marker", e.Type)
	}
}

func TestCloseEmitsSessionEndAndClosesSubscribers(t *testing.T) {
	b := New(256, 128)
	sub, _ := b.Subscribe("s1", 0)
	b.Close("s1")

	var last models.Event
	for e := range sub.Events() {
		last = e
	}
	if last.Type != models.EventSessionEnd {
		t.Fatalf("last event = %v, want session_end", last.Type)
	}
}

func TestDroppableEventsDoNotBlockOnFullSubscriber(t *testing.T) {
	b := New(256, 2)
	sub, unsub := b.Subscribe("s1", 0)
	defer unsub()
	_ = sub

	for i := 0; i < 10; i++ {
		b.Emit("s1", models.Event{Type: models.EventToken})
	}
	// Emit must not have blocked; a subsequent non-droppable event should
	// still make it onto the ring buffer even if the channel is full.
	e := b.Emit("s1", models.Event{Type: models.EventResponse})
	if e.Type != models.EventResponse {
		t.Fatal("expected emit to return the stamped event")
	}
}

func TestNonDroppableEventDeliversIfSlotFreesWithinWindow(t *testing.T) {
	b := New(256, 1)
	sub, unsub := b.Subscribe("s1", 0)
	defer unsub()

	b.Emit("s1", models.Event{Type: models.EventToken}) // fills the lone buffer slot

	go func() {
		time.Sleep(nonDroppableBlockWindow / 2)
		<-sub.ch // drain, freeing a slot before the block window elapses
	}()

	b.Emit("s1", models.Event{Type: models.EventResponse})
	if got := sub.Dropped(); got != 0 {
		t.Fatalf("Dropped() = %d, want 0: non-droppable emit should have delivered once the slot freed", got)
	}
}

func TestDroppableEventDropsImmediatelyEvenIfSlotWouldFree(t *testing.T) {
	b := New(256, 1)
	sub, unsub := b.Subscribe("s1", 0)
	defer unsub()

	b.Emit("s1", models.Event{Type: models.EventToken}) // fills the lone buffer slot

	go func() {
		time.Sleep(nonDroppableBlockWindow / 2)
		<-sub.ch
	}()

	b.Emit("s1", models.Event{Type: models.EventToken})
	if got := sub.Dropped(); got != 1 {
		t.Fatalf("Dropped() = %d, want 1: droppable emit must not wait for the slot to free", got)
	}
}
