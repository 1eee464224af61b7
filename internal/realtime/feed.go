package realtime

import (
	"sync"
	"time"

	"github.com/dwusrc/dwu-src-web-application-sub001/internal/events"
)

// DefaultFeedCapacity is how many notifications a client keeps.
const DefaultFeedCapacity = 20

// Notification is one entry of a client's feed.
type Notification struct {
	ID         string            `json:"id"`
	EntityType events.EntityType `json:"entity_type"`
	Ref        string            `json:"ref"`
	ChangeKind events.ChangeKind `json:"change_kind"`
	ActorID    string            `json:"actor_id"`
	Excerpt    string            `json:"excerpt"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Feed is a fixed-size ring of notifications with an unread counter.
// Events authored by the local actor are ignored, as are repeated
// deliveries of an event still held in the ring.
type Feed struct {
	mu         sync.Mutex
	localActor string
	ring       []Notification
	start      int
	count      int
	unread     int
}

// NewFeed builds a feed for localActor.
func NewFeed(capacity int, localActor string) *Feed {
	if capacity <= 0 {
		capacity = DefaultFeedCapacity
	}
	return &Feed{localActor: localActor, ring: make([]Notification, capacity)}
}

// Add records the event and reports the resulting notification. ok is false
// when the event was filtered out.
func (f *Feed) Add(event events.Event) (Notification, bool) {
	if event.ActorID != "" && event.ActorID == f.localActor {
		return Notification{}, false
	}
	note := Notification{
		ID:         event.ID,
		EntityType: event.EntityType,
		Ref:        event.EntityID,
		ChangeKind: event.ChangeKind,
		ActorID:    event.ActorID,
		Excerpt:    event.Excerpt,
		Timestamp:  event.Timestamp,
	}
	if event.EntityType == events.EntityMessage && event.ConversationID != "" {
		note.Ref = event.ConversationID
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if note.ID != "" && f.containsLocked(note.ID) {
		return Notification{}, false
	}
	capacity := len(f.ring)
	if f.count < capacity {
		f.ring[(f.start+f.count)%capacity] = note
		f.count++
	} else {
		f.ring[f.start] = note
		f.start = (f.start + 1) % capacity
	}
	f.unread++
	return note, true
}

func (f *Feed) containsLocked(id string) bool {
	for i := 0; i < f.count; i++ {
		if f.ring[(f.start+i)%len(f.ring)].ID == id {
			return true
		}
	}
	return false
}

// Items returns the held notifications, newest first.
func (f *Feed) Items() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]Notification, 0, f.count)
	for i := f.count - 1; i >= 0; i-- {
		items = append(items, f.ring[(f.start+i)%len(f.ring)])
	}
	return items
}

// Len returns how many notifications are held.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

// Unread returns the number of notifications received since the last
// MarkAllRead.
func (f *Feed) Unread() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread
}

// MarkAllRead resets the unread counter.
func (f *Feed) MarkAllRead() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unread = 0
}
