// Package changestream implements a process-wide change event
// multiplexer: collections emit insert/update/delete events, and
// subscribers register callbacks or a blocking watch channel, scoped to
// one collection or global (§4.10).
package changestream

import (
	"log/slog"
	"sync"

	"github.com/veloxdb/veloxdb/internal/document"
)

// Callback receives one change event.
type Callback func(document.Event)

type callbackEntry struct {
	id uint64
	fn Callback
}

// Handle identifies a registered callback so it can later be removed
// with Off.
type Handle struct {
	eventType  document.EventType
	collection string
	id         uint64
	global     bool
}

// Stream is a process-wide change event broadcaster. It implements
// document.EventEmitter, so a document.Collection can emit directly into
// it.
type Stream struct {
	lg *slog.Logger

	mu        sync.RWMutex
	perColl   map[document.EventType]map[string][]callbackEntry
	global    map[document.EventType][]callbackEntry
	nextID    uint64
}

// New returns an empty Stream.
func New(lg *slog.Logger) *Stream {
	return &Stream{
		lg:      lg,
		perColl: make(map[document.EventType]map[string][]callbackEntry),
		global:  make(map[document.EventType][]callbackEntry),
	}
}

// On registers fn for events of eventType. If collection is "", fn
// receives events from every collection; otherwise it is scoped to one
// collection.
func (s *Stream) On(eventType document.EventType, collection string, fn Callback) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	entry := callbackEntry{id: id, fn: fn}

	if collection == "" {
		s.global[eventType] = append(s.global[eventType], entry)
		return Handle{eventType: eventType, id: id, global: true}
	}
	if s.perColl[eventType] == nil {
		s.perColl[eventType] = make(map[string][]callbackEntry)
	}
	s.perColl[eventType][collection] = append(s.perColl[eventType][collection], entry)
	return Handle{eventType: eventType, collection: collection, id: id}
}

// Off removes a previously registered callback.
func (s *Stream) Off(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.global {
		s.global[h.eventType] = removeEntry(s.global[h.eventType], h.id)
		return
	}
	bucket := s.perColl[h.eventType]
	if bucket == nil {
		return
	}
	bucket[h.collection] = removeEntry(bucket[h.collection], h.id)
}

func removeEntry(entries []callbackEntry, id uint64) []callbackEntry {
	for i, e := range entries {
		if e.id == id {
			return append(entries[:i], entries[i+1:]...)
		}
	}
	return entries
}

// Emit dispatches event synchronously to every matching collection-
// specific callback, then every matching global callback. A panicking or
// erroring callback is logged and does not stop dispatch to the rest.
func (s *Stream) Emit(event document.Event) {
	s.mu.RLock()
	collCallbacks := append([]callbackEntry(nil), s.perColl[event.Type][event.Collection]...)
	globalCallbacks := append([]callbackEntry(nil), s.global[event.Type]...)
	s.mu.RUnlock()

	for _, e := range collCallbacks {
		s.invoke(e.fn, event)
	}
	for _, e := range globalCallbacks {
		s.invoke(e.fn, event)
	}
}

func (s *Stream) invoke(fn Callback, event document.Event) {
	defer func() {
		if r := recover(); r != nil && s.lg != nil {
			s.lg.Error("change stream callback panicked", "recover", r, "event_type", event.Type, "collection", event.Collection)
		}
	}()
	fn(event)
}

// Watch returns a channel of events for collection (or every collection,
// if collection is "") and a cancel function that unsubscribes and
// closes the channel. The channel is buffered; a slow consumer drops
// events rather than blocking Emit (logged once per drop).
func (s *Stream) Watch(collection string, bufferSize int) (<-chan document.Event, func()) {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	ch := make(chan document.Event, bufferSize)
	enqueue := func(event document.Event) {
		select {
		case ch <- event:
		default:
			if s.lg != nil {
				s.lg.Warn("change stream watcher buffer full, dropping event", "collection", collection, "event_type", event.Type)
			}
		}
	}

	handles := []Handle{
		s.On(document.EventInsert, collection, enqueue),
		s.On(document.EventUpdate, collection, enqueue),
		s.On(document.EventDelete, collection, enqueue),
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			for _, h := range handles {
				s.Off(h)
			}
			close(ch)
		})
	}
	return ch, cancel
}
