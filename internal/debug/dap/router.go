package dap

import "sync"

// EventHandler handles one event frame. Handlers run synchronously on the
// transport reader goroutine and must not block; follow-up requests are
// issued with Dispatcher.Go.
type EventHandler func(*Event)

type handlerEntry struct {
	id int
	fn EventHandler
}

// Router demultiplexes events to handlers registered by event name.
type Router struct {
	mu       sync.RWMutex
	handlers map[string][]handlerEntry
	any      []handlerEntry
	nextID   int
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{
		handlers: make(map[string][]handlerEntry),
	}
}

// On registers handler for event. Handlers for the same name run in
// registration order. The returned function removes the registration.
func (r *Router) On(event string, handler EventHandler) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.handlers[event] = append(r.handlers[event], handlerEntry{id: id, fn: handler})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.handlers[event] = removeEntry(r.handlers[event], id)
		if len(r.handlers[event]) == 0 {
			delete(r.handlers, event)
		}
	}
}

// OnAny registers handler for every event, after the named handlers.
func (r *Router) OnAny(handler EventHandler) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.any = append(r.any, handlerEntry{id: id, fn: handler})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.any = removeEntry(r.any, id)
	}
}

// Dispatch invokes the handlers registered for evt.Event. Unknown names are
// ignored. It reports whether a named handler ran.
func (r *Router) Dispatch(evt *Event) bool {
	r.mu.RLock()
	named := append([]handlerEntry(nil), r.handlers[evt.Event]...)
	anyHandlers := append([]handlerEntry(nil), r.any...)
	r.mu.RUnlock()

	for _, h := range named {
		h.fn(evt)
	}
	for _, h := range anyHandlers {
		h.fn(evt)
	}
	return len(named) > 0
}

// Handlers returns the number of handlers registered for event.
func (r *Router) Handlers(event string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[event])
}

func removeEntry(entries []handlerEntry, id int) []handlerEntry {
	for i, e := range entries {
		if e.id == id {
			return append(entries[:i:i], entries[i+1:]...)
		}
	}
	return entries
}
