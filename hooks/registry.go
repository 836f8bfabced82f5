// Package hooks implements the deterministic, priority-ordered event
// pipeline (spec §4.3): registration, sequential dispatch, and
// reconciliation of handler verdicts into one decision.
package hooks

import (
	"context"
	"sort"
	"sync"
)

// Handler observes a named lifecycle event and returns a verdict. A
// handler that panics or returns a non-nil error is caught at the
// dispatch boundary, logged, and folded to continue — handlers can never
// break the chain by misbehaving (spec §4.3 step 5).
type Handler func(ctx context.Context, event string, payload Payload) (Result, error)

// handlerEntry is the internal record backing spec §3's "Hook handler
// record": (event_name, handler_name, callable, priority).
type handlerEntry struct {
	event     string
	name      string
	handler   Handler
	priority  int
	insertSeq uint64
}

// HandlerInfo is the read-only view list_handlers returns.
type HandlerInfo struct {
	Event    string
	Name     string
	Priority int
}

// ErrorLogger receives a handler failure for diagnostic logging.
// session.New installs one that forwards each failure to the session's
// observability.Observer; package hooks itself does not import
// observability.
type ErrorLogger func(event, handlerName string, err error)

// Registry is the handler registry and dispatch engine. Safe for
// concurrent use. The zero value is not usable; construct with New.
type Registry struct {
	mu            sync.Mutex
	byEvent       map[string][]*handlerEntry
	byName        map[string]*handlerEntry
	defaultFields Payload
	nextInsertSeq uint64
	onHandlerErr  ErrorLogger
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		byEvent: make(map[string][]*handlerEntry),
		byName:  make(map[string]*handlerEntry),
	}
}

// SetErrorLogger installs the callback invoked whenever a handler panics
// or returns an error (spec §4.3 step 5's "caught, logged").
func (r *Registry) SetErrorLogger(fn ErrorLogger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onHandlerErr = fn
}

// SetDefaultFields records key-value pairs merged into every emitted
// event payload (spec §4.3's "Default fields"). Typically called once at
// session construction with session_id/parent_id.
func (r *Registry) SetDefaultFields(fields Payload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultFields = fields.Clone()
}

// Register adds or replaces a handler. If a handler with this name
// already exists anywhere in the registry, it is removed first
// (spec §4.3: "If a handler with this name already exists anywhere in
// the registry it is replaced"). priority of 0 is valid and meaningful
// (runs before anything registered with a positive priority); callers
// wanting the documented spec default of 100 should pass it explicitly.
func (r *Registry) Register(event, name string, handler Handler, priority int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeByNameLocked(name)

	entry := &handlerEntry{
		event:     event,
		name:      name,
		handler:   handler,
		priority:  priority,
		insertSeq: r.nextInsertSeq,
	}
	r.nextInsertSeq++

	r.byEvent[event] = append(r.byEvent[event], entry)
	r.byName[name] = entry
}

// DefaultPriority is used by callers that don't care where in the chain
// their handler falls (spec §4.3: "register(event, name, handler,
// priority=100)").
const DefaultPriority = 100

// Unregister removes the handler with this name, across all events.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeByNameLocked(name)
}

func (r *Registry) removeByNameLocked(name string) {
	entry, exists := r.byName[name]
	if !exists {
		return
	}
	delete(r.byName, name)

	handlers := r.byEvent[entry.event]
	for i, h := range handlers {
		if h.name == name {
			r.byEvent[entry.event] = append(handlers[:i], handlers[i+1:]...)
			break
		}
	}
}

// ListHandlers returns a snapshot of registered handlers. If event is
// empty, handlers for every event are returned.
func (r *Registry) ListHandlers(event string) []HandlerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []HandlerInfo
	if event != "" {
		for _, h := range r.sortedLocked(event) {
			out = append(out, HandlerInfo{Event: h.event, Name: h.name, Priority: h.priority})
		}
		return out
	}

	for evt := range r.byEvent {
		for _, h := range r.sortedLocked(evt) {
			out = append(out, HandlerInfo{Event: h.event, Name: h.name, Priority: h.priority})
		}
	}
	return out
}

// sortedLocked returns a copy of the handler slice for event, sorted by
// (priority, insertion order), without mutating the stored slice.
func (r *Registry) sortedLocked(event string) []*handlerEntry {
	src := r.byEvent[event]
	snapshot := make([]*handlerEntry, len(src))
	copy(snapshot, src)
	sort.SliceStable(snapshot, func(i, j int) bool {
		if snapshot[i].priority != snapshot[j].priority {
			return snapshot[i].priority < snapshot[j].priority
		}
		return snapshot[i].insertSeq < snapshot[j].insertSeq
	})
	return snapshot
}

// mergedPayload applies spec §4.3 step 1: default fields merged in,
// explicit payload fields winning on key collision.
func (r *Registry) mergedPayload(payload Payload) Payload {
	r.mu.Lock()
	defaults := r.defaultFields.Clone()
	r.mu.Unlock()

	merged := defaults
	for k, v := range payload {
		merged[k] = v
	}
	return merged
}
