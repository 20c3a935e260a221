package config

// EventKind classifies a Config Store change event (spec.md §4.1).
type EventKind string

const (
	EventConnect    EventKind = "CONNECT"
	EventDisconnect EventKind = "DISCONNECT"
	EventUpdate     EventKind = "UPDATE"
	EventReload     EventKind = "RELOAD"
)

// Event is delivered at-least-once; consumers (the Bridge Supervisor) must be
// idempotent (spec.md §4.1).
type Event struct {
	Kind   EventKind
	Target string // endpoint id for CONNECT/DISCONNECT/UPDATE; empty for RELOAD
}

// EventSource is the pub/sub contract the Supervisor depends on. The default
// implementation (Watcher, which merges the Store's own events with fsnotify
// and a cron-scheduled resync) satisfies it, as does Store alone for its
// in-process events; an external pub/sub integration can be substituted
// behind the same interface without the Supervisor changing (spec.md §9).
type EventSource interface {
	Events() <-chan Event
}
