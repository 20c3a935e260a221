package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store persists Endpoint, ServerDefinition, and Override collections as
// atomically-written JSON files, one per collection, and emits change events
// for its CRUD writes (read-your-writes for the writer's own goroutine;
// spec.md §4.1). SetEndpointStatus writes emit no event, and an event is
// dropped when the event buffer is full (see publish).
//
// Grounded on the teacher's ProviderConfigStorage write-to-temp-then-rename
// pattern (internal/storage/provider_config.go), generalized to three
// collections and extended with event emission.
type Store struct {
	baseDir string

	mu        sync.RWMutex
	endpoints map[string]Endpoint
	servers   map[string]ServerDefinition
	overrides map[OverrideKey]Override

	events chan Event
}

// NewStore loads (or initializes) a Store rooted at baseDir.
func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("config: create base dir: %w", err)
	}
	s := &Store{
		baseDir:   baseDir,
		endpoints: make(map[string]Endpoint),
		servers:   make(map[string]ServerDefinition),
		overrides: make(map[OverrideKey]Override),
		events:    make(chan Event, 256),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Events implements EventSource. Callers must keep draining it: when the
// buffer is full, the new event is dropped (the Watcher's cron-scheduled
// resync covers any events missed this way).
func (s *Store) Events() <-chan Event { return s.events }

func (s *Store) publish(ev Event) {
	select {
	case s.events <- ev:
	default:
		// Buffer saturated: the Watcher's periodic resync (its cron job in
		// watcher.go) will reconcile full state regardless of this drop.
	}
}

func (s *Store) endpointsPath() string { return filepath.Join(s.baseDir, "endpoints.json") }
func (s *Store) serversPath() string   { return filepath.Join(s.baseDir, "servers.json") }
func (s *Store) overridesPath() string { return filepath.Join(s.baseDir, "overrides.json") }

// load (re)reads all three collections from disk, replacing the in-memory
// maps wholesale rather than upserting into them. It is called both from
// NewStore and, via the Watcher's fsnotify callback, on every external edit
// of these files by another process (e.g. toolmeshctl) — a deletion there
// must be observed as a deletion here too, or a removed Endpoint/Server/
// Override would linger forever in this process's view of the world.
func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var endpoints []Endpoint
	if err := readJSON(s.endpointsPath(), &endpoints); err != nil {
		return err
	}
	nextEndpoints := make(map[string]Endpoint, len(endpoints))
	for _, e := range endpoints {
		nextEndpoints[e.ID] = e
	}
	s.endpoints = nextEndpoints

	var servers []ServerDefinition
	if err := readJSON(s.serversPath(), &servers); err != nil {
		return err
	}
	nextServers := make(map[string]ServerDefinition, len(servers))
	for _, sv := range servers {
		nextServers[sv.Name] = sv
	}
	s.servers = nextServers

	var overrides []Override
	if err := readJSON(s.overridesPath(), &overrides); err != nil {
		return err
	}
	nextOverrides := make(map[OverrideKey]Override, len(overrides))
	for _, o := range overrides {
		nextOverrides[o.OverrideKey] = o
	}
	s.overrides = nextOverrides
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// writeAtomic writes data to path via a temp file + rename so readers never
// observe a truncated file (spec.md §5, §8).
func writeAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("config: rename %s: %w", path, err)
	}
	return nil
}

// ── Endpoints ────────────────────────────────────────────────────────────

// ListEndpoints returns a snapshot of all endpoints.
func (s *Store) ListEndpoints() []Endpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Endpoint, 0, len(s.endpoints))
	for _, e := range s.endpoints {
		out = append(out, e)
	}
	return out
}

// GetEndpoint returns one endpoint by id.
func (s *Store) GetEndpoint(id string) (Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.endpoints[id]
	if !ok {
		return Endpoint{}, fmt.Errorf("%w: endpoint %s", ErrNotFound, id)
	}
	return e, nil
}

// CreateEndpoint validates and persists a new endpoint, emitting CONNECT if
// it is created enabled.
func (s *Store) CreateEndpoint(e Endpoint) (Endpoint, error) {
	if err := e.validate(); err != nil {
		return Endpoint{}, err
	}
	e.ConnectionState = StatusDisconnected

	s.mu.Lock()
	s.endpoints[e.ID] = e
	err := s.writeEndpointsUnlocked()
	s.mu.Unlock()
	if err != nil {
		return Endpoint{}, err
	}

	if e.Enabled {
		s.publish(Event{Kind: EventConnect, Target: e.ID})
	}
	return e, nil
}

// UpdateEndpoint replaces an endpoint's editable fields (name, url, enabled)
// and emits the appropriate transition event per spec.md §4.1.
func (s *Store) UpdateEndpoint(id string, mutate func(*Endpoint)) (Endpoint, error) {
	s.mu.Lock()
	prev, ok := s.endpoints[id]
	if !ok {
		s.mu.Unlock()
		return Endpoint{}, fmt.Errorf("%w: endpoint %s", ErrNotFound, id)
	}
	next := prev
	mutate(&next)
	next.ID = id
	if err := next.validate(); err != nil {
		s.mu.Unlock()
		return Endpoint{}, err
	}
	s.endpoints[id] = next
	err := s.writeEndpointsUnlocked()
	s.mu.Unlock()
	if err != nil {
		return Endpoint{}, err
	}

	switch {
	case !prev.Enabled && next.Enabled:
		s.publish(Event{Kind: EventConnect, Target: id})
	case prev.Enabled && !next.Enabled:
		s.publish(Event{Kind: EventDisconnect, Target: id})
	case prev.Enabled && next.Enabled && prev.URL != next.URL:
		s.publish(Event{Kind: EventUpdate, Target: id})
	}
	return next, nil
}

// SetEndpointStatus records a runtime connectivity transition (written by the
// Bridge Supervisor, not an admin action; spec.md §3).
func (s *Store) SetEndpointStatus(id string, status ConnectionStatus, lastError string, connectedAtUnix *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.endpoints[id]
	if !ok {
		return fmt.Errorf("%w: endpoint %s", ErrNotFound, id)
	}
	e.ConnectionState = status
	e.LastError = lastError
	if connectedAtUnix != nil {
		e.LastConnectedAt = connectedAtUnix
	}
	s.endpoints[id] = e
	return s.writeEndpointsUnlocked()
}

// DeleteEndpoint removes an endpoint, emitting DISCONNECT if it was enabled.
func (s *Store) DeleteEndpoint(id string) error {
	s.mu.Lock()
	prev, ok := s.endpoints[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: endpoint %s", ErrNotFound, id)
	}
	delete(s.endpoints, id)
	err := s.writeEndpointsUnlocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if prev.Enabled {
		s.publish(Event{Kind: EventDisconnect, Target: id})
	}
	return nil
}

func (s *Store) writeEndpointsUnlocked() error {
	out := make([]Endpoint, 0, len(s.endpoints))
	for _, e := range s.endpoints {
		out = append(out, e)
	}
	return writeAtomic(s.endpointsPath(), out)
}

// ── Server definitions ──────────────────────────────────────────────────

// ListServers returns a snapshot of all server definitions.
func (s *Store) ListServers() []ServerDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ServerDefinition, 0, len(s.servers))
	for _, sv := range s.servers {
		out = append(out, sv)
	}
	return out
}

// PutServer creates or replaces a server definition and emits RELOAD.
func (s *Store) PutServer(sv ServerDefinition) error {
	if err := sv.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.servers[sv.Name] = sv
	err := s.writeServersUnlocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.publish(Event{Kind: EventReload})
	return nil
}

// DeleteServer removes a server definition and emits RELOAD.
func (s *Store) DeleteServer(name string) error {
	s.mu.Lock()
	if _, ok := s.servers[name]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: server %s", ErrNotFound, name)
	}
	delete(s.servers, name)
	err := s.writeServersUnlocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.publish(Event{Kind: EventReload})
	return nil
}

func (s *Store) writeServersUnlocked() error {
	out := make([]ServerDefinition, 0, len(s.servers))
	for _, sv := range s.servers {
		out = append(out, sv)
	}
	return writeAtomic(s.serversPath(), out)
}

// ── Overrides ───────────────────────────────────────────────────────────

// ListOverrides returns a snapshot of all overrides.
func (s *Store) ListOverrides() []Override {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Override, 0, len(s.overrides))
	for _, o := range s.overrides {
		out = append(out, o)
	}
	return out
}

// PutOverride creates or replaces an override and emits RELOAD.
func (s *Store) PutOverride(o Override) error {
	s.mu.Lock()
	s.overrides[o.OverrideKey] = o
	err := s.writeOverridesUnlocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.publish(Event{Kind: EventReload})
	return nil
}

// DeleteOverride removes an override and emits RELOAD.
func (s *Store) DeleteOverride(key OverrideKey) error {
	s.mu.Lock()
	delete(s.overrides, key)
	err := s.writeOverridesUnlocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.publish(Event{Kind: EventReload})
	return nil
}

func (s *Store) writeOverridesUnlocked() error {
	out := make([]Override, 0, len(s.overrides))
	for _, o := range s.overrides {
		out = append(out, o)
	}
	return writeAtomic(s.overridesPath(), out)
}
