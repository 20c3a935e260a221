package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/toolmesh/toolmesh/internal/catalog"
	"github.com/toolmesh/toolmesh/internal/config"
	"github.com/toolmesh/toolmesh/internal/logging"
	"github.com/toolmesh/toolmesh/internal/subprocess"
)

// key identifies one desired Endpoint Session: an (endpoint, server) pair
// (spec.md §4.4: "for each enabled endpoint, for each enabled server
// definition, one Endpoint Session").
type key struct {
	endpointID string
	serverName string
}

type running struct {
	session *Session
	cancel  context.CancelFunc
	done    chan struct{}
}

// Supervisor is the Bridge Supervisor (C4, spec.md §4.4): it owns the live
// set of Endpoint Sessions, diff-applying the Config Store's change-event
// stream and writing a merged tool-catalog snapshot after each discovery.
//
// Grounded on the teacher's cmd/orbitmesh/main.go wiring style (a single
// owner goroutine draining an event channel and mutating a private map) and
// internal/service/events.go's EventBroadcaster for the serialized-inbox
// idiom (spec.md §5: "a single serializing task that owns its state").
type Supervisor struct {
	store        *config.Store
	events       config.EventSource
	backoffCap   backoffCapFn
	catalogOut   string
	subprocessGP time.Duration

	log *logging.Logger

	mu       sync.Mutex
	sessions map[key]*running
	snapshot catalog.Snapshot
	snapMu   sync.Mutex
}

type backoffCapFn func() (seconds int)

// NewSupervisor constructs a Supervisor. catalogOut is the well-known path
// (spec.md §4.4) the merged tool catalog snapshot is written to after every
// discovery round. subprocessGracePeriod bounds how long a Subprocess
// Adapter waits after SIGTERM before SIGKILL (BRIDGE_SUBPROCESS_GRACE_SECONDS,
// spec.md §6); zero selects subprocess.DefaultGracePeriod.
func NewSupervisor(store *config.Store, events config.EventSource, backoffCap backoffCapFn, catalogOut string, subprocessGracePeriod time.Duration) *Supervisor {
	return &Supervisor{
		store:        store,
		events:       events,
		backoffCap:   backoffCap,
		catalogOut:   catalogOut,
		subprocessGP: subprocessGracePeriod,
		log:          logging.New("bridge:supervisor"),
		sessions:     make(map[key]*running),
		snapshot:     catalog.Snapshot{Servers: map[string][]catalog.Tool{}},
	}
}

// Run rebuilds the desired session set from the Config Store (crash recovery
// is "stateless across restarts", spec.md §4.4) and then diff-applies change
// events until ctx is canceled. It blocks.
func (sup *Supervisor) Run(ctx context.Context) {
	sup.reconcileAll(ctx)

	for {
		select {
		case <-ctx.Done():
			sup.shutdown()
			return
		case ev, ok := <-sup.events.Events():
			if !ok {
				sup.log.Printf("config event stream closed")
				sup.shutdown()
				return
			}
			sup.apply(ctx, ev)
		}
	}
}

// apply diff-applies one Config Store event (spec.md §4.4). Per-endpoint
// ordering is serialized by Run's single-goroutine event loop, satisfying
// spec.md §5's "processes change events in arrival order per endpoint".
func (sup *Supervisor) apply(ctx context.Context, ev config.Event) {
	switch ev.Kind {
	case config.EventConnect:
		sup.connectEndpoint(ctx, ev.Target)
	case config.EventDisconnect:
		sup.disconnectEndpoint(ev.Target)
	case config.EventUpdate:
		sup.disconnectEndpoint(ev.Target)
		sup.connectEndpoint(ctx, ev.Target)
	case config.EventReload:
		sup.reconcileAll(ctx)
	}
}

func (sup *Supervisor) connectEndpoint(ctx context.Context, endpointID string) {
	ep, err := sup.store.GetEndpoint(endpointID)
	if err != nil || !ep.Enabled {
		return
	}
	for _, sv := range sup.store.ListServers() {
		if sv.Disabled {
			continue
		}
		sup.startSession(ctx, ep, sv)
	}
}

func (sup *Supervisor) disconnectEndpoint(endpointID string) {
	sup.mu.Lock()
	var toStop []*running
	for k, r := range sup.sessions {
		if k.endpointID == endpointID {
			toStop = append(toStop, r)
			delete(sup.sessions, k)
		}
	}
	sup.mu.Unlock()
	for _, r := range toStop {
		sup.stopSession(r)
	}
}

// reconcileAll recomputes the full desired set and applies the add/remove
// diff (spec.md §4.4 RELOAD, and the initial crash-recovery rebuild).
func (sup *Supervisor) reconcileAll(ctx context.Context) {
	desired := make(map[key]struct{})
	for _, ep := range sup.store.ListEndpoints() {
		if !ep.Enabled {
			continue
		}
		for _, sv := range sup.store.ListServers() {
			if sv.Disabled {
				continue
			}
			desired[key{endpointID: ep.ID, serverName: sv.Name}] = struct{}{}
		}
	}

	sup.mu.Lock()
	var toStop []*running
	for k, r := range sup.sessions {
		if _, ok := desired[k]; !ok {
			toStop = append(toStop, r)
			delete(sup.sessions, k)
		}
	}
	sup.mu.Unlock()
	for _, r := range toStop {
		sup.stopSession(r)
	}

	for k := range desired {
		sup.mu.Lock()
		_, exists := sup.sessions[k]
		sup.mu.Unlock()
		if exists {
			continue
		}
		ep, err := sup.store.GetEndpoint(k.endpointID)
		if err != nil {
			continue
		}
		sv, found := findServer(sup.store.ListServers(), k.serverName)
		if !found {
			continue
		}
		sup.startSession(ctx, ep, sv)
	}
}

func findServer(servers []config.ServerDefinition, name string) (config.ServerDefinition, bool) {
	for _, sv := range servers {
		if sv.Name == name {
			return sv, true
		}
	}
	return config.ServerDefinition{}, false
}

func (sup *Supervisor) startSession(ctx context.Context, ep config.Endpoint, sv config.ServerDefinition) {
	k := key{endpointID: ep.ID, serverName: sv.Name}

	sup.mu.Lock()
	if _, exists := sup.sessions[k]; exists {
		sup.mu.Unlock()
		return
	}
	sup.mu.Unlock()

	capSeconds := 0
	if sup.backoffCap != nil {
		capSeconds = sup.backoffCap()
	}

	newAdapter := func() *subprocess.Adapter {
		return subprocess.New(subprocess.Config{
			Command:     sv.Command,
			Args:        sv.Args,
			Environment: sv.Env,
			GracePeriod: sup.subprocessGP,
		})
	}

	sink := &statusSink{sup: sup, endpointID: ep.ID}
	catSink := &catalogSink{sup: sup, endpointID: ep.ID}

	sess := NewSession(ep.ID, sv.Name, ep.URL, newAdapter, sink, catSink, time.Duration(capSeconds)*time.Second)
	sessCtx, cancel := context.WithCancel(ctx)
	r := &running{session: sess, cancel: cancel, done: make(chan struct{})}

	sup.mu.Lock()
	sup.sessions[k] = r
	sup.mu.Unlock()

	go func() {
		defer close(r.done)
		sess.Run(sessCtx)
	}()
}

func (sup *Supervisor) stopSession(r *running) {
	r.cancel()
	r.session.Stop()
	<-r.done
}

// shutdown stops every live session, Endpoint Sessions first as required by
// spec.md §5 ("Endpoint Sessions first, then Subprocess Adapters" — each
// Session already owns this ordering internally via Session.Stop).
func (sup *Supervisor) shutdown() {
	sup.mu.Lock()
	all := make([]*running, 0, len(sup.sessions))
	for k, r := range sup.sessions {
		all = append(all, r)
		delete(sup.sessions, k)
	}
	sup.mu.Unlock()

	var wg sync.WaitGroup
	for _, r := range all {
		wg.Add(1)
		go func(r *running) {
			defer wg.Done()
			sup.stopSession(r)
		}(r)
	}
	wg.Wait()
}

type statusSink struct {
	sup        *Supervisor
	endpointID string
}

func (s *statusSink) OnStatus(state State, lastError string) {
	status := toConnectionStatus(state, lastError)
	var connectedAt *int64
	if state == StateOpen {
		now := time.Now().Unix()
		connectedAt = &now
	}
	if err := s.sup.store.SetEndpointStatus(s.endpointID, status, lastError, connectedAt); err != nil {
		s.sup.log.Printf("status update for endpoint %s failed: %v", s.endpointID, err)
	}
}

func toConnectionStatus(state State, lastError string) config.ConnectionStatus {
	switch state {
	case StateConnecting:
		return config.StatusConnecting
	case StateOpen:
		return config.StatusConnected
	default:
		if lastError != "" {
			return config.StatusError
		}
		return config.StatusDisconnected
	}
}

type catalogSink struct {
	sup        *Supervisor
	endpointID string
}

func (c *catalogSink) OnCatalog(serverName string, tools []catalog.Tool) {
	c.sup.snapMu.Lock()
	c.sup.snapshot.Servers[serverName] = tools
	snap := catalog.Snapshot{Servers: copyToolMap(c.sup.snapshot.Servers)}
	c.sup.snapMu.Unlock()

	if c.sup.catalogOut == "" {
		return
	}
	if err := catalog.WriteSnapshot(c.sup.catalogOut, snap); err != nil {
		c.sup.log.Printf("catalog snapshot write failed: %v", err)
	}
}

func copyToolMap(m map[string][]catalog.Tool) map[string][]catalog.Tool {
	out := make(map[string][]catalog.Tool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
