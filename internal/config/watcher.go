package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"github.com/toolmesh/toolmesh/internal/logging"
)

// Watcher is the default change-event transport (spec.md §9: "a file-watch
// poller is an acceptable default implementation"). It watches the Store's
// base directory with fsnotify so edits made by another process (e.g. the
// toolmeshctl CLI) are picked up without the Supervisor polling the Store
// directly, and it runs a cron-scheduled full resync to recover from any
// event delivery outage (spec.md §4.1, §4.4).
//
// Grounded on github.com/fsnotify/fsnotify (pack: rubiojr-ergs) for the
// filesystem watch and github.com/robfig/cron/v3 (pack: HyphaGroup-oubliette)
// for the resync schedule.
type Watcher struct {
	store        *Store
	watcher      *fsnotify.Watcher
	cron         *cron.Cron
	resyncSpec   string
	log          *logging.Logger
	out          chan Event
	lastSnapshot snapshot

	mu     sync.Mutex
	closed bool
}

type snapshot struct {
	endpointEnabled map[string]bool
	endpointURL     map[string]string
}

func (s *Store) snapshot() snapshot {
	snap := snapshot{
		endpointEnabled: make(map[string]bool),
		endpointURL:     make(map[string]string),
	}
	for _, e := range s.ListEndpoints() {
		snap.endpointEnabled[e.ID] = e.Enabled
		snap.endpointURL[e.ID] = e.URL
	}
	return snap
}

// NewWatcher starts watching store's base directory. resyncCronSpec defaults
// to every 5s (spec.md §6, "a file-watch poller... default 5 s") when given as "".
func NewWatcher(store *Store, resyncCronSpec string) (*Watcher, error) {
	if resyncCronSpec == "" {
		resyncCronSpec = "@every 5s"
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(store.baseDir); err != nil {
		_ = fw.Close()
		return nil, err
	}

	w := &Watcher{
		store:        store,
		watcher:      fw,
		cron:         cron.New(),
		resyncSpec:   resyncCronSpec,
		log:          logging.New("config:watcher"),
		out:          make(chan Event, 256),
		lastSnapshot: store.snapshot(),
	}

	go w.forwardStoreEvents()
	go w.watchLoop()

	if _, err := w.cron.AddFunc(resyncCronSpec, w.resync); err != nil {
		_ = fw.Close()
		return nil, err
	}
	w.cron.Start()

	return w, nil
}

// Events implements EventSource, merging the Store's own in-process events
// with fsnotify-detected out-of-band edits and cron resyncs.
func (w *Watcher) Events() <-chan Event { return w.out }

func (w *Watcher) forwardStoreEvents() {
	for ev := range w.store.Events() {
		w.emit(ev)
	}
}

func (w *Watcher) emit(ev Event) {
	select {
	case w.out <- ev:
	default:
		w.log.Printf("event buffer full, dropping %s (resync will reconcile)", ev.Kind)
	}
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Reload from disk and diff. Any of the three files changing is
			// conservatively treated as the broadest applicable signal.
			if err := w.store.load(); err != nil {
				w.log.Printf("reload after fs event failed: %v", err)
				continue
			}
			w.diffAndEmit()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Printf("fsnotify error: %v", err)
		}
	}
}

func (w *Watcher) diffAndEmit() {
	next := w.store.snapshot()
	prev := w.lastSnapshot
	w.lastSnapshot = next

	sawEndpointChange := false
	for id, enabled := range next.endpointEnabled {
		wasEnabled, existed := prev.endpointEnabled[id]
		switch {
		case !existed && enabled:
			w.emit(Event{Kind: EventConnect, Target: id})
			sawEndpointChange = true
		case existed && !wasEnabled && enabled:
			w.emit(Event{Kind: EventConnect, Target: id})
			sawEndpointChange = true
		case existed && wasEnabled && !enabled:
			w.emit(Event{Kind: EventDisconnect, Target: id})
			sawEndpointChange = true
		case existed && wasEnabled && enabled && prev.endpointURL[id] != next.endpointURL[id]:
			w.emit(Event{Kind: EventUpdate, Target: id})
			sawEndpointChange = true
		}
	}
	for id, wasEnabled := range prev.endpointEnabled {
		if _, stillExists := next.endpointEnabled[id]; !stillExists && wasEnabled {
			w.emit(Event{Kind: EventDisconnect, Target: id})
			sawEndpointChange = true
		}
	}
	if !sawEndpointChange {
		// Servers or overrides changed out-of-band.
		w.emit(Event{Kind: EventReload})
	}
}

// resync issues an unconditional RELOAD so the Supervisor recomputes its full
// desired set, recovering from any missed event (spec.md §4.1, §4.4).
func (w *Watcher) resync() {
	w.emit(Event{Kind: EventReload})
}

// Close stops the cron schedule and the fsnotify watch.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	<-w.cron.Stop().Done()
	return w.watcher.Close()
}
