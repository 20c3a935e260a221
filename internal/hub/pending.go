// Package hub implements the Local Hub (spec.md §2, §4.5–§4.7): the Hub
// Router aggregates tool catalogs advertised by Tool-Server Sessions and
// dispatches JSON-RPC requests arriving from Browser Sessions to the correct
// backing session.
package hub

import (
	"sync"
	"time"

	"github.com/toolmesh/toolmesh/internal/rpc"
)

// Default Pending Request deadlines (spec.md §4.7).
const (
	ListTimeout = 30 * time.Second
	CallTimeout = 60 * time.Second
)

// pendingRequest is one in-flight browser-originated request awaiting a
// Tool-Server Session's response (spec.md §4.7 "the pending-request table").
//
// Grounded on the teacher's dockSessionBridge (internal/api/dock_bridge.go):
// a response channel keyed by request id, with a timeout goroutine that
// cleans up its own entry. Generalized here to also record the originating
// Browser Session and the browser-visible id so the router can restore it.
type pendingRequest struct {
	browserID    string
	browserReqID rpc.ID
	toolServer   string
	expiresAt    time.Time
	timeoutTimer *time.Timer
	purp         purpose
}

func (p *pendingRequest) purpose() purpose     { return p.purp }
func (p *pendingRequest) setPurpose(v purpose) { p.purp = v }

// pendingTable is the router's single-owner pending-request map. It is only
// ever touched from the router's serializing goroutine (spec.md §5), so it
// needs no internal locking of its own beyond what guards timer callbacks
// racing the owning goroutine — handled by funneling timeouts back through
// the router's inbox rather than mutating the table directly.
//
// Keyed by id.String() rather than the rpc.ID value itself: a numeric id
// round-tripped through JSON comes back as a float64 (encoding/json's
// default number type) even though the router minted it as an int64, and
// rpc.ID's equality is type-sensitive — two IDs holding the "same" number as
// different Go types never compare equal as map keys. String() normalizes
// both to the same decimal text.
type pendingTable struct {
	mu      sync.Mutex
	entries map[string]*pendingRequest
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[string]*pendingRequest)}
}

func (t *pendingTable) put(routerID rpc.ID, p *pendingRequest) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[routerID.String()] = p
}

func (t *pendingTable) take(routerID rpc.ID) (*pendingRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := routerID.String()
	p, ok := t.entries[key]
	if ok {
		delete(t.entries, key)
		if p.timeoutTimer != nil {
			p.timeoutTimer.Stop()
		}
	}
	return p, ok
}

// takeAllForSession removes and returns every Pending Request targeting the
// given Tool-Server Session, used on that session's disconnect to synthesize
// −32002 errors (spec.md §4.7 tie-breaks/failure semantics).
func (t *pendingTable) takeAllForSession(toolServer string) []struct {
	RouterID string
	Req      *pendingRequest
} {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []struct {
		RouterID string
		Req      *pendingRequest
	}
	for id, p := range t.entries {
		if p.toolServer == toolServer {
			out = append(out, struct {
				RouterID string
				Req      *pendingRequest
			}{RouterID: id, Req: p})
			delete(t.entries, id)
			if p.timeoutTimer != nil {
				p.timeoutTimer.Stop()
			}
		}
	}
	return out
}

// dropAllForBrowser discards (without responding) every Pending Request that
// originated from a Browser Session that has since closed (spec.md §4.5:
// "their future responses are dropped silently").
func (t *pendingTable) dropAllForBrowser(browserID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, p := range t.entries {
		if p.browserID == browserID {
			delete(t.entries, id)
			if p.timeoutTimer != nil {
				p.timeoutTimer.Stop()
			}
		}
	}
}
