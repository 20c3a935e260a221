// Package bridge implements the Endpoint Session (spec.md §4.3) and the
// Bridge Supervisor (spec.md §4.4): the Bridge-side half of the system that
// dials remote hubs and splices their frames to local tool subprocesses.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/toolmesh/toolmesh/internal/catalog"
	"github.com/toolmesh/toolmesh/internal/jsonrpcid"
	"github.com/toolmesh/toolmesh/internal/logging"
	"github.com/toolmesh/toolmesh/internal/rpc"
	"github.com/toolmesh/toolmesh/internal/subprocess"
)

// State is the Endpoint Session's runtime state (spec.md §3).
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "disconnected"
	}
}

const (
	dialTimeout     = 10 * time.Second
	idlePingPeriod  = 30 * time.Second
	frameBufferSize = 64 // spec.md §4.3 per-direction backpressure buffer
)

// StatusSink receives Endpoint Session state transitions, written back to the
// Config Store's runtime status fields (spec.md §3).
type StatusSink interface {
	OnStatus(state State, lastError string)
}

// CatalogSink receives the result of the post-connect tools/list discovery
// call so the Bridge Supervisor can merge it into the catalog snapshot
// (spec.md §4.4).
type CatalogSink interface {
	OnCatalog(serverName string, tools []catalog.Tool)
}

// Session owns one WebSocket dial to one remote endpoint for one tool
// server, reconnecting with exponential backoff and splicing frames to a
// Subprocess Adapter while Open (spec.md §4.3).
type Session struct {
	endpointID string
	serverName string
	url        string
	dialHeader http.Header

	newAdapter func() *subprocess.Adapter
	status     StatusSink
	catalogOut CatalogSink
	log        *logging.Logger

	backoff *backoff

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewSession constructs an Endpoint Session. newAdapter must return a fresh,
// unstarted Adapter each call (a new child per dial, per spec.md §4.4 UPDATE
// semantics: "existing subprocess is torn down and respawned").
func NewSession(endpointID, serverName, url string, newAdapter func() *subprocess.Adapter, status StatusSink, catalogOut CatalogSink, backoffCap time.Duration) *Session {
	return &Session{
		endpointID: endpointID,
		serverName: serverName,
		url:        url,
		newAdapter: newAdapter,
		status:     status,
		catalogOut: catalogOut,
		log:        logging.New(fmt.Sprintf("bridge:session:%s/%s", endpointID, serverName)),
		backoff:    newBackoff(backoffCap),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Stop cancels any pending backoff and closes the session cooperatively
// (spec.md §5). It returns once the run loop has exited.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// Run is the Disconnected → Connecting → Open → Disconnected loop
// (spec.md §4.3). It blocks until Stop is called.
func (s *Session) Run(ctx context.Context) {
	defer close(s.done)

	for {
		select {
		case <-s.stop:
			return
		default:
		}

		s.status.OnStatus(StateConnecting, "")
		conn, err := s.dial(ctx)
		if err != nil {
			s.status.OnStatus(StateDisconnected, err.Error())
			if !s.wait(s.backoff.NextDelay()) {
				return
			}
			continue
		}

		openedAt := time.Now()
		s.backoff.MarkOpened(openedAt)
		s.status.OnStatus(StateOpen, "")

		adapter := s.newAdapter()
		if err := adapter.Start(ctx); err != nil {
			s.log.Printf("subprocess start failed: %v", err)
			_ = conn.Close()
			s.status.OnStatus(StateDisconnected, err.Error())
			s.backoff.MaybeReset(time.Now())
			if !s.wait(s.backoff.NextDelay()) {
				return
			}
			continue
		}

		s.discover(ctx, adapter)

		spliceDone := make(chan error, 1)
		go func() { spliceDone <- s.splice(ctx, conn, adapter) }()

		var spliceErr error
		stopped := false
		select {
		case spliceErr = <-spliceDone:
		case <-s.stop:
			// Open --stop()--> Closing --> Disconnected (spec.md §3).
			stopped = true
			s.status.OnStatus(StateClosing, "")
			_ = conn.Close()
			_ = adapter.Stop()
			spliceErr = <-spliceDone
		}

		_ = adapter.Stop()
		_ = conn.Close()
		s.backoff.MaybeReset(time.Now())

		if stopped {
			s.status.OnStatus(StateDisconnected, "")
			return
		}

		lastErr := ""
		if spliceErr != nil {
			lastErr = spliceErr.Error()
		}
		s.status.OnStatus(StateDisconnected, lastErr)
		if !s.wait(s.backoff.NextDelay()) {
			return
		}
	}
}

func (s *Session) wait(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.stop:
		return false
	case <-t.C:
		return true
	}
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	// The configured URL may carry query parameters the remote hub requires
	// (e.g. an auth token); it is passed through verbatim (spec.md §4.3).
	conn, _, err := dialer.DialContext(dialCtx, s.url, s.dialHeader)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.url, err)
	}
	return conn, nil
}

// discover injects one reserved-range tools/list request after Open and
// reports the resulting catalog (spec.md §4.4). Best-effort: a failure here
// does not tear down the splice.
func (s *Session) discover(ctx context.Context, adapter *subprocess.Adapter) {
	reqID := rpc.NewIntID(jsonrpcid.DiscoveryBase)
	req := map[string]any{"jsonrpc": "2.0", "id": reqID, "method": "tools/list"}
	raw, err := json.Marshal(req)
	if err != nil {
		return
	}
	if err := adapter.Write(raw); err != nil {
		s.log.Printf("tools/list discovery write failed: %v", err)
		return
	}

	timeout := time.NewTimer(5 * time.Second)
	defer timeout.Stop()
	frames := adapter.ReadFrames()
	for {
		select {
		case line, ok := <-frames:
			if !ok {
				return
			}
			f := rpc.Parse(line)
			if f.Kind != rpc.KindResponse || f.ID.String() != reqID.String() {
				continue
			}
			var resp struct {
				Result struct {
					Tools []json.RawMessage `json:"tools"`
				} `json:"result"`
			}
			if err := json.Unmarshal(line, &resp); err != nil {
				return
			}
			tools := make([]catalog.Tool, 0, len(resp.Result.Tools))
			for _, raw := range resp.Result.Tools {
				if t, err := catalog.FromRawListEntry(s.serverName, raw); err == nil {
					tools = append(tools, t)
				}
			}
			s.catalogOut.OnCatalog(s.serverName, tools)
			// Any frame consumed here before the match is one the splice loop
			// will never see (ReadFrames is the adapter's single shared
			// channel) — acceptable because discovery runs once, immediately
			// after Open, strictly before user traffic flows.
			return
		case <-timeout.C:
			s.log.Printf("tools/list discovery timed out")
			return
		case <-ctx.Done():
			return
		}
	}
}

