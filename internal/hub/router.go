package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/toolmesh/toolmesh/internal/catalog"
	"github.com/toolmesh/toolmesh/internal/config"
	"github.com/toolmesh/toolmesh/internal/jsonrpcid"
	"github.com/toolmesh/toolmesh/internal/logging"
	"github.com/toolmesh/toolmesh/internal/rpc"
)

// ErrNoSuchTool names the condition where tools/call names a tool no
// registered Tool-Server Session advertises. The router does not return this
// value; it answers the browser with a -32601 JSON-RPC error instead.
var ErrNoSuchTool = errors.New("hub: no tool-server session advertises this tool")

// OverrideSource supplies the per-tool administrative flags the router
// applies when building the aggregated catalog (spec.md §4.7: "tools/list
// returns the aggregated, override-filtered catalog").
type OverrideSource interface {
	ListOverrides() []config.Override
}

type toolServerEntry struct {
	id    string
	name  string
	p     *peer
	tools []catalog.Tool
}

// purpose distinguishes what a Pending Request is for, since the table is
// shared between router-internal handshake calls (initialize, tools/list
// against a freshly connected Tool-Server Session) and browser-originated
// tools/call dispatch (spec.md §4.6, §4.7).
type purpose string

const (
	purposeInitialize purpose = "initialize"
	purposeToolsList  purpose = "tools/list"
	purposeCall       purpose = "tools/call"
)

type inboxMsg any

type msgToolServerConnected struct {
	id string
	p  *peer
}
type msgToolServerFrame struct {
	id  string
	raw json.RawMessage
}
type msgToolServerClosed struct{ id string }

type msgBrowserConnected struct {
	id string
	p  *peer
}
type msgBrowserFrame struct {
	id  string
	raw json.RawMessage
}
type msgBrowserClosed struct{ id string }

type msgRequestTimeout struct{ routerID rpc.ID }

// Router is the Hub Router (C7, spec.md §4.7): a single serializing task
// (spec.md §5) that owns the tool-server registry, the tool-name index, and
// the pending-request table. All external interaction happens by posting to
// its inbox; Router.Run is the only goroutine that ever mutates its state.
//
// Grounded on the teacher's dockSessionBridge (internal/api/dock_bridge.go)
// for the pending/response-correlation shape, generalized from one fixed
// dock session to an arbitrary named tool-server registry, and on
// internal/service/events.go's single-owner-inbox idiom for the
// serialization guarantee spec.md §5 requires.
type Router struct {
	log       *logging.Logger
	inbox     chan inboxMsg
	ids       *jsonrpcid.Allocator
	overrides OverrideSource

	toolServers map[string]*toolServerEntry // connection id -> entry
	toolIndex   map[string]string           // tool name -> connection id
	browsers    map[string]*peer
	pending     *pendingTable
}

// NewRouter constructs a Router. overrides may be nil, in which case no tool
// is ever filtered or renamed.
func NewRouter(overrides OverrideSource) *Router {
	return &Router{
		log:         logging.New("hub:router"),
		inbox:       make(chan inboxMsg, 256),
		ids:         jsonrpcid.NewAllocator(),
		overrides:   overrides,
		toolServers: make(map[string]*toolServerEntry),
		toolIndex:   make(map[string]string),
		browsers:    make(map[string]*peer),
		pending:     newPendingTable(),
	}
}

// Run processes the inbox until stop is closed. It is the Router's only
// goroutine; every handler below runs on it exclusively.
func (r *Router) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case m := <-r.inbox:
			r.handle(m)
		}
	}
}

func (r *Router) handle(m inboxMsg) {
	switch msg := m.(type) {
	case msgToolServerConnected:
		r.onToolServerConnected(msg.id, msg.p)
	case msgToolServerFrame:
		r.onToolServerFrame(msg.id, msg.raw)
	case msgToolServerClosed:
		r.onToolServerClosed(msg.id)
	case msgBrowserConnected:
		r.onBrowserConnected(msg.id, msg.p)
	case msgBrowserFrame:
		r.onBrowserFrame(msg.id, msg.raw)
	case msgBrowserClosed:
		r.onBrowserClosed(msg.id)
	case msgRequestTimeout:
		r.onRequestTimeout(msg.routerID)
	}
}

// ── Posting API (called from Session goroutines) ───────────────────────────

func (r *Router) NotifyToolServerConnected(id string, p *peer) {
	r.inbox <- msgToolServerConnected{id: id, p: p}
}
func (r *Router) NotifyToolServerFrame(id string, raw json.RawMessage) {
	r.inbox <- msgToolServerFrame{id: id, raw: raw}
}
func (r *Router) NotifyToolServerClosed(id string) {
	r.inbox <- msgToolServerClosed{id: id}
}
func (r *Router) NotifyBrowserConnected(id string, p *peer) {
	r.inbox <- msgBrowserConnected{id: id, p: p}
}
func (r *Router) NotifyBrowserFrame(id string, raw json.RawMessage) {
	r.inbox <- msgBrowserFrame{id: id, raw: raw}
}
func (r *Router) NotifyBrowserClosed(id string) {
	r.inbox <- msgBrowserClosed{id: id}
}

// ── Tool-Server Session lifecycle ───────────────────────────────────────────

func (r *Router) onToolServerConnected(id string, p *peer) {
	r.toolServers[id] = &toolServerEntry{id: id, p: p}
	r.sendInitialize(id)
}

func (r *Router) sendInitialize(id string) {
	entry, ok := r.toolServers[id]
	if !ok {
		return
	}
	routerID := rpc.NewIntID(r.ids.Next())
	req := map[string]any{"jsonrpc": "2.0", "id": routerID, "method": "initialize", "params": map[string]any{}}
	raw, err := json.Marshal(req)
	if err != nil {
		return
	}
	r.recordPending(routerID, "", rpc.ID{}, id, purposeInitialize, ListTimeout)
	entry.p.Send(raw)
}

func (r *Router) sendToolsList(id string) {
	entry, ok := r.toolServers[id]
	if !ok {
		return
	}
	routerID := rpc.NewIntID(r.ids.Next())
	req := map[string]any{"jsonrpc": "2.0", "id": routerID, "method": "tools/list"}
	raw, err := json.Marshal(req)
	if err != nil {
		return
	}
	r.recordPending(routerID, "", rpc.ID{}, id, purposeToolsList, ListTimeout)
	entry.p.Send(raw)
}

func (r *Router) onToolServerClosed(id string) {
	delete(r.toolServers, id)
	for name, owner := range r.toolIndex {
		if owner == id {
			delete(r.toolIndex, name)
		}
	}
	for _, entry := range r.pending.takeAllForSession(id) {
		if entry.Req.purpose() == purposeCall {
			r.replyError(entry.Req.browserID, entry.Req.browserReqID, rpc.CodeBackendClosed, "Backend closed")
		}
	}
	r.broadcastStatus()
}

func (r *Router) onToolServerFrame(id string, raw json.RawMessage) {
	f := rpc.Parse(raw)
	switch f.Kind {
	case rpc.KindResponse:
		r.onToolServerResponse(id, f)
	case rpc.KindRequest, rpc.KindNotification:
		// Server-pushed requests/notifications from a tool server into the
		// Hub are undecided by design (spec.md §9 Open Questions); dropped
		// rather than guessed at.
		r.log.Printf("dropping unsolicited %v frame from tool-server session %s", f.Kind, id)
	default:
		r.log.Printf("dropping malformed frame from tool-server session %s", id)
	}
}

func (r *Router) onToolServerResponse(id string, f rpc.Frame) {
	p, ok := r.pending.take(f.ID)
	if !ok {
		r.log.Printf("no pending request for response id %s from %s", f.ID.String(), id)
		return
	}
	switch p.purpose() {
	case purposeInitialize:
		r.handleInitializeResult(id, f)
	case purposeToolsList:
		r.handleToolsListResult(id, f)
	case purposeCall:
		r.forwardCallResult(p, f)
	}
}

func (r *Router) handleInitializeResult(id string, f rpc.Frame) {
	var body struct {
		Result struct {
			ServerInfo struct {
				Name string `json:"name"`
			} `json:"serverInfo"`
		} `json:"result"`
	}
	name := id
	if err := json.Unmarshal(f.Raw, &body); err == nil && body.Result.ServerInfo.Name != "" {
		name = body.Result.ServerInfo.Name
	}
	if entry, ok := r.toolServers[id]; ok {
		entry.name = name
	}
	r.sendToolsList(id)
}

func (r *Router) handleToolsListResult(id string, f rpc.Frame) {
	entry, ok := r.toolServers[id]
	if !ok {
		return
	}
	var body struct {
		Result struct {
			Tools []json.RawMessage `json:"tools"`
		} `json:"result"`
	}
	if err := json.Unmarshal(f.Raw, &body); err != nil {
		r.log.Printf("malformed tools/list result from %s: %v", id, err)
		return
	}

	name := entry.name
	if name == "" {
		name = id
	}
	tools := make([]catalog.Tool, 0, len(body.Result.Tools))
	for _, raw := range body.Result.Tools {
		t, err := catalog.FromRawListEntry(name, raw)
		if err != nil {
			continue
		}
		tools = append(tools, t)
		if owner, exists := r.toolIndex[t.Name]; exists && owner != id {
			r.log.Printf("tool %q re-registered by %s, shadowing %s", t.Name, id, owner)
		}
		r.toolIndex[t.Name] = id
	}
	entry.tools = tools
	r.broadcastStatus()
}

func (r *Router) forwardCallResult(p *pendingRequest, f rpc.Frame) {
	restored, err := f.WithID(p.browserReqID)
	if err != nil {
		r.log.Printf("failed to restore browser id: %v", err)
		return
	}
	r.sendToBrowser(p.browserID, restored.Raw)
}

// ── Browser Session lifecycle ───────────────────────────────────────────────

func (r *Router) onBrowserConnected(id string, p *peer) {
	r.browsers[id] = p
	p.Send(r.statusFrameJSON())
}

func (r *Router) onBrowserClosed(id string) {
	delete(r.browsers, id)
	r.pending.dropAllForBrowser(id)
}

func (r *Router) onBrowserFrame(browserID string, raw json.RawMessage) {
	f := rpc.Parse(raw)
	switch f.Kind {
	case rpc.KindNotification:
		return // keep-alive or similar; spec.md §4.5 says ignore
	case rpc.KindResponse:
		r.log.Printf("dropping unexpected response frame from browser %s", browserID)
		return
	case rpc.KindInvalid:
		r.log.Printf("dropping malformed frame from browser %s", browserID)
		return
	}

	switch f.Method {
	case "tools/call":
		r.dispatchCall(browserID, f)
	case "tools/list":
		r.replyToolsList(browserID, f)
	case "initialize":
		r.replyInitialize(browserID, f)
	default:
		r.replyError(browserID, f.ID, rpc.CodeMethodNotFound, fmt.Sprintf("method not found: %s", f.Method))
	}
}

func (r *Router) dispatchCall(browserID string, f rpc.Frame) {
	var params struct {
		Name string `json:"name"`
	}
	var env struct {
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(f.Raw, &env); err == nil {
		_ = json.Unmarshal(env.Params, &params)
	}

	toolServerID, originalName, ok := r.resolveCallTarget(params.Name)
	if !ok {
		r.replyError(browserID, f.ID, rpc.CodeMethodNotFound, fmt.Sprintf("Method not found: %s", params.Name))
		return
	}
	entry, ok := r.toolServers[toolServerID]
	if !ok {
		r.replyError(browserID, f.ID, rpc.CodeBackendClosed, "Backend closed")
		return
	}

	routerID := rpc.NewIntID(r.ids.Next())
	rewritten, err := f.WithID(routerID)
	if err != nil {
		r.replyError(browserID, f.ID, rpc.CodeMethodNotFound, "internal error rewriting request id")
		return
	}
	// A custom_name override is cosmetic at the catalog but the subprocess
	// only knows its own original tool name; restore it before forwarding.
	if originalName != params.Name {
		rewritten, err = rewritten.WithParamsName(originalName)
		if err != nil {
			r.replyError(browserID, f.ID, rpc.CodeMethodNotFound, "internal error rewriting tool name")
			return
		}
	}
	r.recordPending(routerID, browserID, f.ID, toolServerID, purposeCall, CallTimeout)
	entry.p.Send(rewritten.Raw)
}

// resolveCallTarget finds the Tool-Server Session owning the tool a browser
// named in a tools/call request, honoring Override.custom_name and refusing
// a tool disabled via Override (spec.md §3: "a disabled override removes the
// tool from the advertised catalog ... but does not stop the subprocess" —
// it also must not be callable, matching S4's −32601 expectation).
func (r *Router) resolveCallTarget(requestedName string) (toolServerID, originalName string, ok bool) {
	disabled := r.disabledOverrides()
	customNames := r.customNamesByServer()

	for id, entry := range r.toolServers {
		for _, t := range entry.tools {
			key := config.OverrideKey{ServerName: entry.name, ToolName: t.Name}
			if disabled[key] {
				continue
			}
			advertised := t.Name
			if custom, ok2 := customNames[key]; ok2 && custom != "" {
				advertised = custom
			}
			if advertised != requestedName {
				continue
			}
			// Latest registrant wins when several sessions advertise the
			// same tool name (toolIndex records the most recent owner).
			if r.toolIndex[t.Name] == id {
				return id, t.Name, true
			}
			if !ok {
				toolServerID, originalName, ok = id, t.Name, true
			}
		}
	}
	return toolServerID, originalName, ok
}

func (r *Router) customNamesByServer() map[config.OverrideKey]string {
	out := map[config.OverrideKey]string{}
	if r.overrides == nil {
		return out
	}
	for _, o := range r.overrides.ListOverrides() {
		if o.CustomName != "" {
			out[o.OverrideKey] = o.CustomName
		}
	}
	return out
}

func (r *Router) replyToolsList(browserID string, f rpc.Frame) {
	servers := map[string][]wireCatalogTool{}
	disabled := r.disabledOverrides()
	overrides := r.overridesByKey()
	for _, entry := range r.toolServers {
		if entry.name == "" {
			continue
		}
		for _, t := range entry.tools {
			key := config.OverrideKey{ServerName: entry.name, ToolName: t.Name}
			if disabled[key] {
				continue
			}
			name, description := t.Name, t.Description
			if o, ok := overrides[key]; ok {
				if o.CustomName != "" {
					name = o.CustomName
				}
				if o.CustomDescription != "" {
					description = o.CustomDescription
				}
			}
			servers[entry.name] = append(servers[entry.name], wireCatalogTool{
				Name: name, Description: description, InputSchema: t.InputSchema,
			})
		}
	}
	result := map[string]any{"servers": servers}
	r.replyResult(browserID, f.ID, result)
}

func (r *Router) disabledOverrides() map[config.OverrideKey]bool {
	out := map[config.OverrideKey]bool{}
	if r.overrides == nil {
		return out
	}
	for _, o := range r.overrides.ListOverrides() {
		if o.Disabled {
			out[o.OverrideKey] = true
		}
	}
	return out
}

func (r *Router) overridesByKey() map[config.OverrideKey]config.Override {
	out := map[config.OverrideKey]config.Override{}
	if r.overrides == nil {
		return out
	}
	for _, o := range r.overrides.ListOverrides() {
		out[o.OverrideKey] = o
	}
	return out
}

func (r *Router) replyInitialize(browserID string, f rpc.Frame) {
	result := map[string]any{
		"protocolVersion": "2024-11-05",
		"serverInfo":      map[string]any{"name": "toolmesh-hub"},
	}
	r.replyResult(browserID, f.ID, result)
}

func (r *Router) replyResult(browserID string, id rpc.ID, result any) {
	env := map[string]any{"jsonrpc": "2.0", "id": id, "result": result}
	raw, err := json.Marshal(env)
	if err != nil {
		return
	}
	r.sendToBrowser(browserID, raw)
}

func (r *Router) replyError(browserID string, id rpc.ID, code int, message string) {
	frame := rpc.NewErrorResponse(id, code, message)
	r.sendToBrowser(browserID, frame.Raw)
}

func (r *Router) sendToBrowser(browserID string, raw json.RawMessage) {
	if p, ok := r.browsers[browserID]; ok {
		p.Send(raw)
	}
}

// ── Status broadcast (spec.md §4.7) ─────────────────────────────────────────

func (r *Router) broadcastStatus() {
	data := r.statusFrameJSON()
	for _, p := range r.browsers {
		p.Send(data)
	}
}

func (r *Router) statusFrameJSON() json.RawMessage {
	names := make([]string, 0, len(r.toolServers))
	for _, entry := range r.toolServers {
		if entry.name != "" {
			names = append(names, entry.name)
		}
	}
	frame := map[string]any{
		"type":          "status",
		"mcp_connected": len(names) > 0,
		"mcp_servers":   names,
	}
	raw, _ := json.Marshal(frame)
	return raw
}

type wireCatalogTool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema any    `json:"inputSchema,omitempty"`
}

// ── Pending Request bookkeeping ─────────────────────────────────────────────

func (r *Router) recordPending(routerID rpc.ID, browserID string, browserReqID rpc.ID, toolServer string, purp purpose, timeout time.Duration) {
	p := &pendingRequest{
		browserID:    browserID,
		browserReqID: browserReqID,
		toolServer:   toolServer,
		expiresAt:    time.Now().Add(timeout),
	}
	p.setPurpose(purp)
	r.pending.put(routerID, p)
	p.timeoutTimer = time.AfterFunc(timeout, func() {
		r.inbox <- msgRequestTimeout{routerID: routerID}
	})
}

func (r *Router) onRequestTimeout(routerID rpc.ID) {
	p, ok := r.pending.take(routerID)
	if !ok {
		return // already resolved
	}
	if p.purpose() == purposeCall {
		r.replyError(p.browserID, p.browserReqID, rpc.CodeRequestTimeout, "Request timeout")
	}
}
