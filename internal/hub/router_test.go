package hub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/toolmesh/toolmesh/internal/config"
	"github.com/toolmesh/toolmesh/internal/logging"
)

type fakeOverrideSource struct {
	overrides []config.Override
}

func (f *fakeOverrideSource) ListOverrides() []config.Override { return f.overrides }

func newTestPeer(id string) *peer {
	return newPeer(id, nil, logging.New("test"))
}

func recv(t *testing.T, p *peer) map[string]any {
	t.Helper()
	select {
	case data := <-p.send:
		var v map[string]any
		if err := json.Unmarshal(data, &v); err != nil {
			t.Fatalf("unmarshal: %v (data=%s)", err, data)
		}
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for frame on peer %s", p.id)
		return nil
	}
}

func registerToolServer(t *testing.T, r *Router, id, name string, tools []string) *peer {
	t.Helper()
	p := newTestPeer(id)
	r.NotifyToolServerConnected(id, p)

	initReq := recv(t, p)
	reply(t, r, id, initReq["id"], map[string]any{"serverInfo": map[string]any{"name": name}})

	listReq := recv(t, p)
	var toolObjs []map[string]any
	for _, tn := range tools {
		toolObjs = append(toolObjs, map[string]any{"name": tn, "description": "d"})
	}
	reply(t, r, id, listReq["id"], map[string]any{"tools": toolObjs})
	return p
}

func reply(t *testing.T, r *Router, toolServerID string, id any, result any) {
	t.Helper()
	env := map[string]any{"jsonrpc": "2.0", "id": id, "result": result}
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal reply: %v", err)
	}
	r.NotifyToolServerFrame(toolServerID, raw)
}

func TestRouter_DispatchAndCorrelateResponse(t *testing.T) {
	r := NewRouter(nil)
	go r.Run(make(chan struct{}))

	tsPeer := registerToolServer(t, r, "ts1", "echo", []string{"ping"})

	browser := newTestPeer("b1")
	r.NotifyBrowserConnected("b1", browser)
	recv(t, browser) // initial status frame

	callReq := map[string]any{"jsonrpc": "2.0", "id": "browser-7", "method": "tools/call", "params": map[string]any{"name": "ping"}}
	raw, _ := json.Marshal(callReq)
	r.NotifyBrowserFrame("b1", raw)

	forwarded := recv(t, tsPeer)
	if forwarded["method"] != "tools/call" {
		t.Fatalf("expected tools/call forwarded, got %v", forwarded)
	}
	routerID := forwarded["id"]
	if routerID == "browser-7" {
		t.Fatalf("expected router to rewrite id, got same id back")
	}

	reply(t, r, "ts1", routerID, map[string]any{"ok": true})

	resp := recv(t, browser)
	if resp["id"] != "browser-7" {
		t.Fatalf("expected restored browser id 'browser-7', got %v", resp["id"])
	}
}

func TestRouter_ToolNotFound(t *testing.T) {
	r := NewRouter(nil)
	go r.Run(make(chan struct{}))

	browser := newTestPeer("b1")
	r.NotifyBrowserConnected("b1", browser)
	recv(t, browser)

	callReq := map[string]any{"jsonrpc": "2.0", "id": "x1", "method": "tools/call", "params": map[string]any{"name": "nope"}}
	raw, _ := json.Marshal(callReq)
	r.NotifyBrowserFrame("b1", raw)

	resp := recv(t, browser)
	errObj, ok := resp["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected an error response, got %v", resp)
	}
	if int(errObj["code"].(float64)) != -32601 {
		t.Fatalf("expected method-not-found code, got %v", errObj["code"])
	}
}

func TestRouter_ToolServerCloseIssuesBackendClosed(t *testing.T) {
	r := NewRouter(nil)
	go r.Run(make(chan struct{}))

	registerToolServer(t, r, "ts1", "echo", []string{"ping"})

	browser := newTestPeer("b1")
	r.NotifyBrowserConnected("b1", browser)
	recv(t, browser)

	callReq := map[string]any{"jsonrpc": "2.0", "id": "c1", "method": "tools/call", "params": map[string]any{"name": "ping"}}
	raw, _ := json.Marshal(callReq)
	r.NotifyBrowserFrame("b1", raw)

	r.NotifyToolServerClosed("ts1")

	// Status broadcast and the backend-closed error both land on the
	// browser's queue; find the error among them.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case data := <-browser.send:
			var v map[string]any
			_ = json.Unmarshal(data, &v)
			if errObj, ok := v["error"].(map[string]any); ok {
				if int(errObj["code"].(float64)) != -32002 {
					t.Fatalf("expected backend-closed code, got %v", errObj["code"])
				}
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for backend-closed error")
		}
	}
}

func TestRouter_DuplicateToolNameShadowing(t *testing.T) {
	r := NewRouter(nil)
	go r.Run(make(chan struct{}))

	ts1 := registerToolServer(t, r, "ts1", "first", []string{"shared"})
	ts2 := registerToolServer(t, r, "ts2", "second", []string{"shared"})

	browser := newTestPeer("b1")
	r.NotifyBrowserConnected("b1", browser)
	recv(t, browser)

	callReq := map[string]any{"jsonrpc": "2.0", "id": "x1", "method": "tools/call", "params": map[string]any{"name": "shared"}}
	raw, _ := json.Marshal(callReq)
	r.NotifyBrowserFrame("b1", raw)

	select {
	case <-ts1.send:
		t.Fatalf("expected the shadowed server (ts1) to receive nothing")
	case forwarded := <-ts2.send:
		var v map[string]any
		if err := json.Unmarshal(forwarded, &v); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if v["method"] != "tools/call" {
			t.Fatalf("expected tools/call on the latest registrant, got %v", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for dispatch to the latest registrant")
	}
}

// TestRouter_CustomNameCatalogAndRouting exercises an Override's
// custom_name/custom_description end to end: the aggregated catalog must
// show the alias and its description, and a tools/call addressed by that
// alias must still reach the tool server under its original name.
func TestRouter_CustomNameCatalogAndRouting(t *testing.T) {
	overrides := &fakeOverrideSource{overrides: []config.Override{
		{
			OverrideKey:       config.OverrideKey{ServerName: "echo", ToolName: "ping"},
			CustomName:        "ping-alias",
			CustomDescription: "renamed for browsers",
		},
	}}
	r := NewRouter(overrides)
	go r.Run(make(chan struct{}))

	tsPeer := registerToolServer(t, r, "ts1", "echo", []string{"ping"})

	browser := newTestPeer("b1")
	r.NotifyBrowserConnected("b1", browser)
	recv(t, browser) // initial status frame

	listReq := map[string]any{"jsonrpc": "2.0", "id": "l1", "method": "tools/list"}
	raw, _ := json.Marshal(listReq)
	r.NotifyBrowserFrame("b1", raw)

	resp := recv(t, browser)
	result, ok := resp["result"].(map[string]any)
	if !ok {
		t.Fatalf("expected a result, got %v", resp)
	}
	servers, ok := result["servers"].(map[string]any)
	if !ok {
		t.Fatalf("expected servers map, got %v", result)
	}
	tools, ok := servers["echo"].([]any)
	if !ok || len(tools) != 1 {
		t.Fatalf("expected one tool under echo, got %v", servers["echo"])
	}
	tool := tools[0].(map[string]any)
	if tool["name"] != "ping-alias" {
		t.Fatalf("expected catalog name 'ping-alias', got %v", tool["name"])
	}
	if tool["description"] != "renamed for browsers" {
		t.Fatalf("expected overridden description, got %v", tool["description"])
	}

	callReq := map[string]any{"jsonrpc": "2.0", "id": "c1", "method": "tools/call", "params": map[string]any{"name": "ping-alias"}}
	raw, _ = json.Marshal(callReq)
	r.NotifyBrowserFrame("b1", raw)

	forwarded := recv(t, tsPeer)
	if forwarded["method"] != "tools/call" {
		t.Fatalf("expected tools/call forwarded, got %v", forwarded)
	}
	params, ok := forwarded["params"].(map[string]any)
	if !ok || params["name"] != "ping" {
		t.Fatalf("expected the subprocess to see the original tool name 'ping', got %v", forwarded["params"])
	}
}

// TestRouter_DisabledOverrideRejectsCall confirms a disabled Override refuses
// to route a call to the tool by its original name, answering with -32601.
func TestRouter_DisabledOverrideRejectsCall(t *testing.T) {
	overrides := &fakeOverrideSource{overrides: []config.Override{
		{OverrideKey: config.OverrideKey{ServerName: "echo", ToolName: "ping"}, Disabled: true},
	}}
	r := NewRouter(overrides)
	go r.Run(make(chan struct{}))

	registerToolServer(t, r, "ts1", "echo", []string{"ping"})

	browser := newTestPeer("b1")
	r.NotifyBrowserConnected("b1", browser)
	recv(t, browser)

	callReq := map[string]any{"jsonrpc": "2.0", "id": "c1", "method": "tools/call", "params": map[string]any{"name": "ping"}}
	raw, _ := json.Marshal(callReq)
	r.NotifyBrowserFrame("b1", raw)

	resp := recv(t, browser)
	errObj, ok := resp["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected an error response, got %v", resp)
	}
	if int(errObj["code"].(float64)) != -32601 {
		t.Fatalf("expected method-not-found code, got %v", errObj["code"])
	}
}
