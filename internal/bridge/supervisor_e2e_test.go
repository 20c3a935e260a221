package bridge_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/toolmesh/toolmesh/internal/authclient"
	"github.com/toolmesh/toolmesh/internal/bridge"
	"github.com/toolmesh/toolmesh/internal/config"
	"github.com/toolmesh/toolmesh/internal/hub"
)

// TestMain intercepts a re-exec of this test binary acting as the stdio tool
// server child (spec.md §4.2's Subprocess Adapter spawns a real OS process,
// so the end-to-end test needs a real one too). This is the standard
// self-reexec trick from the standard library's own os/exec tests, used here
// instead of a separate compiled fixture binary.
func TestMain(m *testing.M) {
	if os.Getenv("TOOLMESH_E2E_HELPER") == "1" {
		runEchoToolServer()
		return
	}
	os.Exit(m.Run())
}

// runEchoToolServer speaks the subprocess stdio protocol (spec.md §6):
// newline-delimited JSON-RPC. It answers tools/list with one "echo" tool and
// answers every tools/call by echoing params.arguments back in the result.
func runEchoToolServer() {
	dec := json.NewDecoder(os.Stdin)
	for {
		var req struct {
			JSONRPC string          `json:"jsonrpc"`
			ID      json.RawMessage `json:"id"`
			Method  string          `json:"method"`
			Params  json.RawMessage `json:"params"`
		}
		if err := dec.Decode(&req); err != nil {
			return
		}
		switch req.Method {
		case "initialize":
			writeFrame(map[string]any{
				"jsonrpc": "2.0", "id": rawID(req.ID),
				"result": map[string]any{"serverInfo": map[string]any{"name": "echo-server"}},
			})
		case "tools/list":
			writeFrame(map[string]any{
				"jsonrpc": "2.0", "id": rawID(req.ID),
				"result": map[string]any{"tools": []map[string]any{
					{"name": "echo", "description": "echoes arguments", "inputSchema": map[string]any{"type": "object"}},
				}},
			})
		case "tools/call":
			var params struct {
				Arguments json.RawMessage `json:"arguments"`
			}
			_ = json.Unmarshal(req.Params, &params)
			writeFrame(map[string]any{
				"jsonrpc": "2.0", "id": rawID(req.ID),
				"result": map[string]any{"echoed": rawID(params.Arguments)},
			})
		}
	}
}

func rawID(v json.RawMessage) any {
	if len(v) == 0 {
		return nil
	}
	return json.RawMessage(v)
}

func writeFrame(v any) {
	data, _ := json.Marshal(v)
	os.Stdout.Write(data)
	os.Stdout.Write([]byte("\n"))
}

// TestS1_HappyPathEndToEnd wires a real Hub (internal/hub.Router behind
// httptest) and a real Bridge Supervisor dialing it, with a real stdio
// subprocess, then drives a browser WebSocket client through a tools/call
// exactly as spec.md §8 scenario S1 describes.
func TestS1_HappyPathEndToEnd(t *testing.T) {
	store, err := config.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	router := hub.NewRouter(store)
	routerStop := make(chan struct{})
	go router.Run(routerStop)
	defer close(routerStop)

	r := chi.NewRouter()
	handler := hub.NewAdminHandler(store, router, authclient.AllowAllValidator{}, "", "/", "/mcp")
	handler.Mount(r)

	srv := httptest.NewServer(r)
	defer srv.Close()
	wsBase := "ws" + strings.TrimPrefix(srv.URL, "http")

	sv := config.ServerDefinition{
		Name:    "echo-server",
		Kind:    config.ServerKindStdio,
		Command: os.Args[0],
		Args:    []string{"-test.run=^TestMain$"},
		Env:     map[string]string{"TOOLMESH_E2E_HELPER": "1"},
	}
	if err := store.PutServer(sv); err != nil {
		t.Fatalf("PutServer: %v", err)
	}

	if _, err := store.CreateEndpoint(config.Endpoint{
		ID: "ep1", Name: "local-hub", URL: wsBase + "/mcp?token=x", Enabled: true,
	}); err != nil {
		t.Fatalf("CreateEndpoint: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup := bridge.NewSupervisor(store, store, func() int { return 1 }, "", time.Second)
	go sup.Run(ctx)

	// Wait for the Bridge's Tool-Server Session to register with the Hub and
	// for discovery to populate the "echo" tool.
	deadline := time.Now().Add(10 * time.Second)
	for {
		found := false
		// Poll via a direct tools/list through a throwaway browser connection.
		conn, _, err := websocket.DefaultDialer.Dial(wsBase+"/?token=x", nil)
		if err == nil {
			_, _, _ = conn.ReadMessage() // initial status frame
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
			_, data, err2 := conn.ReadMessage()
			conn.Close()
			if err2 == nil {
				var resp struct {
					Result struct {
						Servers map[string][]any `json:"servers"`
					} `json:"result"`
				}
				if json.Unmarshal(data, &resp) == nil && len(resp.Result.Servers["echo-server"]) > 0 {
					found = true
				}
			}
		}
		if found {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for echo-server tool to register")
		}
		time.Sleep(100 * time.Millisecond)
	}

	browser, _, err := websocket.DefaultDialer.Dial(wsBase+"/?token=x", nil)
	if err != nil {
		t.Fatalf("browser dial: %v", err)
	}
	defer browser.Close()
	_, _, _ = browser.ReadMessage() // initial status frame

	call := `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"echo","arguments":{"x":1}}}`
	if err := browser.WriteMessage(websocket.TextMessage, []byte(call)); err != nil {
		t.Fatalf("write tools/call: %v", err)
	}

	browser.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := browser.ReadMessage()
	if err != nil {
		t.Fatalf("read response: %v", err)
	}

	var got struct {
		ID     float64 `json:"id"`
		Result struct {
			Echoed map[string]any `json:"echoed"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal response %s: %v", data, err)
	}
	if got.ID != 7 {
		t.Fatalf("expected id 7, got %v", got.ID)
	}
	if got.Result.Echoed["x"] != float64(1) {
		t.Fatalf("expected echoed x=1, got %+v", got.Result.Echoed)
	}
}
