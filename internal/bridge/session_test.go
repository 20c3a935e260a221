package bridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/toolmesh/toolmesh/internal/catalog"
	"github.com/toolmesh/toolmesh/internal/subprocess"
)

type recordingStatus struct {
	mu     chan struct{}
	states []State
}

func newRecordingStatus() *recordingStatus {
	return &recordingStatus{mu: make(chan struct{}, 64)}
}

func (r *recordingStatus) OnStatus(state State, lastError string) {
	r.states = append(r.states, state)
	select {
	case r.mu <- struct{}{}:
	default:
	}
}

type recordingCatalog struct {
	got chan []catalog.Tool
}

func (r *recordingCatalog) OnCatalog(serverName string, tools []catalog.Tool) {
	select {
	case r.got <- tools:
	default:
	}
}

// echoServer runs a minimal WebSocket server that echoes every text frame
// back verbatim, standing in for a remote Hub's Tool-Server Session endpoint.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
}

func TestSession_ConnectsAndReportsOpen(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}

	srv := echoServer(t)
	defer srv.Close()
	wsURL := "ws" + srv.URL[len("http"):]

	status := newRecordingStatus()
	catOut := &recordingCatalog{got: make(chan []catalog.Tool, 1)}

	newAdapter := func() *subprocess.Adapter {
		return subprocess.New(subprocess.Config{Command: "cat"})
	}

	sess := NewSession("ep1", "echo-server", wsURL, newAdapter, status, catOut, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sess.Run(ctx)

	deadline := time.After(5 * time.Second)
	for sawOpen := false; !sawOpen; {
		select {
		case <-status.mu:
			for _, st := range status.states {
				if st == StateOpen {
					sawOpen = true
				}
			}
		case <-deadline:
			t.Fatalf("timed out waiting for Open state, saw: %v", status.states)
		}
	}

	sess.Stop()
}
