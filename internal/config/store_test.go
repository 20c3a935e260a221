package config

import (
	"errors"
	"testing"
)

func TestStore_CreateEndpointEmitsConnect(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	if _, err := store.CreateEndpoint(Endpoint{ID: "e1", Name: "primary", URL: "ws://example/mcp", Enabled: true}); err != nil {
		t.Fatalf("CreateEndpoint failed: %v", err)
	}

	select {
	case ev := <-store.Events():
		if ev.Kind != EventConnect || ev.Target != "e1" {
			t.Fatalf("expected CONNECT e1, got %+v", ev)
		}
	default:
		t.Fatal("expected a CONNECT event")
	}
}

func TestStore_CreateEndpointRejectsBadURL(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	_, err := store.CreateEndpoint(Endpoint{ID: "e1", Name: "bad", URL: "http://example/mcp"})
	if !errors.Is(err, ErrInvalidEndpoint) {
		t.Fatalf("expected ErrInvalidEndpoint, got %v", err)
	}
}

func TestStore_UpdateEndpointTransitions(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	store.CreateEndpoint(Endpoint{ID: "e1", Name: "primary", URL: "ws://a/mcp", Enabled: false})
	drain(store)

	if _, err := store.UpdateEndpoint("e1", func(e *Endpoint) { e.Enabled = true }); err != nil {
		t.Fatalf("UpdateEndpoint enable failed: %v", err)
	}
	mustEvent(t, store, EventConnect, "e1")

	if _, err := store.UpdateEndpoint("e1", func(e *Endpoint) { e.URL = "ws://b/mcp" }); err != nil {
		t.Fatalf("UpdateEndpoint url change failed: %v", err)
	}
	mustEvent(t, store, EventUpdate, "e1")

	if _, err := store.UpdateEndpoint("e1", func(e *Endpoint) { e.Enabled = false }); err != nil {
		t.Fatalf("UpdateEndpoint disable failed: %v", err)
	}
	mustEvent(t, store, EventDisconnect, "e1")
}

func TestStore_DeleteEnabledEndpointEmitsDisconnect(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	store.CreateEndpoint(Endpoint{ID: "e1", Name: "primary", URL: "ws://a/mcp", Enabled: true})
	drain(store)

	if err := store.DeleteEndpoint("e1"); err != nil {
		t.Fatalf("DeleteEndpoint failed: %v", err)
	}
	mustEvent(t, store, EventDisconnect, "e1")

	if _, err := store.GetEndpoint("e1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestStore_ServerAndOverrideChangesEmitReload(t *testing.T) {
	store, _ := NewStore(t.TempDir())

	if err := store.PutServer(ServerDefinition{Name: "echo", Kind: ServerKindStdio, Command: "echo"}); err != nil {
		t.Fatalf("PutServer failed: %v", err)
	}
	mustEvent(t, store, EventReload, "")

	if err := store.PutOverride(Override{OverrideKey: OverrideKey{ServerName: "echo", ToolName: "echo"}, Disabled: true}); err != nil {
		t.Fatalf("PutOverride failed: %v", err)
	}
	mustEvent(t, store, EventReload, "")
}

func TestStore_PutServerRejectsDuplicateValidation(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	err := store.PutServer(ServerDefinition{Name: "", Kind: ServerKindStdio, Command: "echo"})
	if !errors.Is(err, ErrInvalidServerDefinition) {
		t.Fatalf("expected ErrInvalidServerDefinition, got %v", err)
	}
}

func TestStore_PersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewStore(dir)
	store.CreateEndpoint(Endpoint{ID: "e1", Name: "primary", URL: "ws://a/mcp", Enabled: true})

	reopened, err := NewStore(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	got, err := reopened.GetEndpoint("e1")
	if err != nil {
		t.Fatalf("GetEndpoint after reopen failed: %v", err)
	}
	if got.URL != "ws://a/mcp" {
		t.Fatalf("expected persisted url, got %q", got.URL)
	}
}

func drain(store *Store) {
	for {
		select {
		case <-store.Events():
		default:
			return
		}
	}
}

func mustEvent(t *testing.T, store *Store, kind EventKind, target string) {
	t.Helper()
	select {
	case ev := <-store.Events():
		if ev.Kind != kind || ev.Target != target {
			t.Fatalf("expected %s %s, got %+v", kind, target, ev)
		}
	default:
		t.Fatalf("expected a %s event", kind)
	}
}
