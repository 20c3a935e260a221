// Package config implements the Config Store (spec.md §4.1): persistence for
// Endpoint, Server Definition, and Override records, plus a change-event
// stream that the Bridge Supervisor consumes to keep its live session set in
// sync.
package config

import "fmt"

// ConnectionStatus is an Endpoint's runtime connectivity state as observed by
// the Bridge Supervisor.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusError        ConnectionStatus = "error"
)

// Endpoint identifies one remote Hub the Bridge should dial (spec.md §3).
type Endpoint struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	URL             string           `json:"url"`
	Enabled         bool             `json:"enabled"`
	ConnectionState ConnectionStatus `json:"connection_status"`
	LastConnectedAt *int64           `json:"last_connected_at,omitempty"` // unix seconds
	LastError       string           `json:"last_error,omitempty"`
}

func (e Endpoint) validate() error {
	if e.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidEndpoint)
	}
	if !hasWSScheme(e.URL) {
		return fmt.Errorf("%w: url must begin with ws:// or wss://", ErrInvalidEndpoint)
	}
	return nil
}

func hasWSScheme(url string) bool {
	return len(url) >= 5 && (url[:5] == "ws://" || (len(url) >= 6 && url[:6] == "wss://"))
}

// ServerKind distinguishes how a Server Definition is materialized.
type ServerKind string

const (
	ServerKindStdio ServerKind = "stdio"
	ServerKindHTTP  ServerKind = "http"
)

// ServerDefinition configures one tool subprocess (spec.md §3).
type ServerDefinition struct {
	Name     string            `json:"name"`
	Kind     ServerKind        `json:"kind"`
	Command  string            `json:"command,omitempty"`
	Args     []string          `json:"args,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	URL      string            `json:"url,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	Disabled bool              `json:"disabled"`
}

func (s ServerDefinition) validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidServerDefinition)
	}
	switch s.Kind {
	case ServerKindStdio:
		if s.Command == "" {
			return fmt.Errorf("%w: command is required for stdio servers", ErrInvalidServerDefinition)
		}
	case ServerKindHTTP:
		if s.URL == "" {
			return fmt.Errorf("%w: url is required for http servers", ErrInvalidServerDefinition)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidServerDefinition, s.Kind)
	}
	return nil
}

// OverrideKey identifies an Override by the (server, tool) pair it targets.
type OverrideKey struct {
	ServerName string `json:"server_name"`
	ToolName   string `json:"tool_name"`
}

// Override carries per-tool administrative flags (spec.md §3).
type Override struct {
	OverrideKey
	Disabled            bool   `json:"disabled"`
	CustomName          string `json:"custom_name,omitempty"`
	CustomDescription   string `json:"custom_description,omitempty"`
}
