// Package wire holds the public, browser/tool-server-visible JSON shapes
// that are not themselves JSON-RPC frames (the status broadcast) plus the
// admin HTTP request/response bodies, in the same plain-struct-plus-typed-
// const style as the teacher's pkg/api/types.go and pkg/realtime/types.go.
package wire

// FrameType tags the non-JSON-RPC messages a Browser Session may receive
// (spec.md §4.5, §4.7). JSON-RPC frames carry no "type" field and are
// distinguished from these by the presence of "jsonrpc".
type FrameType string

const (
	FrameTypeStatus FrameType = "status"
)

// StatusFrame is broadcast to every Browser Session whenever the set of
// connected Tool-Server Sessions changes (spec.md §4.7) and once immediately
// after a Browser Session opens (spec.md §4.5: "the session receives a
// first status message").
type StatusFrame struct {
	Type         FrameType `json:"type"`
	MCPConnected bool      `json:"mcp_connected"`
	MCPServers   []string  `json:"mcp_servers"`
}

// EndpointPayload is the admin CRUD wire shape for a Config Store Endpoint.
type EndpointPayload struct {
	ID              string `json:"id,omitempty"`
	Name            string `json:"name"`
	URL             string `json:"url"`
	Enabled         bool   `json:"enabled"`
	ConnectionState string `json:"connection_status,omitempty"`
	LastConnectedAt *int64 `json:"last_connected_at,omitempty"`
	LastError       string `json:"last_error,omitempty"`
}

// ServerDefinitionPayload is the admin CRUD wire shape for a Server Definition.
type ServerDefinitionPayload struct {
	Name     string            `json:"name"`
	Kind     string            `json:"kind"`
	Command  string            `json:"command,omitempty"`
	Args     []string          `json:"args,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	URL      string            `json:"url,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	Disabled bool              `json:"disabled"`
}

// OverridePayload is the admin CRUD wire shape for a per-tool Override.
type OverridePayload struct {
	ServerName        string `json:"server_name"`
	ToolName          string `json:"tool_name"`
	Disabled          bool   `json:"disabled"`
	CustomName        string `json:"custom_name,omitempty"`
	CustomDescription string `json:"custom_description,omitempty"`
}

// CatalogResponse is the read-only aggregated-catalog wire shape served at
// GET /api/v1/catalog (SPEC_FULL.md supplemental Admin HTTP surface).
type CatalogResponse struct {
	Servers map[string][]CatalogTool `json:"servers"`
}

// CatalogTool is one tool entry within a CatalogResponse.
type CatalogTool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema any    `json:"inputSchema,omitempty"`
}

// ErrorPayload is the admin HTTP error body shape, mirroring the teacher's
// writeError helper (internal/api/handler.go).
type ErrorPayload struct {
	Error string `json:"error"`
}
