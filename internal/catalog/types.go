// Package catalog models the Tool Catalog (spec.md §3) and the on-disk
// snapshot file the Bridge Supervisor writes for the Config Store's admin
// tooling to read (spec.md §4.4, §6).
package catalog

import (
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"
)

// Tool is a derived descriptor of one callable tool, discovered via a
// subprocess's tools/list response. It is never authored directly.
type Tool struct {
	ServerName  string             `json:"-"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	InputSchema *jsonschema.Schema `json:"inputSchema,omitempty"`
}

// FromRawListEntry converts one raw tools/list result entry into a Tool.
// inputSchema arrives as an untyped JSON value; it is round-tripped through
// jsonschema.Schema the same way the pack's oubliette client converts an
// `any` schema before handing it to an MCP SDK call.
func FromRawListEntry(serverName string, raw json.RawMessage) (Tool, error) {
	var entry struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		InputSchema json.RawMessage `json:"inputSchema"`
	}
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Tool{}, err
	}

	t := Tool{ServerName: serverName, Name: entry.Name, Description: entry.Description}
	if len(entry.InputSchema) > 0 {
		schema := &jsonschema.Schema{}
		if err := json.Unmarshal(entry.InputSchema, schema); err != nil {
			schema = &jsonschema.Schema{Type: "object"}
		}
		t.InputSchema = schema
	} else {
		t.InputSchema = &jsonschema.Schema{Type: "object"}
	}
	return t, nil
}
