// Command toolmeshctl is a thin CLI for Config Store CRUD (SPEC_FULL.md):
// it edits the same JSON files the Bridge and Hub share, relying on the
// Bridge's fsnotify watch (internal/config.Watcher) to pick up the change.
// The Hub runs no Watcher and does not reload these files while running.
//
// Grounded on cmd/orbitmesh-mcp/main.go's os.Args[1] command-mode dispatch:
// a mode string selects a registered handler, no flag-parsing framework.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/toolmesh/toolmesh/internal/config"
)

// generateID mints an Endpoint id, matching the Hub admin HTTP handler's own
// id-assignment behavior for created-without-id records.
func generateID() string { return uuid.NewString() }

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "toolmeshctl:", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 3 {
		usage()
		return fmt.Errorf("missing resource/action")
	}
	resource, action := os.Args[1], os.Args[2]
	args := os.Args[3:]

	store, err := config.NewStore(config.DefaultBaseDir())
	if err != nil {
		return fmt.Errorf("open config store: %w", err)
	}

	switch resource {
	case "endpoints":
		return endpointsCmd(store, action, args)
	case "servers":
		return serversCmd(store, action, args)
	case "overrides":
		return overridesCmd(store, action, args)
	default:
		usage()
		return fmt.Errorf("unknown resource %q", resource)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  toolmeshctl endpoints list
  toolmeshctl endpoints create <name> <url> [enabled]
  toolmeshctl endpoints enable <id>
  toolmeshctl endpoints disable <id>
  toolmeshctl endpoints set-url <id> <url>
  toolmeshctl endpoints delete <id>

  toolmeshctl servers list
  toolmeshctl servers put-stdio <name> <command> [args...]
  toolmeshctl servers delete <name>

  toolmeshctl overrides list
  toolmeshctl overrides disable <server> <tool>
  toolmeshctl overrides enable <server> <tool>
  toolmeshctl overrides rename <server> <tool> <custom-name> [custom-description]
  toolmeshctl overrides delete <server> <tool>`)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func endpointsCmd(store *config.Store, action string, args []string) error {
	switch action {
	case "list":
		return printJSON(store.ListEndpoints())
	case "create":
		if len(args) < 2 {
			return fmt.Errorf("usage: endpoints create <name> <url> [enabled]")
		}
		enabled := len(args) >= 3 && args[2] == "true"
		ep, err := store.CreateEndpoint(config.Endpoint{
			ID: generateID(), Name: args[0], URL: args[1], Enabled: enabled,
		})
		if err != nil {
			return err
		}
		return printJSON(ep)
	case "enable":
		return setEndpointEnabled(store, args, true)
	case "disable":
		return setEndpointEnabled(store, args, false)
	case "set-url":
		if len(args) < 2 {
			return fmt.Errorf("usage: endpoints set-url <id> <url>")
		}
		ep, err := store.UpdateEndpoint(args[0], func(e *config.Endpoint) { e.URL = args[1] })
		if err != nil {
			return err
		}
		return printJSON(ep)
	case "delete":
		if len(args) < 1 {
			return fmt.Errorf("usage: endpoints delete <id>")
		}
		return store.DeleteEndpoint(args[0])
	default:
		return fmt.Errorf("unknown endpoints action %q", action)
	}
}

func setEndpointEnabled(store *config.Store, args []string, enabled bool) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: endpoints enable|disable <id>")
	}
	ep, err := store.UpdateEndpoint(args[0], func(e *config.Endpoint) { e.Enabled = enabled })
	if err != nil {
		return err
	}
	return printJSON(ep)
}

func serversCmd(store *config.Store, action string, args []string) error {
	switch action {
	case "list":
		return printJSON(store.ListServers())
	case "put-stdio":
		if len(args) < 2 {
			return fmt.Errorf("usage: servers put-stdio <name> <command> [args...]")
		}
		sv := config.ServerDefinition{
			Name:    args[0],
			Kind:    config.ServerKindStdio,
			Command: args[1],
			Args:    args[2:],
		}
		if err := store.PutServer(sv); err != nil {
			return err
		}
		return printJSON(sv)
	case "delete":
		if len(args) < 1 {
			return fmt.Errorf("usage: servers delete <name>")
		}
		return store.DeleteServer(args[0])
	default:
		return fmt.Errorf("unknown servers action %q", action)
	}
}

func overridesCmd(store *config.Store, action string, args []string) error {
	switch action {
	case "list":
		return printJSON(store.ListOverrides())
	case "disable", "enable":
		if len(args) < 2 {
			return fmt.Errorf("usage: overrides %s <server> <tool>", action)
		}
		o := findOverride(store, args[0], args[1])
		o.Disabled = action == "disable"
		if err := store.PutOverride(o); err != nil {
			return err
		}
		return printJSON(o)
	case "rename":
		if len(args) < 3 {
			return fmt.Errorf("usage: overrides rename <server> <tool> <custom-name> [custom-description]")
		}
		o := findOverride(store, args[0], args[1])
		o.CustomName = args[2]
		if len(args) >= 4 {
			o.CustomDescription = args[3]
		}
		if err := store.PutOverride(o); err != nil {
			return err
		}
		return printJSON(o)
	case "delete":
		if len(args) < 2 {
			return fmt.Errorf("usage: overrides delete <server> <tool>")
		}
		return store.DeleteOverride(config.OverrideKey{ServerName: args[0], ToolName: args[1]})
	default:
		return fmt.Errorf("unknown overrides action %q", action)
	}
}

func findOverride(store *config.Store, server, tool string) config.Override {
	key := config.OverrideKey{ServerName: server, ToolName: tool}
	for _, o := range store.ListOverrides() {
		if o.OverrideKey == key {
			return o
		}
	}
	return config.Override{OverrideKey: key}
}
