package hub

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/toolmesh/toolmesh/internal/authclient"
	"github.com/toolmesh/toolmesh/internal/catalog"
	"github.com/toolmesh/toolmesh/internal/config"
	"github.com/toolmesh/toolmesh/pkg/wire"
)

// AdminHandler exposes the Config Store's CRUD surface and the read-only
// aggregated catalog over HTTP, plus the two WebSocket upgrade endpoints and
// a Prometheus metrics endpoint (SPEC_FULL.md supplemental Admin HTTP
// surface and Domain Stack section).
//
// Grounded on the teacher's Handler.Mount (internal/api/handler.go): one
// struct per process wiring a chi.Router with one method per route, and
// writeError/json.NewEncoder for response bodies.
type AdminHandler struct {
	store       *config.Store
	router      *Router
	auth        authclient.Validator
	catalogPath string
	browserPath string
	toolPath    string
}

// NewAdminHandler constructs an AdminHandler. browserPath/toolPath configure
// where the two WebSocket upgrade endpoints are mounted (spec.md §4.5 "a
// distinguished path (default `/`)", §4.6 "(default `/mcp`)").
func NewAdminHandler(store *config.Store, router *Router, auth authclient.Validator, catalogPath, browserPath, toolPath string) *AdminHandler {
	return &AdminHandler{
		store:       store,
		router:      router,
		auth:        auth,
		catalogPath: catalogPath,
		browserPath: browserPath,
		toolPath:    toolPath,
	}
}

// Mount registers every Hub route on r.
func (h *AdminHandler) Mount(r chi.Router) {
	r.Get(h.browserPath, h.router.ServeBrowserWS(h.auth))
	r.Get(h.toolPath, h.router.ServeToolServerWS(h.auth))

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/api/v1/catalog", h.getCatalog)

	r.Get("/api/v1/endpoints", h.listEndpoints)
	r.Post("/api/v1/endpoints", h.createEndpoint)
	r.Put("/api/v1/endpoints/{id}", h.updateEndpoint)
	r.Delete("/api/v1/endpoints/{id}", h.deleteEndpoint)

	r.Get("/api/v1/servers", h.listServers)
	r.Put("/api/v1/servers/{name}", h.putServer)
	r.Delete("/api/v1/servers/{name}", h.deleteServer)

	r.Get("/api/v1/overrides", h.listOverrides)
	r.Put("/api/v1/overrides/{server}/{tool}", h.putOverride)
	r.Delete("/api/v1/overrides/{server}/{tool}", h.deleteOverride)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, wire.ErrorPayload{Error: message})
}

func (h *AdminHandler) getCatalog(w http.ResponseWriter, r *http.Request) {
	snap, err := catalog.ReadSnapshot(h.catalogPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := wire.CatalogResponse{Servers: map[string][]wire.CatalogTool{}}
	for name, tools := range snap.Servers {
		for _, t := range tools {
			resp.Servers[name] = append(resp.Servers[name], wire.CatalogTool{
				Name: t.Name, Description: t.Description, InputSchema: t.InputSchema,
			})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ── Endpoints ────────────────────────────────────────────────────────────

func (h *AdminHandler) listEndpoints(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.ListEndpoints())
}

func (h *AdminHandler) createEndpoint(w http.ResponseWriter, r *http.Request) {
	var payload wire.EndpointPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ep := config.Endpoint{ID: payload.ID, Name: payload.Name, URL: payload.URL, Enabled: payload.Enabled}
	if ep.ID == "" {
		ep.ID = generateID()
	}
	created, err := h.store.CreateEndpoint(ep)
	if err != nil {
		writeErrorFor(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *AdminHandler) updateEndpoint(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var payload wire.EndpointPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	updated, err := h.store.UpdateEndpoint(id, func(e *config.Endpoint) {
		e.Name = payload.Name
		e.URL = payload.URL
		e.Enabled = payload.Enabled
	})
	if err != nil {
		writeErrorFor(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *AdminHandler) deleteEndpoint(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.DeleteEndpoint(id); err != nil {
		writeErrorFor(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Server definitions ──────────────────────────────────────────────────

func (h *AdminHandler) listServers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.ListServers())
}

func (h *AdminHandler) putServer(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var payload wire.ServerDefinitionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sv := config.ServerDefinition{
		Name: name, Kind: config.ServerKind(payload.Kind), Command: payload.Command,
		Args: payload.Args, Env: payload.Env, URL: payload.URL, Headers: payload.Headers,
		Disabled: payload.Disabled,
	}
	if err := h.store.PutServer(sv); err != nil {
		writeErrorFor(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sv)
}

func (h *AdminHandler) deleteServer(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.store.DeleteServer(name); err != nil {
		writeErrorFor(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Overrides ───────────────────────────────────────────────────────────

func (h *AdminHandler) listOverrides(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.ListOverrides())
}

func (h *AdminHandler) putOverride(w http.ResponseWriter, r *http.Request) {
	server := chi.URLParam(r, "server")
	tool := chi.URLParam(r, "tool")
	var payload wire.OverridePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	o := config.Override{
		OverrideKey:       config.OverrideKey{ServerName: server, ToolName: tool},
		Disabled:          payload.Disabled,
		CustomName:        payload.CustomName,
		CustomDescription: payload.CustomDescription,
	}
	if err := h.store.PutOverride(o); err != nil {
		writeErrorFor(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *AdminHandler) deleteOverride(w http.ResponseWriter, r *http.Request) {
	server := chi.URLParam(r, "server")
	tool := chi.URLParam(r, "tool")
	if err := h.store.DeleteOverride(config.OverrideKey{ServerName: server, ToolName: tool}); err != nil {
		writeErrorFor(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeErrorFor(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, config.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, config.ErrInvalidEndpoint), errors.Is(err, config.ErrInvalidServerDefinition):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
