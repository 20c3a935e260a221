// Command hub runs the Local Hub half of toolmesh (spec.md §2, §4.5–§4.7):
// the Hub Router plus its Browser Session and Tool-Server Session WebSocket
// listeners, and a small admin HTTP surface over the shared Config Store.
//
// Grounded on cmd/orbitmesh/main.go's chi.Router + middleware.Logger/Recoverer
// + graceful-shutdown wiring, generalized from OrbitMesh's session executor
// to the Hub Router.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/toolmesh/toolmesh/internal/authclient"
	"github.com/toolmesh/toolmesh/internal/config"
	"github.com/toolmesh/toolmesh/internal/hub"
)

const shutdownTimeout = 5 * time.Second

func main() {
	baseDir := config.DefaultBaseDir()
	store, err := config.NewStore(baseDir)
	if err != nil {
		log.Fatalf("config store init: %v", err)
	}

	runtime := config.LoadRuntime(baseDir)

	router := hub.NewRouter(store)
	routerStop := make(chan struct{})
	go router.Run(routerStop)
	defer close(routerStop)

	auth := buildValidator()

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	handler := hub.NewAdminHandler(store, router, auth, runtime.CatalogPath, runtime.HubBrowserPath, runtime.HubToolPath)
	handler.Mount(r)

	srv := &http.Server{
		Addr:    runtime.HubBindAddr,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		fmt.Printf("toolmesh hub listening on %s (browser=%s tool=%s)\n", runtime.HubBindAddr, runtime.HubBrowserPath, runtime.HubToolPath)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server shutdown: %v", err)
	}

	fmt.Println("toolmesh hub shut down cleanly")
}

// buildValidator wires the Hub's auth collaborator boundary (spec.md §6
// "Auth collaborator contract"). TOOLMESH_AUTH_TOKENS, if set, is a
// comma-separated list of "namespace:token:subject" triples used to build a
// StaticValidator; otherwise every non-empty token is accepted, suitable
// only for local development (internal/authclient.AllowAllValidator).
func buildValidator() authclient.Validator {
	raw := strings.TrimSpace(os.Getenv("TOOLMESH_AUTH_TOKENS"))
	if raw == "" {
		return authclient.AllowAllValidator{}
	}

	tokens := map[authclient.Namespace]map[string]string{}
	for _, triple := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(triple), ":", 3)
		if len(parts) != 3 {
			continue
		}
		ns := authclient.Namespace(parts[0])
		if tokens[ns] == nil {
			tokens[ns] = map[string]string{}
		}
		tokens[ns][parts[1]] = parts[2]
	}
	return authclient.NewStaticValidator(tokens)
}
