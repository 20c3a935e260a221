// Command bridge runs the Bridge half of toolmesh (spec.md §2, §4.3, §4.4):
// the Bridge Supervisor plus its live set of Endpoint Sessions, each
// splicing a WebSocket dial to a remote Hub with a local tool subprocess.
//
// Grounded on cmd/orbitmesh/main.go's wiring shape: read configuration from
// the environment, construct the long-lived owner, run it until a signal
// arrives, shut down with a bounded grace period.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/toolmesh/toolmesh/internal/bridge"
	"github.com/toolmesh/toolmesh/internal/config"
)

const shutdownTimeout = 10 * time.Second

func main() {
	baseDir := config.DefaultBaseDir()
	store, err := config.NewStore(baseDir)
	if err != nil {
		log.Fatalf("config store init: %v", err)
	}

	runtime := config.LoadRuntime(baseDir)

	watcher, err := config.NewWatcher(store, "")
	if err != nil {
		log.Fatalf("config watcher init: %v", err)
	}
	defer watcher.Close()

	backoffCap := func() int { return runtime.BackoffMaxSeconds }
	gracePeriod := time.Duration(runtime.SubprocessGraceSeconds) * time.Second

	sup := bridge.NewSupervisor(store, watcher, backoffCap, runtime.CatalogPath, gracePeriod)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("toolmesh bridge starting (store=%s catalog=%s)\n", baseDir, runtime.CatalogPath)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sup.Run(ctx)
	}()

	<-ctx.Done()
	stop()

	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		log.Printf("bridge: supervisor shutdown exceeded %s, exiting anyway", shutdownTimeout)
	}

	fmt.Println("toolmesh bridge shut down cleanly")
}
