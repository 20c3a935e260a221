package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/toolmesh/toolmesh/internal/subprocess"
)

// splice relays frames bidirectionally between the WebSocket connection and
// the subprocess's stdio for as long as both sides stay healthy, applying the
// per-direction backpressure buffer described in spec.md §4.3: "Bytes are not
// interpreted except to preserve framing boundaries... bounded by a
// per-direction buffer of N frames (default 64) beyond which the session
// closes with a transport-overrun error."
//
// Grounded on the teacher's internal/realtime/client.go outbound-queue
// pattern (a fixed-capacity channel fed by a non-blocking select, drained by
// one writer goroutine) and internal/provider/common/claudews/claudews.go's
// paired read/write pump goroutines over one websocket.Conn.
func (s *Session) splice(ctx context.Context, conn *websocket.Conn, adapter *subprocess.Adapter) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	toSubprocess := make(chan json.RawMessage, frameBufferSize)
	toRemote := make(chan json.RawMessage, frameBufferSize)

	var (
		once    sync.Once
		overrun error
	)
	fail := func(err error) {
		once.Do(func() {
			overrun = err
			cancel()
		})
	}

	var wg sync.WaitGroup
	wg.Add(4)

	// Remote -> local subprocess.
	go func() {
		defer wg.Done()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				fail(fmt.Errorf("remote read: %w", err))
				return
			}
			select {
			case toSubprocess <- data:
			default:
				fail(fmt.Errorf("transport overrun: subprocess inbound buffer full (>%d frames)", frameBufferSize))
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-toSubprocess:
				if !ok {
					return
				}
				if err := adapter.Write(frame); err != nil {
					fail(fmt.Errorf("subprocess write: %w", err))
					return
				}
			}
		}
	}()

	// Subprocess -> remote.
	frames := adapter.ReadFrames()
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case line, ok := <-frames:
				if !ok {
					fail(fmt.Errorf("subprocess stdout closed"))
					return
				}
				select {
				case toRemote <- line:
				default:
					fail(fmt.Errorf("transport overrun: remote outbound buffer full (>%d frames)", frameBufferSize))
					return
				}
			}
		}
	}()
	go func() {
		defer wg.Done()
		ping := time.NewTicker(idlePingPeriod)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ping.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					fail(fmt.Errorf("remote ping: %w", err))
					return
				}
			case line, ok := <-toRemote:
				if !ok {
					return
				}
				if err := conn.WriteMessage(websocket.TextMessage, line); err != nil {
					fail(fmt.Errorf("remote write: %w", err))
					return
				}
			}
		}
	}()

	// Also watch for unexpected subprocess exit so it tears down the socket
	// side promptly rather than waiting on a read that may never return.
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			return
		case ev := <-adapter.Exited():
			if ev.Err != nil {
				fail(fmt.Errorf("subprocess exited: %w", ev.Err))
			} else {
				fail(fmt.Errorf("subprocess exited"))
			}
		}
	}()

	<-ctx.Done()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	wg.Wait()
	return overrun
}
