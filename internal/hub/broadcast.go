package hub

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/toolmesh/toolmesh/internal/logging"
)

// outboundBufferSize bounds how many frames may be queued for one peer
// before it is considered unresponsive. Matches the teacher's
// internal/realtime/client.go Client.send buffer exactly (spec.md gives no
// explicit number for this path; the Endpoint Session's §4.3 backpressure
// figure of 64 frames is reused here for the same reason it was chosen there — a
// generous but bounded allowance before a slow peer is dropped rather than
// let the writer block indefinitely).
const outboundBufferSize = 64

// peer is a single WebSocket-backed connection (Browser Session or
// Tool-Server Session) with a buffered, non-blocking send path and a writer
// pump goroutine — the shape of the teacher's realtime.Client
// (internal/realtime/client.go), generalized from realtime envelopes to raw
// JSON-RPC frame bytes and non-JSON-RPC status frames.
type peer struct {
	id      string
	conn    *websocket.Conn
	send    chan json.RawMessage
	log     *logging.Logger
	closeCh chan struct{}
	once    sync.Once
}

func newPeer(id string, conn *websocket.Conn, log *logging.Logger) *peer {
	return &peer{
		id:      id,
		conn:    conn,
		send:    make(chan json.RawMessage, outboundBufferSize),
		log:     log,
		closeCh: make(chan struct{}),
	}
}

// Send enqueues a frame for delivery. It never blocks: a full buffer means
// the peer is unresponsive and the frame is dropped.
func (p *peer) Send(data json.RawMessage) bool {
	select {
	case p.send <- data:
		return true
	default:
		p.log.Printf("peer %s outbound buffer full, dropping frame", p.id)
		return false
	}
}

// WriteLoop drains the send queue to the socket until Close or a write
// error. Run it in its own goroutine per spec.md §5's "independent logical
// task" per connection.
func (p *peer) WriteLoop() {
	for {
		select {
		case data, ok := <-p.send:
			if !ok {
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-p.closeCh:
			return
		}
	}
}

// Close tears the connection down exactly once.
func (p *peer) Close() {
	p.once.Do(func() {
		close(p.closeCh)
		_ = p.conn.Close()
	})
}
