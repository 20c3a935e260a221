package hub

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/toolmesh/toolmesh/internal/authclient"
	"github.com/toolmesh/toolmesh/internal/logging"
)

var toolServerUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeToolServerWS upgrades a Tool-Server Session (C6, spec.md §4.6) at the
// configured path (a Bridge process, or any other WebSocket client speaking
// the same protocol, connects here as "one or more Tool-Server Sessions").
// Authentication is identical in shape to the Browser Session but checked
// against the disjoint tool-server token namespace.
func (r *Router) ServeToolServerWS(auth authclient.Validator) http.HandlerFunc {
	log := logging.New("hub:toolserver")
	return func(w http.ResponseWriter, req *http.Request) {
		token := req.URL.Query().Get("token")
		result, authErr := auth.Validate(req.Context(), authclient.NamespaceToolServer, token)

		conn, err := toolServerUpgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		if authErr != nil || !result.Valid {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(closeInvalidToken, "invalid token"), time.Now().Add(time.Second))
			_ = conn.Close()
			return
		}

		id := uuid.NewString()
		p := newPeer(id, conn, log)
		go p.WriteLoop()

		r.NotifyToolServerConnected(id, p)
		defer func() {
			r.NotifyToolServerClosed(id)
			p.Close()
		}()

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			r.NotifyToolServerFrame(id, append([]byte(nil), raw...))
		}
	}
}
