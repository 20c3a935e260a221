package hub

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/toolmesh/toolmesh/internal/authclient"
	"github.com/toolmesh/toolmesh/internal/logging"
)

var browserUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// closeInvalidToken is the WebSocket close code spec.md §4.5/§4.6 mandates
// for a rejected upgrade token ("upgrade rejected with code 4401").
const closeInvalidToken = 4401

// ServeBrowserWS upgrades a Browser Session (C5, spec.md §4.5) at the
// configured path. Authentication is a token query parameter consulted
// against auth; an invalid token is rejected with code 4401.
//
// Grounded on the teacher's Handler.realtimeWebSocket
// (internal/api/realtime_ws.go): upgrade, register with the owning hub,
// start a writer pump, then block on ReadMessage — generalized from a single
// realtime envelope type to raw JSON-RPC frame bytes relayed to the Router.
func (r *Router) ServeBrowserWS(auth authclient.Validator) http.HandlerFunc {
	log := logging.New("hub:browser")
	return func(w http.ResponseWriter, req *http.Request) {
		token := req.URL.Query().Get("token")
		result, authErr := auth.Validate(req.Context(), authclient.NamespaceBrowser, token)

		conn, err := browserUpgrader.Upgrade(w, req, nil)
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

		r.NotifyBrowserConnected(id, p)
		defer func() {
			r.NotifyBrowserClosed(id)
			p.Close()
		}()

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			r.NotifyBrowserFrame(id, append([]byte(nil), raw...))
		}
	}
}
