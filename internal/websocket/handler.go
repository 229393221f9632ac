package websocket

import (
	"net/http"

	ws "github.com/coder/websocket"

	appLog "weeklycal/internal/log"
)

// HandleWebSocket upgrades the request and serves it as a hub client. The
// lang and tz query parameters select the client's initial view.
func HandleWebSocket(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			// Display clients live on the LAN and are served from any host name.
			InsecureSkipVerify: true,
		})
		if err != nil {
			appLog.Error("websocket accept failed", err, "remote", r.RemoteAddr)
			return
		}
		view := ViewFromQuery(r.URL.Query())
		appLog.Debug("websocket client connected", "remote", r.RemoteAddr, "lang", view.Language, "tz", view.TimeZone)

		NewClient(hub, conn, view).Run(r.Context())
		appLog.Debug("websocket client disconnected", "remote", r.RemoteAddr)
	}
}
