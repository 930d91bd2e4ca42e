package agentchannel

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/theblitlabs/gologger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Runner hosts authenticate via bearer token before the upgrade
	// (internal/api/middleware/runner_auth.go resolves it and the handler
	// checks c.MustGet("runner")); origin is not meaningful for a
	// server-to-server agent connection.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades an authenticated HTTP request to the agent channel and
// blocks for the connection's lifetime.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, runnerID string) error {
	log := gologger.WithComponent("agentchannel")

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("runner_id", runnerID).Msg("websocket upgrade failed")
		return err
	}

	log.Info().Str("runner_id", runnerID).Msg("agent connected")
	h.Register(runnerID, ws)
	log.Info().Str("runner_id", runnerID).Msg("agent disconnected")
	return nil
}
