// Package signal binds websocket connections to the conferencing core:
// each connection gets a transaction channel and a session that owns at
// most one participant.
package signal

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Chorus/internal/core"
	"github.com/dkeye/Chorus/internal/domain"
	"github.com/dkeye/Chorus/internal/transaction"
)

type Controller struct {
	Registry *core.Registry

	// ReadLimit caps inbound frame size; PingPeriod drives keepalives.
	// Zero values disable them.
	ReadLimit  int64
	PingPeriod time.Duration
}

func NewController(registry *core.Registry, readLimit int64, pingPeriod time.Duration) *Controller {
	return &Controller{Registry: registry, ReadLimit: readLimit, PingPeriod: pingPeriod}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the connection and runs its session until the
// socket goes away. The room binding comes from the ?id= query at upgrade
// time.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	roomID := domain.RoomID(c.Query("id"))
	if roomID == "" {
		roomID = "main"
	}
	sid := c.GetString("client_token")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	log.Info().Str("module", "signal").Str("sid", sid).
		Str("room", string(roomID)).Msg("new connection")

	tm := transaction.New(ws, transaction.Options{PingPeriod: ctl.PingPeriod})
	sess := newSession(sid, roomID, ctl.Registry, tm)
	tm.OnCommand(sess.handleCommand)
	tm.OnClose(sess.connectionClosed)
	tm.Run(ctx)
}
