package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/immxrtalbeast/streamroom/internal/av"
	"github.com/immxrtalbeast/streamroom/lib/logger/sl"
)

// SignalController exposes the conferencing signalling hub. Peers
// authenticate with a conference token, not a session token.
type SignalController struct {
	hub      *av.Hub
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewSignalController(hub *av.Hub, log *slog.Logger) *SignalController {
	if log == nil {
		log = slog.Default()
	}
	return &SignalController{
		hub: hub,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (c *SignalController) Signal(ctx *gin.Context) {
	const op = "http.signal"

	claims, err := c.hub.Authorize(ctx.Query("token"))
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "invalid conference token"})
		return
	}
	requested, _ := strconv.Atoi(ctx.Query("max"))

	conn, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		c.log.Warn("failed to upgrade connection", slog.String("op", op), sl.Err(err))
		return
	}

	if err := c.hub.Serve(ctx.Request.Context(), conn, claims, requested); err != nil {
		c.log.Info("signalling session ended", slog.String("op", op), sl.Err(err))
	}
}
