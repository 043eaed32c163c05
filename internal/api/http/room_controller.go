package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/immxrtalbeast/streamroom/internal/api/http/converter"
	"github.com/immxrtalbeast/streamroom/internal/auth"
	"github.com/immxrtalbeast/streamroom/internal/domain"
	"github.com/immxrtalbeast/streamroom/internal/service"
	"github.com/immxrtalbeast/streamroom/lib/logger/sl"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	maxCommandSize   = 8 << 10
	clientSendBuffer = 32
	closeTimeout     = 5 * time.Second
)

const (
	CommandChat    = "chat"
	CommandPanel   = "panel"
	CommandEnter   = "enter"
	CommandLeave   = "leave"
	CommandRetryAV = "retry-av"
	CommandSignOut = "sign-out"
)

var errUnknownCommand = errors.New("unknown command")

type RoomController struct {
	rooms      service.CoordinatorFactory
	auth       *auth.Service
	linkOrigin string
	upgrader   websocket.Upgrader
	log        *slog.Logger
}

func NewRoomController(rooms service.CoordinatorFactory, authService *auth.Service, linkOrigin string, log *slog.Logger) *RoomController {
	if log == nil {
		log = slog.Default()
	}
	return &RoomController{
		rooms:      rooms,
		auth:       authService,
		linkOrigin: linkOrigin,
		log:        log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// CreateRoom hands out a fresh room id. Rooms have no server-side record
// until someone enters them.
func (c *RoomController) CreateRoom(ctx *gin.Context) {
	roomID := domain.GenerateRoomID()
	resp := gin.H{"room_id": roomID}
	if c.linkOrigin != "" {
		resp["link"] = domain.RoomLink(c.linkOrigin, roomID)
	}
	ctx.JSON(http.StatusCreated, resp)
}

// JoinRoom upgrades to the room gateway and binds one coordinator to the
// connection for its whole lifetime.
func (c *RoomController) JoinRoom(ctx *gin.Context) {
	roomID := ctx.Param("roomID")
	if !domain.ValidRoomID(roomID) {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	session := auth.NewSession(c.auth)
	if err := session.Restore(ctx.GetString(tokenKey)); err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	conn, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		c.log.Warn("failed to upgrade connection", sl.Err(err))
		return
	}

	client := newRoomClient(conn, c.rooms.NewCoordinator(), session, c.linkOrigin, c.log)
	client.run(roomID)
}

type roomCommand struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Panel string `json:"panel,omitempty"`
	Room  string `json:"room,omitempty"`
}

type roomClient struct {
	conn       *websocket.Conn
	coord      *service.Coordinator
	session    *auth.Session
	linkOrigin string
	log        *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	send   chan any

	// held by room transitions and by forwarders while they queue an event
	switching sync.Mutex

	// owned by the read goroutine
	current     *service.RoomSession
	forwardDone chan struct{}
}

func newRoomClient(conn *websocket.Conn, coord *service.Coordinator, session *auth.Session, linkOrigin string, log *slog.Logger) *roomClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &roomClient{
		conn:       conn,
		coord:      coord,
		session:    session,
		linkOrigin: linkOrigin,
		log:        log.With(slog.String("uid", session.Current().UID)),
		ctx:        ctx,
		cancel:     cancel,
		send:       make(chan any, clientSendBuffer),
	}
}

func (c *roomClient) run(roomID string) {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump()
	}()

	unsubscribe := c.session.OnAuthStateChange(func(p *domain.Principal) {
		if p != nil {
			return
		}
		c.exitRoom()
		c.waitForward()
		c.push(converter.SimpleEvent{Type: converter.EventSignedOut})
	})

	c.enter(roomID)
	c.readPump()

	unsubscribe()
	closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	c.coord.Close(closeCtx)
	cancel()
	c.cancel()
	<-writerDone
}

func (c *roomClient) push(ev any) {
	select {
	case c.send <- ev:
	case <-c.ctx.Done():
	}
}

// exitRoom leaves the current room. No event from it is queued once this
// returns.
func (c *roomClient) exitRoom() {
	c.switching.Lock()
	defer c.switching.Unlock()
	c.coord.ExitRoom(c.ctx)
}

func (c *roomClient) enter(roomID string) {
	c.switching.Lock()
	room, err := c.coord.EnterRoom(c.ctx, roomID, c.session.Current())
	c.switching.Unlock()
	c.waitForward()
	if err != nil {
		c.push(converter.ErrorToApi(err))
		return
	}

	c.push(converter.RoomToApi(room, c.linkOrigin))
	c.push(converter.PanelToApi(c.coord.Panel().State()))

	done := make(chan struct{})
	c.current, c.forwardDone = room, done
	go func() {
		defer close(done)
		c.forward(room)
	}()
}

// waitForward blocks until the forwarder of a room that is no longer open
// has stopped, so nothing from it is sent after this point.
func (c *roomClient) waitForward() {
	if c.forwardDone == nil || c.coord.Room() == c.current {
		return
	}
	<-c.forwardDone
	c.current, c.forwardDone = nil, nil
}

func (c *roomClient) forward(room *service.RoomSession) {
	chat, presence, avs := room.Chat(), room.Presence(), room.AV()
	for chat != nil || presence != nil || avs != nil {
		var ev any
		select {
		case <-room.Done():
			return
		case <-c.ctx.Done():
			return
		case u, ok := <-chat:
			if !ok {
				chat = nil
				continue
			}
			ev = converter.ChatToApi(u)
		case u, ok := <-presence:
			if !ok {
				presence = nil
				continue
			}
			ev = converter.PresenceToApi(u)
		case u, ok := <-avs:
			if !ok {
				avs = nil
				continue
			}
			ev = converter.AVToApi(u)
		}

		if !c.deliver(room, ev) {
			return
		}
	}
}

// deliver queues ev unless room has already been exited.
func (c *roomClient) deliver(room *service.RoomSession, ev any) bool {
	c.switching.Lock()
	defer c.switching.Unlock()

	select {
	case <-room.Done():
		return false
	default:
	}
	c.push(ev)
	return true
}

func (c *roomClient) readPump() {
	c.conn.SetReadLimit(maxCommandSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Info("gateway connection dropped", sl.Err(err))
			}
			return
		}

		var cmd roomCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			c.push(converter.ErrorToApi(err))
			continue
		}
		c.handle(cmd)
	}
}

func (c *roomClient) handle(cmd roomCommand) {
	switch cmd.Type {
	case CommandChat:
		msg, err := c.coord.Send(c.ctx, cmd.Text)
		if err != nil {
			c.push(converter.ErrorToApi(err))
			return
		}
		c.push(converter.SentEvent{Type: converter.EventSent, Message: msg})
	case CommandPanel:
		state, err := domain.ParsePanelState(cmd.Panel)
		if err != nil {
			c.push(converter.ErrorToApi(err))
			return
		}
		c.push(converter.PanelToApi(c.coord.Panel().Show(state)))
	case CommandEnter:
		c.enter(cmd.Room)
	case CommandLeave:
		room := c.coord.Room()
		c.exitRoom()
		c.waitForward()
		ev := converter.SimpleEvent{Type: converter.EventLeft}
		if room != nil {
			ev.Room = room.RoomID()
		}
		c.push(ev)
	case CommandRetryAV:
		if err := c.coord.RetryAV(c.ctx); err != nil {
			c.push(converter.ErrorToApi(err))
		}
	case CommandSignOut:
		c.session.SignOut()
	default:
		c.push(converter.ErrorToApi(fmt.Errorf("%w: %q", errUnknownCommand, cmd.Type)))
	}
}

func (c *roomClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				c.log.Debug("gateway write failed", sl.Err(err))
				c.cancel()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}
		case <-c.ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
