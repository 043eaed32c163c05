package av

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// safeConn serializes writes; gorilla allows one concurrent writer and pion
// fires candidate callbacks from its own goroutines.
type safeConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func newSafeConn(conn *websocket.Conn) *safeConn {
	return &safeConn{Conn: conn}
}

func (c *safeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteJSON(v)
}

func (c *safeConn) WriteControl(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteControl(messageType, data, time.Now().Add(writeWait))
}

// closeGracefully sends a close frame before dropping the connection.
func (c *safeConn) closeGracefully() error {
	_ = c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.Conn.Close()
}
