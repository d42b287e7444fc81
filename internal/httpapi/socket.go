package httpapi

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/scalesocket/scalesocket/internal/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsSocket adapts *websocket.Conn to types.Socket. bridge's TextMessage,
// BinaryMessage, CloseMessage constants are defined to match gorilla's own
// message-type values, so no translation is needed here.
type wsSocket struct {
	conn *websocket.Conn
}

func (s *wsSocket) ReadMessage() (int, []byte, error) {
	return s.conn.ReadMessage()
}

func (s *wsSocket) WriteMessage(messageType int, data []byte) error {
	return s.conn.WriteMessage(messageType, data)
}

func (s *wsSocket) Close() error {
	return s.conn.Close()
}

var _ types.Socket = (*wsSocket)(nil)
