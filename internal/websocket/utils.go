package websocket

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	// readWait bounds client silence; clients ping well inside it.
	readWait = 5 * time.Minute
	// maxMessageSize fits a submit payload for a few hundred questions.
	maxMessageSize = 64 << 10
)

// Prepare applies the connection limits used by every attempt stream.
func Prepare(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
}

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func WriteTyped(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// WriteError sends a typed ErrorResponse over the WebSocket.
func WriteError(conn *websocket.Conn, code, errMsg string) error {
	return WriteTyped(conn, ErrorResponse{
		Event: EventError,
		Code:  code,
		Error: errMsg,
	})
}

// ReadMessage reads one frame and peeks at its action. The raw frame is
// returned for decoding into the action's request type.
func ReadMessage(conn *websocket.Conn) (Action, []byte, error) {
	conn.SetReadDeadline(time.Now().Add(readWait))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return "", nil, err
	}
	var env RequestEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", data, err
	}
	return env.Action, data, nil
}
