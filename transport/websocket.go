package transport

import (
	"io"
	"sync"

	"golang.org/x/net/websocket"
)

// WebSocket is a Transport where each RSocket frame maps to exactly
// one binary WebSocket message, so no length prefix is needed
// (spec.md §6).
type WebSocket struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

// NewWebSocket wraps an established golang.org/x/net/websocket connection.
func NewWebSocket(ws *websocket.Conn) *WebSocket {
	ws.PayloadType = websocket.BinaryFrame
	return &WebSocket{ws: ws}
}

func (w *WebSocket) ReceiveFrame() ([]byte, error) {
	var b []byte
	if err := websocket.Message.Receive(w.ws, &b); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, err
	}
	return b, nil
}

func (w *WebSocket) SendFrame(b []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return websocket.Message.Send(w.ws, b)
}

func (w *WebSocket) Close() error {
	return w.ws.Close()
}

// DialWebSocket dials a ws:// or wss:// RSocket endpoint.
func DialWebSocket(url, origin string) (Transport, error) {
	ws, err := websocket.Dial(url, "", origin)
	if err != nil {
		return nil, err
	}
	return NewWebSocket(ws), nil
}

// Handler adapts a WebSocket-accepting callback to net/http's
// websocket.Server, for embedding an RSocket endpoint inside an
// existing HTTP server. onServe must block for the connection's
// lifetime (e.g. by waiting on the Connection's Done channel); once it
// returns, the
// underlying WebSocket is closed by x/net/websocket.
func Handler(onServe func(Transport)) websocket.Handler {
	return func(ws *websocket.Conn) {
		onServe(NewWebSocket(ws))
	}
}
