package liveblocks

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Socket is the injectable WebSocket seam (spec.md §6.1
// "WebSocketPolyfill"). It is intentionally narrow: read one text
// frame, write one text frame, close. A fake Socket drives tests
// without a network.
type Socket interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close(code int) error
}

// WebSocketFactory dials url and returns an open Socket, the
// connecting half of the connection state machine (spec.md §4.1
// "connecting").
type WebSocketFactory func(ctx context.Context, url string) (Socket, error)

// gorillaSocket adapts *websocket.Conn to Socket, the default
// transport, grounded on sumanthd032-CollabText's Client.readPump /
// writePump pattern (agent/main.go, server/main.go) — here collapsed
// into a blocking request/response pair instead of a pump-per-goroutine,
// since Room already runs its own read loop goroutine.
type gorillaSocket struct {
	conn *websocket.Conn
}

var defaultDialer = websocket.Dialer{HandshakeTimeout: 10 * time.Second}

func defaultWebSocketFactory(ctx context.Context, url string) (Socket, error) {
	conn, _, err := defaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &gorillaSocket{conn: conn}, nil
}

func (s *gorillaSocket) ReadMessage() ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	return data, err
}

func (s *gorillaSocket) WriteMessage(data []byte) error {
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *gorillaSocket) Close(code int) error {
	deadline := time.Now().Add(2 * time.Second)
	msg := websocket.FormatCloseMessage(code, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	return s.conn.Close()
}

// HTTPClient is the injectable fetch seam (spec.md §6.1
// "fetchPolyfill"), narrowed to the single POST-JSON/get-JSON shape
// the auth exchange needs (§6.2 "Auth exchange").
type HTTPClient interface {
	PostJSON(ctx context.Context, url string, body any) (status int, respBody []byte, err error)
}

type netHTTPClient struct {
	client *http.Client
}

func defaultHTTPClient() HTTPClient {
	return &netHTTPClient{client: &http.Client{Timeout: 15 * time.Second}}
}

func (c *netHTTPClient) PostJSON(ctx context.Context, url string, body any) (int, []byte, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, respBody, nil
}
