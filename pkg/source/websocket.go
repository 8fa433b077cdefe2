package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-eyetouch/pkg/gaze"
	"github.com/teslashibe/go-eyetouch/pkg/protocol"
)

// WebSocket reads gaze samples from an estimator that streams protocol
// envelopes (or bare sample objects) over a websocket.
type WebSocket struct {
	conn   *websocket.Conn
	wsMu   sync.Mutex
	logger *slog.Logger

	skipped uint64
}

// DialWebSocket connects to url.
func DialWebSocket(ctx context.Context, url string, header http.Header, logger *slog.Logger) (*WebSocket, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to gaze stream: %w", err)
	}

	ws := &WebSocket{conn: conn, logger: logger.With("component", "gaze-ws", "url", url)}
	conn.SetPingHandler(func(appData string) error {
		ws.wsMu.Lock()
		defer ws.wsMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})
	ws.logger.Info("connected to gaze stream")
	return ws, nil
}

// Next reads until a gaze sample arrives. Messages that are not samples are
// skipped. A normal close returns io.EOF.
func (w *WebSocket) Next(ctx context.Context) (gaze.Sample, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = w.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return gaze.Sample{}, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, io.EOF) {
				return gaze.Sample{}, io.EOF
			}
			return gaze.Sample{}, fmt.Errorf("gaze stream read: %w", err)
		}

		s, err := protocol.DecodeGaze(data)
		if err != nil {
			w.skipped++
			w.logger.Debug("skipping non-gaze message", "error", err)
			continue
		}
		return s, nil
	}
}

// Skipped returns how many messages were not gaze samples.
func (w *WebSocket) Skipped() uint64 { return w.skipped }

// Close sends a close frame and closes the connection.
func (w *WebSocket) Close() error {
	w.wsMu.Lock()
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	w.wsMu.Unlock()
	return w.conn.Close()
}
