package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/loganszeto/phoenixkv/internal/protocol"
)

// handleWS mirrors the TCP connection loop, with WebSocket messages as the
// request boundary. A message that does not decode ends the session.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()
	ctx := r.Context()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	logger := g.logger.With("conn", uuid.NewString(), "remote", r.RemoteAddr, "transport", "websocket")
	g.stats.ConnOpened()
	defer g.stats.ConnClosed()
	logger.Debug("client connected")

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			logger.Debug("client disconnected", "err", err)
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		var resp protocol.Response
		cmd, err := protocol.DecodeCommand(payload)
		switch {
		case errors.Is(err, protocol.ErrInvalidArgument):
			g.stats.RecordError()
			resp = protocol.Errorf("%s", err)
		case err != nil:
			g.stats.RecordError()
			_ = g.writeWS(conn, protocol.Errorf("%s", err))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "invalid request"))
			logger.Warn("connection closed", "err", err)
			return
		default:
			resp = g.d.Dispatch(ctx, cmd)
		}

		if err := g.writeWS(conn, resp); err != nil {
			logger.Warn("connection closed", "err", err)
			return
		}
	}
}

func (g *Gateway) writeWS(conn *websocket.Conn, resp protocol.Response) error {
	b, err := protocol.EncodeResponse(resp)
	if err != nil {
		b, _ = protocol.EncodeResponse(protocol.Errorf("encode response: %s", err))
		_ = conn.WriteMessage(websocket.TextMessage, b)
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}
