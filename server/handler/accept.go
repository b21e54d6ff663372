package handler

import (
	"log/slog"
	"net/http"

	adapterwebsocket "battlecore/server/adapter/websocket"
	"battlecore/server/domain"

	"github.com/coder/websocket"
)

// AcceptHandler は観戦者の WebSocket 接続を受け付けます。
type AcceptHandler struct {
	pubsub      domain.PubSub
	roomManager domain.RoomManager
	config      domain.EndpointConfig
}

func NewAcceptHandler(pubsub domain.PubSub, roomManager domain.RoomManager, config domain.EndpointConfig) *AcceptHandler {
	return &AcceptHandler{pubsub: pubsub, roomManager: roomManager, config: config}
}

func (h *AcceptHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // 開発用: Origin チェックをスキップ
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to accept", "err", err)
		return
	}

	session := domain.NewSession()
	transport := adapterwebsocket.NewTransportFrom(conn)
	connection := domain.NewConnection(session.ID(), transport)
	endpoint, err := domain.NewSessionEndpoint(session, connection, h.pubsub, h.roomManager, nil, h.config)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create session endpoint", "err", err)
		conn.Close(websocket.StatusInternalError, "endpoint unavailable")
		return
	}
	slog.DebugContext(ctx, "accepted observer", "session_id", session.ID())
	if err := endpoint.Run(ctx); err != nil {
		slog.DebugContext(ctx, "observer session ended", "session_id", session.ID(), "err", err)
	}
}
