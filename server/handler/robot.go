package handler

import (
	"errors"
	"log/slog"
	"net/http"

	adapterwebsocket "battlecore/server/adapter/websocket"
	"battlecore/server/application"
	"battlecore/server/auth"
	"battlecore/server/domain"

	"github.com/coder/websocket"
)

// RobotHandler はロボットホストの WebSocket 接続を受け付けます。
// トークンの名義が接続先のロボットを決め、受信した命令はそのロボットの RemoteController に直接渡ります。
type RobotHandler struct {
	pubsub      domain.PubSub
	roomManager domain.RoomManager
	authority   *auth.Authority
	remotes     map[string]*application.RemoteController
	config      domain.EndpointConfig
}

func NewRobotHandler(pubsub domain.PubSub, roomManager domain.RoomManager, authority *auth.Authority, remotes map[string]*application.RemoteController, config domain.EndpointConfig) (*RobotHandler, error) {
	if authority == nil {
		return nil, auth.ErrNoSecret
	}
	return &RobotHandler{
		pubsub:      pubsub,
		roomManager: roomManager,
		authority:   authority,
		remotes:     remotes,
		config:      config,
	}, nil
}

func (h *RobotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token, err := auth.TokenFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	name, err := h.authority.Verify(token)
	if err != nil {
		slog.WarnContext(ctx, "robot token rejected", "remote", r.RemoteAddr, "err", err)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	rc, ok := h.remotes[name]
	if !ok {
		http.Error(w, "unknown robot", http.StatusNotFound)
		return
	}
	if rc.IsAttached() {
		http.Error(w, application.ErrAlreadyAttached.Error(), http.StatusConflict)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // 開発用: Origin チェックをスキップ
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to accept", "err", err)
		return
	}

	session := domain.NewRobotSession(name)
	transport := adapterwebsocket.NewTransportFrom(conn)
	connection := domain.NewConnection(session.ID(), transport)
	endpoint, err := domain.NewSessionEndpoint(session, connection, h.pubsub, h.roomManager, rc, h.config)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create session endpoint", "err", err)
		conn.Close(websocket.StatusInternalError, "endpoint unavailable")
		return
	}
	if err := rc.Attach(session.ID(), endpoint); err != nil {
		// 検査と Attach の間に別の接続が入った
		conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}
	defer rc.Detach(session.ID())

	slog.InfoContext(ctx, "robot host attached", "robot", name, "session_id", session.ID())
	err = endpoint.Run(ctx)
	if err != nil && !errors.Is(err, domain.ErrEndpointClosed) {
		slog.DebugContext(ctx, "robot session ended", "robot", name, "err", err)
	}
	slog.InfoContext(ctx, "robot host detached", "robot", name, "session_id", session.ID())
}
