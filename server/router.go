package server

import (
	"net/http"

	"battlecore/server/application"
	"battlecore/server/auth"
	"battlecore/server/domain"
	"battlecore/server/handler"
	"battlecore/server/results"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Deps はルーティングに必要な依存です。Authority が nil ならロボットホストの受け付けは無効です。
type Deps struct {
	PubSub      domain.PubSub
	RoomManager domain.RoomManager
	Authority   *auth.Authority
	Remotes     map[string]*application.RemoteController
	Registry    results.Registry
	Endpoint    domain.EndpointConfig
}

func Route(deps Deps) (http.Handler, error) {
	mux := http.NewServeMux()
	mux.Handle("/ws", handler.NewAcceptHandler(deps.PubSub, deps.RoomManager, deps.Endpoint))
	if deps.Authority != nil {
		robots, err := handler.NewRobotHandler(deps.PubSub, deps.RoomManager, deps.Authority, deps.Remotes, deps.Endpoint)
		if err != nil {
			return nil, err
		}
		mux.Handle("/robot", robots)
	}
	mux.Handle("GET /health", handler.NewHealthHandler())
	battles := handler.NewBattlesHandler(deps.Registry)
	mux.HandleFunc("GET /battles", battles.List)
	mux.HandleFunc("GET /battles/{id}", battles.Get)
	return otelhttp.NewHandler(mux, "battlecore"), nil
}
