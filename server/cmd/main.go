package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"battlecore/internal/relay"
	"battlecore/server"
	"battlecore/server/application"
	"battlecore/server/auth"
	"battlecore/server/config"
	"battlecore/server/domain"
	"battlecore/server/results"
	"battlecore/server/telemetry"

	"github.com/google/uuid"
)

const serviceName = "battlecore"

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "err", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(telemetry.NewLogger(os.Stdout, cfg.LogLevel))

	shutdownTelemetry, err := telemetry.Setup(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown failed", "err", err)
		}
	}()

	// バトル定義
	bf, err := config.LoadBattleFile(cfg.BattleFile)
	if err != nil {
		return err
	}
	specs, remotes, err := bf.Roster()
	if err != nil {
		return err
	}
	var authority *auth.Authority
	if cfg.RobotSecret != "" {
		if authority, err = auth.NewAuthority(cfg.RobotSecret); err != nil {
			return err
		}
	} else if len(remotes) > 0 {
		return errors.New("ROBOT_SECRET is required when the battle has remote robots")
	}

	// 結果の記録は専用のゴルーチンで行い、ターンを止めない
	store := results.NewConcurrentStore(results.NewStore())
	battleID := uuid.New()
	tracker, err := relay.NewObserver(ctx, "results", store.Track(battleID.String()), 256)
	if err != nil {
		return err
	}

	opts := bf.Options(application.DefaultOptions())
	opts.ID = battleID
	opts.Observers = []application.Observer{tracker}
	battle, err := application.NewBattle(bf.Rules, specs, opts)
	if err != nil {
		return err
	}
	remoteList := make([]*application.RemoteController, 0, len(remotes))
	for _, rc := range remotes {
		remoteList = append(remoteList, rc)
	}

	// PubSub とルーム
	pubsub := domain.NewSimplePubSub()
	roomID := domain.NewRoomID()
	roomManager := domain.NewSimpleRoomManager(roomID)
	tickInterval := cfg.TurnInterval
	if tickInterval <= 0 {
		tickInterval = opts.TurnInterval
	}
	if tickInterval <= 0 {
		tickInterval = domain.DefaultTickInterval
	}
	// ルームはシグナルで止めず、停止したバトルの最後のターンを進めてから閉じる
	room := domain.NewRoom(roomID, pubsub, application.NewBattleApplication(battle, remoteList), tickInterval)
	roomCtx, cancelRoom := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRoom()
	roomDone := make(chan struct{})
	go func() {
		defer close(roomDone)
		if err := room.Run(roomCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.ErrorContext(roomCtx, "room error", "err", err)
		}
	}()

	handler, err := server.Route(server.Deps{
		PubSub:      pubsub,
		RoomManager: roomManager,
		Authority:   authority,
		Remotes:     remotes,
		Registry:    store,
		Endpoint:    domain.DefaultEndpointConfig(),
	})
	if err != nil {
		return err
	}
	s := server.NewServer(cfg.ListenAddr(), handler)

	serveErr := make(chan error, 1)
	go func() {
		if err := s.Serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	slog.InfoContext(ctx, "server listening", "addr", s.Addr(), "battle", battleID, "robots", len(specs), "remote", len(remotes))

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return err
	}
	slog.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stopBattle(shutdownCtx, battle, func() {
		cancelRoom()
		<-roomDone
	})

	if err := s.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
		if err := s.Close(); err != nil {
			slog.Error("forced close failed", "error", err)
		}
	}
	if err := tracker.Close(shutdownCtx); err != nil {
		slog.Warn("results relay did not drain", "error", err)
	}
	slog.Info("server shutdown complete")
	return nil
}

// stopBattle はバトルに停止を要求し、ルームが次のターン境界を処理して結果を残すまで待ってから
// stopRoom でルームを止めます。
func stopBattle(ctx context.Context, battle *application.Battle, stopRoom func()) {
	battle.Stop(false)
	select {
	case <-battle.Done():
	case <-ctx.Done():
		slog.WarnContext(ctx, "battle did not stop before the shutdown deadline", "battle", battle.ID())
	}
	stopRoom()
}
