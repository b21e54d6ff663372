package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/coder/websocket"

	"battlecore/server/application"
	"battlecore/server/auth"
	"battlecore/server/config"
	"battlecore/server/domain"
	"battlecore/server/telemetry"
	"battlecore/utils"
)

const (
	reconnectDelay = 2 * time.Second
	decideTimeout  = time.Second
)

// robotRef は ROBOTS の1件 (name[:seed]) です。
type robotRef struct {
	name string
	seed uint64
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(telemetry.NewLogger(os.Stdout, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	robots, err := parseRobots(utils.GetEnvDefault("ROBOTS", "remote"))
	if err != nil {
		slog.Error("invalid ROBOTS", "err", err)
		os.Exit(1)
	}
	if cfg.RobotSecret == "" {
		slog.Error("ROBOT_SECRET is required to sign robot tokens")
		os.Exit(1)
	}
	authority, err := auth.NewAuthority(cfg.RobotSecret)
	if err != nil {
		slog.Error("invalid secret", "err", err)
		os.Exit(1)
	}

	serverURL := fmt.Sprintf("ws://%s/robot", cfg.ListenAddr())
	slog.Info("starting robot hosts", "count", len(robots), "server", serverURL)

	var wg sync.WaitGroup
	for _, ref := range robots {
		token, err := authority.Issue(ref.name, 0)
		if err != nil {
			slog.Error("failed to issue token", "robot", ref.name, "err", err)
			os.Exit(1)
		}
		wg.Go(func() {
			runBot(ctx, serverURL, token, ref)
		})
	}

	wg.Wait()
	slog.Info("all robot hosts stopped")
}

func parseRobots(s string) ([]robotRef, error) {
	var refs []robotRef
	for i, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, seedStr, hasSeed := strings.Cut(part, ":")
		ref := robotRef{name: name, seed: uint64(i + 1)}
		if hasSeed {
			seed, err := strconv.ParseUint(seedStr, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", part, err)
			}
			ref.seed = seed
		}
		refs = append(refs, ref)
	}
	if len(refs) == 0 {
		return nil, errors.New("no robots")
	}
	return refs, nil
}

func runBot(ctx context.Context, serverURL, token string, ref robotRef) {
	logger := slog.With("robot", ref.name)
	for {
		if ctx.Err() != nil {
			return
		}
		err := botSession(ctx, serverURL, token, ref, logger)
		if err != nil && ctx.Err() == nil {
			logger.Warn("robot session ended, reconnecting", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
		}
	}
}

func botSession(ctx context.Context, serverURL, token string, ref robotRef, logger *slog.Logger) error {
	conn, _, err := websocket.Dial(ctx, serverURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()
	logger.Info("connected")

	host := application.NewRobotHost(ref.name, application.NewRuleBot(ref.seed))
	defer host.Close()

	var sessionID domain.SessionID
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				conn.Close(websocket.StatusNormalClosure, "shutdown")
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		frame, err := domain.ParseFrame(data)
		if err != nil {
			logger.Debug("malformed frame", "err", err)
			continue
		}
		if sessionID.IsEmpty() {
			sessionID = domain.SessionIDFromBytes(frame.Header.SessionID)
		}

		switch frame.PayloadHeader.DataType {
		case domain.DataTypeControl:
			switch domain.ControlSubType(frame.PayloadHeader.SubType) {
			case domain.ControlSubTypeAssign:
				logger.Info("session assigned", "sessionID", sessionID)
			case domain.ControlSubTypePing:
				if err := conn.Write(ctx, websocket.MessageBinary, domain.EncodePongMessage(sessionID)); err != nil {
					return fmt.Errorf("write pong: %w", err)
				}
			case domain.ControlSubTypeError:
				logger.Warn("server error", "reason", string(frame.Payload))
			}

		case domain.DataTypeTurn:
			ts, err := application.DecodeTurnStart(frame.Payload)
			if err != nil {
				logger.Warn("bad turn start", "err", err)
				continue
			}
			if err := playTurn(ctx, conn, host, sessionID, ts, logger); err != nil {
				return err
			}
		}
	}
}

// playTurn はロボットにターンを渡し、命令を送り返します。
func playTurn(ctx context.Context, conn *websocket.Conn, host *application.RobotHost, sessionID domain.SessionID, ts application.TurnStart, logger *slog.Logger) error {
	host.Deliver(ctx, ts)
	if ts.Final {
		for _, ev := range ts.Events {
			switch ev.Kind() {
			case application.EventWin, application.EventDeath, application.EventRoundEnded, application.EventBattleEnded:
				logger.Info("round event", "round", ts.Round, "turn", ev.Turn(), "event", ev.Kind())
			}
		}
		return nil
	}

	decideCtx, cancel := context.WithTimeout(ctx, decideTimeout)
	defer cancel()
	set, err := host.Next(decideCtx)
	if err != nil {
		logger.Warn("robot did not act", "turn", ts.Turn, "err", err)
		return nil
	}
	payload, err := application.EncodeCommandSet(set)
	if err != nil {
		return fmt.Errorf("encode commands: %w", err)
	}
	msg, err := domain.EncodeMessage(sessionID, domain.DataTypeCommand, 0, payload)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageBinary, msg); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}
