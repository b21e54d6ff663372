package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/coder/websocket"

	"battlecore/server/application"
	"battlecore/server/domain"
	"battlecore/server/telemetry"
)

type controlAction string

const (
	actionNone   controlAction = ""
	actionPause  controlAction = "pause"
	actionResume controlAction = "resume"
	actionStop   controlAction = "stop"
)

type watchConfig struct {
	URL       string
	Observers int
	Control   controlAction
	Duration  time.Duration
}

// watchStats は全観戦者の受信数の集計です。
type watchStats struct {
	snapshots atomic.Int64
	bytes     atomic.Int64
	printed   atomic.Bool
}

func main() {
	var (
		addrFlag      = flag.String("addr", "ws://localhost:9090/ws", "observer endpoint")
		observersFlag = flag.Int("observers", 1, "number of concurrent observers")
		controlFlag   = flag.String("control", "", "send a control after joining: pause|resume|stop")
		durationFlag  = flag.Duration("duration", 0, "stop watching after this long (0 waits for results)")
		verboseFlag   = flag.Bool("v", false, "log every turn")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verboseFlag {
		level = slog.LevelDebug
	}
	slog.SetDefault(telemetry.NewLogger(os.Stderr, level))

	if *observersFlag <= 0 {
		slog.Error("observers must be positive")
		os.Exit(1)
	}
	cfg := watchConfig{
		URL:       *addrFlag,
		Observers: *observersFlag,
		Control:   controlAction(*controlFlag),
		Duration:  *durationFlag,
	}
	switch cfg.Control {
	case actionNone, actionPause, actionResume, actionStop:
	default:
		slog.Error("unsupported control", "control", cfg.Control)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	start := time.Now()
	var stats watchStats
	var wg sync.WaitGroup
	for id := range cfg.Observers {
		wg.Go(func() {
			// 制御は1人目だけが送る
			control := actionNone
			if id == 0 {
				control = cfg.Control
			}
			if err := watch(ctx, cfg.URL, control, &stats, slog.With("observer", id)); err != nil && ctx.Err() == nil {
				slog.Warn("observer stopped", "observer", id, "err", err)
			}
		})
	}
	wg.Wait()

	elapsed := time.Since(start)
	slog.Info("watch finished",
		"observers", cfg.Observers,
		"snapshots", stats.snapshots.Load(),
		"bytes", stats.bytes.Load(),
		"elapsed", elapsed,
	)
}

func watch(ctx context.Context, url string, control controlAction, stats *watchStats, logger *slog.Logger) error {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()

	var sessionID domain.SessionID
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		frame, err := domain.ParseFrame(data)
		if err != nil {
			logger.Debug("malformed frame", "err", err)
			continue
		}

		switch frame.PayloadHeader.DataType {
		case domain.DataTypeControl:
			switch domain.ControlSubType(frame.PayloadHeader.SubType) {
			case domain.ControlSubTypeAssign:
				sessionID = domain.SessionIDFromBytes(frame.Header.SessionID)
				// RoomID を空にして既定のルームへ入る
				if err := conn.Write(ctx, websocket.MessageBinary, domain.EncodeJoinMessage(sessionID, domain.RoomID{})); err != nil {
					return fmt.Errorf("join: %w", err)
				}
				logger.Debug("joined", "sessionID", sessionID)
				if err := sendControl(ctx, conn, sessionID, control); err != nil {
					return err
				}
			case domain.ControlSubTypePing:
				if err := conn.Write(ctx, websocket.MessageBinary, domain.EncodePongMessage(sessionID)); err != nil {
					return fmt.Errorf("pong: %w", err)
				}
			case domain.ControlSubTypeError:
				logger.Warn("server error", "reason", string(frame.Payload))
			}

		case domain.DataTypeSnapshot:
			stats.snapshots.Add(1)
			stats.bytes.Add(int64(len(data)))
			record, err := application.DecodeTurnRecord(frame.Payload)
			if err != nil {
				logger.Warn("bad turn record", "err", err)
				continue
			}
			logger.Debug("turn", "round", record.Snapshot.Round, "turn", record.Snapshot.Turn, "bullets", len(record.Snapshot.Bullets))

		case domain.DataTypeResults:
			results, err := application.DecodeResults(frame.Payload)
			if err != nil {
				return fmt.Errorf("results: %w", err)
			}
			if stats.printed.CompareAndSwap(false, true) {
				printResults(results)
			}
			conn.Close(websocket.StatusNormalClosure, "done")
			return nil
		}
	}
}

func sendControl(ctx context.Context, conn *websocket.Conn, sessionID domain.SessionID, action controlAction) error {
	var sub domain.ControlSubType
	switch action {
	case actionNone:
		return nil
	case actionPause:
		sub = domain.ControlSubTypePause
	case actionResume:
		sub = domain.ControlSubTypeResume
	case actionStop:
		sub = domain.ControlSubTypeStop
	}
	msg, err := domain.EncodeMessage(sessionID, domain.DataTypeControl, uint8(sub), nil)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageBinary, msg)
}

func printResults(results *application.BattleResults) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "battle %s  rounds %d  aborted %v\n", results.BattleID, results.Rounds, results.Aborted)
	fmt.Fprintln(w, "RANK\tROBOT\tTOTAL\tSURVIVAL\tBULLET\tRAM\t1ST\t2ND\t3RD")
	for _, r := range results.Robots {
		fmt.Fprintf(w, "%d\t%s\t%.0f\t%.0f\t%.0f\t%.0f\t%d\t%d\t%d\n",
			r.Rank, r.Name, r.Total, r.Survival, r.BulletDamage+r.BulletKillBonus, r.RamDamage+r.RamKillBonus,
			r.Firsts, r.Seconds, r.Thirds)
	}
	w.Flush()
}
