package application

import (
	"context"
	"log/slog"
)

// RobotHost はエンジンの外でロボットのコードを動かします。
// 接続の向こうから届いた TurnStart を Deliver で渡し、Next でそのターンの CommandSet を受け取ります。
// ラウンドが終わると次の TurnStart で新しいタスクを起動します。
type RobotHost struct {
	name       string
	controller Controller
	submitCh   chan submission

	peer   *peer
	cancel context.CancelFunc
}

func NewRobotHost(name string, controller Controller) *RobotHost {
	return &RobotHost{
		name:       name,
		controller: controller,
		submitCh:   make(chan submission, 1),
	}
}

// Deliver は TurnStart をロボットのタスクへ渡します。Final の後に届いたものは次のラウンドの始まりです。
func (h *RobotHost) Deliver(ctx context.Context, ts TurnStart) {
	if h.peer == nil || h.peer.finished {
		if ts.Final {
			return
		}
		h.start(ctx)
	}
	h.peer.release(ts)
}

func (h *RobotHost) start(ctx context.Context) {
	h.stop()
	// 前のタスクの報告が残っていれば捨てる
	for len(h.submitCh) > 0 {
		<-h.submitCh
	}
	p := newPeer(0, h.name, h.controller, h.submitCh)
	pctx, cancel := context.WithCancel(ctx)
	h.peer, h.cancel = p, cancel
	go p.run(pctx)
}

func (h *RobotHost) stop() {
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// Next はロボットが Execute した CommandSet を待ちます。故障したターンは空の命令になります。
func (h *RobotHost) Next(ctx context.Context) (CommandSet, error) {
	select {
	case s := <-h.submitCh:
		if s.fault != nil {
			slog.WarnContext(ctx, "hosted robot fault", "robot", h.name, "turn", s.set.Turn, "error", s.fault)
		}
		return s.set, nil
	case <-ctx.Done():
		return CommandSet{}, ctx.Err()
	}
}

// Close は動いているタスクを止めます。
func (h *RobotHost) Close() {
	h.stop()
}
