package relay

import (
	"context"
	"log/slog"

	"battlecore/server/application"
)

type notification struct {
	record  *application.TurnRecord
	round   int
	turns   int
	results *application.BattleResults
	err     error
	kind    notificationKind
}

type notificationKind uint8

const (
	notifyTurn notificationKind = iota
	notifyRoundEnded
	notifyBattleEnded
)

// Observer は内側の Observer への通知を専用のゴルーチンへ逃がします。
// ターンの通知はキューが満杯なら捨て、ラウンドとバトルの終了は必ず届けます。
type Observer struct {
	loop *Loop[notification]
}

var _ application.Observer = (*Observer)(nil)

// NewObserver は inner へ中継する Observer を作り、ループを開始します。
func NewObserver(ctx context.Context, name string, inner application.Observer, queueSize int) (*Observer, error) {
	loop, err := New(Config[notification]{
		Name:      name,
		QueueSize: queueSize,
		Handler: HandlerFunc[notification](func(ctx context.Context, n notification) error {
			switch n.kind {
			case notifyTurn:
				inner.OnTurn(ctx, n.record)
			case notifyRoundEnded:
				inner.OnRoundEnded(ctx, n.round, n.turns)
			case notifyBattleEnded:
				inner.OnBattleEnded(ctx, n.results, n.err)
			}
			return nil
		}),
	})
	if err != nil {
		return nil, err
	}
	if err := loop.Start(ctx); err != nil {
		return nil, err
	}
	return &Observer{loop: loop}, nil
}

func (o *Observer) OnTurn(ctx context.Context, record *application.TurnRecord) {
	if err := o.loop.TrySubmit(notification{kind: notifyTurn, record: record}); err != nil {
		slog.DebugContext(ctx, "turn notification dropped", "relay", o.loop.name, "turn", record.Snapshot.Turn, "err", err)
	}
}

func (o *Observer) OnRoundEnded(ctx context.Context, round int, turns int) {
	if err := o.loop.Submit(ctx, notification{kind: notifyRoundEnded, round: round, turns: turns}); err != nil {
		slog.WarnContext(ctx, "round notification lost", "relay", o.loop.name, "round", round, "err", err)
	}
}

func (o *Observer) OnBattleEnded(ctx context.Context, results *application.BattleResults, err error) {
	if serr := o.loop.Submit(ctx, notification{kind: notifyBattleEnded, results: results, err: err}); serr != nil {
		slog.WarnContext(ctx, "battle end notification lost", "relay", o.loop.name, "err", serr)
	}
}

// Close は未処理の通知を流し切ってからループを止めます。
func (o *Observer) Close(ctx context.Context) error {
	return o.loop.Stop(ctx)
}
