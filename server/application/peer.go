package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrRobotFault はロボットのコードがエラーを返したか panic したことを表します。
var ErrRobotFault = errors.New("robot fault")

// TurnStart はターンの開始時にロボットへ渡される情報です。
// Final が true のときはこれが最後の配送で、以降 Execute は ErrRobotStopped を返します。
type TurnStart struct {
	Round  int
	Turn   int
	Status RobotStatus
	Events []Event
	Final  bool
}

// submission はロボットのタスクからコーディネーターへの報告です。
type submission struct {
	robotID int
	set     CommandSet
	fault   error
}

// peer はコーディネーター側から見た1体のロボットのタスクです。
type peer struct {
	id         int
	name       string
	controller Controller

	turnCh   chan TurnStart
	submitCh chan<- submission
	done     chan struct{}
	finished bool
}

func newPeer(id int, name string, controller Controller, submitCh chan<- submission) *peer {
	return &peer{
		id:         id,
		name:       name,
		controller: controller,
		turnCh:     make(chan TurnStart, 1),
		submitCh:   submitCh,
		done:       make(chan struct{}),
	}
}

// release はロボットを次のターンへ進めます。
// 未受信の TurnStart が残っていれば、そのイベントを引き継いだ最新のもので置き換えます。
func (p *peer) release(ts TurnStart) {
	select {
	case old := <-p.turnCh:
		ts.Events = append(old.Events, ts.Events...)
	default:
	}
	p.turnCh <- ts
	if ts.Final {
		p.finished = true
	}
}

// run はロボットのタスク本体です。panic とエラーはここで回収し、故障として報告します。
func (p *peer) run(ctx context.Context) {
	defer close(p.done)

	api := newRobotAPI(p)
	if err := api.await(ctx); err != nil {
		return
	}
	for {
		err := p.invoke(ctx, api)
		switch {
		case errors.Is(err, ErrRobotStopped) || ctx.Err() != nil:
			return
		case err != nil:
			slog.WarnContext(ctx, "robot fault", "robot", p.name, "turn", api.turn, "error", err)
			if err := api.reportFault(ctx, err); err != nil {
				return
			}
		default:
			// Run が戻ったロボットは命令なしでターンを消化し続ける
			for {
				if err := api.Execute(ctx); err != nil {
					return
				}
			}
		}
	}
}

func (p *peer) invoke(ctx context.Context, api *RobotAPI) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrRobotFault, r)
		}
	}()
	err = p.controller.Run(ctx, api)
	if err == nil || errors.Is(err, ErrRobotStopped) || ctx.Err() != nil {
		return err
	}
	return fmt.Errorf("%w: %w", ErrRobotFault, err)
}

// RobotAPI はロボットのコードがエンジンと対話する唯一の窓口です。
// Set 系のメソッドは命令を蓄積するだけで、Execute を呼ぶとまとめて送信されます。
// 状態とイベントはすべてターン開始時点の写しです。
type RobotAPI struct {
	peer    *peer
	round   int
	turn    int
	status  RobotStatus
	events  []Event
	cmds    []Command
	stopped bool
}

func newRobotAPI(p *peer) *RobotAPI {
	return &RobotAPI{peer: p}
}

func (a *RobotAPI) Name() string        { return a.peer.name }
func (a *RobotAPI) Round() int          { return a.round }
func (a *RobotAPI) Turn() int           { return a.turn }
func (a *RobotAPI) Status() RobotStatus { return a.status }

// Events はこのターンの開始時に配送されたイベントを優先度順に返します。
func (a *RobotAPI) Events() []Event { return a.events }

// TurnStart は直近に受け取った TurnStart を組み立て直して返します。
func (a *RobotAPI) TurnStart() TurnStart {
	return TurnStart{Round: a.round, Turn: a.turn, Status: a.status, Events: a.events, Final: a.stopped}
}

func (a *RobotAPI) push(kind CommandKind, value float64) {
	a.cmds = append(a.cmds, Command{Kind: kind, Value: value})
}

func (a *RobotAPI) pushFlag(kind CommandKind, flag bool) {
	a.cmds = append(a.cmds, Command{Kind: kind, Flag: flag})
}

// SetTurnBody は車体を angle(rad, 時計回りが正) だけ旋回させます。
func (a *RobotAPI) SetTurnBody(angle float64) { a.push(CmdTurnBody, angle) }

// SetAhead は distance だけ前進します。負値は後退です。
func (a *RobotAPI) SetAhead(distance float64) { a.push(CmdMove, distance) }

func (a *RobotAPI) SetBack(distance float64)      { a.push(CmdMove, -distance) }
func (a *RobotAPI) SetMaxVelocity(v float64)      { a.push(CmdMaxVelocity, v) }
func (a *RobotAPI) SetTurnGun(angle float64)      { a.push(CmdTurnGun, angle) }
func (a *RobotAPI) SetTurnRadar(angle float64)    { a.push(CmdTurnRadar, angle) }
func (a *RobotAPI) SetFire(power float64)         { a.push(CmdFire, power) }
func (a *RobotAPI) SetAdjustGunForBody(on bool)   { a.pushFlag(CmdAdjustGunForBody, on) }
func (a *RobotAPI) SetAdjustRadarForGun(on bool)  { a.pushFlag(CmdAdjustRadarForGun, on) }
func (a *RobotAPI) SetAdjustRadarForBody(on bool) { a.pushFlag(CmdAdjustRadarForBody, on) }
func (a *RobotAPI) Rescan()                       { a.push(CmdRescan, 0) }
func (a *RobotAPI) SetStop()                      { a.push(CmdStop, 0) }
func (a *RobotAPI) SetCommands(cmds ...Command)   { a.cmds = append(a.cmds, cmds...) }

// Execute は蓄積した命令を送信してターンを完了し、次のターンの開始まで待ちます。
func (a *RobotAPI) Execute(ctx context.Context) error {
	if a.stopped {
		return ErrRobotStopped
	}
	set := CommandSet{Turn: a.turn, Commands: a.cmds}
	a.cmds = nil
	if err := a.submit(ctx, submission{robotID: a.peer.id, set: set}); err != nil {
		return err
	}
	return a.await(ctx)
}

// Wait は cond が満たされるまで空のターンを実行します。
func (a *RobotAPI) Wait(ctx context.Context, cond func(RobotStatus) bool) error {
	for !cond(a.status) {
		if err := a.Execute(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Ahead は distance 進み終わるまでブロックします。
func (a *RobotAPI) Ahead(ctx context.Context, distance float64) error {
	a.SetAhead(distance)
	if err := a.Execute(ctx); err != nil {
		return err
	}
	return a.Wait(ctx, func(s RobotStatus) bool { return s.DistanceRemaining == 0 })
}

// TurnBody は車体が angle 旋回し終わるまでブロックします。
func (a *RobotAPI) TurnBody(ctx context.Context, angle float64) error {
	a.SetTurnBody(angle)
	if err := a.Execute(ctx); err != nil {
		return err
	}
	return a.Wait(ctx, func(s RobotStatus) bool { return s.BodyTurnRemaining == 0 })
}

func (a *RobotAPI) submit(ctx context.Context, s submission) error {
	select {
	case a.peer.submitCh <- s:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// await は次の TurnStart を待ちます。
// ラウンド終了時は取り消しより先に届いている最後の配送を優先します。
func (a *RobotAPI) await(ctx context.Context) error {
	select {
	case ts := <-a.peer.turnCh:
		return a.begin(ts)
	case <-ctx.Done():
		select {
		case ts := <-a.peer.turnCh:
			return a.begin(ts)
		default:
		}
		return ctx.Err()
	}
}

func (a *RobotAPI) begin(ts TurnStart) error {
	a.round = ts.Round
	a.turn = ts.Turn
	a.status = ts.Status
	a.events = ts.Events
	if ts.Final {
		a.stopped = true
		return ErrRobotStopped
	}
	return nil
}

// reportFault は故障をコーディネーターに伝え、このターンを捨てて次のターンを待ちます。
func (a *RobotAPI) reportFault(ctx context.Context, cause error) error {
	a.cmds = nil
	s := submission{robotID: a.peer.id, set: CommandSet{Turn: a.turn}, fault: cause}
	if err := a.submit(ctx, s); err != nil {
		return err
	}
	return a.await(ctx)
}
