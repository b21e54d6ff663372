package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("battlecore/server/application")

// BattleState はコーディネーターの状態です。
type BattleState uint32

const (
	StateRoundStarting BattleState = iota
	StateTurnRunning
	StateTurnEnded
	StateRoundEnded
	StateBattleEnded
)

func (s BattleState) String() string {
	switch s {
	case StateRoundStarting:
		return "ROUND_STARTING"
	case StateTurnRunning:
		return "TURN_RUNNING"
	case StateTurnEnded:
		return "TURN_ENDED"
	case StateRoundEnded:
		return "ROUND_ENDED"
	case StateBattleEnded:
		return "BATTLE_ENDED"
	}
	return "UNKNOWN"
}

// Options はルール以外の実行時設定です。
type Options struct {
	ID           uuid.UUID
	TurnTimeout  time.Duration // ロボットの応答を待つ上限
	TurnInterval time.Duration // Run のターン間隔。0 なら待たない
	StopGrace    time.Duration // ラウンド終了時にタスクの終了を待つ時間
	Parallel     bool          // ロボットの物理更新を並列化する
	Observers    []Observer
}

// DefaultOptions は 50ms のターン制限を持つ標準設定を返します。
func DefaultOptions() Options {
	return Options{
		TurnTimeout: 50 * time.Millisecond,
		StopGrace:   200 * time.Millisecond,
		Parallel:    true,
	}
}

// Battle はラウンドとターンを進めるコーディネーターです。
// フィールドを書き換えるのは常に1つの Step だけで、ロボットのタスクは命令を送るだけです。
type Battle struct {
	id        uuid.UUID
	rules     BattleRules
	specs     []RobotSpec
	opts      Options
	field     *Field
	observers []Observer

	state    atomic.Uint32
	stepping atomic.Bool
	paused   atomic.Bool
	stopNow  atomic.Bool
	fatal    atomic.Pointer[BattleError]

	wake  chan struct{}
	ended chan struct{}

	// Step の中だけで触るフィールド
	submitCh    chan submission
	peers       []*peer
	pending     [][]Event
	cancelRound context.CancelFunc

	mu      sync.Mutex
	results *BattleResults
	err     error
}

// NewBattle はルールとロボット定義を検証してバトルを作成します。
func NewBattle(rules BattleRules, specs []RobotSpec, opts Options) (*Battle, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	if len(specs) == 0 {
		return nil, ErrNoRobots
	}
	specs = uniqueNames(specs)
	for i, s := range specs {
		if s.Name == "" || s.Controller == nil {
			return nil, fmt.Errorf("%w: robot %d needs a name and a controller", ErrInvalidRobot, i)
		}
	}
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = DefaultOptions().TurnTimeout
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = DefaultOptions().StopGrace
	}
	if opts.ID == uuid.Nil {
		opts.ID = uuid.New()
	}

	field := NewField(rules, specs)
	field.SetParallel(opts.Parallel)
	b := &Battle{
		id:        opts.ID,
		rules:     rules,
		specs:     specs,
		opts:      opts,
		field:     field,
		observers: opts.Observers,
		wake:      make(chan struct{}, 1),
		ended:     make(chan struct{}),
		submitCh:  make(chan submission, 2*len(specs)),
	}
	b.state.Store(uint32(StateRoundStarting))
	return b, nil
}

// uniqueNames は同名のロボットに " (2)" のような連番を付けます。
func uniqueNames(specs []RobotSpec) []RobotSpec {
	out := make([]RobotSpec, len(specs))
	seen := make(map[string]int)
	for i, s := range specs {
		seen[s.Name]++
		if n := seen[s.Name]; n > 1 {
			s.Name = fmt.Sprintf("%s (%d)", s.Name, n)
		}
		out[i] = s
	}
	return out
}

func (b *Battle) ID() uuid.UUID      { return b.id }
func (b *Battle) Rules() BattleRules { return b.rules }
func (b *Battle) State() BattleState { return BattleState(b.state.Load()) }
func (b *Battle) Paused() bool       { return b.paused.Load() }

func (b *Battle) setState(s BattleState) { b.state.Store(uint32(s)) }

// Results は終了後の最終結果を返します。終了前は nil です。
func (b *Battle) Results() *BattleResults {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.results
}

// Err はバトルを中断させたエラーを返します。
func (b *Battle) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Done はバトル終了時に閉じられるチャネルを返します。
func (b *Battle) Done() <-chan struct{} { return b.ended }

// Pause は次のターン境界から Step を止めます。
func (b *Battle) Pause() { b.paused.Store(true) }

// Resume は一時停止を解除します。
func (b *Battle) Resume() {
	b.paused.Store(false)
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Stop はバトルの終了を要求します。中断は次のターン境界で行われ、結果は aborted になります。
// waitTillEnd が true なら、バトルが終了するまで呼び出し側をブロックします。
// Step を進めているゴルーチン自身から waitTillEnd=true で呼ぶと戻りません。
func (b *Battle) Stop(waitTillEnd bool) {
	b.stopNow.Store(true)
	b.Resume()
	if waitTillEnd {
		<-b.ended
	}
}

// Stopping は終了が要求済みかを返します。
func (b *Battle) Stopping() bool { return b.stopNow.Load() }

// Start は Run を別のゴルーチンで開始します。終了は Done か Wait で待ちます。
func (b *Battle) Start(ctx context.Context) {
	go func() {
		if _, err := b.Run(ctx); err != nil {
			slog.ErrorContext(ctx, "battle failed", "battle", b.id, "error", err)
		}
	}()
}

// Wait はバトルの終了を待って結果を返します。
func (b *Battle) Wait(ctx context.Context) (*BattleResults, error) {
	select {
	case <-b.ended:
		return b.Results(), b.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run はバトルが終わるまで Step を繰り返します。
func (b *Battle) Run(ctx context.Context) (*BattleResults, error) {
	var tick <-chan time.Time
	if b.opts.TurnInterval > 0 {
		ticker := time.NewTicker(b.opts.TurnInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		record, err := b.Step(ctx)
		if err != nil {
			if errors.Is(err, ErrBattleEnded) {
				return b.Results(), b.Err()
			}
			return b.Results(), err
		}
		if b.State() == StateBattleEnded {
			return b.Results(), nil
		}
		if record == nil && b.paused.Load() {
			select {
			case <-b.wake:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}
		if tick != nil {
			select {
			case <-tick:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
}

// Step はターンを1つ進めます。必要ならラウンドの開始と終了も含みます。
// 一時停止中は (nil, nil) を返します。
func (b *Battle) Step(ctx context.Context) (*TurnRecord, error) {
	if !b.stepping.CompareAndSwap(false, true) {
		be := &BattleError{Round: b.field.Round(), Turn: b.field.Turn(), Err: ErrConcurrentStep}
		b.fatal.CompareAndSwap(nil, be)
		return nil, be
	}
	defer b.stepping.Store(false)

	if b.State() == StateBattleEnded {
		return nil, ErrBattleEnded
	}
	if be := b.fatal.Load(); be != nil {
		return nil, b.fail(ctx, be)
	}

	if b.State() == StateRoundStarting {
		if b.stopNow.Load() {
			b.finish(ctx, true, nil)
			return nil, nil
		}
		if b.paused.Load() {
			return nil, nil
		}
		b.startRound(ctx)
	}

	if b.stopNow.Load() {
		return b.abortRound(ctx), nil
	}
	if b.paused.Load() {
		return nil, nil
	}
	return b.runTurn(ctx)
}

func (b *Battle) startRound(ctx context.Context) {
	round := b.field.Round() + 1
	b.field.StartRound(round)

	// 前のラウンドの遅れた報告を捨てる
drain:
	for {
		select {
		case <-b.submitCh:
		default:
			break drain
		}
	}

	roundCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.cancelRound = cancel
	b.pending = make([][]Event, len(b.specs))
	b.peers = make([]*peer, len(b.specs))
	for i, spec := range b.specs {
		p := newPeer(i, spec.Name, spec.Controller, b.submitCh)
		b.peers[i] = p
		go p.run(roundCtx)
	}
	b.setState(StateTurnRunning)
	slog.InfoContext(ctx, "round started", "battle", b.id, "round", round, "robots", len(b.specs))
}

func (b *Battle) runTurn(ctx context.Context) (*TurnRecord, error) {
	turn := b.field.Turn() + 1
	round := b.field.Round()
	ctx, span := tracer.Start(ctx, "battle.turn", turnAttributes(round, turn))
	defer span.End()

	b.setState(StateTurnRunning)
	b.release(turn)
	if err := b.collect(ctx, turn); err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := b.field.Advance(ctx); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, b.fail(ctx, err)
	}
	b.setState(StateTurnEnded)

	roundOver := b.field.RoundOver()
	lastRound := round >= b.rules.NumRounds
	if roundOver {
		b.field.FinishRound(lastRound, false)
	}
	record := b.record()
	b.deliverFinals(roundOver)
	b.notifyTurn(ctx, record)

	if roundOver {
		span.SetAttributes(attribute.Bool("round_over", true))
		b.endRound(ctx, lastRound, false)
	}
	return record, nil
}

// abortRound は進行中のラウンドを中断し、バトルを終了させます。
func (b *Battle) abortRound(ctx context.Context) *TurnRecord {
	b.field.FinishRound(true, true)
	record := b.record()
	b.deliverFinals(true)
	b.notifyTurn(ctx, record)
	b.endRound(ctx, true, true)
	return record
}

// release は生存ロボットに TurnStart を配送します。
func (b *Battle) release(turn int) {
	round := b.field.Round()
	for _, p := range b.peers {
		r := b.field.Robot(p.id)
		if p.finished || !r.IsAlive() {
			continue
		}
		p.release(TurnStart{
			Round:  round,
			Turn:   turn,
			Status: r.status(round, turn, b.field.Others(r)),
			Events: b.pending[p.id],
		})
		b.pending[p.id] = nil
	}
}

// collect は全ロボットの報告か、ターン制限のどちらか早い方まで待ちます。
// 期限までに報告しなかったロボットはこのターンをスキップしたものとして扱います。
func (b *Battle) collect(ctx context.Context, turn int) error {
	_, span := tracer.Start(ctx, "battle.collect")
	defer span.End()

	waiting := make([]bool, len(b.peers))
	remaining := 0
	for _, p := range b.peers {
		if !p.finished && b.field.Robot(p.id).IsAlive() {
			waiting[p.id] = true
			remaining++
		}
	}

	timer := time.NewTimer(b.opts.TurnTimeout)
	defer timer.Stop()
collect:
	for remaining > 0 {
		select {
		case s := <-b.submitCh:
			if b.intake(ctx, s, turn) && waiting[s.robotID] {
				waiting[s.robotID] = false
				remaining--
			}
		case <-timer.C:
			break collect
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for id, w := range waiting {
		if !w {
			continue
		}
		slog.DebugContext(ctx, "robot skipped turn", "robot", b.specs[id].Name, "turn", turn)
		if b.field.SkipTurn(id) {
			slog.WarnContext(ctx, "robot disabled for skipping turns", "robot", b.specs[id].Name, "turn", turn)
		}
	}
	return nil
}

// intake は報告を1件処理し、それがこのターンの完了にあたるかを返します。
func (b *Battle) intake(ctx context.Context, s submission, turn int) bool {
	if s.robotID < 0 || s.robotID >= len(b.specs) {
		return false
	}
	name := b.specs[s.robotID].Name
	switch {
	case s.fault != nil:
		if b.field.Fault(s.robotID) {
			slog.WarnContext(ctx, "robot disabled for faults", "robot", name, "error", s.fault)
		}
		if s.set.Turn != turn {
			return false
		}
		b.field.SkipTurn(s.robotID)
		return true
	case s.set.Turn == turn:
		if n := b.field.AcceptCommands(s.robotID, s.set.Commands); n > 0 {
			slog.DebugContext(ctx, "commands ignored", "robot", name, "count", n)
		}
		return true
	case s.set.Turn < turn:
		b.field.MergeStale(s.robotID, s.set.Commands)
	}
	return false
}

// record はこのターンのイベントを取り出して配送待ちに回し、観測用の記録を作ります。
func (b *Battle) record() *TurnRecord {
	record := &TurnRecord{
		Snapshot: b.field.Snapshot(),
		Events:   make(map[int][]Event),
	}
	for id := range b.specs {
		events := b.field.DrainEvents(id)
		if len(events) == 0 {
			continue
		}
		record.Events[id] = events
		b.pending[id] = append(b.pending[id], events...)
	}
	return record
}

// deliverFinals は死亡したロボット、ラウンド終了時は全員に最後の TurnStart を配送します。
func (b *Battle) deliverFinals(roundOver bool) {
	round := b.field.Round()
	turn := b.field.Turn()
	for _, p := range b.peers {
		r := b.field.Robot(p.id)
		if p.finished || (r.IsAlive() && !roundOver) {
			continue
		}
		p.release(TurnStart{
			Round:  round,
			Turn:   turn,
			Status: r.status(round, turn, b.field.Others(r)),
			Events: b.pending[p.id],
			Final:  true,
		})
		b.pending[p.id] = nil
	}
}

func (b *Battle) endRound(ctx context.Context, lastRound, aborted bool) {
	b.setState(StateRoundEnded)
	round, turns := b.field.Round(), b.field.Turn()
	b.stopPeers(ctx)
	slog.InfoContext(ctx, "round ended", "battle", b.id, "round", round, "turns", turns, "aborted", aborted)
	for _, o := range b.observers {
		o.OnRoundEnded(ctx, round, turns)
	}

	if lastRound || aborted {
		b.finish(ctx, aborted, nil)
		return
	}
	b.setState(StateRoundStarting)
}

// stopPeers はロボットのタスクを止めます。猶予内に戻らないタスクは放置します。
func (b *Battle) stopPeers(ctx context.Context) {
	if b.cancelRound != nil {
		b.cancelRound()
		b.cancelRound = nil
	}
	deadline := time.NewTimer(b.opts.StopGrace)
	defer deadline.Stop()
	for _, p := range b.peers {
		select {
		case <-p.done:
		case <-deadline.C:
			slog.WarnContext(ctx, "robot task abandoned", "robot", p.name)
			return
		}
	}
}

func (b *Battle) notifyTurn(ctx context.Context, record *TurnRecord) {
	for _, o := range b.observers {
		o.OnTurn(ctx, record)
	}
}

// fail はエンジン障害でバトルを中断し、BattleError を返します。
func (b *Battle) fail(ctx context.Context, err error) error {
	var be *BattleError
	if !errors.As(err, &be) {
		be = &BattleError{Round: b.field.Round(), Turn: b.field.Turn(), Err: err}
	}
	slog.ErrorContext(ctx, "battle aborted", "battle", b.id, "round", be.Round, "turn", be.Turn, "error", be.Err)
	b.stopPeers(ctx)
	b.finish(ctx, true, be)
	return be
}

func (b *Battle) finish(ctx context.Context, aborted bool, err error) {
	robots := b.field.Results()
	results := &BattleResults{
		BattleID: b.id.String(),
		Rounds:   b.field.Round(),
		Aborted:  aborted,
		Robots:   robots,
		Teams:    TeamResults(robots),
	}
	b.mu.Lock()
	b.results = results
	b.err = err
	b.mu.Unlock()

	b.setState(StateBattleEnded)
	close(b.ended)
	slog.InfoContext(ctx, "battle ended", "battle", b.id, "rounds", results.Rounds, "aborted", aborted)
	for _, o := range b.observers {
		o.OnBattleEnded(ctx, results, err)
	}
}

func turnAttributes(round, turn int) trace.SpanStartOption {
	return trace.WithAttributes(attribute.Int("round", round), attribute.Int("turn", turn))
}
