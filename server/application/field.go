package application

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
)

const spawnAttempts = 1000

// Field はバトルフィールド上のロボットと弾丸を管理する構造体です。
// 書き換えはターン境界でコーディネーターからのみ行われます。
type Field struct {
	rules BattleRules
	specs []RobotSpec

	robots     []*RobotState // ID 順
	bullets    []*BulletState
	inboxes    []inbox
	roundStats []robotStats
	board      *scoreboard

	round            int
	turn             int
	seq              uint64
	nextBulletID     int
	turnsSinceDamage int
	deathOrder       []int

	parallel bool
}

// NewField はルールとロボット定義からフィールドを作成します。ラウンドは StartRound で開始します。
func NewField(rules BattleRules, specs []RobotSpec) *Field {
	f := &Field{
		rules:      rules,
		specs:      specs,
		robots:     make([]*RobotState, len(specs)),
		inboxes:    make([]inbox, len(specs)),
		roundStats: make([]robotStats, len(specs)),
	}
	for i, spec := range specs {
		f.robots[i] = &RobotState{
			ID:    i,
			Name:  spec.Name,
			Team:  teamKey(spec, i),
			Flags: spec.Flags.Capabilities() | StateDead,
		}
	}
	f.board = newScoreboard(f.robots)
	return f
}

func teamKey(spec RobotSpec, id int) string {
	if spec.Team != "" {
		return spec.Team
	}
	return fmt.Sprintf("%s#%d", spec.Name, id)
}

// SetParallel はロボットごとの物理更新を並列に行うかを切り替えます。結果は変わりません。
func (f *Field) SetParallel(parallel bool) { f.parallel = parallel }

func (f *Field) Rules() BattleRules { return f.rules }
func (f *Field) Round() int         { return f.round }
func (f *Field) Turn() int          { return f.turn }

// StartRound はラウンドを初期化し、全ロボットを配置します。
// 配置はシードとラウンド番号だけで決まります。
func (f *Field) StartRound(round int) {
	f.round = round
	f.turn = 0
	f.seq = 0
	f.nextBulletID = 0
	f.turnsSinceDamage = 0
	f.bullets = nil
	f.deathOrder = f.deathOrder[:0]

	rng := rand.New(rand.NewPCG(f.rules.Seed, uint64(round)))
	placed := make([]Rect, 0, len(f.robots))
	for i, r := range f.robots {
		spec := f.specs[i]
		pos := f.spawnPosition(rng, spec, placed)
		heading := rng.Float64() * 2 * math.Pi
		if spec.Heading != nil {
			heading = NormalAbsoluteAngle(*spec.Heading)
		}
		placed = append(placed, RobotBounds(pos))

		*r = RobotState{
			ID:               r.ID,
			Name:             r.Name,
			Team:             r.Team,
			Flags:            r.Flags.Capabilities() | StateAlive,
			Position:         pos,
			BodyHeading:      heading,
			GunHeading:       heading,
			RadarHeading:     heading,
			LastRadarHeading: heading,
			LastPosition:     pos,
			Energy:           InitialEnergyFor(r.Flags),
			GunHeat:          f.rules.InitialGunHeat,
			Intent:           Intent{MaxVelocity: MaxVelocity},
		}
		f.inboxes[i] = inbox{}
		f.roundStats[i] = newRobotStats()
	}
}

func (f *Field) spawnPosition(rng *rand.Rand, spec RobotSpec, placed []Rect) Vec2 {
	if spec.Start != nil {
		pos, _ := f.clampToArena(*spec.Start)
		return pos
	}
	w := f.rules.BattlefieldWidth - RobotSize
	h := f.rules.BattlefieldHeight - RobotSize
	var pos Vec2
	for range spawnAttempts {
		pos = Vec2{X: RobotHalfSize + rng.Float64()*w, Y: RobotHalfSize + rng.Float64()*h}
		if !overlapsAny(RobotBounds(pos), placed) {
			return pos
		}
	}
	// 空きが見つからない狭いフィールドでは最後の候補を使い、初回の衝突判定で引き離す
	return pos
}

func overlapsAny(r Rect, placed []Rect) bool {
	for _, p := range placed {
		if r.Intersects(p) {
			return true
		}
	}
	return false
}

// Robot は ID のロボットを返します。範囲外なら nil です。
func (f *Field) Robot(id int) *RobotState {
	if id < 0 || id >= len(f.robots) {
		return nil
	}
	return f.robots[id]
}

// Robots は全ロボットを ID 順に返します。
func (f *Field) Robots() []*RobotState { return f.robots }

// Bullets はフィールド上の弾丸を ID 順に返します。
func (f *Field) Bullets() []*BulletState { return f.bullets }

// AliveRobots は生存ロボットを ID 順に返します。
func (f *Field) AliveRobots() []*RobotState {
	alive := make([]*RobotState, 0, len(f.robots))
	for _, r := range f.robots {
		if r.IsAlive() {
			alive = append(alive, r)
		}
	}
	return alive
}

// Others は r 以外の生存ロボット数です。
func (f *Field) Others(r *RobotState) int {
	n := 0
	for _, o := range f.robots {
		if o.ID != r.ID && o.IsAlive() {
			n++
		}
	}
	return n
}

// AliveTeams は生存ロボットを持つチーム数です。
func (f *Field) AliveTeams() int {
	teams := make(map[string]struct{})
	for _, r := range f.robots {
		if r.IsAlive() {
			teams[r.Team] = struct{}{}
		}
	}
	return len(teams)
}

func (f *Field) emit(id int, ev Event) {
	f.inboxes[id].push(ev, f.seq)
	f.seq++
}

// DrainEvents はロボット宛の未配送イベントを優先度順に取り出します。
func (f *Field) DrainEvents(id int) []Event {
	return f.inboxes[id].drain()
}

// AcceptCommands はターン内に届いた命令一式を受理し、連続スキップ数をリセットします。
func (f *Field) AcceptCommands(id int, cmds []Command) (ignored int) {
	r := f.Robot(id)
	if r == nil || !r.IsAlive() {
		return 0
	}
	r.skippedTurns = 0
	return applyCommands(r, cmds)
}

// MergeStale は期限後に届いた命令を Intent にだけ反映します。ターン完了とはみなしません。
func (f *Field) MergeStale(id int, cmds []Command) {
	if r := f.Robot(id); r != nil && r.IsAlive() {
		applyCommands(r, cmds)
	}
}

// SkipTurn はターン内に応答しなかったロボットに SkippedTurn と減衰を与えます。
// 連続スキップが上限に達したら故障として死亡させ、true を返します。
func (f *Field) SkipTurn(id int) bool {
	r := f.Robot(id)
	if r == nil || !r.IsAlive() {
		return false
	}
	r.skippedTurns++
	f.emit(id, SkippedTurnEvent{EventHeader: EventHeader{T: f.turn + 1}, SkippedTurn: f.turn + 1})
	r.drain(f.rules.SkippedTurnDecay)
	if r.skippedTurns >= f.rules.MaxSkippedTurns {
		f.killRobot(r, true)
		return true
	}
	return false
}

// Fault はロボットのコードが失敗した回数を数えます。上限に達したら故障として死亡させます。
func (f *Field) Fault(id int) bool {
	r := f.Robot(id)
	if r == nil || !r.IsAlive() {
		return false
	}
	r.faults++
	if r.faults >= f.rules.MaxRobotFaults {
		f.killRobot(r, true)
		return true
	}
	return false
}

// Advance は1ターン進めます。物理、衝突、スキャンの順に処理し、最後に不変条件を検証します。
func (f *Field) Advance(ctx context.Context) error {
	f.turn++

	ctx, span := tracer.Start(ctx, "field.physics")
	err := f.updatePhysics(ctx)
	span.End()
	if err != nil {
		return err
	}

	_, span = tracer.Start(ctx, "field.collisions")
	f.resolveCollisions()
	span.End()

	_, span = tracer.Start(ctx, "field.scan")
	f.resolveScans()
	span.End()

	return f.checkInvariants()
}

// RoundOver はラウンドの終了条件を判定します。生存チームが1以下か、ターン上限に達したときです。
func (f *Field) RoundOver() bool {
	if f.AliveTeams() <= 1 {
		return true
	}
	return f.rules.MaxTurnsPerRound > 0 && f.turn >= f.rules.MaxTurnsPerRound
}

// FinishRound は勝者に Win、生存者に RoundEnded を通知し、ラウンドの得点を集計します。
func (f *Field) FinishRound(lastRound bool, aborted bool) {
	alive := f.AliveRobots()
	if !aborted && f.AliveTeams() == 1 {
		for _, r := range alive {
			f.emit(r.ID, WinEvent{EventHeader: EventHeader{T: f.turn}})
			f.awardLastSurvivor(r)
		}
	}
	for _, r := range alive {
		f.emit(r.ID, RoundEndedEvent{EventHeader: EventHeader{T: f.turn}, Round: f.round, Turns: f.turn})
		if lastRound || aborted {
			f.emit(r.ID, BattleEndedEvent{EventHeader: EventHeader{T: f.turn}, Aborted: aborted})
		}
	}
	f.board.addRound(f.robots, f.roundStats, f.placement())
}

// placement はこのラウンドの順位を ID で返します。生存者が先、死亡順の逆がその後に続きます。
func (f *Field) placement() []int {
	order := make([]int, 0, len(f.robots))
	for _, r := range f.robots {
		if r.IsAlive() {
			order = append(order, r.ID)
		}
	}
	for i := len(f.deathOrder) - 1; i >= 0; i-- {
		order = append(order, f.deathOrder[i])
	}
	return order
}

// Results はここまでのラウンドの集計結果を返します。
func (f *Field) Results() []RobotResult {
	return f.board.results()
}

func (f *Field) checkInvariants() error {
	arena := f.Arena()
	for _, r := range f.robots {
		switch {
		case !r.Position.IsFinite() || math.IsNaN(r.Energy) || math.IsNaN(r.GunHeat):
			return fmt.Errorf("%w: robot %d has non-finite state", ErrInvariantViolation, r.ID)
		case r.Energy < 0:
			return fmt.Errorf("%w: robot %d energy %v < 0", ErrInvariantViolation, r.ID, r.Energy)
		case r.GunHeat < 0:
			return fmt.Errorf("%w: robot %d gun heat %v < 0", ErrInvariantViolation, r.ID, r.GunHeat)
		case r.IsAlive() && !r.Bounds().Within(arena):
			return fmt.Errorf("%w: robot %d at %v outside the field", ErrInvariantViolation, r.ID, r.Position)
		}
	}
	for _, b := range f.bullets {
		if b.Power < MinBulletPower || b.Power > MaxBulletPower || !b.Position.IsFinite() {
			return fmt.Errorf("%w: bullet %d power %v at %v", ErrInvariantViolation, b.ID, b.Power, b.Position)
		}
	}
	return nil
}
