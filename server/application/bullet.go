package application

// BulletPhase は弾丸のライフサイクル上の状態です。
type BulletPhase uint8

const (
	BulletFlying BulletPhase = iota + 1
	BulletHitVictim
	BulletHitBullet
	BulletHitWall
	BulletExploded // 描画側の爆発演出用。エンジンは生成しない
	BulletInactive
)

func (p BulletPhase) String() string {
	switch p {
	case BulletFlying:
		return "FLYING"
	case BulletHitVictim:
		return "HIT_VICTIM"
	case BulletHitBullet:
		return "HIT_BULLET"
	case BulletHitWall:
		return "HIT_WALL"
	case BulletExploded:
		return "EXPLODED"
	case BulletInactive:
		return "INACTIVE"
	}
	return "UNKNOWN"
}

// IsTerminal は命中・消滅済みの状態かを返します。
func (p BulletPhase) IsTerminal() bool {
	return p != BulletFlying
}

// BulletState はフィールド上の弾丸を表す構造体です。
type BulletState struct {
	ID       int
	OwnerID  int
	Position Vec2
	Previous Vec2 // このターンの移動開始位置
	Heading  float64
	Power    float64
	Phase    BulletPhase
	VictimID int // HIT_VICTIM / HIT_BULLET の相手。なければ -1
	Born     int // 発射ターン。このターンは移動も衝突もしない
}

func newBullet(id, owner, turn int, pos Vec2, heading, power float64) *BulletState {
	return &BulletState{
		ID:       id,
		OwnerID:  owner,
		Position: pos,
		Previous: pos,
		Heading:  heading,
		Power:    power,
		Phase:    BulletFlying,
		VictimID: -1,
		Born:     turn,
	}
}

func (b *BulletState) Speed() float64  { return BulletSpeed(b.Power) }
func (b *BulletState) Damage() float64 { return BulletDamage(b.Power) }

// Path はこのターンに弾丸が通過した線分です。
func (b *BulletState) Path() Segment {
	return Segment{A: b.Previous, B: b.Position}
}

// advance は弾丸を1ターン分進めます。
func (b *BulletState) advance() {
	b.Previous = b.Position
	b.Position = b.Position.Project(b.Heading, b.Speed())
}
