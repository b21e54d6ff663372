package application

import "strings"

// RobotFlags はロボットの状態と能力をビットマスクで表現します。
// bit 0-3: 状態フラグ, bit 4-7: 能力フラグ
type RobotFlags uint8

const (
	StateAlive   RobotFlags = 0x01
	StateDead    RobotFlags = 0x02
	StateFaulted RobotFlags = 0x04 // 故障による失格。StateDead と併用

	stateMask RobotFlags = 0x0F

	CapIndependentTurns RobotFlags = 0x10 // 砲塔・レーダーの独立旋回を許可
	CapWallDamage       RobotFlags = 0x20 // 壁衝突でダメージを受ける
	CapDroid            RobotFlags = 0x40 // レーダーなし、初期エネルギー増
	CapLeader           RobotFlags = 0x80 // チームリーダー

	capMask RobotFlags = 0xF0
)

// CapAdvanced は独立旋回と壁ダメージを持つ標準的な上位ロボットの能力セットです。
const CapAdvanced = CapIndependentTurns | CapWallDamage

func (f RobotFlags) Has(x RobotFlags) bool { return f&x != 0 }

// Capabilities は能力フラグのみを返します。
func (f RobotFlags) Capabilities() RobotFlags { return f & capMask }

func (f RobotFlags) withState(s RobotFlags) RobotFlags { return (f &^ stateMask) | s }

func (f RobotFlags) String() string {
	var parts []string
	switch {
	case f.Has(StateFaulted):
		parts = append(parts, "faulted")
	case f.Has(StateDead):
		parts = append(parts, "dead")
	case f.Has(StateAlive):
		parts = append(parts, "alive")
	}
	if f.Has(CapIndependentTurns) {
		parts = append(parts, "independent")
	}
	if f.Has(CapWallDamage) {
		parts = append(parts, "walldamage")
	}
	if f.Has(CapDroid) {
		parts = append(parts, "droid")
	}
	if f.Has(CapLeader) {
		parts = append(parts, "leader")
	}
	return strings.Join(parts, "|")
}

// ParseCapability は設定ファイル上の能力名をフラグに変換します。
func ParseCapability(name string) (RobotFlags, bool) {
	switch strings.ToLower(name) {
	case "advanced":
		return CapAdvanced, true
	case "independent":
		return CapIndependentTurns, true
	case "walldamage":
		return CapWallDamage, true
	case "droid":
		return CapDroid, true
	case "leader":
		return CapLeader, true
	}
	return 0, false
}

// Intent はロボットが最後に受理された命令から導かれる未消化の動作です。
// ターンをまたいで持ち越され、物理更新のたびに消費されます。
type Intent struct {
	BodyTurnRemaining  float64
	GunTurnRemaining   float64
	RadarTurnRemaining float64
	DistanceRemaining  float64
	MaxVelocity        float64

	FirePower float64 // 1ターン限り
	Rescan    bool    // 1ターン限り

	AdjustGunForBody   bool
	AdjustRadarForGun  bool
	AdjustRadarForBody bool
}

// RobotState はエンジンだけが書き換えるロボットの物理状態です。
type RobotState struct {
	ID    int
	Name  string
	Team  string
	Flags RobotFlags

	Position     Vec2
	BodyHeading  float64
	GunHeading   float64
	RadarHeading float64
	Velocity     float64
	Energy       float64
	GunHeat      float64

	// 前ターン終了時の方位。スキャン弧と衝突判定に使う
	LastRadarHeading float64
	LastPosition     Vec2

	Intent Intent

	radarSweep float64 // このターンのレーダー回転量(符号付き)
	prevSweep  float64

	skippedTurns int // 連続スキップ数
	faults       int
}

// IsAlive はロボットが生存しているかを返します。
func (r *RobotState) IsAlive() bool {
	return r.Flags&StateAlive != 0
}

// Bounds は当たり判定矩形を返します。
func (r *RobotState) Bounds() Rect {
	return RobotBounds(r.Position)
}

// kill はロボットを死亡状態へ遷移させ、エネルギーを0に丸めます。
func (r *RobotState) kill(faulted bool) {
	state := StateDead
	if faulted {
		state |= StateFaulted
	}
	r.Flags = r.Flags.withState(state)
	r.Energy = 0
	r.Velocity = 0
	r.Intent = Intent{}
}

// drain はエネルギーを減らします。0未満にはしません。
func (r *RobotState) drain(amount float64) float64 {
	if amount > r.Energy {
		amount = r.Energy
	}
	r.Energy -= amount
	return amount
}

// InitialEnergyFor は能力に応じた初期エネルギーを返します。
func InitialEnergyFor(flags RobotFlags) float64 {
	switch {
	case flags.Has(CapLeader):
		return InitialLeaderEnergy
	case flags.Has(CapDroid):
		return InitialDroidEnergy
	}
	return InitialEnergy
}

// RobotStatus はロボット自身に渡される読み取り専用の状態コピーです。
type RobotStatus struct {
	ID           int     `msgpack:"id"`
	Name         string  `msgpack:"name"`
	Round        int     `msgpack:"round"`
	Turn         int     `msgpack:"turn"`
	X            float64 `msgpack:"x"`
	Y            float64 `msgpack:"y"`
	BodyHeading  float64 `msgpack:"body"`
	GunHeading   float64 `msgpack:"gun"`
	RadarHeading float64 `msgpack:"radar"`
	Velocity     float64 `msgpack:"v"`
	Energy       float64 `msgpack:"energy"`
	GunHeat      float64 `msgpack:"heat"`
	Others       int     `msgpack:"others"`

	BodyTurnRemaining  float64 `msgpack:"body_rem"`
	GunTurnRemaining   float64 `msgpack:"gun_rem"`
	RadarTurnRemaining float64 `msgpack:"radar_rem"`
	DistanceRemaining  float64 `msgpack:"dist_rem"`
}

func (r *RobotState) status(round, turn, others int) RobotStatus {
	return RobotStatus{
		ID:                 r.ID,
		Name:               r.Name,
		Round:              round,
		Turn:               turn,
		X:                  r.Position.X,
		Y:                  r.Position.Y,
		BodyHeading:        r.BodyHeading,
		GunHeading:         r.GunHeading,
		RadarHeading:       r.RadarHeading,
		Velocity:           r.Velocity,
		Energy:             r.Energy,
		GunHeat:            r.GunHeat,
		Others:             others,
		BodyTurnRemaining:  r.Intent.BodyTurnRemaining,
		GunTurnRemaining:   r.Intent.GunTurnRemaining,
		RadarTurnRemaining: r.Intent.RadarTurnRemaining,
		DistanceRemaining:  r.Intent.DistanceRemaining,
	}
}
