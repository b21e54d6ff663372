package application

// RobotSnapshot はターン終了時点のロボットの写しです。
type RobotSnapshot struct {
	ID           int        `msgpack:"id"`
	Name         string     `msgpack:"name"`
	Team         string     `msgpack:"team"`
	Flags        RobotFlags `msgpack:"flags"`
	X            float64    `msgpack:"x"`
	Y            float64    `msgpack:"y"`
	BodyHeading  float64    `msgpack:"body"`
	GunHeading   float64    `msgpack:"gun"`
	RadarHeading float64    `msgpack:"radar"`
	Velocity     float64    `msgpack:"v"`
	Energy       float64    `msgpack:"energy"`
	GunHeat      float64    `msgpack:"heat"`
}

// BulletSnapshot はターン終了時点の弾丸の写しです。
// 終端状態の弾丸はこのスナップショットに一度だけ現れ、次のターンで取り除かれます。
type BulletSnapshot struct {
	ID       int         `msgpack:"id"`
	OwnerID  int         `msgpack:"owner"`
	X        float64     `msgpack:"x"`
	Y        float64     `msgpack:"y"`
	Heading  float64     `msgpack:"heading"`
	Power    float64     `msgpack:"power"`
	Phase    BulletPhase `msgpack:"phase"`
	VictimID int         `msgpack:"victim"`
}

// TurnSnapshot は (ラウンド, ターン) の不変な写しです。スライスは ID 順に並びます。
// エンジンは履歴を持たないので、保存したい Observer は自分で保持します。
type TurnSnapshot struct {
	Round   int              `msgpack:"round"`
	Turn    int              `msgpack:"turn"`
	Robots  []RobotSnapshot  `msgpack:"robots"`
	Bullets []BulletSnapshot `msgpack:"bullets"`
}

// Snapshot は現在の状態を写し取ります。
func (f *Field) Snapshot() *TurnSnapshot {
	s := &TurnSnapshot{
		Round:   f.round,
		Turn:    f.turn,
		Robots:  make([]RobotSnapshot, len(f.robots)),
		Bullets: make([]BulletSnapshot, len(f.bullets)),
	}
	for i, r := range f.robots {
		s.Robots[i] = RobotSnapshot{
			ID:           r.ID,
			Name:         r.Name,
			Team:         r.Team,
			Flags:        r.Flags,
			X:            r.Position.X,
			Y:            r.Position.Y,
			BodyHeading:  r.BodyHeading,
			GunHeading:   r.GunHeading,
			RadarHeading: r.RadarHeading,
			Velocity:     r.Velocity,
			Energy:       r.Energy,
			GunHeat:      r.GunHeat,
		}
	}
	for i, b := range f.bullets {
		s.Bullets[i] = BulletSnapshot{
			ID:       b.ID,
			OwnerID:  b.OwnerID,
			X:        b.Position.X,
			Y:        b.Position.Y,
			Heading:  b.Heading,
			Power:    b.Power,
			Phase:    b.Phase,
			VictimID: b.VictimID,
		}
	}
	return s
}

// Robot は ID のロボットの写しを返します。
func (s *TurnSnapshot) Robot(id int) (RobotSnapshot, bool) {
	if id < 0 || id >= len(s.Robots) {
		return RobotSnapshot{}, false
	}
	return s.Robots[id], true
}

// Bullet は ID の弾丸の写しを返します。
func (s *TurnSnapshot) Bullet(id int) (BulletSnapshot, bool) {
	for _, b := range s.Bullets {
		if b.ID == id {
			return b, true
		}
	}
	return BulletSnapshot{}, false
}
