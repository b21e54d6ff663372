package application

import (
	"math"
)

// resolveCollisions は固定順序で衝突を解決します。
// 壁 → ロボット同士 → 弾丸とロボット → 弾丸同士 → 弾丸と壁 → 死亡判定
func (f *Field) resolveCollisions() {
	for _, r := range f.AliveRobots() {
		f.collideWall(r)
	}
	f.collideRobots()
	f.collideBulletsWithRobots()
	f.collideBullets()
	f.collideBulletsWithWalls()
	f.resolveDeaths()
}

// Arena はフィールド全体の矩形です。
func (f *Field) Arena() Rect {
	return Rect{MaxX: f.rules.BattlefieldWidth, MaxY: f.rules.BattlefieldHeight}
}

// clampToArena は当たり判定矩形がフィールドに収まるよう中心を補正し、補正したかを返します。
func (f *Field) clampToArena(p Vec2) (Vec2, bool) {
	c := Vec2{
		X: clamp(p.X, RobotHalfSize, f.rules.BattlefieldWidth-RobotHalfSize),
		Y: clamp(p.Y, RobotHalfSize, f.rules.BattlefieldHeight-RobotHalfSize),
	}
	return c, c != p
}

func (f *Field) collideWall(r *RobotState) {
	before := r.Position
	clamped, hit := f.clampToArena(before)
	if !hit {
		return
	}

	// 最も深くめり込んだ壁の方位
	dx, dy := before.X-clamped.X, before.Y-clamped.Y
	var wall float64
	if math.Abs(dx) >= math.Abs(dy) {
		wall = math.Pi / 2
		if dx < 0 {
			wall = 3 * math.Pi / 2
		}
	} else {
		wall = 0
		if dy < 0 {
			wall = math.Pi
		}
	}

	speed := r.Velocity
	r.Position = clamped
	r.Velocity = 0
	r.Intent.DistanceRemaining = 0
	if r.Flags.Has(CapWallDamage) {
		r.drain(WallDamage(speed))
	}
	f.emit(r.ID, HitWallEvent{
		EventHeader: EventHeader{T: f.turn},
		Bearing:     NormalRelativeAngle(wall - r.BodyHeading),
	})
}

// collideRobots は重なったロボットを最小移動量で引き離します。
func (f *Field) collideRobots() {
	alive := f.AliveRobots()
	for i, a := range alive {
		for _, b := range alive[i+1:] {
			if !a.Bounds().Intersects(b.Bounds()) {
				continue
			}
			aFault := movingToward(a, b)
			bFault := movingToward(b, a)

			separate(a, b)
			a.Position, _ = f.clampToArena(a.Position)
			b.Position, _ = f.clampToArena(b.Position)

			for _, r := range [2]*RobotState{a, b} {
				r.Velocity = 0
				r.Intent.DistanceRemaining = 0
				r.drain(RobotHitDamage)
			}
			f.turnsSinceDamage = 0
			if aFault {
				f.recordRam(a, b)
			}
			if bFault {
				f.recordRam(b, a)
			}

			f.emit(a.ID, HitRobotEvent{
				EventHeader: EventHeader{T: f.turn},
				Name:        b.Name,
				Bearing:     NormalRelativeAngle(a.Position.Heading(b.Position) - a.BodyHeading),
				Energy:      b.Energy,
				AtFault:     aFault,
			})
			f.emit(b.ID, HitRobotEvent{
				EventHeader: EventHeader{T: f.turn},
				Name:        a.Name,
				Bearing:     NormalRelativeAngle(b.Position.Heading(a.Position) - b.BodyHeading),
				Energy:      a.Energy,
				AtFault:     bFault,
			})
		}
	}
}

// movingToward は r の進行方向が other を向いているかを返します。
func movingToward(r, other *RobotState) bool {
	if r.Velocity == 0 {
		return false
	}
	dir := r.BodyHeading
	if r.Velocity < 0 {
		dir += math.Pi
	}
	return math.Abs(NormalRelativeAngle(r.Position.Heading(other.Position)-dir)) < math.Pi/2
}

// separate は貫通量の小さい軸に沿って両者を半分ずつ押し戻します。
func separate(a, b *RobotState) {
	dx := b.Position.X - a.Position.X
	dy := b.Position.Y - a.Position.Y
	overlapX := RobotSize - math.Abs(dx)
	overlapY := RobotSize - math.Abs(dy)
	if overlapX <= overlapY {
		push := overlapX / 2
		if dx < 0 || (dx == 0 && a.ID > b.ID) {
			push = -push
		}
		a.Position.X -= push
		b.Position.X += push
		return
	}
	push := overlapY / 2
	if dy < 0 || (dy == 0 && a.ID > b.ID) {
		push = -push
	}
	a.Position.Y -= push
	b.Position.Y += push
}

// collideBulletsWithRobots は弾丸IDの昇順に命中を判定します。
// 同一ターン内でエネルギーが尽きたロボットには以降の弾丸は当たりません。
func (f *Field) collideBulletsWithRobots() {
	for _, b := range f.bullets {
		if b.Phase != BulletFlying || b.Born == f.turn {
			continue
		}
		victim := f.firstVictim(b)
		if victim == nil {
			continue
		}
		f.hitRobot(b, victim)
	}
}

func (f *Field) firstVictim(b *BulletState) *RobotState {
	path := b.Path()
	var victim *RobotState
	best := math.Inf(1)
	for _, r := range f.AliveRobots() {
		if r.ID == b.OwnerID || r.Energy <= 0 {
			continue
		}
		entry, ok := path.EntryRect(r.Bounds())
		if !ok {
			continue
		}
		if entry < best {
			best = entry
			victim = r
		}
	}
	return victim
}

func (f *Field) hitRobot(b *BulletState, victim *RobotState) {
	dealt := victim.drain(b.Damage())
	b.Phase = BulletHitVictim
	b.VictimID = victim.ID
	f.turnsSinceDamage = 0

	// このターンに先の弾丸でエネルギーが尽きた持ち主は、まだ死亡処理前でもボーナスを受け取らない
	owner := f.Robot(b.OwnerID)
	credited := owner != nil && owner.IsAlive() && owner.Energy > 0
	if credited {
		owner.Energy += BulletBonus(b.Power)
	}
	f.recordBulletHit(b.OwnerID, victim, dealt)

	attacker := ""
	if owner != nil {
		attacker = owner.Name
	}
	f.emit(victim.ID, HitByBulletEvent{
		EventHeader: EventHeader{T: f.turn},
		BulletID:    b.ID,
		Attacker:    attacker,
		Bearing:     NormalRelativeAngle(b.Heading + math.Pi - victim.BodyHeading),
		Heading:     b.Heading,
		Power:       b.Power,
	})
	if credited {
		f.emit(owner.ID, BulletHitEvent{
			EventHeader:  EventHeader{T: f.turn},
			BulletID:     b.ID,
			Victim:       victim.Name,
			VictimEnergy: victim.Energy,
		})
	}
}

// collideBullets は軌跡が交差した弾丸の組を相殺します。同じ持ち主の弾丸同士も対象です。
func (f *Field) collideBullets() {
	for i, a := range f.bullets {
		if a.Phase != BulletFlying || a.Born == f.turn {
			continue
		}
		for _, b := range f.bullets[i+1:] {
			if b.Phase != BulletFlying || b.Born == f.turn {
				continue
			}
			if !a.Path().Intersects(b.Path()) {
				continue
			}
			a.Phase, a.VictimID = BulletHitBullet, b.ID
			b.Phase, b.VictimID = BulletHitBullet, a.ID
			f.notifyBulletHitBullet(a, b)
			f.notifyBulletHitBullet(b, a)
			break
		}
	}
}

func (f *Field) notifyBulletHitBullet(b, other *BulletState) {
	owner := f.Robot(b.OwnerID)
	if owner == nil || !owner.IsAlive() {
		return
	}
	otherOwner := ""
	if r := f.Robot(other.OwnerID); r != nil {
		otherOwner = r.Name
	}
	f.emit(owner.ID, BulletHitBulletEvent{
		EventHeader:   EventHeader{T: f.turn},
		BulletID:      b.ID,
		OtherBulletID: other.ID,
		OtherOwner:    otherOwner,
	})
}

func (f *Field) collideBulletsWithWalls() {
	arena := f.Arena()
	for _, b := range f.bullets {
		if b.Phase != BulletFlying || arena.Contains(b.Position) {
			continue
		}
		b.Phase = BulletHitWall
		if owner := f.Robot(b.OwnerID); owner != nil && owner.IsAlive() {
			f.emit(owner.ID, BulletMissedEvent{
				EventHeader: EventHeader{T: f.turn},
				BulletID:    b.ID,
			})
		}
	}
}

// resolveDeaths はエネルギーが尽きたロボットを死亡させます。
func (f *Field) resolveDeaths() {
	for _, r := range f.robots {
		if r.IsAlive() && r.Energy <= 0 {
			f.killRobot(r, false)
		}
	}
}

// killRobot はロボットを死亡させ、本人に Death、他の生存ロボットに RobotDeath を通知します。
func (f *Field) killRobot(r *RobotState, faulted bool) {
	if !r.IsAlive() {
		return
	}
	r.kill(faulted)
	f.emit(r.ID, DeathEvent{EventHeader: EventHeader{T: f.turn}, Faulted: faulted})
	for _, other := range f.AliveRobots() {
		f.emit(other.ID, RobotDeathEvent{EventHeader: EventHeader{T: f.turn}, Name: r.Name})
	}
	f.recordDeath(r)
}
