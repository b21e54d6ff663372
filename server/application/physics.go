package application

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"battlecore/utils"
)

const heatEpsilon = 1e-9

// updatePhysics は1ターン分の物理更新を行います。
// ロボットごとの旋回・移動は互いに独立なので並列に進め、完了を待ってから
// 逐次フェーズ（弾丸移動、発射）に入ります。
func (f *Field) updatePhysics(ctx context.Context) error {
	f.retireBullets()
	f.applyInactivityZap()

	alive := f.AliveRobots()
	if f.parallel && len(alive) > 1 {
		eg, _ := errgroup.WithContext(ctx)
		eg.SetLimit(runtime.GOMAXPROCS(0))
		for _, r := range alive {
			eg.Go(func() error {
				return integrateRobot(r, f.rules)
			})
		}
		if err := eg.Wait(); err != nil {
			return err
		}
	} else {
		for _, r := range alive {
			if err := integrateRobot(r, f.rules); err != nil {
				return err
			}
		}
	}

	for _, b := range f.bullets {
		if b.Phase == BulletFlying {
			b.advance()
		}
	}
	for _, r := range alive {
		f.fire(r)
	}
	return nil
}

// integrateRobot は熱の冷却、車体・砲塔・レーダーの旋回、速度と位置の更新を行います。
func integrateRobot(r *RobotState, rules BattleRules) error {
	r.LastPosition = r.Position
	r.LastRadarHeading = r.RadarHeading

	r.GunHeat = math.Max(0, r.GunHeat-rules.GunCoolingRate)
	if r.GunHeat < heatEpsilon {
		r.GunHeat = 0
	}

	bodyTurn := turnStep(&r.Intent.BodyTurnRemaining, MaxBodyTurnRate(r.Velocity))
	gunOwn := turnStep(&r.Intent.GunTurnRemaining, GunTurnRate)
	radarOwn := 0.0
	if !r.Flags.Has(CapDroid) {
		radarOwn = turnStep(&r.Intent.RadarTurnRemaining, RadarTurnRate)
	}

	gunTurn := gunOwn
	if !r.Intent.AdjustGunForBody {
		gunTurn += bodyTurn
	}
	radarTurn := radarOwn
	if !r.Intent.AdjustRadarForBody {
		radarTurn += bodyTurn
	}
	if !r.Intent.AdjustRadarForGun {
		radarTurn += gunOwn
	}
	if r.Flags.Has(CapDroid) {
		radarTurn = 0
	}

	r.BodyHeading = NormalAbsoluteAngle(r.BodyHeading + bodyTurn)
	r.GunHeading = NormalAbsoluteAngle(r.GunHeading + gunTurn)
	r.RadarHeading = NormalAbsoluteAngle(r.RadarHeading + radarTurn)
	r.prevSweep = r.radarSweep
	r.radarSweep = radarTurn

	r.Velocity = NewVelocity(r.Velocity, r.Intent.DistanceRemaining, r.Intent.MaxVelocity)
	if r.Velocity != 0 {
		r.Position = r.Position.Project(r.BodyHeading, r.Velocity)
		r.Intent.DistanceRemaining -= r.Velocity
		if math.Abs(r.Intent.DistanceRemaining) < heatEpsilon {
			r.Intent.DistanceRemaining = 0
		}
	}

	if !r.Position.IsFinite() || !utils.AllFinite(r.BodyHeading, r.GunHeading, r.RadarHeading, r.Velocity) {
		return fmt.Errorf("%w: robot %d has non-finite state after integration", ErrInvariantViolation, r.ID)
	}
	return nil
}

// turnStep は残り旋回量を上限 limit まで消費し、このターンの旋回量を返します。
func turnStep(remaining *float64, limit float64) float64 {
	step := clamp(*remaining, -limit, limit)
	*remaining -= step
	if math.Abs(*remaining) < heatEpsilon {
		*remaining = 0
	}
	return step
}

// NewVelocity は残り距離 distance と速度上限 maxVel から次ターンの速度を求めます。
// 加速は1、減速は2まで。符号反転は減速を経由するため急に逆走しません。
func NewVelocity(velocity, distance, maxVel float64) float64 {
	if distance < 0 {
		return -NewVelocity(-velocity, -distance, maxVel)
	}
	goal := math.Min(maxVelocityFor(distance), maxVel)
	if velocity >= 0 {
		return math.Max(velocity-Deceleration, math.Min(goal, velocity+Acceleration))
	}
	return math.Max(velocity-Acceleration, math.Min(goal, velocity+maxDeceleration(-velocity)))
}

// maxVelocityFor は distance 進んだ地点でちょうど停止できる最大速度です。
func maxVelocityFor(distance float64) float64 {
	decelTime := math.Max(1, math.Ceil((math.Sqrt(4*2/Deceleration*distance+1)-1)/2))
	if math.IsInf(decelTime, 1) {
		return MaxVelocity
	}
	decelDist := decelTime / 2 * (decelTime - 1) * Deceleration
	return (decelTime-1)*Deceleration + (distance-decelDist)/decelTime
}

func maxDeceleration(speed float64) float64 {
	decelTime := speed / Deceleration
	accelTime := 1 - decelTime
	return math.Min(1, decelTime)*Deceleration + math.Max(0, accelTime)*Acceleration
}

// fire は発射要求を評価します。砲身が冷えていてエネルギーが足りる場合のみ弾丸を生成します。
// 要求はこのターン限りで、不成立でも持ち越しません。
func (f *Field) fire(r *RobotState) {
	power := r.Intent.FirePower
	r.Intent.FirePower = 0
	if power <= 0 || r.GunHeat > 0 || r.Energy <= power {
		return
	}
	r.drain(power)
	r.GunHeat = GunHeat(power)
	b := newBullet(f.nextBulletID, r.ID, f.turn, r.Position, r.GunHeading, power)
	f.nextBulletID++
	f.bullets = append(f.bullets, b)
	f.stats(r.ID).shotsFired++
}

// retireBullets は前ターンに終端状態になった弾丸をフィールドから取り除きます。
func (f *Field) retireBullets() {
	kept := f.bullets[:0]
	for _, b := range f.bullets {
		if b.Phase.IsTerminal() {
			b.Phase = BulletInactive
			continue
		}
		kept = append(kept, b)
	}
	clear(f.bullets[len(kept):])
	f.bullets = kept
}

// applyInactivityZap は一定ターン誰もダメージを受けていない場合に全員のエネルギーを削ります。
func (f *Field) applyInactivityZap() {
	if f.rules.InactivityTime <= 0 {
		return
	}
	f.turnsSinceDamage++
	if f.turnsSinceDamage <= f.rules.InactivityTime {
		return
	}
	for _, r := range f.AliveRobots() {
		r.drain(InactivityZap)
	}
}
