package application

import (
	"context"
	"math"
	"math/rand/v2"
)

const (
	ruleBotNoise   = 0.52 // ±30度
	ruleBotRush    = 0.02 // 毎ターン 2% の確率で突撃
	ruleBotFireMax = 400.0

	spinForever = 1e6 // 実質的に止まらない旋回量
)

// SittingDuck は何もしないロボットです。
type SittingDuck struct{}

func (SittingDuck) Run(ctx context.Context, api *RobotAPI) error {
	for {
		if err := api.Execute(ctx); err != nil {
			return err
		}
	}
}

// Spinner はその場で回転しながらレーダーに入った相手を撃ちます。
type Spinner struct {
	Power float64
}

func (s Spinner) Run(ctx context.Context, api *RobotAPI) error {
	power := s.Power
	if power == 0 {
		power = 1
	}
	for {
		api.SetTurnBody(MaxTurnRate)
		api.SetTurnGun(GunTurnRate)
		for _, ev := range api.Events() {
			if _, ok := ev.(ScannedRobotEvent); ok {
				api.SetFire(power)
			}
		}
		if err := api.Execute(ctx); err != nil {
			return err
		}
	}
}

// RuleBot はルールベースのロボットです。
// 近距離では後退、中距離では横移動、遠距離では接近し、レーダーで捉えた相手を撃ちます。
// ロボットごとに異なる個性パラメータを持ちます。
type RuleBot struct {
	CloseRange float64 // 後退を始める距離
	MidRange   float64 // 横移動を始める距離
	StrafeSign float64 // +1: 時計回り, -1: 反時計回り

	rng *rand.Rand
}

// NewRuleBot は seed から個性を決めたルールベースのロボットを生成します。
func NewRuleBot(seed uint64) *RuleBot {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	sign := 1.0
	if rng.Float64() < 0.5 {
		sign = -1
	}
	return &RuleBot{
		CloseRange: 80 + rng.Float64()*80,   // 80〜160
		MidRange:   250 + rng.Float64()*150, // 250〜400
		StrafeSign: sign,
		rng:        rng,
	}
}

func (b *RuleBot) Run(ctx context.Context, api *RobotAPI) error {
	if b.rng == nil {
		b.rng = rand.New(rand.NewPCG(uint64(api.Status().ID), 1))
	}
	api.SetAdjustGunForBody(true)
	api.SetAdjustRadarForGun(true)
	api.SetTurnRadar(spinForever)

	for {
		if target, ok := b.nearestScan(api.Events()); ok {
			b.react(api, target)
		} else if api.Status().RadarTurnRemaining == 0 {
			api.SetTurnRadar(2 * math.Pi)
		}
		if err := api.Execute(ctx); err != nil {
			return err
		}
	}
}

// nearestScan はこのターンに捉えた中で最も近い相手を返します。
func (b *RuleBot) nearestScan(events []Event) (ScannedRobotEvent, bool) {
	var nearest ScannedRobotEvent
	found := false
	for _, ev := range events {
		scan, ok := ev.(ScannedRobotEvent)
		if !ok {
			continue
		}
		if !found || scan.Distance < nearest.Distance {
			nearest = scan
			found = true
		}
	}
	return nearest, found
}

func (b *RuleBot) react(api *RobotAPI, target ScannedRobotEvent) {
	st := api.Status()
	absBearing := st.BodyHeading + target.Bearing

	// レーダーを相手の少し先へ振り戻して捉え続ける
	radarTurn := NormalRelativeAngle(absBearing - st.RadarHeading)
	api.SetTurnRadar(radarTurn + math.Copysign(RadarTurnRate/3, radarTurn))

	gunTurn := NormalRelativeAngle(absBearing - st.GunHeading)
	api.SetTurnGun(gunTurn)
	if math.Abs(gunTurn) < GunTurnRate && st.GunHeat == 0 && target.Distance < ruleBotFireMax {
		api.SetFire(firePowerFor(target.Distance, st.Energy))
	}

	var heading float64
	switch {
	case b.rng.Float64() < ruleBotRush:
		heading = absBearing
	case target.Distance < b.CloseRange:
		heading = absBearing + math.Pi
	case target.Distance < b.MidRange:
		heading = absBearing + b.StrafeSign*math.Pi/2
	default:
		heading = absBearing
	}
	heading += (b.rng.Float64()*2 - 1) * ruleBotNoise

	api.SetTurnBody(NormalRelativeAngle(heading - st.BodyHeading))
	api.SetAhead(100)
}

// firePowerFor は距離が近いほど強く撃ちます。エネルギーが少ないときは控えめにします。
func firePowerFor(distance, energy float64) float64 {
	power := clamp(ruleBotFireMax/distance, MinBulletPower, MaxBulletPower)
	if energy < 20 {
		power = math.Min(power, 1)
	}
	return power
}
