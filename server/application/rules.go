package application

import (
	"errors"
	"fmt"
	"math"
)

// 物理ルール表。値はすべて1ターンあたり。
const (
	RobotSize     = 36.0
	RobotHalfSize = RobotSize / 2

	MaxVelocity  = 8.0
	Acceleration = 1.0
	Deceleration = 2.0

	MaxTurnRate      = 10 * math.Pi / 180   // 静止時の車体旋回上限
	TurnRateVelocity = 0.75 * math.Pi / 180 // 速度1あたりの旋回上限の減少量
	GunTurnRate      = 20 * math.Pi / 180
	RadarTurnRate    = 45 * math.Pi / 180

	RadarScanRadius = 1200.0

	MinBulletPower = 0.1
	MaxBulletPower = 3.0

	InitialEnergy       = 100.0
	InitialDroidEnergy  = 120.0
	InitialLeaderEnergy = 200.0

	RobotHitDamage    = 0.6
	InactivityZap     = 0.1
	BulletBonusFactor = 3.0 // 命中時に攻撃側へ power * 3 を還元
)

// スコア計算用の係数です。
const (
	ScoreSurvival          = 50.0
	ScoreLastSurvivorBonus = 10.0
	ScoreBulletKillRatio   = 0.20
	ScoreRamDamageFactor   = 2.0
	ScoreRamKillRatio      = 0.30
)

var ErrInvalidRules = errors.New("invalid battle rules")

// BattleRules はバトル開始時に一度だけ生成される不変の設定です。
type BattleRules struct {
	BattlefieldWidth  float64 `toml:"battlefield_width"`
	BattlefieldHeight float64 `toml:"battlefield_height"`
	NumRounds         int     `toml:"num_rounds"`
	GunCoolingRate    float64 `toml:"gun_cooling_rate"`
	InactivityTime    int     `toml:"inactivity_time"`

	InitialGunHeat   float64 `toml:"initial_gun_heat"`
	MaxTurnsPerRound int     `toml:"max_turns_per_round"` // 0 は無制限
	SkippedTurnDecay float64 `toml:"skipped_turn_decay"`
	MaxSkippedTurns  int     `toml:"max_skipped_turns"`
	MaxRobotFaults   int     `toml:"max_robot_faults"`
	Seed             uint64  `toml:"seed"`
}

// DefaultRules は 800x600 / 10ラウンドの標準ルールを返します。
func DefaultRules() BattleRules {
	return BattleRules{
		BattlefieldWidth:  800,
		BattlefieldHeight: 600,
		NumRounds:         10,
		GunCoolingRate:    0.1,
		InactivityTime:    450,
		InitialGunHeat:    3.0,
		SkippedTurnDecay:  0.1,
		MaxSkippedTurns:   30,
		MaxRobotFaults:    3,
	}
}

// Validate はルールの範囲を検証します。
func (r BattleRules) Validate() error {
	switch {
	case r.BattlefieldWidth < RobotSize || r.BattlefieldHeight < RobotSize:
		return fmt.Errorf("%w: battlefield %vx%v smaller than a robot", ErrInvalidRules, r.BattlefieldWidth, r.BattlefieldHeight)
	case r.NumRounds <= 0:
		return fmt.Errorf("%w: num rounds = %d", ErrInvalidRules, r.NumRounds)
	case r.GunCoolingRate <= 0 || r.GunCoolingRate > 0.7:
		return fmt.Errorf("%w: gun cooling rate = %v", ErrInvalidRules, r.GunCoolingRate)
	case r.InactivityTime < 0:
		return fmt.Errorf("%w: inactivity time = %d", ErrInvalidRules, r.InactivityTime)
	case r.InitialGunHeat < 0:
		return fmt.Errorf("%w: initial gun heat = %v", ErrInvalidRules, r.InitialGunHeat)
	case r.MaxTurnsPerRound < 0:
		return fmt.Errorf("%w: max turns per round = %d", ErrInvalidRules, r.MaxTurnsPerRound)
	case r.SkippedTurnDecay < 0:
		return fmt.Errorf("%w: skipped turn decay = %v", ErrInvalidRules, r.SkippedTurnDecay)
	case r.MaxSkippedTurns <= 0:
		return fmt.Errorf("%w: max skipped turns = %d", ErrInvalidRules, r.MaxSkippedTurns)
	case r.MaxRobotFaults <= 0:
		return fmt.Errorf("%w: max robot faults = %d", ErrInvalidRules, r.MaxRobotFaults)
	}
	return nil
}

// BulletSpeed は power に応じた弾速を返します。
func BulletSpeed(power float64) float64 {
	return 20 - 3*power
}

// BulletDamage は power に応じた命中ダメージを返します。
func BulletDamage(power float64) float64 {
	damage := 4 * power
	if power > 1 {
		damage += 2 * (power - 1)
	}
	return damage
}

// BulletBonus は命中時に攻撃側が得るエネルギーです。
func BulletBonus(power float64) float64 {
	return BulletBonusFactor * power
}

// GunHeat は発射直後の砲身の熱量です。
func GunHeat(power float64) float64 {
	return 1 + power/5
}

// MaxBodyTurnRate は現在速度での車体旋回上限(rad)を返します。
func MaxBodyTurnRate(velocity float64) float64 {
	return MaxTurnRate - TurnRateVelocity*math.Abs(velocity)
}

// WallDamage は CapWallDamage を持つロボットが壁衝突で受けるダメージです。
func WallDamage(velocity float64) float64 {
	return math.Max(math.Abs(velocity)/2-1, 0)
}
