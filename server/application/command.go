package application

import (
	"math"

	"battlecore/utils"
)

// CommandKind はロボットが発行できる命令の種別です。
type CommandKind uint8

const (
	CmdTurnBody CommandKind = iota + 1
	CmdMove
	CmdMaxVelocity
	CmdTurnGun
	CmdTurnRadar
	CmdFire
	CmdAdjustGunForBody
	CmdAdjustRadarForGun
	CmdAdjustRadarForBody
	CmdRescan
	CmdStop
)

func (k CommandKind) String() string {
	switch k {
	case CmdTurnBody:
		return "TurnBody"
	case CmdMove:
		return "Move"
	case CmdMaxVelocity:
		return "MaxVelocity"
	case CmdTurnGun:
		return "TurnGun"
	case CmdTurnRadar:
		return "TurnRadar"
	case CmdFire:
		return "Fire"
	case CmdAdjustGunForBody:
		return "AdjustGunForBody"
	case CmdAdjustRadarForGun:
		return "AdjustRadarForGun"
	case CmdAdjustRadarForBody:
		return "AdjustRadarForBody"
	case CmdRescan:
		return "Rescan"
	case CmdStop:
		return "Stop"
	}
	return "Unknown"
}

// Command は1つの命令です。角度は rad、時計回りが正です。
type Command struct {
	Kind  CommandKind `msgpack:"k"`
	Value float64     `msgpack:"v,omitempty"`
	Flag  bool        `msgpack:"f,omitempty"`
}

// CommandSet はロボットが1回の実行スライスで蓄積した命令一式です。
// Turn は命令が発行されたときにロボットが見ていたターン番号です。
type CommandSet struct {
	Turn     int       `msgpack:"turn"`
	Commands []Command `msgpack:"cmds"`
}

// applyCommands は命令一式をロボットの Intent に畳み込みます。
// 範囲外の値は丸め、能力のない命令と非有限値は無視します。後の命令が優先されます。
func applyCommands(r *RobotState, cmds []Command) (ignored int) {
	for _, c := range cmds {
		if !utils.IsFinite(c.Value) {
			ignored++
			continue
		}
		switch c.Kind {
		case CmdTurnBody:
			r.Intent.BodyTurnRemaining = c.Value
		case CmdMove:
			r.Intent.DistanceRemaining = c.Value
		case CmdMaxVelocity:
			r.Intent.MaxVelocity = clamp(math.Abs(c.Value), 0, MaxVelocity)
		case CmdTurnGun:
			r.Intent.GunTurnRemaining = c.Value
		case CmdTurnRadar:
			if r.Flags.Has(CapDroid) {
				ignored++
				continue
			}
			r.Intent.RadarTurnRemaining = c.Value
		case CmdFire:
			if c.Value <= 0 {
				r.Intent.FirePower = 0
				continue
			}
			r.Intent.FirePower = clamp(c.Value, MinBulletPower, MaxBulletPower)
		case CmdAdjustGunForBody, CmdAdjustRadarForGun, CmdAdjustRadarForBody:
			if !r.Flags.Has(CapIndependentTurns) {
				ignored++
				continue
			}
			switch c.Kind {
			case CmdAdjustGunForBody:
				r.Intent.AdjustGunForBody = c.Flag
			case CmdAdjustRadarForGun:
				r.Intent.AdjustRadarForGun = c.Flag
			default:
				r.Intent.AdjustRadarForBody = c.Flag
			}
		case CmdRescan:
			if r.Flags.Has(CapDroid) {
				ignored++
				continue
			}
			r.Intent.Rescan = true
		case CmdStop:
			r.Intent.DistanceRemaining = 0
			r.Intent.BodyTurnRemaining = 0
		default:
			ignored++
		}
	}
	return ignored
}
