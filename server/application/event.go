package application

import (
	"cmp"
	"slices"
)

// EventKind はロボットへ配送されるイベントの種別です。
type EventKind uint8

const (
	EventScannedRobot EventKind = iota + 1
	EventHitByBullet
	EventHitRobot
	EventHitWall
	EventBulletHit
	EventBulletHitBullet
	EventBulletMissed
	EventRobotDeath
	EventSkippedTurn
	EventWin
	EventDeath
	EventRoundEnded
	EventBattleEnded
)

var eventNames = map[EventKind]string{
	EventScannedRobot:    "ScannedRobot",
	EventHitByBullet:     "HitByBullet",
	EventHitRobot:        "HitRobot",
	EventHitWall:         "HitWall",
	EventBulletHit:       "BulletHit",
	EventBulletHitBullet: "BulletHitBullet",
	EventBulletMissed:    "BulletMissed",
	EventRobotDeath:      "RobotDeath",
	EventSkippedTurn:     "SkippedTurn",
	EventWin:             "Win",
	EventDeath:           "Death",
	EventRoundEnded:      "RoundEnded",
	EventBattleEnded:     "BattleEnded",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return "Unknown"
}

// eventPriorities は配送順を決める優先度表です。小さい値ほど先に配送されます。
var eventPriorities = map[EventKind]int{
	EventDeath:           0,
	EventWin:             0,
	EventRoundEnded:      0,
	EventBattleEnded:     0,
	EventSkippedTurn:     0,
	EventRobotDeath:      30,
	EventBulletMissed:    40,
	EventBulletHitBullet: 45,
	EventBulletHit:       50,
	EventHitRobot:        60,
	EventHitWall:         70,
	EventHitByBullet:     80,
	EventScannedRobot:    90,
}

// EventPriority はイベント種別の優先度を返します。
func EventPriority(kind EventKind) int {
	if p, ok := eventPriorities[kind]; ok {
		return p
	}
	return 100
}

// Event はロボットが自分の命令以外の出来事を知る唯一の手段です。
type Event interface {
	Kind() EventKind
	Turn() int
}

// EventHeader は全イベント共通の発生ターンです。
type EventHeader struct {
	T int `msgpack:"t"`
}

func (h EventHeader) Turn() int { return h.T }

// ScannedRobotEvent はレーダーが他ロボットを捉えたときに発生します。
// Bearing は車体方位からの相対角(rad)です。
type ScannedRobotEvent struct {
	EventHeader
	Name     string  `msgpack:"name"`
	Bearing  float64 `msgpack:"bearing"`
	Distance float64 `msgpack:"distance"`
	Heading  float64 `msgpack:"heading"`
	Velocity float64 `msgpack:"velocity"`
	Energy   float64 `msgpack:"energy"`
}

type HitByBulletEvent struct {
	EventHeader
	BulletID int     `msgpack:"bullet"`
	Attacker string  `msgpack:"attacker"`
	Bearing  float64 `msgpack:"bearing"`
	Heading  float64 `msgpack:"heading"`
	Power    float64 `msgpack:"power"`
}

type HitRobotEvent struct {
	EventHeader
	Name    string  `msgpack:"name"`
	Bearing float64 `msgpack:"bearing"`
	Energy  float64 `msgpack:"energy"`
	AtFault bool    `msgpack:"at_fault"`
}

type HitWallEvent struct {
	EventHeader
	Bearing float64 `msgpack:"bearing"`
}

type BulletHitEvent struct {
	EventHeader
	BulletID     int     `msgpack:"bullet"`
	Victim       string  `msgpack:"victim"`
	VictimEnergy float64 `msgpack:"victim_energy"`
}

type BulletHitBulletEvent struct {
	EventHeader
	BulletID      int    `msgpack:"bullet"`
	OtherBulletID int    `msgpack:"other_bullet"`
	OtherOwner    string `msgpack:"other_owner"`
}

type BulletMissedEvent struct {
	EventHeader
	BulletID int `msgpack:"bullet"`
}

type RobotDeathEvent struct {
	EventHeader
	Name string `msgpack:"name"`
}

type SkippedTurnEvent struct {
	EventHeader
	SkippedTurn int `msgpack:"skipped"`
}

type WinEvent struct {
	EventHeader
}

type DeathEvent struct {
	EventHeader
	Faulted bool `msgpack:"faulted"`
}

type RoundEndedEvent struct {
	EventHeader
	Round int `msgpack:"round"`
	Turns int `msgpack:"turns"`
}

type BattleEndedEvent struct {
	EventHeader
	Aborted bool `msgpack:"aborted"`
}

func (ScannedRobotEvent) Kind() EventKind    { return EventScannedRobot }
func (HitByBulletEvent) Kind() EventKind     { return EventHitByBullet }
func (HitRobotEvent) Kind() EventKind        { return EventHitRobot }
func (HitWallEvent) Kind() EventKind         { return EventHitWall }
func (BulletHitEvent) Kind() EventKind       { return EventBulletHit }
func (BulletHitBulletEvent) Kind() EventKind { return EventBulletHitBullet }
func (BulletMissedEvent) Kind() EventKind    { return EventBulletMissed }
func (RobotDeathEvent) Kind() EventKind      { return EventRobotDeath }
func (SkippedTurnEvent) Kind() EventKind     { return EventSkippedTurn }
func (WinEvent) Kind() EventKind             { return EventWin }
func (DeathEvent) Kind() EventKind           { return EventDeath }
func (RoundEndedEvent) Kind() EventKind      { return EventRoundEnded }
func (BattleEndedEvent) Kind() EventKind     { return EventBattleEnded }

type queuedEvent struct {
	event Event
	seq   uint64
}

// inbox はロボットごとのイベントキューです。
type inbox struct {
	events []queuedEvent
}

func (q *inbox) push(ev Event, seq uint64) {
	q.events = append(q.events, queuedEvent{event: ev, seq: seq})
}

// drain は (優先度, 発生順) で整列したイベントを返し、キューを空にします。
func (q *inbox) drain() []Event {
	if len(q.events) == 0 {
		return nil
	}
	slices.SortStableFunc(q.events, func(a, b queuedEvent) int {
		if c := cmp.Compare(EventPriority(a.event.Kind()), EventPriority(b.event.Kind())); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	out := make([]Event, len(q.events))
	for i, qe := range q.events {
		out[i] = qe.event
	}
	q.events = q.events[:0]
	return out
}

func (q *inbox) len() int { return len(q.events) }
