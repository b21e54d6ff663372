package application

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// wireEvent はイベントを種別付きで運ぶための封筒です。
type wireEvent struct {
	Kind EventKind          `msgpack:"k"`
	Data msgpack.RawMessage `msgpack:"d"`
}

type wireTurnStart struct {
	Round  int         `msgpack:"round"`
	Turn   int         `msgpack:"turn"`
	Status RobotStatus `msgpack:"status"`
	Events []wireEvent `msgpack:"events"`
	Final  bool        `msgpack:"final"`
}

type wireTurnRecord struct {
	Snapshot *TurnSnapshot       `msgpack:"snapshot"`
	Events   map[int][]wireEvent `msgpack:"events"`
}

// marshal はマップのキーを整列して書き出します。同じ値からは常に同じバイト列になります。
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeEvents(events []Event) ([]wireEvent, error) {
	out := make([]wireEvent, len(events))
	for i, ev := range events {
		data, err := marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("encode %s event: %w", ev.Kind(), err)
		}
		out[i] = wireEvent{Kind: ev.Kind(), Data: data}
	}
	return out, nil
}

func decodeEvents(in []wireEvent) ([]Event, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]Event, len(in))
	for i, w := range in {
		ev, err := decodeEvent(w)
		if err != nil {
			return nil, err
		}
		out[i] = ev
	}
	return out, nil
}

func decodeEvent(w wireEvent) (Event, error) {
	var ev Event
	var err error
	switch w.Kind {
	case EventScannedRobot:
		ev, err = unmarshalEvent[ScannedRobotEvent](w.Data)
	case EventHitByBullet:
		ev, err = unmarshalEvent[HitByBulletEvent](w.Data)
	case EventHitRobot:
		ev, err = unmarshalEvent[HitRobotEvent](w.Data)
	case EventHitWall:
		ev, err = unmarshalEvent[HitWallEvent](w.Data)
	case EventBulletHit:
		ev, err = unmarshalEvent[BulletHitEvent](w.Data)
	case EventBulletHitBullet:
		ev, err = unmarshalEvent[BulletHitBulletEvent](w.Data)
	case EventBulletMissed:
		ev, err = unmarshalEvent[BulletMissedEvent](w.Data)
	case EventRobotDeath:
		ev, err = unmarshalEvent[RobotDeathEvent](w.Data)
	case EventSkippedTurn:
		ev, err = unmarshalEvent[SkippedTurnEvent](w.Data)
	case EventWin:
		ev, err = unmarshalEvent[WinEvent](w.Data)
	case EventDeath:
		ev, err = unmarshalEvent[DeathEvent](w.Data)
	case EventRoundEnded:
		ev, err = unmarshalEvent[RoundEndedEvent](w.Data)
	case EventBattleEnded:
		ev, err = unmarshalEvent[BattleEndedEvent](w.Data)
	default:
		return nil, fmt.Errorf("%w: event kind %d", ErrMalformedMessage, w.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s event: %w", ErrMalformedMessage, w.Kind, err)
	}
	return ev, nil
}

func unmarshalEvent[T Event](data []byte) (Event, error) {
	var ev T
	if err := msgpack.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// EncodeTurnStart はリモートロボットへ送る TurnStart を msgpack にします。
func EncodeTurnStart(ts TurnStart) ([]byte, error) {
	events, err := encodeEvents(ts.Events)
	if err != nil {
		return nil, err
	}
	return marshal(wireTurnStart{
		Round:  ts.Round,
		Turn:   ts.Turn,
		Status: ts.Status,
		Events: events,
		Final:  ts.Final,
	})
}

func DecodeTurnStart(data []byte) (TurnStart, error) {
	var w wireTurnStart
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return TurnStart{}, fmt.Errorf("%w: turn start: %w", ErrMalformedMessage, err)
	}
	events, err := decodeEvents(w.Events)
	if err != nil {
		return TurnStart{}, err
	}
	return TurnStart{Round: w.Round, Turn: w.Turn, Status: w.Status, Events: events, Final: w.Final}, nil
}

func EncodeCommandSet(set CommandSet) ([]byte, error) {
	return marshal(set)
}

func DecodeCommandSet(data []byte) (CommandSet, error) {
	var set CommandSet
	if err := msgpack.Unmarshal(data, &set); err != nil {
		return CommandSet{}, fmt.Errorf("%w: command set: %w", ErrMalformedMessage, err)
	}
	return set, nil
}

// EncodeSnapshot はスナップショットだけを書き出します。決定性の比較にも使います。
func EncodeSnapshot(s *TurnSnapshot) ([]byte, error) {
	return marshal(s)
}

// EncodeTurnRecord は観戦者へ配信するターンの記録を書き出します。
func EncodeTurnRecord(r *TurnRecord) ([]byte, error) {
	w := wireTurnRecord{Snapshot: r.Snapshot, Events: make(map[int][]wireEvent, len(r.Events))}
	for id, events := range r.Events {
		enc, err := encodeEvents(events)
		if err != nil {
			return nil, err
		}
		w.Events[id] = enc
	}
	return marshal(w)
}

func DecodeTurnRecord(data []byte) (*TurnRecord, error) {
	var w wireTurnRecord
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: turn record: %w", ErrMalformedMessage, err)
	}
	r := &TurnRecord{Snapshot: w.Snapshot, Events: make(map[int][]Event, len(w.Events))}
	for id, in := range w.Events {
		events, err := decodeEvents(in)
		if err != nil {
			return nil, err
		}
		r.Events[id] = events
	}
	return r, nil
}

func EncodeResults(r *BattleResults) ([]byte, error) {
	return marshal(r)
}

func DecodeResults(data []byte) (*BattleResults, error) {
	var r BattleResults
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: results: %w", ErrMalformedMessage, err)
	}
	return &r, nil
}
