package application

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

func TestTurnStartRoundTrip(t *testing.T) {
	ts := TurnStart{
		Round: 2,
		Turn:  17,
		Status: RobotStatus{
			ID: 1, Name: "walker", Round: 2, Turn: 17,
			X: 120.5, Y: 88, BodyHeading: 1.25, Energy: 73.2, Others: 3,
			DistanceRemaining: 40,
		},
		Events: []Event{
			ScannedRobotEvent{EventHeader: EventHeader{T: 16}, Name: "spin", Bearing: -0.5, Distance: 210, Energy: 80},
			HitWallEvent{EventHeader: EventHeader{T: 16}, Bearing: 3.14},
			BulletMissedEvent{EventHeader: EventHeader{T: 17}, BulletID: 9},
			SkippedTurnEvent{EventHeader: EventHeader{T: 17}, SkippedTurn: 17},
			DeathEvent{EventHeader: EventHeader{T: 17}, Faulted: true},
		},
		Final: true,
	}
	data, err := EncodeTurnStart(ts)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeTurnStart(data)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, ts) {
		t.Errorf("round trip mismatch\n got %+v\nwant %+v", got, ts)
	}
}

func TestTurnRecordRoundTrip(t *testing.T) {
	record := &TurnRecord{
		Snapshot: &TurnSnapshot{
			Round: 1,
			Turn:  5,
			Robots: []RobotSnapshot{
				{ID: 0, Name: "a", Flags: StateAlive, X: 10, Y: 20, Energy: 99},
				{ID: 1, Name: "b", Flags: StateDead, X: 30, Y: 40},
			},
			Bullets: []BulletSnapshot{
				{ID: 3, OwnerID: 0, X: 15, Y: 25, Power: 2, Phase: BulletHitVictim, VictimID: 1},
			},
		},
		Events: map[int][]Event{
			0: {
				BulletHitEvent{EventHeader: EventHeader{T: 5}, BulletID: 3, Victim: "b"},
				RobotDeathEvent{EventHeader: EventHeader{T: 5}, Name: "b"},
				WinEvent{EventHeader: EventHeader{T: 5}},
			},
			1: {
				HitByBulletEvent{EventHeader: EventHeader{T: 5}, BulletID: 3, Attacker: "a", Power: 2},
				DeathEvent{EventHeader: EventHeader{T: 5}},
			},
		},
	}
	data, err := EncodeTurnRecord(record)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeTurnRecord(data)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, record) {
		t.Errorf("round trip mismatch\n got %+v\nwant %+v", got, record)
	}

	again, err := EncodeTurnRecord(got)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(again, data) {
		t.Error("encoding is not stable across map iteration order")
	}
}

func TestDecode_Malformed(t *testing.T) {
	if _, err := DecodeCommandSet([]byte{0xc1}); !errors.Is(err, ErrMalformedMessage) {
		t.Errorf("DecodeCommandSet: %v", err)
	}
	if _, err := DecodeTurnStart([]byte("nope")); !errors.Is(err, ErrMalformedMessage) {
		t.Errorf("DecodeTurnStart: %v", err)
	}

	bogus, err := marshal(wireTurnStart{Turn: 1, Events: []wireEvent{{Kind: 200, Data: []byte{0x80}}}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecodeTurnStart(bogus); !errors.Is(err, ErrMalformedMessage) {
		t.Errorf("unknown event kind: %v", err)
	}
}

func TestCommandSetRoundTrip(t *testing.T) {
	set := CommandSet{Turn: 12, Commands: []Command{
		{Kind: CmdMove, Value: -50},
		{Kind: CmdFire, Value: 1.5},
		{Kind: CmdAdjustGunForBody, Flag: true},
	}}
	data, err := EncodeCommandSet(set)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeCommandSet(data)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, set) {
		t.Errorf("got %+v, want %+v", got, set)
	}
}
