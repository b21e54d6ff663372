package application_test

import (
	"context"
	"testing"

	"battlecore/server/application"
	"battlecore/server/domain"
)

func newDuckBattle(t *testing.T, turns int, extra ...application.RobotSpec) *application.Battle {
	t.Helper()
	rules := application.DefaultRules()
	rules.NumRounds = 1
	rules.MaxTurnsPerRound = turns
	specs := append([]application.RobotSpec{
		{Name: "a", Controller: application.SittingDuck{}},
		{Name: "b", Controller: application.SittingDuck{}},
	}, extra...)
	b, err := application.NewBattle(rules, specs, application.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func dataTypes(t *testing.T, msgs [][]byte) []domain.DataType {
	t.Helper()
	out := make([]domain.DataType, len(msgs))
	for i, msg := range msgs {
		frame, err := domain.ParseFrame(msg)
		if err != nil {
			t.Fatalf("ParseFrame: %v", err)
		}
		out[i] = frame.PayloadHeader.DataType
	}
	return out
}

func TestBattleApplication_TickBroadcastsTurnsAndResults(t *testing.T) {
	ctx := context.Background()
	app := application.NewBattleApplication(newDuckBattle(t, 3), nil)

	var all [][]byte
	for range 10 {
		all = append(all, app.Tick(ctx)...)
	}
	got := dataTypes(t, all)
	want := []domain.DataType{domain.DataTypeSnapshot, domain.DataTypeSnapshot, domain.DataTypeSnapshot, domain.DataTypeResults}
	if len(got) != len(want) {
		t.Fatalf("messages = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d = %v, want %v", i, got[i], want[i])
		}
	}

	frame, _ := domain.ParseFrame(all[2])
	record, err := application.DecodeTurnRecord(frame.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if record.Snapshot.Turn != 3 || len(record.Snapshot.Robots) != 2 {
		t.Errorf("last record = %+v", record.Snapshot)
	}

	frame, _ = domain.ParseFrame(all[3])
	results, err := application.DecodeResults(frame.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if results.Rounds != 1 || len(results.Robots) != 2 {
		t.Errorf("results = %+v", results)
	}

	greeting := dataTypes(t, app.Greet(ctx, domain.NewSessionID()))
	if len(greeting) != 2 || greeting[0] != domain.DataTypeSnapshot || greeting[1] != domain.DataTypeResults {
		t.Errorf("greeting = %v", greeting)
	}
}

func TestBattleApplication_WaitsForRemotes(t *testing.T) {
	ctx := context.Background()
	rc := application.NewRemoteController("remote")
	battle := newDuckBattle(t, 3, application.RobotSpec{Name: "remote", Controller: rc})
	app := application.NewBattleApplication(battle, []*application.RemoteController{rc})

	for range 3 {
		if out := app.Tick(ctx); out != nil {
			t.Fatalf("Tick before attach = %d messages", len(out))
		}
	}
	if battle.State() != application.StateRoundStarting {
		t.Errorf("state = %v, want round starting", battle.State())
	}
	if greeting := app.Greet(ctx, domain.NewSessionID()); len(greeting) != 0 {
		t.Errorf("greeting before any turn = %d messages", len(greeting))
	}

	// 停止要求はリモートの接続を待たずにバトルを終わらせる
	battle.Stop(false)
	got := dataTypes(t, app.Tick(ctx))
	if len(got) != 1 || got[0] != domain.DataTypeResults {
		t.Fatalf("stop while waiting = %v, want results only", got)
	}
	if r := battle.Results(); r == nil || !r.Aborted || r.Rounds != 0 {
		t.Errorf("results = %+v, want aborted before round 1", r)
	}
}

func TestBattleApplication_Control(t *testing.T) {
	ctx := context.Background()
	battle := newDuckBattle(t, 100)
	app := application.NewBattleApplication(battle, nil)
	observer := domain.NewSessionID()

	control := func(sub domain.ControlSubType, payload []byte) {
		t.Helper()
		msg, err := domain.EncodeMessage(observer, domain.DataTypeControl, uint8(sub), payload)
		if err != nil {
			t.Fatal(err)
		}
		if err := app.HandleMessage(ctx, observer, msg); err != nil {
			t.Fatalf("HandleMessage(%v): %v", sub, err)
		}
	}

	control(domain.ControlSubTypePause, nil)
	if !battle.Paused() {
		t.Fatal("battle not paused")
	}
	if out := app.Tick(ctx); len(out) != 0 {
		t.Errorf("paused tick produced %d messages", len(out))
	}

	control(domain.ControlSubTypeResume, nil)
	if battle.Paused() {
		t.Fatal("battle still paused")
	}
	if out := app.Tick(ctx); len(out) != 1 {
		t.Errorf("resumed tick produced %d messages", len(out))
	}

	control(domain.ControlSubTypeStop, nil)
	got := dataTypes(t, app.Tick(ctx))
	if len(got) != 2 || got[1] != domain.DataTypeResults {
		t.Fatalf("stop tick = %v", got)
	}
	if !battle.Results().Aborted {
		t.Error("stopped battle not marked aborted")
	}
	if out := app.Tick(ctx); len(out) != 0 {
		t.Errorf("results sent twice: %d messages", len(out))
	}

	if err := app.HandleMessage(ctx, observer, []byte{1, 2}); err == nil {
		t.Error("HandleMessage accepted a truncated frame")
	}
}
