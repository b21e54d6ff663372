package application_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"battlecore/server/application"
	"battlecore/server/application/mocks"

	"go.uber.org/mock/gomock"
)

func oneRoundRules() application.BattleRules {
	r := application.DefaultRules()
	r.NumRounds = 1
	r.InitialGunHeat = 0
	r.GunCoolingRate = 0.7
	return r
}

func at(name string, x, y, heading float64, c application.Controller) application.RobotSpec {
	return application.RobotSpec{Name: name, Controller: c, Start: &application.Vec2{X: x, Y: y}, Heading: &heading}
}

// gunner は毎ターン power で撃ち続けます。
func gunner(power float64) application.Controller {
	return application.ControllerFunc(func(ctx context.Context, api *application.RobotAPI) error {
		for {
			api.SetFire(power)
			if err := api.Execute(ctx); err != nil {
				return err
			}
		}
	})
}

func stepUntilEnd(t *testing.T, b *application.Battle, maxSteps int) []*application.TurnRecord {
	t.Helper()
	ctx := context.Background()
	var records []*application.TurnRecord
	for range maxSteps {
		record, err := b.Step(ctx)
		if err != nil {
			t.Fatalf("Step: %v", err)
		}
		if record != nil {
			records = append(records, record)
		}
		if b.State() == application.StateBattleEnded {
			return records
		}
	}
	t.Fatalf("battle did not end within %d steps", maxSteps)
	return nil
}

// anyTurn はターンを問わず一致させます。
const anyTurn = -1

func hasEvent[T application.Event](events []application.Event, turn int) bool {
	for _, ev := range events {
		if _, ok := ev.(T); ok && (turn == anyTurn || ev.Turn() == turn) {
			return true
		}
	}
	return false
}

func TestBattle_OneRoundKill(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	obs := mocks.NewMockObserver(ctrl)
	obs.EXPECT().OnTurn(gomock.Any(), gomock.Any()).AnyTimes()
	obs.EXPECT().OnRoundEnded(gomock.Any(), 1, gomock.Any()).Times(1)
	obs.EXPECT().OnBattleEnded(gomock.Any(), gomock.Not(gomock.Nil()), nil).Times(1)

	opts := application.DefaultOptions()
	opts.TurnTimeout = time.Second
	opts.Observers = []application.Observer{obs}
	b, err := application.NewBattle(oneRoundRules(), []application.RobotSpec{
		at("shooter", 100, 300, math.Pi/2, gunner(3)),
		at("target", 300, 300, 0, application.SittingDuck{}),
	}, opts)
	if err != nil {
		t.Fatal(err)
	}

	records := stepUntilEnd(t, b, 1000)
	last := records[len(records)-1]
	turn := last.Snapshot.Turn

	if !hasEvent[application.RobotDeathEvent](last.Events[0], turn) {
		t.Errorf("shooter events at turn %d lack RobotDeath: %+v", turn, last.Events[0])
	}
	if !hasEvent[application.WinEvent](last.Events[0], turn) {
		t.Errorf("shooter events lack Win: %+v", last.Events[0])
	}
	if !hasEvent[application.DeathEvent](last.Events[1], turn) {
		t.Errorf("target events lack Death: %+v", last.Events[1])
	}
	if target, _ := last.Snapshot.Robot(1); target.Energy != 0 {
		t.Errorf("target energy = %v", target.Energy)
	}

	if _, err := b.Step(context.Background()); !errors.Is(err, application.ErrBattleEnded) {
		t.Errorf("Step after end = %v, want ErrBattleEnded", err)
	}
	results := b.Results()
	if results == nil || results.Aborted || results.Rounds != 1 {
		t.Fatalf("results = %+v", results)
	}
	if results.Robots[0].Name != "shooter" || results.Robots[0].Firsts != 1 {
		t.Errorf("winner = %+v", results.Robots[0])
	}
	select {
	case <-b.Done():
	default:
		t.Error("Done not closed")
	}
}

func TestBattle_PauseAndResume(t *testing.T) {
	b, err := application.NewBattle(oneRoundRules(), []application.RobotSpec{
		{Name: "a", Controller: application.SittingDuck{}},
		{Name: "b", Controller: application.SittingDuck{}},
	}, application.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := b.Step(ctx); err != nil {
		t.Fatal(err)
	}

	b.Pause()
	record, err := b.Step(ctx)
	if record != nil || err != nil {
		t.Fatalf("paused Step = %v, %v", record, err)
	}
	if !b.Paused() {
		t.Error("Paused() = false")
	}

	b.Resume()
	record, err = b.Step(ctx)
	if err != nil || record == nil || record.Snapshot.Turn != 2 {
		t.Fatalf("resumed Step = %+v, %v", record, err)
	}
	b.Stop(false)
	if _, err := b.Step(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestBattle_StopAbortsAtTurnBoundary(t *testing.T) {
	rules := oneRoundRules()
	rules.NumRounds = 3
	b, err := application.NewBattle(rules, []application.RobotSpec{
		{Name: "a", Controller: application.SittingDuck{}},
		{Name: "b", Controller: application.SittingDuck{}},
	}, application.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for range 3 {
		if _, err := b.Step(ctx); err != nil {
			t.Fatal(err)
		}
	}
	b.Stop(false)
	record, err := b.Step(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if record == nil || record.Snapshot.Turn != 3 {
		t.Fatalf("abort record = %+v, want the last completed turn", record)
	}
	if !hasEvent[application.BattleEndedEvent](record.Events[0], 3) {
		t.Errorf("survivor did not receive BattleEnded: %+v", record.Events[0])
	}
	if b.State() != application.StateBattleEnded {
		t.Fatalf("state = %v", b.State())
	}
	if r := b.Results(); r == nil || !r.Aborted {
		t.Errorf("results = %+v, want aborted", r)
	}
}

func TestBattle_StopWaitsForEnd(t *testing.T) {
	rules := oneRoundRules()
	rules.NumRounds = 3
	b, err := application.NewBattle(rules, []application.RobotSpec{
		{Name: "a", Controller: application.SittingDuck{}},
		{Name: "b", Controller: application.SittingDuck{}},
	}, application.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := b.Step(ctx); err != nil {
		t.Fatal(err)
	}

	stopped := make(chan struct{})
	go func() {
		b.Stop(true)
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop(true) returned before the battle ended")
	case <-time.After(20 * time.Millisecond):
	}

	// 次のターン境界で終わり、ラウンドを最後まで進めることはない
	record, err := b.Step(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if record == nil || record.Snapshot.Turn != 1 {
		t.Fatalf("abort record = %+v, want turn 1", record)
	}
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop(true) did not return after the battle ended")
	}
	if r := b.Results(); r == nil || !r.Aborted || r.Rounds != 1 {
		t.Errorf("results = %+v, want aborted in round 1", r)
	}
	if _, err := b.Step(ctx); !errors.Is(err, application.ErrBattleEnded) {
		t.Errorf("Step after stop = %v, want ErrBattleEnded", err)
	}
}

func TestBattle_ConcurrentStepIsFatal(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	slow := application.ControllerFunc(func(ctx context.Context, api *application.RobotAPI) error {
		close(entered)
		<-release
		for {
			if err := api.Execute(ctx); err != nil {
				return err
			}
		}
	})
	opts := application.DefaultOptions()
	opts.TurnTimeout = 5 * time.Second
	b, err := application.NewBattle(oneRoundRules(), []application.RobotSpec{
		{Name: "slow", Controller: slow},
		{Name: "duck", Controller: application.SittingDuck{}},
	}, opts)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	first := make(chan error, 1)
	go func() {
		_, err := b.Step(ctx)
		first <- err
	}()
	<-entered

	_, err = b.Step(ctx)
	var be *application.BattleError
	if !errors.As(err, &be) || !errors.Is(err, application.ErrConcurrentStep) {
		t.Fatalf("concurrent Step = %v, want BattleError(ErrConcurrentStep)", err)
	}

	close(release)
	if err := <-first; err != nil {
		t.Fatalf("first Step = %v", err)
	}
	_, err = b.Step(ctx)
	if !errors.Is(err, application.ErrConcurrentStep) {
		t.Fatalf("Step after violation = %v, want the recorded BattleError", err)
	}
	if b.State() != application.StateBattleEnded || !errors.Is(b.Err(), application.ErrConcurrentStep) {
		t.Errorf("state=%v err=%v", b.State(), b.Err())
	}
}

func TestBattle_SlowRobotSkipsAndIsDisabled(t *testing.T) {
	rules := oneRoundRules()
	rules.MaxSkippedTurns = 3
	frozen := application.ControllerFunc(func(ctx context.Context, api *application.RobotAPI) error {
		<-ctx.Done()
		return ctx.Err()
	})
	opts := application.DefaultOptions()
	opts.TurnTimeout = 5 * time.Millisecond
	b, err := application.NewBattle(rules, []application.RobotSpec{
		{Name: "frozen", Controller: frozen},
		{Name: "duck", Controller: application.SittingDuck{}},
	}, opts)
	if err != nil {
		t.Fatal(err)
	}
	records := stepUntilEnd(t, b, 20)
	if len(records) != 3 {
		t.Errorf("turns = %d, want 3", len(records))
	}
	last, _ := records[len(records)-1].Snapshot.Robot(0)
	if last.Flags&application.StateFaulted == 0 {
		t.Errorf("frozen robot flags = %v, want faulted", last.Flags)
	}
	if b.Results().Robots[0].Name != "duck" {
		t.Errorf("winner = %+v", b.Results().Robots[0])
	}
}

func TestBattle_PanickingRobotFaults(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	rules := oneRoundRules()
	rules.MaxRobotFaults = 2
	buggy := mocks.NewMockController(ctrl)
	buggy.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, api *application.RobotAPI) error {
		panic("boom")
	}).MinTimes(2)

	b, err := application.NewBattle(rules, []application.RobotSpec{
		{Name: "buggy", Controller: buggy},
		{Name: "duck", Controller: application.SittingDuck{}},
	}, application.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	records := stepUntilEnd(t, b, 20)
	if got := len(records); got != 2 {
		t.Errorf("turns = %d, want 2", got)
	}
	if !hasEvent[application.DeathEvent](records[1].Events[0], anyTurn) {
		t.Errorf("buggy robot events = %+v", records[1].Events[0])
	}
}

func TestNewBattle_Validation(t *testing.T) {
	if _, err := application.NewBattle(application.DefaultRules(), nil, application.DefaultOptions()); !errors.Is(err, application.ErrNoRobots) {
		t.Errorf("no robots: %v", err)
	}
	if _, err := application.NewBattle(application.DefaultRules(), []application.RobotSpec{{Name: "x"}}, application.DefaultOptions()); !errors.Is(err, application.ErrInvalidRobot) {
		t.Errorf("missing controller: %v", err)
	}
	bad := application.DefaultRules()
	bad.NumRounds = 0
	if _, err := application.NewBattle(bad, []application.RobotSpec{{Name: "x", Controller: application.SittingDuck{}}}, application.DefaultOptions()); !errors.Is(err, application.ErrInvalidRules) {
		t.Errorf("bad rules: %v", err)
	}

	b, err := application.NewBattle(application.DefaultRules(), []application.RobotSpec{
		{Name: "twin", Controller: application.SittingDuck{}},
		{Name: "twin", Controller: application.SittingDuck{}},
	}, application.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	b.Stop(false)
	if _, err := b.Step(context.Background()); err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, r := range b.Results().Robots {
		names[r.Name] = true
	}
	if !names["twin"] || !names["twin (2)"] {
		t.Errorf("names = %v", names)
	}
}

func TestBattle_RunWithRuleBots(t *testing.T) {
	rules := application.DefaultRules()
	rules.NumRounds = 2
	rules.MaxTurnsPerRound = 300
	rules.Seed = 7
	opts := application.DefaultOptions()
	opts.TurnTimeout = time.Second
	b, err := application.NewBattle(rules, []application.RobotSpec{
		{Name: "r1", Flags: application.CapAdvanced, Controller: application.NewRuleBot(1)},
		{Name: "r2", Flags: application.CapAdvanced, Controller: application.NewRuleBot(2)},
		{Name: "spin", Controller: application.Spinner{Power: 1}},
	}, opts)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	results, err := b.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results.Rounds != 2 || len(results.Robots) != 3 || len(results.Teams) != 3 {
		t.Fatalf("results = %+v", results)
	}
	for i, r := range results.Robots {
		if r.Rank != i+1 {
			t.Errorf("rank of %s = %d, want %d", r.Name, r.Rank, i+1)
		}
		if i > 0 && r.Total > results.Robots[i-1].Total {
			t.Errorf("results not sorted by total")
		}
	}
}
