package application

import (
	"context"
	"testing"
	"time"
)

func TestRobotHost_RunsControllerPerRound(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	starts := 0
	controller := ControllerFunc(func(ctx context.Context, api *RobotAPI) error {
		starts++
		for {
			api.SetFire(float64(api.Turn()) / 10)
			if err := api.Execute(ctx); err != nil {
				return err
			}
		}
	})
	host := NewRobotHost("hosted", controller)
	defer host.Close()

	for round := 1; round <= 2; round++ {
		for turn := 1; turn <= 3; turn++ {
			host.Deliver(ctx, TurnStart{Round: round, Turn: turn})
			set, err := host.Next(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if set.Turn != turn || len(set.Commands) != 1 || set.Commands[0].Kind != CmdFire {
				t.Fatalf("round %d turn %d: set = %+v", round, turn, set)
			}
		}
		host.Deliver(ctx, TurnStart{Round: round, Turn: 3, Final: true})
	}

	// starts の更新は各ラウンド最初の Next の受信より前に起きている
	host.Close()
	if starts != 2 {
		t.Errorf("controller started %d times, want once per round", starts)
	}
}

func TestRobotHost_FaultYieldsEmptySet(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	host := NewRobotHost("buggy", ControllerFunc(func(ctx context.Context, api *RobotAPI) error {
		panic("boom")
	}))
	defer host.Close()

	host.Deliver(ctx, TurnStart{Round: 1, Turn: 1})
	set, err := host.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if set.Turn != 1 || len(set.Commands) != 0 {
		t.Errorf("set = %+v", set)
	}
}
