package results_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"battlecore/server/application"
	"battlecore/server/results"
)

func fixedClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func TestConcurrentStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := results.NewConcurrentStore(results.NewStore()).WithClock(fixedClock(time.Unix(0, 0)))

	obs := store.Track("b1")
	entry, err := store.Get(ctx, "b1")
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != results.StatusRunning {
		t.Errorf("status = %v, want running", entry.Status)
	}

	obs.OnTurn(ctx, &application.TurnRecord{Snapshot: &application.TurnSnapshot{Round: 2, Turn: 15}})
	entry, _ = store.Get(ctx, "b1")
	if entry.Round != 2 || entry.Turn != 15 {
		t.Errorf("progress = %d/%d, want 2/15", entry.Round, entry.Turn)
	}

	obs.OnBattleEnded(ctx, &application.BattleResults{BattleID: "b1", Rounds: 2}, nil)
	entry, _ = store.Get(ctx, "b1")
	if entry.Status != results.StatusFinished || entry.FinishedAt == nil || entry.Results.Rounds != 2 {
		t.Errorf("entry = %+v", entry)
	}
}

func TestConcurrentStore_EndStatus(t *testing.T) {
	ctx := context.Background()
	store := results.NewConcurrentStore(results.NewStore())

	store.Track("aborted").OnBattleEnded(ctx, &application.BattleResults{Aborted: true}, nil)
	store.Track("failed").OnBattleEnded(ctx, &application.BattleResults{Aborted: true}, errors.New("boom"))

	if e, _ := store.Get(ctx, "aborted"); e.Status != results.StatusAborted {
		t.Errorf("aborted status = %v", e.Status)
	}
	e, _ := store.Get(ctx, "failed")
	if e.Status != results.StatusFailed || e.Error != "boom" {
		t.Errorf("failed entry = %+v", e)
	}
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, results.ErrBattleNotFound) {
		t.Errorf("Get(missing) = %v", err)
	}
}

func TestConcurrentStore_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := results.NewConcurrentStore(results.NewStore()).WithClock(fixedClock(time.Unix(100, 0)))
	store.Track("old")
	store.Track("new")

	list := store.List(ctx)
	if len(list) != 2 || list[0].BattleID != "new" || list[1].BattleID != "old" {
		t.Errorf("list = %+v", list)
	}
}

func TestConcurrentStore_ParallelTrackers(t *testing.T) {
	ctx := context.Background()
	store := results.NewConcurrentStore(results.NewStore())

	var wg sync.WaitGroup
	for i := range 8 {
		id := string(rune('a' + i))
		obs := store.Track(id)
		wg.Go(func() {
			for turn := 1; turn <= 50; turn++ {
				obs.OnTurn(ctx, &application.TurnRecord{Snapshot: &application.TurnSnapshot{Round: 1, Turn: turn}})
				store.List(ctx)
			}
		})
	}
	wg.Wait()

	for _, e := range store.List(ctx) {
		if e.Turn != 50 {
			t.Errorf("%s turn = %d, want 50", e.BattleID, e.Turn)
		}
	}
}
