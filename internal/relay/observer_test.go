package relay_test

import (
	"context"
	"testing"
	"time"

	"battlecore/internal/relay"
	"battlecore/server/application"
	"battlecore/server/application/mocks"

	"go.uber.org/mock/gomock"
)

func TestObserver_Relays(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	record := &application.TurnRecord{Snapshot: &application.TurnSnapshot{Round: 1, Turn: 1}}
	results := &application.BattleResults{Rounds: 1}

	inner := mocks.NewMockObserver(ctrl)
	gomock.InOrder(
		inner.EXPECT().OnTurn(gomock.Any(), record),
		inner.EXPECT().OnRoundEnded(gomock.Any(), 1, 1),
		inner.EXPECT().OnBattleEnded(gomock.Any(), results, nil),
	)

	obs, err := relay.NewObserver(ctx, "test", inner, 8)
	if err != nil {
		t.Fatal(err)
	}
	obs.OnTurn(ctx, record)
	obs.OnRoundEnded(ctx, 1, 1)
	obs.OnBattleEnded(ctx, results, nil)

	closeCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := obs.Close(closeCtx); err != nil {
		t.Fatal(err)
	}
}
