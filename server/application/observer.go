package application

import "context"

// TurnRecord は1ターン分の観測結果です。Events はロボット ID ごとの配送順イベントです。
type TurnRecord struct {
	Snapshot *TurnSnapshot
	Events   map[int][]Event
}

// Observer はバトルの進行を受け取る外部の購読者です。
// 呼び出しはコーディネーターのゴルーチン上で行われるため、重い処理は非同期に逃がしてください。
//
//go:generate go tool mockgen -source=observer.go -destination=mocks/mock_observer.go -package=mocks
type Observer interface {
	OnTurn(ctx context.Context, record *TurnRecord)
	OnRoundEnded(ctx context.Context, round int, turns int)
	OnBattleEnded(ctx context.Context, results *BattleResults, err error)
}
