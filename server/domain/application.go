package domain

import "context"

// Application はルームに載せるアプリケーションロジックです。
// どのメソッドもルームの tick ループからだけ呼ばれます。
type Application interface {
	// HandleMessage はルーム宛に届いたメッセージを1通処理します。
	HandleMessage(ctx context.Context, sessionID SessionID, data []byte) error
	// Tick は1 tick 分の処理を進め、参加者全員へ送るメッセージを返します。送るものがなければ nil です。
	Tick(ctx context.Context) [][]byte
}

// Greeter を実装するアプリケーションは、途中参加したセッションに現在の状態を送れます。
type Greeter interface {
	Greet(ctx context.Context, sessionID SessionID) [][]byte
}
