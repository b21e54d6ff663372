package domain

import "context"

//go:generate go tool mockgen -destination=./mocks/dispatcher_mock.go -package=mocks . Dispatcher

// Dispatcher はサーバー層からアプリケーション層へのイベント配送を担当します。
type Dispatcher interface {
	// Dispatch は DataTypeCommand のペイロードを配送します。
	Dispatch(ctx context.Context, data []byte) error
}

// Sender はアプリケーション層から接続へメッセージを書き出す口です。
// SessionEndpoint が実装します。
type Sender interface {
	Send(data []byte) error
}
