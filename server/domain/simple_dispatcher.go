package domain

import (
	"context"
	"errors"
	"log/slog"
)

// ErrNotAccepted は命令を受け付けないセッションに命令が届いたことを表します。
var ErrNotAccepted = errors.New("session does not accept commands")

// loopbackDispatcher は観戦者セッション用のディスパッチャーです。命令は受け付けません。
type loopbackDispatcher struct{}

var _ Dispatcher = (*loopbackDispatcher)(nil)

func (l loopbackDispatcher) Dispatch(ctx context.Context, data []byte) error {
	slog.DebugContext(ctx, "loopback dispatcher dropped command", "bytes", len(data))
	return ErrNotAccepted
}

func NewLoopbackDispatcher() Dispatcher {
	return &loopbackDispatcher{}
}
