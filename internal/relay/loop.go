package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

var (
	ErrNoHandler      = errors.New("relay: handler is required")
	ErrAlreadyStarted = errors.New("relay: start called multiple times")
	ErrNotStarted     = errors.New("relay: not started")
	ErrStopped        = errors.New("relay: stopped")
	ErrQueueFull      = errors.New("relay: queue full")
)

const defaultQueueSize = 1024

// Handler はループに投入された要求を1件ずつ処理します。
type Handler[T any] interface {
	Handle(ctx context.Context, req T) error
}

// HandlerFunc は関数を Handler として扱います。
type HandlerFunc[T any] func(ctx context.Context, req T) error

func (f HandlerFunc[T]) Handle(ctx context.Context, req T) error { return f(ctx, req) }

// Config はループの設定です。
type Config[T any] struct {
	Name      string
	Handler   Handler[T]
	QueueSize int
}

// Loop は投入された要求を単一のゴルーチンで順に Handler へ渡します。
type Loop[T any] struct {
	name    string
	handler Handler[T]
	queue   chan T

	started atomic.Bool
	stopped atomic.Bool
	dropped atomic.Uint64

	done chan struct{}
}

func New[T any](cfg Config[T]) (*Loop[T], error) {
	if cfg.Handler == nil {
		return nil, ErrNoHandler
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Loop[T]{
		name:    cfg.Name,
		handler: cfg.Handler,
		queue:   make(chan T, queueSize),
		done:    make(chan struct{}),
	}, nil
}

// Start はループを起動します。呼べるのは一度だけです。
func (l *Loop[T]) Start(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	go l.run(ctx)
	return nil
}

func (l *Loop[T]) run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			slog.DebugContext(ctx, "relay context cancelled", "relay", l.name, "err", ctx.Err())
			return
		case req, ok := <-l.queue:
			if !ok {
				slog.DebugContext(ctx, "relay queue closed", "relay", l.name)
				return
			}
			if err := l.handler.Handle(ctx, req); err != nil {
				slog.WarnContext(ctx, "relay handler error", "relay", l.name, "err", err)
			}
		}
	}
}

// Submit は要求を投入します。キューが空くまで待ちます。
func (l *Loop[T]) Submit(ctx context.Context, req T) error {
	if !l.started.Load() {
		return ErrNotStarted
	}
	if l.stopped.Load() {
		return ErrStopped
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrStopped
	case l.queue <- req:
		return nil
	}
}

// TrySubmit は待たずに投入します。キューが満杯なら捨てて ErrQueueFull を返します。
func (l *Loop[T]) TrySubmit(req T) error {
	if !l.started.Load() {
		return ErrNotStarted
	}
	if l.stopped.Load() {
		return ErrStopped
	}
	select {
	case l.queue <- req:
		return nil
	default:
		l.dropped.Add(1)
		return ErrQueueFull
	}
}

// Dropped は TrySubmit で捨てた要求の数です。
func (l *Loop[T]) Dropped() uint64 { return l.dropped.Load() }

// Stop はキューを閉じ、残りの要求を処理し終えるまで待ちます。
func (l *Loop[T]) Stop(ctx context.Context) error {
	if !l.stopped.CompareAndSwap(false, true) {
		return ErrStopped
	}
	close(l.queue)
	if !l.started.Load() {
		return nil
	}
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DrainTimeout は timeout を上限に Stop します。
func (l *Loop[T]) DrainTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return l.Stop(ctx)
}
