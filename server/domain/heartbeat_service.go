package domain

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// HeartbeatService は接続中のセッションへ一定間隔で ping フレームを積みます。
// 書き込みキューが詰まっているときは ping を捨てて数えるだけで、ターンの配信を優先します。
type HeartbeatService struct {
	interval time.Duration
	session  *Session
	out      chan<- []byte
	dropped  atomic.Int64
}

func NewHeartbeatService(interval time.Duration, session *Session, out chan<- []byte) *HeartbeatService {
	return &HeartbeatService{interval: interval, session: session, out: out}
}

// Dropped はキューが満杯で送れなかった ping の数を返します。
func (h *HeartbeatService) Dropped() int64 { return h.dropped.Load() }

// Run は ctx が終わるまで ping を送り続けます。
func (h *HeartbeatService) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	id := h.session.ID()
	for {
		select {
		case <-ctx.Done():
			if n := h.dropped.Load(); n > 0 {
				slog.DebugContext(ctx, "heartbeat stopped", "session", id, "dropped", n)
			}
			return
		case <-t.C:
		}
		select {
		case h.out <- EncodePingMessage(id):
		default:
			n := h.dropped.Add(1)
			slog.WarnContext(ctx, "ping dropped, write queue full", "session", id, "dropped", n)
		}
	}
}
