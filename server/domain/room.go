package domain

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

var ErrRoomBusy = errors.New("room send channel is full")

// DefaultTickInterval はルームの既定の tick 間隔です。
const DefaultTickInterval = time.Second / 30

type roomSendKind uint8

const (
	roomSendBroadcast roomSendKind = iota
	roomSendTo
)

type roomSend struct {
	kind      roomSendKind
	sessionID SessionID
	data      []byte
}

// RoomControlTopic は join/leave を流すトピックです。
func RoomControlTopic(id RoomID) Topic { return Topic("room:" + id.String() + ":ctrl") }

// Room は参加セッションの集合と、それを駆動する tick ループです。
type Room struct {
	ID       RoomID
	sessions map[SessionID]struct{}

	pubsub      PubSub
	application Application // 外部からアプリケーションロジックを注入できる

	sendCh chan roomSend

	tickInterval time.Duration
}

func NewRoom(id RoomID, pubsub PubSub, application Application, tickInterval time.Duration) *Room {
	if tickInterval <= 0 {
		tickInterval = DefaultTickInterval
	}
	return &Room{
		ID:           id,
		sessions:     make(map[SessionID]struct{}),
		pubsub:       pubsub,
		application:  application,
		sendCh:       make(chan roomSend, 1024),
		tickInterval: tickInterval,
	}
}

// Members は参加中のセッション数です。tick ループの外から呼んではいけません。
func (r *Room) Members() int { return len(r.sessions) }

func (r *Room) Broadcast(ctx context.Context, data []byte) {
	for sessionID := range r.sessions {
		r.pubsub.Publish(ctx, SessionTopic(sessionID), Message{SessionID: sessionID, Data: data})
	}
}

func (r *Room) SendTo(ctx context.Context, sessionID SessionID, data []byte) {
	r.pubsub.Publish(ctx, SessionTopic(sessionID), Message{SessionID: sessionID, Data: data})
}

func (r *Room) EnqueueBroadcast(ctx context.Context, data []byte) error {
	return r.enqueueSend(ctx, roomSend{kind: roomSendBroadcast, data: data})
}

func (r *Room) EnqueueSendTo(ctx context.Context, sessionID SessionID, data []byte) error {
	return r.enqueueSend(ctx, roomSend{kind: roomSendTo, sessionID: sessionID, data: data})
}

func (r *Room) enqueueSend(ctx context.Context, msg roomSend) error {
	select {
	case <-ctx.Done():
		return nil
	case r.sendCh <- msg:
		return nil
	default:
		return ErrRoomBusy
	}
}

func (r *Room) Run(ctx context.Context) error {
	// room宛のメッセージを購読
	roomTopic := RoomTopic(r.ID)
	msgCh := r.pubsub.Subscribe(roomTopic)
	defer r.pubsub.Unsubscribe(roomTopic, msgCh)

	// room制御用トピックを購読（join/leave）
	ctrlTopic := RoomControlTopic(r.ID)
	ctrlCh := r.pubsub.Subscribe(ctrlTopic)
	defer r.pubsub.Unsubscribe(ctrlTopic, ctrlCh)

	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.tick(ctx, ctrlCh, msgCh)
		}
	}
}

func (r *Room) tick(ctx context.Context, ctrlCh, msgCh <-chan Message) {
	// 制御メッセージを処理（join/leave）
CTRL_LOOP:
	for {
		select {
		case ctrl := <-ctrlCh:
			r.handleControlMessage(ctx, ctrl)
		default:
			break CTRL_LOOP
		}
	}
	// 受信メッセージを処理
RECEIVE_LOOP:
	for {
		select {
		case msg := <-msgCh:
			if err := r.application.HandleMessage(ctx, msg.SessionID, msg.Data); err != nil {
				slog.WarnContext(ctx, "room handle message failed", "sessionID", msg.SessionID, "err", err)
			}
		default:
			break RECEIVE_LOOP
		}
	}
	// 前の tick でアプリケーションが積んだ送信
SEND_LOOP:
	for {
		select {
		case msg := <-r.sendCh:
			r.handleSendMessage(ctx, msg)
		default:
			break SEND_LOOP
		}
	}
	for _, data := range r.application.Tick(ctx) {
		r.Broadcast(ctx, data)
	}
}

// handleControlMessage は join/leave のフレームを処理します。
func (r *Room) handleControlMessage(ctx context.Context, msg Message) {
	frame, err := ParseFrame(msg.Data)
	if err != nil || frame.PayloadHeader.DataType != DataTypeControl {
		slog.WarnContext(ctx, "room: malformed control message", "sessionID", msg.SessionID, "err", err)
		return
	}
	switch ControlSubType(frame.PayloadHeader.SubType) {
	case ControlSubTypeJoin:
		r.sessions[msg.SessionID] = struct{}{}
		if g, ok := r.application.(Greeter); ok {
			for _, data := range g.Greet(ctx, msg.SessionID) {
				r.SendTo(ctx, msg.SessionID, data)
			}
		}
	case ControlSubTypeLeave:
		delete(r.sessions, msg.SessionID)
	default:
	}
}

func (r *Room) handleSendMessage(ctx context.Context, msg roomSend) {
	switch msg.kind {
	case roomSendBroadcast:
		r.Broadcast(ctx, msg.data)
	case roomSendTo:
		r.SendTo(ctx, msg.sessionID, msg.data)
	default:
	}
}
