package domain_test

import (
	"context"
	"sync"
	"testing"
	"time"

	domain "battlecore/server/domain"
)

type recordingApp struct {
	mu       sync.Mutex
	handled  [][]byte
	tickData [][]byte
	greeted  []domain.SessionID
}

func (a *recordingApp) HandleMessage(ctx context.Context, id domain.SessionID, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handled = append(a.handled, data)
	return nil
}

func (a *recordingApp) Tick(ctx context.Context) [][]byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.tickData
	a.tickData = nil
	return out
}

func (a *recordingApp) Greet(ctx context.Context, id domain.SessionID) [][]byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.greeted = append(a.greeted, id)
	return [][]byte{[]byte("hello")}
}

func TestRoom_JoinGreetBroadcastLeave(t *testing.T) {
	ps := domain.NewSimplePubSub()
	app := &recordingApp{tickData: nil}
	roomID := domain.NewRoomID()
	room := domain.NewRoom(roomID, ps, app, 5*time.Millisecond)

	id := domain.NewSessionID()
	inbox := ps.Subscribe(domain.SessionTopic(id))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go room.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	ps.Publish(ctx, domain.RoomControlTopic(roomID), domain.Message{SessionID: id, Data: domain.EncodeJoinMessage(id, roomID)})
	select {
	case msg := <-inbox:
		if string(msg.Data) != "hello" {
			t.Fatalf("greeting = %q", msg.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("no greeting")
	}

	app.mu.Lock()
	app.tickData = [][]byte{[]byte("frame")}
	app.mu.Unlock()
	select {
	case msg := <-inbox:
		if string(msg.Data) != "frame" {
			t.Fatalf("broadcast = %q", msg.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("no broadcast")
	}

	ps.Publish(ctx, domain.RoomTopic(roomID), domain.Message{SessionID: id, Data: []byte("cmd")})
	ps.Publish(ctx, domain.RoomControlTopic(roomID), domain.Message{SessionID: id, Data: domain.EncodeLeaveMessage(id)})
	time.Sleep(50 * time.Millisecond)

	app.mu.Lock()
	app.tickData = [][]byte{[]byte("after-leave")}
	handled := len(app.handled)
	app.mu.Unlock()
	if handled != 1 {
		t.Errorf("handled %d messages, want 1", handled)
	}
	select {
	case msg := <-inbox:
		t.Fatalf("left session received %q", msg.Data)
	case <-time.After(50 * time.Millisecond):
	}
}
