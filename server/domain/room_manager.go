package domain

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// RoomID はルームを識別する UUID です。参加メッセージでは16バイトで運ばれます。
type RoomID [16]byte

// NewRoomID はランダムな RoomID を生成します。
func NewRoomID() RoomID {
	return RoomID(uuid.New())
}

func (id RoomID) String() string { return uuid.UUID(id).String() }
func (id RoomID) IsEmpty() bool  { return uuid.UUID(id) == uuid.Nil }

var ErrRoomNotFound = errors.New("room not found")

//go:generate go tool mockgen -destination=./mocks/room_manager_mock.go -package=mocks . RoomManager

// RoomManager はセッションに割り当てるルームを決めます。
type RoomManager interface {
	GetRoom(ctx context.Context, sessionID SessionID) (RoomID, error)
}

// SimpleRoomManager は全セッションを同じルームに割り当てます。
type SimpleRoomManager struct {
	defaultRoom RoomID
}

func NewSimpleRoomManager(defaultRoom RoomID) *SimpleRoomManager {
	return &SimpleRoomManager{defaultRoom: defaultRoom}
}

func (m *SimpleRoomManager) GetRoom(ctx context.Context, sessionID SessionID) (RoomID, error) {
	if m.defaultRoom.IsEmpty() {
		return RoomID{}, ErrRoomNotFound
	}
	return m.defaultRoom, nil
}
