package domain

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// SessionID は論理セッションを識別する UUID です。
type SessionID uuid.UUID

// NewSessionID はランダムな SessionID を生成します。
func NewSessionID() SessionID {
	return SessionID(uuid.New())
}

// SessionIDFromBytes はヘッダーの16バイトから SessionID を復元します。
func SessionIDFromBytes(b [16]byte) SessionID {
	return SessionID(b)
}

func (id SessionID) Bytes() [16]byte { return id }
func (id SessionID) String() string  { return uuid.UUID(id).String() }
func (id SessionID) IsEmpty() bool   { return uuid.UUID(id) == uuid.Nil }

// SessionRole はセッションの用途です。
type SessionRole uint8

const (
	RoleObserver SessionRole = iota // 観戦者。スナップショットを受け取り、制御メッセージを送れる
	RoleRobot                       // リモートロボットのホスト。TurnStart を受け取り、命令を返す
)

func (r SessionRole) String() string {
	if r == RoleRobot {
		return "robot"
	}
	return "observer"
}

// Session は1接続の論理的な接続状態を表す構造体です。
type Session struct {
	id    SessionID
	role  SessionRole
	robot string // RoleRobot のときの担当ロボット名

	// activity
	lastRead  atomic.Int64
	lastWrite atomic.Int64
	lastPong  atomic.Int64

	// lifecycle
	closed atomic.Bool
}

// NewSession は観戦者セッションを生成します。
func NewSession() *Session {
	return newSession(RoleObserver, "")
}

// NewRobotSession は robot を担当するリモートホストのセッションを生成します。
func NewRobotSession(robot string) *Session {
	return newSession(RoleRobot, robot)
}

func newSession(role SessionRole, robot string) *Session {
	s := &Session{
		id:    NewSessionID(),
		role:  role,
		robot: robot,
	}
	now := time.Now().UnixNano()
	s.lastRead.Store(now)
	s.lastWrite.Store(now)
	s.lastPong.Store(now)
	return s
}

func (s *Session) ID() SessionID     { return s.id }
func (s *Session) Role() SessionRole { return s.role }
func (s *Session) Robot() string     { return s.robot }

func (s *Session) TouchRead() {
	s.lastRead.Store(time.Now().UnixNano())
}

func (s *Session) TouchWrite() {
	s.lastWrite.Store(time.Now().UnixNano())
}

func (s *Session) TouchPong() {
	s.lastPong.Store(time.Now().UnixNano())
}

// Close はセッションを閉じます。初回の呼び出しだけが true を返します。
func (s *Session) Close() bool {
	return s.closed.CompareAndSwap(false, true)
}

func (s *Session) IsIdle(timeout time.Duration) (bool, IdleReason) {
	if timeout <= 0 {
		return false, IdleDisabled
	}
	var reason IdleReason
	if s.IsReadIdle(timeout) {
		reason |= IdleRead
	}
	if s.IsPongIdle(timeout) {
		reason |= IdlePong
	}
	// 受信も pong も途絶えたときだけ切断する。観戦者は送信しかしないことがある
	if reason.Has(IdleRead) && reason.Has(IdlePong) {
		return true, reason
	}
	return false, IdleNone
}

func (s *Session) IsReadIdle(timeout time.Duration) bool {
	return isIdleSince(unixNanoToTime(s.lastRead.Load()), timeout)
}

func (s *Session) IsWriteIdle(timeout time.Duration) bool {
	return isIdleSince(unixNanoToTime(s.lastWrite.Load()), timeout)
}

func (s *Session) IsPongIdle(timeout time.Duration) bool {
	return isIdleSince(unixNanoToTime(s.lastPong.Load()), timeout)
}

func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

func isIdleSince(last time.Time, timeout time.Duration) bool {
	return time.Since(last) > timeout
}

func unixNanoToTime(nano int64) time.Time {
	return time.Unix(0, nano)
}
