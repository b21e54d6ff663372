package application

import (
	"errors"
	"fmt"
)

var (
	// ErrBattleEnded は終了済みのバトルを進めようとしたときに返されます。
	ErrBattleEnded = errors.New("battle already ended")
	// ErrConcurrentStep は複数のゴルーチンが同時にターンを進めようとしたときのエラーです。
	ErrConcurrentStep = errors.New("concurrent mutation of battle state")
	// ErrInvariantViolation はエンジン内部の不変条件が崩れたことを表します。
	ErrInvariantViolation = errors.New("engine invariant violated")
	// ErrRobotStopped はロボットのタスクが終了すべきときに Execute が返します。
	ErrRobotStopped = errors.New("robot stopped")
	ErrNoRobots     = errors.New("battle needs at least one robot")
	ErrInvalidRobot = errors.New("invalid robot spec")

	// ErrMalformedMessage は受信したメッセージを解釈できないときのエラーです。
	ErrMalformedMessage = errors.New("malformed message")
	// ErrAlreadyAttached はリモートロボットに別の接続が既に紐付いているときに返されます。
	ErrAlreadyAttached = errors.New("remote robot already attached")
	ErrNotAttached     = errors.New("remote robot not attached")
)

// BattleError はバトルを中断させた致命的なエンジン障害です。
type BattleError struct {
	Round int
	Turn  int
	Err   error
}

func (e *BattleError) Error() string {
	return fmt.Sprintf("battle aborted at round %d turn %d: %v", e.Round, e.Turn, e.Err)
}

func (e *BattleError) Unwrap() error { return e.Err }
