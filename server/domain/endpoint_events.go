package domain

type endpointEventKind uint8

const (
	// unknown
	unknown endpointEventKind = iota

	// I/O
	evPong          // pong を受信した
	evReadError     // 読み込みに失敗した。接続は使えない
	evWriteError    // 書き込みに失敗した
	evDispatchError // アプリケーションが命令を拒否した

	// ctrl
	evClose    // セッション終了
	evJoin     // ルーム参加要求
	evLeave    // ルーム離脱要求
	evRoomData // ルーム宛のメッセージ
)

func (k endpointEventKind) String() string {
	switch k {
	case evPong:
		return "pong"
	case evReadError:
		return "read_error"
	case evWriteError:
		return "write_error"
	case evDispatchError:
		return "dispatch_error"
	case evClose:
		return "close"
	case evJoin:
		return "join"
	case evLeave:
		return "leave"
	case evRoomData:
		return "room_data"
	default:
		return "unknown"
	}
}

type endpointEvent struct {
	kind    endpointEventKind
	err     error
	payload []byte
}
