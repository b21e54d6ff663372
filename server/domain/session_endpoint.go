package domain

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrSessionAlreadyAttached はセッションに既に接続が紐付けられている場合に返されるエラーです。
	ErrSessionAlreadyAttached = errors.New("session already has an attached connection")
	// ErrSessionNotAttached はセッションに接続が紐付けられていない場合に返されるエラーです。
	ErrSessionNotAttached = errors.New("session has no attached connection")
	// ErrBackpressure は書き込みチャネルが満杯の場合に返されるエラーです。
	ErrBackpressure = errors.New("write channel is full, apply backpressure")
	// ErrInitializationFailed はセッションエンドポイントの初期化に失敗した場合に返されるエラーです。
	ErrInitializationFailed = errors.New("failed to initialize session endpoint")
	// ErrEndpointClosed は閉じたエンドポイントへの送信で返されます。
	ErrEndpointClosed = errors.New("session endpoint closed")
)

// EndpointConfig は死活監視の設定です。
type EndpointConfig struct {
	PingInterval time.Duration
	IdleTimeout  time.Duration
}

func DefaultEndpointConfig() EndpointConfig {
	return EndpointConfig{
		PingInterval: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
}

type SessionEndpoint struct {
	ctx    context.Context
	cancel context.CancelFunc
	config EndpointConfig

	session     *Session
	connection  *Connection
	pubsub      PubSub
	roomManager RoomManager
	dispatcher  Dispatcher
	roomID      atomic.Pointer[RoomID] // join 時に決まる。書き換えは ownerLoop だけ

	ctrlCh  chan endpointEvent // 制御用チャネル
	writeCh chan []byte        // 書き込み用チャネル

	// lifecycle
	closed atomic.Bool
}

func NewSessionEndpoint(session *Session, connection *Connection, pubsub PubSub, roomManager RoomManager, dispatcher Dispatcher, config EndpointConfig) (*SessionEndpoint, error) {
	if session == nil || connection == nil || pubsub == nil || roomManager == nil {
		return nil, ErrInitializationFailed
	}
	if dispatcher == nil {
		dispatcher = NewLoopbackDispatcher()
	}
	ctx, cancel := context.WithCancel(context.Background())
	se := &SessionEndpoint{
		ctx:         ctx,
		cancel:      cancel,
		config:      config,
		session:     session,
		connection:  connection,
		pubsub:      pubsub,
		roomManager: roomManager,
		dispatcher:  dispatcher,
		ctrlCh:      make(chan endpointEvent, 16),
		writeCh:     make(chan []byte, 1024),
	}
	return se, nil
}

func (se *SessionEndpoint) Session() *Session { return se.session }

// Run は接続が閉じるまでブロックします。ctx がキャンセルされると接続を閉じます。
func (se *SessionEndpoint) Run(ctx context.Context) error {
	// 自分宛のメッセージを購読
	sessionTopic := SessionTopic(se.session.ID())
	msgCh := se.pubsub.Subscribe(sessionTopic)
	defer se.pubsub.Unsubscribe(sessionTopic, msgCh)

	stop := context.AfterFunc(ctx, se.ForceClose)
	defer stop()

	// セッションID通知を送信
	if err := se.Send(EncodeAssignMessage(se.session.ID())); err != nil {
		return err
	}

	eg, egCtx := errgroup.WithContext(se.ctx)
	eg.Go(func() error {
		se.ownerLoop(egCtx)
		return nil
	})
	eg.Go(func() error {
		se.readLoop(egCtx)
		return nil
	})
	eg.Go(func() error {
		se.writeLoop(egCtx)
		return nil
	})
	eg.Go(func() error {
		se.subscribeLoop(egCtx, msgCh)
		return nil
	})
	if se.config.PingInterval > 0 {
		hb := NewHeartbeatService(se.config.PingInterval, se.session, se.writeCh)
		eg.Go(func() error {
			hb.Run(egCtx)
			return nil
		})
	}
	return eg.Wait()
}

// Send は data を書き込みキューに積みます。満杯ならブロックせずに ErrBackpressure を返します。
func (se *SessionEndpoint) Send(data []byte) error {
	if se.closed.Load() {
		return ErrEndpointClosed
	}
	select {
	case se.writeCh <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

func (se *SessionEndpoint) Close(ctx context.Context) {
	se.sendCtrlEvent(ctx, endpointEvent{kind: evClose, err: nil})
}

func (se *SessionEndpoint) ForceClose() {
	se.close()
}

// ownerLoop は論理セッションの状態を監視し、必要に応じて接続の管理を行います。
func (se *SessionEndpoint) ownerLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-se.ctrlCh:
			se.handleControlEvent(ctx, ev)
		case <-ticker.C:
			ok, reason := se.session.IsIdle(se.config.IdleTimeout)
			if ok {
				se.handleControlEvent(ctx, endpointEvent{
					kind: evClose,
					err:  errors.New(reason.String()),
				})
			}
		}
	}
}

func (se *SessionEndpoint) readLoop(ctx context.Context) {
	for {
		data, err := se.connection.Read(ctx)
		if err != nil {
			se.sendCtrlEvent(ctx, endpointEvent{kind: evReadError, err: err})
			return
		}
		se.session.TouchRead()
		se.handleData(ctx, data)
	}
}

func (se *SessionEndpoint) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-se.writeCh:
			err := se.connection.Write(ctx, data)
			if err != nil {
				se.sendCtrlEvent(ctx, endpointEvent{kind: evWriteError, err: err})
				continue
			}
			se.session.TouchWrite()
		}
	}
}

// subscribeLoop はpubsubからのメッセージをwriteChに転送します。
func (se *SessionEndpoint) subscribeLoop(ctx context.Context, msgCh <-chan Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			select {
			case se.writeCh <- msg.Data:
			default:
				slog.WarnContext(ctx, "subscribeLoop: writeCh full, message dropped", "sessionID", se.session.ID())
			}
		}
	}
}

func (se *SessionEndpoint) close() {
	if !se.closed.CompareAndSwap(false, true) {
		return
	}
	// 異常切断でもルームから外す
	if roomID, ok := se.room(); ok {
		se.pubsub.Publish(context.Background(), RoomControlTopic(roomID), Message{
			SessionID: se.session.ID(),
			Data:      EncodeLeaveMessage(se.session.ID()),
		})
	}
	se.cancel()
	se.session.Close()
	se.connection.Close()
}

func (se *SessionEndpoint) handleData(ctx context.Context, data []byte) {
	frame, err := ParseFrame(data)
	if err != nil {
		slog.WarnContext(ctx, "failed to parse frame", "sessionID", se.session.ID(), "err", err)
		return
	}
	if SessionIDFromBytes(frame.Header.SessionID) != se.session.ID() {
		slog.WarnContext(ctx, "session ID mismatch", "expected", se.session.ID(), "got", SessionIDFromBytes(frame.Header.SessionID))
		return
	}

	switch frame.PayloadHeader.DataType {
	case DataTypeControl:
		se.handleControlMessage(ctx, ControlSubType(frame.PayloadHeader.SubType), frame, data)
	case DataTypeCommand:
		if err := se.dispatcher.Dispatch(ctx, frame.Payload); err != nil {
			se.sendCtrlEvent(ctx, endpointEvent{kind: evDispatchError, err: err})
		}
	default:
		slog.WarnContext(ctx, "unexpected data type", "sessionID", se.session.ID(), "dataType", frame.PayloadHeader.DataType)
	}
}

func (se *SessionEndpoint) handleControlMessage(ctx context.Context, subType ControlSubType, frame *Frame, data []byte) {
	switch subType {
	case ControlSubTypePing:
		_ = se.Send(EncodePongMessage(se.session.ID()))
	case ControlSubTypePong:
		se.sendCtrlEvent(ctx, endpointEvent{kind: evPong})
	case ControlSubTypeJoin, ControlSubTypeLeave:
		kind := evJoin
		if subType == ControlSubTypeLeave {
			kind = evLeave
		}
		se.sendCtrlEvent(ctx, endpointEvent{kind: kind, payload: frame.Payload})
	case ControlSubTypePause, ControlSubTypeResume, ControlSubTypeStop:
		if se.session.Role() != RoleObserver {
			slog.WarnContext(ctx, "battle control from a robot session ignored", "sessionID", se.session.ID())
			return
		}
		se.sendCtrlEvent(ctx, endpointEvent{kind: evRoomData, payload: data})
	default:
		slog.WarnContext(ctx, "unknown control subtype", "sessionID", se.session.ID(), "subType", subType)
	}
}

// handleControlEvent は制御チャネルからのイベントを処理し論理セッションの状態を更新する唯一の関数です。
func (se *SessionEndpoint) handleControlEvent(ctx context.Context, ev endpointEvent) {
	switch ev.kind {
	case evClose:
		if ev.err != nil {
			slog.InfoContext(ctx, "session closing", "sessionID", se.session.ID(), "reason", ev.err)
		}
		se.close()
	case evPong:
		se.session.TouchPong()
	case evJoin:
		se.join(ctx, ev.payload)
	case evLeave:
		se.leave(ctx)
	case evRoomData:
		roomID, ok := se.room()
		if !ok {
			slog.WarnContext(ctx, "received room message before joining a room", "sessionID", se.session.ID())
			return
		}
		se.pubsub.Publish(ctx, RoomTopic(roomID), Message{SessionID: se.session.ID(), Data: ev.payload})
	case evReadError:
		slog.DebugContext(ctx, "read failed", "sessionID", se.session.ID(), "err", ev.err)
		se.close()
	case evWriteError:
		slog.WarnContext(ctx, "write failed", "sessionID", se.session.ID(), "err", ev.err)
	case evDispatchError:
		slog.WarnContext(ctx, "command rejected", "sessionID", se.session.ID(), "err", ev.err)
		_ = se.Send(EncodeErrorMessage(se.session.ID(), ev.err.Error()))
	default:
		slog.WarnContext(ctx, "unknown endpoint event kind", "kind", ev.kind)
	}
}

func (se *SessionEndpoint) join(ctx context.Context, payload []byte) {
	p, err := ParseJoinPayload(payload)
	if err != nil {
		slog.WarnContext(ctx, "failed to parse join message", "err", err)
		return
	}
	roomID := p.RoomID
	// RoomIDが空の場合、RoomManagerからデフォルトルームを取得
	if roomID.IsEmpty() {
		roomID, err = se.roomManager.GetRoom(ctx, se.session.ID())
		if err != nil {
			slog.ErrorContext(ctx, "failed to get default room", "err", err)
			_ = se.Send(EncodeErrorMessage(se.session.ID(), err.Error()))
			return
		}
	}
	if _, ok := se.room(); ok {
		se.leave(ctx)
	}
	se.roomID.Store(&roomID)
	slog.InfoContext(ctx, "session joined room", "sessionID", se.session.ID(), "roomID", roomID)
	se.pubsub.Publish(ctx, RoomControlTopic(roomID), Message{
		SessionID: se.session.ID(),
		Data:      EncodeJoinMessage(se.session.ID(), roomID),
	})
}

func (se *SessionEndpoint) leave(ctx context.Context) {
	roomID, ok := se.room()
	if !ok {
		slog.WarnContext(ctx, "session not in any room, cannot leave", "sessionID", se.session.ID())
		return
	}
	se.pubsub.Publish(ctx, RoomControlTopic(roomID), Message{
		SessionID: se.session.ID(),
		Data:      EncodeLeaveMessage(se.session.ID()),
	})
	slog.InfoContext(ctx, "session left room", "sessionID", se.session.ID(), "roomID", roomID)
	se.roomID.Store(nil)
}

func (se *SessionEndpoint) room() (RoomID, bool) {
	p := se.roomID.Load()
	if p == nil || p.IsEmpty() {
		return RoomID{}, false
	}
	return *p, true
}

func (se *SessionEndpoint) sendCtrlEvent(ctx context.Context, ev endpointEvent) {
	select {
	case se.ctrlCh <- ev:
	case <-ctx.Done():
	}
}
