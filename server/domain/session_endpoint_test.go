package domain_test

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "battlecore/server/domain"
	"battlecore/server/domain/mocks"

	"go.uber.org/mock/gomock"
)

// 初期化時にリソースが正しくセットアップされることを確認
func TestNewSessionEndpoint_InitializesDefaults(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	s := domain.NewSession()
	tr := mocks.NewMockTransport(ctrl)
	c := domain.NewConnection(s.ID(), tr)
	ps := mocks.NewMockPubSub(ctrl)
	rm := mocks.NewMockRoomManager(ctrl)

	se, err := domain.NewSessionEndpoint(s, c, ps, rm, nil, domain.DefaultEndpointConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if se == nil {
		t.Fatalf("endpoint is nil")
	}
}

func TestNewSessionEndpoint_RejectsNil(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	s := domain.NewSession()
	c := domain.NewConnection(s.ID(), mocks.NewMockTransport(ctrl))
	_, err := domain.NewSessionEndpoint(s, c, nil, mocks.NewMockRoomManager(ctrl), nil, domain.DefaultEndpointConfig())
	if !errors.Is(err, domain.ErrInitializationFailed) {
		t.Fatalf("err = %v, want ErrInitializationFailed", err)
	}
}

// pipeTransport は読み込みをチャネルで供給するテスト用 Transport です。
type pipeTransport struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
}

func newPipeTransport() *pipeTransport {
	return &pipeTransport{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (p *pipeTransport) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-p.in:
		return data, nil
	case <-p.closed:
		return nil, errors.New("closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeTransport) Write(ctx context.Context, data []byte) error {
	p.out <- data
	return nil
}

func (p *pipeTransport) Close(code int32, reason string) error {
	select {
	case <-p.closed:
	default:
		close(p.closed)
	}
	return nil
}

func readFrame(t *testing.T, p *pipeTransport) *domain.Frame {
	t.Helper()
	select {
	case data := <-p.out:
		frame, err := domain.ParseFrame(data)
		if err != nil {
			t.Fatalf("ParseFrame: %v", err)
		}
		return frame
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a write")
		return nil
	}
}

func TestSessionEndpoint_AssignsJoinsAndDispatches(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	s := domain.NewRobotSession("Alpha")
	tr := newPipeTransport()
	ps := domain.NewSimplePubSub()
	room := domain.NewRoomID()
	rm := domain.NewSimpleRoomManager(room)
	dispatcher := mocks.NewMockDispatcher(ctrl)

	dispatched := make(chan []byte, 1)
	dispatcher.EXPECT().Dispatch(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, data []byte) error {
		dispatched <- data
		return nil
	})

	ctrlCh := ps.Subscribe(domain.RoomControlTopic(room))

	se, err := domain.NewSessionEndpoint(s, domain.NewConnection(s.ID(), tr), ps, rm, dispatcher, domain.EndpointConfig{IdleTimeout: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- se.Run(ctx) }()

	assign := readFrame(t, tr)
	if domain.ControlSubType(assign.PayloadHeader.SubType) != domain.ControlSubTypeAssign {
		t.Fatalf("first message = %+v, want assign", assign.PayloadHeader)
	}

	// 空の RoomID はデフォルトルームに割り当てられる
	tr.in <- domain.EncodeJoinMessage(s.ID(), domain.RoomID{})
	select {
	case msg := <-ctrlCh:
		if msg.SessionID != s.ID() {
			t.Errorf("join from %v, want %v", msg.SessionID, s.ID())
		}
	case <-time.After(time.Second):
		t.Fatal("join was not published")
	}

	cmd, _ := domain.EncodeMessage(s.ID(), domain.DataTypeCommand, 0, []byte{7})
	tr.in <- cmd
	select {
	case data := <-dispatched:
		if len(data) != 1 || data[0] != 7 {
			t.Errorf("dispatched %v", data)
		}
	case <-time.After(time.Second):
		t.Fatal("command was not dispatched")
	}

	tr.in <- domain.EncodePingMessage(s.ID())
	if pong := readFrame(t, tr); domain.ControlSubType(pong.PayloadHeader.SubType) != domain.ControlSubTypePong {
		t.Errorf("reply = %+v, want pong", pong.PayloadHeader)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if !s.IsClosed() {
		t.Error("session should be closed")
	}
	// 切断時はルームから外れる
	select {
	case msg := <-ctrlCh:
		frame, err := domain.ParseFrame(msg.Data)
		if err != nil || domain.ControlSubType(frame.PayloadHeader.SubType) != domain.ControlSubTypeLeave {
			t.Errorf("expected leave, got %+v (%v)", frame, err)
		}
	case <-time.After(time.Second):
		t.Fatal("leave was not published")
	}
}

func TestSessionEndpoint_SendAfterClose(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	s := domain.NewSession()
	tr := mocks.NewMockTransport(ctrl)
	tr.EXPECT().Close(gomock.Any(), gomock.Any()).Return(nil)

	se, err := domain.NewSessionEndpoint(s, domain.NewConnection(s.ID(), tr), domain.NewSimplePubSub(), mocks.NewMockRoomManager(ctrl), nil, domain.DefaultEndpointConfig())
	if err != nil {
		t.Fatal(err)
	}
	se.ForceClose()
	se.ForceClose()
	if err := se.Send([]byte{1}); !errors.Is(err, domain.ErrEndpointClosed) {
		t.Fatalf("err = %v, want ErrEndpointClosed", err)
	}
}
