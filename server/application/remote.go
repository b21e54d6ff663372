package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"battlecore/server/domain"
)

const remoteBuffer = 4

// RemoteController はネットワーク越しのロボットを Controller として動かします。
// TurnStart を接続へ書き出し、同じターンの CommandSet が届くまで待ちます。
// 返答が期限に遅れた場合はそのまま次の Execute に回り、エンジン側で遅延命令として扱われます。
type RemoteController struct {
	name string

	mu        sync.Mutex
	sender    domain.Sender
	sessionID domain.SessionID
	attached  chan struct{}

	cmdCh chan CommandSet
}

var (
	_ Controller        = (*RemoteController)(nil)
	_ domain.Dispatcher = (*RemoteController)(nil)
)

func NewRemoteController(name string) *RemoteController {
	return &RemoteController{
		name:     name,
		attached: make(chan struct{}),
		cmdCh:    make(chan CommandSet, remoteBuffer),
	}
}

func (c *RemoteController) Name() string { return c.name }

// Attach は接続を紐付けます。既に別の接続があるときは ErrAlreadyAttached です。
func (c *RemoteController) Attach(sessionID domain.SessionID, sender domain.Sender) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sender != nil {
		return ErrAlreadyAttached
	}
	c.sender = sender
	c.sessionID = sessionID
	select {
	case <-c.attached:
	default:
		close(c.attached)
	}
	return nil
}

// Detach は sessionID の接続を外します。以降のターンは応答なしになります。
func (c *RemoteController) Detach(sessionID domain.SessionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID == sessionID {
		c.sender = nil
		c.sessionID = domain.SessionID{}
	}
}

// Attached は一度でも接続されたら閉じるチャネルを返します。
func (c *RemoteController) Attached() <-chan struct{} { return c.attached }

func (c *RemoteController) IsAttached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sender != nil
}

// Dispatch は接続から届いた CommandSet を受け取ります。
// 取りこぼした古い命令より新しい命令を優先し、バッファが満杯なら最も古いものを捨てます。
func (c *RemoteController) Dispatch(ctx context.Context, data []byte) error {
	set, err := DecodeCommandSet(data)
	if err != nil {
		return err
	}
	for {
		select {
		case c.cmdCh <- set:
			return nil
		default:
		}
		select {
		case old := <-c.cmdCh:
			slog.DebugContext(ctx, "remote robot command dropped", "robot", c.name, "turn", old.Turn)
		default:
		}
	}
}

func (c *RemoteController) Run(ctx context.Context, api *RobotAPI) error {
	// 前のラウンドの命令は使わない
	for len(c.cmdCh) > 0 {
		<-c.cmdCh
	}
	for {
		if err := c.send(api.TurnStart()); err != nil {
			slog.DebugContext(ctx, "remote robot unreachable", "robot", c.name, "turn", api.Turn(), "error", err)
		}
		set, err := c.next(ctx, api.Turn())
		if err != nil {
			return err
		}
		api.SetCommands(set.Commands...)
		if err := api.Execute(ctx); err != nil {
			if errors.Is(err, ErrRobotStopped) {
				// 最後の配送も伝えて、Death や Win を受け取らせる
				_ = c.send(api.TurnStart())
			}
			return err
		}
	}
}

// next は turn 以降の CommandSet を待ちます。それより古いものは捨てます。
func (c *RemoteController) next(ctx context.Context, turn int) (CommandSet, error) {
	for {
		select {
		case set := <-c.cmdCh:
			if set.Turn >= turn {
				return set, nil
			}
		case <-ctx.Done():
			return CommandSet{}, ctx.Err()
		}
	}
}

func (c *RemoteController) send(ts TurnStart) error {
	c.mu.Lock()
	sender, sessionID := c.sender, c.sessionID
	c.mu.Unlock()
	if sender == nil {
		return ErrNotAttached
	}
	payload, err := EncodeTurnStart(ts)
	if err != nil {
		return err
	}
	data, err := domain.EncodeMessage(sessionID, domain.DataTypeTurn, 0, payload)
	if err != nil {
		return err
	}
	return sender.Send(data)
}
