package adapterwebsocket

import (
	"context"
	"errors"
	"fmt"

	"battlecore/server/domain"

	"github.com/coder/websocket"
)

// ErrUnexpectedMessageType はテキストフレームを受け取ったときのエラーです。プロトコルはバイナリのみです。
var ErrUnexpectedMessageType = errors.New("websocket: unexpected message type")

// readLimit はヘッダーと最大ペイロードを合わせたフレームの上限です。
const readLimit = domain.HeaderSize + domain.PayloadHeaderSize + domain.MaxPayloadSize

type wsTransport struct {
	conn *websocket.Conn
}

func NewTransportFrom(conn *websocket.Conn) domain.Transport {
	conn.SetReadLimit(readLimit)
	return &wsTransport{conn: conn}
}

func (t *wsTransport) Read(ctx context.Context) ([]byte, error) {
	typ, data, err := t.conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if typ != websocket.MessageBinary {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedMessageType, typ)
	}
	return data, nil
}

func (t *wsTransport) Write(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageBinary, data)
}

func (t *wsTransport) Close(code int32, reason string) error {
	return t.conn.Close(websocket.StatusCode(code), reason)
}
