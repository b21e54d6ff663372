package domain

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// バイトオーダー: リトルエンディアン
var byteOrder = binary.LittleEndian

const (
	ProtocolVersion   = 1
	HeaderSize        = 25
	PayloadHeaderSize = 2
	JoinPayloadSize   = 16
	MaxPayloadSize    = math.MaxUint16 - PayloadHeaderSize
)

// Header はメッセージヘッダー (25バイト)
//
//	version    u8      (1)
//	sessionID  [16]byte (16)
//	seq        u16     (2)
//	length     u16     (2)  - ペイロードヘッダーを含むペイロード長
//	timestamp  u32     (4)
type Header struct {
	Version   uint8
	SessionID [16]byte
	Seq       uint16
	Length    uint16
	Timestamp uint32
}

// DataType はメッセージの種別
type DataType uint8

const (
	DataTypeSnapshot DataType = 1 // サーバー → 観戦者: ターンごとのスナップショット
	DataTypeTurn     DataType = 2 // サーバー → ロボットホスト: ターン開始
	DataTypeCommand  DataType = 3 // ロボットホスト → サーバー: 命令一式
	DataTypeControl  DataType = 4
	DataTypeResults  DataType = 5 // サーバー → 観戦者: 最終結果
)

func (d DataType) String() string {
	switch d {
	case DataTypeSnapshot:
		return "snapshot"
	case DataTypeTurn:
		return "turn"
	case DataTypeCommand:
		return "command"
	case DataTypeControl:
		return "control"
	case DataTypeResults:
		return "results"
	default:
		return fmt.Sprintf("datatype(%d)", uint8(d))
	}
}

// ControlSubType はcontrolメッセージのサブタイプ
type ControlSubType uint8

const (
	ControlSubTypeJoin   ControlSubType = 1
	ControlSubTypeLeave  ControlSubType = 2
	ControlSubTypeKick   ControlSubType = 3
	ControlSubTypePing   ControlSubType = 4
	ControlSubTypePong   ControlSubType = 5
	ControlSubTypeError  ControlSubType = 6
	ControlSubTypeAssign ControlSubType = 7
	ControlSubTypePause  ControlSubType = 8
	ControlSubTypeResume ControlSubType = 9
	ControlSubTypeStop   ControlSubType = 10
)

// PayloadHeader はペイロードヘッダー (2バイト)
//
//	datatype  u8 (1)
//	subtype   u8 (1)
type PayloadHeader struct {
	DataType DataType
	SubType  uint8
}

var (
	ErrInvalidHeaderSize  = errors.New("invalid header size")
	ErrInvalidPayloadSize = errors.New("invalid payload size")
	ErrPayloadTooLarge    = errors.New("payload too large")
)

// ParseHeader はバイト列からHeaderをパースする
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, ErrInvalidHeaderSize
	}

	var sessionID [16]byte
	copy(sessionID[:], data[1:17])

	return &Header{
		Version:   data[0],
		SessionID: sessionID,
		Seq:       byteOrder.Uint16(data[17:19]),
		Length:    byteOrder.Uint16(data[19:21]),
		Timestamp: byteOrder.Uint32(data[21:25]),
	}, nil
}

// Encode はHeaderをバイト列にエンコードする
func (h *Header) Encode() []byte {
	data := make([]byte, HeaderSize)
	data[0] = h.Version
	copy(data[1:17], h.SessionID[:])
	byteOrder.PutUint16(data[17:19], h.Seq)
	byteOrder.PutUint16(data[19:21], h.Length)
	byteOrder.PutUint32(data[21:25], h.Timestamp)
	return data
}

// ParsePayloadHeader はバイト列からPayloadHeaderをパースする
func ParsePayloadHeader(data []byte) (*PayloadHeader, error) {
	if len(data) < PayloadHeaderSize {
		return nil, ErrInvalidPayloadSize
	}

	return &PayloadHeader{
		DataType: DataType(data[0]),
		SubType:  data[1],
	}, nil
}

// Encode はPayloadHeaderをバイト列にエンコードする
func (p *PayloadHeader) Encode() []byte {
	return []byte{byte(p.DataType), p.SubType}
}

// Frame はヘッダーを外したメッセージ1通です。
type Frame struct {
	Header        Header
	PayloadHeader PayloadHeader
	Payload       []byte
}

// ParseFrame はメッセージ全体をヘッダーとペイロードに分解します。
// Length とペイロードの実サイズが食い違うときはエラーです。
func ParseFrame(data []byte) (*Frame, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	body := data[HeaderSize:]
	if int(h.Length) != len(body) {
		return nil, fmt.Errorf("%w: length %d, got %d", ErrInvalidPayloadSize, h.Length, len(body))
	}
	ph, err := ParsePayloadHeader(body)
	if err != nil {
		return nil, err
	}
	return &Frame{Header: *h, PayloadHeader: *ph, Payload: body[PayloadHeaderSize:]}, nil
}

// EncodeMessage はヘッダー、ペイロードヘッダー、ペイロードを1通のメッセージにまとめる
func EncodeMessage(sessionID SessionID, dataType DataType, subType uint8, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	header := Header{
		Version:   ProtocolVersion,
		SessionID: sessionID.Bytes(),
		Length:    uint16(PayloadHeaderSize + len(payload)),
		Timestamp: uint32(time.Now().UnixMilli() & 0xFFFFFFFF),
	}
	payloadHeader := PayloadHeader{DataType: dataType, SubType: subType}

	data := make([]byte, 0, HeaderSize+PayloadHeaderSize+len(payload))
	data = append(data, header.Encode()...)
	data = append(data, payloadHeader.Encode()...)
	data = append(data, payload...)
	return data, nil
}

// encodeControl はペイロードを持たない control メッセージをエンコードする
func encodeControl(sessionID SessionID, sub ControlSubType) []byte {
	data, _ := EncodeMessage(sessionID, DataTypeControl, uint8(sub), nil)
	return data
}

// EncodeAssignMessage はセッションID通知メッセージをエンコードする
// クライアントに自分のセッションIDを通知するために使用
func EncodeAssignMessage(sessionID SessionID) []byte {
	return encodeControl(sessionID, ControlSubTypeAssign)
}

// EncodeLeaveMessage はルーム離脱メッセージをエンコードする
// 異常切断時にclose()からRoom離脱を通知するために使用
func EncodeLeaveMessage(sessionID SessionID) []byte {
	return encodeControl(sessionID, ControlSubTypeLeave)
}

// EncodePingMessage はPingメッセージをエンコードする
func EncodePingMessage(sessionID SessionID) []byte {
	return encodeControl(sessionID, ControlSubTypePing)
}

func EncodePongMessage(sessionID SessionID) []byte {
	return encodeControl(sessionID, ControlSubTypePong)
}

// EncodeJoinMessage はルーム参加メッセージをエンコードする
func EncodeJoinMessage(sessionID SessionID, roomID RoomID) []byte {
	p := JoinPayload{RoomID: roomID}
	data, _ := EncodeMessage(sessionID, DataTypeControl, uint8(ControlSubTypeJoin), p.Encode())
	return data
}

// EncodeErrorMessage はエラー通知をエンコードする。reason は切り詰めて載せる
func EncodeErrorMessage(sessionID SessionID, reason string) []byte {
	if len(reason) > 1024 {
		reason = reason[:1024]
	}
	data, _ := EncodeMessage(sessionID, DataTypeControl, uint8(ControlSubTypeError), []byte(reason))
	return data
}

// JoinPayload はルーム参加メッセージのペイロード (16バイト)
//
//	roomID  [16]byte  - ルームID (UUID)
type JoinPayload struct {
	RoomID RoomID
}

var ErrInvalidJoinPayloadSize = errors.New("invalid join payload size")

// ParseJoinPayload はバイト列からJoinPayloadをパースする
func ParseJoinPayload(data []byte) (*JoinPayload, error) {
	if len(data) < JoinPayloadSize {
		return nil, ErrInvalidJoinPayloadSize
	}

	var roomID RoomID
	copy(roomID[:], data[:JoinPayloadSize])

	return &JoinPayload{
		RoomID: roomID,
	}, nil
}

// Encode はJoinPayloadをバイト列にエンコードする
func (j *JoinPayload) Encode() []byte {
	return j.RoomID[:]
}
