package websocket

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

const (
	ErrTypeMsgDecode      = "msg-decode-failed"
	ErrTypeMsgUnsupported = "msg-unsupported"
)

// MsgType identifies the content of a message.
type MsgType string

const (
	// An encoded image, sent by clients as a binary frame.
	MsgTypeImage MsgType = "image"

	// Segmentation options for the following images.
	MsgTypeConfig MsgType = "config"

	MsgTypePing MsgType = "ping"
	MsgTypePong MsgType = "pong"

	// The segmentation of an image.
	MsgTypeResult MsgType = "result"

	// A failed request. The connection stays open.
	MsgTypeError MsgType = "error"
)

// Msg is a message exchanged with a client. Images are carried as binary
// frames, everything else as JSON text frames.
type Msg struct {
	Type MsgType
	Data []byte
}

func (m Msg) TypeString() string {
	return string(m.Type)
}

// DataTo decodes the JSON data of a text message.
func (m Msg) DataTo(v any) error {
	if err := json.Unmarshal(m.Data, v); err != nil {
		return errors.New("decoding message failed").
			WithType(ErrTypeMsgDecode).
			WithTag("msg_type", m.Type).
			Wrap(err)
	}
	return nil
}

// MsgFromJSON encodes a JSON message. The encoded value is expected to carry
// its own type field.
func MsgFromJSON(t MsgType, v any) (Msg, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Msg{}, errors.New("encoding message failed").
			WithTag("msg_type", t).
			Wrap(err)
	}
	return Msg{Type: t, Data: b}, nil
}

type header struct {
	Type MsgType `json:"type"`
}

var msgCodec = websocket.Codec{
	Marshal: func(v any) ([]byte, byte, error) {
		msg, ok := v.(Msg)
		if !ok {
			return nil, 0, errors.New("not a message").
				WithType(ErrTypeMsgUnsupported)
		}
		if msg.Type == MsgTypeImage {
			return msg.Data, websocket.BinaryFrame, nil
		}
		return msg.Data, websocket.TextFrame, nil
	},

	Unmarshal: func(data []byte, payloadType byte, v any) error {
		msg := v.(*Msg)

		if payloadType == websocket.BinaryFrame {
			msg.Type = MsgTypeImage
			msg.Data = data
			return nil
		}

		var h header
		if err := json.Unmarshal(data, &h); err != nil {
			return errors.New("decoding message header failed").
				WithType(ErrTypeMsgDecode).
				Wrap(err)
		}
		if h.Type == "" {
			return errors.New("message has no type").
				WithType(ErrTypeMsgDecode)
		}

		msg.Type = h.Type
		msg.Data = data
		return nil
	},
}

// Receiver reads the next message and returns the number of received bytes.
type Receiver func() (Msg, int, error)

// Sender writes a message and returns the number of sent bytes.
type Sender func(Msg) (int, error)

// ResponseSender queues messages for a connected client.
type ResponseSender interface {
	Send(Msg)
}

func newReceiver(conn *websocket.Conn) Receiver {
	return func() (Msg, int, error) {
		var msg Msg
		if err := msgCodec.Receive(conn, &msg); err != nil {
			return msg, len(msg.Data), err
		}
		return msg, len(msg.Data), nil
	}
}

func newSender(conn *websocket.Conn) Sender {
	return func(msg Msg) (int, error) {
		if err := msgCodec.Send(conn, msg); err != nil {
			return 0, err
		}
		return len(msg.Data), nil
	}
}
