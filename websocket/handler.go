package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"golang.org/x/net/websocket"
)

const (
	sendChanSize    = 64
	receiveChanSize = 8
)

// Handler represents a streaming segmentation handler.
type Handler interface {
	// Handles a client connection.
	HandleConnect(conn *websocket.Conn)

	// Handles a request to change the segmentation options.
	HandleConfig(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles an image to segment.
	HandleImage(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles a ping request.
	HandlePing(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles a client's disconnection.
	HandleDisconnect(error)

	// Creates a message receiver used to receive incoming messages.
	Receiver() Receiver

	// Creates a message sender used to send queued messages.
	Sender() Sender

	// Closes the handler and releases its allocated resources.
	Close()

	// The time a client is idle before being disconnected.
	IdleTimeout() time.Duration

	// Get ClientID
	GetClientID() string
}

// Handle handles the given connection until it is closed or ctx is done.
func Handle(ctx context.Context, conn *websocket.Conn, h Handler) {
	handler := handler{
		Conn:    conn,
		Handler: h,
	}

	handler.Handle(ctx)
}

type handler struct {
	// The WebSocket connection.
	Conn *websocket.Conn

	// The segmentation handler.
	Handler Handler

	sendChan       chan Msg
	receiveChan    chan Msg
	sender         Sender
	receiver       Receiver
	disconnectChan chan error
}

func (h *handler) Handle(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.Handler.HandleConnect(h.Conn)

	h.disconnectChan = make(chan error, 8)
	defer func() {
		for len(h.disconnectChan) != 0 {
			<-h.disconnectChan
		}
	}()

	var wg sync.WaitGroup

	h.sendChan = make(chan Msg, sendChanSize)
	h.sender = h.Handler.Sender()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startSending(ctx)
	}()

	h.receiveChan = make(chan Msg, receiveChanSize)
	h.receiver = h.Handler.Receiver()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startReceiving(ctx)
	}()

	idleTimeout := h.Handler.IdleTimeout()
	idleTimer := time.NewTimer(idleTimeout)
	defer idleTimer.Stop()

	responder := responseSender{send: h.send}

	for ctx.Err() == nil {
		select {
		case <-ctx.Done():
			h.handleDisconnect(ctx.Err())

		case <-idleTimer.C:
			h.disconnect(errors.New("idle connection").WithTag("duration", idleTimeout))

		case msg := <-h.receiveChan:
			idleTimer.Stop()
			idleTimer.Reset(idleTimeout)

			if err := h.handleMessage(ctx, msg, responder); err != nil {
				h.disconnect(errors.New("handling message failed").Wrap(err))
			}

		case err := <-h.disconnectChan:
			h.handleDisconnect(err)
			if ctx.Err() == nil {
				// cancel context so go routines can cleanly exit
				cancel()
			}
		}
	}

	wg.Wait()
}

func (h *handler) send(msg Msg) {
	select {
	case h.sendChan <- msg:
	default:
		logs.WithTag(logs.ClientIDTag, h.Handler.GetClientID()).
			WithTag("msg_type", msg.Type).
			Warn("send queue is full, message dropped")
	}
}

func (h *handler) startSending(ctx context.Context) {
	defer func() {
		for len(h.sendChan) != 0 {
			<-h.sendChan
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-h.sendChan:
			if _, err := h.sender(msg); err != nil {
				h.disconnect(errors.New("sending message failed").Wrap(err))
				return
			}
		}
	}
}

func (h *handler) startReceiving(ctx context.Context) {
	for {
		msg, _, err := h.receiver()
		if errors.IsType(err, ErrTypeMsgDecode) {
			h.send(newErrorMsg(0, err))
			continue
		}
		if err != nil {
			h.disconnect(errors.New("receiving message failed").Wrap(err))
			return
		}

		select {
		case <-ctx.Done():
			return
		case h.receiveChan <- msg:
		}
	}
}

func (h *handler) handleMessage(ctx context.Context, msg Msg, responder ResponseSender) error {
	switch msg.Type {
	case MsgTypeImage:
		return h.Handler.HandleImage(ctx, responder, msg)

	case MsgTypeConfig:
		return h.Handler.HandleConfig(ctx, responder, msg)

	case MsgTypePing:
		return h.Handler.HandlePing(ctx, responder, msg)

	default:
		responder.Send(newErrorMsg(0, errors.New("unsupported message type").
			WithType(ErrTypeMsgUnsupported).
			WithTag("msg_type", msg.Type)))
		return nil
	}
}

func (h *handler) disconnect(err error) {
	select {
	case h.disconnectChan <- err:
	default:
	}
}

func (h *handler) handleDisconnect(err error) {
	h.Conn.Close()
	h.Handler.HandleDisconnect(err)
}

type responseSender struct {
	send func(Msg)
}

func (r responseSender) Send(msg Msg) {
	r.send(msg)
}
