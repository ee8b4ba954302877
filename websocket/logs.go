package websocket

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"golang.org/x/net/websocket"
)

func HandlerWithLogs(h Handler, summaryInterval time.Duration) Handler {
	ctx, cancel := context.WithCancel(context.Background())

	handler := &handlerWithLogs{
		Handler:            h,
		summaryInterval:    summaryInterval,
		closeSummaryWorker: cancel,
		counter:            make(map[string]int),
	}

	go handler.startSummaryWorker(ctx)
	return handler
}

type handlerWithLogs struct {
	Handler

	summaryInterval    time.Duration
	closeSummaryWorker func()
	counterMutex       sync.Mutex
	counter            map[string]int
}

func (h *handlerWithLogs) HandleConnect(conn *websocket.Conn) {
	h.Handler.HandleConnect(conn)

	entry := logs.WithTag(logs.ClientIDTag, h.GetClientID())
	if req := conn.Request(); req != nil {
		entry = entry.WithTag("http_headers", struct {
			UserAgent     string `json:"user_agent,omitempty"`
			XForwardedFor string `json:"x_forwarded_for,omitempty"`
		}{
			UserAgent:     req.UserAgent(),
			XForwardedFor: req.Header.Get("X-Forwarded-For"),
		})
	}
	entry.Info("new client is connected")
}

func (h *handlerWithLogs) HandleImage(ctx context.Context, respond ResponseSender, msg Msg) error {
	start := time.Now()
	err := h.Handler.HandleImage(ctx, respond, msg)

	logs.WithTag(logs.ClientIDTag, h.GetClientID()).
		WithTag("size", len(msg.Data)).
		WithTag("duration", time.Since(start)).
		Debug("image handled")
	return err
}

func (h *handlerWithLogs) HandleDisconnect(err error) {
	h.Handler.HandleDisconnect(err)

	entry := logs.WithTag(logs.ClientIDTag, h.GetClientID())
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
		entry = entry.WithTag("reason", err.Error())
	}
	entry.Info("client disconnected")
}

func (h *handlerWithLogs) Receiver() Receiver {
	receive := h.Handler.Receiver()

	return func() (Msg, int, error) {
		msg, n, err := receive()
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
			logs.WithTag(logs.ClientIDTag, h.GetClientID()).
				Error(errors.New("receiving message failed").Wrap(err))
		} else if err == nil {
			logs.WithTag(logs.ClientIDTag, h.GetClientID()).
				WithTag("msg_type", msg.TypeString()).
				WithTag("size", n).
				Debug("message received")
			h.incCounter(msg.TypeString())
		}
		return msg, n, err
	}
}

func (h *handlerWithLogs) Sender() Sender {
	sender := h.Handler.Sender()

	return func(msg Msg) (int, error) {
		msgType := msg.TypeString()

		n, err := sender(msg)
		if err != nil && !errors.Is(err, net.ErrClosed) {
			logs.WithTag(logs.ClientIDTag, h.GetClientID()).
				WithTag("msg_type", msgType).
				Error(errors.New("sending message failed").Wrap(err))
		} else if err == nil {
			logs.WithTag(logs.ClientIDTag, h.GetClientID()).
				WithTag("msg_type", msgType).
				Debug("message sent")
		}
		return n, err
	}
}

func (h *handlerWithLogs) Close() {
	h.Handler.Close()
	h.closeSummaryWorker()
	h.logSummary()
}

func (h *handlerWithLogs) startSummaryWorker(ctx context.Context) {
	ticker := time.NewTicker(h.summaryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			h.logSummary()
		}
	}
}

func (h *handlerWithLogs) incCounter(msgType string) {
	h.counterMutex.Lock()
	defer h.counterMutex.Unlock()

	h.counter[msgType]++
}

func (h *handlerWithLogs) logSummary() {
	h.counterMutex.Lock()
	defer h.counterMutex.Unlock()

	if len(h.counter) == 0 {
		return
	}

	entry := logs.
		WithTag(logs.ClientIDTag, h.GetClientID()).
		WithTag("time_interval", h.summaryInterval)

	for k, v := range h.counter {
		entry = entry.WithTag(k, v)
		delete(h.counter, k)
	}

	entry.Info("inbound message summary")
}
