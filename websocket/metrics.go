package websocket

import (
	"context"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/websocket"
)

const (
	errTypeLabel        = "error_type"
	msgTypeLabel        = "msg_type"
	outcomeLabel        = "outcome"
	publicEndpointLabel = "public_endpoint"

	outcomeResult = "result"
	outcomeError  = "error"
)

var (
	streamClients = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stream_clients",
		Help: "The number of clients streaming images.",
	}, []string{publicEndpointLabel})

	streamFrameBytes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stream_frame_bytes",
		Help:    "The size of the encoded images received as frames.",
		Buckets: prometheus.ExponentialBuckets(1<<10, 4, 8),
	}, []string{publicEndpointLabel})

	streamFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_frames",
		Help: "The number of frames answered, by outcome and error type.",
	}, []string{publicEndpointLabel, outcomeLabel, errTypeLabel})

	streamFrameLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "stream_frame_latency",
		Help: "The time to answer a streamed message.",
	}, []string{publicEndpointLabel, msgTypeLabel})

	streamReceiveErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_receive_errors",
		Help: "The errors that occured while receiving a streamed message.",
	}, []string{publicEndpointLabel, errTypeLabel})

	streamSentBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_sent_bytes",
		Help: "The number of bytes sent to streaming clients.",
	}, []string{publicEndpointLabel, msgTypeLabel})

	streamSendErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_send_errors",
		Help: "The errors that occured while sending a streamed message.",
	}, []string{publicEndpointLabel, msgTypeLabel, errTypeLabel})
)

// HandlerWithMetrics decorates a handler with streaming metrics.
func HandlerWithMetrics(h Handler, publicEndpoint string) Handler {
	return &handlerWithMetrics{
		Handler:        h,
		publicEndpoint: publicEndpoint,
	}
}

type handlerWithMetrics struct {
	Handler

	publicEndpoint string
}

func (h *handlerWithMetrics) HandleConnect(conn *websocket.Conn) {
	streamClients.WithLabelValues(h.publicEndpoint).Inc()
	h.Handler.HandleConnect(conn)
}

func (h *handlerWithMetrics) HandleDisconnect(err error) {
	streamClients.WithLabelValues(h.publicEndpoint).Dec()
	h.Handler.HandleDisconnect(err)
}

func (h *handlerWithMetrics) HandleConfig(ctx context.Context, respond ResponseSender, msg Msg) error {
	return h.measureLatency(msg, func() error {
		return h.Handler.HandleConfig(ctx, respond, msg)
	})
}

func (h *handlerWithMetrics) HandleImage(ctx context.Context, respond ResponseSender, msg Msg) error {
	streamFrameBytes.WithLabelValues(h.publicEndpoint).Observe(float64(len(msg.Data)))

	return h.measureLatency(msg, func() error {
		return h.Handler.HandleImage(ctx, respond, msg)
	})
}

func (h *handlerWithMetrics) HandlePing(ctx context.Context, respond ResponseSender, msg Msg) error {
	return h.measureLatency(msg, func() error {
		return h.Handler.HandlePing(ctx, respond, msg)
	})
}

func (h *handlerWithMetrics) Receiver() Receiver {
	receive := h.Handler.Receiver()

	return func() (Msg, int, error) {
		msg, n, err := receive()
		if err != nil {
			streamReceiveErrors.
				WithLabelValues(h.publicEndpoint, errors.Type(err)).
				Inc()
		}
		return msg, n, err
	}
}

func (h *handlerWithMetrics) Sender() Sender {
	send := h.Handler.Sender()

	return func(msg Msg) (int, error) {
		h.countFrame(msg)

		n, err := send(msg)
		if err != nil {
			streamSendErrors.
				WithLabelValues(h.publicEndpoint, msg.TypeString(), errors.Type(err)).
				Inc()
		}
		if n != 0 {
			streamSentBytes.
				WithLabelValues(h.publicEndpoint, msg.TypeString()).
				Add(float64(n))
		}
		return n, err
	}
}

// countFrame records the outcome of answered frames. Frames are counted
// before being written so a client reading the answer observes the update.
func (h *handlerWithMetrics) countFrame(msg Msg) {
	switch msg.Type {
	case MsgTypeResult:
		streamFrames.
			WithLabelValues(h.publicEndpoint, outcomeResult, "").
			Inc()

	case MsgTypeError:
		var res ErrorResponse
		if err := msg.DataTo(&res); err != nil {
			res.ErrorType = errors.Type(err)
		}
		streamFrames.
			WithLabelValues(h.publicEndpoint, outcomeError, res.ErrorType).
			Inc()
	}
}

func (h *handlerWithMetrics) measureLatency(msg Msg, f func() error) error {
	start := time.Now()
	err := f()

	streamFrameLatency.
		WithLabelValues(h.publicEndpoint, msg.TypeString()).
		Observe(time.Since(start).Seconds())
	return err
}
