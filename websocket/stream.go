package websocket

import (
	"bytes"
	"context"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/quadseg/models"
	"github.com/aukilabs/quadseg/pipeline"
	"github.com/google/uuid"
	"golang.org/x/net/websocket"
)

const (
	// HeaderClientID is the request header carrying a client chosen id.
	HeaderClientID = "X-Client-ID"

	DefaultIdleTimeout = 5 * time.Minute
)

// ConfigRequest changes the options applied to the following images. Omitted
// fields keep their current value.
type ConfigRequest struct {
	Type          MsgType  `json:"type"`
	RequestID     uint32   `json:"request_id,omitempty"`
	Threshold     *float64 `json:"threshold,omitempty"`
	LinkTolerance *int     `json:"link,omitempty"`
	Fit           *bool    `json:"fit,omitempty"`
	DisplaySize   *int     `json:"display,omitempty"`
}

// ConfigResponse acknowledges a config request with the options now in use.
type ConfigResponse struct {
	Type          MsgType `json:"type"`
	RequestID     uint32  `json:"request_id,omitempty"`
	Threshold     float64 `json:"threshold"`
	LinkTolerance int     `json:"link"`
	Fit           bool    `json:"fit"`
	DisplaySize   int     `json:"display"`
}

type PingRequest struct {
	Type      MsgType `json:"type"`
	RequestID uint32  `json:"request_id,omitempty"`
}

type PongResponse struct {
	Type      MsgType   `json:"type"`
	RequestID uint32    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ResultResponse carries the segmentation of an image frame.
type ResultResponse struct {
	Type         MsgType              `json:"type"`
	Frame        uint32               `json:"frame"`
	Segmentation *models.Segmentation `json:"segmentation"`
	Leaves       []models.Leaf        `json:"leaves"`
}

type ErrorResponse struct {
	Type      MsgType `json:"type"`
	Frame     uint32  `json:"frame,omitempty"`
	ErrorType string  `json:"error_type,omitempty"`
	Error     string  `json:"error"`
}

func newErrorMsg(frame uint32, err error) Msg {
	msg, _ := MsgFromJSON(MsgTypeError, ErrorResponse{
		Type:      MsgTypeError,
		Frame:     frame,
		ErrorType: errors.Type(err),
		Error:     err.Error(),
	})
	return msg
}

// StreamHandler segments the images streamed by a client, one at a time and
// in order of arrival.
type StreamHandler struct {
	Segmenter *pipeline.Segmenter

	// The store where results are kept so they can be fetched over HTTP.
	// Results are not stored when nil.
	Store *models.SegmentationStore

	// The options used until the client sends a config message.
	Options pipeline.Options

	// The time a client is idle before being disconnected.
	ClientIdleTimeout time.Duration

	// The maximum size of a received frame. Zero keeps the library
	// default.
	MaxFrameSize int

	conn     *websocket.Conn
	clientID string
	opts     pipeline.Options
	frames   uint32
}

func (h *StreamHandler) HandleConnect(conn *websocket.Conn) {
	h.conn = conn
	h.opts = h.Options

	if h.MaxFrameSize > 0 {
		conn.MaxPayloadBytes = h.MaxFrameSize
	}

	if req := conn.Request(); req != nil {
		h.clientID = req.Header.Get(HeaderClientID)
	}
	if h.clientID == "" {
		h.clientID = uuid.NewString()
	}
}

func (h *StreamHandler) HandleConfig(ctx context.Context, respond ResponseSender, msg Msg) error {
	var req ConfigRequest
	if err := msg.DataTo(&req); err != nil {
		respond.Send(newErrorMsg(0, err))
		return nil
	}

	opts := h.opts
	if req.Threshold != nil {
		opts.Threshold = *req.Threshold
	}
	if req.LinkTolerance != nil {
		opts.LinkTolerance = *req.LinkTolerance
	}
	if req.Fit != nil {
		opts.Fit = *req.Fit
	}
	if req.DisplaySize != nil {
		opts.DisplaySize = *req.DisplaySize
	}

	if err := opts.Validate(); err != nil {
		respond.Send(newErrorMsg(0, err))
		return nil
	}
	h.opts = opts

	res, err := MsgFromJSON(MsgTypeConfig, ConfigResponse{
		Type:          MsgTypeConfig,
		RequestID:     req.RequestID,
		Threshold:     opts.Threshold,
		LinkTolerance: opts.LinkTolerance,
		Fit:           opts.Fit,
		DisplaySize:   opts.DisplaySize,
	})
	if err != nil {
		return err
	}
	respond.Send(res)
	return nil
}

func (h *StreamHandler) HandleImage(ctx context.Context, respond ResponseSender, msg Msg) error {
	h.frames++
	frame := h.frames

	seg, err := h.Segmenter.SegmentImage(ctx, bytes.NewReader(msg.Data), h.opts)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		respond.Send(newErrorMsg(frame, err))
		return nil
	}

	if h.Store != nil {
		h.Store.Add(seg)
	}

	res, err := MsgFromJSON(MsgTypeResult, ResultResponse{
		Type:         MsgTypeResult,
		Frame:        frame,
		Segmentation: seg,
		Leaves:       seg.Leaves,
	})
	if err != nil {
		return err
	}
	respond.Send(res)
	return nil
}

func (h *StreamHandler) HandlePing(ctx context.Context, respond ResponseSender, msg Msg) error {
	var req PingRequest
	if err := msg.DataTo(&req); err != nil {
		respond.Send(newErrorMsg(0, err))
		return nil
	}

	res, err := MsgFromJSON(MsgTypePong, PongResponse{
		Type:      MsgTypePong,
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	respond.Send(res)
	return nil
}

func (h *StreamHandler) HandleDisconnect(_ error) {
}

func (h *StreamHandler) Receiver() Receiver {
	return newReceiver(h.conn)
}

func (h *StreamHandler) Sender() Sender {
	return newSender(h.conn)
}

func (h *StreamHandler) Close() {
}

func (h *StreamHandler) IdleTimeout() time.Duration {
	if h.ClientIdleTimeout <= 0 {
		return DefaultIdleTimeout
	}
	return h.ClientIdleTimeout
}

func (h *StreamHandler) GetClientID() string {
	return h.clientID
}

// Frames returns the number of images received.
func (h *StreamHandler) Frames() uint32 {
	return h.frames
}
