package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/quadseg/models"
	"github.com/aukilabs/quadseg/pipeline"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

const testPublicEndpoint = "https://quadseg-test.com"

// NewTestingEnv starts a streaming server and connects a client to it.
func NewTestingEnv(t *testing.T, newHandler func() Handler) (*websocket.Conn, func()) {
	var mutex sync.Mutex
	logger := t.Log

	logs.Encoder = func(v any) ([]byte, error) {
		return json.MarshalIndent(v, "", "  ")
	}

	logs.SetLogger(func(e logs.Entry) {
		mutex.Lock()
		defer mutex.Unlock()

		if logger != nil {
			logger(e)
		}
	})

	errors.Encoder = json.Marshal

	client, close := newTestingEnv(t, newHandler)
	return client, func() {
		mutex.Lock()
		defer mutex.Unlock()
		logger = nil
		close()
	}
}

func newTestingEnv(t *testing.T, newHandler func() Handler) (*websocket.Conn, func()) {
	server := httptest.NewServer(websocket.Server{
		Handshake: func(c *websocket.Config, r *http.Request) error {
			return nil
		},
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			handler := newHandler()
			defer handler.Close()

			Handle(context.Background(), conn, handler)
		},
	})

	config, err := websocket.NewConfig(
		strings.ReplaceAll(server.URL, "http://", "ws://"),
		"http://localhost",
	)
	if err != nil {
		t.Fatalf("error initializing web socket: %s", err)
	}

	config.Header.Set("User-Agent", "ted")
	config.Header.Set("X-Forwarded-for", "192.0.0.0")
	config.Header.Set(HeaderClientID, uuid.NewString())

	client, err := websocket.DialConfig(config)
	if err != nil {
		t.Fatalf("error dialing web socket: %s", err)
	}

	return client, func() {
		client.Close()
		server.Close()
	}
}

func newTestHandler(store *models.SegmentationStore, segmenter *pipeline.Segmenter) func() Handler {
	return func() Handler {
		var h Handler = &StreamHandler{
			Segmenter:         segmenter,
			Store:             store,
			Options:           pipeline.DefaultOptions(),
			ClientIdleTimeout: time.Minute,
		}

		h = HandlerWithLogs(h, time.Millisecond*100)
		h = HandlerWithMetrics(h, testPublicEndpoint)
		return h
	}
}
