package websocket

import (
	"testing"

	"github.com/aukilabs/quadseg/grid"
	"github.com/aukilabs/quadseg/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func histogramCount(t *testing.T, o prometheus.Observer) uint64 {
	var m dto.Metric
	require.NoError(t, o.(prometheus.Metric).Write(&m))
	return m.GetHistogram().GetSampleCount()
}

func TestHandlerWithMetricsFrames(t *testing.T) {
	results := streamFrames.WithLabelValues(testPublicEndpoint, outcomeResult, "")
	decodeErrors := streamFrames.WithLabelValues(testPublicEndpoint, outcomeError, grid.ErrTypeDecode)
	frameBytes := streamFrameBytes.WithLabelValues(testPublicEndpoint)

	resultsBefore := counterValue(t, results)
	decodeErrorsBefore := counterValue(t, decodeErrors)
	frameBytesBefore := histogramCount(t, frameBytes)

	conn, close := NewTestingEnv(t, newTestHandler(nil, &pipeline.Segmenter{}))
	defer close()

	require.NoError(t, websocket.Message.Send(conn, scenarioAPNG(t)))
	require.Equal(t, MsgTypeResult, receive(t, conn, nil))

	require.NoError(t, websocket.Message.Send(conn, []byte("not an image")))
	require.Equal(t, MsgTypeError, receive(t, conn, nil))

	require.Equal(t, resultsBefore+1, counterValue(t, results))
	require.Equal(t, decodeErrorsBefore+1, counterValue(t, decodeErrors))
	require.Equal(t, frameBytesBefore+2, histogramCount(t, frameBytes))
}
