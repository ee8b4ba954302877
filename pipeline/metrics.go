package pipeline

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/quadseg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	errTypeLabel = "error_type"
	linkedLabel  = "linked"
)

var (
	segmentationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segmentation_total",
		Help: "The number of completed segmentations.",
	}, []string{
		linkedLabel,
	})

	segmentationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segmentation_errors",
		Help: "The errors that occured while segmenting an image.",
	}, []string{
		errTypeLabel,
	})

	segmentationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "segmentation_latency",
		Help: "The time to segment an image.",
	})

	segmentationLeaves = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "segmentation_leaves",
		Help:    "The number of leaves of a segmentation.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 12),
	})

	segmentationInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "segmentation_in_flight",
		Help: "The number of segmentations currently running.",
	})
)

func instrumentSegmentation(start time.Time, seg *models.Segmentation) {
	linked := "false"
	if seg.Components > 0 {
		linked = "true"
	}

	segmentationTotal.
		With(prometheus.Labels{linkedLabel: linked}).
		Inc()
	segmentationLatency.Observe(time.Since(start).Seconds())
	segmentationLeaves.Observe(float64(seg.LeafCount))
}

func instrumentError(err error) {
	segmentationErrors.
		With(prometheus.Labels{
			errTypeLabel: errors.Type(err),
		}).
		Inc()
}

func instrumentInFlight(delta float64) {
	segmentationInFlight.Add(delta)
}
