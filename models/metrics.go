package models

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	segmentationStoreCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "segmentation_store_count",
		Help: "The number of stored segmentations.",
	})

	segmentationStoreTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "segmentation_store_total",
		Help: "The total number of stored segmentations.",
	})

	segmentationStoreEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "segmentation_store_evictions",
		Help: "The number of segmentations evicted to make room for new ones.",
	})
)

func instrumentIncreaseStoreGauge() {
	segmentationStoreCount.Inc()
}

func instrumentDecreaseStoreGauge() {
	segmentationStoreCount.Dec()
}

func instrumentCountSegmentation() {
	segmentationStoreTotal.Inc()
}

func instrumentEviction() {
	segmentationStoreEvictions.Inc()
}
