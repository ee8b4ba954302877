package models

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Stats summarizes the leaves of a segmentation.
type Stats struct {
	// The area weighted mean intensity of the leaves.
	MeanIntensity float64 `json:"mean_intensity"`

	// The area weighted standard deviation of the leaf intensities.
	IntensityStdDev float64 `json:"intensity_std_dev"`

	MeanLeafSize   float64 `json:"mean_leaf_size"`
	MedianLeafSize float64 `json:"median_leaf_size"`
	MaxLeafSize    int     `json:"max_leaf_size"`
}

func NewStats(leaves []Leaf) Stats {
	if len(leaves) == 0 {
		return Stats{}
	}

	averages := make([]float64, len(leaves))
	weights := make([]float64, len(leaves))
	sizes := make([]float64, len(leaves))

	var s Stats
	for i, l := range leaves {
		averages[i] = float64(l.Average)
		weights[i] = float64(l.Area())
		sizes[i] = float64(l.Size)

		if l.Size > s.MaxLeafSize {
			s.MaxLeafSize = l.Size
		}
	}

	s.MeanIntensity, s.IntensityStdDev = stat.MeanStdDev(averages, weights)
	if len(leaves) == 1 {
		s.IntensityStdDev = 0
	}

	sort.Float64s(sizes)
	s.MeanLeafSize = stat.Mean(sizes, nil)
	s.MedianLeafSize = stat.Quantile(0.5, stat.Empirical, sizes, nil)
	return s
}
