package render

import (
	"math"
	"sort"
)

// Statistics aggregates the rescaled sample values of a payload.
type Statistics struct {
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	Mean        float64 `json:"mean"`
	Median      float64 `json:"median"`
	StdDev      float64 `json:"std_dev"`
	TotalPixels int     `json:"total_pixels"`
	Frames      int     `json:"frames"`
}

// ComputeStatistics summarizes the rescaled intensities across all frames.
func ComputeStatistics(payload []byte, desc *PixelDescriptor) (*Statistics, error) {
	if err := desc.validate(len(payload)); err != nil {
		return nil, err
	}

	values := decodeSamples(payload, desc)
	for i, v := range values {
		values[i] = v*desc.RescaleSlope + desc.RescaleIntercept
	}

	stats := &Statistics{TotalPixels: len(values), Frames: desc.Frames}
	if len(values) == 0 {
		return stats, nil
	}

	stats.Min, stats.Max = math.Inf(1), math.Inf(-1)
	var sum float64
	for _, v := range values {
		if v < stats.Min {
			stats.Min = v
		}
		if v > stats.Max {
			stats.Max = v
		}
		sum += v
	}
	stats.Mean = sum / float64(len(values))

	var varianceSum float64
	for _, v := range values {
		diff := v - stats.Mean
		varianceSum += diff * diff
	}
	stats.StdDev = math.Sqrt(varianceSum / float64(len(values)))

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		stats.Median = (sorted[mid-1] + sorted[mid]) / 2
	} else {
		stats.Median = sorted[mid]
	}
	return stats, nil
}
