package render

import "math"

// DefaultHistogramBins is the bin count used when a request does not set
// one.
const DefaultHistogramBins = 256

// Histogram holds per-bin counts over the rescaled intensity domain plus
// the observed range the bin edges span.
type Histogram struct {
	Bins []uint64 `json:"bins"`
	Min  float64  `json:"min"`
	Max  float64  `json:"max"`
}

// ComputeHistogram bins the rescaled sample values (post slope/intercept,
// pre-window) linearly over their observed min/max. With frame nil the
// counts aggregate every frame; otherwise only the selected frame
// contributes.
func ComputeHistogram(payload []byte, desc *PixelDescriptor, bins int, frame *int) (*Histogram, error) {
	if bins <= 0 {
		bins = DefaultHistogramBins
	}
	if err := desc.validate(len(payload)); err != nil {
		return nil, err
	}
	indices, err := frameIndices(desc, frame)
	if err != nil {
		return nil, err
	}

	size := desc.FrameSize()
	var values []float64
	for _, idx := range indices {
		samples := decodeSamples(payload[idx*size:(idx+1)*size], desc)
		for _, v := range samples {
			values = append(values, v*desc.RescaleSlope+desc.RescaleIntercept)
		}
	}

	hist := &Histogram{Bins: make([]uint64, bins)}
	if len(values) == 0 {
		return hist, nil
	}

	hist.Min, hist.Max = math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if v < hist.Min {
			hist.Min = v
		}
		if v > hist.Max {
			hist.Max = v
		}
	}

	span := hist.Max - hist.Min
	for _, v := range values {
		idx := 0
		if span > 0 {
			idx = int((v - hist.Min) / span * float64(bins))
			if idx >= bins {
				idx = bins - 1
			}
		}
		hist.Bins[idx]++
	}
	return hist, nil
}
