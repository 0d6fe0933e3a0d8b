package render

import (
	"encoding/binary"
	"fmt"
	"math"
)

// RenderRequest selects the output bit depth, an optional window override
// superseding the descriptor's embedded window, and an optional frame.
type RenderRequest struct {
	// BitDepth is the output bit depth, 8 or 16.
	BitDepth int
	// Window overrides the descriptor window when non-nil.
	Window *Window
	// Frame selects a single zero-based frame; nil renders every frame.
	Frame *int
}

// Frame returns a frame selector for a single zero-based index.
func Frame(index int) *int {
	return &index
}

// RasterFrame is one rendered frame: a packed sample buffer ready for
// raster-image encoding. 16-bit samples are packed big endian, matching
// the in-memory layout of 16-bit raster images.
type RasterFrame struct {
	Index    int
	Width    int
	Height   int
	BitDepth int
	// Channels is 1 for grayscale and 3 for color output.
	Channels int
	Pixels   []byte
}

// Render extracts the requested frames from the payload and maps each
// sample through rescale and VOI windowing to the requested bit depth.
// The effective window is the request override if present, else the
// descriptor's embedded window, else a window spanning the observed
// min/max of each frame. With no frame selected, exactly descriptor.Frames
// frames are returned, each tagged with its index.
func Render(payload []byte, desc *PixelDescriptor, req RenderRequest) ([]*RasterFrame, error) {
	if req.BitDepth != 8 && req.BitDepth != 16 {
		return nil, fmt.Errorf("output bit depth must be 8 or 16, got %d", req.BitDepth)
	}
	if err := desc.validate(len(payload)); err != nil {
		return nil, err
	}

	indices, err := frameIndices(desc, req.Frame)
	if err != nil {
		return nil, err
	}

	frames := make([]*RasterFrame, 0, len(indices))
	size := desc.FrameSize()
	for _, idx := range indices {
		raw := payload[idx*size : (idx+1)*size]
		frame, err := renderFrame(raw, desc, req, idx)
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

func frameIndices(desc *PixelDescriptor, frame *int) ([]int, error) {
	if frame == nil {
		indices := make([]int, desc.Frames)
		for i := range indices {
			indices[i] = i
		}
		return indices, nil
	}
	if *frame < 0 || *frame >= desc.Frames {
		return nil, fmt.Errorf("requested frame %d but payload has %d frame(s)", *frame, desc.Frames)
	}
	return []int{*frame}, nil
}

func renderFrame(raw []byte, desc *PixelDescriptor, req RenderRequest, index int) (*RasterFrame, error) {
	samples := decodeSamples(raw, desc)

	// Rescale slope/intercept maps stored values to real-world units
	// before any windowing.
	for i, v := range samples {
		samples[i] = v*desc.RescaleSlope + desc.RescaleIntercept
	}

	outputMax := float64(255)
	if req.BitDepth == 16 {
		outputMax = 65535
	}

	channels := desc.SamplesPerPixel
	pixelCount := desc.Rows * desc.Columns
	out := make([]byte, pixelCount*channels*req.BitDepth/8)
	inverted := desc.Photometric == PhotometricMonochrome1

	for c := 0; c < channels; c++ {
		window := effectiveWindow(samples, channels, c, desc, req)
		for p := 0; p < pixelCount; p++ {
			v := applyWindow(samples[p*channels+c], window, outputMax)
			if inverted {
				v = outputMax - v
			}
			offset := (p*channels + c) * req.BitDepth / 8
			if req.BitDepth == 8 {
				out[offset] = uint8(v)
			} else {
				binary.BigEndian.PutUint16(out[offset:], uint16(v))
			}
		}
	}

	return &RasterFrame{
		Index:    index,
		Width:    desc.Columns,
		Height:   desc.Rows,
		BitDepth: req.BitDepth,
		Channels: channels,
		Pixels:   out,
	}, nil
}

// effectiveWindow resolves the window for one channel: request override,
// then descriptor window, then the observed min/max of the channel.
func effectiveWindow(samples []float64, channels, channel int, desc *PixelDescriptor, req RenderRequest) Window {
	if req.Window != nil {
		return *req.Window
	}
	if desc.Window != nil {
		return *desc.Window
	}
	min, max := math.Inf(1), math.Inf(-1)
	for i := channel; i < len(samples); i += channels {
		if samples[i] < min {
			min = samples[i]
		}
		if samples[i] > max {
			max = samples[i]
		}
	}
	if min > max {
		min, max = 0, 0
	}
	return Window{Center: (min + max + 1) / 2, Width: max - min + 1}
}

// applyWindow maps a rescaled sample through the standard linear VOI
// transform and clamps it to [0, outputMax]. A non-positive width is
// treated as width 1.
func applyWindow(v float64, w Window, outputMax float64) float64 {
	width := w.Width
	if width <= 0 {
		width = 1
	}
	denom := width - 1
	if denom < 1 {
		denom = 1
	}
	x := ((v-(w.Center-0.5))/denom + 0.5) * outputMax
	x = math.Round(x)
	if x < 0 {
		return 0
	}
	if x > outputMax {
		return outputMax
	}
	return x
}

// decodeSamples expands the raw frame buffer into float64 stored values,
// interpreting the samples as little endian and sign-extending when the
// pixel representation is signed.
func decodeSamples(raw []byte, desc *PixelDescriptor) []float64 {
	if desc.BitsAllocated == 8 {
		out := make([]float64, len(raw))
		for i, b := range raw {
			if desc.Signed {
				out[i] = float64(int8(b))
			} else {
				out[i] = float64(b)
			}
		}
		return out
	}
	out := make([]float64, len(raw)/2)
	for i := range out {
		v := binary.LittleEndian.Uint16(raw[i*2:])
		if desc.Signed {
			out[i] = float64(int16(v))
		} else {
			out[i] = float64(v)
		}
	}
	return out
}
