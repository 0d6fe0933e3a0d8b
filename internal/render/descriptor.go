// Package render converts raw DICOM pixel payloads into raster frames
// with clinically meaningful intensity mapping, and computes intensity
// histograms and statistics over the rescaled sample domain.
package render

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/medimaging/dicom-sentinel/internal/dicom"
)

// IntegrityError reports pixel data whose size or layout contradicts its
// descriptor. The data is never repaired.
type IntegrityError struct {
	Reason string
}

func (e *IntegrityError) Error() string {
	return "pixel data integrity: " + e.Reason
}

// UnsupportedFormatError reports a valid but unhandled sample layout.
type UnsupportedFormatError struct {
	Reason string
}

func (e *UnsupportedFormatError) Error() string {
	return "unsupported pixel format: " + e.Reason
}

// ErrNoPixelData signals a dataset without a pixel payload.
var ErrNoPixelData = errors.New("dataset has no pixel data")

// Supported photometric interpretations. MONOCHROME1 maps low stored
// values to bright output, MONOCHROME2 to dark; RGB is interleaved color.
const (
	PhotometricMonochrome1 = "MONOCHROME1"
	PhotometricMonochrome2 = "MONOCHROME2"
	PhotometricRGB         = "RGB"
)

// Window is a VOI window: the linear mapping from stored intensity to
// display intensity defined by a center and width.
type Window struct {
	Center float64 `json:"center"`
	Width  float64 `json:"width"`
}

// PixelDescriptor describes the sample layout of a pixel payload.
type PixelDescriptor struct {
	Rows            int     `json:"rows"`
	Columns         int     `json:"columns"`
	Frames          int     `json:"frames"`
	BitsAllocated   int     `json:"bits_allocated"`
	BitsStored      int     `json:"bits_stored"`
	SamplesPerPixel int     `json:"samples_per_pixel"`
	Photometric     string  `json:"photometric_interpretation"`
	Planar          bool    `json:"planar_configuration"`
	Signed          bool    `json:"signed"`
	RescaleSlope    float64 `json:"rescale_slope"`
	RescaleIntercept float64 `json:"rescale_intercept"`
	// Window is the VOI window embedded in the dataset, if any.
	Window *Window `json:"window,omitempty"`
}

// FrameSize returns the byte size of one frame.
func (d *PixelDescriptor) FrameSize() int {
	return d.Rows * d.Columns * d.SamplesPerPixel * (d.BitsAllocated / 8)
}

// Grayscale reports whether the single-channel path applies.
func (d *PixelDescriptor) Grayscale() bool {
	return d.SamplesPerPixel == 1
}

// FromDataSet extracts the pixel descriptor and raw payload from a parsed
// dataset. Returns ErrNoPixelData when the dataset carries no pixel
// element, an UnsupportedFormatError for sample layouts outside the
// supported set, and an IntegrityError when the payload length does not
// equal frames times frame size.
func FromDataSet(ds *dicom.DataSet) (*PixelDescriptor, []byte, error) {
	pixelElement := ds.Get(dicom.TagPixelData)
	if pixelElement == nil {
		return nil, nil, ErrNoPixelData
	}
	payload, ok := pixelElement.Value.([]byte)
	if !ok {
		return nil, nil, &UnsupportedFormatError{Reason: fmt.Sprintf("pixel data value is %T, expected a byte buffer", pixelElement.Value)}
	}

	desc := &PixelDescriptor{
		RescaleSlope:    1,
		RescaleIntercept: 0,
		SamplesPerPixel: 1,
		Frames:          1,
	}
	if v, ok := ds.Uint(dicom.TagRows); ok {
		desc.Rows = int(v)
	}
	if v, ok := ds.Uint(dicom.TagColumns); ok {
		desc.Columns = int(v)
	}
	if v, ok := ds.Uint(dicom.TagBitsAllocated); ok {
		desc.BitsAllocated = int(v)
	}
	if v, ok := ds.Uint(dicom.TagBitsStored); ok {
		desc.BitsStored = int(v)
	}
	if v, ok := ds.Uint(dicom.TagSamplesPerPixel); ok {
		desc.SamplesPerPixel = int(v)
	}
	if v, ok := ds.Uint(dicom.TagPixelRepresentation); ok {
		desc.Signed = v == 1
	}
	if v, ok := ds.Uint(dicom.TagPlanarConfiguration); ok {
		desc.Planar = v == 1
	}
	desc.Photometric = strings.ToUpper(strings.TrimSpace(ds.String(dicom.TagPhotometricInterp)))
	if frames := ds.String(dicom.TagNumberOfFrames); frames != "" {
		n, err := strconv.Atoi(strings.TrimSpace(frames))
		if err != nil || n < 1 {
			return nil, nil, &IntegrityError{Reason: fmt.Sprintf("invalid frame count %q", frames)}
		}
		desc.Frames = n
	}
	if slope, ok := decimalValue(ds, dicom.TagRescaleSlope); ok {
		desc.RescaleSlope = slope
	}
	if intercept, ok := decimalValue(ds, dicom.TagRescaleIntercept); ok {
		desc.RescaleIntercept = intercept
	}
	if center, ok := decimalValue(ds, dicom.TagWindowCenter); ok {
		if width, ok := decimalValue(ds, dicom.TagWindowWidth); ok {
			desc.Window = &Window{Center: center, Width: width}
		}
	}

	if err := desc.validate(len(payload)); err != nil {
		return nil, nil, err
	}
	return desc, payload, nil
}

func (d *PixelDescriptor) validate(payloadLen int) error {
	if d.Rows <= 0 || d.Columns <= 0 {
		return &IntegrityError{Reason: fmt.Sprintf("invalid dimensions %dx%d", d.Columns, d.Rows)}
	}
	if d.BitsAllocated != 8 && d.BitsAllocated != 16 {
		return &UnsupportedFormatError{Reason: fmt.Sprintf("%d bits allocated", d.BitsAllocated)}
	}
	if d.SamplesPerPixel != 1 && d.SamplesPerPixel != 3 {
		return &UnsupportedFormatError{Reason: fmt.Sprintf("%d samples per pixel", d.SamplesPerPixel)}
	}
	if d.SamplesPerPixel == 3 && d.Planar {
		return &UnsupportedFormatError{Reason: "planar color configuration"}
	}
	// An empty interpretation is treated as monochrome; anything else
	// outside the supported set is rejected rather than guessed at.
	switch d.Photometric {
	case "", PhotometricMonochrome1, PhotometricMonochrome2:
		if d.SamplesPerPixel != 1 {
			return &UnsupportedFormatError{Reason: fmt.Sprintf("%d samples per pixel with %s interpretation", d.SamplesPerPixel, d.Photometric)}
		}
	case PhotometricRGB:
		if d.SamplesPerPixel != 3 {
			return &UnsupportedFormatError{Reason: fmt.Sprintf("%d samples per pixel with RGB interpretation", d.SamplesPerPixel)}
		}
	default:
		return &UnsupportedFormatError{Reason: fmt.Sprintf("photometric interpretation %q", d.Photometric)}
	}
	if want := d.Frames * d.FrameSize(); payloadLen != want {
		return &IntegrityError{Reason: fmt.Sprintf("payload is %d bytes, want %d (%d frames x %d bytes)",
			payloadLen, want, d.Frames, d.FrameSize())}
	}
	return nil
}

// decimalValue reads the first value of a DS element. Multi-valued
// windows keep only the first center/width pair.
func decimalValue(ds *dicom.DataSet, tag dicom.Tag) (float64, bool) {
	e := ds.Get(tag)
	if e == nil {
		return 0, false
	}
	values, ok := e.Value.([]string)
	if !ok || len(values) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(values[0]), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
