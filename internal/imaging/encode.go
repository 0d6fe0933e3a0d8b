// Package imaging encodes rendered raster frames into standard image
// formats. It is the raster-encoder collaborator of the rendering
// pipeline and carries no DICOM knowledge.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/medimaging/dicom-sentinel/internal/render"
)

// Format selects the output image encoding.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

// ParseFormat normalizes a format name.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "png":
		return FormatPNG, nil
	case "jpg", "jpeg":
		return FormatJPEG, nil
	}
	return "", fmt.Errorf("unsupported image format: %q", s)
}

// Extension returns the file extension for the format.
func (f Format) Extension() string {
	if f == FormatJPEG {
		return "jpg"
	}
	return "png"
}

// Encode serializes a raster frame. JPEG output only supports 8-bit
// frames; 16-bit frames must go to PNG.
func Encode(frame *render.RasterFrame, format Format) ([]byte, error) {
	img, err := toImage(frame)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	switch format {
	case FormatPNG:
		err = png.Encode(&buf, img)
	case FormatJPEG:
		if frame.BitDepth != 8 {
			return nil, fmt.Errorf("jpeg output requires 8-bit frames, got %d-bit", frame.BitDepth)
		}
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	default:
		return nil, fmt.Errorf("unsupported image format: %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("encoding %s image: %w", format, err)
	}
	return buf.Bytes(), nil
}

func toImage(frame *render.RasterFrame) (image.Image, error) {
	rect := image.Rect(0, 0, frame.Width, frame.Height)

	switch {
	case frame.Channels == 1 && frame.BitDepth == 8:
		img := image.NewGray(rect)
		copy(img.Pix, frame.Pixels)
		return img, nil
	case frame.Channels == 1 && frame.BitDepth == 16:
		img := image.NewGray16(rect)
		copy(img.Pix, frame.Pixels)
		return img, nil
	case frame.Channels == 3 && frame.BitDepth == 8:
		img := image.NewRGBA(rect)
		for p := 0; p < frame.Width*frame.Height; p++ {
			img.Pix[p*4+0] = frame.Pixels[p*3+0]
			img.Pix[p*4+1] = frame.Pixels[p*3+1]
			img.Pix[p*4+2] = frame.Pixels[p*3+2]
			img.Pix[p*4+3] = 0xFF
		}
		return img, nil
	case frame.Channels == 3 && frame.BitDepth == 16:
		img := image.NewRGBA64(rect)
		for p := 0; p < frame.Width*frame.Height; p++ {
			copy(img.Pix[p*8:p*8+6], frame.Pixels[p*6:p*6+6])
			img.Pix[p*8+6] = 0xFF
			img.Pix[p*8+7] = 0xFF
		}
		return img, nil
	}
	return nil, fmt.Errorf("no image layout for %d channels at %d-bit", frame.Channels, frame.BitDepth)
}
