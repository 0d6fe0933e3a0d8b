// Package codec decodes and encodes the DICOM file format for the
// uncompressed little-endian transfer syntaxes. Compressed syntaxes are
// rejected with a DecodeError; transcoding and compression codecs are out
// of scope. The rest of the system consumes the element trees this package
// yields and never touches the wire format itself.
package codec

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/medimaging/dicom-sentinel/internal/dicom"
)

// Transfer syntax UIDs handled natively.
const (
	ImplicitVRLittleEndian = "1.2.840.10008.1.2"
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"
)

const (
	preambleSize = 128
	magicWord    = "DICM"
)

// File is a decoded DICOM file: the file meta group and the main dataset.
type File struct {
	// Meta holds the group 0002 file meta elements.
	Meta *dicom.DataSet
	// Data holds the main dataset.
	Data *dicom.DataSet
}

// TransferSyntax returns the transfer syntax UID recorded in the file meta
// group.
func (f *File) TransferSyntax() string {
	return f.Meta.String(dicom.TagTransferSyntaxUID)
}

// DecodeError reports malformed input or an unsupported transfer syntax.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode: %s: %v", e.Reason, e.Err)
	}
	return "decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeErrorf(err error, format string, args ...interface{}) error {
	return &DecodeError{Reason: fmt.Sprintf(format, args...), Err: err}
}

// Probe reports whether the given header bytes look like a DICOM part 10
// file. It checks the DICM magic word after the 128-byte preamble, so it
// works regardless of file extension.
func Probe(header []byte) bool {
	if len(header) < preambleSize+len(magicWord) {
		return false
	}
	return bytes.Equal(header[preambleSize:preambleSize+len(magicWord)], []byte(magicWord))
}

// ProbeFile reads just enough of the file at path to run Probe. Unreadable
// files probe negative.
func ProbeFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	header := make([]byte, preambleSize+len(magicWord))
	if _, err := io.ReadFull(f, header); err != nil {
		return false
	}
	return Probe(header)
}

// Open decodes the DICOM file at path.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Save encodes the file to path using the explicit VR little endian
// transfer syntax.
func Save(path string, file *File) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Encode(out, file); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
