package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/medimaging/dicom-sentinel/internal/dicom"
)

// Encode serializes the file using the explicit VR little endian transfer
// syntax. The file meta group is rewritten to declare that syntax and to
// carry a correct group length; everything else is preserved element for
// element.
func Encode(w io.Writer, file *File) error {
	var out bytes.Buffer
	out.Write(make([]byte, preambleSize))
	out.WriteString(magicWord)

	if err := writeFileMeta(&out, file.Meta); err != nil {
		return err
	}
	for _, element := range file.Data.SortedElements() {
		if err := writeElement(&out, element); err != nil {
			return err
		}
	}

	_, err := w.Write(out.Bytes())
	return err
}

func writeFileMeta(w *bytes.Buffer, meta *dicom.DataSet) error {
	updated := meta.Clone()
	updated.Put(&dicom.Element{
		Tag:   dicom.TagTransferSyntaxUID,
		VR:    dicom.VRUI,
		Value: []string{ExplicitVRLittleEndian},
	})

	var body bytes.Buffer
	for _, element := range updated.SortedElements() {
		if element.Tag == dicom.TagFileMetaGroupLength {
			continue
		}
		if err := writeElement(&body, element); err != nil {
			return err
		}
	}

	groupLength := &dicom.Element{
		Tag:   dicom.TagFileMetaGroupLength,
		VR:    dicom.VRUL,
		Value: []uint32{uint32(body.Len())},
	}
	if err := writeElement(w, groupLength); err != nil {
		return err
	}
	w.Write(body.Bytes())
	return nil
}

func writeElement(w *bytes.Buffer, e *dicom.Element) error {
	if seq := e.Sequence(); seq != nil {
		return writeSequence(w, e.Tag, seq)
	}

	value, err := encodeValue(e)
	if err != nil {
		return err
	}

	writeTag(w, e.Tag)
	w.WriteString(e.VR.Name)
	if longFormVRs[e.VR.Name] {
		w.Write([]byte{0, 0})
		writeUint32(w, uint32(len(value)))
	} else {
		if len(value) > 0xFFFF {
			return fmt.Errorf("encode: element %s: value of %d bytes exceeds the short length form", e.Tag, len(value))
		}
		writeUint16(w, uint16(len(value)))
	}
	w.Write(value)
	return nil
}

// writeSequence emits the sequence with undefined lengths and explicit
// delimiters, so nested item sizes never need to be pre-computed.
func writeSequence(w *bytes.Buffer, tag dicom.Tag, seq *dicom.Sequence) error {
	writeTag(w, tag)
	w.WriteString("SQ")
	w.Write([]byte{0, 0})
	writeUint32(w, dicom.UndefinedLength)

	for _, item := range seq.Items {
		writeTag(w, dicom.TagItem)
		writeUint32(w, dicom.UndefinedLength)
		for _, element := range item.SortedElements() {
			if err := writeElement(w, element); err != nil {
				return err
			}
		}
		writeTag(w, dicom.TagItemDelimitationItem)
		writeUint32(w, 0)
	}

	writeTag(w, dicom.TagSequenceDelimitationItem)
	writeUint32(w, 0)
	return nil
}

func encodeValue(e *dicom.Element) ([]byte, error) {
	switch v := e.Value.(type) {
	case nil:
		return nil, nil
	case []string:
		joined := strings.Join(v, `\`)
		if len(joined)%2 != 0 {
			// UI values are null padded, all other text space padded.
			if e.VR.Kind == dicom.KindUID {
				joined += "\x00"
			} else {
				joined += " "
			}
		}
		return []byte(joined), nil
	case []byte:
		if len(v)%2 != 0 {
			v = append(append([]byte(nil), v...), 0)
		}
		return v, nil
	case []uint16:
		return encodeNumbers(len(v), 2, func(buf []byte, i int) {
			binary.LittleEndian.PutUint16(buf[i*2:], v[i])
		}), nil
	case []int16:
		return encodeNumbers(len(v), 2, func(buf []byte, i int) {
			binary.LittleEndian.PutUint16(buf[i*2:], uint16(v[i]))
		}), nil
	case []uint32:
		return encodeNumbers(len(v), 4, func(buf []byte, i int) {
			binary.LittleEndian.PutUint32(buf[i*4:], v[i])
		}), nil
	case []int32:
		return encodeNumbers(len(v), 4, func(buf []byte, i int) {
			binary.LittleEndian.PutUint32(buf[i*4:], uint32(v[i]))
		}), nil
	case []float32:
		return encodeNumbers(len(v), 4, func(buf []byte, i int) {
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v[i]))
		}), nil
	case []float64:
		return encodeNumbers(len(v), 8, func(buf []byte, i int) {
			binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v[i]))
		}), nil
	}
	return nil, fmt.Errorf("encode: element %s: unsupported value type %T", e.Tag, e.Value)
}

func encodeNumbers(count, size int, put func(buf []byte, i int)) []byte {
	buf := make([]byte, count*size)
	for i := 0; i < count; i++ {
		put(buf, i)
	}
	return buf
}

func writeTag(w *bytes.Buffer, tag dicom.Tag) {
	writeUint16(w, tag.Group())
	writeUint16(w, tag.Element())
}

func writeUint16(w *bytes.Buffer, v uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	w.Write(buf[:])
}

func writeUint32(w *bytes.Buffer, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	w.Write(buf[:])
}
