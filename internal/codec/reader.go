package codec

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"strings"

	"github.com/medimaging/dicom-sentinel/internal/dicom"
)

// Decode parses a DICOM part 10 stream into a File. Only the implicit and
// explicit VR little endian transfer syntaxes are handled; anything else
// yields a DecodeError.
func Decode(r io.Reader) (*File, error) {
	dr := &dcmReader{r: bufio.NewReader(r)}

	header := make([]byte, preambleSize+len(magicWord))
	if err := dr.read(header); err != nil {
		return nil, decodeErrorf(err, "reading preamble")
	}
	if !Probe(header) {
		return nil, decodeErrorf(nil, "missing DICM magic word")
	}

	meta, err := dr.readFileMeta()
	if err != nil {
		return nil, err
	}

	var explicit bool
	switch ts := meta.String(dicom.TagTransferSyntaxUID); ts {
	case ExplicitVRLittleEndian:
		explicit = true
	case ImplicitVRLittleEndian:
		explicit = false
	default:
		return nil, decodeErrorf(nil, "unsupported transfer syntax %q", ts)
	}

	data := dicom.NewDataSet()
	for {
		if _, err := dr.r.Peek(1); err == io.EOF {
			break
		}
		element, err := dr.readElement(explicit)
		if err != nil {
			return nil, err
		}
		data.Put(element)
	}

	return &File{Meta: meta, Data: data}, nil
}

type dcmReader struct {
	r   *bufio.Reader
	pos int64
}

func (d *dcmReader) read(buf []byte) error {
	n, err := io.ReadFull(d.r, buf)
	d.pos += int64(n)
	return err
}

func (d *dcmReader) uint16() (uint16, error) {
	var buf [2]byte
	if err := d.read(buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

func (d *dcmReader) uint32() (uint32, error) {
	var buf [4]byte
	if err := d.read(buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (d *dcmReader) readTag() (dicom.Tag, error) {
	group, err := d.uint16()
	if err != nil {
		return 0, err
	}
	element, err := d.uint16()
	if err != nil {
		return 0, err
	}
	return dicom.NewTag(group, element), nil
}

// peekTag returns the next tag without consuming it.
func (d *dcmReader) peekTag() (dicom.Tag, error) {
	buf, err := d.r.Peek(4)
	if err != nil {
		return 0, err
	}
	group := binary.LittleEndian.Uint16(buf[0:2])
	element := binary.LittleEndian.Uint16(buf[2:4])
	return dicom.NewTag(group, element), nil
}

// readFileMeta parses the group 0002 elements, which are always encoded
// with the explicit VR little endian syntax regardless of the transfer
// syntax of the main dataset.
func (d *dcmReader) readFileMeta() (*dicom.DataSet, error) {
	meta := dicom.NewDataSet()
	for {
		tag, err := d.peekTag()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, decodeErrorf(err, "reading file meta group")
		}
		if !tag.IsFileMeta() {
			break
		}
		element, err := d.readElement(true)
		if err != nil {
			return nil, err
		}
		meta.Put(element)
	}
	if meta.Len() == 0 {
		return nil, decodeErrorf(nil, "missing file meta group")
	}
	return meta, nil
}

// longFormVRs require the 4-byte length encoding in explicit VR syntaxes.
var longFormVRs = map[string]bool{
	"OB": true, "OD": true, "OF": true, "OL": true, "OW": true,
	"SQ": true, "UC": true, "UN": true, "UR": true, "UT": true,
}

func (d *dcmReader) readElement(explicit bool) (*dicom.Element, error) {
	tag, err := d.readTag()
	if err != nil {
		return nil, decodeErrorf(err, "reading element tag")
	}

	var vr *dicom.VR
	var length uint32
	if explicit {
		code := make([]byte, 2)
		if err := d.read(code); err != nil {
			return nil, decodeErrorf(err, "reading VR of %s", tag)
		}
		vr, err = dicom.LookupVR(string(code))
		if err != nil {
			return nil, decodeErrorf(err, "element %s", tag)
		}
		if longFormVRs[vr.Name] {
			if _, err := d.uint16(); err != nil { // reserved
				return nil, decodeErrorf(err, "reading length of %s", tag)
			}
			length, err = d.uint32()
		} else {
			var short uint16
			short, err = d.uint16()
			length = uint32(short)
		}
		if err != nil {
			return nil, decodeErrorf(err, "reading length of %s", tag)
		}
	} else {
		length, err = d.uint32()
		if err != nil {
			return nil, decodeErrorf(err, "reading length of %s", tag)
		}
		vr = lookupImplicitVR(tag)
	}

	// Undefined-length UN elements encode a sequence under the implicit
	// syntax rules.
	if vr.Kind == dicom.KindSequence || (vr == dicom.VRUN && length == dicom.UndefinedLength) {
		seq, err := d.readSequence(explicit, length)
		if err != nil {
			return nil, err
		}
		return &dicom.Element{Tag: tag, VR: dicom.VRSQ, Value: seq}, nil
	}

	if length == dicom.UndefinedLength {
		return nil, decodeErrorf(nil, "element %s has undefined length; encapsulated pixel data requires a compressed transfer syntax", tag)
	}

	value, err := d.readValue(tag, vr, length)
	if err != nil {
		return nil, err
	}
	return &dicom.Element{Tag: tag, VR: vr, Value: value}, nil
}

func (d *dcmReader) readSequence(explicit bool, length uint32) (*dicom.Sequence, error) {
	seq := &dicom.Sequence{}
	end := int64(-1)
	if length != dicom.UndefinedLength {
		end = d.pos + int64(length)
	}

	for {
		if end >= 0 && d.pos >= end {
			break
		}
		tag, err := d.readTag()
		if err != nil {
			return nil, decodeErrorf(err, "reading sequence item tag")
		}
		itemLength, err := d.uint32()
		if err != nil {
			return nil, decodeErrorf(err, "reading sequence item length")
		}
		if tag == dicom.TagSequenceDelimitationItem {
			if end >= 0 {
				return nil, decodeErrorf(nil, "unexpected sequence delimiter in defined-length sequence")
			}
			break
		}
		if tag != dicom.TagItem {
			return nil, decodeErrorf(nil, "unexpected tag %s in sequence", tag)
		}
		item, err := d.readItem(explicit, itemLength)
		if err != nil {
			return nil, err
		}
		seq.Append(item)
	}
	return seq, nil
}

func (d *dcmReader) readItem(explicit bool, length uint32) (*dicom.DataSet, error) {
	item := dicom.NewDataSet()
	end := int64(-1)
	if length != dicom.UndefinedLength {
		end = d.pos + int64(length)
	}

	for {
		if end >= 0 {
			if d.pos >= end {
				break
			}
		} else {
			tag, err := d.peekTag()
			if err != nil {
				return nil, decodeErrorf(err, "reading sequence item")
			}
			if tag == dicom.TagItemDelimitationItem {
				if _, err := d.readTag(); err != nil {
					return nil, decodeErrorf(err, "reading item delimiter")
				}
				if _, err := d.uint32(); err != nil {
					return nil, decodeErrorf(err, "reading item delimiter length")
				}
				break
			}
		}
		element, err := d.readElement(explicit)
		if err != nil {
			return nil, err
		}
		item.Put(element)
	}
	return item, nil
}

func (d *dcmReader) readValue(tag dicom.Tag, vr *dicom.VR, length uint32) (interface{}, error) {
	buf := make([]byte, length)
	if err := d.read(buf); err != nil {
		return nil, decodeErrorf(err, "reading value of %s", tag)
	}

	switch vr.Kind {
	case dicom.KindText, dicom.KindPersonName, dicom.KindDate, dicom.KindTime, dicom.KindDateTime, dicom.KindUID:
		s := strings.TrimRight(string(buf), " \x00")
		if s == "" {
			return []string{}, nil
		}
		return strings.Split(s, `\`), nil
	case dicom.KindNumberBinary:
		return d.decodeNumbers(tag, vr, buf)
	default:
		return buf, nil
	}
}

func (d *dcmReader) decodeNumbers(tag dicom.Tag, vr *dicom.VR, buf []byte) (interface{}, error) {
	size := 2
	switch vr.Name {
	case "UL", "SL", "FL":
		size = 4
	case "FD":
		size = 8
	}
	if len(buf)%size != 0 {
		return nil, decodeErrorf(nil, "element %s: value length %d not a multiple of %d", tag, len(buf), size)
	}
	count := len(buf) / size

	switch vr.Name {
	case "US", "AT":
		out := make([]uint16, count)
		for i := range out {
			out[i] = binary.LittleEndian.Uint16(buf[i*2:])
		}
		return out, nil
	case "SS":
		out := make([]int16, count)
		for i := range out {
			out[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
		}
		return out, nil
	case "UL":
		out := make([]uint32, count)
		for i := range out {
			out[i] = binary.LittleEndian.Uint32(buf[i*4:])
		}
		return out, nil
	case "SL":
		out := make([]int32, count)
		for i := range out {
			out[i] = int32(binary.LittleEndian.Uint32(buf[i*4:]))
		}
		return out, nil
	case "FL":
		out := make([]float32, count)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
		}
		return out, nil
	case "FD":
		out := make([]float64, count)
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
		}
		return out, nil
	}
	return buf, nil
}
