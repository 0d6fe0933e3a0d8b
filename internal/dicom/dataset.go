// Package dicom provides the in-memory model for parsed DICOM datasets: a
// hierarchy of tagged, typed data elements including nested item sequences.
// Binary decoding and encoding live in the codec package; this package only
// models, traverses, and rewrites element trees.
package dicom

import (
	"fmt"
	"sort"
	"strings"
)

// Tag is a unique identifier for a data element composed of a group number
// (most significant 16 bits) and an element number (least significant 16
// bits).
type Tag uint32

// NewTag builds a Tag from its group and element numbers.
func NewTag(group, element uint16) Tag {
	return Tag(uint32(group)<<16 | uint32(element))
}

// Group returns the group number component of the tag.
func (t Tag) Group() uint16 {
	return uint16(t >> 16)
}

// Element returns the element number component of the tag.
func (t Tag) Element() uint16 {
	return uint16(t & 0xFFFF)
}

// IsFileMeta reports whether the tag belongs to the file meta information
// group.
func (t Tag) IsFileMeta() bool {
	return t.Group() == 0x0002
}

func (t Tag) String() string {
	return fmt.Sprintf("(%04X,%04X)", t.Group(), t.Element())
}

// Commonly referenced tags.
var (
	TagFileMetaGroupLength     = NewTag(0x0002, 0x0000)
	TagMediaStorageSOPClassUID = NewTag(0x0002, 0x0002)
	TagTransferSyntaxUID       = NewTag(0x0002, 0x0010)

	TagSOPClassUID         = NewTag(0x0008, 0x0016)
	TagSOPInstanceUID      = NewTag(0x0008, 0x0018)
	TagStudyDate           = NewTag(0x0008, 0x0020)
	TagStudyTime           = NewTag(0x0008, 0x0030)
	TagAccessionNumber     = NewTag(0x0008, 0x0050)
	TagModality            = NewTag(0x0008, 0x0060)
	TagReferringPhysician  = NewTag(0x0008, 0x0090)
	TagStudyDescription    = NewTag(0x0008, 0x1030)
	TagSeriesDescription   = NewTag(0x0008, 0x103E)
	TagPatientName         = NewTag(0x0010, 0x0010)
	TagPatientID           = NewTag(0x0010, 0x0020)
	TagPatientBirthDate    = NewTag(0x0010, 0x0030)
	TagPatientSex          = NewTag(0x0010, 0x0040)
	TagStudyInstanceUID    = NewTag(0x0020, 0x000D)
	TagSeriesInstanceUID   = NewTag(0x0020, 0x000E)
	TagSamplesPerPixel     = NewTag(0x0028, 0x0002)
	TagPhotometricInterp   = NewTag(0x0028, 0x0004)
	TagPlanarConfiguration = NewTag(0x0028, 0x0006)
	TagNumberOfFrames      = NewTag(0x0028, 0x0008)
	TagRows                = NewTag(0x0028, 0x0010)
	TagColumns             = NewTag(0x0028, 0x0011)
	TagBitsAllocated       = NewTag(0x0028, 0x0100)
	TagBitsStored          = NewTag(0x0028, 0x0101)
	TagHighBit             = NewTag(0x0028, 0x0102)
	TagPixelRepresentation = NewTag(0x0028, 0x0103)
	TagWindowCenter        = NewTag(0x0028, 0x1050)
	TagWindowWidth         = NewTag(0x0028, 0x1051)
	TagRescaleIntercept    = NewTag(0x0028, 0x1052)
	TagRescaleSlope        = NewTag(0x0028, 0x1053)
	TagPixelData           = NewTag(0x7FE0, 0x0010)

	TagItem                     = NewTag(0xFFFE, 0xE000)
	TagItemDelimitationItem     = NewTag(0xFFFE, 0xE00D)
	TagSequenceDelimitationItem = NewTag(0xFFFE, 0xE0DD)
)

// Element is one tagged entry in a dataset. Value holds one of the
// following types depending on the VR:
//
//	[]string            textual VRs (CS, SH, LO, PN, DA, TM, DT, UI, ...)
//	[]int16, []uint16   binary number VRs (SS, US)
//	[]int32, []uint32   binary number VRs (SL, UL)
//	[]float32, []float64
//	[]byte              bulk data VRs (OB, OW, UN, ...)
//	*Sequence           SQ
type Element struct {
	Tag   Tag
	VR    *VR
	Value interface{}
}

// StringValue returns the element value joined as a single backslash
// separated string. The second return is false when the value is not
// textual.
func (e *Element) StringValue() (string, bool) {
	s, ok := e.Value.([]string)
	if !ok {
		return "", false
	}
	return strings.Join(s, `\`), true
}

// Sequence returns the element value as a sequence of items, or nil when
// the element is not a sequence.
func (e *Element) Sequence() *Sequence {
	seq, _ := e.Value.(*Sequence)
	return seq
}

// Clone returns a copy of the element. Sequence values are cloned
// recursively; scalar and buffer values are copied so the clone shares no
// mutable state with the original.
func (e *Element) Clone() *Element {
	out := &Element{Tag: e.Tag, VR: e.VR}
	switch v := e.Value.(type) {
	case *Sequence:
		out.Value = v.Clone()
	case []string:
		out.Value = append([]string(nil), v...)
	case []byte:
		out.Value = append([]byte(nil), v...)
	case []int16:
		out.Value = append([]int16(nil), v...)
	case []uint16:
		out.Value = append([]uint16(nil), v...)
	case []int32:
		out.Value = append([]int32(nil), v...)
	case []uint32:
		out.Value = append([]uint32(nil), v...)
	case []float32:
		out.Value = append([]float32(nil), v...)
	case []float64:
		out.Value = append([]float64(nil), v...)
	default:
		out.Value = v
	}
	return out
}

// Sequence models a DICOM sequence of items. Each item is itself an
// ordered dataset; items keep their original order.
type Sequence struct {
	Items []*DataSet
}

// Append adds an item to the end of the sequence.
func (seq *Sequence) Append(item *DataSet) {
	seq.Items = append(seq.Items, item)
}

// Clone returns a deep copy of the sequence.
func (seq *Sequence) Clone() *Sequence {
	out := &Sequence{Items: make([]*DataSet, 0, len(seq.Items))}
	for _, item := range seq.Items {
		out.Append(item.Clone())
	}
	return out
}

// DataSet is one level of an element tree: a set of elements keyed by tag.
// Iteration order is always ascending tag order via SortedTags or
// SortedElements.
type DataSet struct {
	Elements map[Tag]*Element
}

// NewDataSet returns an empty dataset.
func NewDataSet() *DataSet {
	return &DataSet{Elements: map[Tag]*Element{}}
}

// Put inserts or replaces an element.
func (ds *DataSet) Put(e *Element) {
	if ds.Elements == nil {
		ds.Elements = map[Tag]*Element{}
	}
	ds.Elements[e.Tag] = e
}

// Get returns the element with the given tag, or nil when absent.
func (ds *DataSet) Get(tag Tag) *Element {
	return ds.Elements[tag]
}

// Contains reports whether the dataset has an element with the given tag.
func (ds *DataSet) Contains(tag Tag) bool {
	_, ok := ds.Elements[tag]
	return ok
}

// Len returns the number of elements at this level.
func (ds *DataSet) Len() int {
	return len(ds.Elements)
}

// String returns the text value of the element with the given tag, or ""
// when the element is absent or non-textual.
func (ds *DataSet) String(tag Tag) string {
	e := ds.Get(tag)
	if e == nil {
		return ""
	}
	s, _ := e.StringValue()
	return s
}

// Uint returns the first numeric value of the element with the given tag.
// Textual integer values (VR IS) are not parsed here; callers that need
// them go through strconv on String.
func (ds *DataSet) Uint(tag Tag) (int64, bool) {
	e := ds.Get(tag)
	if e == nil {
		return 0, false
	}
	switch v := e.Value.(type) {
	case []uint16:
		if len(v) > 0 {
			return int64(v[0]), true
		}
	case []uint32:
		if len(v) > 0 {
			return int64(v[0]), true
		}
	case []int16:
		if len(v) > 0 {
			return int64(v[0]), true
		}
	case []int32:
		if len(v) > 0 {
			return int64(v[0]), true
		}
	}
	return 0, false
}

// SortedTags returns the tags at this level in ascending order.
func (ds *DataSet) SortedTags() []Tag {
	tags := make([]Tag, 0, len(ds.Elements))
	for tag := range ds.Elements {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// SortedElements returns the elements at this level in ascending tag
// order.
func (ds *DataSet) SortedElements() []*Element {
	elements := make([]*Element, 0, len(ds.Elements))
	for _, tag := range ds.SortedTags() {
		elements = append(elements, ds.Elements[tag])
	}
	return elements
}

// Clone returns a deep copy of the dataset.
func (ds *DataSet) Clone() *DataSet {
	out := NewDataSet()
	for _, e := range ds.Elements {
		out.Put(e.Clone())
	}
	return out
}
