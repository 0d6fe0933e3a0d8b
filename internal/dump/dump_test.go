package dump

import (
	"strings"
	"testing"

	"github.com/medimaging/dicom-sentinel/internal/dicom"
)

func sampleDataSet() *dicom.DataSet {
	item := dicom.NewDataSet()
	item.Put(&dicom.Element{Tag: dicom.TagPatientName, VR: dicom.VRPN, Value: []string{"NESTED^ONE"}})

	seq := &dicom.Sequence{}
	seq.Append(item)

	ds := dicom.NewDataSet()
	ds.Put(&dicom.Element{Tag: dicom.TagPatientName, VR: dicom.VRPN, Value: []string{"DOE^JANE"}})
	ds.Put(&dicom.Element{Tag: dicom.TagRows, VR: dicom.VRUS, Value: []uint16{512}})
	ds.Put(&dicom.Element{Tag: dicom.TagPixelData, VR: dicom.VROW, Value: make([]byte, 32)})
	ds.Put(&dicom.Element{Tag: dicom.NewTag(0x0008, 0x1110), VR: dicom.VRSQ, Value: seq})
	return ds
}

func TestDataSetListing(t *testing.T) {
	out := DataSet(sampleDataSet(), DefaultOptions())
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")

	want := []string{
		"(0008,1110) SQ [sequence: 1 item(s)]",
		"  Item 1",
		"    (0010,0010) PN NESTED^ONE",
		"(0010,0010) PN DOE^JANE",
		"(0028,0010) US 512",
		"(7FE0,0010) OW 32 bytes",
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d:\n%s", len(lines), len(want), out)
	}
	for i, line := range want {
		if lines[i] != line {
			t.Errorf("line %d = %q, want %q", i, lines[i], line)
		}
	}
}

func TestDataSetDepthCap(t *testing.T) {
	out := DataSet(sampleDataSet(), Options{MaxDepth: 0, MaxValueLen: 64})

	if !strings.Contains(out, "[sequence: 1 item(s)]") {
		t.Errorf("sequence header missing:\n%s", out)
	}
	if strings.Contains(out, "NESTED^ONE") {
		t.Errorf("nested content rendered past depth cap:\n%s", out)
	}
}

func TestValueTruncation(t *testing.T) {
	ds := dicom.NewDataSet()
	ds.Put(&dicom.Element{Tag: dicom.TagPatientID, VR: dicom.VRLO, Value: []string{"ABCDEFGHIJ"}})

	out := DataSet(ds, Options{MaxDepth: 4, MaxValueLen: 4})
	if !strings.Contains(out, "ABCD…") {
		t.Errorf("value not truncated:\n%s", out)
	}
}
