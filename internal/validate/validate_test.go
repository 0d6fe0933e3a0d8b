package validate

import (
	"testing"

	"github.com/medimaging/dicom-sentinel/internal/dicom"
)

func completeDataSet() *dicom.DataSet {
	ds := dicom.NewDataSet()
	ds.Put(&dicom.Element{Tag: dicom.TagSOPClassUID, VR: dicom.VRUI, Value: []string{"1.2.840.10008.5.1.4.1.1.2"}})
	ds.Put(&dicom.Element{Tag: dicom.TagSOPInstanceUID, VR: dicom.VRUI, Value: []string{"1.2.3"}})
	ds.Put(&dicom.Element{Tag: dicom.TagPatientName, VR: dicom.VRPN, Value: []string{"DOE^JANE"}})
	ds.Put(&dicom.Element{Tag: dicom.TagPatientID, VR: dicom.VRLO, Value: []string{"12345"}})
	ds.Put(&dicom.Element{Tag: dicom.TagStudyDate, VR: dicom.VRDA, Value: []string{"20240101"}})
	ds.Put(&dicom.Element{Tag: dicom.TagModality, VR: dicom.VRCS, Value: []string{"CT"}})
	return ds
}

func TestCheckComplete(t *testing.T) {
	report := Check(completeDataSet())
	if !report.Valid {
		t.Fatalf("report invalid: %v", report.MissingTags)
	}
	if len(report.MissingTags) != 0 {
		t.Errorf("missing tags = %v, want none", report.MissingTags)
	}
	if report.HasPixelData {
		t.Error("no pixel data present, yet flagged")
	}
	if err := report.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
}

func TestCheckReportsMissing(t *testing.T) {
	ds := completeDataSet()
	ds = removed(ds, dicom.TagPatientID, dicom.TagModality)

	report := Check(ds)
	if report.Valid {
		t.Fatal("report should be invalid")
	}
	if len(report.MissingTags) != 2 {
		t.Errorf("missing = %v, want 2 entries", report.MissingTags)
	}
	if err := report.Err(); err == nil {
		t.Error("Err() = nil, want error")
	}
}

func TestCheckFlagsPixelData(t *testing.T) {
	ds := completeDataSet()
	ds.Put(&dicom.Element{Tag: dicom.TagPixelData, VR: dicom.VROW, Value: []byte{0, 0}})

	report := Check(ds)
	if !report.HasPixelData {
		t.Error("pixel data present but not flagged")
	}
}

// removed rebuilds the dataset without the given tags.
func removed(ds *dicom.DataSet, tags ...dicom.Tag) *dicom.DataSet {
	drop := map[dicom.Tag]bool{}
	for _, tag := range tags {
		drop[tag] = true
	}
	out := dicom.NewDataSet()
	for _, e := range ds.SortedElements() {
		if !drop[e.Tag] {
			out.Put(e)
		}
	}
	return out
}
