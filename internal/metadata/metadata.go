// Package metadata summarizes parsed datasets for CLI output and API
// responses.
package metadata

import (
	"strconv"
	"strings"

	"github.com/medimaging/dicom-sentinel/internal/dicom"
)

// Summary carries the lightweight fields shown in CLI summaries and quick
// API responses.
type Summary struct {
	PatientName    string `json:"patient_name,omitempty"`
	PatientID      string `json:"patient_id,omitempty"`
	StudyDate      string `json:"study_date,omitempty"`
	Modality       string `json:"modality,omitempty"`
	SOPClassUID    string `json:"sop_class_uid,omitempty"`
	TransferSyntax string `json:"transfer_syntax,omitempty"`
	HasPixelData   bool   `json:"has_pixel_data"`
	Rows           int    `json:"rows,omitempty"`
	Columns        int    `json:"columns,omitempty"`
	NumberOfFrames int    `json:"number_of_frames,omitempty"`
}

// Summarize extracts the summary fields from a dataset. transferSyntax
// comes from the file meta group and may be empty.
func Summarize(ds *dicom.DataSet, transferSyntax string) *Summary {
	s := &Summary{
		PatientName:    ds.String(dicom.TagPatientName),
		PatientID:      ds.String(dicom.TagPatientID),
		StudyDate:      ds.String(dicom.TagStudyDate),
		Modality:       ds.String(dicom.TagModality),
		SOPClassUID:    ds.String(dicom.TagSOPClassUID),
		TransferSyntax: transferSyntax,
		HasPixelData:   ds.Contains(dicom.TagPixelData),
	}
	if v, ok := ds.Uint(dicom.TagRows); ok {
		s.Rows = int(v)
	}
	if v, ok := ds.Uint(dicom.TagColumns); ok {
		s.Columns = int(v)
	}
	if frames := ds.String(dicom.TagNumberOfFrames); frames != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(frames)); err == nil {
			s.NumberOfFrames = n
		}
	}
	return s
}

// Detailed groups every textual element of the dataset into patient,
// study, image, and miscellaneous buckets for UI rendering.
type Detailed struct {
	Patient map[string]string `json:"patient"`
	Study   map[string]string `json:"study"`
	Image   map[string]string `json:"image"`
	Misc    map[string]string `json:"misc"`
}

// Detail builds the categorized view of a dataset's top-level textual
// elements.
func Detail(ds *dicom.DataSet) *Detailed {
	d := &Detailed{
		Patient: map[string]string{},
		Study:   map[string]string{},
		Image:   map[string]string{},
		Misc:    map[string]string{},
	}
	for _, e := range ds.SortedElements() {
		value, ok := e.StringValue()
		if !ok {
			continue
		}
		switch e.Tag.Group() {
		case 0x0010:
			d.Patient[e.Tag.String()] = value
		case 0x0008, 0x0020:
			d.Study[e.Tag.String()] = value
		case 0x0028:
			d.Image[e.Tag.String()] = value
		default:
			d.Misc[e.Tag.String()] = value
		}
	}
	return d
}
