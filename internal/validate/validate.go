// Package validate checks parsed datasets for the critical attributes a
// well-formed instance must carry.
package validate

import (
	"fmt"

	"github.com/medimaging/dicom-sentinel/internal/dicom"
)

// requiredAttributes are the attributes every instance is expected to
// carry, per the composite IOD patient/study modules.
var requiredAttributes = []struct {
	tag  dicom.Tag
	name string
}{
	{dicom.TagSOPClassUID, "SOP Class UID"},
	{dicom.TagSOPInstanceUID, "SOP Instance UID"},
	{dicom.TagPatientName, "Patient Name"},
	{dicom.TagPatientID, "Patient ID"},
	{dicom.TagStudyDate, "Study Date"},
	{dicom.TagModality, "Modality"},
}

// Report is the structured outcome of validating one dataset.
type Report struct {
	Valid        bool     `json:"valid"`
	MissingTags  []string `json:"missing_tags"`
	HasPixelData bool     `json:"has_pixel_data"`
}

// Check validates the presence of the required attributes and pixel data.
func Check(ds *dicom.DataSet) *Report {
	report := &Report{MissingTags: []string{}}

	for _, attr := range requiredAttributes {
		if !ds.Contains(attr.tag) {
			report.MissingTags = append(report.MissingTags, fmt.Sprintf("%s %s", attr.name, attr.tag))
		}
	}

	report.Valid = len(report.MissingTags) == 0
	report.HasPixelData = ds.Contains(dicom.TagPixelData)
	return report
}

// Err returns a descriptive error when the report is invalid, nil
// otherwise. Used by the batch orchestrator to turn a failed validation
// into a per-file failure.
func (r *Report) Err() error {
	if r.Valid {
		return nil
	}
	return fmt.Errorf("missing %d required attribute(s): %v", len(r.MissingTags), r.MissingTags)
}
