package codec

import "github.com/medimaging/dicom-sentinel/internal/dicom"

// implicitVRDictionary maps the tags this toolkit works with to their VRs
// for files encoded with the implicit VR transfer syntax. Tags outside the
// dictionary fall back to UN, which round-trips their bytes untouched.
var implicitVRDictionary = map[dicom.Tag]*dicom.VR{
	dicom.TagFileMetaGroupLength:     dicom.VRUL,
	dicom.TagMediaStorageSOPClassUID: dicom.VRUI,
	dicom.TagTransferSyntaxUID:       dicom.VRUI,

	dicom.TagSOPClassUID:        dicom.VRUI,
	dicom.TagSOPInstanceUID:     dicom.VRUI,
	dicom.TagStudyDate:          dicom.VRDA,
	dicom.TagStudyTime:          dicom.VRTM,
	dicom.TagAccessionNumber:    dicom.VRSH,
	dicom.TagModality:           dicom.VRCS,
	dicom.TagReferringPhysician: dicom.VRPN,
	dicom.TagStudyDescription:   dicom.VRLO,
	dicom.TagSeriesDescription:  dicom.VRLO,

	dicom.TagPatientName:      dicom.VRPN,
	dicom.TagPatientID:        dicom.VRLO,
	dicom.TagPatientBirthDate: dicom.VRDA,
	dicom.TagPatientSex:       dicom.VRCS,

	dicom.TagStudyInstanceUID:  dicom.VRUI,
	dicom.TagSeriesInstanceUID: dicom.VRUI,

	dicom.TagSamplesPerPixel:     dicom.VRUS,
	dicom.TagPhotometricInterp:   dicom.VRCS,
	dicom.TagPlanarConfiguration: dicom.VRUS,
	dicom.TagNumberOfFrames:      dicom.VRIS,
	dicom.TagRows:                dicom.VRUS,
	dicom.TagColumns:             dicom.VRUS,
	dicom.TagBitsAllocated:       dicom.VRUS,
	dicom.TagBitsStored:          dicom.VRUS,
	dicom.TagHighBit:             dicom.VRUS,
	dicom.TagPixelRepresentation: dicom.VRUS,
	dicom.TagWindowCenter:        dicom.VRDS,
	dicom.TagWindowWidth:         dicom.VRDS,
	dicom.TagRescaleIntercept:    dicom.VRDS,
	dicom.TagRescaleSlope:        dicom.VRDS,

	dicom.TagPixelData: dicom.VROW,
}

// lookupImplicitVR resolves the VR for a tag under the implicit VR
// transfer syntax.
func lookupImplicitVR(tag dicom.Tag) *dicom.VR {
	if vr, ok := implicitVRDictionary[tag]; ok {
		return vr
	}
	return dicom.VRUN
}
