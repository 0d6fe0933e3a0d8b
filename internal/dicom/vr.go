package dicom

import "fmt"

// VRKind groups value representations that share an encoding and a
// redaction class.
type VRKind int

const (
	// KindText covers plain textual VRs with space padding.
	KindText VRKind = iota
	// KindPersonName is VR PN.
	KindPersonName
	// KindDate is VR DA.
	KindDate
	// KindTime is VR TM.
	KindTime
	// KindDateTime is VR DT.
	KindDateTime
	// KindUID is VR UI, null padded.
	KindUID
	// KindNumberBinary covers fixed-width binary numbers.
	KindNumberBinary
	// KindBulk covers byte-stream VRs (OB, OW, UN, ...).
	KindBulk
	// KindSequence is VR SQ.
	KindSequence
)

// UndefinedLength marks an element or sequence whose encoded length is
// delimited rather than explicit.
const UndefinedLength uint32 = 0xFFFFFFFF

// VR models a DICOM value representation.
type VR struct {
	// Name is the 2-character VR code.
	Name string
	Kind VRKind
}

var vrLookup = map[string]*VR{}

func newVR(name string, kind VRKind) *VR {
	vr := &VR{Name: name, Kind: kind}
	vrLookup[name] = vr
	return vr
}

// LookupVR resolves a 2-character VR code.
func LookupVR(name string) (*VR, error) {
	vr, ok := vrLookup[name]
	if !ok {
		return nil, fmt.Errorf("unknown VR code: %q", name)
	}
	return vr, nil
}

// VR table per PS3.5 section 6.2.
var (
	VRAE = newVR("AE", KindText)
	VRAS = newVR("AS", KindText)
	VRCS = newVR("CS", KindText)
	VRDS = newVR("DS", KindText)
	VRIS = newVR("IS", KindText)
	VRLO = newVR("LO", KindText)
	VRLT = newVR("LT", KindText)
	VRSH = newVR("SH", KindText)
	VRST = newVR("ST", KindText)

	VRPN = newVR("PN", KindPersonName)

	VRDA = newVR("DA", KindDate)
	VRTM = newVR("TM", KindTime)
	VRDT = newVR("DT", KindDateTime)

	VRUI = newVR("UI", KindUID)

	VRSS = newVR("SS", KindNumberBinary)
	VRUS = newVR("US", KindNumberBinary)
	VRSL = newVR("SL", KindNumberBinary)
	VRUL = newVR("UL", KindNumberBinary)
	VRFL = newVR("FL", KindNumberBinary)
	VRFD = newVR("FD", KindNumberBinary)
	VRAT = newVR("AT", KindNumberBinary)

	VROB = newVR("OB", KindBulk)
	VROD = newVR("OD", KindBulk)
	VROF = newVR("OF", KindBulk)
	VROL = newVR("OL", KindBulk)
	VROW = newVR("OW", KindBulk)
	VRUC = newVR("UC", KindBulk)
	VRUN = newVR("UN", KindBulk)
	VRUR = newVR("UR", KindBulk)
	VRUT = newVR("UT", KindBulk)

	VRSQ = newVR("SQ", KindSequence)
)
