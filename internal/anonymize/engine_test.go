package anonymize

import (
	"strings"
	"testing"

	"github.com/medimaging/dicom-sentinel/internal/dicom"
	"github.com/medimaging/dicom-sentinel/internal/logger"
)

func testDataSet() *dicom.DataSet {
	item := dicom.NewDataSet()
	item.Put(&dicom.Element{Tag: dicom.TagPatientName, VR: dicom.VRPN, Value: []string{"REFERRING^DOC"}})
	item.Put(&dicom.Element{Tag: dicom.TagStudyDate, VR: dicom.VRDA, Value: []string{"20231201"}})
	item.Put(&dicom.Element{Tag: dicom.TagModality, VR: dicom.VRCS, Value: []string{"MR"}})

	seq := &dicom.Sequence{}
	seq.Append(item)

	ds := dicom.NewDataSet()
	ds.Put(&dicom.Element{Tag: dicom.TagPatientName, VR: dicom.VRPN, Value: []string{"DOE^JANE"}})
	ds.Put(&dicom.Element{Tag: dicom.TagPatientID, VR: dicom.VRLO, Value: []string{"12345"}})
	ds.Put(&dicom.Element{Tag: dicom.TagStudyDate, VR: dicom.VRDA, Value: []string{"20240115"}})
	ds.Put(&dicom.Element{Tag: dicom.TagStudyTime, VR: dicom.VRTM, Value: []string{"143000"}})
	ds.Put(&dicom.Element{Tag: dicom.TagModality, VR: dicom.VRCS, Value: []string{"CT"}})
	ds.Put(&dicom.Element{Tag: dicom.TagSOPInstanceUID, VR: dicom.VRUI, Value: []string{"1.2.3.4"}})
	ds.Put(&dicom.Element{Tag: dicom.NewTag(0x0008, 0x1110), VR: dicom.VRSQ, Value: seq})
	ds.Put(&dicom.Element{Tag: dicom.TagRows, VR: dicom.VRUS, Value: []uint16{512}})
	return ds
}

func TestDefaultRulesRedaction(t *testing.T) {
	engine := New(DefaultRules(), logger.Nop())

	result, err := engine.Anonymize(testDataSet())
	if err != nil {
		t.Fatalf("Anonymize() error: %v", err)
	}
	out := result.DataSet

	if got := out.String(dicom.TagPatientName); got != MaskedPatientName {
		t.Errorf("patient name = %q, want %q", got, MaskedPatientName)
	}
	if got := out.String(dicom.TagStudyDate); got != MaskedDate {
		t.Errorf("study date = %q, want %q", got, MaskedDate)
	}
	if got := out.String(dicom.TagStudyTime); got != MaskedTime {
		t.Errorf("study time = %q, want %q", got, MaskedTime)
	}

	hashed := out.String(dicom.TagPatientID)
	if !strings.HasPrefix(hashed, "ANON_") || len(hashed) != len("ANON_")+16 {
		t.Errorf("patient id = %q, want ANON_ plus 16 hex chars", hashed)
	}
	if hashed != HashIdentifier("12345") {
		t.Errorf("patient id = %q, want %q", hashed, HashIdentifier("12345"))
	}

	// Non-identifying siblings pass through untouched.
	if got := out.String(dicom.TagModality); got != "CT" {
		t.Errorf("modality = %q, want CT", got)
	}
	if got := out.String(dicom.TagSOPInstanceUID); got != "1.2.3.4" {
		t.Errorf("sop instance uid = %q, want kept", got)
	}
	if v, ok := out.Uint(dicom.TagRows); !ok || v != 512 {
		t.Errorf("rows = %d, %v", v, ok)
	}
}

func TestAnonymizeRecursesIntoSequences(t *testing.T) {
	engine := New(DefaultRules(), logger.Nop())

	result, err := engine.Anonymize(testDataSet())
	if err != nil {
		t.Fatalf("Anonymize() error: %v", err)
	}

	item := result.DataSet.Get(dicom.NewTag(0x0008, 0x1110)).Sequence().Items[0]
	// A PN inside an item is not the patient name tag, so it gets the
	// generic person-name placeholder.
	if got := item.String(dicom.TagPatientName); got != MaskedPersonName {
		t.Errorf("nested person name = %q, want %q", got, MaskedPersonName)
	}
	if got := item.String(dicom.TagStudyDate); got != MaskedDate {
		t.Errorf("nested date = %q, want %q", got, MaskedDate)
	}
	if got := item.String(dicom.TagModality); got != "MR" {
		t.Errorf("nested modality = %q, want MR", got)
	}
}

func TestAnonymizeLeavesInputUntouched(t *testing.T) {
	ds := testDataSet()
	engine := New(DefaultRules(), logger.Nop())

	if _, err := engine.Anonymize(ds); err != nil {
		t.Fatalf("Anonymize() error: %v", err)
	}

	if got := ds.String(dicom.TagPatientName); got != "DOE^JANE" {
		t.Errorf("input mutated: patient name = %q", got)
	}
	nested := ds.Get(dicom.NewTag(0x0008, 0x1110)).Sequence().Items[0]
	if got := nested.String(dicom.TagPatientName); got != "REFERRING^DOC" {
		t.Errorf("input mutated: nested name = %q", got)
	}
}

func TestHashIdentifierDeterministic(t *testing.T) {
	a := HashIdentifier("12345")
	b := HashIdentifier("12345")
	if a != b {
		t.Errorf("hash not deterministic: %q vs %q", a, b)
	}
	if a == HashIdentifier("12346") {
		t.Error("distinct inputs produced the same identifier")
	}
	if !strings.HasPrefix(a, "ANON_") {
		t.Errorf("identifier %q missing prefix", a)
	}
	if strings.ToUpper(a) != a {
		t.Errorf("identifier %q not uppercase", a)
	}
}

func TestHashEmptyValueUsesPlaceholder(t *testing.T) {
	ds := dicom.NewDataSet()
	ds.Put(&dicom.Element{Tag: dicom.TagPatientID, VR: dicom.VRLO, Value: []string{}})

	engine := New(DefaultRules(), logger.Nop())
	result, err := engine.Anonymize(ds)
	if err != nil {
		t.Fatalf("Anonymize() error: %v", err)
	}

	if got := result.DataSet.String(dicom.TagPatientID); got != HashIdentifier("UNKNOWN") {
		t.Errorf("empty patient id hashed to %q, want %q", got, HashIdentifier("UNKNOWN"))
	}
}

func TestMaskBinaryFallsBackWithWarning(t *testing.T) {
	rules := DefaultRules()
	rules.Override(dicom.TagPixelData, ActionMask)

	ds := dicom.NewDataSet()
	ds.Put(&dicom.Element{Tag: dicom.TagPixelData, VR: dicom.VROW, Value: []byte{1, 2, 3, 4}})

	engine := New(rules, logger.Nop())
	result, err := engine.Anonymize(ds)
	if err != nil {
		t.Fatalf("Anonymize() error: %v", err)
	}

	if len(result.Warnings) != 1 {
		t.Fatalf("warnings = %d, want 1", len(result.Warnings))
	}
	v, ok := result.DataSet.Get(dicom.TagPixelData).Value.([]byte)
	if !ok || len(v) != 0 {
		t.Errorf("pixel data = %T len %d, want empty []byte", result.DataSet.Get(dicom.TagPixelData).Value, len(v))
	}
	if result.Redacted != 1 {
		t.Errorf("redacted = %d, want 1", result.Redacted)
	}
}

func TestApplyOverrides(t *testing.T) {
	rules := DefaultRules()
	if err := rules.ApplyOverrides([]string{"0008,0050=zero", "0010,0040=mask"}); err != nil {
		t.Fatalf("ApplyOverrides() error: %v", err)
	}

	ds := dicom.NewDataSet()
	ds.Put(&dicom.Element{Tag: dicom.TagAccessionNumber, VR: dicom.VRSH, Value: []string{"ACC001"}})
	ds.Put(&dicom.Element{Tag: dicom.TagPatientSex, VR: dicom.VRCS, Value: []string{"F"}})

	engine := New(rules, logger.Nop())
	result, err := engine.Anonymize(ds)
	if err != nil {
		t.Fatalf("Anonymize() error: %v", err)
	}

	if got := result.DataSet.String(dicom.TagAccessionNumber); got != "" {
		t.Errorf("accession number = %q, want empty", got)
	}
	if got := result.DataSet.String(dicom.TagPatientSex); got != MaskedText {
		t.Errorf("patient sex = %q, want %q", got, MaskedText)
	}
}

func TestApplyOverridesRejectsBadSpecs(t *testing.T) {
	for _, spec := range []string{"nonsense", "0010,0020=explode", "xxxx,yyyy=mask"} {
		rules := DefaultRules()
		if err := rules.ApplyOverrides([]string{spec}); err == nil {
			t.Errorf("ApplyOverrides(%q) should fail", spec)
		}
	}
}

func TestParseAction(t *testing.T) {
	cases := map[string]Action{
		"keep": ActionKeep,
		"mask": ActionMask,
		"hash": ActionHashIdentifier,
		"zero": ActionZeroLength,
		"Mask": ActionMask,
	}
	for in, want := range cases {
		got, err := ParseAction(in)
		if err != nil || got != want {
			t.Errorf("ParseAction(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseAction("shred"); err == nil {
		t.Error("ParseAction(shred) should fail")
	}
}
