package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/medimaging/dicom-sentinel/internal/dicom"
)

func newTestFile() *File {
	meta := dicom.NewDataSet()
	meta.Put(&dicom.Element{
		Tag:   dicom.TagMediaStorageSOPClassUID,
		VR:    dicom.VRUI,
		Value: []string{"1.2.840.10008.5.1.4.1.1.2"},
	})
	meta.Put(&dicom.Element{
		Tag:   dicom.TagTransferSyntaxUID,
		VR:    dicom.VRUI,
		Value: []string{ExplicitVRLittleEndian},
	})

	item := dicom.NewDataSet()
	item.Put(&dicom.Element{Tag: dicom.TagPatientName, VR: dicom.VRPN, Value: []string{"NESTED^ONE"}})

	seq := &dicom.Sequence{}
	seq.Append(item)

	data := dicom.NewDataSet()
	data.Put(&dicom.Element{Tag: dicom.TagSOPClassUID, VR: dicom.VRUI, Value: []string{"1.2.840.10008.5.1.4.1.1.2"}})
	data.Put(&dicom.Element{Tag: dicom.TagPatientName, VR: dicom.VRPN, Value: []string{"DOE^JANE"}})
	data.Put(&dicom.Element{Tag: dicom.TagPatientID, VR: dicom.VRLO, Value: []string{"12345"}})
	data.Put(&dicom.Element{Tag: dicom.TagModality, VR: dicom.VRCS, Value: []string{"CT"}})
	data.Put(&dicom.Element{Tag: dicom.NewTag(0x0008, 0x1110), VR: dicom.VRSQ, Value: seq})
	data.Put(&dicom.Element{Tag: dicom.TagRows, VR: dicom.VRUS, Value: []uint16{4}})
	data.Put(&dicom.Element{Tag: dicom.TagColumns, VR: dicom.VRUS, Value: []uint16{4}})
	data.Put(&dicom.Element{Tag: dicom.TagPixelData, VR: dicom.VROW, Value: make([]byte, 16)})

	return &File{Meta: meta, Data: data}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := newTestFile()

	var buf bytes.Buffer
	if err := Encode(&buf, original); err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	decoded, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}

	if got := decoded.TransferSyntax(); got != ExplicitVRLittleEndian {
		t.Errorf("transfer syntax = %q, want %q", got, ExplicitVRLittleEndian)
	}
	if got := decoded.Data.String(dicom.TagPatientName); got != "DOE^JANE" {
		t.Errorf("patient name = %q", got)
	}
	if got := decoded.Data.String(dicom.TagPatientID); got != "12345" {
		t.Errorf("patient id = %q", got)
	}
	if rows, ok := decoded.Data.Uint(dicom.TagRows); !ok || rows != 4 {
		t.Errorf("rows = %d, %v", rows, ok)
	}

	seq := decoded.Data.Get(dicom.NewTag(0x0008, 0x1110)).Sequence()
	if seq == nil || len(seq.Items) != 1 {
		t.Fatalf("sequence not preserved: %+v", seq)
	}
	if got := seq.Items[0].String(dicom.TagPatientName); got != "NESTED^ONE" {
		t.Errorf("nested name = %q", got)
	}

	pixels, ok := decoded.Data.Get(dicom.TagPixelData).Value.([]byte)
	if !ok || len(pixels) != 16 {
		t.Errorf("pixel data = %T len %d", decoded.Data.Get(dicom.TagPixelData).Value, len(pixels))
	}
}

func TestEncodeComputesGroupLength(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, newTestFile()); err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	decoded, err := Decode(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}

	length, ok := decoded.Meta.Uint(dicom.TagFileMetaGroupLength)
	if !ok || length == 0 {
		t.Fatalf("group length = %d, %v", length, ok)
	}
}

func TestDecodeRejectsMissingMagic(t *testing.T) {
	junk := make([]byte, 256)
	_, err := Decode(bytes.NewReader(junk))

	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("error = %v, want DecodeError", err)
	}
}

func TestDecodeRejectsUnsupportedTransferSyntax(t *testing.T) {
	// JPEG baseline, a compressed syntax the codec does not handle.
	stream := buildStream("1.2.840.10008.1.2.4.50", nil)

	_, err := Decode(bytes.NewReader(stream))
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("error = %v, want DecodeError", err)
	}
}

func TestDecodeImplicitVR(t *testing.T) {
	body := &bytes.Buffer{}
	// (0010,0010) PatientName, implicit VR: tag + 4-byte length + value.
	writeImplicitText(body, dicom.TagPatientName, "DOE^JANE")
	writeImplicitText(body, dicom.TagPatientID, "12345 ")

	stream := buildStream(ImplicitVRLittleEndian, body.Bytes())

	decoded, err := Decode(bytes.NewReader(stream))
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if got := decoded.Data.String(dicom.TagPatientName); got != "DOE^JANE" {
		t.Errorf("patient name = %q", got)
	}
	// Trailing padding spaces are stripped.
	if got := decoded.Data.String(dicom.TagPatientID); got != "12345" {
		t.Errorf("patient id = %q", got)
	}
	if decoded.Data.Get(dicom.TagPatientName).VR != dicom.VRPN {
		t.Errorf("implicit VR lookup gave %v", decoded.Data.Get(dicom.TagPatientName).VR)
	}
}

func TestDecodeImplicitUnknownTagFallsBackToUN(t *testing.T) {
	body := &bytes.Buffer{}
	writeImplicitText(body, dicom.NewTag(0x0099, 0x0010), "private")
	stream := buildStream(ImplicitVRLittleEndian, body.Bytes())

	decoded, err := Decode(bytes.NewReader(stream))
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	e := decoded.Data.Get(dicom.NewTag(0x0099, 0x0010))
	if e == nil || e.VR != dicom.VRUN {
		t.Fatalf("private tag VR = %+v, want UN", e)
	}
	if _, ok := e.Value.([]byte); !ok {
		t.Errorf("private tag value = %T, want []byte", e.Value)
	}
}

func TestDecodeRejectsUndefinedLengthPixelData(t *testing.T) {
	body := &bytes.Buffer{}
	// Explicit OW with undefined length, as an encapsulated syntax would
	// use. The uncompressed decoder must refuse it.
	writeTagBytes(body, dicom.TagPixelData)
	body.WriteString("OW")
	body.Write([]byte{0, 0})
	binary.Write(body, binary.LittleEndian, dicom.UndefinedLength)

	stream := buildStream(ExplicitVRLittleEndian, body.Bytes())

	_, err := Decode(bytes.NewReader(stream))
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("error = %v, want DecodeError", err)
	}
}

func TestProbe(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, newTestFile()); err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	if !Probe(buf.Bytes()) {
		t.Error("Probe rejected an encoded file")
	}
	if Probe([]byte("DICM")) {
		t.Error("Probe accepted a short header")
	}
	if Probe(make([]byte, 200)) {
		t.Error("Probe accepted zero bytes")
	}
}

func TestOpenSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scan.dcm")

	if err := Save(path, newTestFile()); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if !ProbeFile(path) {
		t.Error("ProbeFile rejected a saved file")
	}

	file, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if got := file.Data.String(dicom.TagModality); got != "CT" {
		t.Errorf("modality = %q", got)
	}
}

func TestProbeFileMissing(t *testing.T) {
	if ProbeFile(filepath.Join(t.TempDir(), "missing.dcm")) {
		t.Error("ProbeFile accepted a missing file")
	}
}

func TestSaveRefusesUnwritablePath(t *testing.T) {
	err := Save(filepath.Join(t.TempDir(), "no", "such", "dir", "x.dcm"), newTestFile())
	if err == nil {
		t.Error("Save to missing directory should fail")
	}
	if _, statErr := os.Stat(filepath.Join(t.TempDir(), "x.dcm")); statErr == nil {
		t.Error("unexpected output file")
	}
}

// buildStream assembles a part 10 stream with the given transfer syntax
// and raw dataset body.
func buildStream(transferSyntax string, body []byte) []byte {
	out := &bytes.Buffer{}
	out.Write(make([]byte, 128))
	out.WriteString("DICM")

	// (0002,0010) TransferSyntaxUID, explicit VR UI.
	uid := transferSyntax
	if len(uid)%2 != 0 {
		uid += "\x00"
	}
	writeTagBytes(out, dicom.TagTransferSyntaxUID)
	out.WriteString("UI")
	binary.Write(out, binary.LittleEndian, uint16(len(uid)))
	out.WriteString(uid)

	out.Write(body)
	return out.Bytes()
}

func writeImplicitText(w *bytes.Buffer, tag dicom.Tag, value string) {
	if len(value)%2 != 0 {
		value += " "
	}
	writeTagBytes(w, tag)
	binary.Write(w, binary.LittleEndian, uint32(len(value)))
	w.WriteString(value)
}

func writeTagBytes(w *bytes.Buffer, tag dicom.Tag) {
	binary.Write(w, binary.LittleEndian, tag.Group())
	binary.Write(w, binary.LittleEndian, tag.Element())
}
