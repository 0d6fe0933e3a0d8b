package batch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/medimaging/dicom-sentinel/internal/anonymize"
	"github.com/medimaging/dicom-sentinel/internal/codec"
	"github.com/medimaging/dicom-sentinel/internal/dicom"
	"github.com/medimaging/dicom-sentinel/internal/logger"
	"github.com/medimaging/dicom-sentinel/internal/render"
)

func newOrchestrator(t *testing.T, opts Options) *Orchestrator {
	t.Helper()
	engine := anonymize.New(anonymize.DefaultRules(), logger.Nop())
	return New(engine, opts, zap.NewNop())
}

func newInstance(patientID string) *codec.File {
	meta := dicom.NewDataSet()
	meta.Put(&dicom.Element{
		Tag:   dicom.TagMediaStorageSOPClassUID,
		VR:    dicom.VRUI,
		Value: []string{"1.2.840.10008.5.1.4.1.1.2"},
	})
	meta.Put(&dicom.Element{
		Tag:   dicom.TagTransferSyntaxUID,
		VR:    dicom.VRUI,
		Value: []string{codec.ExplicitVRLittleEndian},
	})

	data := dicom.NewDataSet()
	data.Put(&dicom.Element{Tag: dicom.TagSOPClassUID, VR: dicom.VRUI, Value: []string{"1.2.840.10008.5.1.4.1.1.2"}})
	data.Put(&dicom.Element{Tag: dicom.TagSOPInstanceUID, VR: dicom.VRUI, Value: []string{"1.2.3." + patientID}})
	data.Put(&dicom.Element{Tag: dicom.TagPatientName, VR: dicom.VRPN, Value: []string{"DOE^JANE"}})
	data.Put(&dicom.Element{Tag: dicom.TagPatientID, VR: dicom.VRLO, Value: []string{patientID}})
	data.Put(&dicom.Element{Tag: dicom.TagStudyDate, VR: dicom.VRDA, Value: []string{"20240115"}})
	data.Put(&dicom.Element{Tag: dicom.TagModality, VR: dicom.VRCS, Value: []string{"CT"}})

	return &codec.File{Meta: meta, Data: data}
}

func writeInstance(t *testing.T, path, patientID string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("creating fixture directory: %v", err)
	}
	if err := codec.Save(path, newInstance(patientID)); err != nil {
		t.Fatalf("writing fixture %s: %v", path, err)
	}
}

// writeCorrupt writes a file that passes the content probe but cannot
// be decoded.
func writeCorrupt(t *testing.T, path string) {
	t.Helper()
	header := append(make([]byte, 128), []byte("DICM")...)
	header = append(header, 0xDE, 0xAD, 0xBE)
	if err := os.WriteFile(path, header, 0o644); err != nil {
		t.Fatalf("writing corrupt fixture: %v", err)
	}
}

func TestRunAnonymize(t *testing.T) {
	root := t.TempDir()
	outDir := t.TempDir()

	writeInstance(t, filepath.Join(root, "a.dcm"), "100")
	writeInstance(t, filepath.Join(root, "b.dcm"), "200")
	writeInstance(t, filepath.Join(root, "nested", "c"), "300")
	writeCorrupt(t, filepath.Join(root, "broken.dcm"))
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("not an image"), 0o644); err != nil {
		t.Fatalf("writing non-DICOM file: %v", err)
	}

	o := newOrchestrator(t, Options{Workers: 2})
	report, err := o.Run(context.Background(), root, OperationAnonymize, outDir)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if report.Discovered != 4 {
		t.Errorf("discovered = %d, want 4", report.Discovered)
	}
	if report.Succeeded != 3 {
		t.Errorf("succeeded = %d, want 3", report.Succeeded)
	}
	if report.Failed != 1 {
		t.Errorf("failed = %d, want 1", report.Failed)
	}
	if len(report.Failures) != 1 {
		t.Fatalf("failures = %d, want 1", len(report.Failures))
	}
	if report.Failures[0].Kind != ErrorKindDecode {
		t.Errorf("failure kind = %q, want %q", report.Failures[0].Kind, ErrorKindDecode)
	}
	if filepath.Base(report.Failures[0].Path) != "broken.dcm" {
		t.Errorf("failure path = %s", report.Failures[0].Path)
	}

	for _, name := range []string{"a_anon.dcm", "b_anon.dcm", "c_anon.dcm"} {
		outPath := filepath.Join(outDir, name)
		file, err := codec.Open(outPath)
		if err != nil {
			t.Fatalf("opening output %s: %v", name, err)
		}
		if got := file.Data.String(dicom.TagPatientName); got != anonymize.MaskedPatientName {
			t.Errorf("%s: patient name = %q, want %q", name, got, anonymize.MaskedPatientName)
		}
	}
}

func TestRunValidate(t *testing.T) {
	root := t.TempDir()
	writeInstance(t, filepath.Join(root, "ok.dcm"), "100")

	incomplete := newInstance("200")
	partial := dicom.NewDataSet()
	for _, tag := range incomplete.Data.SortedTags() {
		if tag == dicom.TagPatientID || tag == dicom.TagModality {
			continue
		}
		partial.Put(incomplete.Data.Get(tag))
	}
	incomplete.Data = partial
	if err := codec.Save(filepath.Join(root, "partial.dcm"), incomplete); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	o := newOrchestrator(t, Options{Workers: 1})
	report, err := o.Run(context.Background(), root, OperationValidate, "")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if report.Succeeded != 1 || report.Failed != 1 {
		t.Fatalf("succeeded = %d, failed = %d, want 1 and 1", report.Succeeded, report.Failed)
	}
	if report.Failures[0].Kind != ErrorKindValidation {
		t.Errorf("failure kind = %q, want %q", report.Failures[0].Kind, ErrorKindValidation)
	}
}

func TestRunMissingRoot(t *testing.T) {
	o := newOrchestrator(t, Options{Workers: 1})
	if _, err := o.Run(context.Background(), filepath.Join(t.TempDir(), "absent"), OperationValidate, ""); err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestRunRootMustBeDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.dcm")
	writeInstance(t, path, "100")

	o := newOrchestrator(t, Options{Workers: 1})
	if _, err := o.Run(context.Background(), path, OperationValidate, ""); err == nil {
		t.Fatal("expected error for file root")
	}
}

func TestRunCancelledContext(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 5; i++ {
		writeInstance(t, filepath.Join(root, fmt.Sprintf("f%d.dcm", i)), fmt.Sprintf("%d", i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The limiter checks the context before every dispatch, so a
	// cancelled run hands out no jobs at all.
	o := newOrchestrator(t, Options{Workers: 1, RateLimit: 1000})
	report, err := o.Run(ctx, root, OperationValidate, "")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if report.Dispatched != 0 {
		t.Errorf("dispatched = %d, want 0", report.Dispatched)
	}
	if len(report.Results) != 0 {
		t.Errorf("results = %d, want 0", len(report.Results))
	}
}

func TestRunObservesResults(t *testing.T) {
	root := t.TempDir()
	writeInstance(t, filepath.Join(root, "a.dcm"), "100")
	writeInstance(t, filepath.Join(root, "b.dcm"), "200")

	var observed []Result
	o := newOrchestrator(t, Options{
		Workers:  2,
		OnResult: func(r Result) { observed = append(observed, r) },
	})
	if _, err := o.Run(context.Background(), root, OperationValidate, ""); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(observed) != 2 {
		t.Errorf("observed %d results, want 2", len(observed))
	}
}

type memoryLedger struct {
	mu     sync.Mutex
	seen   map[string]string
	failOn error
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{seen: map[string]string{}}
}

func (l *memoryLedger) Seen(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failOn != nil {
		return false, l.failOn
	}
	_, ok := l.seen[key]
	return ok, nil
}

func (l *memoryLedger) Mark(_ context.Context, key, outcome string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen[key] = outcome
	return nil
}

func TestRunSkipsProcessedFiles(t *testing.T) {
	root := t.TempDir()
	writeInstance(t, filepath.Join(root, "a.dcm"), "100")
	writeInstance(t, filepath.Join(root, "b.dcm"), "200")

	ledger := newMemoryLedger()
	o := newOrchestrator(t, Options{Workers: 1, SkipProcessed: true, Ledger: ledger})

	first, err := o.Run(context.Background(), root, OperationValidate, "")
	if err != nil {
		t.Fatalf("first Run() error: %v", err)
	}
	if first.Succeeded != 2 || first.Skipped != 0 {
		t.Fatalf("first run: succeeded = %d, skipped = %d", first.Succeeded, first.Skipped)
	}
	if len(ledger.seen) != 2 {
		t.Fatalf("ledger entries = %d, want 2", len(ledger.seen))
	}

	second, err := o.Run(context.Background(), root, OperationValidate, "")
	if err != nil {
		t.Fatalf("second Run() error: %v", err)
	}
	if second.Skipped != 2 || second.Succeeded != 0 {
		t.Errorf("second run: succeeded = %d, skipped = %d, want 0 and 2", second.Succeeded, second.Skipped)
	}
}

func TestRunProcessesWhenLedgerFails(t *testing.T) {
	root := t.TempDir()
	writeInstance(t, filepath.Join(root, "a.dcm"), "100")

	ledger := newMemoryLedger()
	ledger.failOn = errors.New("connection refused")
	o := newOrchestrator(t, Options{Workers: 1, SkipProcessed: true, Ledger: ledger})

	report, err := o.Run(context.Background(), root, OperationValidate, "")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if report.Succeeded != 1 {
		t.Errorf("succeeded = %d, want 1", report.Succeeded)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"decode", &codec.DecodeError{Reason: "bad stream"}, ErrorKindDecode},
		{"wrapped decode", fmt.Errorf("processing: %w", &codec.DecodeError{Reason: "bad"}), ErrorKindDecode},
		{"integrity", &render.IntegrityError{Reason: "short payload"}, ErrorKindIntegrity},
		{"unsupported", &render.UnsupportedFormatError{Reason: "planar color"}, ErrorKindUnsupported},
		{"io", &fs.PathError{Op: "open", Path: "x", Err: fs.ErrNotExist}, ErrorKindIO},
		{"other", errors.New("boom"), ErrorKindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.err); got != tt.want {
				t.Errorf("classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseOperation(t *testing.T) {
	if op, err := ParseOperation("render"); err != nil || op != OperationRender {
		t.Errorf("ParseOperation(render) = %q, %v", op, err)
	}
	if _, err := ParseOperation("transmogrify"); err == nil {
		t.Error("expected error for unknown operation")
	}
}

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.dcm")

	if err := writeAtomic(path, []byte("payload")); err != nil {
		t.Fatalf("writeAtomic() error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("content = %q", data)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("listing directory: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the output", len(entries))
	}
}

func TestOutputStem(t *testing.T) {
	if got := outputStem("/data/in/scan.dcm"); got != "scan" {
		t.Errorf("outputStem = %q, want scan", got)
	}
	if got := outputStem("/data/in/noext"); got != "noext" {
		t.Errorf("outputStem = %q, want noext", got)
	}
}

// newMultiFrameInstance builds a 2x2 grayscale instance with three frames.
func newMultiFrameInstance() *codec.File {
	file := newInstance("400")
	ds := file.Data
	ds.Put(&dicom.Element{Tag: dicom.TagRows, VR: dicom.VRUS, Value: []uint16{2}})
	ds.Put(&dicom.Element{Tag: dicom.TagColumns, VR: dicom.VRUS, Value: []uint16{2}})
	ds.Put(&dicom.Element{Tag: dicom.TagBitsAllocated, VR: dicom.VRUS, Value: []uint16{8}})
	ds.Put(&dicom.Element{Tag: dicom.TagBitsStored, VR: dicom.VRUS, Value: []uint16{8}})
	ds.Put(&dicom.Element{Tag: dicom.TagSamplesPerPixel, VR: dicom.VRUS, Value: []uint16{1}})
	ds.Put(&dicom.Element{Tag: dicom.TagPhotometricInterp, VR: dicom.VRCS, Value: []string{"MONOCHROME2"}})
	ds.Put(&dicom.Element{Tag: dicom.TagNumberOfFrames, VR: dicom.VRIS, Value: []string{"3"}})
	ds.Put(&dicom.Element{Tag: dicom.TagPixelData, VR: dicom.VROW, Value: []byte{
		0, 10, 20, 30,
		40, 50, 60, 70,
		80, 90, 100, 110,
	}})
	return file
}

func TestRunRenderSingleFrameOfMultiFrame(t *testing.T) {
	root := t.TempDir()
	outDir := t.TempDir()
	if err := codec.Save(filepath.Join(root, "vol.dcm"), newMultiFrameInstance()); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	o := newOrchestrator(t, Options{
		Workers:       1,
		RenderRequest: render.RenderRequest{BitDepth: 8, Frame: render.Frame(0)},
	})
	report, err := o.Run(context.Background(), root, OperationRender, outDir)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if report.Succeeded != 1 {
		t.Fatalf("succeeded = %d, failures = %+v", report.Succeeded, report.Failures)
	}

	if got := len(report.Results[0].Outputs); got != 1 {
		t.Fatalf("got %d outputs for frame 0, want exactly 1: %v", got, report.Results[0].Outputs)
	}
	want := filepath.Join(outDir, "vol.png")
	if report.Results[0].Outputs[0] != want {
		t.Errorf("output = %s, want %s", report.Results[0].Outputs[0], want)
	}
}

func TestRunRenderAllFramesByDefault(t *testing.T) {
	root := t.TempDir()
	outDir := t.TempDir()
	if err := codec.Save(filepath.Join(root, "vol.dcm"), newMultiFrameInstance()); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	o := newOrchestrator(t, Options{Workers: 1})
	report, err := o.Run(context.Background(), root, OperationRender, outDir)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if report.Succeeded != 1 {
		t.Fatalf("succeeded = %d, failures = %+v", report.Succeeded, report.Failures)
	}

	outputs := report.Results[0].Outputs
	if len(outputs) != 3 {
		t.Fatalf("got %d outputs, want 3: %v", len(outputs), outputs)
	}
	for i, name := range []string{"vol_frame000.png", "vol_frame001.png", "vol_frame002.png"} {
		if filepath.Base(outputs[i]) != name {
			t.Errorf("output %d = %s, want %s", i, outputs[i], name)
		}
	}
}
