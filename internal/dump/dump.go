// Package dump renders a human-readable listing of a dataset, including
// nested sequences, with configurable depth and value previews.
package dump

import (
	"fmt"
	"strings"

	"github.com/medimaging/dicom-sentinel/internal/dicom"
)

// Options caps the output volume of a dump.
type Options struct {
	// MaxDepth is the deepest sequence nesting level rendered.
	MaxDepth int
	// MaxValueLen truncates value previews to this many characters.
	MaxValueLen int
}

// DefaultOptions mirror the CLI defaults.
func DefaultOptions() Options {
	return Options{MaxDepth: 4, MaxValueLen: 64}
}

// DataSet renders the dataset as indented text, one line per element.
func DataSet(ds *dicom.DataSet, opts Options) string {
	var out strings.Builder
	dumpLevel(&out, ds, 0, opts)
	return out.String()
}

func dumpLevel(out *strings.Builder, ds *dicom.DataSet, depth int, opts Options) {
	indent := strings.Repeat("  ", depth)
	for _, e := range ds.SortedElements() {
		if seq := e.Sequence(); seq != nil {
			fmt.Fprintf(out, "%s%s %s [sequence: %d item(s)]\n", indent, e.Tag, e.VR.Name, len(seq.Items))
			if depth < opts.MaxDepth {
				for i, item := range seq.Items {
					fmt.Fprintf(out, "%s  Item %d\n", indent, i+1)
					dumpLevel(out, item, depth+2, opts)
				}
			}
			continue
		}
		fmt.Fprintf(out, "%s%s %s %s\n", indent, e.Tag, e.VR.Name, preview(e, opts.MaxValueLen))
	}
}

func preview(e *dicom.Element, limit int) string {
	if s, ok := e.StringValue(); ok {
		return truncate(s, limit)
	}
	switch v := e.Value.(type) {
	case []byte:
		return fmt.Sprintf("%d bytes", len(v))
	case []uint16, []int16, []uint32, []int32, []float32, []float64:
		return truncate(strings.Trim(fmt.Sprint(v), "[]"), limit)
	}
	return fmt.Sprintf("%T", e.Value)
}

func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
