package batch

import (
	"context"
	"fmt"
	"time"
)

// Operation selects what each discovered file is put through.
type Operation string

const (
	OperationAnonymize Operation = "anonymize"
	OperationRender    Operation = "render"
	OperationValidate  Operation = "validate"
)

// ParseOperation parses the CLI/config spelling of an operation.
func ParseOperation(s string) (Operation, error) {
	switch Operation(s) {
	case OperationAnonymize, OperationRender, OperationValidate:
		return Operation(s), nil
	}
	return "", fmt.Errorf("unknown batch operation: %q", s)
}

// ErrorKind classifies a per-file failure for the aggregate report.
type ErrorKind string

const (
	ErrorKindDecode      ErrorKind = "decode"
	ErrorKindIntegrity   ErrorKind = "integrity"
	ErrorKindUnsupported ErrorKind = "unsupported_format"
	ErrorKindValidation  ErrorKind = "validation"
	ErrorKindIO          ErrorKind = "io"
	ErrorKindInternal    ErrorKind = "internal"
)

// Job is one unit of work: an input file, the operation to apply, and the
// directory outputs go to. Jobs are immutable once dispatched.
type Job struct {
	InputPath string
	Operation Operation
	OutputDir string
}

// Result is the outcome of one job. Exactly one of Succeeded, Skipped, or
// a non-empty ErrorKind holds.
type Result struct {
	Path      string        `json:"path"`
	Operation Operation     `json:"operation"`
	Succeeded bool          `json:"succeeded"`
	Skipped   bool          `json:"skipped"`
	Outputs   []string      `json:"outputs,omitempty"`
	ErrorKind ErrorKind     `json:"error_kind,omitempty"`
	Detail    string        `json:"detail,omitempty"`
	Notes     []string      `json:"notes,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Failure is the report's view of one failed file.
type Failure struct {
	Path   string    `json:"path"`
	Kind   ErrorKind `json:"kind"`
	Detail string    `json:"detail"`
}

// Report aggregates every result of one batch invocation. It is finalized
// only after every dispatched job has completed or failed.
type Report struct {
	Root       string        `json:"root"`
	Operation  Operation     `json:"operation"`
	Discovered int           `json:"discovered"`
	Dispatched int           `json:"dispatched"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Failures   []Failure     `json:"failures"`
	Results    []Result      `json:"results"`
	Duration   time.Duration `json:"duration"`
}

// Ledger remembers which inputs earlier runs already processed, keyed by
// content hash. Implementations must be safe for concurrent use.
type Ledger interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key, outcome string) error
}
