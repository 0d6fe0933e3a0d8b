package anonymize

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/medimaging/dicom-sentinel/internal/dicom"
	"github.com/medimaging/dicom-sentinel/internal/logger"
)

// Warning records a non-fatal rule resolution problem: a safe default was
// applied instead of the configured action.
type Warning struct {
	Tag     dicom.Tag `json:"tag"`
	Message string    `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Tag, w.Message)
}

// Result is the outcome of anonymizing one tree.
type Result struct {
	// DataSet is the redacted tree. The input tree is never modified.
	DataSet *dicom.DataSet
	// Warnings lists elements that needed a fallback action.
	Warnings []Warning
	// Redacted counts elements whose value was replaced.
	Redacted int
}

// Engine applies a rule set to element trees.
type Engine struct {
	rules  *RuleSet
	logger *logger.Logger
}

// New creates an anonymization engine.
func New(rules *RuleSet, log *logger.Logger) *Engine {
	return &Engine{rules: rules, logger: log}
}

// Anonymize produces a redacted copy of the tree. Rules are resolved per
// element, override first then VR-class default, and the same global rule
// set applies at every nesting depth. The engine never touches the
// filesystem; encoding the result is the caller's concern.
func (e *Engine) Anonymize(ds *dicom.DataSet) (*Result, error) {
	result := &Result{}

	out, err := ds.Rewrite(func(el *dicom.Element) (*dicom.Element, error) {
		action := e.rules.Resolve(el.Tag, el.VR)
		return e.apply(el, action, result), nil
	})
	if err != nil {
		return nil, err
	}
	result.DataSet = out

	e.logger.Debug("dataset anonymized",
		zap.Int("redacted", result.Redacted),
		zap.Int("warnings", len(result.Warnings)))

	return result, nil
}

func (e *Engine) apply(el *dicom.Element, action Action, result *Result) *dicom.Element {
	switch action {
	case ActionKeep:
		return el
	case ActionZeroLength:
		el.Value = emptyValue(el)
		result.Redacted++
		return el
	case ActionMask:
		return e.mask(el, result)
	case ActionHashIdentifier:
		return e.hash(el, result)
	}
	return el
}

func (e *Engine) mask(el *dicom.Element, result *Result) *dicom.Element {
	var placeholder string
	switch el.VR.Kind {
	case dicom.KindDate:
		placeholder = MaskedDate
	case dicom.KindTime:
		placeholder = MaskedTime
	case dicom.KindDateTime:
		placeholder = MaskedDateTime
	case dicom.KindPersonName:
		if el.Tag == dicom.TagPatientName {
			placeholder = MaskedPatientName
		} else {
			placeholder = MaskedPersonName
		}
	case dicom.KindText, dicom.KindUID:
		placeholder = MaskedText
	default:
		// Mask has no valid placeholder for binary or sequence values;
		// fall back to an empty value and surface the mismatch.
		e.warn(el, result, fmt.Sprintf("mask unsupported for VR %s, value emptied", el.VR.Name))
		el.Value = emptyValue(el)
		result.Redacted++
		return el
	}
	el.Value = []string{placeholder}
	result.Redacted++
	return el
}

func (e *Engine) hash(el *dicom.Element, result *Result) *dicom.Element {
	original, ok := el.StringValue()
	if !ok {
		e.warn(el, result, fmt.Sprintf("hash requires a textual value, VR %s emptied", el.VR.Name))
		el.Value = emptyValue(el)
		result.Redacted++
		return el
	}
	if original == "" {
		original = "UNKNOWN"
	}
	el.Value = []string{HashIdentifier(original)}
	result.Redacted++
	return el
}

func (e *Engine) warn(el *dicom.Element, result *Result, msg string) {
	result.Warnings = append(result.Warnings, Warning{Tag: el.Tag, Message: msg})
	e.logger.Warn("anonymization fallback applied",
		zap.String("tag", el.Tag.String()),
		zap.String("vr", el.VR.Name),
		zap.String("reason", msg))
}

// emptyValue returns a zero-length value of the element's VR.
func emptyValue(el *dicom.Element) interface{} {
	switch el.VR.Kind {
	case dicom.KindSequence:
		return &dicom.Sequence{}
	case dicom.KindBulk:
		return []byte{}
	case dicom.KindNumberBinary:
		switch v := el.Value.(type) {
		case []int16:
			return v[:0:0]
		case []uint32:
			return v[:0:0]
		case []int32:
			return v[:0:0]
		case []float32:
			return v[:0:0]
		case []float64:
			return v[:0:0]
		default:
			return []uint16{}
		}
	default:
		return []string{}
	}
}
