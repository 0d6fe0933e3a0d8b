// Package anonymize implements rule-driven de-identification of DICOM
// element trees. Rules map VR classes and individual tags to redaction
// actions; the engine applies them recursively, producing a new tree with
// structure preserved and the original left untouched.
package anonymize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/medimaging/dicom-sentinel/internal/dicom"
)

// Action is one of the closed set of redaction actions a rule can select.
type Action int

const (
	// ActionKeep passes the value through unchanged.
	ActionKeep Action = iota
	// ActionMask replaces the value with a fixed placeholder that stays
	// syntactically valid for its VR.
	ActionMask
	// ActionHashIdentifier substitutes a deterministic digest-derived
	// identifier, preserving linkage across files without reversibility.
	ActionHashIdentifier
	// ActionZeroLength substitutes an empty value of the same VR.
	ActionZeroLength
)

func (a Action) String() string {
	switch a {
	case ActionKeep:
		return "keep"
	case ActionMask:
		return "mask"
	case ActionHashIdentifier:
		return "hash"
	case ActionZeroLength:
		return "zero"
	}
	return "unknown"
}

// ParseAction parses the configuration spelling of an action.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "keep":
		return ActionKeep, nil
	case "mask":
		return ActionMask, nil
	case "hash":
		return ActionHashIdentifier, nil
	case "zero":
		return ActionZeroLength, nil
	}
	return ActionKeep, fmt.Errorf("unknown anonymization action: %q", s)
}

// Fixed placeholder values used by ActionMask.
const (
	MaskedDate        = "19010101"
	MaskedTime        = "000000"
	MaskedDateTime    = "19010101000000"
	MaskedPersonName  = "ANONYMIZED"
	MaskedPatientName = "ANONYMOUS^PATIENT"
	MaskedText        = "ANONYMIZED"
)

// RuleSet is a total mapping from elements to actions: every VR class has
// a default action, overlaid by tag-specific overrides. Resolution is
// override first, class default second, so no element is ever silently
// skipped.
type RuleSet struct {
	classDefaults map[dicom.VRKind]Action
	tagOverrides  map[dicom.Tag]Action
}

// DefaultRules returns the standard de-identification rule set:
// person-name, date, time, and datetime values are masked, the patient
// identifier is hashed, and everything else is kept.
func DefaultRules() *RuleSet {
	return &RuleSet{
		classDefaults: map[dicom.VRKind]Action{
			dicom.KindPersonName:   ActionMask,
			dicom.KindDate:         ActionMask,
			dicom.KindTime:         ActionMask,
			dicom.KindDateTime:     ActionMask,
			dicom.KindText:         ActionKeep,
			dicom.KindUID:          ActionKeep,
			dicom.KindNumberBinary: ActionKeep,
			dicom.KindBulk:         ActionKeep,
			dicom.KindSequence:     ActionKeep,
		},
		tagOverrides: map[dicom.Tag]Action{
			dicom.TagPatientID: ActionHashIdentifier,
		},
	}
}

// Override adds or replaces a tag-specific rule.
func (r *RuleSet) Override(tag dicom.Tag, action Action) {
	r.tagOverrides[tag] = action
}

// ApplyOverrides parses override specs of the form "GGGG,EEEE=action" and
// installs them on the rule set.
func (r *RuleSet) ApplyOverrides(specs []string) error {
	for _, spec := range specs {
		parts := strings.SplitN(spec, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid rule override %q: want GGGG,EEEE=action", spec)
		}
		tag, err := parseTag(parts[0])
		if err != nil {
			return fmt.Errorf("invalid rule override %q: %w", spec, err)
		}
		action, err := ParseAction(parts[1])
		if err != nil {
			return fmt.Errorf("invalid rule override %q: %w", spec, err)
		}
		r.Override(tag, action)
	}
	return nil
}

// Resolve returns the action for an element: the tag override when one
// exists, else the VR-class default. Unknown classes resolve to keep,
// which can only happen if the VR table grows without a matching default.
func (r *RuleSet) Resolve(tag dicom.Tag, vr *dicom.VR) Action {
	if action, ok := r.tagOverrides[tag]; ok {
		return action
	}
	if action, ok := r.classDefaults[vr.Kind]; ok {
		return action
	}
	return ActionKeep
}

// HashIdentifier derives the redacted identifier for an original value:
// ANON_ plus the uppercase first 16 hex characters of the value's SHA-256
// digest. The scheme is fixed and unsalted, so the same source value maps
// to the same identifier across runs and across invocations.
func HashIdentifier(original string) string {
	digest := sha256.Sum256([]byte(original))
	return "ANON_" + strings.ToUpper(hex.EncodeToString(digest[:])[:16])
}

func parseTag(s string) (dicom.Tag, error) {
	s = strings.Trim(strings.TrimSpace(s), "()")
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed tag %q", s)
	}
	group, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 16, 16)
	if err != nil {
		return 0, fmt.Errorf("malformed tag group %q", parts[0])
	}
	element, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 16, 16)
	if err != nil {
		return 0, fmt.Errorf("malformed tag element %q", parts[1])
	}
	return dicom.NewTag(uint16(group), uint16(element)), nil
}
