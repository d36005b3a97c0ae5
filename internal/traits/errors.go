package traits

import (
	"fmt"
	"strings"
)

// UnknownTraitError reports a trait id that has no shape in the registry.
type UnknownTraitError struct {
	Trait ID
}

func (e *UnknownTraitError) Error() string {
	return fmt.Sprintf("unknown trait %q", e.Trait)
}

// DuplicateTraitError reports a trait id declared twice in one record.
type DuplicateTraitError struct {
	Trait ID
}

func (e *DuplicateTraitError) Error() string {
	return fmt.Sprintf("trait %q declared more than once", e.Trait)
}

// MissingFieldError reports a required payload key that is absent.
type MissingFieldError struct {
	Trait ID
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("trait %q: missing required field %q", e.Trait, e.Field)
}

// TypeMismatchError reports a payload value of the wrong primitive kind.
// An empty Field refers to the payload itself.
type TypeMismatchError struct {
	Trait    ID
	Field    string
	Expected ValueKind
	Actual   ValueKind
}

func (e *TypeMismatchError) Error() string {
	field := e.Field
	if field == "" {
		field = "<payload>"
	}
	return fmt.Sprintf("trait %q: field %q must be %s, got %s", e.Trait, field, e.Expected, e.Actual)
}

// InvalidValueError reports a value outside its enumeration or format.
type InvalidValueError struct {
	Trait   ID
	Field   string
	Value   any
	Allowed []string
	Reason  string
}

func (e *InvalidValueError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "trait %q: field %q has invalid value %v", e.Trait, e.Field, e.Value)
	if len(e.Allowed) > 0 {
		fmt.Fprintf(&b, " (allowed: %s)", strings.Join(e.Allowed, ", "))
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	return b.String()
}

// MalformedRecordError reports a metadata document that does not have the
// record shape at all: invalid JSON or a missing/ill-typed top-level field.
type MalformedRecordError struct {
	Field  string
	Reason string
}

func (e *MalformedRecordError) Error() string {
	if e.Field == "" {
		return "malformed metadata record: " + e.Reason
	}
	return fmt.Sprintf("malformed metadata record: %s: %s", e.Field, e.Reason)
}
