package consistency

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/traittech/assetcheck/internal/asset"
	"github.com/traittech/assetcheck/internal/backend"
	"github.com/traittech/assetcheck/internal/resolve"
	"github.com/traittech/assetcheck/internal/traits"
)

// State is a step of the per-asset, per-backend pipeline.
type State string

const (
	StateDiscovered         State = "discovered"
	StateClassified         State = "classified"
	StateTraitsValidated    State = "traits_validated"
	StateReferencesResolved State = "references_resolved"
	StateConfirmed          State = "confirmed"
	StateMissing            State = "missing"
	StateUnreachable        State = "unreachable"
)

// Reason names a failure in the report.
type Reason string

const (
	ReasonUnknownAsset    Reason = "UnknownAsset"
	ReasonUnknownTrait    Reason = "UnknownTrait"
	ReasonMissingField    Reason = "MissingField"
	ReasonTypeMismatch    Reason = "TypeMismatch"
	ReasonInvalidValue    Reason = "InvalidValue"
	ReasonDuplicateTrait  Reason = "DuplicateTrait"
	ReasonMalformedRecord Reason = "MalformedRecord"
	ReasonWrongTraitSet   Reason = "WrongTraitSet"
	ReasonPrefixMismatch  Reason = "PrefixMismatch"
	ReasonMissing         Reason = "Missing"
	ReasonUnreachable     Reason = "Unreachable"
	ReasonDrift           Reason = "Drift"
)

// Structural reports whether the reason belongs to the fatal tier.
func (r Reason) Structural() bool {
	switch r {
	case ReasonMissing, ReasonUnreachable, ReasonDrift:
		return false
	default:
		return true
	}
}

type Failure struct {
	Reason   Reason `json:"reason"`
	Trait    string `json:"trait,omitempty"`
	Field    string `json:"field,omitempty"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
	Path     string `json:"path,omitempty"`
	URL      string `json:"url,omitempty"`
	Status   int    `json:"status,omitempty"`
	Timeout  bool   `json:"timeout,omitempty"`
	Message  string `json:"message"`
}

// FailureFrom converts a typed pipeline error into a report entry.
func FailureFrom(err error) Failure {
	f := Failure{Message: err.Error()}

	var (
		unknownAsset *asset.UnknownAssetError
		wrongSet     *asset.WrongTraitSetError
		unknownTrait *traits.UnknownTraitError
		duplicate    *traits.DuplicateTraitError
		missingField *traits.MissingFieldError
		mismatch     *traits.TypeMismatchError
		invalid      *traits.InvalidValueError
		malformed    *traits.MalformedRecordError
		prefix       *resolve.PrefixMismatchError
		missing      *backend.MissingError
		unreachable  *backend.UnreachableError
	)
	switch {
	case errors.As(err, &unknownAsset):
		f.Reason = ReasonUnknownAsset
		f.Path = unknownAsset.Filename
	case errors.As(err, &wrongSet):
		f.Reason = ReasonWrongTraitSet
		f.Expected = strings.Join(traits.Strings(wrongSet.Want), ",")
		f.Actual = strings.Join(traits.Strings(wrongSet.Got), ",")
		f.Message = traitSetDiff(wrongSet)
	case errors.As(err, &unknownTrait):
		f.Reason = ReasonUnknownTrait
		f.Trait = string(unknownTrait.Trait)
	case errors.As(err, &duplicate):
		f.Reason = ReasonDuplicateTrait
		f.Trait = string(duplicate.Trait)
	case errors.As(err, &missingField):
		f.Reason = ReasonMissingField
		f.Trait = string(missingField.Trait)
		f.Field = missingField.Field
	case errors.As(err, &mismatch):
		f.Reason = ReasonTypeMismatch
		f.Trait = string(mismatch.Trait)
		f.Field = mismatch.Field
		f.Expected = string(mismatch.Expected)
		f.Actual = string(mismatch.Actual)
	case errors.As(err, &invalid):
		f.Reason = ReasonInvalidValue
		f.Trait = string(invalid.Trait)
		f.Field = invalid.Field
		f.Expected = strings.Join(invalid.Allowed, ",")
		f.Actual = fmt.Sprint(invalid.Value)
	case errors.As(err, &malformed):
		f.Reason = ReasonMalformedRecord
		f.Field = malformed.Field
	case errors.As(err, &prefix):
		f.Reason = ReasonPrefixMismatch
		f.URL = prefix.Input
		f.Expected = prefix.Prefix
	case errors.As(err, &missing):
		f.Reason = ReasonMissing
		f.Path = missing.Path
	case errors.As(err, &unreachable):
		f.Reason = ReasonUnreachable
		f.URL = unreachable.URL
		f.Status = unreachable.Status
		f.Timeout = unreachable.Timeout
	default:
		f.Reason = ReasonUnreachable
	}
	return f
}

// traitSetDiff names the traits a record lacks and the ones it must not
// declare. Equal sets mean only the order is wrong.
func traitSetDiff(e *asset.WrongTraitSetError) string {
	var parts []string
	if missing := e.Missing(); len(missing) > 0 {
		parts = append(parts, "missing "+strings.Join(traits.Strings(missing), ","))
	}
	if extra := e.Extra(); len(extra) > 0 {
		parts = append(parts, "unexpected "+strings.Join(traits.Strings(extra), ","))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%s traits out of canonical order", e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, strings.Join(parts, "; "))
}

// IsStructural reports whether err means the metadata itself is invalid, as
// opposed to an availability problem on some backend.
func IsStructural(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var (
		missing     *backend.MissingError
		unreachable *backend.UnreachableError
	)
	if errors.As(err, &missing) || errors.As(err, &unreachable) {
		return false
	}
	return FailureFrom(err).Reason.Structural()
}

// AbortError stops a run on the first structural failure.
type AbortError struct {
	Asset string
	Err   error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("run aborted at %s: %v", e.Asset, e.Err)
}

func (e *AbortError) Unwrap() error { return e.Err }
