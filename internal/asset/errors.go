package asset

import (
	"fmt"
	"slices"
	"strings"

	"github.com/traittech/assetcheck/internal/traits"
)

// UnknownAssetError reports a metadata file name that carries none of the
// kind markers.
type UnknownAssetError struct {
	Filename string
}

func (e *UnknownAssetError) Error() string {
	return fmt.Sprintf("unknown metadata file: %s", e.Filename)
}

// WrongTraitSetError reports a record whose traits do not equal its kind's
// signature.
type WrongTraitSetError struct {
	Kind Kind
	Want []traits.ID
	Got  []traits.ID
}

func (e *WrongTraitSetError) Error() string {
	return fmt.Sprintf("unexpected set of traits for %s: got [%s], want [%s]",
		e.Kind, strings.Join(traits.Strings(e.Got), ", "), strings.Join(traits.Strings(e.Want), ", "))
}

// Missing lists signature traits absent from the record.
func (e *WrongTraitSetError) Missing() []traits.ID {
	var out []traits.ID
	for _, id := range e.Want {
		if !slices.Contains(e.Got, id) {
			out = append(out, id)
		}
	}
	return out
}

// Extra lists record traits that are not part of the signature.
func (e *WrongTraitSetError) Extra() []traits.ID {
	var out []traits.ID
	for _, id := range e.Got {
		if !slices.Contains(e.Want, id) {
			out = append(out, id)
		}
	}
	return out
}
