// Package asset classifies metadata files into asset kinds and holds the
// trait signature each kind must declare.
package asset

import (
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/traittech/assetcheck/internal/traits"
)

// Kind is one of the four catalog categories.
type Kind int

const (
	AppAgent Kind = iota + 1
	Fungible
	NftCollection
	NftToken
)

// markers is checked in order; the first marker contained in the file name
// wins.
var markers = []struct {
	marker string
	kind   Kind
}{
	{"app-agent", AppAgent},
	{"fungible", Fungible},
	{"nft-collection", NftCollection},
	{"nft-token", NftToken},
}

var signatures = map[Kind][]traits.ID{
	AppAgent: {traits.Named, traits.SquareIcon},
	Fungible: {traits.Named, traits.Fungible, traits.SquareIcon},
	NftCollection: {
		traits.Named,
		traits.SquareIcon,
		traits.CollectionListingImage,
	},
	NftToken: {
		traits.Named,
		traits.SquareIcon,
		traits.TokenListingImage,
		traits.TokenCoverImage,
		traits.TokenDescription,
		traits.TokenAttributes,
	},
}

// Kinds lists every asset kind in marker order.
func Kinds() []Kind {
	return []Kind{AppAgent, Fungible, NftCollection, NftToken}
}

func (k Kind) String() string {
	switch k {
	case AppAgent:
		return "app-agent"
	case Fungible:
		return "fungible"
	case NftCollection:
		return "nft-collection"
	case NftToken:
		return "nft-token"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Signature returns the exact, canonically ordered trait list a record of
// this kind must declare.
func (k Kind) Signature() []traits.ID {
	return slices.Clone(signatures[k])
}

// Classify maps a metadata file name (or path; only the base name is
// inspected) to its asset kind.
func Classify(filename string) (Kind, error) {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	for _, m := range markers {
		if strings.Contains(base, m.marker) {
			return m.kind, nil
		}
	}
	return 0, &UnknownAssetError{Filename: filename}
}

// CheckSignature compares validated traits against the kind's signature.
// Equality is list equality; got must already be in canonical order.
func (k Kind) CheckSignature(got []traits.ID) error {
	want := signatures[k]
	if slices.Equal(want, got) {
		return nil
	}
	return &WrongTraitSetError{Kind: k, Want: slices.Clone(want), Got: slices.Clone(got)}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}
