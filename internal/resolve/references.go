package resolve

import (
	"github.com/traittech/assetcheck/internal/traits"
)

// ImageRef is one image URL carried by a trait payload.
type ImageRef struct {
	Trait traits.ID
	URL   string
}

// Images extracts every image URL of a validated record in canonical trait
// order. Which traits carry an image is decided by the registry shapes.
func Images(reg *traits.Registry, rec *traits.Record) []ImageRef {
	var out []ImageRef
	for _, id := range reg.IDs() {
		shape, err := reg.Shape(id)
		if err != nil || shape.ImageField() == "" {
			continue
		}
		u, ok := rec.StringField(id, shape.ImageField())
		if !ok {
			continue
		}
		out = append(out, ImageRef{Trait: id, URL: u})
	}
	return out
}
