package asset

import (
	"path"
	"strings"
)

// Reference identifies one metadata file by kind and by its slash-separated
// path relative to the catalog root. The path is the same on every backend;
// only the root prefix differs.
type Reference struct {
	Kind Kind
	Path string
}

// NewReference classifies a relative metadata path.
func NewReference(rel string) (Reference, error) {
	rel = strings.TrimPrefix(path.Clean(strings.ReplaceAll(rel, "\\", "/")), "/")
	kind, err := Classify(rel)
	if err != nil {
		return Reference{}, err
	}
	return Reference{Kind: kind, Path: rel}, nil
}

// Dir is the relative directory holding the metadata file and its images.
func (r Reference) Dir() string {
	return path.Dir(r.Path)
}

func (r Reference) String() string {
	return r.Kind.String() + ":" + r.Path
}
