package traits

import (
	"errors"
	"fmt"
	"slices"
)

// Validator checks trait payloads against a Registry. It holds no mutable
// state and is safe for concurrent use.
type Validator struct {
	registry         *Registry
	strictAttributes bool
}

type Option func(*Validator)

// WithStrictAttributes type-checks nft_token_attributes values against their
// display_type. Off by default: the value is only required to be present.
func WithStrictAttributes(on bool) Option {
	return func(v *Validator) { v.strictAttributes = on }
}

func NewValidator(registry *Registry, opts ...Option) (*Validator, error) {
	if registry == nil {
		return nil, errors.New("trait registry is required")
	}
	v := &Validator{registry: registry}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

func (v *Validator) Registry() *Registry { return v.registry }

func (v *Validator) StrictAttributes() bool { return v.strictAttributes }

// Validate checks every trait of rec and returns the declared trait ids in
// canonical registry order, independent of document order. The first
// structural problem found is returned as a typed error.
func (v *Validator) Validate(rec *Record) ([]ID, error) {
	if rec == nil {
		return nil, &MalformedRecordError{Reason: "record is nil"}
	}
	present := make([]ID, 0, len(rec.traits))
	for _, entry := range rec.traits {
		shape, err := v.registry.Shape(entry.ID)
		if err != nil {
			return nil, err
		}
		if err := checkNode(entry.ID, "", shape.root, entry.Payload); err != nil {
			return nil, err
		}
		if v.strictAttributes && entry.ID == TokenAttributes {
			if err := checkAttributeValues(entry.ID, entry.Payload); err != nil {
				return nil, err
			}
		}
		present = append(present, entry.ID)
	}
	return v.registry.Canonical(present)
}

func checkNode(trait ID, path string, n *node, value any) error {
	actual := KindOf(value)
	if n.kind != KindAny && actual != n.kind {
		return &TypeMismatchError{Trait: trait, Field: path, Expected: n.kind, Actual: actual}
	}
	if len(n.enum) > 0 {
		s, _ := value.(string)
		if !slices.Contains(n.enum, s) {
			return &InvalidValueError{Trait: trait, Field: path, Value: value, Allowed: slices.Clone(n.enum)}
		}
	}

	switch n.kind {
	case KindMapping:
		m := value.(map[string]any)
		for _, key := range n.required {
			if _, ok := m[key]; !ok {
				return &MissingFieldError{Trait: trait, Field: joinPath(path, key)}
			}
		}
		for _, key := range n.keys {
			child, ok := m[key]
			if !ok {
				continue
			}
			if err := checkNode(trait, joinPath(path, key), n.properties[key], child); err != nil {
				return err
			}
		}
	case KindSequence:
		if n.items == nil {
			return nil
		}
		for i, item := range value.([]any) {
			if err := checkNode(trait, fmt.Sprintf("%s[%d]", path, i), n.items, item); err != nil {
				return err
			}
		}
	}
	return nil
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
