package traits

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"gopkg.in/yaml.v3"
)

const registrySchemaV1 = "assetcheck.traits.v1"

//go:embed registry.yaml
var defaultRegistryDoc []byte

// Registry is the immutable catalog of known traits and their payload
// shapes. Build it once per process and pass it to validators explicitly.
type Registry struct {
	shapes map[ID]*Shape
	order  []ID
}

// Shape is the compiled payload schema of one trait.
type Shape struct {
	id         ID
	rank       int
	imageField string
	root       *node
}

// FieldSpec describes one top-level payload key of a trait.
type FieldSpec struct {
	Key      string
	Kind     ValueKind
	Required bool
	Enum     []string
}

type node struct {
	kind       ValueKind
	required   []string
	properties map[string]*node
	keys       []string
	items      *node
	enum       []string
}

type registryDoc struct {
	Schema string     `yaml:"schema"`
	Traits []traitDoc `yaml:"traits"`
}

type traitDoc struct {
	ID         string         `yaml:"id"`
	ImageField string         `yaml:"image_field"`
	Shape      map[string]any `yaml:"shape"`
}

// NewRegistry loads the built-in trait registry.
func NewRegistry(ctx context.Context) (*Registry, error) {
	return LoadRegistry(ctx, defaultRegistryDoc)
}

// LoadRegistry parses a registry document. Each trait shape is an OpenAPI
// schema object; it is decoded and checked by kin-openapi and then compiled
// into the key/kind form the validator walks.
func LoadRegistry(ctx context.Context, raw []byte) (*Registry, error) {
	var doc registryDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode trait registry: %w", err)
	}
	if strings.TrimSpace(doc.Schema) != registrySchemaV1 {
		return nil, fmt.Errorf("trait registry schema must be %q", registrySchemaV1)
	}
	if len(doc.Traits) == 0 {
		return nil, errors.New("trait registry must declare at least one trait")
	}

	reg := &Registry{
		shapes: make(map[ID]*Shape, len(doc.Traits)),
		order:  make([]ID, 0, len(doc.Traits)),
	}
	for i, td := range doc.Traits {
		id := ID(strings.TrimSpace(td.ID))
		if id == "" {
			return nil, fmt.Errorf("traits[%d].id is required", i)
		}
		if _, ok := reg.shapes[id]; ok {
			return nil, fmt.Errorf("traits[%d].id must be unique (duplicate %q)", i, id)
		}

		schema, err := decodeSchema(ctx, td.Shape)
		if err != nil {
			return nil, fmt.Errorf("traits[%d] %s: %w", i, id, err)
		}
		root, err := compileNode(schema)
		if err != nil {
			return nil, fmt.Errorf("traits[%d] %s: %w", i, id, err)
		}
		if root.kind != KindMapping {
			return nil, fmt.Errorf("traits[%d] %s: shape must be an object", i, id)
		}

		imageField := strings.TrimSpace(td.ImageField)
		if imageField != "" {
			prop, ok := root.properties[imageField]
			if !ok || prop.kind != KindString || !slices.Contains(root.required, imageField) {
				return nil, fmt.Errorf("traits[%d] %s: image_field %q must be a required string property", i, id, imageField)
			}
		}

		reg.shapes[id] = &Shape{id: id, rank: i, imageField: imageField, root: root}
		reg.order = append(reg.order, id)
	}
	return reg, nil
}

func decodeSchema(ctx context.Context, shape map[string]any) (*openapi3.Schema, error) {
	if len(shape) == 0 {
		return nil, errors.New("shape is required")
	}
	raw, err := json.Marshal(shape)
	if err != nil {
		return nil, fmt.Errorf("encode shape: %w", err)
	}
	var schema openapi3.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("decode shape: %w", err)
	}
	if err := schema.Validate(ctx); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	return &schema, nil
}

func compileNode(schema *openapi3.Schema) (*node, error) {
	var types []string
	if schema.Type != nil {
		types = schema.Type.Slice()
	}
	kind, err := kindFromSchemaType(types)
	if err != nil {
		return nil, err
	}
	n := &node{kind: kind}

	for _, v := range schema.Enum {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("enum value %v must be a string", v)
		}
		n.enum = append(n.enum, s)
	}

	switch kind {
	case KindMapping:
		n.required = append([]string(nil), schema.Required...)
		n.properties = make(map[string]*node, len(schema.Properties))
		for key, ref := range schema.Properties {
			if ref == nil || ref.Value == nil {
				return nil, fmt.Errorf("property %q has no schema", key)
			}
			child, err := compileNode(ref.Value)
			if err != nil {
				return nil, fmt.Errorf("property %q: %w", key, err)
			}
			n.properties[key] = child
			n.keys = append(n.keys, key)
		}
		sort.Strings(n.keys)
		for _, key := range n.required {
			if _, ok := n.properties[key]; !ok {
				return nil, fmt.Errorf("required key %q is not declared in properties", key)
			}
		}
	case KindSequence:
		if schema.Items != nil && schema.Items.Value != nil {
			items, err := compileNode(schema.Items.Value)
			if err != nil {
				return nil, fmt.Errorf("items: %w", err)
			}
			n.items = items
		}
	}
	return n, nil
}

// Shape returns the payload shape for a trait id. An id absent from the
// registry yields *UnknownTraitError.
func (r *Registry) Shape(id ID) (*Shape, error) {
	shape, ok := r.shapes[id]
	if !ok {
		return nil, &UnknownTraitError{Trait: id}
	}
	return shape, nil
}

// IDs returns every registered trait in canonical order.
func (r *Registry) IDs() []ID {
	return slices.Clone(r.order)
}

// Rank returns the canonical position of a trait.
func (r *Registry) Rank(id ID) (int, bool) {
	shape, ok := r.shapes[id]
	if !ok {
		return 0, false
	}
	return shape.rank, true
}

// Canonical sorts ids into registry order. Unknown ids are an error.
func (r *Registry) Canonical(ids []ID) ([]ID, error) {
	out := slices.Clone(ids)
	for _, id := range out {
		if _, ok := r.shapes[id]; !ok {
			return nil, &UnknownTraitError{Trait: id}
		}
	}
	slices.SortFunc(out, func(a, b ID) int {
		return r.shapes[a].rank - r.shapes[b].rank
	})
	return out, nil
}

func (s *Shape) ID() ID { return s.id }

func (s *Shape) Rank() int { return s.rank }

// ImageField names the payload key holding an image URL, or "" when the
// trait carries no image.
func (s *Shape) ImageField() string { return s.imageField }

// Fields lists the top-level payload keys, required keys first.
func (s *Shape) Fields() []FieldSpec {
	out := make([]FieldSpec, 0, len(s.root.keys))
	for _, key := range s.root.required {
		out = append(out, s.fieldSpec(key, true))
	}
	for _, key := range s.root.keys {
		if slices.Contains(s.root.required, key) {
			continue
		}
		out = append(out, s.fieldSpec(key, false))
	}
	return out
}

func (s *Shape) fieldSpec(key string, required bool) FieldSpec {
	n := s.root.properties[key]
	return FieldSpec{
		Key:      key,
		Kind:     n.kind,
		Required: required,
		Enum:     slices.Clone(n.enum),
	}
}
