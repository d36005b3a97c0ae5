package traits

import (
	"encoding/json"
	"fmt"
)

// ValueKind is the primitive kind of a decoded JSON value.
type ValueKind string

const (
	KindAny      ValueKind = "any"
	KindNull     ValueKind = "null"
	KindString   ValueKind = "string"
	KindNumber   ValueKind = "number"
	KindBoolean  ValueKind = "boolean"
	KindSequence ValueKind = "sequence"
	KindMapping  ValueKind = "mapping"
)

// KindOf reports the primitive kind of a value produced by encoding/json.
func KindOf(v any) ValueKind {
	switch v.(type) {
	case nil:
		return KindNull
	case string:
		return KindString
	case bool:
		return KindBoolean
	case json.Number, float64, float32, int, int64, int32, uint, uint64, uint32:
		return KindNumber
	case []any:
		return KindSequence
	case map[string]any:
		return KindMapping
	default:
		return ValueKind(fmt.Sprintf("%T", v))
	}
}

// kindFromSchemaType maps an OpenAPI schema type to a primitive kind.
func kindFromSchemaType(types []string) (ValueKind, error) {
	switch len(types) {
	case 0:
		return KindAny, nil
	case 1:
	default:
		return "", fmt.Errorf("multiple schema types %v are not supported", types)
	}
	switch types[0] {
	case "string":
		return KindString, nil
	case "number":
		return KindNumber, nil
	case "boolean":
		return KindBoolean, nil
	case "array":
		return KindSequence, nil
	case "object":
		return KindMapping, nil
	default:
		return "", fmt.Errorf("schema type %q is not supported", types[0])
	}
}
