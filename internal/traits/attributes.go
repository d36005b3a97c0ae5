package traits

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Display types accepted for nft_token_attributes entries.
const (
	DisplayNumber     = "number"
	DisplayPercentage = "percentage"
	DisplayString     = "string"
	DisplayBoolean    = "boolean"
	DisplayDate       = "date"
	DisplayDuration   = "duration"
)

// Every component may carry a decimal fraction; isISODuration allows it on
// the last component only.
var isoDuration = regexp.MustCompile(`^P(?:(\d+(?:[.,]\d+)?)Y)?(?:(\d+(?:[.,]\d+)?)M)?(?:(\d+(?:[.,]\d+)?)W)?(?:(\d+(?:[.,]\d+)?)D)?(?:T(?:(\d+(?:[.,]\d+)?)H)?(?:(\d+(?:[.,]\d+)?)M)?(?:(\d+(?:[.,]\d+)?)S)?)?$`)

// Fractional seconds are accepted by time.Parse after any seconds field.
var isoDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02",
	"15:04:05Z07:00",
	"15:04:05",
	"15:04Z07:00",
	"15:04",
}

// checkAttributeValues runs after the structural check, so every attribute
// is already a mapping with a valid display_type.
func checkAttributeValues(trait ID, payload any) error {
	attrs, _ := payload.(map[string]any)["attributes"].([]any)
	for i, item := range attrs {
		attr := item.(map[string]any)
		display, _ := attr["display_type"].(string)
		value := attr["value"]
		field := fmt.Sprintf("attributes[%d].value", i)

		var want ValueKind
		switch display {
		case DisplayNumber, DisplayPercentage:
			want = KindNumber
		case DisplayBoolean:
			want = KindBoolean
		default:
			want = KindString
		}
		if got := KindOf(value); got != want {
			return &TypeMismatchError{Trait: trait, Field: field, Expected: want, Actual: got}
		}

		switch display {
		case DisplayDate:
			if !isISODate(value.(string)) {
				return &InvalidValueError{Trait: trait, Field: field, Value: value, Reason: "not an ISO-8601 date, time or datetime"}
			}
		case DisplayDuration:
			if !isISODuration(value.(string)) {
				return &InvalidValueError{Trait: trait, Field: field, Value: value, Reason: "not an ISO-8601 duration"}
			}
		}
	}
	return nil
}

func isISODate(s string) bool {
	for _, layout := range isoDateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

func isISODuration(s string) bool {
	if s == "P" || s == "" || s[len(s)-1] == 'T' {
		return false
	}
	m := isoDuration.FindStringSubmatch(s)
	if m == nil {
		return false
	}
	last := -1
	for i := 1; i < len(m); i++ {
		if m[i] != "" {
			last = i
		}
	}
	for i := 1; i < last; i++ {
		if strings.ContainsAny(m[i], ".,") {
			return false
		}
	}
	return true
}
