package traits

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Record is a parsed metadata document. It is read-only once parsed.
type Record struct {
	MetadataID  string
	Title       string
	Description string

	traits []Entry
	index  map[ID]int
}

// Entry is one trait of a record, kept in document order.
type Entry struct {
	ID      ID
	Payload any
}

// ParseRecord decodes a metadata document. Numbers are kept as json.Number.
// Both the top-level object and the traits mapping are decoded token by
// token so that a key declared twice is rejected rather than silently
// overwritten.
func ParseRecord(data []byte) (*Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, &MalformedRecordError{Reason: err.Error()}
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, &MalformedRecordError{Reason: "document must be a JSON object"}
	}

	rec := &Record{}
	stringFields := map[string]*string{
		"metadata_id": &rec.MetadataID,
		"title":       &rec.Title,
		"description": &rec.Description,
	}
	seen := make(map[string]bool)
	var rawTraits json.RawMessage
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, &MalformedRecordError{Reason: err.Error()}
		}
		key, ok := tok.(string)
		if !ok {
			return nil, &MalformedRecordError{Reason: fmt.Sprintf("unexpected token %v", tok)}
		}
		if seen[key] {
			return nil, &MalformedRecordError{Field: key, Reason: "declared more than once"}
		}
		seen[key] = true

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, &MalformedRecordError{Reason: err.Error()}
		}
		if dst, ok := stringFields[key]; ok {
			if err := json.Unmarshal(raw, dst); err != nil {
				return nil, &MalformedRecordError{Field: key, Reason: "must be a string"}
			}
		}
		if key == "traits" {
			rawTraits = raw
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, &MalformedRecordError{Reason: err.Error()}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &MalformedRecordError{Reason: "unexpected data after the document"}
	}

	for _, key := range []string{"metadata_id", "title", "description", "traits"} {
		if !seen[key] {
			return nil, &MalformedRecordError{Field: key, Reason: "required field is missing"}
		}
	}
	entries, err := decodeTraits(rawTraits)
	if err != nil {
		return nil, err
	}
	rec.traits = entries
	rec.index = make(map[ID]int, len(entries))
	for i, e := range entries {
		rec.index[e.ID] = i
	}
	return rec, nil
}

func decodeTraits(raw json.RawMessage) ([]Entry, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, &MalformedRecordError{Field: "traits", Reason: err.Error()}
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, &MalformedRecordError{Field: "traits", Reason: "must be a mapping"}
	}

	var entries []Entry
	seen := make(map[ID]struct{})
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, &MalformedRecordError{Field: "traits", Reason: err.Error()}
		}
		key, ok := tok.(string)
		if !ok {
			return nil, &MalformedRecordError{Field: "traits", Reason: fmt.Sprintf("unexpected token %v", tok)}
		}
		var payload any
		if err := dec.Decode(&payload); err != nil {
			return nil, &MalformedRecordError{Field: "traits." + key, Reason: err.Error()}
		}
		id := ID(key)
		if _, dup := seen[id]; dup {
			return nil, &DuplicateTraitError{Trait: id}
		}
		seen[id] = struct{}{}
		entries = append(entries, Entry{ID: id, Payload: payload})
	}
	if _, err := dec.Token(); err != nil && !errors.Is(err, io.EOF) {
		return nil, &MalformedRecordError{Field: "traits", Reason: err.Error()}
	}
	return entries, nil
}

// Traits returns the trait entries in document order.
func (r *Record) Traits() []Entry {
	out := make([]Entry, len(r.traits))
	copy(out, r.traits)
	return out
}

// Payload returns the raw payload of a trait.
func (r *Record) Payload(id ID) (any, bool) {
	i, ok := r.index[id]
	if !ok {
		return nil, false
	}
	return r.traits[i].Payload, true
}

// StringField returns a string key of a mapping payload.
func (r *Record) StringField(id ID, key string) (string, bool) {
	payload, ok := r.Payload(id)
	if !ok {
		return "", false
	}
	m, ok := payload.(map[string]any)
	if !ok {
		return "", false
	}
	s, ok := m[key].(string)
	return s, ok
}
