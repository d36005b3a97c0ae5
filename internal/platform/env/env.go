// Package env reads typed settings from the process environment.
package env

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Source reads variables that share a name prefix. Values are trimmed and a
// variable that is set but blank counts as unset.
type Source struct {
	prefix string
}

func WithPrefix(prefix string) Source {
	return Source{prefix: prefix}
}

// Key returns the full variable name for name.
func (s Source) Key(name string) string {
	return s.prefix + name
}

func (s Source) lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(s.Key(name))
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (s Source) String(name, def string) string {
	if v, ok := s.lookup(name); ok {
		return v
	}
	return def
}

func (s Source) Duration(name string, def time.Duration) (time.Duration, error) {
	return parse(s, name, def, time.ParseDuration)
}

func (s Source) Bool(name string, def bool) (bool, error) {
	return parse(s, name, def, strconv.ParseBool)
}

func (s Source) Int(name string, def int) (int, error) {
	return parse(s, name, def, strconv.Atoi)
}

// List splits a comma-separated value, dropping empty items.
func (s Source) List(name string, def []string) []string {
	v, ok := s.lookup(name)
	if !ok {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parse[T any](s Source, name string, def T, fn func(string) (T, error)) (T, error) {
	v, ok := s.lookup(name)
	if !ok {
		return def, nil
	}
	out, err := fn(v)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("parse %s: %w", s.Key(name), err)
	}
	return out, nil
}
