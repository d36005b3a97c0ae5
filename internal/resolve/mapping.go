// Package resolve rewrites asset addresses between the CDN and the local
// asset directory. Both address spaces share the same relative layout, so a
// rewrite is a validated prefix substitution.
package resolve

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// PrefixMismatchError reports an address outside the expected root. Escapes
// is set when the address starts with the root but climbs out of it with
// ".." segments.
type PrefixMismatchError struct {
	Input   string
	Prefix  string
	Escapes bool
}

func (e *PrefixMismatchError) Error() string {
	if e.Escapes {
		return fmt.Sprintf("%q climbs out of %q", e.Input, e.Prefix)
	}
	return fmt.Sprintf("%q does not start with %q", e.Input, e.Prefix)
}

// Mapping is a bidirectional CDN base URL <-> local root mapping.
type Mapping struct {
	cdnBase   string
	localRoot string
}

// NewMapping validates both roots. The CDN base must be an absolute http(s)
// URL without query or fragment; a trailing slash is dropped.
func NewMapping(cdnBase, localRoot string) (*Mapping, error) {
	base := strings.TrimRight(strings.TrimSpace(cdnBase), "/")
	if base == "" {
		return nil, errors.New("cdn base url is required")
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse cdn base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("cdn base url must be http or https: %q", cdnBase)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("cdn base url must include a host: %q", cdnBase)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return nil, fmt.Errorf("cdn base url must not include a query or fragment: %q", cdnBase)
	}

	root := strings.TrimSpace(localRoot)
	if root == "" {
		return nil, errors.New("local root is required")
	}
	return &Mapping{cdnBase: base, localRoot: filepath.Clean(root)}, nil
}

func (m *Mapping) CDNBase() string { return m.cdnBase }

func (m *Mapping) LocalRoot() string { return m.localRoot }

// ToLocalPath replaces the CDN base prefix of rawURL with the local root.
func (m *Mapping) ToLocalPath(rawURL string) (string, error) {
	rest, ok := cutRoot(rawURL, m.cdnBase, "/")
	if !ok {
		return "", &PrefixMismatchError{Input: rawURL, Prefix: m.cdnBase}
	}
	if escapes(rest, "/") {
		return "", &PrefixMismatchError{Input: rawURL, Prefix: m.cdnBase, Escapes: true}
	}
	sep := string(filepath.Separator)
	local := filepath.FromSlash(rest)
	if strings.HasSuffix(m.localRoot, sep) {
		local = strings.TrimPrefix(local, sep)
	}
	return m.localRoot + local, nil
}

// ToCDNURL replaces the local root prefix of p with the CDN base.
func (m *Mapping) ToCDNURL(p string) (string, error) {
	sep := string(filepath.Separator)
	rest, ok := cutRoot(p, m.localRoot, sep)
	if !ok {
		return "", &PrefixMismatchError{Input: p, Prefix: m.localRoot}
	}
	if escapes(rest, sep) {
		return "", &PrefixMismatchError{Input: p, Prefix: m.localRoot, Escapes: true}
	}
	return m.cdnBase + filepath.ToSlash(rest), nil
}

// Relative returns the slash-separated path of rawURL below the CDN base.
func (m *Mapping) Relative(rawURL string) (string, error) {
	rest, ok := cutRoot(rawURL, m.cdnBase, "/")
	if !ok {
		return "", &PrefixMismatchError{Input: rawURL, Prefix: m.cdnBase}
	}
	if escapes(rest, "/") {
		return "", &PrefixMismatchError{Input: rawURL, Prefix: m.cdnBase, Escapes: true}
	}
	return strings.TrimPrefix(rest, "/"), nil
}

// LocalPath joins a relative slash path onto the local root.
func (m *Mapping) LocalPath(rel string) string {
	return filepath.Join(m.localRoot, filepath.FromSlash(rel))
}

// CDNURL joins a relative slash path onto the CDN base.
func (m *Mapping) CDNURL(rel string) string {
	return m.cdnBase + "/" + strings.TrimPrefix(path.Clean("/"+rel), "/")
}

// cutRoot strips root from s when s equals root or continues with sep right
// after it. The remainder keeps its leading separator.
func cutRoot(s, root, sep string) (string, bool) {
	if !strings.HasPrefix(s, root) {
		return "", false
	}
	rest := s[len(root):]
	if rest == "" {
		return "", true
	}
	if strings.HasSuffix(root, sep) {
		return sep + rest, true
	}
	if !strings.HasPrefix(rest, sep) {
		return "", false
	}
	return rest, true
}

// escapes reports whether the sep-separated remainder rest climbs above its
// root at any point.
func escapes(rest, sep string) bool {
	depth := 0
	for _, seg := range strings.Split(rest, sep) {
		switch seg {
		case "", ".":
		case "..":
			depth--
			if depth < 0 {
				return true
			}
		default:
			depth++
		}
	}
	return false
}

// ToLocalPath rewrites a CDN URL to a local path in one call.
func ToLocalPath(rawURL, cdnBase, localRoot string) (string, error) {
	m, err := NewMapping(cdnBase, localRoot)
	if err != nil {
		return "", err
	}
	return m.ToLocalPath(rawURL)
}

// ToCDNURL rewrites a local path to a CDN URL in one call.
func ToCDNURL(p, localRoot, cdnBase string) (string, error) {
	m, err := NewMapping(cdnBase, localRoot)
	if err != nil {
		return "", err
	}
	return m.ToCDNURL(p)
}
