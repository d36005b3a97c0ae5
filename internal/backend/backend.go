// Package backend implements the address spaces a catalog is published to:
// the local asset directory, the CDN, and optionally the S3 origin bucket
// the CDN serves from.
package backend

import (
	"context"
	"fmt"
	"strings"
)

type Name string

const (
	Local  Name = "local"
	CDN    Name = "cdn"
	Origin Name = "origin"
)

// ParseName validates a backend name.
func ParseName(s string) (Name, error) {
	switch n := Name(strings.ToLower(strings.TrimSpace(s))); n {
	case Local, CDN, Origin:
		return n, nil
	default:
		return "", fmt.Errorf("unknown backend %q (want local, cdn or origin)", s)
	}
}

// Backend resolves and probes catalog addresses in one address space.
// Implementations are safe for concurrent use.
type Backend interface {
	Name() Name
	// MetadataAddress maps a slash-separated catalog path to this backend.
	MetadataAddress(rel string) string
	// ImageAddress maps an image URL found in metadata to this backend.
	ImageAddress(imageURL string) (string, error)
	// FetchMetadata reads a metadata document. Availability problems are
	// returned as *MissingError or *UnreachableError.
	FetchMetadata(ctx context.Context, addr string) ([]byte, error)
	// ProbeImage confirms an image exists at addr.
	ProbeImage(ctx context.Context, addr string) error
}

// MissingError reports an address with no usable object behind it.
type MissingError struct {
	Path   string
	Reason string
}

func (e *MissingError) Error() string {
	if e.Reason == "" {
		return "missing: " + e.Path
	}
	return fmt.Sprintf("missing: %s: %s", e.Path, e.Reason)
}

// UnreachableError reports a remote address that did not answer with a
// success status within the probe timeout. Status is 0 when no response was
// received.
type UnreachableError struct {
	URL     string
	Status  int
	Timeout bool
	Err     error
}

func (e *UnreachableError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("unreachable: %s: timeout", e.URL)
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("unreachable: %s: status %d: %v", e.URL, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("unreachable: %s: status %d", e.URL, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("unreachable: %s: %v", e.URL, e.Err)
	default:
		return "unreachable: " + e.URL
	}
}

func (e *UnreachableError) Unwrap() error { return e.Err }
