package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/traittech/assetcheck/internal/platform/requestid"
	"github.com/traittech/assetcheck/internal/resolve"
)

const (
	DefaultProbeTimeout = 2 * time.Second
	maxMetadataBytes    = 1 << 20
)

var errMetadataTooLarge = fmt.Errorf("metadata document exceeds %d bytes", maxMetadataBytes)

// CDNStore probes the catalog over HTTP. Every request is a single attempt
// bounded by the probe timeout; failures are never retried.
type CDNStore struct {
	mapping *resolve.Mapping
	client  *http.Client
	timeout time.Duration
}

func NewCDN(mapping *resolve.Mapping, client *http.Client, timeout time.Duration) (*CDNStore, error) {
	if mapping == nil {
		return nil, errors.New("mapping is required")
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	if client == nil {
		client = NewHTTPClient(timeout)
	}
	return &CDNStore{mapping: mapping, client: client, timeout: timeout}, nil
}

func (s *CDNStore) Name() Name { return CDN }

func (s *CDNStore) MetadataAddress(rel string) string {
	return s.mapping.CDNURL(rel)
}

// ImageAddress accepts only URLs rooted at the configured CDN base.
func (s *CDNStore) ImageAddress(imageURL string) (string, error) {
	if _, err := s.mapping.Relative(imageURL); err != nil {
		return "", err
	}
	return imageURL, nil
}

func (s *CDNStore) FetchMetadata(ctx context.Context, addr string) ([]byte, error) {
	var body []byte
	err := s.get(ctx, addr, func(r io.Reader) error {
		b, err := io.ReadAll(io.LimitReader(r, maxMetadataBytes+1))
		if err != nil {
			return err
		}
		if len(b) > maxMetadataBytes {
			return errMetadataTooLarge
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (s *CDNStore) ProbeImage(ctx context.Context, addr string) error {
	return s.get(ctx, addr, func(r io.Reader) error {
		_, err := io.Copy(io.Discard, r)
		return err
	})
}

func (s *CDNStore) get(ctx context.Context, addr string, read func(io.Reader) error) error {
	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, addr, nil)
	if err != nil {
		return &UnreachableError{URL: addr, Err: err}
	}
	if id, ok := requestid.FromContext(ctx); ok {
		req.Header.Set(requestid.Header, id)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		// A cancelled run is not a CDN failure.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &UnreachableError{URL: addr, Timeout: isTimeout(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxMetadataBytes))
		return &UnreachableError{URL: addr, Status: resp.StatusCode}
	}
	if err := read(resp.Body); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &UnreachableError{URL: addr, Status: resp.StatusCode, Timeout: isTimeout(err), Err: fmt.Errorf("read body: %w", err)}
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// NewHTTPClient builds the probe client. The overall client timeout backs up
// the per-request context deadline.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   32,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   timeout,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}
