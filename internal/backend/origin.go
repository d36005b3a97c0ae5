package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/traittech/assetcheck/internal/platform/objectstore"
	"github.com/traittech/assetcheck/internal/resolve"
)

// ObjectStore is the subset of the origin bucket client the checker needs.
type ObjectStore interface {
	Bucket() string
	Stat(ctx context.Context, key string) (objectstore.ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// OriginStore checks the bucket the CDN serves from. Object keys are the
// configured prefix followed by the catalog-relative path.
type OriginStore struct {
	mapping *resolve.Mapping
	store   ObjectStore
	cfg     objectstore.Config
	timeout time.Duration
}

func NewOrigin(mapping *resolve.Mapping, store ObjectStore, cfg objectstore.Config, timeout time.Duration) (*OriginStore, error) {
	if mapping == nil {
		return nil, errors.New("mapping is required")
	}
	if store == nil {
		return nil, errors.New("object store is required")
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &OriginStore{mapping: mapping, store: store, cfg: cfg, timeout: timeout}, nil
}

func (s *OriginStore) Name() Name { return Origin }

func (s *OriginStore) MetadataAddress(rel string) string {
	return s.cfg.Key(rel)
}

func (s *OriginStore) ImageAddress(imageURL string) (string, error) {
	rel, err := s.mapping.Relative(imageURL)
	if err != nil {
		return "", err
	}
	return s.cfg.Key(rel), nil
}

func (s *OriginStore) FetchMetadata(ctx context.Context, key string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	body, err := s.store.Get(reqCtx, key)
	if err != nil {
		return nil, s.classify(ctx, key, err)
	}
	defer body.Close()
	data, err := io.ReadAll(io.LimitReader(body, maxMetadataBytes))
	if err != nil {
		return nil, s.classify(ctx, key, fmt.Errorf("read object: %w", err))
	}
	return data, nil
}

// ProbeImage requires the object to exist under an image key.
func (s *OriginStore) ProbeImage(ctx context.Context, key string) error {
	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.store.Stat(reqCtx, key); err != nil {
		return s.classify(ctx, key, err)
	}
	if !strings.HasSuffix(strings.ToLower(key), imageExt) {
		return &MissingError{Path: s.url(key), Reason: "expected a " + imageExt + " object"}
	}
	return nil
}

func (s *OriginStore) classify(ctx context.Context, key string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if objectstore.IsNotFound(err) {
		return &MissingError{Path: s.url(key)}
	}
	return &UnreachableError{URL: s.url(key), Timeout: isTimeout(err), Err: err}
}

func (s *OriginStore) url(key string) string {
	return "s3://" + s.store.Bucket() + "/" + key
}
