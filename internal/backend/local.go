package backend

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/traittech/assetcheck/internal/resolve"
)

const imageExt = ".png"

// LocalStore reads the catalog from the local asset directory.
type LocalStore struct {
	mapping *resolve.Mapping
}

func NewLocal(mapping *resolve.Mapping) (*LocalStore, error) {
	if mapping == nil {
		return nil, errors.New("mapping is required")
	}
	return &LocalStore{mapping: mapping}, nil
}

func (s *LocalStore) Name() Name { return Local }

func (s *LocalStore) MetadataAddress(rel string) string {
	return s.mapping.LocalPath(rel)
}

func (s *LocalStore) ImageAddress(imageURL string) (string, error) {
	return s.mapping.ToLocalPath(imageURL)
}

func (s *LocalStore) FetchMetadata(ctx context.Context, addr string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(addr)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &MissingError{Path: addr}
		}
		return nil, &MissingError{Path: addr, Reason: err.Error()}
	}
	return data, nil
}

// ProbeImage requires a regular file with the image extension.
func (s *LocalStore) ProbeImage(ctx context.Context, addr string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(addr)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &MissingError{Path: addr}
		}
		return &MissingError{Path: addr, Reason: err.Error()}
	}
	if !info.Mode().IsRegular() {
		return &MissingError{Path: addr, Reason: "not a regular file"}
	}
	if !strings.EqualFold(filepath.Ext(addr), imageExt) {
		return &MissingError{Path: addr, Reason: "expected a " + imageExt + " file"}
	}
	return nil
}
