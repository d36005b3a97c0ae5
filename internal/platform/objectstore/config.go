package objectstore

import (
	"errors"
	"fmt"
	"strings"
)

// Config addresses the origin bucket the CDN serves the catalog from.
type Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`
	// Prefix is prepended to every catalog-relative path to form an object key.
	Prefix string `yaml:"prefix"`
}

func DefaultConfig() Config {
	return Config{
		Endpoint: "localhost:9000",
		Region:   "us-east-1",
		Bucket:   "assets",
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.HasPrefix(c.Prefix, "/") {
		return fmt.Errorf("prefix must not start with '/': %q", c.Prefix)
	}
	return nil
}

// Key maps a slash-separated catalog path to an object key.
func (c Config) Key(rel string) string {
	rel = strings.TrimPrefix(rel, "/")
	if c.Prefix == "" {
		return rel
	}
	return strings.TrimSuffix(c.Prefix, "/") + "/" + rel
}
