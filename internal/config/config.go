// Package config loads assetcheck settings from defaults, an optional YAML
// file and ASSETCHECK_* environment variables. Command-line flags are applied
// on top by the caller before Validate.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/traittech/assetcheck/internal/backend"
	"github.com/traittech/assetcheck/internal/platform/env"
	"github.com/traittech/assetcheck/internal/platform/logging"
	"github.com/traittech/assetcheck/internal/platform/objectstore"
	"github.com/traittech/assetcheck/internal/platform/postgres"
)

const (
	EnvPrefix = "ASSETCHECK_"

	maxWorkers     = 256
	maxHTTPTimeout = 30 * time.Second
)

type Config struct {
	LocalRoot        string             `yaml:"local_root"`
	CDNBaseURL       string             `yaml:"cdn_base_url"`
	Backends         []string           `yaml:"backends"`
	Workers          int                `yaml:"workers"`
	HTTPTimeout      time.Duration      `yaml:"http_timeout"`
	KeepGoing        bool               `yaml:"keep_going"`
	StrictAttributes bool               `yaml:"strict_attributes"`
	Report           ReportConfig       `yaml:"report"`
	MetricsFile      string             `yaml:"metrics_file"`
	Log              logging.Config     `yaml:"log"`
	Origin           objectstore.Config `yaml:"origin"`
	Database         postgres.Config    `yaml:"database"`
}

type ReportConfig struct {
	// Format is text or json.
	Format string `yaml:"format"`
	// Output is a file path; empty or "-" means stdout.
	Output string `yaml:"output"`
}

func Default() Config {
	return Config{
		Backends:    []string{string(backend.Local), string(backend.CDN)},
		Workers:     8,
		HTTPTimeout: backend.DefaultProbeTimeout,
		Report:      ReportConfig{Format: "text"},
		Log:         logging.DefaultConfig(),
		Origin:      objectstore.DefaultConfig(),
		Database:    postgres.DefaultConfig(),
	}
}

// Load layers the YAML file at path (optional) and the environment over the
// defaults. The result is not validated.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() error {
	var err error
	e := env.WithPrefix(EnvPrefix)
	c.LocalRoot = e.String("LOCAL_ROOT", c.LocalRoot)
	c.CDNBaseURL = e.String("CDN_BASE_URL", c.CDNBaseURL)
	c.Backends = e.List("BACKENDS", c.Backends)
	if c.Workers, err = e.Int("WORKERS", c.Workers); err != nil {
		return err
	}
	if c.HTTPTimeout, err = e.Duration("HTTP_TIMEOUT", c.HTTPTimeout); err != nil {
		return err
	}
	if c.KeepGoing, err = e.Bool("KEEP_GOING", c.KeepGoing); err != nil {
		return err
	}
	if c.StrictAttributes, err = e.Bool("STRICT_ATTRIBUTES", c.StrictAttributes); err != nil {
		return err
	}
	c.Report.Format = e.String("REPORT_FORMAT", c.Report.Format)
	c.Report.Output = e.String("REPORT_OUTPUT", c.Report.Output)
	c.MetricsFile = e.String("METRICS_FILE", c.MetricsFile)

	c.Log.Level = e.String("LOG_LEVEL", c.Log.Level)
	c.Log.Encoding = e.String("LOG_ENCODING", c.Log.Encoding)
	c.Log.OutputPath = e.String("LOG_OUTPUT", c.Log.OutputPath)

	c.Origin.Endpoint = e.String("ORIGIN_ENDPOINT", c.Origin.Endpoint)
	c.Origin.AccessKey = e.String("ORIGIN_ACCESS_KEY", c.Origin.AccessKey)
	c.Origin.SecretKey = e.String("ORIGIN_SECRET_KEY", c.Origin.SecretKey)
	c.Origin.Region = e.String("ORIGIN_REGION", c.Origin.Region)
	c.Origin.Bucket = e.String("ORIGIN_BUCKET", c.Origin.Bucket)
	c.Origin.Prefix = e.String("ORIGIN_PREFIX", c.Origin.Prefix)
	if c.Origin.UseSSL, err = e.Bool("ORIGIN_USE_SSL", c.Origin.UseSSL); err != nil {
		return err
	}

	c.Database.URL = e.String("DATABASE_URL", c.Database.URL)
	if c.Database.PingTimeout, err = e.Duration("DATABASE_PING_TIMEOUT", c.Database.PingTimeout); err != nil {
		return err
	}
	return nil
}

// BackendNames parses Backends.
func (c Config) BackendNames() ([]backend.Name, error) {
	names := make([]backend.Name, 0, len(c.Backends))
	seen := map[backend.Name]bool{}
	for _, raw := range c.Backends {
		name, err := backend.ParseName(raw)
		if err != nil {
			return nil, err
		}
		if seen[name] {
			return nil, fmt.Errorf("backend %s listed twice", name)
		}
		seen[name] = true
		names = append(names, name)
	}
	return names, nil
}

// Validate reports every problem at once. It checks what the check command
// needs; other commands validate the subset they use.
func (c Config) Validate() error {
	verr := &ValidationError{}
	if strings.TrimSpace(c.LocalRoot) == "" {
		verr.Add("local_root is required")
	}
	if strings.TrimSpace(c.CDNBaseURL) == "" {
		verr.Add("cdn_base_url is required")
	}

	names, err := c.BackendNames()
	switch {
	case err != nil:
		verr.Add(err.Error())
	case len(names) == 0:
		verr.Add("backends must list at least one of local, cdn, origin")
	}
	for _, n := range names {
		if n == backend.Origin {
			if err := c.Origin.Validate(); err != nil {
				verr.Add("origin: " + err.Error())
			}
		}
	}

	if c.Workers < 1 || c.Workers > maxWorkers {
		verr.Add(fmt.Sprintf("workers must be between 1 and %d", maxWorkers))
	}
	if c.HTTPTimeout <= 0 || c.HTTPTimeout > maxHTTPTimeout {
		verr.Add(fmt.Sprintf("http_timeout must be positive and at most %s", maxHTTPTimeout))
	}
	switch c.Report.Format {
	case "text", "json":
	default:
		verr.Add(fmt.Sprintf("report.format must be text or json, got %q", c.Report.Format))
	}
	if err := c.Log.Validate(); err != nil {
		verr.Add(err.Error())
	}
	if c.Database.Enabled() {
		if err := c.Database.Validate(); err != nil {
			verr.Add(err.Error())
		}
	}
	return verr.OrNil()
}
