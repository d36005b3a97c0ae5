package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/traittech/assetcheck/internal/backend"
	"github.com/traittech/assetcheck/internal/catalog"
	"github.com/traittech/assetcheck/internal/config"
	"github.com/traittech/assetcheck/internal/consistency"
	"github.com/traittech/assetcheck/internal/metrics"
	"github.com/traittech/assetcheck/internal/platform/objectstore"
	"github.com/traittech/assetcheck/internal/platform/postgres"
	"github.com/traittech/assetcheck/internal/reportstore"
	"github.com/traittech/assetcheck/internal/resolve"
	"github.com/traittech/assetcheck/internal/traits"
)

type checkFlags struct {
	localRoot        string
	cdnBaseURL       string
	backends         []string
	workers          int
	httpTimeout      time.Duration
	keepGoing        bool
	strictAttributes bool
	format           string
	output           string
	metricsFile      string
}

func newCheckCmd(a *app) *cobra.Command {
	f := &checkFlags{}
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check every metadata file under the local root against the configured backends",
		Long: `Scans the local root for metadata files, validates each one and confirms
that every referenced image exists on every configured backend.

Exit status is 0 when every asset is confirmed, 1 when availability
discrepancies were found and 2 on a structural failure or invalid
configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			f.apply(cmd, &cfg)
			return runCheck(cmd.Context(), cmd.OutOrStdout(), a.logger, cfg)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&f.localRoot, "local-root", "", "local asset directory")
	fs.StringVar(&f.cdnBaseURL, "cdn-base-url", "", "CDN base URL mirroring the local root")
	fs.StringSliceVar(&f.backends, "backends", nil, "backends to check: local, cdn, origin")
	fs.IntVar(&f.workers, "workers", 0, "assets checked concurrently")
	fs.DurationVar(&f.httpTimeout, "http-timeout", 0, "per-request probe timeout")
	fs.BoolVar(&f.keepGoing, "keep-going", false, "record structural failures instead of aborting")
	fs.BoolVar(&f.strictAttributes, "strict-attributes", false, "type-check attribute values against display_type")
	fs.StringVar(&f.format, "format", "", "report format: text or json")
	fs.StringVarP(&f.output, "output", "o", "", "report file (default stdout)")
	fs.StringVar(&f.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile")
	return cmd
}

// apply overrides cfg with the flags set on the command line.
func (f *checkFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	fs := cmd.Flags()
	if fs.Changed("local-root") {
		cfg.LocalRoot = f.localRoot
	}
	if fs.Changed("cdn-base-url") {
		cfg.CDNBaseURL = f.cdnBaseURL
	}
	if fs.Changed("backends") {
		cfg.Backends = f.backends
	}
	if fs.Changed("workers") {
		cfg.Workers = f.workers
	}
	if fs.Changed("http-timeout") {
		cfg.HTTPTimeout = f.httpTimeout
	}
	if fs.Changed("keep-going") {
		cfg.KeepGoing = f.keepGoing
	}
	if fs.Changed("strict-attributes") {
		cfg.StrictAttributes = f.strictAttributes
	}
	if fs.Changed("format") {
		cfg.Report.Format = f.format
	}
	if fs.Changed("output") {
		cfg.Report.Output = f.output
	}
	if fs.Changed("metrics-file") {
		cfg.MetricsFile = f.metricsFile
	}
}

func runCheck(ctx context.Context, stdout io.Writer, logger *zap.Logger, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return invalid(err)
	}
	mapping, err := resolve.NewMapping(cfg.CDNBaseURL, cfg.LocalRoot)
	if err != nil {
		return invalid(err)
	}
	registry, err := traits.NewRegistry(ctx)
	if err != nil {
		return invalid(fmt.Errorf("load trait registry: %w", err))
	}
	validator, err := traits.NewValidator(registry, traits.WithStrictAttributes(cfg.StrictAttributes))
	if err != nil {
		return invalid(err)
	}
	backends, err := buildBackends(ctx, cfg, mapping)
	if err != nil {
		return invalid(err)
	}
	cat, err := catalog.Scan(ctx, cfg.LocalRoot)
	if err != nil {
		return invalid(fmt.Errorf("scan catalog: %w", err))
	}

	m := metrics.New()
	checker, err := consistency.NewChecker(validator, backends, consistency.Options{
		Workers:   cfg.Workers,
		KeepGoing: cfg.KeepGoing,
		Logger:    logger,
		Recorder:  m,
	})
	if err != nil {
		return invalid(err)
	}

	report, runErr := checker.CheckCatalog(ctx, cat)
	if err := writeReport(stdout, cfg.Report, report); err != nil {
		return invalid(fmt.Errorf("write report: %w", err))
	}
	if cfg.MetricsFile != "" {
		m.ObserveRun(report.FinishedAt, report.FinishedAt.Sub(report.StartedAt), report.Summary.Discrepancies, report.Status == consistency.RunPass)
		if err := m.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Error("write metrics textfile", zap.String("path", cfg.MetricsFile), zap.Error(err))
		}
	}
	if cfg.Database.Enabled() && !errors.Is(runErr, context.Canceled) {
		if err := persistReport(ctx, logger, cfg.Database, report); err != nil {
			return invalid(fmt.Errorf("persist report: %w", err))
		}
	}

	switch {
	case runErr != nil:
		return invalid(runErr)
	case report.Summary.Structural > 0:
		return invalid(fmt.Errorf("%d structural failures", report.Summary.Structural))
	case report.Status != consistency.RunPass:
		return &exitError{code: exitDiscrepancies, err: fmt.Errorf("%d discrepancies in %d assets", report.Summary.Discrepancies, report.Summary.AssetsFailed)}
	}
	return nil
}

func buildBackends(ctx context.Context, cfg config.Config, mapping *resolve.Mapping) ([]backend.Backend, error) {
	names, err := cfg.BackendNames()
	if err != nil {
		return nil, err
	}
	out := make([]backend.Backend, 0, len(names))
	for _, name := range names {
		var (
			b   backend.Backend
			err error
		)
		switch name {
		case backend.Local:
			b, err = backend.NewLocal(mapping)
		case backend.CDN:
			b, err = backend.NewCDN(mapping, backend.NewHTTPClient(cfg.HTTPTimeout), cfg.HTTPTimeout)
		case backend.Origin:
			b, err = newOriginBackend(ctx, cfg, mapping)
		default:
			err = fmt.Errorf("unsupported backend %s", name)
		}
		if err != nil {
			return nil, fmt.Errorf("backend %s: %w", name, err)
		}
		out = append(out, b)
	}
	return out, nil
}

func newOriginBackend(ctx context.Context, cfg config.Config, mapping *resolve.Mapping) (backend.Backend, error) {
	client, err := objectstore.NewMinIOClient(cfg.Origin)
	if err != nil {
		return nil, err
	}
	checkCtx, cancel := context.WithTimeout(ctx, 5*cfg.HTTPTimeout)
	defer cancel()
	if err := objectstore.CheckBucket(checkCtx, client, cfg.Origin); err != nil {
		return nil, err
	}
	store, err := objectstore.NewMinioStoreWithClient(client, cfg.Origin.Bucket)
	if err != nil {
		return nil, err
	}
	return backend.NewOrigin(mapping, store, cfg.Origin, cfg.HTTPTimeout)
}

func writeReport(stdout io.Writer, rc config.ReportConfig, report *consistency.Report) (err error) {
	w := stdout
	if rc.Output != "" && rc.Output != "-" {
		var file *os.File
		file, err = os.Create(rc.Output)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := file.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		w = file
	}
	if rc.Format == "json" {
		return consistency.WriteJSON(w, report)
	}
	return consistency.WriteText(w, report)
}

func persistReport(ctx context.Context, logger *zap.Logger, dbCfg postgres.Config, report *consistency.Report) error {
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := reportstore.Migrate(ctx, db); err != nil {
		return err
	}
	store, err := reportstore.New(db)
	if err != nil {
		return err
	}
	integrity, err := store.Save(ctx, report)
	if err != nil {
		return err
	}
	logger.Info("report stored", zap.String("run_id", report.RunID), zap.String("integrity_sha256", integrity))
	return nil
}
