// Package consistency checks a catalog of metadata files against every
// configured backend and reports per-asset results.
package consistency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/traittech/assetcheck/internal/asset"
	"github.com/traittech/assetcheck/internal/backend"
	"github.com/traittech/assetcheck/internal/catalog"
	"github.com/traittech/assetcheck/internal/platform/requestid"
	"github.com/traittech/assetcheck/internal/resolve"
	"github.com/traittech/assetcheck/internal/traits"
)

const DefaultWorkers = 8

// Recorder receives probe and asset outcomes. *metrics.Metrics implements it.
type Recorder interface {
	ObserveProbe(backend, outcome string, d time.Duration)
	ObserveAsset(kind, status string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveProbe(string, string, time.Duration) {}
func (nopRecorder) ObserveAsset(string, string) {}

type Options struct {
	Workers int
	// KeepGoing records structural failures per asset instead of aborting.
	KeepGoing bool
	Logger    *zap.Logger
	Recorder  Recorder
	Now       func() time.Time
}

// Checker is safe to reuse across runs; it holds no per-run state.
type Checker struct {
	validator *traits.Validator
	backends  []backend.Backend
	workers   int
	keepGoing bool
	logger    *zap.Logger
	recorder  Recorder
	now       func() time.Time
}

func NewChecker(validator *traits.Validator, backends []backend.Backend, opts Options) (*Checker, error) {
	if validator == nil {
		return nil, errors.New("validator is required")
	}
	if len(backends) == 0 {
		return nil, errors.New("at least one backend is required")
	}
	seen := map[backend.Name]bool{}
	for _, b := range backends {
		if b == nil {
			return nil, errors.New("backend is nil")
		}
		if seen[b.Name()] {
			return nil, fmt.Errorf("backend %s configured twice", b.Name())
		}
		seen[b.Name()] = true
	}

	c := &Checker{
		validator: validator,
		backends:  backends,
		workers:   opts.Workers,
		keepGoing: opts.KeepGoing,
		logger:    opts.Logger,
		recorder:  opts.Recorder,
		now:       opts.Now,
	}
	if c.workers <= 0 {
		c.workers = DefaultWorkers
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.recorder == nil {
		c.recorder = nopRecorder{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// CheckCatalog runs over every entry of cat and attaches its layout issues.
func (c *Checker) CheckCatalog(ctx context.Context, cat *catalog.Catalog) (*Report, error) {
	for _, issue := range cat.Issues {
		c.logger.Warn("catalog layout issue",
			zap.String("severity", string(issue.Severity)),
			zap.String("game", issue.Game),
			zap.String("path", issue.Dir),
			zap.String("message", issue.Message),
		)
	}
	report, err := c.Run(ctx, cat.Rels())
	report.LayoutIssues = cat.Issues
	return report, err
}

// Run checks every metadata path (relative to the catalog root). It always
// returns a report listing every path. The error is an *AbortError when a
// structural failure stopped the run, or the context error on cancellation.
func (c *Checker) Run(ctx context.Context, paths []string) (*Report, error) {
	report := &Report{
		Schema:    ReportSchemaV1,
		RunID:     uuid.NewString(),
		StartedAt: c.now().UTC(),
		Options: RunOptions{
			Workers:          c.workers,
			KeepGoing:        c.keepGoing,
			StrictAttributes: c.validator.StrictAttributes(),
		},
	}
	for _, b := range c.backends {
		report.Backends = append(report.Backends, string(b.Name()))
	}
	logger := c.logger.With(zap.String("run_id", report.RunID))
	logger.Info("check started", zap.Int("assets", len(paths)), zap.Strings("backends", report.Backends))

	results := make(map[string]AssetResult, len(paths))
	var (
		pending []asset.Reference
		abort   error
	)
	for _, p := range paths {
		ref, err := asset.NewReference(p)
		if err != nil {
			id := cleanRel(p)
			if _, dup := results[id]; dup {
				continue
			}
			results[id] = AssetResult{ID: id, Kind: "unknown", Status: AssetFailed, Failures: []Failure{FailureFrom(err)}}
			c.recorder.ObserveAsset("unknown", string(AssetFailed))
			logger.Error("unrecognized metadata file", zap.String("asset", id), zap.Error(err))
			if !c.keepGoing && abort == nil {
				abort = &AbortError{Asset: id, Err: err}
			}
			continue
		}
		if _, dup := results[ref.Path]; dup {
			continue
		}
		results[ref.Path] = AssetResult{ID: ref.Path, Kind: ref.Kind.String(), Status: AssetAborted}
		pending = append(pending, ref)
	}

	if abort == nil {
		abort = c.checkAll(requestid.WithContext(ctx, report.RunID), logger, pending, results)
	}

	for _, res := range results {
		report.Assets = append(report.Assets, res)
	}
	report.FinishedAt = c.now().UTC()
	report.finalize(abort)

	fields := []zap.Field{
		zap.String("status", string(report.Status)),
		zap.Int("ok", report.Summary.AssetsOK),
		zap.Int("failed", report.Summary.AssetsFailed),
		zap.Int("aborted", report.Summary.AssetsAborted),
		zap.Int("discrepancies", report.Summary.Discrepancies),
		zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)),
	}
	if abort != nil {
		logger.Error("check aborted", append(fields, zap.Error(abort))...)
		return report, abort
	}
	logger.Info("check finished", fields...)
	return report, nil
}

// checkAll runs the per-asset pipeline on a bounded pool. Results of assets
// that never started keep their aborted placeholder.
func (c *Checker) checkAll(ctx context.Context, logger *zap.Logger, refs []asset.Reference, results map[string]AssetResult) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	var mu sync.Mutex
	for _, ref := range refs {
		if gctx.Err() != nil {
			break
		}
		ref := ref
		g.Go(func() error {
			res, err := c.checkAsset(gctx, logger, ref)
			mu.Lock()
			results[ref.Path] = res
			mu.Unlock()
			c.recorder.ObserveAsset(res.Kind, string(res.Status))
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (c *Checker) checkAsset(ctx context.Context, logger *zap.Logger, ref asset.Reference) (AssetResult, error) {
	res := AssetResult{ID: ref.Path, Kind: ref.Kind.String(), Status: AssetOK}
	log := logger.With(zap.String("asset", ref.Path), zap.Stringer("kind", ref.Kind))

	docs := map[backend.Name]fetched{}
	for _, b := range c.backends {
		br, doc, err := c.checkBackend(ctx, log, ref, b)
		res.Backends = append(res.Backends, br)
		if doc != nil {
			docs[b.Name()] = *doc
			if res.Traits == nil {
				res.Traits = traits.Strings(doc.traits)
				res.MetadataID = doc.metadataID
			}
		}
		if err == nil {
			continue
		}
		if !IsStructural(err) {
			res.Status = AssetAborted
			return res, err
		}
		res.Status = AssetFailed
		log.Error("structural failure", zap.String("backend", string(b.Name())), zap.Error(err))
		if !c.keepGoing {
			return res, &AbortError{Asset: ref.Path, Err: err}
		}
	}

	res.Failures = append(res.Failures, c.drift(docs)...)
	for _, f := range res.AllFailures() {
		if res.Status == AssetOK {
			res.Status = AssetFailed
		}
		if !f.Reason.Structural() {
			log.Warn("discrepancy",
				zap.String("reason", string(f.Reason)),
				zap.String("path", f.Path),
				zap.String("url", f.URL),
				zap.Int("status", f.Status),
			)
		}
	}
	if res.Status == AssetOK {
		log.Debug("asset confirmed")
	}
	return res, nil
}

type fetched struct {
	addr       string
	data       []byte
	traits     []traits.ID
	metadataID string
}

// checkBackend walks one asset through the pipeline on one backend. A
// returned error is either structural or a cancellation; availability
// problems are recorded in the result.
func (c *Checker) checkBackend(ctx context.Context, log *zap.Logger, ref asset.Reference, b backend.Backend) (BackendResult, *fetched, error) {
	br := BackendResult{
		Backend: string(b.Name()),
		State:   StateClassified,
		Trail:   []State{StateDiscovered, StateClassified},
	}
	advance := func(s State) {
		br.State = s
		br.Trail = append(br.Trail, s)
	}
	fail := func(err error, trait traits.ID) {
		f := FailureFrom(err)
		if trait != "" && f.Trait == "" {
			f.Trait = string(trait)
		}
		br.Failures = append(br.Failures, f)
	}

	addr := b.MetadataAddress(ref.Path)
	var data []byte
	err := c.probe(ctx, b, func(ctx context.Context) error {
		var err error
		data, err = b.FetchMetadata(ctx, addr)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return br, nil, ctx.Err()
		}
		f := FailureFrom(err)
		br.Failures = append(br.Failures, f)
		advance(stateFor(f.Reason))
		return br, nil, nil
	}

	rec, err := traits.ParseRecord(data)
	if err != nil {
		fail(err, "")
		return br, nil, err
	}
	ids, err := c.validator.Validate(rec)
	if err != nil {
		fail(err, "")
		return br, nil, err
	}
	if err := ref.Kind.CheckSignature(ids); err != nil {
		fail(err, "")
		return br, nil, err
	}
	advance(StateTraitsValidated)
	doc := &fetched{addr: addr, data: data, traits: ids, metadataID: rec.MetadataID}

	images := resolve.Images(c.validator.Registry(), rec)
	addrs := make([]string, len(images))
	for i, img := range images {
		a, err := b.ImageAddress(img.URL)
		if err != nil {
			fail(err, img.Trait)
			return br, doc, err
		}
		addrs[i] = a
	}
	advance(StateReferencesResolved)

	terminal := StateConfirmed
	for i, img := range images {
		err := c.probe(ctx, b, func(ctx context.Context) error {
			return b.ProbeImage(ctx, addrs[i])
		})
		if err == nil {
			log.Debug("image confirmed", zap.String("backend", string(b.Name())), zap.String("path", addrs[i]))
			continue
		}
		if ctx.Err() != nil {
			return br, doc, ctx.Err()
		}
		f := FailureFrom(err)
		f.Trait = string(img.Trait)
		br.Failures = append(br.Failures, f)
		if s := stateFor(f.Reason); terminal == StateConfirmed || s == StateUnreachable {
			terminal = s
		}
	}
	advance(terminal)
	return br, doc, nil
}

func stateFor(r Reason) State {
	if r == ReasonMissing {
		return StateMissing
	}
	return StateUnreachable
}

func (c *Checker) probe(ctx context.Context, b backend.Backend, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	c.recorder.ObserveProbe(string(b.Name()), outcome(ctx, err), time.Since(start))
	return err
}

func outcome(ctx context.Context, err error) string {
	if err == nil {
		return "ok"
	}
	if ctx.Err() != nil {
		return "cancelled"
	}
	if FailureFrom(err).Reason == ReasonMissing {
		return "missing"
	}
	return "unreachable"
}

// drift compares every remote copy of the metadata with the local one.
func (c *Checker) drift(docs map[backend.Name]fetched) []Failure {
	local, ok := docs[backend.Local]
	if !ok {
		return nil
	}
	var out []Failure
	for _, b := range c.backends {
		if b.Name() == backend.Local {
			continue
		}
		remote, ok := docs[b.Name()]
		if !ok || sameJSON(local.data, remote.data) {
			continue
		}
		out = append(out, Failure{
			Reason:  ReasonDrift,
			Path:    local.addr,
			URL:     remote.addr,
			Message: fmt.Sprintf("%s copy differs from the local metadata", b.Name()),
		})
	}
	return out
}

func sameJSON(a, b []byte) bool {
	var va, vb any
	if err := json.Unmarshal(a, &va); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &vb); err != nil {
		return false
	}
	return reflect.DeepEqual(va, vb)
}

func cleanRel(p string) string {
	return strings.TrimPrefix(path.Clean(strings.ReplaceAll(p, "\\", "/")), "/")
}
