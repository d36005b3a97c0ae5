package consistency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/traittech/assetcheck/internal/asset"
	"github.com/traittech/assetcheck/internal/backend"
	"github.com/traittech/assetcheck/internal/fixture"
	"github.com/traittech/assetcheck/internal/resolve"
	"github.com/traittech/assetcheck/internal/traits"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testEnv struct {
	root    string
	base    string
	mapping *resolve.Mapping
	paths   []string
}

// newEnv generates a catalog and serves it as the CDN under /assets.
func newEnv(t *testing.T, plan fixture.Plan, wrap func(http.Handler) http.Handler) *testEnv {
	t.Helper()
	root := t.TempDir()
	var h http.Handler = http.StripPrefix("/assets", http.FileServer(http.Dir(root)))
	if wrap != nil {
		h = wrap(h)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	base := srv.URL + "/assets"
	res, err := fixture.Generate(context.Background(), fixture.Options{Root: root, CDNBase: base, StubImages: true}, plan)
	if err != nil {
		t.Fatalf("Generate() err=%v", err)
	}
	mapping, err := resolve.NewMapping(base, root)
	if err != nil {
		t.Fatalf("NewMapping() err=%v", err)
	}
	return &testEnv{root: root, base: base, mapping: mapping, paths: res.Metadata}
}

func (e *testEnv) checker(t *testing.T, opts Options, names ...backend.Name) *Checker {
	t.Helper()
	reg, err := traits.NewRegistry(context.Background())
	if err != nil {
		t.Fatalf("NewRegistry() err=%v", err)
	}
	v, err := traits.NewValidator(reg)
	if err != nil {
		t.Fatalf("NewValidator() err=%v", err)
	}

	var backends []backend.Backend
	for _, name := range names {
		switch name {
		case backend.Local:
			b, err := backend.NewLocal(e.mapping)
			if err != nil {
				t.Fatalf("NewLocal() err=%v", err)
			}
			backends = append(backends, b)
		case backend.CDN:
			client := backend.NewHTTPClient(time.Second)
			t.Cleanup(client.CloseIdleConnections)
			b, err := backend.NewCDN(e.mapping, client, time.Second)
			if err != nil {
				t.Fatalf("NewCDN() err=%v", err)
			}
			backends = append(backends, b)
		default:
			t.Fatalf("unsupported backend %s", name)
		}
	}
	c, err := NewChecker(v, backends, opts)
	if err != nil {
		t.Fatalf("NewChecker() err=%v", err)
	}
	return c
}

func (e *testEnv) local(rel string) string {
	return filepath.Join(e.root, filepath.FromSlash(rel))
}

func findAsset(t *testing.T, r *Report, id string) AssetResult {
	t.Helper()
	for _, a := range r.Assets {
		if a.ID == id {
			return a
		}
	}
	t.Fatalf("asset %s not in report", id)
	return AssetResult{}
}

type countingRecorder struct {
	mu     sync.Mutex
	probes map[string]int
	assets map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{probes: map[string]int{}, assets: map[string]int{}}
}

func (r *countingRecorder) ObserveProbe(b, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probes[b+"/"+outcome]++
}

func (r *countingRecorder) ObserveAsset(kind, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets[kind+"/"+status]++
}

const agentRel = "game-a/app-agent-a/app-agent-a.json"

func TestAppAgentConfirmed(t *testing.T) {
	e := newEnv(t, fixture.Plan{Games: []fixture.GameSpec{{}}}, nil)
	rec := newCountingRecorder()
	c := e.checker(t, Options{Recorder: rec}, backend.Local, backend.CDN)

	report, err := c.Run(context.Background(), e.paths)
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	if report.Status != RunPass || report.Schema != ReportSchemaV1 || report.RunID == "" {
		t.Fatalf("report status=%s schema=%s run_id=%q", report.Status, report.Schema, report.RunID)
	}

	a := findAsset(t, report, agentRel)
	if a.Status != AssetOK || a.Kind != "app-agent" || a.MetadataID != "demo-app-agent-a" {
		t.Fatalf("asset=%+v", a)
	}
	if diff := cmp.Diff([]string{"named", "tech.trait.wallet.square_icon"}, a.Traits); diff != "" {
		t.Fatalf("Traits mismatch (-want +got):\n%s", diff)
	}
	wantTrail := []State{StateDiscovered, StateClassified, StateTraitsValidated, StateReferencesResolved, StateConfirmed}
	for _, name := range []string{"local", "cdn"} {
		br, ok := a.Backend(name)
		if !ok {
			t.Fatalf("no %s result", name)
		}
		if diff := cmp.Diff(wantTrail, br.Trail); diff != "" {
			t.Fatalf("%s trail mismatch (-want +got):\n%s", name, diff)
		}
	}
	// metadata + icon on each backend
	if rec.probes["local/ok"] != 2 || rec.probes["cdn/ok"] != 2 {
		t.Fatalf("probes=%v", rec.probes)
	}
	if rec.assets["app-agent/ok"] != 1 {
		t.Fatalf("assets=%v", rec.assets)
	}
}

func TestDeletedIconIsMissingAfterValidation(t *testing.T) {
	e := newEnv(t, fixture.Plan{Games: []fixture.GameSpec{{}}}, nil)
	icon := e.local("game-a/app-agent-a/" + fixture.IconFile)
	if err := os.Remove(icon); err != nil {
		t.Fatalf("remove icon: %v", err)
	}
	c := e.checker(t, Options{}, backend.Local)

	report, err := c.Run(context.Background(), e.paths)
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	if report.Status != RunFail {
		t.Fatalf("Status=%s, want fail", report.Status)
	}
	a := findAsset(t, report, agentRel)
	br, _ := a.Backend("local")
	if br.State != StateMissing {
		t.Fatalf("State=%s, want missing", br.State)
	}
	wantTrail := []State{StateDiscovered, StateClassified, StateTraitsValidated, StateReferencesResolved, StateMissing}
	if diff := cmp.Diff(wantTrail, br.Trail); diff != "" {
		t.Fatalf("trail mismatch (-want +got):\n%s", diff)
	}
	want := []Failure{{
		Reason:  ReasonMissing,
		Trait:   string(traits.SquareIcon),
		Path:    icon,
		Message: "missing: " + icon,
	}}
	if diff := cmp.Diff(want, br.Failures); diff != "" {
		t.Fatalf("failures mismatch (-want +got):\n%s", diff)
	}
	if report.Summary.Discrepancies != 1 || report.Summary.Structural != 0 {
		t.Fatalf("Summary=%+v", report.Summary)
	}
}

func TestCDN404IsUnreachable(t *testing.T) {
	notFound := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, fixture.ListingFile) {
				http.NotFound(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	e := newEnv(t, fixture.Plan{Games: []fixture.GameSpec{{Collections: 1}}}, notFound)
	c := e.checker(t, Options{Workers: 2}, backend.Local, backend.CDN)

	report, err := c.Run(context.Background(), e.paths)
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	if report.Status != RunFail || report.Summary.AssetsTotal != 2 || report.Summary.AssetsOK != 1 {
		t.Fatalf("report status=%s summary=%+v", report.Status, report.Summary)
	}

	const collection = "game-a/nft-collection-a-a/nft-collection-a-a/nft-collection-a-a.json"
	url := e.base + "/game-a/nft-collection-a-a/nft-collection-a-a/" + fixture.ListingFile
	want := []Discrepancy{{
		Asset:   collection,
		Backend: "cdn",
		Failure: Failure{
			Reason:  ReasonUnreachable,
			Trait:   string(traits.CollectionListingImage),
			URL:     url,
			Status:  http.StatusNotFound,
			Message: fmt.Sprintf("unreachable: %s: status 404", url),
		},
	}}
	if diff := cmp.Diff(want, report.Discrepancies()); diff != "" {
		t.Fatalf("discrepancies mismatch (-want +got):\n%s", diff)
	}

	a := findAsset(t, report, collection)
	if br, _ := a.Backend("local"); br.State != StateConfirmed {
		t.Fatalf("local State=%s, want confirmed", br.State)
	}
	if br, _ := a.Backend("cdn"); br.State != StateUnreachable {
		t.Fatalf("cdn State=%s, want unreachable", br.State)
	}

	var text bytes.Buffer
	if err := WriteText(&text, report); err != nil {
		t.Fatalf("WriteText() err=%v", err)
	}
	for _, want := range []string{"fail", "Unreachable", "status 404", url} {
		if !strings.Contains(text.String(), want) {
			t.Fatalf("text report missing %q:\n%s", want, text.String())
		}
	}

	var buf bytes.Buffer
	if err := WriteJSON(&buf, report); err != nil {
		t.Fatalf("WriteJSON() err=%v", err)
	}
	var decoded Report
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if decoded.Summary != report.Summary || len(decoded.Assets) != 2 {
		t.Fatalf("decoded summary=%+v assets=%d", decoded.Summary, len(decoded.Assets))
	}
}

func TestUnknownFilenameAbortsRun(t *testing.T) {
	e := newEnv(t, fixture.Plan{Games: []fixture.GameSpec{{Fungibles: 1}}}, nil)
	rec := newCountingRecorder()
	c := e.checker(t, Options{Recorder: rec}, backend.Local, backend.CDN)

	paths := append([]string{"game-a/notes/readme.json"}, e.paths...)
	report, err := c.Run(context.Background(), paths)

	var abort *AbortError
	if !errors.As(err, &abort) {
		t.Fatalf("Run() err=%v, want *AbortError", err)
	}
	var unknown *asset.UnknownAssetError
	if !errors.As(err, &unknown) || unknown.Filename != "game-a/notes/readme.json" {
		t.Fatalf("Run() err=%v, want *asset.UnknownAssetError", err)
	}
	if report.Status != RunAborted || report.Error == "" {
		t.Fatalf("report status=%s error=%q", report.Status, report.Error)
	}
	if report.Summary.AssetsTotal != 3 || report.Summary.AssetsFailed != 1 || report.Summary.AssetsAborted != 2 {
		t.Fatalf("Summary=%+v", report.Summary)
	}
	if len(rec.probes) != 0 {
		t.Fatalf("probes issued after abort: %v", rec.probes)
	}
	a := findAsset(t, report, "game-a/notes/readme.json")
	if len(a.Failures) != 1 || a.Failures[0].Reason != ReasonUnknownAsset {
		t.Fatalf("unknown asset failures=%+v", a.Failures)
	}
}

const agentWithUnknownTrait = `{
	"metadata_id": "demo-app-agent-a",
	"title": "Game A",
	"description": "Game A",
	"traits": {
		"named": {"name": "Game A"},
		"tech.trait.wallet.square_icon": {"image_url": "%s/game-a/app-agent-a/icon_150x150.png"},
		"tech.trait.wallet.banner": {"image_url": "%s/game-a/app-agent-a/banner.png"}
	}
}`

func TestUnknownTraitAbortsRun(t *testing.T) {
	e := newEnv(t, fixture.Plan{Games: []fixture.GameSpec{{}}}, nil)
	doc := fmt.Sprintf(agentWithUnknownTrait, e.base, e.base)
	if err := os.WriteFile(e.local(agentRel), []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c := e.checker(t, Options{}, backend.Local)

	report, err := c.Run(context.Background(), e.paths)
	var unknown *traits.UnknownTraitError
	if !errors.As(err, &unknown) || unknown.Trait != "tech.trait.wallet.banner" {
		t.Fatalf("Run() err=%v, want *traits.UnknownTraitError", err)
	}
	if report.Status != RunAborted {
		t.Fatalf("Status=%s, want aborted", report.Status)
	}
	a := findAsset(t, report, agentRel)
	br, _ := a.Backend("local")
	if br.State != StateClassified || len(br.Failures) != 1 || br.Failures[0].Reason != ReasonUnknownTrait {
		t.Fatalf("local result=%+v", br)
	}
}

func TestKeepGoingRecordsStructuralFailures(t *testing.T) {
	e := newEnv(t, fixture.Plan{Games: []fixture.GameSpec{{Fungibles: 1}}}, nil)
	doc := fmt.Sprintf(agentWithUnknownTrait, e.base, e.base)
	if err := os.WriteFile(e.local(agentRel), []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	const fungibleRel = "game-a/fungible-a-a/fungible-a-a.json"
	noFungibleTrait := fmt.Sprintf(`{
		"metadata_id": "demo-fungible-a-a",
		"title": "Coin",
		"description": "Coin",
		"traits": {
			"named": {"name": "Coin"},
			"tech.trait.wallet.square_icon": {"image_url": "%s/game-a/fungible-a-a/icon_150x150.png"}
		}
	}`, e.base)
	if err := os.WriteFile(e.local(fungibleRel), []byte(noFungibleTrait), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	paths := append([]string{"game-a/notes/readme.json"}, e.paths...)
	c := e.checker(t, Options{KeepGoing: true}, backend.Local)
	report, err := c.Run(context.Background(), paths)
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	if report.Status != RunFail || report.Summary.AssetsFailed != 3 || report.Summary.Structural != 3 {
		t.Fatalf("report status=%s summary=%+v", report.Status, report.Summary)
	}

	got := map[string]Reason{}
	for _, d := range report.Discrepancies() {
		got[d.Asset] = d.Failure.Reason
	}
	want := map[string]Reason{
		"game-a/notes/readme.json": ReasonUnknownAsset,
		agentRel:                   ReasonUnknownTrait,
		fungibleRel:                ReasonWrongTraitSet,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("reasons mismatch (-want +got):\n%s", diff)
	}

	f := findAsset(t, report, fungibleRel).AllFailures()[0]
	if f.Expected != "named,fungible,tech.trait.wallet.square_icon" || f.Actual != "named,tech.trait.wallet.square_icon" {
		t.Fatalf("WrongTraitSet failure=%+v", f)
	}
}

func TestDriftBetweenLocalAndCDN(t *testing.T) {
	var base string
	edited := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "app-agent-a.json") {
				fmt.Fprintf(w, `{"metadata_id":"demo-app-agent-a","title":"Renamed","description":"Renamed",
					"traits":{"named":{"name":"Renamed"},
					"tech.trait.wallet.square_icon":{"image_url":"%s/game-a/app-agent-a/icon_150x150.png"}}}`, base)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	e := newEnv(t, fixture.Plan{Games: []fixture.GameSpec{{}}}, edited)
	base = e.base
	c := e.checker(t, Options{}, backend.Local, backend.CDN)

	report, err := c.Run(context.Background(), e.paths)
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	a := findAsset(t, report, agentRel)
	if a.Status != AssetFailed || len(a.Failures) != 1 || a.Failures[0].Reason != ReasonDrift {
		t.Fatalf("asset=%+v", a)
	}
	if a.Failures[0].URL != e.base+"/"+agentRel || a.Failures[0].Path != e.local(agentRel) {
		t.Fatalf("drift failure=%+v", a.Failures[0])
	}
	for _, br := range a.Backends {
		if br.State != StateConfirmed {
			t.Fatalf("%s State=%s, want confirmed", br.Backend, br.State)
		}
	}
}

func TestCancelledRunReportsEveryAssetAborted(t *testing.T) {
	e := newEnv(t, fixture.Plan{Games: []fixture.GameSpec{{Fungibles: 2}}}, nil)
	c := e.checker(t, Options{}, backend.Local, backend.CDN)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := c.Run(ctx, e.paths)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() err=%v, want context.Canceled", err)
	}
	if report.Status != RunAborted || report.Summary.AssetsAborted != len(e.paths) {
		t.Fatalf("report status=%s summary=%+v", report.Status, report.Summary)
	}
	if n := len(report.Discrepancies()); n != 0 {
		t.Fatalf("Discrepancies=%d, want 0 for a cancelled run", n)
	}
}

func TestNewCheckerRejects(t *testing.T) {
	reg, err := traits.NewRegistry(context.Background())
	if err != nil {
		t.Fatalf("NewRegistry() err=%v", err)
	}
	v, _ := traits.NewValidator(reg)
	mapping, _ := resolve.NewMapping("https://cdn.example.com", t.TempDir())
	local, _ := backend.NewLocal(mapping)

	if _, err := NewChecker(nil, []backend.Backend{local}, Options{}); err == nil {
		t.Fatalf("NewChecker(nil validator) expected error")
	}
	if _, err := NewChecker(v, nil, Options{}); err == nil {
		t.Fatalf("NewChecker(no backends) expected error")
	}
	if _, err := NewChecker(v, []backend.Backend{local, local}, Options{}); err == nil {
		t.Fatalf("NewChecker(duplicate backend) expected error")
	}
}

func TestIsStructural(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&asset.UnknownAssetError{Filename: "x.json"}, true},
		{&traits.UnknownTraitError{Trait: "x"}, true},
		{fmt.Errorf("wrap: %w", &traits.MissingFieldError{Trait: "named", Field: "name"}), true},
		{&resolve.PrefixMismatchError{Input: "a", Prefix: "b"}, true},
		{&backend.MissingError{Path: "/x.png"}, false},
		{&backend.UnreachableError{URL: "https://x", Status: 500}, false},
		{context.Canceled, false},
		{errors.New("boom"), false},
		{nil, false},
	}
	for _, tc := range cases {
		if got := IsStructural(tc.err); got != tc.want {
			t.Fatalf("IsStructural(%v)=%v, want %v", tc.err, got, tc.want)
		}
	}
}

// imageGate holds every image request until released and tracks how many
// are open at once.
type imageGate struct {
	release chan struct{}
	once    sync.Once

	mu       sync.Mutex
	inFlight int
	peak     int
}

func newImageGate(t *testing.T) *imageGate {
	g := &imageGate{release: make(chan struct{})}
	t.Cleanup(g.open)
	return g
}

func (g *imageGate) open() { g.once.Do(func() { close(g.release) }) }

func (g *imageGate) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ".png") {
			g.mu.Lock()
			g.inFlight++
			g.peak = max(g.peak, g.inFlight)
			g.mu.Unlock()

			select {
			case <-g.release:
			case <-r.Context().Done():
			}

			g.mu.Lock()
			g.inFlight--
			g.mu.Unlock()
		}
		next.ServeHTTP(w, r)
	})
}

func (g *imageGate) counts() (inFlight, peak int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight, g.peak
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWorkersBoundConcurrentAssets(t *testing.T) {
	const workers = 2
	gate := newImageGate(t)
	e := newEnv(t, fixture.Plan{Games: []fixture.GameSpec{{Fungibles: 6}}}, gate.wrap)
	c := e.checker(t, Options{Workers: workers}, backend.CDN)

	type result struct {
		report *Report
		err    error
	}
	done := make(chan result, 1)
	go func() {
		report, err := c.Run(context.Background(), e.paths)
		done <- result{report, err}
	}()

	waitFor(t, "workers to block on images", func() bool {
		n, _ := gate.counts()
		return n == workers
	})
	// Any asset started beyond the limit would show up here.
	time.Sleep(50 * time.Millisecond)
	gate.open()
	res := <-done

	if _, peak := gate.counts(); peak != workers {
		t.Fatalf("peak concurrent image requests=%d, want %d", peak, workers)
	}
	if res.err != nil {
		t.Fatalf("Run() err=%v", res.err)
	}
	if res.report.Status != RunPass || res.report.Summary.AssetsOK != len(e.paths) {
		t.Fatalf("report status=%s summary=%+v", res.report.Status, res.report.Summary)
	}
}

func TestStructuralAbortCancelsOpenRequests(t *testing.T) {
	const fungibleRel = "game-a/fungible-a-a/fungible-a-a.json"
	iconPath := "/assets/game-a/fungible-a-a/" + fixture.IconFile
	iconOpen := make(chan struct{})
	iconCancelled := make(chan struct{})
	hold := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.URL.Path == iconPath:
				close(iconOpen)
				<-r.Context().Done()
				close(iconCancelled)
				return
			case strings.HasSuffix(r.URL.Path, "app-agent-a.json"):
				// The broken agent is served only while the icon request is open.
				select {
				case <-iconOpen:
				case <-r.Context().Done():
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
	e := newEnv(t, fixture.Plan{Games: []fixture.GameSpec{{Fungibles: 1}}}, hold)
	doc := fmt.Sprintf(agentWithUnknownTrait, e.base, e.base)
	if err := os.WriteFile(e.local(agentRel), []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c := e.checker(t, Options{Workers: 2}, backend.CDN)

	start := time.Now()
	report, err := c.Run(context.Background(), e.paths)
	took := time.Since(start)

	var abort *AbortError
	var unknown *traits.UnknownTraitError
	if !errors.As(err, &abort) || !errors.As(err, &unknown) || abort.Asset != agentRel {
		t.Fatalf("Run() err=%v, want abort on %s", err, agentRel)
	}
	// The CDN client times out after a second; returning well before that
	// means the open request was cancelled, not waited out.
	if took >= 500*time.Millisecond {
		t.Fatalf("Run() took %v, want the open icon request cancelled", took)
	}
	select {
	case <-iconCancelled:
	case <-time.After(2 * time.Second):
		t.Fatalf("icon request was never cancelled")
	}

	a := findAsset(t, report, fungibleRel)
	if a.Status != AssetAborted {
		t.Fatalf("fungible Status=%s, want aborted", a.Status)
	}
	if failures := a.AllFailures(); len(failures) != 0 {
		t.Fatalf("fungible failures=%+v, want none for a cancelled request", failures)
	}
	if report.Status != RunAborted || report.Summary.Discrepancies != 0 {
		t.Fatalf("report status=%s summary=%+v", report.Status, report.Summary)
	}
}
