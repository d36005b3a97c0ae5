package reportstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/traittech/assetcheck/internal/consistency"
)

func sampleReport() *consistency.Report {
	return &consistency.Report{
		Schema:     consistency.ReportSchemaV1,
		RunID:      "3f1d6c1e-6c55-4a53-a0f6-3f8f0a7cf0a1",
		StartedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2026, 3, 1, 12, 0, 3, 0, time.UTC),
		Backends:   []string{"local", "cdn"},
		Status:     consistency.RunFail,
		Assets: []consistency.AssetResult{
			{ID: "game-a/app-agent-a/app-agent-a.json", Kind: "app-agent", MetadataID: "demo-app-agent-a", Status: consistency.AssetOK},
			{
				ID:     "game-a/fungible-a-a/fungible-a-a.json",
				Kind:   "fungible",
				Status: consistency.AssetFailed,
				Backends: []consistency.BackendResult{
					{Backend: "local", State: consistency.StateMissing, Failures: []consistency.Failure{
						{Reason: consistency.ReasonMissing, Path: "/srv/a.png", Message: "missing: /srv/a.png"},
					}},
					{Backend: "cdn", State: consistency.StateUnreachable, Failures: []consistency.Failure{
						{Reason: consistency.ReasonUnreachable, URL: "https://cdn/a.png", Status: 404, Message: "x"},
						{Reason: consistency.ReasonUnreachable, URL: "https://cdn/b.png", Timeout: true, Message: "y"},
					}},
				},
			},
		},
	}
}

func TestAssetRows(t *testing.T) {
	rows, err := assetRows(sampleReport())
	if err != nil {
		t.Fatalf("assetRows() err=%v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows=%d, want 2", len(rows))
	}
	if rows[0].Reasons != "" || string(rows[0].Failures) != "[]" {
		t.Fatalf("ok row=%+v failures=%s", rows[0], rows[0].Failures)
	}
	got := []string{rows[1].Status, rows[1].Reasons}
	if diff := cmp.Diff([]string{"failed", "Missing,Unreachable"}, got); diff != "" {
		t.Fatalf("failed row mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(string(rows[1].Failures), `"timeout":true`) {
		t.Fatalf("failures json=%s", rows[1].Failures)
	}
}

func TestComputeIntegritySHA256(t *testing.T) {
	a := sampleReport()
	b := sampleReport()
	b.StartedAt = a.StartedAt.In(time.FixedZone("UTC+2", 2*3600))

	ha, err := ComputeIntegritySHA256(a)
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	hb, err := ComputeIntegritySHA256(b)
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	if ha != hb || len(ha) != 64 {
		t.Fatalf("digests %q and %q, want equal 64-char hex", ha, hb)
	}

	b.Assets[1].Status = consistency.AssetOK
	hc, _ := ComputeIntegritySHA256(b)
	if hc == ha {
		t.Fatalf("digest unchanged after editing the report")
	}
	if !a.StartedAt.Equal(b.StartedAt) || b.StartedAt.Location() == time.UTC {
		t.Fatalf("ComputeIntegritySHA256 modified its input")
	}
}

type recordingExecer struct {
	stmts []string
	fail  bool
}

func (e *recordingExecer) ExecContext(_ context.Context, query string, _ ...any) (sql.Result, error) {
	if e.fail {
		return nil, errors.New("permission denied")
	}
	e.stmts = append(e.stmts, query)
	return nil, nil
}

func TestMigrate(t *testing.T) {
	ex := &recordingExecer{}
	if err := Migrate(context.Background(), ex); err != nil {
		t.Fatalf("Migrate() err=%v", err)
	}
	if len(ex.stmts) != len(schema) {
		t.Fatalf("statements=%d, want %d", len(ex.stmts), len(schema))
	}
	if !strings.Contains(ex.stmts[0], "check_runs") || !strings.Contains(ex.stmts[1], "check_assets") {
		t.Fatalf("unexpected statement order: %v", ex.stmts)
	}
	if err := Migrate(context.Background(), &recordingExecer{fail: true}); err == nil {
		t.Fatalf("Migrate() expected error")
	}
	if _, err := New(nil); err == nil {
		t.Fatalf("New(nil) expected error")
	}
}
